package download

import (
	"context"
	"io"
)

// ContextRead calls r.Read() with respect to the given context. It orphans an
// active read in a separate goroutine if the context finishes early; the
// orphaned read may still write into p, so p must not be reused after an
// error.
func ContextRead(ctx context.Context, r io.Reader, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	type readResult struct {
		n   int
		err error
	}

	resultChan := make(chan readResult, 1)

	go func() {
		n, err := r.Read(p)
		resultChan <- readResult{n, err}
	}()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case res := <-resultChan:
		return res.n, res.err
	}
}

// ContextReader is an io.Reader whose reads stop when its context is done.
// Slow media servers otherwise keep a fetch alive past the batch deadline.
type ContextReader struct {
	ctx context.Context
	r   io.Reader
}

func NewContextReader(ctx context.Context, r io.Reader) *ContextReader {
	return &ContextReader{
		ctx: ctx,
		r:   r,
	}
}

// Read implements io.Reader#Read(), respecting the ContextReader's embedded
// context.
func (cr *ContextReader) Read(p []byte) (int, error) {
	return ContextRead(cr.ctx, cr.r, p)
}
