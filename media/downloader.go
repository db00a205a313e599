package media

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnsupported is returned by Chain when no downloader knows how to fetch
// a url.
var ErrUnsupported = errors.New("unsupported source url")

// Downloader retrieves a media file from the web and saves it to disk. Most
// downloader implementations only know how to access a particular kind of
// source (e.g., a direct audio link).
type Downloader interface {
	// Download retrieves the media file at url=u and saves it to disk. dest
	// is the destination hint: a path without extension inside a directory
	// owned by this download; the implementation picks the extension. It
	// returns the path of the saved file. It returns the empty string and a
	// nil error if it does not know how to download u.
	Download(ctx context.Context, u string, dest string) (string, error)
}

// Chain is a Downloader that tries each of its downloaders in order. The
// first one that handles the url decides the result.
type Chain []Downloader

// Download implements Downloader. Unlike its members, a Chain never returns
// an empty path with a nil error.
func (c Chain) Download(ctx context.Context, u string, dest string) (string, error) {
	for _, dl := range c {
		path, err := dl.Download(ctx, u, dest)
		if path != "" || err != nil {
			return path, err
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupported, u)
}

// DownloaderFunc adapts an ordinary function to the Downloader interface.
type DownloaderFunc func(ctx context.Context, u string, dest string) (string, error)

func (f DownloaderFunc) Download(ctx context.Context, u string, dest string) (string, error) {
	return f(ctx, u, dest)
}
