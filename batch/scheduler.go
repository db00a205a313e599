package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/domgiordano/xomcloud-backend/archive"
	"github.com/domgiordano/xomcloud-backend/download"
	"github.com/domgiordano/xomcloud-backend/fileutil"
	"github.com/domgiordano/xomcloud-backend/media"
	"github.com/domgiordano/xomcloud-backend/metrics"
	"github.com/domgiordano/xomcloud-backend/track"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultConcurrency = 4
	DefaultGrace       = 2 * time.Second
)

// Scheduler runs fetch attempts for a batch with bounded parallelism and a
// hard deadline.
type Scheduler struct {
	Downloader media.Downloader

	// Concurrency is the maximum number of attempts in flight.
	// Defaults to DefaultConcurrency.
	Concurrency int

	// Grace is how long an in-flight attempt may keep running after the
	// deadline passes or the batch is cancelled before it is given up on.
	// Zero gives up on in-flight attempts at once; a negative value means
	// DefaultGrace.
	Grace time.Duration

	Metrics *metrics.Metrics
}

func (s *Scheduler) concurrency() int {
	if s.Concurrency <= 0 {
		return DefaultConcurrency
	}
	return s.Concurrency
}

func (s *Scheduler) grace() time.Duration {
	if s.Grace < 0 {
		return DefaultGrace
	}
	return s.Grace
}

// Run fetches every request into ws and returns the outcomes in the order
// they resolve. The channel yields exactly one outcome per request and is
// closed once all attempts have been joined. A zero deadline means no
// deadline other than ctx's.
//
// When the deadline passes or ctx is cancelled, requests not yet dispatched
// resolve immediately as ErrTimeout or ErrCancelled. Attempts in flight get
// the grace period to return; after that they resolve the same way and
// whatever they wrote is discarded when they do return.
func (s *Scheduler) Run(ctx context.Context, ws *download.Workspace, reqs []track.Request, deadline time.Time) <-chan Outcome {
	out := make(chan Outcome, len(reqs))

	var cancel context.CancelFunc
	if deadline.IsZero() {
		ctx, cancel = context.WithCancel(ctx)
	} else {
		ctx, cancel = context.WithDeadlineCause(ctx, deadline, ErrTimeout)
	}

	go func() {
		defer close(out)
		defer cancel()

		sem := semaphore.NewWeighted(int64(s.concurrency()))
		g := &errgroup.Group{}

		for i, req := range reqs {
			if err := acquire(ctx, sem); err != nil {
				// Operation aborted. Resolve everything not yet dispatched.
				reason := interruption(ctx)
				log.Debugf("not dispatching %d tracks: %v", len(reqs)-i, reason)
				for _, r := range reqs[i:] {
					o := failed(r, reason)
					s.Metrics.FetchUnstarted(o.status())
					out <- o
				}
				break
			}

			g.Go(func() error {
				defer sem.Release(1)
				out <- s.attempt(ctx, ws, i, req)
				return nil
			})
		}

		g.Wait()
	}()

	return out
}

// acquire takes a dispatch slot. It fails once ctx is done, even if a slot
// happens to be free.
func acquire(ctx context.Context, sem *semaphore.Weighted) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		sem.Release(1)
		return err
	}
	return nil
}

// interruption returns the per-item error for a batch whose context is done.
func interruption(ctx context.Context) error {
	cause := context.Cause(ctx)
	if errors.Is(cause, ErrTimeout) || errors.Is(cause, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ErrCancelled
}

// attempt fetches request i and records the result.
func (s *Scheduler) attempt(ctx context.Context, ws *download.Workspace, i int, req track.Request) Outcome {
	s.Metrics.FetchStarted()
	start := time.Now()

	o := s.fetch(ctx, ws, i, req)

	s.Metrics.FetchFinished(o.status(), time.Since(start))
	if o.Succeeded {
		log.Infof("downloaded: %s - %s", req.Artist, req.Title)
	} else {
		log.WithError(o.Err).Warnf("failed to download: id=%s title=%s", req.ID, req.Title)
	}
	return o
}

func (s *Scheduler) fetch(ctx context.Context, ws *download.Workspace, i int, req track.Request) Outcome {
	dest, err := ws.Dest(i, archive.EntryName(req.Artist, req.Title, req.ID))
	if err != nil {
		return failed(req, err)
	}

	type result struct {
		path string
		err  error
	}

	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("downloader panic: %v", r)}
			}
		}()

		path, err := s.Downloader.Download(ctx, req.SourceURL, dest)
		done <- result{path: path, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		grace := time.NewTimer(s.grace())
		defer grace.Stop()

		select {
		case res = <-done:
		case <-grace.C:
			// Give up on the attempt. It keeps running until it notices
			// the cancelled context; nothing it leaves behind is trusted.
			go func() {
				<-done
				ws.Discard(i)
			}()
			return failed(req, interruption(ctx))
		}
	}

	if res.err != nil {
		ws.Discard(i)
		if ctx.Err() != nil {
			return failed(req, interruption(ctx))
		}
		return failed(req, res.err)
	}

	if res.path == "" || !fileutil.NonEmptyFile(res.path) {
		ws.Discard(i)
		return failed(req, download.ErrNoArtifact)
	}

	return succeeded(req, res.path)
}
