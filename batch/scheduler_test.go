package batch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/domgiordano/xomcloud-backend/download"
	"github.com/domgiordano/xomcloud-backend/media"
	"github.com/domgiordano/xomcloud-backend/track"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requests(n int) []track.Request {
	reqs := make([]track.Request, n)
	for i := range reqs {
		id := strconv.Itoa(i)
		reqs[i] = track.Request{
			ID:        id,
			SourceURL: "https://example.com/" + id + ".mp3",
			Title:     "Title " + id,
			Artist:    "Artist",
		}
	}
	return reqs
}

func newWorkspace(t *testing.T) *download.Workspace {
	t.Helper()
	ws, err := download.NewWorkspace(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func writeAudio(dest string) (string, error) {
	p := dest + ".mp3"
	return p, os.WriteFile(p, []byte("audio"), 0o644)
}

func drain(ch <-chan Outcome) map[string]Outcome {
	out := map[string]Outcome{}
	for o := range ch {
		out[o.Request.ID] = o
	}
	return out
}

func idOf(u string) string {
	base := filepath.Base(u)
	return base[:len(base)-len(filepath.Ext(base))]
}

func farDeadline() time.Time {
	return time.Now().Add(time.Minute)
}

func TestSchedulerConcurrencyBound(t *testing.T) {
	ws := newWorkspace(t)

	var inFlight, peak atomic.Int32
	dl := media.DownloaderFunc(func(ctx context.Context, u string, dest string) (string, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		return writeAudio(dest)
	})

	s := &Scheduler{Downloader: dl, Concurrency: 3}
	outcomes := drain(s.Run(context.Background(), ws, requests(12), farDeadline()))

	require.Len(t, outcomes, 12)
	for id, o := range outcomes {
		assert.True(t, o.Succeeded, "track %s: %v", id, o.Err)
		assert.FileExists(t, o.Path)
	}
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Greater(t, peak.Load(), int32(1))
}

func TestSchedulerMixedOutcomes(t *testing.T) {
	ws := newWorkspace(t)

	errBoom := errors.New("HTTP 404")
	dl := media.DownloaderFunc(func(ctx context.Context, u string, dest string) (string, error) {
		i, _ := strconv.Atoi(idOf(u))
		switch i % 3 {
		case 0:
			return "", errBoom
		case 1:
			// Claims success without leaving anything behind.
			return "", nil
		default:
			return writeAudio(dest)
		}
	})

	s := &Scheduler{Downloader: dl, Concurrency: 2}
	ch := s.Run(context.Background(), ws, requests(9), farDeadline())

	var total int
	seen := map[string]bool{}
	for o := range ch {
		total++
		assert.False(t, seen[o.Request.ID], "duplicate outcome for %s", o.Request.ID)
		seen[o.Request.ID] = true

		i, _ := strconv.Atoi(o.Request.ID)
		switch i % 3 {
		case 0:
			assert.ErrorIs(t, o.Err, errBoom)
		case 1:
			assert.ErrorIs(t, o.Err, download.ErrNoArtifact)
		default:
			assert.True(t, o.Succeeded)
			assert.NoError(t, o.Err)
		}
	}
	assert.Equal(t, 9, total)
}

func TestSchedulerEmptyArtifact(t *testing.T) {
	ws := newWorkspace(t)

	var written string
	dl := media.DownloaderFunc(func(ctx context.Context, u string, dest string) (string, error) {
		written = dest + ".mp3"
		return written, os.WriteFile(written, nil, 0o644)
	})

	s := &Scheduler{Downloader: dl}
	outcomes := drain(s.Run(context.Background(), ws, requests(1), farDeadline()))

	o := outcomes["0"]
	assert.False(t, o.Succeeded)
	assert.ErrorIs(t, o.Err, download.ErrNoArtifact)
	assert.NoDirExists(t, filepath.Dir(written))
}

func TestSchedulerPanicIsolation(t *testing.T) {
	ws := newWorkspace(t)

	dl := media.DownloaderFunc(func(ctx context.Context, u string, dest string) (string, error) {
		if idOf(u) == "1" {
			panic("bad parser state")
		}
		return writeAudio(dest)
	})

	s := &Scheduler{Downloader: dl, Concurrency: 2}
	outcomes := drain(s.Run(context.Background(), ws, requests(3), farDeadline()))

	require.Len(t, outcomes, 3)
	assert.True(t, outcomes["0"].Succeeded)
	assert.True(t, outcomes["2"].Succeeded)
	assert.False(t, outcomes["1"].Succeeded)
	assert.ErrorContains(t, outcomes["1"].Err, "panic")
}

func TestSchedulerDeadline(t *testing.T) {
	ws := newWorkspace(t)

	// Attempts ignore their context entirely until the test ends.
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	var calls atomic.Int32
	dl := media.DownloaderFunc(func(ctx context.Context, u string, dest string) (string, error) {
		calls.Add(1)
		<-release
		return "", errors.New("released")
	})

	const (
		deadline = 100 * time.Millisecond
		grace    = 50 * time.Millisecond
	)

	s := &Scheduler{Downloader: dl, Concurrency: 2, Grace: grace}

	start := time.Now()
	outcomes := drain(s.Run(context.Background(), ws, requests(5), start.Add(deadline)))
	elapsed := time.Since(start)

	require.Len(t, outcomes, 5)
	for id, o := range outcomes {
		assert.ErrorIs(t, o.Err, ErrTimeout, "track %s", id)
		assert.Equal(t, "timeout", o.Err.Error())
	}
	assert.Less(t, elapsed, deadline+grace+time.Second)
	assert.Equal(t, int32(2), calls.Load(), "nothing is dispatched after the deadline")
}

func TestSchedulerZeroGrace(t *testing.T) {
	ws := newWorkspace(t)

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	dl := media.DownloaderFunc(func(ctx context.Context, u string, dest string) (string, error) {
		<-release
		return "", errors.New("released")
	})

	const deadline = 50 * time.Millisecond

	s := &Scheduler{Downloader: dl, Grace: 0}

	start := time.Now()
	outcomes := drain(s.Run(context.Background(), ws, requests(2), start.Add(deadline)))
	elapsed := time.Since(start)

	require.Len(t, outcomes, 2)
	for id, o := range outcomes {
		assert.ErrorIs(t, o.Err, ErrTimeout, "track %s", id)
	}
	assert.Less(t, elapsed, deadline+DefaultGrace/2, "zero grace must not fall back to the default")
}

func TestSchedulerNegativeGraceUsesDefault(t *testing.T) {
	s := &Scheduler{Grace: -1}
	assert.Equal(t, DefaultGrace, s.grace())

	s.Grace = 0
	assert.Zero(t, s.grace())
}

func TestSchedulerDeadlinePartial(t *testing.T) {
	ws := newWorkspace(t)

	dl := media.DownloaderFunc(func(ctx context.Context, u string, dest string) (string, error) {
		if i, _ := strconv.Atoi(idOf(u)); i < 2 {
			return writeAudio(dest)
		}
		<-ctx.Done()
		return "", ctx.Err()
	})

	s := &Scheduler{Downloader: dl, Concurrency: 4, Grace: time.Second}
	outcomes := drain(s.Run(context.Background(), ws, requests(4), time.Now().Add(100*time.Millisecond)))

	require.Len(t, outcomes, 4)
	assert.True(t, outcomes["0"].Succeeded)
	assert.True(t, outcomes["1"].Succeeded)
	assert.ErrorIs(t, outcomes["2"].Err, ErrTimeout)
	assert.ErrorIs(t, outcomes["3"].Err, ErrTimeout)
}

func TestSchedulerLateSuccessWithinGrace(t *testing.T) {
	ws := newWorkspace(t)

	dl := media.DownloaderFunc(func(ctx context.Context, u string, dest string) (string, error) {
		time.Sleep(150 * time.Millisecond)
		return writeAudio(dest)
	})

	s := &Scheduler{Downloader: dl, Grace: 5 * time.Second}
	outcomes := drain(s.Run(context.Background(), ws, requests(1), time.Now().Add(50*time.Millisecond)))

	assert.True(t, outcomes["0"].Succeeded)
}

func TestSchedulerDiscardsAbandonedAttempt(t *testing.T) {
	ws := newWorkspace(t)

	release := make(chan struct{})
	dests := make(chan string, 1)
	dl := media.DownloaderFunc(func(ctx context.Context, u string, dest string) (string, error) {
		dests <- dest
		<-release
		return writeAudio(dest)
	})

	s := &Scheduler{Downloader: dl, Grace: 10 * time.Millisecond}
	outcomes := drain(s.Run(context.Background(), ws, requests(1), time.Now().Add(50*time.Millisecond)))
	assert.ErrorIs(t, outcomes["0"].Err, ErrTimeout)

	trackDir := filepath.Dir(<-dests)
	close(release)

	assert.Eventually(t, func() bool {
		_, err := os.Stat(trackDir)
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSchedulerCancel(t *testing.T) {
	ws := newWorkspace(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	dl := media.DownloaderFunc(func(ctx context.Context, u string, dest string) (string, error) {
		if idOf(u) == "0" {
			return writeAudio(dest)
		}
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	})

	s := &Scheduler{Downloader: dl, Concurrency: 1, Grace: time.Second}
	ch := s.Run(ctx, ws, requests(3), farDeadline())

	first := <-ch
	assert.Equal(t, "0", first.Request.ID)
	assert.True(t, first.Succeeded)

	<-started
	cancel()

	rest := drain(ch)
	require.Len(t, rest, 2)
	for id, o := range rest {
		assert.ErrorIs(t, o.Err, ErrCancelled, "track %s", id)
	}
}

func TestSchedulerAlreadyCancelled(t *testing.T) {
	ws := newWorkspace(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	dl := media.DownloaderFunc(func(ctx context.Context, u string, dest string) (string, error) {
		calls.Add(1)
		return writeAudio(dest)
	})

	s := &Scheduler{Downloader: dl}
	outcomes := drain(s.Run(ctx, ws, requests(3), farDeadline()))

	require.Len(t, outcomes, 3)
	for _, o := range outcomes {
		assert.ErrorIs(t, o.Err, ErrCancelled)
	}
	assert.Zero(t, calls.Load())
}

func TestSchedulerClosedWorkspace(t *testing.T) {
	ws := newWorkspace(t)
	require.NoError(t, ws.Close())

	dl := media.DownloaderFunc(func(ctx context.Context, u string, dest string) (string, error) {
		return writeAudio(dest)
	})

	s := &Scheduler{Downloader: dl}
	outcomes := drain(s.Run(context.Background(), ws, requests(2), farDeadline()))

	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		assert.ErrorIs(t, o.Err, download.ErrWorkspaceClosed)
	}
}

func TestSchedulerNoRequests(t *testing.T) {
	ws := newWorkspace(t)
	s := &Scheduler{Downloader: media.Chain{}}
	assert.Empty(t, drain(s.Run(context.Background(), ws, nil, farDeadline())))
}
