package batch

import (
	"errors"

	"github.com/domgiordano/xomcloud-backend/metrics"
	"github.com/domgiordano/xomcloud-backend/track"
)

var (
	// ErrTimeout resolves items whose fetch did not finish before the batch
	// deadline.
	ErrTimeout = errors.New("timeout")

	// ErrCancelled resolves items that were still pending when the caller
	// aborted the batch.
	ErrCancelled = errors.New("cancelled")

	// ErrEmptyBatch is returned by Runner.Run when nothing could be fetched
	// and packaged. No archive exists in that case.
	ErrEmptyBatch = errors.New("all downloads failed")
)

// Outcome is the resolved result of one fetch attempt. Exactly one of Path
// and Err is set.
type Outcome struct {
	Request   track.Request
	Succeeded bool
	Path      string // Local artifact, if Succeeded.
	Err       error  // Reason for failure, if !Succeeded.
}

func succeeded(req track.Request, path string) Outcome {
	return Outcome{Request: req, Succeeded: true, Path: path}
}

func failed(req track.Request, err error) Outcome {
	return Outcome{Request: req, Err: err}
}

// status returns the outcome's metrics label.
func (o Outcome) status() string {
	switch {
	case o.Succeeded:
		return metrics.StatusOK
	case errors.Is(o.Err, ErrTimeout):
		return metrics.StatusTimeout
	case errors.Is(o.Err, ErrCancelled):
		return metrics.StatusCancelled
	default:
		return metrics.StatusFailed
	}
}

// Summary partitions a batch's outcomes. Both slices are in the order the
// outcomes resolved, not input order.
type Summary struct {
	Total      int
	Downloaded []Outcome
	Failed     []Outcome
}

// Aggregate consumes outcomes until the channel is closed and classifies
// each one exactly once.
func Aggregate(outcomes <-chan Outcome) *Summary {
	s := &Summary{}
	for o := range outcomes {
		s.Total++
		if o.Succeeded {
			s.Downloaded = append(s.Downloaded, o)
		} else {
			s.Failed = append(s.Failed, o)
		}
	}
	return s
}
