// Package batch fetches a batch of tracks concurrently under a deadline and
// packages whatever succeeded into one archive.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/domgiordano/xomcloud-backend/archive"
	"github.com/domgiordano/xomcloud-backend/download"
	"github.com/domgiordano/xomcloud-backend/metrics"
	"github.com/domgiordano/xomcloud-backend/track"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// TrackInfo identifies a track that made it into the archive.
type TrackInfo struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Artist string `json:"artist"`
}

// FailedTrack is a track that was left out of the archive, and why.
type FailedTrack struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Artist string `json:"artist"`
	Error  string `json:"error"`
}

// Result is the per-batch report. Total always equals
// Successful + len(Failed), and Successful equals len(Downloaded).
type Result struct {
	Total       int           `json:"total"`
	Successful  int           `json:"successful"`
	Failed      []FailedTrack `json:"failed"`
	Downloaded  []TrackInfo   `json:"tracks_downloaded"`
	ArchivePath string        `json:"archive_path,omitempty"`
}

// Runner executes whole batches: schedule, aggregate, package.
type Runner struct {
	Scheduler Scheduler
	Metrics   *metrics.Metrics
}

// Run fetches reqs into ws and packages the successes into an archive inside
// ws. The archive is only valid until ws is closed.
//
// If nothing could be fetched and packaged, Run returns the populated result
// together with ErrEmptyBatch. Any other error means the batch could not be
// carried out at all.
func (r *Runner) Run(ctx context.Context, ws *download.Workspace, reqs []track.Request, deadline time.Time) (*Result, error) {
	if ws == nil {
		return nil, errors.New("batch: nil workspace")
	}

	start := time.Now()
	entry := log.WithField("batch", uuid.New().String()[:8])
	entry.Infof("downloading %d tracks: workspace=%s", len(reqs), ws.Dir())

	sched := r.Scheduler
	if sched.Metrics == nil {
		sched.Metrics = r.Metrics
	}
	sum := Aggregate(sched.Run(ctx, ws, reqs, deadline))

	entries := make([]archive.Entry, len(sum.Downloaded))
	for i, o := range sum.Downloaded {
		entries[i] = archive.Entry{
			ID:     o.Request.ID,
			Title:  o.Request.Title,
			Artist: o.Request.Artist,
			Path:   o.Path,
		}
	}

	arc, err := archive.Build(ws.ArchivePath(), entries)
	if err != nil && !errors.Is(err, archive.ErrEmpty) {
		r.Metrics.BatchFinished(metrics.BatchError, time.Since(start))
		return nil, fmt.Errorf("batch: %w", err)
	}

	res := newResult(sum, arc)
	r.Metrics.ArchiveEntries(len(arc.Added), len(arc.Failed))

	if res.Successful == 0 {
		entry.Warnf("all %d downloads failed", res.Total)
		r.Metrics.BatchFinished(metrics.BatchEmpty, time.Since(start))
		return res, ErrEmptyBatch
	}

	status := metrics.BatchComplete
	if len(res.Failed) > 0 {
		status = metrics.BatchPartial
	}
	r.Metrics.BatchFinished(status, time.Since(start))

	entry.Infof("created zip: %s (%d/%d tracks)", res.ArchivePath, res.Successful, res.Total)
	return res, nil
}

// newResult builds the report for a batch. Fetch failures come first in the
// order they resolved, followed by tracks the archive could not package.
func newResult(sum *Summary, arc *archive.Archive) *Result {
	res := &Result{
		Total:      sum.Total,
		Failed:     []FailedTrack{},
		Downloaded: []TrackInfo{},
	}

	for _, o := range sum.Failed {
		res.Failed = append(res.Failed, FailedTrack{
			ID:     o.Request.ID,
			Title:  o.Request.Title,
			Artist: o.Request.Artist,
			Error:  o.Err.Error(),
		})
	}

	rejected := map[string]*archive.EntryError{}
	for _, ee := range arc.Failed {
		rejected[ee.Entry.Path] = ee
	}

	for _, o := range sum.Downloaded {
		if ee, ok := rejected[o.Path]; ok {
			res.Failed = append(res.Failed, FailedTrack{
				ID:     o.Request.ID,
				Title:  o.Request.Title,
				Artist: o.Request.Artist,
				Error:  ee.Error(),
			})
			continue
		}
		res.Downloaded = append(res.Downloaded, TrackInfo{
			ID:     o.Request.ID,
			Title:  o.Request.Title,
			Artist: o.Request.Artist,
		})
	}

	res.Successful = len(res.Downloaded)
	if res.Successful > 0 {
		res.ArchivePath = arc.Path
	}
	return res
}
