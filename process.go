package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/domgiordano/xomcloud-backend/batch"
	"github.com/domgiordano/xomcloud-backend/config"
	"github.com/domgiordano/xomcloud-backend/download"
	"github.com/domgiordano/xomcloud-backend/fileutil"
	"github.com/domgiordano/xomcloud-backend/media"
	"github.com/domgiordano/xomcloud-backend/media/direct"
	"github.com/domgiordano/xomcloud-backend/media/page"
	"github.com/domgiordano/xomcloud-backend/metrics"
	"github.com/domgiordano/xomcloud-backend/storage"
	"github.com/domgiordano/xomcloud-backend/track"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

// localArchiveName is used when --output names a directory.
const localArchiveName = "xomcloud-tracks.zip"

// Response is printed to stdout when a batch finishes, including when every
// track failed.
type Response struct {
	DownloadURL      string              `json:"download_url,omitempty"`
	ExpiresIn        int                 `json:"expires_in,omitempty"`
	ArchivePath      string              `json:"archive_path,omitempty"`
	Total            int                 `json:"total"`
	Successful       int                 `json:"successful"`
	FailedCount      int                 `json:"failed_count"`
	Failed           []batch.FailedTrack `json:"failed"` // null when nothing failed
	TracksDownloaded []batch.TrackInfo   `json:"tracks_downloaded"`
}

func newResponse(res *batch.Result) *Response {
	rsp := &Response{
		Total:            res.Total,
		Successful:       res.Successful,
		FailedCount:      len(res.Failed),
		TracksDownloaded: res.Downloaded,
	}
	if len(res.Failed) > 0 {
		rsp.Failed = res.Failed
	}
	return rsp
}

// processor runs one request body through a batch and delivers the archive.
type processor struct {
	cfg        *config.Config
	downloader media.Downloader
	handoff    storage.Handoff // nil when output is set
	output     string          // local destination for the archive
	metrics    *metrics.Metrics
	now        func() time.Time
}

// processRequest wires up a processor from cfg, processes body and prints
// the response.
func processRequest(ctx context.Context, cfg *config.Config, body []byte, output string, stdout io.Writer) error {
	reg := prometheus.NewRegistry()

	hc := &http.Client{Timeout: cfg.HTTPTimeout}
	p := &processor{
		cfg: cfg,
		downloader: media.Chain{
			direct.NewDownloader(hc),
			page.NewDownloader(hc),
		},
		output:  output,
		metrics: metrics.New(reg),
		now:     time.Now,
	}

	if output == "" {
		h, err := storage.NewFromConfig(ctx, storage.Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			PathStyle:       cfg.S3.PathStyle,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			PresignExpiry:   cfg.S3.PresignExpiry,
		})
		if err != nil {
			return &usageError{err: err}
		}
		p.handoff = h
	}

	rsp, err := p.process(ctx, body)

	if cfg.Metrics.Textfile != "" {
		if merr := metrics.WriteTextfile(cfg.Metrics.Textfile, reg); merr != nil {
			log.WithError(merr).Warnf("failed to export metrics: path=%s", cfg.Metrics.Textfile)
		}
	}

	if rsp != nil {
		if perr := printResponse(stdout, rsp); perr != nil && err == nil {
			err = perr
		}
	}
	return err
}

// process validates body, runs the batch and delivers the archive. A
// response is returned whenever the batch ran, even if it produced nothing.
func (p *processor) process(ctx context.Context, body []byte) (*Response, error) {
	b, err := track.Parse(body, p.cfg.MaxTracks)
	if err != nil {
		return nil, err
	}

	ws, err := download.NewWorkspace(p.cfg.TempDir)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := ws.Close(); err != nil {
			log.WithError(err).Warnf("failed to clean up workspace: dir=%s", ws.Dir())
		}
	}()

	runner := &batch.Runner{
		Scheduler: batch.Scheduler{
			Downloader:  p.downloader,
			Concurrency: p.cfg.Concurrency,
			Grace:       p.cfg.Grace,
		},
		Metrics: p.metrics,
	}

	res, err := runner.Run(ctx, ws, b.Requests, p.now().Add(p.cfg.Deadline))
	if err != nil {
		if errors.Is(err, batch.ErrEmptyBatch) {
			return newResponse(res), err
		}
		return nil, err
	}

	rsp := newResponse(res)
	if p.output != "" {
		dst, err := p.saveLocal(res.ArchivePath)
		if err != nil {
			return nil, err
		}
		rsp.ArchivePath = dst
		return rsp, nil
	}

	// The upload is not bound by the batch deadline.
	key := storage.Key(b.Username, p.now())
	link, err := p.handoff.Upload(ctx, res.ArchivePath, key)
	if err != nil {
		return nil, fmt.Errorf("failed to hand off archive: %w", err)
	}
	rsp.DownloadURL = link.URL
	rsp.ExpiresIn = int(link.ExpiresIn.Seconds())

	return rsp, nil
}

// saveLocal copies the archive out of the workspace to the output location.
func (p *processor) saveLocal(archivePath string) (string, error) {
	dst := p.output
	if fileutil.IsDir(dst) {
		dst = filepath.Join(dst, localArchiveName)
	}

	if err := fileutil.CopyFile(archivePath, dst); err != nil {
		return "", fmt.Errorf("failed to save archive: %w", err)
	}

	log.Infof("saved archive: %s", dst)
	return dst, nil
}

func printResponse(w io.Writer, rsp *Response) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rsp)
}
