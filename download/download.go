package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	log "github.com/sirupsen/logrus"
)

// ErrNoArtifact is returned when a download finished without leaving a
// usable local file.
var ErrNoArtifact = errors.New("file not found after download")

// partialSuffix marks files that are still being written. They are never
// handed out as artifacts.
const partialSuffix = ".partial"

// Do performs an http GET with url=u using the supplied client and header. A
// non-2xx status is an error. On success the caller owns the response body.
func Do(ctx context.Context, hc *http.Client, u string, header http.Header) (*http.Response, error) {
	log.Debugf("get: %s", u)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	rsp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if rsp.StatusCode < 200 || rsp.StatusCode >= 300 {
		rsp.Body.Close()
		return nil, fmt.Errorf("error status: %s", rsp.Status)
	}

	return rsp, nil
}

// GetBody calls Do() and returns only the response body.
func GetBody(ctx context.Context, hc *http.Client, u string, header http.Header) (io.ReadCloser, error) {
	rsp, err := Do(ctx, hc, u, header)
	if err != nil {
		return nil, err
	}
	return rsp.Body, nil
}

// WriteFile streams r into the file destPath and returns the number of
// bytes written. The data is first written to destPath+".partial" and only
// renamed into place once fully received, so an interrupted transfer never
// leaves a file at destPath. An empty stream is ErrNoArtifact.
func WriteFile(ctx context.Context, r io.Reader, destPath string) (int64, error) {
	tmpPath := destPath + partialSuffix
	f, err := os.Create(tmpPath)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(f, NewContextReader(ctx, r))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to save http response: %w", err)
	}
	if n == 0 {
		os.Remove(tmpPath)
		return 0, ErrNoArtifact
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return 0, err
	}

	log.Debugf("saved %s: bytes=%d", destPath, n)
	return n, nil
}

// Save streams the body at url=u into the file destPath. See WriteFile.
func Save(ctx context.Context, hc *http.Client, u string, header http.Header, destPath string) (int64, error) {
	body, err := GetBody(ctx, hc, u, header)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	return WriteFile(ctx, body, destPath)
}
