// Package page downloads audio that is embedded in a web page, such as a
// track's public permalink page.
package page

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"

	"github.com/domgiordano/xomcloud-backend/download"
	"github.com/domgiordano/xomcloud-backend/media/direct"
	"github.com/domgiordano/xomcloud-backend/web"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/html"
)

// maxPageSize bounds how much of a page is parsed looking for media.
const maxPageSize = 4 << 20

// Downloader retrieves audio from http(s) urls. If the url serves a web page
// it follows the page's first embedded media url; if it serves audio it saves
// it as is. It implements the media.Downloader interface.
type Downloader struct {
	hc     *http.Client
	direct *direct.Downloader
}

func NewDownloader(hc *http.Client) *Downloader {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Downloader{
		hc:     hc,
		direct: direct.NewDownloader(hc),
	}
}

// Download retrieves the audio behind u. See media.Downloader#Download for
// API details.
func (dl *Downloader) Download(ctx context.Context, u string, dest string) (string, error) {
	pageURL, err := url.Parse(u)
	if err != nil || (pageURL.Scheme != "http" && pageURL.Scheme != "https") {
		return "", nil
	}

	rsp, err := download.Do(ctx, dl.hc, u, nil)
	if err != nil {
		return "", err
	}
	defer rsp.Body.Close()

	if !isHTML(rsp.Header.Get("Content-Type")) {
		// The url is a stream rather than a page.
		return direct.SaveBody(ctx, u, rsp.Body, dest)
	}

	doc, err := html.Parse(download.NewContextReader(ctx, io.LimitReader(rsp.Body, maxPageSize)))
	if err != nil {
		return "", fmt.Errorf("failed to parse page: %w", err)
	}

	links := web.EmbeddedMediaURLs(doc)
	if len(links) == 0 {
		return "", fmt.Errorf("page contains 0 embedded media urls: %s", u)
	}

	ref, err := url.Parse(links[0])
	if err != nil {
		return "", fmt.Errorf("bad embedded media url %q: %w", links[0], err)
	}
	mediaURL := pageURL.ResolveReference(ref).String()

	log.Debugf("following embedded media: page=%s media=%s", u, mediaURL)
	return dl.direct.Save(ctx, mediaURL, dest)
}

func isHTML(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "text/html" || mt == "application/xhtml+xml"
}
