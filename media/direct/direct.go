// Package direct downloads media files that are linked to directly, e.g.
// https://cdn.example.com/track.mp3.
package direct

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/domgiordano/xomcloud-backend/download"
	"github.com/gabriel-vasile/mimetype"
	log "github.com/sirupsen/logrus"
)

// AudioExtensions are the file extensions accepted as audio.
var AudioExtensions = map[string]bool{
	".mp3":  true,
	".m4a":  true,
	".wav":  true,
	".opus": true,
	".flac": true,
	".ogg":  true,
	".aac":  true,
}

var getHeader = http.Header{
	"accept":     []string{"audio/*;q=0.9, */*;q=0.5"},
	"user-agent": []string{"curl/7.84.0"},
}

// Downloader retrieves directly linked audio files. It implements the
// media.Downloader interface.
type Downloader struct {
	hc *http.Client
}

func NewDownloader(hc *http.Client) *Downloader {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Downloader{
		hc: hc,
	}
}

// Download retrieves u if its path carries an audio file extension. See
// media.Downloader#Download for API details.
func (dl *Downloader) Download(ctx context.Context, u string, dest string) (string, error) {
	if URLExtension(u) == "" {
		return "", nil
	}
	return dl.Save(ctx, u, dest)
}

// Save retrieves u regardless of its extension and saves it next to dest.
// The payload must be audio.
func (dl *Downloader) Save(ctx context.Context, u string, dest string) (string, error) {
	if _, err := download.Save(ctx, dl.hc, u, getHeader, dest); err != nil {
		return "", err
	}
	return finish(u, dest)
}

// SaveBody writes an already opened response body for url=u next to dest.
// The extension is taken from u when it names an audio type and sniffed from
// the content otherwise. Non-audio content is removed and reported as an
// error.
func SaveBody(ctx context.Context, u string, body io.Reader, dest string) (string, error) {
	if _, err := download.WriteFile(ctx, body, dest); err != nil {
		return "", err
	}
	return finish(u, dest)
}

// finish checks that the file at dest holds audio and gives it its final
// extension.
func finish(u string, dest string) (string, error) {
	mtype, err := mimetype.DetectFile(dest)
	if err != nil {
		os.Remove(dest)
		return "", err
	}
	if !IsAudio(mtype) {
		os.Remove(dest)
		return "", fmt.Errorf("not an audio file: url=%s type=%s", u, mtype.String())
	}

	ext := URLExtension(u)
	if ext == "" {
		ext = mtype.Extension()
	}

	final := dest + ext
	if err := os.Rename(dest, final); err != nil {
		os.Remove(dest)
		return "", err
	}

	log.Debugf("downloaded audio: url=%s path=%s type=%s", u, final, mtype.String())
	return final, nil
}

// IsAudio reports whether a sniffed type is something a music player can
// open. M4A files are frequently detected as their MP4 container.
func IsAudio(m *mimetype.MIME) bool {
	for ; m != nil; m = m.Parent() {
		s := m.String()
		if strings.HasPrefix(s, "audio/") || s == "application/ogg" || s == "video/mp4" {
			return true
		}
	}
	return false
}

// URLExtension returns the lowercase audio extension of u's path, or "" if
// the path does not end in a known audio extension.
func URLExtension(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return ""
	}

	ext := strings.ToLower(path.Ext(parsed.Path))
	if !AudioExtensions[ext] {
		return ""
	}
	return ext
}
