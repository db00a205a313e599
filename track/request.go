// Package track defines the fixed-shape track request accepted by a batch and
// validates client input into it.
package track

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"
	"mvdan.cc/xurls/v2"
)

const (
	// DefaultMaxTracks limits a single batch. Long tracks make larger batches
	// unreliable within one request deadline.
	DefaultMaxTracks = 5

	UnknownArtist   = "Unknown Artist"
	DefaultUsername = "xomcloud"

	// fallbackURLFormat builds a source url from a bare SoundCloud track id.
	fallbackURLFormat = "https://api.soundcloud.com/tracks/%s"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Request is one track to fetch. It is immutable once accepted. ID is
// supplied by the caller and is only used to correlate outcomes with input.
type Request struct {
	ID        string `json:"id" validate:"required"`
	SourceURL string `json:"source_url" validate:"required,url"`
	Title     string `json:"title" validate:"required"`
	Artist    string `json:"artist" validate:"required"`
}

// Batch is a validated set of requests.
type Batch struct {
	Requests []Request

	// Username names the batch in blob storage. It is the first known
	// artist, or DefaultUsername.
	Username string
}

// ValidationError reports a request body that was rejected before any fetch
// was scheduled.
type ValidationError struct {
	Index  int // Offending track index; -1 for body-level problems.
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return e.Reason
	}
	return fmt.Sprintf("track %d: %s", e.Index, e.Reason)
}

func invalid(index int, format string, args ...any) *ValidationError {
	return &ValidationError{Index: index, Reason: fmt.Sprintf(format, args...)}
}

// Parse decodes and validates a request body. It rejects the whole batch if
// any entry is malformed. maxTracks <= 0 means DefaultMaxTracks.
func Parse(b []byte, maxTracks int) (*Batch, error) {
	if maxTracks <= 0 {
		maxTracks = DefaultMaxTracks
	}

	if len(bytes.TrimSpace(b)) == 0 {
		return nil, invalid(-1, "request body is required")
	}

	msgs, err := readMessages(b)
	if err != nil {
		return nil, invalid(-1, "malformed request body: %v", err)
	}
	if len(msgs) == 0 {
		return nil, invalid(-1, "at least one track is required")
	}
	if len(msgs) > maxTracks {
		return nil, invalid(-1, "maximum %d tracks per request", maxTracks)
	}

	batch := &Batch{}
	for i, m := range msgs {
		if m == nil {
			return nil, invalid(i, "must be an object")
		}

		req, err := FromMessage(i, m)
		if err != nil {
			return nil, err
		}

		if batch.Username == "" && req.Artist != UnknownArtist {
			batch.Username = req.Artist
		}
		batch.Requests = append(batch.Requests, req)
	}

	if batch.Username == "" {
		batch.Username = DefaultUsername
	}

	log.Debugf("validated %d tracks: username=%s", len(batch.Requests), batch.Username)
	return batch, nil
}

// FromMessage converts the track object at position i of a request body into
// a Request, applying field fallbacks.
func FromMessage(i int, m Message) (Request, error) {
	id := strings.TrimSpace(m.GetString("id"))
	if id == "" {
		return Request{}, invalid(i, "missing 'id' field")
	}

	rawURL := m.GetString("url")
	if rawURL == "" {
		rawURL = m.GetString("permalink_url")
	}
	if rawURL == "" {
		rawURL = fmt.Sprintf(fallbackURLFormat, url.PathEscape(id))
	}

	sourceURL, err := extractURL(rawURL)
	if err != nil {
		return Request{}, invalid(i, "%v", err)
	}

	title := strings.TrimSpace(m.GetString("title"))
	if title == "" {
		title = fmt.Sprintf("Track %d", i+1)
	}

	artist := strings.TrimSpace(m.GetString("artist"))
	if artist == "" {
		if user := m.GetMessage("user"); user != nil {
			artist = strings.TrimSpace(user.GetString("username"))
		}
	}
	if artist == "" {
		artist = UnknownArtist
	}

	req := Request{
		ID:        id,
		SourceURL: sourceURL,
		Title:     title,
		Artist:    artist,
	}
	if err := validate.Struct(req); err != nil {
		return Request{}, invalid(i, "%v", err)
	}

	return req, nil
}

// extractURL returns the single http(s) url contained in s. Clients
// sometimes paste share text around the link, so the url is located rather
// than taken verbatim.
func extractURL(s string) (string, error) {
	found := xurls.Strict().FindString(s)
	if found == "" {
		return "", fmt.Errorf("no url in %q", s)
	}

	u, err := url.Parse(found)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", found, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported url scheme: %s", u.Scheme)
	}

	return found, nil
}
