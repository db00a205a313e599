// Package storage hands finished archives to blob storage and returns a
// time-limited link the client can download them from.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"
)

const (
	// DefaultPresignExpiry is how long download links stay valid.
	DefaultPresignExpiry = time.Hour

	maxUserLength = 30
	archiveName   = "xomcloud-tracks.zip"
)

// Link is a signed, time-limited download location.
type Link struct {
	URL       string
	ExpiresIn time.Duration
}

// Handoff uploads an archive under key and returns a link to it.
type Handoff interface {
	Upload(ctx context.Context, archivePath string, key string) (*Link, error)
}

// Key returns the object key for a batch archive requested by username at
// time now, e.g. "downloads/some_user_20250101_120000/xomcloud-tracks.zip".
func Key(username string, now time.Time) string {
	folder := fmt.Sprintf("%s_%s", safeUser(username), now.UTC().Format("20060102_150405"))
	return "downloads/" + folder + "/" + archiveName
}

// safeUser maps every character other than letters, digits, '-' and '_' to
// '_' and truncates to maxUserLength characters.
func safeUser(username string) string {
	var b strings.Builder
	n := 0
	for _, r := range username {
		if n == maxUserLength {
			break
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
		n++
	}
	return b.String()
}
