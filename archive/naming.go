package archive

import (
	"fmt"
	"strings"
	"unicode"
)

// MaxNameLength is the maximum length, in characters, of an entry's base
// name. The extension and any collision suffix are not counted.
const MaxNameLength = 150

// Sanitize keeps only letters, digits, spaces, hyphens, underscores and
// periods, collapses runs of whitespace and trims the result.
func Sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_', r == '.':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// EntryName returns the base name (no extension) of a track inside the
// archive: "{artist} - {title}", or the title alone when the artist
// sanitizes to nothing, or "track_{id}" when the title does too. The result
// is truncated to MaxNameLength characters, dropping any separator left
// dangling at the cut.
func EntryName(artist string, title string, id string) string {
	a, t := Sanitize(artist), Sanitize(title)

	var name string
	switch {
	case a != "" && t != "":
		name = a + " - " + t
	case t != "":
		name = t
	default:
		name = "track_" + Sanitize(id)
	}

	return truncate(name, MaxNameLength)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	cut := string(r[:n])
	if trimmed := strings.TrimRight(cut, " -"); trimmed != "" {
		return trimmed
	}
	return cut
}

// Namer hands out archive entry names that are unique within one archive.
// Names are compared case-insensitively because archives are commonly
// extracted onto case-insensitive filesystems.
type Namer struct {
	used map[string]struct{}
}

func NewNamer() *Namer {
	return &Namer{used: map[string]struct{}{}}
}

// Unique returns base+ext, or base+" (N)"+ext with the smallest N >= 2 that
// has not been handed out yet.
func (n *Namer) Unique(base string, ext string) string {
	name := base + ext
	for i := 2; n.taken(name); i++ {
		name = fmt.Sprintf("%s (%d)%s", base, i, ext)
	}

	n.used[strings.ToLower(name)] = struct{}{}
	return name
}

func (n *Namer) taken(name string) bool {
	_, ok := n.used[strings.ToLower(name)]
	return ok
}
