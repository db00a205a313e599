// Package archive packages fetched tracks into a single zip file with
// human-readable, collision-free entry names.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
	"github.com/domgiordano/xomcloud-backend/media/direct"
	"github.com/klauspost/compress/flate"
	log "github.com/sirupsen/logrus"
)

// ErrEmpty is returned when there is nothing to package. No archive file is
// created in that case.
var ErrEmpty = errors.New("archive: no entries")

// defaultExt is used when neither the artifact's name nor its content reveal
// its type.
const defaultExt = ".mp3"

// sourceReader wraps an artifact before it is copied into the archive.
var sourceReader = func(f *os.File) io.Reader { return f }

// Entry is one fetched track to package.
type Entry struct {
	ID     string
	Title  string
	Artist string
	Path   string // Local artifact.
}

// Added is an entry that made it into the archive under Name.
type Added struct {
	Entry
	Name string
}

// EntryError reports an entry whose artifact could not be packaged.
type EntryError struct {
	Entry Entry
	Err   error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("archive: %v", e.Err)
}

func (e *EntryError) Unwrap() error {
	return e.Err
}

// Archive describes a finished archive.
type Archive struct {
	Path   string // Empty if nothing could be packaged.
	Added  []Added
	Failed []*EntryError
}

// Build packages entries into a zip file at dest. The zip is written under a
// temporary name in dest's directory and renamed into place when complete,
// so dest never holds a partial archive.
//
// An entry whose artifact cannot be read is left out and reported in
// Archive.Failed; it does not fail the build. If no entry can be packaged,
// Build returns ErrEmpty along with the failures. Any other error means the
// archive itself could not be written.
func Build(dest string, entries []Entry) (*Archive, error) {
	arc := &Archive{}
	remaining := append([]Entry(nil), entries...)

	for {
		if len(remaining) == 0 {
			return arc, ErrEmpty
		}

		added, skipped, bad, err := write(dest, remaining)
		if err != nil {
			return nil, err
		}

		arc.Failed = append(arc.Failed, skipped...)
		if bad == nil {
			arc.Path = dest
			arc.Added = added
			break
		}

		// A source failed mid-copy and its entry is already in the zip.
		// Start over without it.
		arc.Failed = append(arc.Failed, bad)
		remaining = without(remaining, skipped, bad)
	}

	if len(arc.Added) == 0 {
		os.Remove(dest)
		arc.Path = ""
		return arc, ErrEmpty
	}

	log.Infof("created archive: %s (%d entries)", dest, len(arc.Added))
	return arc, nil
}

// write makes one attempt at building the archive. Entries whose sources
// cannot be opened are skipped. If a source fails after its entry was
// started, the attempt is abandoned and that entry is returned as bad.
func write(dest string, entries []Entry) (added []Added, skipped []*EntryError, bad *EntryError, err error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".xomcloud-*.zip.tmp")
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create archive: %w", err)
	}
	tmpPath := tmp.Name()

	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	zw := zip.NewWriter(tmp)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		// Audio is already compressed; spend as little time as possible.
		return flate.NewWriter(out, flate.BestSpeed)
	})

	namer := NewNamer()
	for _, e := range entries {
		name, werr := addEntry(zw, namer, e)
		var srcErr *sourceError
		switch {
		case werr == nil:
			log.Infof("  added: %s", name)
			added = append(added, Added{Entry: e, Name: name})
		case errors.As(werr, &srcErr) && !srcErr.started:
			log.WithError(srcErr.err).Warnf("skipping unreadable artifact: id=%s path=%s", e.ID, e.Path)
			skipped = append(skipped, &EntryError{Entry: e, Err: srcErr.err})
		case errors.As(werr, &srcErr):
			log.WithError(srcErr.err).Warnf("artifact failed mid-copy: id=%s path=%s", e.ID, e.Path)
			return nil, skipped, &EntryError{Entry: e, Err: srcErr.err}, nil
		default:
			return nil, nil, nil, fmt.Errorf("failed to write archive: %w", werr)
		}
	}

	if len(added) == 0 {
		return nil, skipped, nil, nil
	}

	if err := zw.Close(); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to finish archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to finish archive: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to finish archive: %w", err)
	}
	committed = true

	return added, skipped, nil, nil
}

// sourceError is a failure reading an entry's artifact, as opposed to
// writing the archive. started is true once the entry's header is in the
// zip.
type sourceError struct {
	err     error
	started bool
}

func (e *sourceError) Error() string {
	return e.err.Error()
}

// addEntry copies e's artifact into zw and returns its entry name.
func addEntry(zw *zip.Writer, namer *Namer, e Entry) (string, error) {
	f, err := os.Open(e.Path)
	if err != nil {
		return "", &sourceError{err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", &sourceError{err: err}
	}
	if !info.Mode().IsRegular() {
		return "", &sourceError{err: fmt.Errorf("not a regular file: %s", e.Path)}
	}

	ext, err := entryExt(f, e.Path)
	if err != nil {
		return "", &sourceError{err: err}
	}

	name := namer.Unique(EntryName(e.Artist, e.Title, e.ID), ext)

	hdr := &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: info.ModTime(),
	}
	hdr.SetMode(0o644)

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return "", err
	}

	src := &trackingReader{r: sourceReader(f)}
	if _, err := io.Copy(w, src); err != nil {
		if src.err != nil {
			return "", &sourceError{err: src.err, started: true}
		}
		return "", err
	}

	return name, nil
}

// entryExt returns the lowercase extension for an artifact: its own, if it
// is a known audio extension, else one identified from the audio container,
// else defaultExt. f is left positioned at the start.
func entryExt(f *os.File, path string) (string, error) {
	if ext := strings.ToLower(filepath.Ext(path)); direct.AudioExtensions[ext] {
		return ext, nil
	}

	ext := defaultExt
	if _, ft, err := tag.Identify(f); err == nil && ft != tag.UnknownFileType {
		ext = fileTypeExt(ft)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return ext, nil
}

func fileTypeExt(ft tag.FileType) string {
	switch ft {
	case tag.ALAC, tag.M4B, tag.M4P:
		return ".m4a"
	default:
		return "." + strings.ToLower(string(ft))
	}
}

// trackingReader remembers the first non-EOF read error of its source so
// that read failures can be told apart from write failures after io.Copy.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF && t.err == nil {
		t.err = err
	}
	return n, err
}

// without returns entries minus the skipped ones and bad.
func without(entries []Entry, skipped []*EntryError, bad *EntryError) []Entry {
	drop := map[string]bool{bad.Entry.Path: true}
	for _, s := range skipped {
		drop[s.Entry.Path] = true
	}

	var out []Entry
	for _, e := range entries {
		if !drop[e.Path] {
			out = append(out, e)
		}
	}
	return out
}
