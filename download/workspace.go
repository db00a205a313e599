package download

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/flytam/filenamify"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

var ErrWorkspaceClosed = errors.New("workspace closed")

// maxHintLength bounds the base name of files written into a track
// directory. Archive entry names are computed separately.
const maxHintLength = 100

// Workspace is the temporary storage scope of one batch. Every file a batch
// writes lives under its directory, and Close removes all of it. Each track
// gets its own subdirectory so that concurrent downloads never write to the
// same path.
type Workspace struct {
	dir string // constant

	mu     sync.Mutex     // Protects the fields below.
	tracks map[int]string // Track index -> track directory.
	closed bool
}

// NewWorkspace creates a fresh batch directory under root. An empty root
// means the system temp directory.
func NewWorkspace(root string) (*Workspace, error) {
	if root != "" {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create temp root: %w", err)
		}
	}

	dir, err := os.MkdirTemp(root, "xomcloud_")
	if err != nil {
		return nil, fmt.Errorf("failed to allocate workspace: %w", err)
	}

	log.Debugf("allocated workspace: dir=%s", dir)
	return &Workspace{
		dir:    dir,
		tracks: map[int]string{},
	}, nil
}

// Dir returns the workspace's root directory.
func (w *Workspace) Dir() string {
	return w.dir
}

// Dest returns the destination hint for track i: a path inside the track's
// own directory whose base name is derived from name. The extension is left
// for the downloader to choose.
func (w *Workspace) Dest(i int, name string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return "", ErrWorkspaceClosed
	}

	trackDir, ok := w.tracks[i]
	if !ok {
		trackDir = filepath.Join(w.dir, fmt.Sprintf("track_%d", i))
		if err := os.MkdirAll(trackDir, 0o755); err != nil {
			return "", err
		}
		w.tracks[i] = trackDir
	}

	base, err := NameToFilename(name)
	if err != nil {
		return "", err
	}

	return filepath.Join(trackDir, base), nil
}

// Discard removes everything written for track i. Timed-out downloads are
// discarded rather than trusted.
func (w *Workspace) Discard(i int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	trackDir, ok := w.tracks[i]
	if !ok || w.closed {
		return nil
	}

	log.Debugf("discarding track directory: %s", trackDir)
	return os.RemoveAll(trackDir)
}

// ArchivePath returns a fresh, unique path for a batch archive inside the
// workspace.
func (w *Workspace) ArchivePath() string {
	name := fmt.Sprintf("xomcloud_%s.zip", uuid.New().String()[:8])
	return filepath.Join(w.dir, name)
}

// Close removes the workspace and everything in it. It is safe to call more
// than once.
func (w *Workspace) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	log.Debugf("removing workspace: dir=%s", w.dir)
	return os.RemoveAll(w.dir)
}

// NameToFilename returns a filesystem-safe base name for name.
func NameToFilename(name string) (string, error) {
	base, err := filenamify.Filenamify(name, filenamify.Options{
		Replacement: "_",
		MaxLength:   maxHintLength,
	})
	if err != nil {
		return "", err
	}
	if base == "" {
		base = "track"
	}
	return base, nil
}
