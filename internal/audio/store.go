package audio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned for artifacts that do not exist or whose name could
// never have been issued by the store.
var ErrNotFound = errors.New("audio file not found")

var artifactName = regexp.MustCompile(`^output_[0-9a-f]{32}\.wav$`)

// Artifact is a persisted WAV file.
type Artifact struct {
	Filename string
	Path     string
}

// Store writes artifacts into one flat directory. Files are never expired.
type Store struct {
	dir string
}

// NewStore creates dir if needed.
func NewStore(dir string) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("audio: output dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audio: create output dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string { return s.dir }

// Save encodes samples and publishes them under a fresh random name. The file
// is written under a temporary name first so readers never see a partial WAV.
func (s *Store) Save(samples []float32, sampleRate int) (Artifact, error) {
	name := "output_" + strings.ReplaceAll(uuid.NewString(), "-", "") + ".wav"
	path := filepath.Join(s.dir, name)

	tmp, err := os.CreateTemp(s.dir, ".partial-*.wav")
	if err != nil {
		return Artifact{}, fmt.Errorf("audio: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if err := WriteWAV(tmp, samples, sampleRate); err != nil {
		_ = tmp.Close()
		cleanup()
		return Artifact{}, fmt.Errorf("audio: encode wav: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return Artifact{}, fmt.Errorf("audio: close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		cleanup()
		return Artifact{}, fmt.Errorf("audio: chmod: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return Artifact{}, fmt.Errorf("audio: publish %s: %w", name, err)
	}
	return Artifact{Filename: name, Path: path}, nil
}

// Open returns a reader for a previously saved artifact. Only bare names the
// store issues are accepted, so paths cannot escape the directory.
func (s *Store) Open(name string) (*os.File, error) {
	if !artifactName.MatchString(name) {
		return nil, ErrNotFound
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("audio: open %s: %w", name, err)
	}
	return f, nil
}
