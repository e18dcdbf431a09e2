// Package media stores downloaded attachment files on local disk, keyed
// by generated names under type-segregated directories.
package media

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Kind classifies a stored media file and selects its directory.
type Kind string

const (
	KindImage Kind = "images"
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// ErrNotFound is returned when opening a key that has no file.
var ErrNotFound = errors.New("media: file not found")

// Store writes media blobs under <root>/media/<kind>/. Keys are paths
// relative to root (e.g. "media/images/<id>.png") and are what transcript
// parts embed.
type Store struct {
	root   string
	logger *slog.Logger
}

// NewStore creates the media directories under the data root.
func NewStore(root string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve data root: %w", err)
	}
	for _, kind := range []Kind{KindImage, KindAudio, KindVideo} {
		if err := os.MkdirAll(filepath.Join(abs, "media", string(kind)), 0o755); err != nil {
			return nil, fmt.Errorf("create media dir: %w", err)
		}
	}
	return &Store{
		root:   abs,
		logger: log.With(slog.String("component", "media")),
	}, nil
}

// Save writes a new blob and returns its key. Names are generated, so a
// save never overwrites an existing file.
func (s *Store) Save(kind Kind, mime string, r io.Reader) (string, error) {
	if r == nil {
		return "", fmt.Errorf("reader is required")
	}
	key := filepath.ToSlash(filepath.Join("media", string(kind), uuid.NewString()+extensionFromMime(mime)))
	dest, err := s.absPath(key)
	if err != nil {
		return "", err
	}
	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create media file: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		_ = os.Remove(dest)
		return "", fmt.Errorf("write media file: %w", err)
	}
	s.logger.Debug("media saved", slog.String("key", key))
	return key, nil
}

// Open returns a reader for a stored key.
func (s *Store) Open(key string) (io.ReadCloser, error) {
	dest, err := s.absPath(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(dest)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open media file: %w", err)
	}
	return f, nil
}

// Delete removes a stored key. Deleting a missing file is a no-op.
func (s *Store) Delete(key string) error {
	dest, err := s.absPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete media file: %w", err)
	}
	return nil
}

// List returns every stored key, for the orphan sweep.
func (s *Store) List() ([]string, error) {
	var keys []string
	for _, kind := range []Kind{KindImage, KindAudio, KindVideo} {
		dir := filepath.Join(s.root, "media", string(kind))
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read media dir: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			keys = append(keys, filepath.ToSlash(filepath.Join("media", string(kind), entry.Name())))
		}
	}
	return keys, nil
}

// ModTime returns the stored key's modification time, for sweep age checks.
func (s *Store) ModTime(key string) (int64, error) {
	dest, err := s.absPath(key)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(dest)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return info.ModTime().Unix(), nil
}

// absPath converts a key to an absolute path, rejecting traversal out of
// the media tree.
func (s *Store) absPath(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(clean) {
		return "", fmt.Errorf("absolute key is forbidden: %s", key)
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal is forbidden: %s", key)
	}
	if !strings.HasPrefix(clean, "media"+string(filepath.Separator)) {
		return "", fmt.Errorf("key must be under media/: %s", key)
	}
	joined := filepath.Join(s.root, clean)
	if !strings.HasPrefix(joined, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("key escapes data root: %s", key)
	}
	return joined, nil
}

func extensionFromMime(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/m4a", "audio/x-m4a", "audio/aac":
		return ".m4a"
	case "audio/wav":
		return ".wav"
	case "audio/ogg":
		return ".ogg"
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	default:
		return ".bin"
	}
}
