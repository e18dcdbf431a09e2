package transcript

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// MediaDeleter removes a stored media file. Deletion of a missing file is
// a no-op.
type MediaDeleter interface {
	Delete(path string) error
}

// Store persists one JSON transcript file per user under a directory.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore creates the history directory if needed.
func NewStore(dir string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("history dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	return &Store{
		dir:    dir,
		logger: log.With(slog.String("component", "history")),
	}, nil
}

// Load reads the user's transcript. A missing file yields an empty
// transcript; a corrupt file is logged and also yields an empty one, so a
// bad write never wedges the user.
func (s *Store) Load(userID string) Transcript {
	data, err := os.ReadFile(s.path(userID))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("read transcript failed", slog.String("user_id", userID), slog.Any("error", err))
		}
		return nil
	}
	var t Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		s.logger.Warn("parse transcript failed, starting fresh", slog.String("user_id", userID), slog.Any("error", err))
		return nil
	}
	return t
}

// Save overwrites the user's transcript atomically: the JSON is written
// to a temp file in the same directory and renamed into place, so a
// concurrent reader never sees a half-written file.
func (s *Store) Save(userID string, t Transcript) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}
	dest := s.path(userID)
	tmp, err := os.CreateTemp(s.dir, ".transcript-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write transcript: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace transcript: %w", err)
	}
	return nil
}

// Clear deletes the user's transcript file and every media file it
// references. Media deletion is best effort: a failure is logged and the
// rest of the cleanup continues. Must be called under the user's lock.
func (s *Store) Clear(userID string, media MediaDeleter) error {
	t := s.Load(userID)
	for _, path := range t.MediaPaths() {
		if media == nil {
			break
		}
		if err := media.Delete(path); err != nil {
			s.logger.Warn("delete media failed", slog.String("path", path), slog.Any("error", err))
		}
	}
	if err := os.Remove(s.path(userID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove transcript: %w", err)
	}
	return nil
}

// ReferencedMediaPaths collects every media path referenced by any stored
// transcript. Used by the orphan sweeper to decide what is still live.
func (s *Store) ReferencedMediaPaths() (map[string]struct{}, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read history dir: %w", err)
	}
	live := make(map[string]struct{})
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			s.logger.Warn("read transcript failed", slog.String("file", entry.Name()), slog.Any("error", err))
			continue
		}
		var t Transcript
		if err := json.Unmarshal(data, &t); err != nil {
			continue
		}
		for _, path := range t.MediaPaths() {
			live[path] = struct{}{}
		}
	}
	return live, nil
}

func (s *Store) path(userID string) string {
	return filepath.Join(s.dir, "user_"+sanitizeID(userID)+".json")
}

// sanitizeID keeps user IDs filesystem-safe. Provider IDs are already
// alphanumeric; anything else maps to an underscore.
func sanitizeID(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
