// Package prompt resolves per-user system prompts with a file-backed
// override chain: user override, then the global prompt file, then the
// built-in default.
package prompt

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// DefaultPrompt is used when neither a user override nor a global prompt
// file exists.
const DefaultPrompt = "你是一個友善、溫暖且樂於助人的AI助手。請使用繁體中文與使用者互動，保持簡潔、親切、同理心的語調。"

// Store keeps one optional prompt file per user under a directory, plus
// an "awaiting" marker used by the two-step set-prompt command flow.
type Store struct {
	dir        string
	globalFile string
	logger     *slog.Logger
}

// NewStore creates the prompts directory if needed. globalFile may name a
// shared prompt file outside the directory; empty disables it.
func NewStore(dir, globalFile string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("prompts dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create prompts dir: %w", err)
	}
	return &Store{
		dir:        dir,
		globalFile: globalFile,
		logger:     log.With(slog.String("component", "prompt")),
	}, nil
}

// Get returns the effective system prompt for a user.
func (s *Store) Get(userID string) string {
	if data, err := os.ReadFile(s.userPath(userID)); err == nil {
		if text := strings.TrimSpace(string(data)); text != "" {
			return text
		}
	}
	if s.globalFile != "" {
		if data, err := os.ReadFile(s.globalFile); err == nil {
			if text := strings.TrimSpace(string(data)); text != "" {
				return text
			}
		}
	}
	return DefaultPrompt
}

// Set stores a user override.
func (s *Store) Set(userID, text string) error {
	if err := os.WriteFile(s.userPath(userID), []byte(strings.TrimSpace(text)), 0o644); err != nil {
		return fmt.Errorf("write user prompt: %w", err)
	}
	return nil
}

// Clear removes the user override and reports whether one existed.
func (s *Store) Clear(userID string) (bool, error) {
	err := os.Remove(s.userPath(userID))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("remove user prompt: %w", err)
}

// Awaiting reports whether the user's next message should be captured as
// their new prompt.
func (s *Store) Awaiting(userID string) bool {
	_, err := os.Stat(s.awaitingPath(userID))
	return err == nil
}

// SetAwaiting marks the user as mid set-prompt flow.
func (s *Store) SetAwaiting(userID string) error {
	if err := os.WriteFile(s.awaitingPath(userID), []byte("awaiting"), 0o644); err != nil {
		return fmt.Errorf("write awaiting flag: %w", err)
	}
	return nil
}

// ClearAwaiting removes the marker; missing is a no-op.
func (s *Store) ClearAwaiting(userID string) {
	if err := os.Remove(s.awaitingPath(userID)); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("remove awaiting flag failed", slog.String("user_id", userID), slog.Any("error", err))
	}
}

func (s *Store) userPath(userID string) string {
	return filepath.Join(s.dir, "user_"+sanitizeID(userID)+".txt")
}

func (s *Store) awaitingPath(userID string) string {
	return filepath.Join(s.dir, "user_"+sanitizeID(userID)+"_awaiting.txt")
}

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
