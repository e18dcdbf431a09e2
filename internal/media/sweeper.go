package media

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// LiveSet reports the media keys still referenced by some transcript.
type LiveSet func() (map[string]struct{}, error)

// Sweeper periodically deletes media files no transcript references.
// A crash between saving a blob and saving the transcript that would own
// it leaves the file stranded; the sweep reclaims those.
type Sweeper struct {
	store  *Store
	live   LiveSet
	logger *slog.Logger
	cron   *cron.Cron
	// minAge protects files belonging to in-flight jobs that have not
	// persisted their transcript yet.
	minAge time.Duration
}

// NewSweeper builds a sweeper; Start schedules it with the given cron
// expression.
func NewSweeper(store *Store, live LiveSet, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		store:  store,
		live:   live,
		logger: log.With(slog.String("component", "media_sweeper")),
		minAge: 30 * time.Minute,
	}
}

// Start schedules periodic sweeps. An empty schedule disables the sweep.
func (s *Sweeper) Start(schedule string) error {
	if schedule == "" {
		return nil
	}
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.Sweep(); err != nil {
			s.logger.Warn("media sweep failed", slog.Any("error", err))
		}
	}); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the schedule.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// Sweep deletes unreferenced files older than minAge and returns how many
// were removed.
func (s *Sweeper) Sweep() (int, error) {
	liveKeys, err := s.live()
	if err != nil {
		return 0, err
	}
	keys, err := s.store.List()
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-s.minAge).Unix()
	removed := 0
	for _, key := range keys {
		if _, ok := liveKeys[key]; ok {
			continue
		}
		mod, err := s.store.ModTime(key)
		if err != nil {
			continue
		}
		if mod > cutoff {
			continue
		}
		if err := s.store.Delete(key); err != nil {
			s.logger.Warn("delete orphan failed", slog.String("key", key), slog.Any("error", err))
			continue
		}
		s.logger.Info("orphaned media deleted", slog.String("key", key))
		removed++
	}
	return removed, nil
}
