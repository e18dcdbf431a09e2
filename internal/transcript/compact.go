package transcript

import (
	"log/slog"
	"unicode/utf8"
)

// Estimator returns the size estimate for one content part. The unit is
// arbitrary but must be applied consistently across the transcript.
type Estimator func(Part) int

// DefaultEstimator counts characters times a configurable multiplier.
// This is an approximation, not a token-accurate count; the multiplier is
// a tunable, not a guaranteed semantic.
func DefaultEstimator(multiplier int) Estimator {
	if multiplier <= 0 {
		multiplier = 1
	}
	return func(p Part) int {
		switch p.Type {
		case PartText:
			return utf8.RuneCountInString(p.Text) * multiplier
		case PartMedia:
			return utf8.RuneCountInString(p.Path) * multiplier
		case PartFile:
			return utf8.RuneCountInString(p.FileURI) * multiplier
		default:
			return 0
		}
	}
}

// Compact trims the oldest turns until the summed estimate fits the
// budget, deleting the media files owned by each removed turn. At least
// one turn always survives, and files referenced by surviving turns are
// never touched (each media file belongs to exactly one turn). Media
// deletion failures are logged and do not stop compaction.
func Compact(t Transcript, budget int, est Estimator, media MediaDeleter, log *slog.Logger) Transcript {
	if log == nil {
		log = slog.Default()
	}
	if est == nil {
		est = DefaultEstimator(1)
	}

	total := 0
	for _, turn := range t {
		total += estimateTurn(turn, est)
	}

	for total > budget && len(t) > 1 {
		removed := t[0]
		t = t[1:]
		total -= estimateTurn(removed, est)

		for _, path := range removed.MediaPaths() {
			if media == nil {
				break
			}
			if err := media.Delete(path); err != nil {
				log.Warn("delete trimmed media failed", slog.String("path", path), slog.Any("error", err))
				continue
			}
			log.Info("trimmed media deleted", slog.String("path", path))
		}
	}
	return t
}

func estimateTurn(turn Turn, est Estimator) int {
	total := 0
	for _, p := range turn.Parts {
		total += est(p)
	}
	return total
}
