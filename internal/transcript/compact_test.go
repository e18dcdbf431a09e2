package transcript

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func textTurn(role, text string) Turn {
	return Turn{Role: role, Parts: []Part{TextPart(text)}}
}

func totalEstimate(t Transcript, est Estimator) int {
	total := 0
	for _, turn := range t {
		total += estimateTurn(turn, est)
	}
	return total
}

func TestCompactUnderBudgetUntouched(t *testing.T) {
	tr := Transcript{
		textTurn(RoleUser, "hello"),
		textTurn(RoleModel, "hi"),
	}
	est := DefaultEstimator(2)

	got := Compact(tr, 1000, est, nil, nil)
	assert.Equal(t, tr, got)
}

func TestCompactEvictsOldestFirst(t *testing.T) {
	tr := Transcript{
		textTurn(RoleUser, strings.Repeat("a", 100)),
		textTurn(RoleModel, strings.Repeat("b", 100)),
		textTurn(RoleUser, strings.Repeat("c", 100)),
		textTurn(RoleModel, strings.Repeat("d", 100)),
	}
	est := DefaultEstimator(1)

	got := Compact(tr, 250, est, nil, nil)
	assert.Len(t, got, 2)
	assert.Equal(t, strings.Repeat("c", 100), got[0].Parts[0].Text)
	assert.LessOrEqual(t, totalEstimate(got, est), 250)
}

func TestCompactNeverEmptiesTranscript(t *testing.T) {
	tr := Transcript{
		textTurn(RoleUser, strings.Repeat("x", 500)),
	}
	got := Compact(tr, 10, DefaultEstimator(1), nil, nil)
	assert.Len(t, got, 1)
}

func TestCompactDeletesTrimmedMediaOnly(t *testing.T) {
	tr := Transcript{
		{Role: RoleUser, Parts: []Part{
			TextPart(strings.Repeat("a", 200)),
			MediaPart("media/images/old.png", "image/png"),
		}},
		textTurn(RoleModel, strings.Repeat("b", 200)),
		{Role: RoleUser, Parts: []Part{
			TextPart("short"),
			MediaPart("media/images/new.png", "image/png"),
		}},
		textTurn(RoleModel, "ok"),
	}
	deleter := &fakeDeleter{}

	got := Compact(tr, 100, DefaultEstimator(1), deleter, nil)

	assert.Equal(t, []string{"media/images/old.png"}, deleter.deleted)
	for _, turn := range got {
		for _, path := range turn.MediaPaths() {
			assert.NotContains(t, deleter.deleted, path)
		}
	}
}

func TestCompactContinuesPastDeleteFailure(t *testing.T) {
	tr := Transcript{
		{Role: RoleUser, Parts: []Part{
			TextPart(strings.Repeat("a", 100)),
			MediaPart("media/images/gone.png", "image/png"),
		}},
		textTurn(RoleModel, strings.Repeat("b", 100)),
		textTurn(RoleUser, "hi"),
	}

	got := Compact(tr, 10, DefaultEstimator(1), &fakeDeleter{fail: true}, nil)
	assert.Len(t, got, 1)
}

func TestDefaultEstimatorMultiplier(t *testing.T) {
	est := DefaultEstimator(2)
	assert.Equal(t, 10, est(TextPart("hello")))
	// Multibyte text counts runes, not bytes.
	assert.Equal(t, 4, est(TextPart("你好")))
	assert.Equal(t, 2*len("a/b.png"), est(MediaPart("a/b.png", "image/png")))
}
