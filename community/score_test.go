package community

import (
	"math"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestScoreDecaysWithAge(t *testing.T) {
	settings := DefaultScoreSettings()

	submittedAt := int64(1000)
	previous := settings.Score(submittedAt, 3, submittedAt)
	for i := 1; i <= 24; i += 1 {
		now := submittedAt + int64(i)*3600
		score := settings.Score(submittedAt, 3, now)
		assert.Equal(t, score < previous, true)
		previous = score
	}
}

func TestScoreGrowsWithUpvotes(t *testing.T) {
	settings := DefaultScoreSettings()

	submittedAt := int64(1000)
	now := submittedAt + 9000
	previous := settings.Score(submittedAt, 0, now)
	for upvotes := 1; upvotes <= 16; upvotes += 1 {
		score := settings.Score(submittedAt, upvotes, now)
		assert.Equal(t, previous < score, true)
		previous = score
	}
}

func TestScoreAtSubmission(t *testing.T) {
	settings := DefaultScoreSettings()

	// zero elapsed intervals: (P + 1) / 2^gravity
	assert.Equal(t, settings.Score(1000, 0, 1000), 1/math.Pow(2, settings.Gravity))
	assert.Equal(t, settings.Score(1000, 1, 1000), 2/math.Pow(2, settings.Gravity))
}
