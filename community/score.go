package community

import (
	"math"
	"time"
)

// struct ranking uses the HN gravity formula:
//
//	(P + 1) / ((T + 2)^gravity)
//
// where P is the unique upvote count and T is the number of score intervals
// elapsed since submission. Scores are recomputed on every read and never
// stored, so they decay between reads with no write amplification.

type ScoreSettings struct {
	// higher gravity makes old structs lose score faster
	Gravity float64
	// the bucketing interval for elapsed time
	TimeInterval time.Duration
}

func DefaultScoreSettings() *ScoreSettings {
	return &ScoreSettings{
		Gravity:      1.1,
		TimeInterval: 7200 * time.Second,
	}
}

// pure. strictly increasing in `upvoteCount`, strictly decreasing in
// `now - submittedAt`.
func (self *ScoreSettings) Score(submittedAt int64, upvoteCount int, now int64) float64 {
	timeAgo := (float64(now) - float64(submittedAt)) / self.TimeInterval.Seconds()
	return (float64(upvoteCount) + 1) / math.Pow(timeAgo+2, self.Gravity)
}

func (self *ScoreSettings) ScoreNow(submittedAt int64, upvoteCount int) float64 {
	return self.Score(submittedAt, upvoteCount, time.Now().Unix())
}
