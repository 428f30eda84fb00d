package scoring

import (
	"math"
	"time"
)

// HotScoreTimescaleSeconds is the recency divisor: posts this many seconds apart differ by one
// full hot score unit when their vote totals are equal.
const HotScoreTimescaleSeconds = 45000.0

// Epoch anchors the time component of the hot score. Changing it reorders every feed.
var Epoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// HotScore combines the signed logarithmic vote magnitude with linear recency.
//
//	sign(score) * log10(max(|score|, 1)) + (createdAt - Epoch)[s] / 45000
func HotScore(score int64, createdAt time.Time) float64 {
	return VoteComponent(score) + TimeComponent(createdAt)
}

// VoteComponent returns sign(score) * log10(max(|score|, 1)).
func VoteComponent(score int64) float64 {
	switch {
	case score > 0:
		return math.Log10(float64(score))
	case score < 0:
		return -math.Log10(float64(-score))
	default:
		return 0
	}
}

// TimeComponent returns the age of createdAt relative to Epoch, in timescale units.
// Millisecond precision matches the ranking contract.
func TimeComponent(createdAt time.Time) float64 {
	ageSeconds := float64(createdAt.UnixMilli()-Epoch.UnixMilli()) / 1000
	return ageSeconds / HotScoreTimescaleSeconds
}
