// Package scoring converts raw (self, grader) score pairs into a single
// comparable metric. Every function here is deterministic and side-effect
// free; leaderboard snapshots depend on that.
package scoring

import (
	"math"

	"github.com/gradearena/arena-api/internal/models"
)

// DefaultMaxScore is used when a grader does not report its own scale.
const DefaultMaxScore = 100

// Multiplier returns the difficulty weight applied to accuracy. Unknown
// difficulty values fall back to the Easy weight.
func Multiplier(difficulty string) int {
	switch difficulty {
	case models.DifficultyHard:
		return 3
	case models.DifficultyMedium:
		return 2
	default:
		return 1
	}
}

// Normalize computes the comparable score for a submission. Scores are
// clamped to [0, maxScore] first; a non-positive maxScore falls back to
// DefaultMaxScore.
func Normalize(selfScore, graderScore int, difficulty string, maxScore int) int {
	if maxScore <= 0 {
		maxScore = DefaultMaxScore
	}

	diff := PointDifference(selfScore, graderScore, maxScore)
	accuracy := AccuracyScore(diff, maxScore)

	return int(math.Round(accuracy * float64(Multiplier(difficulty))))
}

// PointDifference returns |selfScore - graderScore| after clamping both
// inputs to the grader's scale.
func PointDifference(selfScore, graderScore, maxScore int) int {
	if maxScore <= 0 {
		maxScore = DefaultMaxScore
	}

	diff := clamp(selfScore, maxScore) - clamp(graderScore, maxScore)
	if diff < 0 {
		diff = -diff
	}
	return diff
}

// AccuracyScore maps a point difference onto [0, 100]: a perfect match is
// 100, a full-scale miss is 0.
func AccuracyScore(pointDifference, maxScore int) float64 {
	if maxScore <= 0 {
		maxScore = DefaultMaxScore
	}

	accuracy := 100 - (float64(pointDifference)/float64(maxScore))*100
	if accuracy < 0 {
		return 0
	}
	return accuracy
}

func clamp(score, maxScore int) int {
	if score < 0 {
		return 0
	}
	if score > maxScore {
		return maxScore
	}
	return score
}
