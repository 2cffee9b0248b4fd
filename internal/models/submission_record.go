package models

import (
	"time"

	"gorm.io/datatypes"
)

// SubmissionRecord statuses. Records are only written after the evaluation
// reached a terminal outcome or the polling budget was exhausted.
const (
	SubmissionStatusCompleted  = "completed"
	SubmissionStatusProcessing = "processing"
)

// SubmissionRecord is the durable outcome of one evaluated submission.
// Records are append-only: never updated, never deleted. All ranking state is
// derived from the full set of records, so immutability here is what makes
// leaderboard recomputation idempotent.
type SubmissionRecord struct {
	ID                 uint              `gorm:"primaryKey" json:"id"`
	Username           string            `gorm:"size:128;not null;index" json:"username"`
	QuestionID         uint              `gorm:"not null;index" json:"question_id"`
	Code               string            `gorm:"type:text;not null" json:"code"`
	SelfScore          int               `gorm:"not null" json:"self_score"`
	GraderScore        int               `gorm:"not null" json:"grader_score"`
	AbsoluteDifference int               `gorm:"not null" json:"absolute_difference"`
	QuestionDifficulty string            `gorm:"size:16;not null" json:"question_difficulty"`
	MaxScore           int               `gorm:"not null;default:100" json:"max_score"`
	Feedback           string            `gorm:"type:text" json:"feedback"`
	FeedbackDetails    datatypes.JSONMap `json:"feedback_details"`
	Status             string            `gorm:"size:32;not null" json:"status"`
	JobID              string            `gorm:"size:64" json:"job_id"`
	SubmittedAt        time.Time         `gorm:"not null;index" json:"submitted_at"`
	CreatedAt          time.Time         `json:"created_at"`
}

// IsCompleted reports whether the grader reached a terminal result.
func (r SubmissionRecord) IsCompleted() bool {
	return r.Status == SubmissionStatusCompleted
}
