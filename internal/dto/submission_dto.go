package dto

import (
	"time"

	"github.com/gradearena/arena-api/internal/models"
)

// SubmitRequest is the payload for creating a submission. Identity comes
// from the session token, never from the body.
type SubmitRequest struct {
	Code       string `json:"code" validate:"required"`
	QuestionID uint   `json:"question_id" validate:"required,gt=0"`
	SelfScore  int    `json:"self_score" validate:"gte=0,lte=100"`
	Language   string `json:"language" validate:"omitempty,max=32"`
}

// SubmissionFilter describes query string filters for listing records.
type SubmissionFilter struct {
	QuestionID *uint `query:"question_id"`
}

// SubmissionResponse is returned to API clients when viewing records.
type SubmissionResponse struct {
	ID                 uint                   `json:"id"`
	Username           string                 `json:"username"`
	QuestionID         uint                   `json:"question_id"`
	SelfScore          int                    `json:"self_score"`
	GraderScore        int                    `json:"grader_score"`
	AbsoluteDifference int                    `json:"absolute_difference"`
	QuestionDifficulty string                 `json:"question_difficulty"`
	MaxScore           int                    `json:"max_score"`
	Feedback           string                 `json:"feedback"`
	FeedbackDetails    map[string]interface{} `json:"feedback_details,omitempty"`
	Status             string                 `json:"status"`
	SubmittedAt        time.Time              `json:"submitted_at"`
}

// NewSubmissionResponse maps a record onto its API shape.
func NewSubmissionResponse(record models.SubmissionRecord) SubmissionResponse {
	return SubmissionResponse{
		ID:                 record.ID,
		Username:           record.Username,
		QuestionID:         record.QuestionID,
		SelfScore:          record.SelfScore,
		GraderScore:        record.GraderScore,
		AbsoluteDifference: record.AbsoluteDifference,
		QuestionDifficulty: record.QuestionDifficulty,
		MaxScore:           record.MaxScore,
		Feedback:           record.Feedback,
		FeedbackDetails:    record.FeedbackDetails,
		Status:             record.Status,
		SubmittedAt:        record.SubmittedAt,
	}
}

// NewSubmissionResponses maps a slice of records.
func NewSubmissionResponses(records []models.SubmissionRecord) []SubmissionResponse {
	responses := make([]SubmissionResponse, 0, len(records))
	for _, record := range records {
		responses = append(responses, NewSubmissionResponse(record))
	}
	return responses
}
