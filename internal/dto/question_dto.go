package dto

import (
	"time"

	"github.com/gradearena/arena-api/internal/models"
)

// QuestionFilter describes query string filters for listing questions.
type QuestionFilter struct {
	Category   *string `query:"category"`
	Difficulty *string `query:"difficulty" validate:"omitempty,oneof=Easy Medium Hard"`
}

// QuestionResponse is the learner-facing view of a question. The rubric and
// model solution stay server-side.
type QuestionResponse struct {
	ID          uint      `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Difficulty  string    `json:"difficulty"`
	Category    string    `json:"category"`
	TestCases   int       `json:"test_cases"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewQuestionResponse maps a question onto its learner-facing shape.
func NewQuestionResponse(question models.Question) QuestionResponse {
	return QuestionResponse{
		ID:          question.ID,
		Title:       question.Title,
		Description: question.Description,
		Difficulty:  question.Difficulty,
		Category:    question.Category,
		TestCases:   len(question.TestCases),
		CreatedAt:   question.CreatedAt,
	}
}

// NewQuestionResponses maps a slice of questions.
func NewQuestionResponses(questions []models.Question) []QuestionResponse {
	responses := make([]QuestionResponse, 0, len(questions))
	for _, question := range questions {
		responses = append(responses, NewQuestionResponse(question))
	}
	return responses
}
