package models

import "time"

// Question difficulty levels, weighted by the score normalizer.
const (
	DifficultyEasy   = "Easy"
	DifficultyMedium = "Medium"
	DifficultyHard   = "Hard"
)

// Question is a read-only reference entity from the question bank. Content
// management creates and maintains questions; this service never mutates them.
type Question struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	Title         string     `gorm:"size:255;not null" json:"title"`
	Description   string     `gorm:"type:text" json:"description"`
	Difficulty    string     `gorm:"size:16;not null;default:Easy" json:"difficulty"`
	Category      string     `gorm:"size:64;index" json:"category"`
	Rubric        string     `gorm:"type:text" json:"rubric"`
	ModelSolution string     `gorm:"type:text" json:"model_solution"`
	TestCases     []TestCase `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"test_cases"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TestCase holds a single input/expected-output pair used by the sandbox grader.
type TestCase struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	QuestionID     uint   `gorm:"not null;index" json:"question_id"`
	Input          string `gorm:"type:text" json:"input"`
	ExpectedOutput string `gorm:"type:text" json:"expected_output"`
}

// ValidDifficulty reports whether the value is one of the known levels.
func ValidDifficulty(value string) bool {
	switch value {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}
