package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/gradearena/arena-api/internal/models"
)

// QuestionFilter narrows question bank queries.
type QuestionFilter struct {
	Category   *string
	Difficulty *string
}

// QuestionRepository reads from the question bank. Questions are owned by
// content management; this service only resolves and lists them.
type QuestionRepository interface {
	List(ctx context.Context, filter QuestionFilter) ([]models.Question, error)
	GetByID(ctx context.Context, id uint) (models.Question, error)
}

type questionRepository struct {
	db *gorm.DB
}

// NewQuestionRepository instantiates the repository.
func NewQuestionRepository(db *gorm.DB) QuestionRepository {
	return &questionRepository{db: db}
}

func (r *questionRepository) baseQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.Question{}).Preload("TestCases")
}

func (r *questionRepository) List(ctx context.Context, filter QuestionFilter) ([]models.Question, error) {
	query := r.baseQuery(ctx)

	if filter.Category != nil {
		query = query.Where("category = ?", *filter.Category)
	}

	if filter.Difficulty != nil {
		query = query.Where("difficulty = ?", *filter.Difficulty)
	}

	var questions []models.Question
	if err := query.Order("id ASC").Find(&questions).Error; err != nil {
		return nil, err
	}

	return questions, nil
}

func (r *questionRepository) GetByID(ctx context.Context, id uint) (models.Question, error) {
	var question models.Question
	if err := r.baseQuery(ctx).First(&question, id).Error; err != nil {
		return models.Question{}, err
	}

	return question, nil
}
