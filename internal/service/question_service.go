package service

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/gradearena/arena-api/internal/dto"
	"github.com/gradearena/arena-api/internal/repository"
)

// QuestionService exposes the read-only question bank.
type QuestionService interface {
	List(ctx context.Context, filter dto.QuestionFilter) ([]dto.QuestionResponse, error)
	GetByID(ctx context.Context, id uint) (dto.QuestionResponse, error)
}

type questionService struct {
	questions repository.QuestionRepository
	validator *validator.Validate
	logger    zerolog.Logger
}

func NewQuestionService(questions repository.QuestionRepository, validate *validator.Validate, logger zerolog.Logger) QuestionService {
	return &questionService{
		questions: questions,
		validator: validate,
		logger:    logger.With().Str("component", "question_service").Logger(),
	}
}

func (s *questionService) List(ctx context.Context, filter dto.QuestionFilter) ([]dto.QuestionResponse, error) {
	if err := s.validator.Struct(filter); err != nil {
		return nil, err
	}

	questions, err := s.questions.List(ctx, repository.QuestionFilter{
		Category:   filter.Category,
		Difficulty: filter.Difficulty,
	})
	if err != nil {
		return nil, err
	}

	return dto.NewQuestionResponses(questions), nil
}

func (s *questionService) GetByID(ctx context.Context, id uint) (dto.QuestionResponse, error) {
	question, err := s.questions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.QuestionResponse{}, ErrQuestionNotFound
		}
		return dto.QuestionResponse{}, err
	}
	return dto.NewQuestionResponse(question), nil
}
