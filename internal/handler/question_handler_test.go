package handler_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/gradearena/arena-api/internal/dto"
	"github.com/gradearena/arena-api/internal/handler"
	"github.com/gradearena/arena-api/internal/service"
)

type mockQuestionService struct {
	lastFilter dto.QuestionFilter
	questions  []dto.QuestionResponse
	err        error
}

func (m *mockQuestionService) List(_ context.Context, filter dto.QuestionFilter) ([]dto.QuestionResponse, error) {
	m.lastFilter = filter
	if m.err != nil {
		return nil, m.err
	}
	return m.questions, nil
}

func (m *mockQuestionService) GetByID(context.Context, uint) (dto.QuestionResponse, error) {
	if m.err != nil {
		return dto.QuestionResponse{}, m.err
	}
	return m.questions[0], nil
}

func newQuestionApp(svc service.QuestionService) *fiber.App {
	app := fiber.New()
	handler.NewQuestionHandler(svc, zerolog.New(io.Discard)).Register(app.Group("/api/v1/questions"))
	return app
}

func TestQuestionHandler_ListWithFilters(t *testing.T) {
	svc := &mockQuestionService{questions: []dto.QuestionResponse{{ID: 1, Title: "Two Sum"}}}
	app := newQuestionApp(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/questions?difficulty=Hard&category=arrays", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	require.NotNil(t, svc.lastFilter.Difficulty)
	require.Equal(t, "Hard", *svc.lastFilter.Difficulty)
	require.NotNil(t, svc.lastFilter.Category)
	require.Equal(t, "arrays", *svc.lastFilter.Category)
}

func TestQuestionHandler_GetNotFound(t *testing.T) {
	svc := &mockQuestionService{err: service.ErrQuestionNotFound}
	app := newQuestionApp(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/questions/42", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestQuestionHandler_GetInvalidID(t *testing.T) {
	svc := &mockQuestionService{questions: []dto.QuestionResponse{{ID: 1}}}
	app := newQuestionApp(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/questions/zero", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
