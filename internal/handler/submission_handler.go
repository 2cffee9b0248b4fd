package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/gradearena/arena-api/internal/dto"
	"github.com/gradearena/arena-api/internal/middleware"
	"github.com/gradearena/arena-api/internal/service"
	"github.com/gradearena/arena-api/internal/utils"
	"github.com/gradearena/arena-api/pkg/grader"
)

// SubmissionHandler exposes the submission endpoints.
type SubmissionHandler struct {
	service service.SubmissionService
	logger  zerolog.Logger
}

// NewSubmissionHandler constructs the handler.
func NewSubmissionHandler(submissionService service.SubmissionService, logger zerolog.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		service: submissionService,
		logger:  logger.With().Str("component", "submission_handler").Logger(),
	}
}

// Register wires the handler endpoints into the router group.
func (h *SubmissionHandler) Register(router fiber.Router) {
	router.Post("", h.create)
	router.Get("", h.list)
}

func (h *SubmissionHandler) create(c *fiber.Ctx) error {
	var payload dto.SubmitRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	username := middleware.GetUsername(c)
	if username == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "unauthorized")
	}

	response, err := h.service.Submit(c.UserContext(), username, payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "submission evaluated", response)
}

func (h *SubmissionHandler) list(c *fiber.Ctx) error {
	var filter dto.SubmissionFilter
	if err := c.QueryParser(&filter); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query parameters")
	}

	responses, err := h.service.List(c.UserContext(), filter)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submissions retrieved", responses)
}

func (h *SubmissionHandler) handleError(c *fiber.Ctx, err error) error {
	var (
		validationErrors validator.ValidationErrors
		evalErr          *grader.EvaluationError
	)
	switch {
	case errors.Is(err, service.ErrIdentityMissing):
		return utils.SendError(c, fiber.StatusUnauthorized, "unauthorized")
	case errors.Is(err, service.ErrQuestionNotFound):
		return utils.SendError(c, fiber.StatusBadRequest, "question not found")
	case errors.Is(err, service.ErrEmptyCode):
		return utils.SendError(c, fiber.StatusBadRequest, "submission code is empty")
	case errors.As(err, &validationErrors):
		return utils.SendError(c, fiber.StatusBadRequest, validationErrors.Error())
	case errors.As(err, &evalErr):
		return utils.SendError(c, fiber.StatusUnprocessableEntity, evalErr.Error())
	default:
		h.logger.Error().Err(err).Str("correlation_id", middleware.GetCorrelationID(c)).Msg("submission operation failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}
