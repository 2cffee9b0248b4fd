package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/gradearena/arena-api/internal/dto"
	"github.com/gradearena/arena-api/internal/models"
	"github.com/gradearena/arena-api/internal/observability"
	"github.com/gradearena/arena-api/internal/repository"
	"github.com/gradearena/arena-api/internal/scoring"
	"github.com/gradearena/arena-api/pkg/grader"
)

// SubmissionService orchestrates the full submission lifecycle:
// validate, dispatch to the grading worker, poll to a terminal outcome,
// normalize the score signals, and append the finalized record.
type SubmissionService interface {
	Submit(ctx context.Context, username string, payload dto.SubmitRequest) (dto.SubmissionResponse, error)
	List(ctx context.Context, filter dto.SubmissionFilter) ([]dto.SubmissionResponse, error)
}

// ErrIdentityMissing indicates the caller has no authenticated identity.
var ErrIdentityMissing = errors.New("identity missing")

// ErrQuestionNotFound indicates the submitted question id does not resolve.
var ErrQuestionNotFound = errors.New("question not found")

// ErrEmptyCode indicates the submission body carried no code.
var ErrEmptyCode = errors.New("submission code is empty")

// GradedEvent is published after every appended record so leaderboard
// consumers can refresh.
type GradedEvent struct {
	Username   string    `json:"username"`
	QuestionID uint      `json:"question_id"`
	RecordID   uint      `json:"record_id"`
	Status     string    `json:"status"`
	GradedAt   time.Time `json:"graded_at"`
}

const processingFeedback = "Evaluation is still in progress. Please check back later."

type submissionService struct {
	submissions     repository.SubmissionRepository
	questions       repository.QuestionRepository
	grader          grader.Service
	poller          *grader.Poller
	validator       *validator.Validate
	sanitizer       *bluemonday.Policy
	nats            *nats.Conn
	gradedSubject   string
	defaultLanguage string
	logger          zerolog.Logger
	now             func() time.Time
}

// NewSubmissionService wires the orchestration pipeline. All collaborators
// are injected; there are no module-level service singletons.
func NewSubmissionService(submissions repository.SubmissionRepository, questions repository.QuestionRepository, gradingService grader.Service, poller *grader.Poller, validate *validator.Validate, natsConn *nats.Conn, gradedSubject string, logger zerolog.Logger) SubmissionService {
	return &submissionService{
		submissions:     submissions,
		questions:       questions,
		grader:          gradingService,
		poller:          poller,
		validator:       validate,
		sanitizer:       bluemonday.StrictPolicy(),
		nats:            natsConn,
		gradedSubject:   gradedSubject,
		defaultLanguage: "python",
		logger:          logger.With().Str("component", "submission_service").Logger(),
		now:             time.Now,
	}
}

func (s *submissionService) Submit(ctx context.Context, username string, payload dto.SubmitRequest) (dto.SubmissionResponse, error) {
	username = NormalizeUsername(username)
	if username == "" {
		return dto.SubmissionResponse{}, ErrIdentityMissing
	}

	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmissionResponse{}, err
	}
	if strings.TrimSpace(payload.Code) == "" {
		return dto.SubmissionResponse{}, ErrEmptyCode
	}

	question, err := s.questions.GetByID(ctx, payload.QuestionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionResponse{}, ErrQuestionNotFound
		}
		return dto.SubmissionResponse{}, err
	}

	language := strings.ToLower(strings.TrimSpace(payload.Language))
	if language == "" {
		language = s.defaultLanguage
	}

	job := grader.Job{
		QuestionID:    question.ID,
		Code:          payload.Code,
		Language:      language,
		Rubric:        question.Rubric,
		ModelSolution: question.ModelSolution,
		TestCases:     jobTestCases(question.TestCases),
	}

	submittedAt := s.now()

	jobID, err := s.grader.Submit(ctx, job)
	if err != nil {
		observability.SubmissionOutcomes().WithLabelValues("dispatch_error").Inc()
		return dto.SubmissionResponse{}, err
	}

	s.logger.Info().
		Str("username", username).
		Uint("question_id", question.ID).
		Str("job_id", jobID).
		Msg("submission dispatched")

	outcome, err := s.poller.Poll(ctx, s.grader, jobID)
	if err != nil {
		var evalErr *grader.EvaluationError
		if errors.As(err, &evalErr) {
			evalErr.Message = s.sanitize(evalErr.Message)
			observability.SubmissionOutcomes().WithLabelValues("evaluation_error").Inc()
			return dto.SubmissionResponse{}, evalErr
		}
		observability.SubmissionOutcomes().WithLabelValues("transport_error").Inc()
		return dto.SubmissionResponse{}, err
	}

	record := s.buildRecord(username, question, payload, jobID, submittedAt, outcome)
	if err := s.submissions.Append(ctx, &record); err != nil {
		observability.SubmissionOutcomes().WithLabelValues("store_error").Inc()
		return dto.SubmissionResponse{}, fmt.Errorf("append submission record: %w", err)
	}

	observability.SubmissionOutcomes().WithLabelValues(record.Status).Inc()
	s.publishGraded(record)

	return dto.NewSubmissionResponse(record), nil
}

func (s *submissionService) List(ctx context.Context, filter dto.SubmissionFilter) ([]dto.SubmissionResponse, error) {
	var (
		records []models.SubmissionRecord
		err     error
	)

	if filter.QuestionID != nil {
		records, err = s.submissions.ListByQuestion(ctx, *filter.QuestionID)
	} else {
		records, err = s.submissions.ListAll(ctx)
	}
	if err != nil {
		return nil, err
	}

	return dto.NewSubmissionResponses(records), nil
}

// buildRecord folds the poll outcome into an immutable record. Processing
// outcomes are appended too: the user is told to check back later, and the
// record keeps the job id so a later submission flow can be correlated.
func (s *submissionService) buildRecord(username string, question models.Question, payload dto.SubmitRequest, jobID string, submittedAt time.Time, outcome grader.Outcome) models.SubmissionRecord {
	record := models.SubmissionRecord{
		Username:           username,
		QuestionID:         question.ID,
		Code:               payload.Code,
		SelfScore:          payload.SelfScore,
		QuestionDifficulty: question.Difficulty,
		JobID:              jobID,
		SubmittedAt:        submittedAt,
	}

	if outcome.Processing {
		record.Status = models.SubmissionStatusProcessing
		record.MaxScore = scoring.DefaultMaxScore
		record.Feedback = processingFeedback
		record.AbsoluteDifference = scoring.PointDifference(payload.SelfScore, 0, record.MaxScore)
		return record
	}

	result := outcome.Result
	record.Status = models.SubmissionStatusCompleted
	record.GraderScore = result.Score
	record.MaxScore = result.MaxScore
	if record.MaxScore <= 0 {
		record.MaxScore = scoring.DefaultMaxScore
	}
	record.AbsoluteDifference = scoring.PointDifference(payload.SelfScore, result.Score, record.MaxScore)
	record.Feedback = s.formatFeedback(result)
	record.FeedbackDetails = feedbackDetails(result)

	return record
}

// formatFeedback flattens the worker's heterogeneous feedback shapes into a
// single sanitized text block.
func (s *submissionService) formatFeedback(result grader.Result) string {
	if result.Feedback != "" {
		return s.sanitize(result.Feedback)
	}

	if len(result.Criteria) > 0 {
		names := make([]string, 0, len(result.Criteria))
		for name := range result.Criteria {
			names = append(names, name)
		}
		sort.Strings(names)

		parts := make([]string, 0, len(names))
		for _, name := range names {
			criterion := result.Criteria[name]
			parts = append(parts, fmt.Sprintf("Criterion %s:\nPoints: %d/%d\n%s", name, criterion.PointsAwarded, criterion.MaxPoints, s.sanitize(criterion.Feedback)))
		}
		return strings.Join(parts, "\n\n")
	}

	return "No feedback available"
}

func (s *submissionService) sanitize(text string) string {
	return strings.TrimSpace(s.sanitizer.Sanitize(text))
}

func (s *submissionService) publishGraded(record models.SubmissionRecord) {
	if s.nats == nil || s.gradedSubject == "" {
		return
	}

	payload, err := json.Marshal(GradedEvent{
		Username:   record.Username,
		QuestionID: record.QuestionID,
		RecordID:   record.ID,
		Status:     record.Status,
		GradedAt:   s.now(),
	})
	if err != nil {
		return
	}

	if err := s.nats.Publish(s.gradedSubject, payload); err != nil {
		s.logger.Warn().Err(err).Msg("failed to publish graded event")
	}
}

func feedbackDetails(result grader.Result) datatypes.JSONMap {
	details := datatypes.JSONMap{}

	if len(result.Criteria) > 0 {
		criteria := map[string]interface{}{}
		for name, criterion := range result.Criteria {
			criteria[name] = map[string]interface{}{
				"points_awarded": criterion.PointsAwarded,
				"max_points":     criterion.MaxPoints,
				"feedback":       criterion.Feedback,
			}
		}
		details["criteria"] = criteria
	}

	if len(result.TestResults) > 0 {
		tests := make([]interface{}, 0, len(result.TestResults))
		for _, test := range result.TestResults {
			tests = append(tests, map[string]interface{}{
				"test_case": test.TestCase,
				"passed":    test.Passed,
			})
		}
		details["test_results"] = tests
	}

	if len(details) == 0 {
		return nil
	}
	return details
}

func jobTestCases(testCases []models.TestCase) []grader.TestCase {
	cases := make([]grader.TestCase, 0, len(testCases))
	for _, testCase := range testCases {
		cases = append(cases, grader.TestCase{
			Input:          testCase.Input,
			ExpectedOutput: testCase.ExpectedOutput,
		})
	}
	return cases
}

// NormalizeUsername strips the domain part from e-mail style identities so
// leaderboard names stay short.
func NormalizeUsername(username string) string {
	username = strings.TrimSpace(username)
	if at := strings.Index(username, "@"); at > 0 {
		username = username[:at]
	}
	return username
}
