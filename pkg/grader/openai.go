package grader

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	llmGradingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "arena",
		Subsystem: "grader",
		Name:      "llm_grading_duration_seconds",
		Help:      "Duration of LLM rubric grading requests",
	}, []string{"model"})

	llmGradingFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arena",
		Subsystem: "grader",
		Name:      "llm_grading_failures_total",
		Help:      "Number of LLM rubric grading failures",
	}, []string{"model"})
)

// defaultJobRetention keeps terminal jobs queryable long enough for a lagging
// poller to observe the outcome, after which the job table entry is freed.
const defaultJobRetention = 5 * time.Minute

// OpenAIConfig defines configuration for the embedded LLM grader.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	JobTimeout  time.Duration
	// JobRetention bounds how long a terminal job stays queryable before
	// it is evicted from the job table.
	JobRetention time.Duration
	Logger       zerolog.Logger
}

// OpenAIGrader is an embedded grading worker that scores submissions against
// the question's rubric using an OpenAI chat model. It speaks the same
// submit/status/result protocol as an external worker: jobs run
// asynchronously in their own goroutines and are looked up by id.
type OpenAIGrader struct {
	client    *openai.Client
	cfg       OpenAIConfig
	tracer    trace.Tracer
	logger    zerolog.Logger
	retention time.Duration

	mu   sync.RWMutex
	jobs map[string]*llmJob
}

type llmJob struct {
	status  string
	message string
	result  Result
}

// NewOpenAIGrader builds the embedded grader.
func NewOpenAIGrader(cfg OpenAIConfig) (*OpenAIGrader, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 768
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 2 * time.Minute
	}
	if cfg.JobRetention <= 0 {
		cfg.JobRetention = defaultJobRetention
	}

	return &OpenAIGrader{
		client:    openai.NewClientWithConfig(openai.DefaultConfig(cfg.APIKey)),
		cfg:       cfg,
		tracer:    otel.Tracer("github.com/gradearena/arena-api/pkg/grader/openai"),
		logger:    cfg.Logger.With().Str("component", "openai_grader").Logger(),
		retention: cfg.JobRetention,
		jobs:      map[string]*llmJob{},
	}, nil
}

// Submit registers the job and starts grading in the background. The request
// context is deliberately not inherited: grading outlives the HTTP request
// that observed it, exactly like an out-of-process worker would.
func (g *OpenAIGrader) Submit(_ context.Context, job Job) (string, error) {
	if strings.TrimSpace(job.Code) == "" {
		return "", fmt.Errorf("%w: empty submission", ErrDispatch)
	}

	jobID := uuid.NewString()

	g.mu.Lock()
	g.jobs[jobID] = &llmJob{status: StatusPending}
	g.mu.Unlock()

	go g.run(jobID, job)

	return jobID, nil
}

// Status reports the job's current state.
func (g *OpenAIGrader) Status(_ context.Context, jobID string) (StatusReport, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	job, ok := g.jobs[jobID]
	if !ok {
		return StatusReport{}, &TransportError{Op: "status", Err: ErrJobNotFound}
	}

	return StatusReport{Status: job.status, Message: job.message}, nil
}

// Result returns the terminal payload of a completed job.
func (g *OpenAIGrader) Result(_ context.Context, jobID string) (Result, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	job, ok := g.jobs[jobID]
	if !ok {
		return Result{}, &TransportError{Op: "result", Err: ErrJobNotFound}
	}
	if job.status != StatusCompleted {
		return Result{}, &TransportError{Op: "result", Err: ErrResultNotReady}
	}

	return job.result, nil
}

func (g *OpenAIGrader) run(jobID string, job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.JobTimeout)
	defer cancel()

	g.setStatus(jobID, StatusRunning, "")

	result, err := g.grade(ctx, job)
	if err != nil {
		g.logger.Error().Err(err).Str("job_id", jobID).Msg("llm grading failed")
		g.fail(jobID, err.Error())
		return
	}

	g.complete(jobID, result)
}

func (g *OpenAIGrader) grade(parent context.Context, job Job) (Result, error) {
	ctx, span := g.tracer.Start(parent, "grader.openai.grade", trace.WithAttributes(
		attribute.String("model", g.cfg.Model),
		attribute.Int("question_id", int(job.QuestionID)),
	))
	defer span.End()

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.cfg.Model,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: graderSystemPrompt()},
			{Role: openai.ChatMessageRoleUser, Content: buildGradingPrompt(job)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	llmGradingDuration.WithLabelValues(g.cfg.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		llmGradingFailures.WithLabelValues(g.cfg.Model).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, fmt.Errorf("openai grade: %w", err)
	}

	if len(resp.Choices) == 0 {
		err := fmt.Errorf("no choices returned from openai")
		llmGradingFailures.WithLabelValues(g.cfg.Model).Inc()
		span.RecordError(err)
		return Result{}, err
	}

	result, err := parseGradingResponse(strings.TrimSpace(resp.Choices[0].Message.Content))
	if err != nil {
		llmGradingFailures.WithLabelValues(g.cfg.Model).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	return result, nil
}

func (g *OpenAIGrader) setStatus(jobID, status, message string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if job, ok := g.jobs[jobID]; ok {
		job.status = status
		job.message = message
	}
}

func (g *OpenAIGrader) fail(jobID, message string) {
	g.setStatus(jobID, StatusError, message)
	g.evictAfter(jobID)
}

func (g *OpenAIGrader) complete(jobID string, result Result) {
	g.mu.Lock()
	if job, ok := g.jobs[jobID]; ok {
		job.status = StatusCompleted
		job.result = result
	}
	g.mu.Unlock()

	g.evictAfter(jobID)
}

// evictAfter drops the job once its retention window elapses so the job
// table does not grow with every submission for the life of the process.
func (g *OpenAIGrader) evictAfter(jobID string) {
	time.AfterFunc(g.retention, func() {
		g.mu.Lock()
		delete(g.jobs, jobID)
		g.mu.Unlock()
	})
}

func graderSystemPrompt() string {
	return "You are an automated grader. Score the submission against the rubric on a 0-100 scale. " +
		"Respond with a JSON object containing score (0-100), feedback (string), and an optional criteria object " +
		"mapping rubric criterion names to {points_awarded, max_points, feedback}."
}

func buildGradingPrompt(job Job) string {
	builder := strings.Builder{}
	builder.WriteString("# Rubric\n")
	builder.WriteString(job.Rubric)
	builder.WriteString("\n\n## Language\n")
	builder.WriteString(job.Language)
	builder.WriteString("\n\n## Submission\n")
	builder.WriteString(job.Code)
	if job.ModelSolution != "" {
		builder.WriteString("\n\n## Reference Solution\n")
		builder.WriteString(job.ModelSolution)
	}
	builder.WriteString("\nReturn JSON.")
	return builder.String()
}

func parseGradingResponse(content string) (Result, error) {
	var payload struct {
		Score    float64                      `json:"score"`
		Feedback string                       `json:"feedback"`
		Criteria map[string]CriterionFeedback `json:"criteria"`
	}
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return Result{}, fmt.Errorf("parse grading json: %w", err)
	}

	if payload.Score < 0 {
		payload.Score = 0
	}
	if payload.Score > 100 {
		payload.Score = 100
	}

	return Result{
		Score:    int(math.Round(payload.Score)),
		MaxScore: 100,
		Feedback: payload.Feedback,
		Criteria: payload.Criteria,
	}, nil
}
