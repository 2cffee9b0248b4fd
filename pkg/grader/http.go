package grader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	workerRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "arena",
		Subsystem: "grader",
		Name:      "worker_request_duration_seconds",
		Help:      "Duration of requests to the external grading worker",
	}, []string{"operation"})

	workerRequestFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arena",
		Subsystem: "grader",
		Name:      "worker_request_failures_total",
		Help:      "Failed requests to the external grading worker",
	}, []string{"operation"})
)

// Workers report heterogeneous result shapes; everything we rely on is pinned
// down here and checked before decoding.
const resultSchemaJSON = `{
	"type": "object",
	"required": ["score"],
	"properties": {
		"score": {"type": "number", "minimum": 0},
		"max_score": {"type": "number", "exclusiveMinimum": 0},
		"feedback": {"type": ["string", "object"]},
		"test_results": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["passed"],
				"properties": {
					"test_case": {"type": "string"},
					"passed": {"type": "boolean"},
					"output": {"type": "string"},
					"expected": {"type": "string"}
				}
			}
		}
	}
}`

// HTTPConfig configures the client for an external grading worker.
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Logger  zerolog.Logger
}

// HTTPClient implements Service against the grading worker's HTTP protocol:
// POST {base}/submit, GET {base}/status/{id}, GET {base}/results/{id}.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	schema  *jsonschema.Schema
	tracer  trace.Tracer
	logger  zerolog.Logger
}

// NewHTTPClient builds a client for the worker at the configured base URL.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("grader base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	schema, err := jsonschema.CompileString("grader-result.json", resultSchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compile result schema: %w", err)
	}

	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
		schema:  schema,
		tracer:  otel.Tracer("github.com/gradearena/arena-api/pkg/grader"),
		logger:  cfg.Logger.With().Str("component", "grader_http_client").Logger(),
	}, nil
}

type submitPayload struct {
	ProblemID uint   `json:"problem_id"`
	Code      string `json:"code"`
	Language  string `json:"language"`
}

type submitResponse struct {
	JobID        string `json:"job_id"`
	SubmissionID string `json:"submission_id"`
}

// Submit dispatches the job to the worker and returns its job id. Any
// failure here wraps ErrDispatch.
func (c *HTTPClient) Submit(parent context.Context, job Job) (string, error) {
	ctx, span := c.tracer.Start(parent, "grader.submit", trace.WithAttributes(
		attribute.Int("question_id", int(job.QuestionID)),
	))
	defer span.End()

	body, err := json.Marshal(submitPayload{
		ProblemID: job.QuestionID,
		Code:      job.Code,
		Language:  job.Language,
	})
	if err != nil {
		return "", fmt.Errorf("%w: encode payload: %v", ErrDispatch, err)
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/submit", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDispatch, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.client.Do(req)
	workerRequestDuration.WithLabelValues("submit").Observe(time.Since(start).Seconds())
	if err != nil {
		workerRequestFailures.WithLabelValues("submit").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("%w: %v", ErrDispatch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		workerRequestFailures.WithLabelValues("submit").Inc()
		message := readErrorBody(resp.Body)
		span.SetStatus(codes.Error, message)
		return "", fmt.Errorf("%w: worker returned %d: %s", ErrDispatch, resp.StatusCode, message)
	}

	var decoded submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		workerRequestFailures.WithLabelValues("submit").Inc()
		return "", fmt.Errorf("%w: decode response: %v", ErrDispatch, err)
	}

	jobID := decoded.JobID
	if jobID == "" {
		jobID = decoded.SubmissionID
	}
	if jobID == "" {
		return "", fmt.Errorf("%w: worker returned no job id", ErrDispatch)
	}

	span.SetAttributes(attribute.String("job_id", jobID))
	return jobID, nil
}

// Status queries the worker for the job's current state.
func (c *HTTPClient) Status(parent context.Context, jobID string) (StatusReport, error) {
	ctx, span := c.tracer.Start(parent, "grader.status", trace.WithAttributes(
		attribute.String("job_id", jobID),
	))
	defer span.End()

	var report StatusReport
	if err := c.getJSON(ctx, "status", c.baseURL+"/status/"+jobID, &report); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return StatusReport{}, err
	}

	return report, nil
}

// Result fetches and validates the terminal payload of a completed job.
func (c *HTTPClient) Result(parent context.Context, jobID string) (Result, error) {
	ctx, span := c.tracer.Start(parent, "grader.result", trace.WithAttributes(
		attribute.String("job_id", jobID),
	))
	defer span.End()

	raw, err := c.getBody(ctx, "result", c.baseURL+"/results/"+jobID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	result, err := decodeResult(c.schema, raw)
	if err != nil {
		workerRequestFailures.WithLabelValues("result").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, &TransportError{Op: "result", Err: err}
	}

	return result, nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *HTTPClient) getJSON(ctx context.Context, op, url string, target interface{}) error {
	raw, err := c.getBody(ctx, op, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, target); err != nil {
		workerRequestFailures.WithLabelValues(op).Inc()
		return &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *HTTPClient) getBody(ctx context.Context, op, url string) ([]byte, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.client.Do(req)
	workerRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		workerRequestFailures.WithLabelValues(op).Inc()
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		workerRequestFailures.WithLabelValues(op).Inc()
		return nil, &TransportError{Op: op, Err: ErrJobNotFound}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		workerRequestFailures.WithLabelValues(op).Inc()
		return nil, &TransportError{Op: op, Err: fmt.Errorf("worker returned %d: %s", resp.StatusCode, readErrorBody(resp.Body))}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		workerRequestFailures.WithLabelValues(op).Inc()
		return nil, &TransportError{Op: op, Err: err}
	}
	return raw, nil
}

func decodeResult(schema *jsonschema.Schema, raw []byte) (Result, error) {
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return Result{}, fmt.Errorf("decode result: %w", err)
	}
	if err := schema.Validate(generic); err != nil {
		return Result{}, fmt.Errorf("result payload failed schema validation: %w", err)
	}

	var payload struct {
		Score       float64         `json:"score"`
		MaxScore    float64         `json:"max_score"`
		Feedback    json.RawMessage `json:"feedback"`
		TestResults []TestResult    `json:"test_results"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Result{}, fmt.Errorf("decode result: %w", err)
	}

	result := Result{
		Score:       int(math.Round(payload.Score)),
		MaxScore:    int(math.Round(payload.MaxScore)),
		TestResults: payload.TestResults,
	}
	if result.MaxScore <= 0 {
		result.MaxScore = 100
	}

	// Workers report feedback either as plain text or as a per-criterion map.
	if len(payload.Feedback) > 0 {
		var text string
		if err := json.Unmarshal(payload.Feedback, &text); err == nil {
			result.Feedback = text
		} else {
			var criteria map[string]CriterionFeedback
			if err := json.Unmarshal(payload.Feedback, &criteria); err == nil {
				result.Criteria = criteria
			}
		}
	}

	return result, nil
}

func readErrorBody(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 2048))
	if err != nil {
		return "unreadable error body"
	}

	var detail struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &detail); err == nil {
		switch {
		case detail.Detail != "":
			return detail.Detail
		case detail.Message != "":
			return detail.Message
		case detail.Error != "":
			return detail.Error
		}
	}

	return strings.TrimSpace(string(raw))
}
