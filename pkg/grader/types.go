// Package grader defines the protocol this service speaks with grading
// workers: submit a job, poll its status, fetch the result once terminal.
// The worker itself is a black box; everything here treats it through the
// Service interface so implementations can be swapped (external HTTP worker,
// embedded LLM grader, docker sandbox).
package grader

import (
	"context"
	"errors"
	"fmt"
)

// Job statuses reported by a grading worker. Completed and Errored are
// terminal; polling stops once either is observed.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusError     = "error"
)

// ErrDispatch indicates the worker rejected or was unreachable at submit time.
var ErrDispatch = errors.New("grading worker dispatch failed")

// ErrJobNotFound indicates the worker does not know the job id.
var ErrJobNotFound = errors.New("grading job not found")

// ErrResultNotReady indicates a result was requested before the job completed.
var ErrResultNotReady = errors.New("grading result not ready")

// Job carries everything a worker needs to grade one submission.
type Job struct {
	QuestionID    uint
	Code          string
	Language      string
	Rubric        string
	ModelSolution string
	TestCases     []TestCase
}

// TestCase is an input/expected-output pair for execution-based graders.
type TestCase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
}

// StatusReport is the worker's answer to a status query.
type StatusReport struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Terminal reports whether polling should stop.
func (r StatusReport) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusError
}

// CriterionFeedback is one rubric criterion's share of a structured result.
type CriterionFeedback struct {
	PointsAwarded int    `json:"points_awarded"`
	MaxPoints     int    `json:"max_points"`
	Feedback      string `json:"feedback"`
}

// TestResult is the outcome of a single test case run by the worker.
type TestResult struct {
	TestCase string `json:"test_case"`
	Passed   bool   `json:"passed"`
	Output   string `json:"output"`
	Expected string `json:"expected"`
}

// Result is the terminal payload of a completed grading job.
type Result struct {
	Score       int                          `json:"score"`
	MaxScore    int                          `json:"max_score"`
	Feedback    string                       `json:"feedback"`
	Criteria    map[string]CriterionFeedback `json:"criteria,omitempty"`
	TestResults []TestResult                 `json:"test_results,omitempty"`
}

// Service is the grading-worker capability consumed by the orchestration
// layer. Implementations must allow concurrent calls for distinct jobs.
type Service interface {
	Submit(ctx context.Context, job Job) (string, error)
	Status(ctx context.Context, jobID string) (StatusReport, error)
	Result(ctx context.Context, jobID string) (Result, error)
}

// EvaluationError reports an explicit failure from the grading worker,
// carrying the worker-provided message.
type EvaluationError struct {
	Message string
}

func (e *EvaluationError) Error() string {
	if e.Message == "" {
		return "grading worker reported failure"
	}
	return fmt.Sprintf("grading worker reported failure: %s", e.Message)
}

// TransportError wraps a failed status or result query. Transport failures
// abort a poll immediately; only "not yet ready" statuses are retried.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("grader %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
