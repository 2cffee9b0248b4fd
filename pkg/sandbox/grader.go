package sandbox

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gradearena/arena-api/pkg/grader"
)

// defaultJobRetention keeps terminal jobs queryable long enough for a lagging
// poller to observe the outcome, after which the job table entry is freed.
const defaultJobRetention = 5 * time.Minute

// GraderConfig bounds each sandboxed grading job.
type GraderConfig struct {
	RunTimeout    time.Duration
	MemoryLimitMB int64
	CPUShares     int64
	WorkspaceRoot string
	// JobRetention bounds how long a terminal job stays queryable before
	// it is evicted from the job table.
	JobRetention time.Duration
}

// Grader runs submissions against a question's test cases inside docker
// containers and exposes the results through the standard grading-worker
// protocol. Each job executes asynchronously in its own goroutine.
type Grader struct {
	runner Runner
	cfg    GraderConfig
	logger zerolog.Logger

	mu   sync.RWMutex
	jobs map[string]*sandboxJob
}

type sandboxJob struct {
	status  string
	message string
	result  grader.Result
}

// NewGrader constructs a sandbox-backed grading worker.
func NewGrader(runner Runner, cfg GraderConfig, logger zerolog.Logger) *Grader {
	if cfg.WorkspaceRoot == "" {
		cfg.WorkspaceRoot = os.TempDir()
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 5 * time.Second
	}
	if cfg.JobRetention <= 0 {
		cfg.JobRetention = defaultJobRetention
	}

	return &Grader{
		runner: runner,
		cfg:    cfg,
		logger: logger.With().Str("component", "sandbox_grader").Logger(),
		jobs:   map[string]*sandboxJob{},
	}
}

// Submit validates the job, registers it, and starts grading in the
// background. The request context is not inherited: runs outlive the request
// that dispatched them, like any out-of-process worker.
func (g *Grader) Submit(_ context.Context, job grader.Job) (string, error) {
	if strings.TrimSpace(job.Code) == "" {
		return "", fmt.Errorf("%w: empty submission", grader.ErrDispatch)
	}

	wrapper, ok := ForLanguage(job.Language)
	if !ok {
		return "", fmt.Errorf("%w: unsupported language %q", grader.ErrDispatch, job.Language)
	}

	jobID := uuid.NewString()

	g.mu.Lock()
	g.jobs[jobID] = &sandboxJob{status: grader.StatusPending}
	g.mu.Unlock()

	go g.run(jobID, wrapper, job)

	return jobID, nil
}

// Status reports the job's current state.
func (g *Grader) Status(_ context.Context, jobID string) (grader.StatusReport, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	job, ok := g.jobs[jobID]
	if !ok {
		return grader.StatusReport{}, &grader.TransportError{Op: "status", Err: grader.ErrJobNotFound}
	}

	return grader.StatusReport{Status: job.status, Message: job.message}, nil
}

// Result returns the terminal payload of a completed job.
func (g *Grader) Result(_ context.Context, jobID string) (grader.Result, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	job, ok := g.jobs[jobID]
	if !ok {
		return grader.Result{}, &grader.TransportError{Op: "result", Err: grader.ErrJobNotFound}
	}
	if job.status != grader.StatusCompleted {
		return grader.Result{}, &grader.TransportError{Op: "result", Err: grader.ErrResultNotReady}
	}

	return job.result, nil
}

func (g *Grader) run(jobID string, wrapper CodeWrapper, job grader.Job) {
	g.setStatus(jobID, grader.StatusRunning, "")

	result, err := g.grade(wrapper, job)
	if err != nil {
		g.logger.Error().Err(err).Str("job_id", jobID).Msg("sandbox grading failed")
		g.setStatus(jobID, grader.StatusError, err.Error())
		g.evictAfter(jobID)
		return
	}

	g.mu.Lock()
	if state, ok := g.jobs[jobID]; ok {
		state.status = grader.StatusCompleted
		state.result = result
	}
	g.mu.Unlock()

	g.evictAfter(jobID)
}

// evictAfter drops the job once its retention window elapses so the job
// table does not grow with every submission for the life of the process.
func (g *Grader) evictAfter(jobID string) {
	time.AfterFunc(g.cfg.JobRetention, func() {
		g.mu.Lock()
		delete(g.jobs, jobID)
		g.mu.Unlock()
	})
}

func (g *Grader) grade(wrapper CodeWrapper, job grader.Job) (grader.Result, error) {
	workspace, err := os.MkdirTemp(g.cfg.WorkspaceRoot, "grading-")
	if err != nil {
		return grader.Result{}, fmt.Errorf("create workspace: %w", err)
	}
	defer os.RemoveAll(workspace)

	program := wrapper.Wrap(job.Code)
	if err := os.WriteFile(filepath.Join(workspace, program.FileName), []byte(program.Source), 0600); err != nil {
		return grader.Result{}, fmt.Errorf("write program: %w", err)
	}

	ctx := context.Background()

	// No test cases: a clean run is the whole signal.
	if len(job.TestCases) == 0 {
		if err := os.WriteFile(filepath.Join(workspace, inputFileName), nil, 0600); err != nil {
			return grader.Result{}, fmt.Errorf("write input: %w", err)
		}

		run, runErr := g.execute(ctx, program, workspace)
		score := 0
		feedback := "Program failed to run cleanly."
		if runErr == nil && run.ExitCode == 0 {
			score = 100
			feedback = "Program ran cleanly."
		} else if run.Stderr != "" {
			feedback = run.Stderr
		}

		return grader.Result{Score: score, MaxScore: 100, Feedback: feedback}, nil
	}

	passed := 0
	testResults := make([]grader.TestResult, 0, len(job.TestCases))
	failures := make([]string, 0)

	for index, testCase := range job.TestCases {
		if err := os.WriteFile(filepath.Join(workspace, inputFileName), []byte(testCase.Input), 0600); err != nil {
			return grader.Result{}, fmt.Errorf("write input: %w", err)
		}

		run, runErr := g.execute(ctx, program, workspace)

		name := fmt.Sprintf("case %d", index+1)
		output := strings.TrimSpace(run.Stdout)
		expected := strings.TrimSpace(testCase.ExpectedOutput)
		ok := runErr == nil && run.ExitCode == 0 && output == expected

		if ok {
			passed++
		} else {
			reason := "wrong output"
			switch {
			case run.TimedOut:
				reason = "time limit exceeded"
			case runErr != nil || run.ExitCode != 0:
				reason = "runtime error"
			}
			failures = append(failures, fmt.Sprintf("%s: %s", name, reason))
		}

		testResults = append(testResults, grader.TestResult{
			TestCase: name,
			Passed:   ok,
			Output:   output,
			Expected: expected,
		})
	}

	score := int(math.Round(float64(passed) / float64(len(job.TestCases)) * 100))
	feedback := fmt.Sprintf("Passed %d of %d test cases.", passed, len(job.TestCases))
	if len(failures) > 0 {
		feedback += " " + strings.Join(failures, "; ") + "."
	}

	return grader.Result{
		Score:       score,
		MaxScore:    100,
		Feedback:    feedback,
		TestResults: testResults,
	}, nil
}

func (g *Grader) execute(ctx context.Context, program Program, workspace string) (RunResult, error) {
	return g.runner.Run(ctx, RunRequest{
		Image:         program.Image,
		Cmd:           program.Cmd,
		Workspace:     workspace,
		Timeout:       g.cfg.RunTimeout,
		MemoryLimitMB: g.cfg.MemoryLimitMB,
		CPUShares:     g.cfg.CPUShares,
	})
}

func (g *Grader) setStatus(jobID, status, message string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if job, ok := g.jobs[jobID]; ok {
		job.status = status
		job.message = message
	}
}
