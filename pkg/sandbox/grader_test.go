package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/gradearena/arena-api/pkg/grader"
)

type stubRunner struct {
	results []RunResult
	err     error
	calls   int
}

func (s *stubRunner) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	s.calls++
	if s.err != nil {
		return RunResult{}, s.err
	}
	if s.calls <= len(s.results) {
		return s.results[s.calls-1], nil
	}
	return RunResult{}, nil
}

func waitForTerminal(t *testing.T, g *Grader, jobID string) grader.StatusReport {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		report, err := g.Status(context.Background(), jobID)
		require.NoError(t, err)
		if report.Terminal() {
			return report
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal status")
	return grader.StatusReport{}
}

func TestGraderRejectsUnsupportedLanguage(t *testing.T) {
	g := NewGrader(&stubRunner{}, GraderConfig{WorkspaceRoot: t.TempDir()}, zerolog.Nop())

	_, err := g.Submit(context.Background(), grader.Job{Code: "puts 'hi'", Language: "ruby"})
	require.ErrorIs(t, err, grader.ErrDispatch)
}

func TestGraderRejectsEmptySubmission(t *testing.T) {
	g := NewGrader(&stubRunner{}, GraderConfig{WorkspaceRoot: t.TempDir()}, zerolog.Nop())

	_, err := g.Submit(context.Background(), grader.Job{Code: "   ", Language: "python"})
	require.ErrorIs(t, err, grader.ErrDispatch)
}

func TestGraderScoresTestCases(t *testing.T) {
	runner := &stubRunner{results: []RunResult{
		{Stdout: "4\n", ExitCode: 0},
		{Stdout: "wrong", ExitCode: 0},
	}}
	g := NewGrader(runner, GraderConfig{WorkspaceRoot: t.TempDir()}, zerolog.Nop())

	jobID, err := g.Submit(context.Background(), grader.Job{
		Code:     "print(sum(map(int, input().split())))",
		Language: "python",
		TestCases: []grader.TestCase{
			{Input: "1 3", ExpectedOutput: "4"},
			{Input: "2 2", ExpectedOutput: "4"},
		},
	})
	require.NoError(t, err)

	report := waitForTerminal(t, g, jobID)
	require.Equal(t, grader.StatusCompleted, report.Status)

	result, err := g.Result(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, 50, result.Score)
	require.Equal(t, 100, result.MaxScore)
	require.Len(t, result.TestResults, 2)
	require.True(t, result.TestResults[0].Passed)
	require.False(t, result.TestResults[1].Passed)
	require.Equal(t, 2, runner.calls)
}

func TestGraderWithoutTestCasesScoresCleanRun(t *testing.T) {
	runner := &stubRunner{results: []RunResult{{Stdout: "hello", ExitCode: 0}}}
	g := NewGrader(runner, GraderConfig{WorkspaceRoot: t.TempDir()}, zerolog.Nop())

	jobID, err := g.Submit(context.Background(), grader.Job{Code: "print('hello')", Language: "python"})
	require.NoError(t, err)

	waitForTerminal(t, g, jobID)

	result, err := g.Result(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, 100, result.Score)
}

func TestGraderUnknownJob(t *testing.T) {
	g := NewGrader(&stubRunner{}, GraderConfig{WorkspaceRoot: t.TempDir()}, zerolog.Nop())

	_, err := g.Status(context.Background(), "missing")
	require.ErrorIs(t, err, grader.ErrJobNotFound)

	_, err = g.Result(context.Background(), "missing")
	require.ErrorIs(t, err, grader.ErrJobNotFound)
}

func TestGraderResultBeforeCompletion(t *testing.T) {
	// Runner that blocks long enough for the job to still be running.
	runner := &stubRunner{results: []RunResult{{ExitCode: 0}}}
	g := NewGrader(runner, GraderConfig{WorkspaceRoot: t.TempDir()}, zerolog.Nop())

	jobID, err := g.Submit(context.Background(), grader.Job{Code: "print(1)", Language: "python"})
	require.NoError(t, err)

	_, err = g.Result(context.Background(), jobID)
	if err != nil {
		require.ErrorIs(t, err, grader.ErrResultNotReady)
	}
}

func TestGraderEvictsTerminalJobs(t *testing.T) {
	runner := &stubRunner{results: []RunResult{{ExitCode: 0, Stdout: "ok"}}}
	g := NewGrader(runner, GraderConfig{
		WorkspaceRoot: t.TempDir(),
		JobRetention:  100 * time.Millisecond,
	}, zerolog.Nop())

	jobID, err := g.Submit(context.Background(), grader.Job{Code: "print('hi')", Language: "python"})
	require.NoError(t, err)

	report := waitForTerminal(t, g, jobID)
	require.Equal(t, grader.StatusCompleted, report.Status)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := g.Status(context.Background(), jobID); errors.Is(err, grader.ErrJobNotFound) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("terminal job was never evicted")
}

func TestWrapperBuildsRunnableProgram(t *testing.T) {
	wrapper, ok := ForLanguage("Python")
	require.True(t, ok)

	program := wrapper.Wrap("print('hi')")
	require.Equal(t, "python:3.11-alpine", program.Image)
	require.Equal(t, "main.py", program.FileName)
	require.Equal(t, []string{"sh", "-c", "python main.py < input.txt"}, program.Cmd)
	require.Equal(t, "print('hi')", program.Source)
}

func TestWrapperJavaCompilesFirst(t *testing.T) {
	wrapper, ok := ForLanguage("java")
	require.True(t, ok)

	program := wrapper.Wrap("class Main {}")
	require.Equal(t, "Main.java", program.FileName)
	require.Contains(t, program.Cmd[2], "javac Main.java && java Main")
}

func TestSupportedLanguagesCoversWrappers(t *testing.T) {
	require.ElementsMatch(t, []string{"python", "javascript", "go", "java"}, SupportedLanguages())
}
