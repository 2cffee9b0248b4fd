package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/gradearena/arena-api/internal/dto"
	"github.com/gradearena/arena-api/internal/models"
	"github.com/gradearena/arena-api/internal/repository"
	"github.com/gradearena/arena-api/pkg/grader"
)

type stubSubmissionRepo struct {
	appended  []models.SubmissionRecord
	all       []models.SubmissionRecord
	appendErr error
}

func (r *stubSubmissionRepo) Append(_ context.Context, record *models.SubmissionRecord) error {
	if r.appendErr != nil {
		return r.appendErr
	}
	record.ID = uint(len(r.appended) + 1)
	r.appended = append(r.appended, *record)
	return nil
}

func (r *stubSubmissionRepo) ListAll(context.Context) ([]models.SubmissionRecord, error) {
	return r.all, nil
}

func (r *stubSubmissionRepo) ListByQuestion(_ context.Context, questionID uint) ([]models.SubmissionRecord, error) {
	var out []models.SubmissionRecord
	for _, record := range r.all {
		if record.QuestionID == questionID {
			out = append(out, record)
		}
	}
	return out, nil
}

type stubGrader struct {
	jobID     string
	submitErr error
	statuses  []grader.StatusReport
	statusErr error
	result    grader.Result
	resultErr error

	jobs        []grader.Job
	statusCalls int
}

func (g *stubGrader) Submit(_ context.Context, job grader.Job) (string, error) {
	g.jobs = append(g.jobs, job)
	if g.submitErr != nil {
		return "", g.submitErr
	}
	return g.jobID, nil
}

func (g *stubGrader) Status(context.Context, string) (grader.StatusReport, error) {
	if g.statusErr != nil {
		return grader.StatusReport{}, g.statusErr
	}
	idx := g.statusCalls
	if idx >= len(g.statuses) {
		idx = len(g.statuses) - 1
	}
	g.statusCalls++
	return g.statuses[idx], nil
}

func (g *stubGrader) Result(context.Context, string) (grader.Result, error) {
	if g.resultErr != nil {
		return grader.Result{}, g.resultErr
	}
	return g.result, nil
}

func newTestService(t *testing.T, repo *stubSubmissionRepo, questions *questionRepoStub, grading grader.Service) SubmissionService {
	t.Helper()
	poller := grader.NewPoller(grader.PollConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		MaxAttempts:     5,
	}, zerolog.Nop())
	return NewSubmissionService(repo, questions, grading, poller, validator.New(), nil, "", zerolog.Nop())
}

type questionRepoStub struct {
	question models.Question
	err      error
}

func (r *questionRepoStub) List(context.Context, repository.QuestionFilter) ([]models.Question, error) {
	return []models.Question{r.question}, nil
}

func (r *questionRepoStub) GetByID(context.Context, uint) (models.Question, error) {
	if r.err != nil {
		return models.Question{}, r.err
	}
	return r.question, nil
}

func mediumQuestion() models.Question {
	return models.Question{
		ID:         7,
		Title:      "Two Sum",
		Difficulty: models.DifficultyMedium,
		Rubric:     "correctness 60, style 40",
	}
}

func TestSubmitCompletedRecordsNormalizedOutcome(t *testing.T) {
	repo := &stubSubmissionRepo{}
	questions := &questionRepoStub{question: mediumQuestion()}
	grading := &stubGrader{
		jobID:    "job-1",
		statuses: []grader.StatusReport{{Status: grader.StatusCompleted}},
		result:   grader.Result{Score: 80, MaxScore: 100, Feedback: "Solid solution"},
	}

	svc := newTestService(t, repo, questions, grading)
	response, err := svc.Submit(context.Background(), "alice@example.com", dto.SubmitRequest{
		Code:       "print('hi')",
		QuestionID: 7,
		SelfScore:  80,
	})
	require.NoError(t, err)

	require.Equal(t, "alice", response.Username)
	require.Equal(t, models.SubmissionStatusCompleted, response.Status)
	require.Equal(t, 80, response.GraderScore)
	require.Equal(t, 0, response.AbsoluteDifference)
	require.Equal(t, "Solid solution", response.Feedback)

	require.Len(t, repo.appended, 1)
	require.Equal(t, "job-1", repo.appended[0].JobID)
}

func TestSubmitForwardsQuestionContextToGrader(t *testing.T) {
	repo := &stubSubmissionRepo{}
	question := mediumQuestion()
	question.TestCases = []models.TestCase{{Input: "1 2", ExpectedOutput: "3"}}
	questions := &questionRepoStub{question: question}
	grading := &stubGrader{
		jobID:    "job-9",
		statuses: []grader.StatusReport{{Status: grader.StatusCompleted}},
		result:   grader.Result{Score: 50},
	}

	svc := newTestService(t, repo, questions, grading)
	_, err := svc.Submit(context.Background(), "bob", dto.SubmitRequest{
		Code:       "x",
		QuestionID: 7,
		SelfScore:  50,
		Language:   "Go",
	})
	require.NoError(t, err)

	require.Len(t, grading.jobs, 1)
	job := grading.jobs[0]
	require.Equal(t, uint(7), job.QuestionID)
	require.Equal(t, "go", job.Language)
	require.Equal(t, "correctness 60, style 40", job.Rubric)
	require.Len(t, job.TestCases, 1)
	require.Equal(t, "3", job.TestCases[0].ExpectedOutput)
}

func TestSubmitDefaultsMissingMaxScore(t *testing.T) {
	repo := &stubSubmissionRepo{}
	questions := &questionRepoStub{question: mediumQuestion()}
	grading := &stubGrader{
		jobID:    "job-2",
		statuses: []grader.StatusReport{{Status: grader.StatusCompleted}},
		result:   grader.Result{Score: 70},
	}

	svc := newTestService(t, repo, questions, grading)
	response, err := svc.Submit(context.Background(), "carol", dto.SubmitRequest{
		Code:       "x",
		QuestionID: 7,
		SelfScore:  90,
	})
	require.NoError(t, err)
	require.Equal(t, 100, response.MaxScore)
	require.Equal(t, 20, response.AbsoluteDifference)
}

func TestSubmitProcessingOutcomeAppendsPlaceholderRecord(t *testing.T) {
	repo := &stubSubmissionRepo{}
	questions := &questionRepoStub{question: mediumQuestion()}
	grading := &stubGrader{
		jobID:    "job-3",
		statuses: []grader.StatusReport{{Status: grader.StatusRunning}},
	}

	svc := newTestService(t, repo, questions, grading)
	response, err := svc.Submit(context.Background(), "dave", dto.SubmitRequest{
		Code:       "x",
		QuestionID: 7,
		SelfScore:  60,
	})
	require.NoError(t, err)

	require.Equal(t, models.SubmissionStatusProcessing, response.Status)
	require.Equal(t, 0, response.GraderScore)
	require.Contains(t, response.Feedback, "check back later")
	require.Len(t, repo.appended, 1)
}

func TestSubmitWorkerErrorSurfacesSanitizedEvaluationError(t *testing.T) {
	repo := &stubSubmissionRepo{}
	questions := &questionRepoStub{question: mediumQuestion()}
	grading := &stubGrader{
		jobID:    "job-4",
		statuses: []grader.StatusReport{{Status: grader.StatusError, Message: "<script>alert(1)</script>compile failed"}},
	}

	svc := newTestService(t, repo, questions, grading)
	_, err := svc.Submit(context.Background(), "erin", dto.SubmitRequest{
		Code:       "x",
		QuestionID: 7,
		SelfScore:  10,
	})

	var evalErr *grader.EvaluationError
	require.ErrorAs(t, err, &evalErr)
	require.Equal(t, "compile failed", evalErr.Message)
	require.Empty(t, repo.appended)
}

func TestSubmitDispatchErrorPassesThrough(t *testing.T) {
	repo := &stubSubmissionRepo{}
	questions := &questionRepoStub{question: mediumQuestion()}
	grading := &stubGrader{submitErr: grader.ErrDispatch}

	svc := newTestService(t, repo, questions, grading)
	_, err := svc.Submit(context.Background(), "frank", dto.SubmitRequest{
		Code:       "x",
		QuestionID: 7,
		SelfScore:  10,
	})
	require.ErrorIs(t, err, grader.ErrDispatch)
	require.Empty(t, repo.appended)
}

func TestSubmitUnknownQuestion(t *testing.T) {
	repo := &stubSubmissionRepo{}
	questions := &questionRepoStub{err: gorm.ErrRecordNotFound}
	grading := &stubGrader{}

	svc := newTestService(t, repo, questions, grading)
	_, err := svc.Submit(context.Background(), "gina", dto.SubmitRequest{
		Code:       "x",
		QuestionID: 99,
		SelfScore:  10,
	})
	require.ErrorIs(t, err, ErrQuestionNotFound)
}

func TestSubmitRejectsBlankCodeAndMissingIdentity(t *testing.T) {
	repo := &stubSubmissionRepo{}
	questions := &questionRepoStub{question: mediumQuestion()}
	svc := newTestService(t, repo, questions, &stubGrader{})

	_, err := svc.Submit(context.Background(), "henry", dto.SubmitRequest{
		Code:       "   \n\t",
		QuestionID: 7,
		SelfScore:  10,
	})
	require.ErrorIs(t, err, ErrEmptyCode)

	_, err = svc.Submit(context.Background(), "  ", dto.SubmitRequest{
		Code:       "x",
		QuestionID: 7,
		SelfScore:  10,
	})
	require.ErrorIs(t, err, ErrIdentityMissing)
}

func TestSubmitSelfScoreValidation(t *testing.T) {
	repo := &stubSubmissionRepo{}
	questions := &questionRepoStub{question: mediumQuestion()}
	svc := newTestService(t, repo, questions, &stubGrader{})

	_, err := svc.Submit(context.Background(), "iris", dto.SubmitRequest{
		Code:       "x",
		QuestionID: 7,
		SelfScore:  140,
	})

	var validationErrs validator.ValidationErrors
	require.ErrorAs(t, err, &validationErrs)
}

func TestSubmitFormatsCriterionFeedback(t *testing.T) {
	repo := &stubSubmissionRepo{}
	questions := &questionRepoStub{question: mediumQuestion()}
	grading := &stubGrader{
		jobID:    "job-5",
		statuses: []grader.StatusReport{{Status: grader.StatusCompleted}},
		result: grader.Result{
			Score:    75,
			MaxScore: 100,
			Criteria: map[string]grader.CriterionFeedback{
				"correctness": {PointsAwarded: 50, MaxPoints: 60, Feedback: "off by one on the last case"},
				"style":       {PointsAwarded: 25, MaxPoints: 40, Feedback: "naming could be clearer"},
			},
		},
	}

	svc := newTestService(t, repo, questions, grading)
	response, err := svc.Submit(context.Background(), "judy", dto.SubmitRequest{
		Code:       "x",
		QuestionID: 7,
		SelfScore:  75,
	})
	require.NoError(t, err)

	require.Contains(t, response.Feedback, "Criterion correctness:")
	require.Contains(t, response.Feedback, "Points: 50/60")
	require.Contains(t, response.Feedback, "Criterion style:")
	require.NotNil(t, repo.appended[0].FeedbackDetails["criteria"])
}

func TestSubmitStoreFailure(t *testing.T) {
	repo := &stubSubmissionRepo{appendErr: errors.New("disk full")}
	questions := &questionRepoStub{question: mediumQuestion()}
	grading := &stubGrader{
		jobID:    "job-6",
		statuses: []grader.StatusReport{{Status: grader.StatusCompleted}},
		result:   grader.Result{Score: 10},
	}

	svc := newTestService(t, repo, questions, grading)
	_, err := svc.Submit(context.Background(), "kyle", dto.SubmitRequest{
		Code:       "x",
		QuestionID: 7,
		SelfScore:  10,
	})
	require.ErrorContains(t, err, "append submission record")
}

func TestListFiltersByQuestion(t *testing.T) {
	repo := &stubSubmissionRepo{all: []models.SubmissionRecord{
		{Username: "alice", QuestionID: 1},
		{Username: "bob", QuestionID: 2},
	}}
	svc := newTestService(t, repo, &questionRepoStub{question: mediumQuestion()}, &stubGrader{})

	questionID := uint(2)
	responses, err := svc.List(context.Background(), dto.SubmissionFilter{QuestionID: &questionID})
	require.NoError(t, err)
	require.Len(t, responses, 1)
	require.Equal(t, "bob", responses[0].Username)

	responses, err = svc.List(context.Background(), dto.SubmissionFilter{})
	require.NoError(t, err)
	require.Len(t, responses, 2)
}

func TestNormalizeUsername(t *testing.T) {
	require.Equal(t, "alice", NormalizeUsername("alice@example.com"))
	require.Equal(t, "bob", NormalizeUsername("  bob "))
	require.Equal(t, "@weird", NormalizeUsername("@weird"))
	require.Equal(t, "", NormalizeUsername("   "))
}
