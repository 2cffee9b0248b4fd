package grader

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	pollAttempts = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "arena",
		Subsystem: "grader",
		Name:      "poll_attempts",
		Help:      "Number of status queries per poll before a terminal outcome",
		Buckets:   []float64{1, 2, 4, 8, 16, 30},
	}, []string{"outcome"})

	pollTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arena",
		Subsystem: "grader",
		Name:      "poll_budget_exhausted_total",
		Help:      "Polls that hit the attempt ceiling without a terminal status",
	}, []string{})
)

// PollConfig bounds a single poll loop. Zero values fall back to the
// defaults below.
type PollConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxAttempts     int
}

const (
	defaultInitialInterval = 2 * time.Second
	defaultMaxInterval     = 10 * time.Second
	defaultMaxAttempts     = 30
	backoffGrowth          = 1.5
)

// Outcome is the end state of one poll loop. Processing means the attempt
// budget ran out before the worker reached a terminal status; the job may
// still complete later and is reported to the user as "still grading", not
// as an error.
type Outcome struct {
	Processing bool
	Result     Result
	Attempts   int
}

// Poller queries a grading job's status with bounded attempts and
// exponential backoff. Each poll is an independent unit of work; a Poller is
// safe for concurrent use across jobs since it holds no per-job state.
type Poller struct {
	cfg    PollConfig
	logger zerolog.Logger
}

// NewPoller constructs a poller with the configured budget.
func NewPoller(cfg PollConfig, logger zerolog.Logger) *Poller {
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = defaultInitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = defaultMaxInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}

	return &Poller{
		cfg:    cfg,
		logger: logger.With().Str("component", "grader_poller").Logger(),
	}
}

// Poll drives one job to a terminal outcome or budget exhaustion.
//
// Status errors abort immediately: retries cover "not yet ready", never
// transport failures. An errored job surfaces as *EvaluationError with the
// worker's message. Budget exhaustion returns Outcome.Processing = true with
// a nil error.
func (p *Poller) Poll(ctx context.Context, service Service, jobID string) (Outcome, error) {
	interval := p.cfg.InitialInterval

	for attempts := 1; attempts <= p.cfg.MaxAttempts; attempts++ {
		report, err := service.Status(ctx, jobID)
		if err != nil {
			pollAttempts.WithLabelValues("transport_error").Observe(float64(attempts))
			return Outcome{Attempts: attempts}, err
		}

		switch report.Status {
		case StatusCompleted:
			result, err := service.Result(ctx, jobID)
			if err != nil {
				pollAttempts.WithLabelValues("transport_error").Observe(float64(attempts))
				return Outcome{Attempts: attempts}, err
			}
			pollAttempts.WithLabelValues("completed").Observe(float64(attempts))
			return Outcome{Result: result, Attempts: attempts}, nil

		case StatusError:
			pollAttempts.WithLabelValues("error").Observe(float64(attempts))
			return Outcome{Attempts: attempts}, &EvaluationError{Message: report.Message}

		default:
			if attempts == p.cfg.MaxAttempts {
				continue
			}
			if err := p.sleep(ctx, interval); err != nil {
				return Outcome{Attempts: attempts}, err
			}
			interval = nextInterval(interval, p.cfg.MaxInterval)
		}
	}

	p.logger.Warn().Str("job_id", jobID).Int("attempts", p.cfg.MaxAttempts).Msg("poll budget exhausted, job still grading")
	pollTimeouts.WithLabelValues().Inc()
	return Outcome{Processing: true, Attempts: p.cfg.MaxAttempts}, nil
}

func (p *Poller) sleep(ctx context.Context, interval time.Duration) error {
	timer := time.NewTimer(interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextInterval(current, max time.Duration) time.Duration {
	grown := time.Duration(float64(current) * backoffGrowth)
	if grown > max {
		return max
	}
	return grown
}
