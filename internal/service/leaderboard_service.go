package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/gradearena/arena-api/internal/dto"
	"github.com/gradearena/arena-api/internal/models"
	"github.com/gradearena/arena-api/internal/observability"
	"github.com/gradearena/arena-api/internal/repository"
	"github.com/gradearena/arena-api/internal/scoring"
)

// LeaderboardService recomputes the ranked standings from the full
// submission history on every read, with a short redis cache in front.
type LeaderboardService interface {
	GetLeaderboard(ctx context.Context) (dto.LeaderboardResponse, error)
	Subscribe() (<-chan dto.LeaderboardResponse, func())
	Start(ctx context.Context) error
	Close()
}

// ErrAggregation indicates the submission store could not be read while
// building the leaderboard.
var ErrAggregation = errors.New("leaderboard aggregation failed")

const leaderboardCacheKey = "arena:leaderboard:v1"

type leaderboardService struct {
	submissions   repository.SubmissionRepository
	cache         *redis.Client
	cacheTTL      time.Duration
	nats          *nats.Conn
	gradedSubject string
	subscription  *nats.Subscription
	logger        zerolog.Logger
	now           func() time.Time

	mu          sync.Mutex
	subscribers map[chan dto.LeaderboardResponse]struct{}
}

// NewLeaderboardService builds the aggregator. cache and natsConn may be nil;
// the service then always recomputes from the store and never pushes live
// updates.
func NewLeaderboardService(submissions repository.SubmissionRepository, cache *redis.Client, cacheTTL time.Duration, natsConn *nats.Conn, gradedSubject string, logger zerolog.Logger) LeaderboardService {
	return &leaderboardService{
		submissions:   submissions,
		cache:         cache,
		cacheTTL:      cacheTTL,
		nats:          natsConn,
		gradedSubject: gradedSubject,
		logger:        logger.With().Str("component", "leaderboard_service").Logger(),
		now:           time.Now,
		subscribers:   map[chan dto.LeaderboardResponse]struct{}{},
	}
}

func (s *leaderboardService) GetLeaderboard(ctx context.Context) (dto.LeaderboardResponse, error) {
	if cached, ok := s.fromCache(ctx); ok {
		observability.LeaderboardBuilds().WithLabelValues("cache").Inc()
		return cached, nil
	}

	response, err := s.build(ctx)
	if err != nil {
		return dto.LeaderboardResponse{}, err
	}

	observability.LeaderboardBuilds().WithLabelValues("store").Inc()
	s.toCache(ctx, response)
	return response, nil
}

// Subscribe registers a live consumer. The returned cancel func must be
// called when the consumer goes away.
func (s *leaderboardService) Subscribe() (<-chan dto.LeaderboardResponse, func()) {
	ch := make(chan dto.LeaderboardResponse, 1)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// Start subscribes to graded events so the cache is invalidated and live
// consumers are refreshed as records land.
func (s *leaderboardService) Start(ctx context.Context) error {
	if s.nats == nil || s.gradedSubject == "" {
		return nil
	}

	sub, err := s.nats.Subscribe(s.gradedSubject, func(msg *nats.Msg) {
		s.onGraded(ctx)
	})
	if err != nil {
		return fmt.Errorf("subscribe to graded events: %w", err)
	}
	s.subscription = sub
	s.logger.Info().Str("subject", s.gradedSubject).Msg("listening for graded events")
	return nil
}

func (s *leaderboardService) Close() {
	if s.subscription != nil {
		_ = s.subscription.Unsubscribe()
	}

	s.mu.Lock()
	for ch := range s.subscribers {
		delete(s.subscribers, ch)
		close(ch)
	}
	s.mu.Unlock()
}

func (s *leaderboardService) onGraded(ctx context.Context) {
	s.invalidate(ctx)

	response, err := s.build(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to rebuild leaderboard after graded event")
		return
	}
	s.toCache(ctx, response)
	s.broadcast(response)
}

func (s *leaderboardService) broadcast(response dto.LeaderboardResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- response:
		default:
			// Slow consumer keeps only the freshest snapshot.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- response:
			default:
			}
		}
	}
}

func (s *leaderboardService) build(ctx context.Context) (dto.LeaderboardResponse, error) {
	records, err := s.submissions.ListAll(ctx)
	if err != nil {
		return dto.LeaderboardResponse{}, fmt.Errorf("%w: %v", ErrAggregation, err)
	}

	entries, stats := Aggregate(records)
	return dto.LeaderboardResponse{
		Entries:     entries,
		Stats:       stats,
		GeneratedAt: s.now(),
	}, nil
}

func (s *leaderboardService) fromCache(ctx context.Context) (dto.LeaderboardResponse, bool) {
	if s.cache == nil {
		return dto.LeaderboardResponse{}, false
	}

	payload, err := s.cache.Get(ctx, leaderboardCacheKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn().Err(err).Msg("leaderboard cache read failed")
		}
		return dto.LeaderboardResponse{}, false
	}

	var response dto.LeaderboardResponse
	if err := json.Unmarshal(payload, &response); err != nil {
		return dto.LeaderboardResponse{}, false
	}
	return response, true
}

func (s *leaderboardService) toCache(ctx context.Context, response dto.LeaderboardResponse) {
	if s.cache == nil {
		return
	}

	payload, err := json.Marshal(response)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, leaderboardCacheKey, payload, s.cacheTTL).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("leaderboard cache write failed")
	}
}

func (s *leaderboardService) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, leaderboardCacheKey).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("leaderboard cache invalidation failed")
	}
}

type userStanding struct {
	username string
	// best attempt per question, keyed by question id
	best map[uint]models.SubmissionRecord
}

// Aggregate folds the full submission history into ranked standings.
// Per user and question only the best attempt counts: smallest absolute
// difference, ties broken by earliest submission. Records still processing
// carry no grader score and are excluded from ranking, though they do count
// toward the raw submission total.
func Aggregate(records []models.SubmissionRecord) ([]dto.LeaderboardEntry, dto.LeaderboardStats) {
	standings := map[string]*userStanding{}
	order := []string{}

	for _, record := range records {
		if !record.IsCompleted() {
			continue
		}

		standing, ok := standings[record.Username]
		if !ok {
			standing = &userStanding{username: record.Username, best: map[uint]models.SubmissionRecord{}}
			standings[record.Username] = standing
			order = append(order, record.Username)
		}

		current, seen := standing.best[record.QuestionID]
		if !seen || betterAttempt(record, current) {
			standing.best[record.QuestionID] = record
		}
	}

	entries := make([]dto.LeaderboardEntry, 0, len(order))
	for _, username := range order {
		entries = append(entries, buildEntry(standings[username]))
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].TotalScore != entries[j].TotalScore {
			return entries[i].TotalScore > entries[j].TotalScore
		}
		if entries[i].Accuracy != entries[j].Accuracy {
			return entries[i].Accuracy > entries[j].Accuracy
		}
		return entries[i].QuestionsSolved > entries[j].QuestionsSolved
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}

	return entries, buildStats(entries, len(records))
}

// betterAttempt reports whether candidate beats incumbent for the same
// question: smaller absolute difference, then earlier submission.
func betterAttempt(candidate, incumbent models.SubmissionRecord) bool {
	if candidate.AbsoluteDifference != incumbent.AbsoluteDifference {
		return candidate.AbsoluteDifference < incumbent.AbsoluteDifference
	}
	return candidate.SubmittedAt.Before(incumbent.SubmittedAt)
}

func buildEntry(standing *userStanding) dto.LeaderboardEntry {
	entry := dto.LeaderboardEntry{
		Username:           standing.username,
		QuestionsSolved:    len(standing.best),
		SolvedByDifficulty: map[string]int{},
	}

	accuracySum := 0.0
	for _, record := range standing.best {
		entry.TotalScore += scoring.Normalize(record.SelfScore, record.GraderScore, record.QuestionDifficulty, record.MaxScore)
		accuracySum += scoring.AccuracyScore(record.AbsoluteDifference, record.MaxScore)
		entry.SolvedByDifficulty[record.QuestionDifficulty]++
	}

	if len(standing.best) > 0 {
		entry.Accuracy = math.Round(accuracySum/float64(len(standing.best))*10) / 10
	}
	return entry
}

func buildStats(entries []dto.LeaderboardEntry, totalSubmissions int) dto.LeaderboardStats {
	stats := dto.LeaderboardStats{
		TotalParticipants: len(entries),
		TotalSubmissions:  totalSubmissions,
	}

	if len(entries) == 0 {
		return stats
	}

	sum := 0
	for _, entry := range entries {
		sum += entry.TotalScore
	}
	stats.AverageScore = math.Round(float64(sum)/float64(len(entries))*10) / 10
	return stats
}
