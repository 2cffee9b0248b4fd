package handler

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/gradearena/arena-api/internal/service"
	"github.com/gradearena/arena-api/internal/utils"
)

// LeaderboardHandler exposes the ranked standings, both as a plain read and
// as a websocket push stream.
type LeaderboardHandler struct {
	service service.LeaderboardService
	logger  zerolog.Logger
}

// NewLeaderboardHandler constructs the handler.
func NewLeaderboardHandler(leaderboardService service.LeaderboardService, logger zerolog.Logger) *LeaderboardHandler {
	return &LeaderboardHandler{
		service: leaderboardService,
		logger:  logger.With().Str("component", "leaderboard_handler").Logger(),
	}
}

// Register wires the handler endpoints into the router group.
func (h *LeaderboardHandler) Register(router fiber.Router) {
	router.Get("", h.get)
	router.Get("/live", websocket.New(h.live))
}

func (h *LeaderboardHandler) get(c *fiber.Ctx) error {
	response, err := h.service.GetLeaderboard(c.UserContext())
	if err != nil {
		if errors.Is(err, service.ErrAggregation) {
			h.logger.Error().Err(err).Msg("leaderboard aggregation failed")
			return utils.SendError(c, fiber.StatusInternalServerError, "leaderboard unavailable")
		}
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}

	return utils.SendSuccess(c, "leaderboard retrieved", response)
}

// liveRefreshInterval is the fallback push cadence when no submissions are
// landing.
const liveRefreshInterval = 30 * time.Second

// live streams a snapshot on connect, then pushes a fresh board on every
// graded submission and on a periodic refresh tick.
func (h *LeaderboardHandler) live(conn *websocket.Conn) {
	defer conn.Close()

	snapshots, cancel := h.service.Subscribe()
	defer cancel()

	if initial, err := h.service.GetLeaderboard(context.Background()); err == nil {
		if err := conn.WriteJSON(initial); err != nil {
			return
		}
	}

	ticker := time.NewTicker(liveRefreshInterval)
	defer ticker.Stop()

	// Reads are only drained to detect the peer going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case snapshot, open := <-snapshots:
			if !open {
				return
			}
			if err := conn.WriteJSON(snapshot); err != nil {
				return
			}
		case <-ticker.C:
			snapshot, err := h.service.GetLeaderboard(context.Background())
			if err != nil {
				h.logger.Warn().Err(err).Msg("periodic leaderboard refresh failed")
				continue
			}
			if err := conn.WriteJSON(snapshot); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
