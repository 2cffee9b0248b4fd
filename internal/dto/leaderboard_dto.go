package dto

import "time"

// LeaderboardEntry is one ranked row. Entries are derived on every read;
// they are never authoritative state.
type LeaderboardEntry struct {
	Rank               int            `json:"rank"`
	Username           string         `json:"username"`
	TotalScore         int            `json:"total_score"`
	QuestionsSolved    int            `json:"questions_solved"`
	Accuracy           float64        `json:"accuracy"`
	SolvedByDifficulty map[string]int `json:"solved_by_difficulty,omitempty"`
}

// LeaderboardStats aggregates arena-wide numbers shown next to the board.
type LeaderboardStats struct {
	TotalParticipants int     `json:"total_participants"`
	TotalSubmissions  int     `json:"total_submissions"`
	AverageScore      float64 `json:"average_score"`
}

// LeaderboardResponse is the full ranked list plus global stats.
type LeaderboardResponse struct {
	Entries     []LeaderboardEntry `json:"entries"`
	Stats       LeaderboardStats   `json:"stats"`
	GeneratedAt time.Time          `json:"generated_at"`
}
