package models

import (
	"time"
)

// Match statuses. A match leaves open/reopened exactly once: the status column
// is the concurrency gate that keeps two resolver passes (or a vote racing a
// resolution) from double-processing it.
const (
	MatchOpen     = "open"
	MatchReopened = "reopened"
	MatchDecided  = "decided"
)

// Vote sides.
const (
	SideLeft  = "left"
	SideRight = "right"
)

// Match is one head-to-head pairing within a round.
type Match struct {
	ID           string `json:"id" gorm:"primaryKey"`
	TournamentID string `json:"tournament_id" gorm:"not null;uniqueIndex:idx_match_round_seq"`
	RoundIndex   int    `json:"round_index" gorm:"not null;uniqueIndex:idx_match_round_seq"`
	Seq          int    `json:"seq" gorm:"not null;uniqueIndex:idx_match_round_seq"`

	LeftID  string `json:"left_id" gorm:"not null"`
	RightID string `json:"right_id" gorm:"not null"`

	LeftVotes  int64 `json:"left_votes" gorm:"default:0"`
	RightVotes int64 `json:"right_votes" gorm:"default:0"`

	EndAt    time.Time `json:"end_at" gorm:"not null"`
	WinnerID *string   `json:"winner_id,omitempty"`
	Status   string    `json:"status" gorm:"default:'open';index"`

	// Wildcard marks the extra same-round match created to restore even pool
	// size (challenger vs strongest loser).
	Wildcard bool `json:"wildcard" gorm:"default:false"`

	Timestamps
}

// Votable reports whether the match can still accept votes, ignoring the
// deadline. Deadline checks belong to the caller against the persisted EndAt.
func (m *Match) Votable() bool {
	return m.Status != MatchDecided && m.WinnerID == nil
}

// VoteRecord pins one vote per (match, voter). The composite primary key is
// enforced at write time so concurrent duplicate submissions cannot both land.
type VoteRecord struct {
	MatchID string    `json:"match_id" gorm:"primaryKey"`
	VoterID string    `json:"voter_id" gorm:"primaryKey"`
	Side    string    `json:"side" gorm:"not null"`
	CastAt  time.Time `json:"cast_at" gorm:"autoCreateTime"`
}
