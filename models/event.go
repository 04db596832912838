package models

import (
	"time"
)

// Engine event types emitted by a tick. The gateway renders these as chat
// messages; the engine itself never formats presentation.
const (
	EventRoundStarted         = "round_started"
	EventMatchDecided         = "match_decided"
	EventMatchReopened        = "match_reopened"
	EventWildcardMatchCreated = "wildcard_match_created"
	EventChampionDeclared     = "champion_declared"
	EventTournamentCancelled  = "tournament_cancelled"
)

// EngineEvent is one state change produced by the phase controller. Events are
// derived from already-committed state: a failure to deliver one downstream
// never blocks or rolls back the transition that produced it.
type EngineEvent struct {
	ID           string    `json:"id" gorm:"primaryKey"`
	TournamentID string    `json:"tournament_id" gorm:"not null;index"`
	Type         string    `json:"type" gorm:"not null"`
	RoundIndex   int       `json:"round_index"`
	MatchID      string    `json:"match_id,omitempty"`
	SubjectID    string    `json:"subject_id,omitempty"` // winner / champion / challenger participant id
	LeftVotes    int64     `json:"left_votes,omitempty"`
	RightVotes   int64     `json:"right_votes,omitempty"`
	EmittedAt    time.Time `json:"emitted_at" gorm:"autoCreateTime;index"`
}
