package models

import (
	"time"
)

// Tournament phases. A tournament moves entry → voting → closed; closed is
// terminal (only a full reset removes it).
const (
	PhaseEntry  = "entry"
	PhaseVoting = "voting"
	PhaseClosed = "closed"
)

// Tournament represents one bracket battle event, scoped to a community space.
type Tournament struct {
	ID    string `json:"id" gorm:"primaryKey"`
	Slug  string `json:"slug" gorm:"index"`
	Theme string `json:"theme" gorm:"not null"`
	Phase string `json:"phase" gorm:"default:'entry';index"`

	// EntryEndAt is set once at creation and never mutated afterwards.
	EntryEndAt time.Time `json:"entry_end_at" gorm:"not null"`
	// VoteWindowSecs is the voting window applied to every match/round.
	VoteWindowSecs int `json:"vote_window_secs" gorm:"not null"`

	// RoundIndex is 0 during entry and becomes 1 at first pairing.
	RoundIndex int        `json:"round_index" gorm:"default:0"`
	RoundEndAt *time.Time `json:"round_end_at,omitempty"`

	// WildcardID holds the participant carried as the pending wildcard entrant
	// for WildcardRound: the unpaired leftover of an odd shuffle, or the winner
	// of the previous round's wildcard match. Cleared once consumed.
	WildcardID    *string `json:"wildcard_id,omitempty"`
	WildcardRound int     `json:"wildcard_round" gorm:"default:0"`

	ChampionID  *string    `json:"champion_id,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`

	Timestamps

	// Relationships
	Participants []Participant `json:"participants,omitempty" gorm:"foreignKey:TournamentID"`
	Matches      []Match       `json:"matches,omitempty" gorm:"foreignKey:TournamentID"`
}

// Participant is one entrant in a tournament. AssetURL stays nil until the
// entry image is captured; only participants with a non-nil AssetURL are
// eligible for pairing.
type Participant struct {
	ID             string  `json:"id" gorm:"primaryKey"`
	TournamentID   string  `json:"tournament_id" gorm:"not null;uniqueIndex:idx_participant_identity"`
	ExternalUserID string  `json:"external_user_id" gorm:"not null;uniqueIndex:idx_participant_identity"`
	DisplayName    string  `json:"display_name"`
	Caption        string  `json:"caption,omitempty"`
	AssetURL       *string `json:"asset_url,omitempty"`
	AvatarURL      *string `json:"avatar_url,omitempty"` // denormalized from profile service

	Timestamps
}

// Eligible reports whether this participant can be paired into a bracket.
func (p *Participant) Eligible() bool {
	return p.AssetURL != nil && *p.AssetURL != ""
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
