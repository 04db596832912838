package services

import (
	"fmt"
	"math/rand"
	"time"

	"stylo-battle-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BracketOutcome is the result of generating round 1 from the eligible set.
type BracketOutcome string

const (
	BracketCancelled       BracketOutcome = "cancelled"
	BracketInstantChampion BracketOutcome = "instant_champion"
	BracketMatches         BracketOutcome = "matches"
)

// BracketService builds round pairings. Input order never matters: every round
// is shuffled before consecutive pairing. An odd pool is never given a free
// bye; the unpaired leftover becomes the round's pending wildcard entrant.
type BracketService struct {
	DB *gorm.DB
}

func NewBracketService(db *gorm.DB) *BracketService {
	return &BracketService{DB: db}
}

// GenerateEntryBracket applies the entry-close contract to the eligible set:
// 0 → cancelled, 1 → instant champion (no match is ever created), ≥2 → round 1
// matches. Matches are persisted through tx so the caller's phase transition
// and the pairing commit together.
func (s *BracketService) GenerateEntryBracket(tx *gorm.DB, t *models.Tournament, eligible []models.Participant) (BracketOutcome, *models.Participant, []models.Match, error) {
	switch len(eligible) {
	case 0:
		return BracketCancelled, nil, nil, nil
	case 1:
		champion := eligible[0]
		return BracketInstantChampion, &champion, nil, nil
	}

	ids := make([]string, len(eligible))
	for i, p := range eligible {
		ids[i] = p.ID
	}

	matches, err := s.BuildRound(tx, t, ids, 1)
	if err != nil {
		return "", nil, nil, err
	}
	return BracketMatches, nil, matches, nil
}

// BuildRound shuffles the pool, pairs consecutively and persists the matches
// for roundIndex with a fresh deadline. If the pool is odd the last shuffled
// member is recorded on the tournament as the round's pending wildcard entrant
// instead of being dropped or auto-advanced.
func (s *BracketService) BuildRound(tx *gorm.DB, t *models.Tournament, pool []string, roundIndex int) ([]models.Match, error) {
	shuffled := make([]string, len(pool))
	copy(shuffled, pool)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	endAt := time.Now().Add(time.Duration(t.VoteWindowSecs) * time.Second)

	var matches []models.Match
	for i := 0; i+1 < len(shuffled); i += 2 {
		matches = append(matches, models.Match{
			ID:           uuid.NewString(),
			TournamentID: t.ID,
			RoundIndex:   roundIndex,
			Seq:          i / 2,
			LeftID:       shuffled[i],
			RightID:      shuffled[i+1],
			EndAt:        endAt,
			Status:       models.MatchOpen,
		})
	}
	for i := range matches {
		if err := tx.Create(&matches[i]).Error; err != nil {
			return nil, fmt.Errorf("create match r%d#%d: %w", roundIndex, matches[i].Seq, err)
		}
	}

	updates := map[string]interface{}{
		"round_index":  roundIndex,
		"round_end_at": endAt,
	}
	if len(shuffled)%2 == 1 {
		updates["wildcard_id"] = shuffled[len(shuffled)-1]
		updates["wildcard_round"] = roundIndex
	} else {
		updates["wildcard_id"] = nil
		updates["wildcard_round"] = 0
	}
	if err := tx.Model(&models.Tournament{}).Where("id = ?", t.ID).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("update tournament round state: %w", err)
	}

	t.RoundIndex = roundIndex
	t.RoundEndAt = &endAt
	if len(shuffled)%2 == 1 {
		last := shuffled[len(shuffled)-1]
		t.WildcardID = &last
		t.WildcardRound = roundIndex
	} else {
		t.WildcardID = nil
		t.WildcardRound = 0
	}
	return matches, nil
}

// CreateWildcardMatch appends the extra same-round match between the
// challenger and the strongest loser, with its own fresh voting window. It
// never collides with primary matches: those are all decided before a
// wildcard match can exist.
func (s *BracketService) CreateWildcardMatch(tx *gorm.DB, t *models.Tournament, challengerID, loserID string) (*models.Match, error) {
	var maxSeq int
	row := tx.Model(&models.Match{}).
		Where("tournament_id = ? AND round_index = ?", t.ID, t.RoundIndex).
		Select("COALESCE(MAX(seq), -1)")
	if err := row.Scan(&maxSeq).Error; err != nil {
		return nil, fmt.Errorf("next wildcard seq: %w", err)
	}

	match := models.Match{
		ID:           uuid.NewString(),
		TournamentID: t.ID,
		RoundIndex:   t.RoundIndex,
		Seq:          maxSeq + 1,
		LeftID:       challengerID,
		RightID:      loserID,
		EndAt:        time.Now().Add(time.Duration(t.VoteWindowSecs) * time.Second),
		Status:       models.MatchOpen,
		Wildcard:     true,
	}
	if err := tx.Create(&match).Error; err != nil {
		return nil, fmt.Errorf("create wildcard match: %w", err)
	}
	return &match, nil
}
