package services

import (
	"fmt"
	"testing"
	"time"

	"stylo-battle-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateEntryBracketNoEligibleEntrants(t *testing.T) {
	db := setupTestDB(t)
	svc := NewBracketService(db)
	tournament := seedTournament(t, db, models.PhaseVoting, time.Now().Add(-time.Hour))

	outcome, champion, matches, err := svc.GenerateEntryBracket(db, tournament, nil)
	require.NoError(t, err)
	assert.Equal(t, BracketCancelled, outcome)
	assert.Nil(t, champion)
	assert.Empty(t, matches)
}

func TestGenerateEntryBracketSingleEntrantWinsWithoutMatch(t *testing.T) {
	db := setupTestDB(t)
	svc := NewBracketService(db)
	tournament := seedTournament(t, db, models.PhaseVoting, time.Now().Add(-time.Hour))
	only := seedParticipant(t, db, tournament.ID, "p1")

	outcome, champion, matches, err := svc.GenerateEntryBracket(db, tournament, []models.Participant{*only})
	require.NoError(t, err)
	assert.Equal(t, BracketInstantChampion, outcome)
	require.NotNil(t, champion)
	assert.Equal(t, "p1", champion.ID)
	assert.Empty(t, matches)

	var count int64
	db.Model(&models.Match{}).Count(&count)
	assert.Zero(t, count)
}

func TestGenerateEntryBracketEvenPool(t *testing.T) {
	db := setupTestDB(t)
	svc := NewBracketService(db)
	tournament := seedTournament(t, db, models.PhaseVoting, time.Now().Add(-time.Hour))

	var eligible []models.Participant
	for i := 1; i <= 8; i++ {
		p := seedParticipant(t, db, tournament.ID, fmt.Sprintf("p%d", i))
		eligible = append(eligible, *p)
	}

	outcome, _, matches, err := svc.GenerateEntryBracket(db, tournament, eligible)
	require.NoError(t, err)
	assert.Equal(t, BracketMatches, outcome)
	require.Len(t, matches, 4)

	// every entrant appears in exactly one match, nobody faces themselves
	seen := map[string]int{}
	for _, m := range matches {
		assert.NotEqual(t, m.LeftID, m.RightID)
		assert.Equal(t, models.MatchOpen, m.Status)
		assert.False(t, m.Wildcard)
		seen[m.LeftID]++
		seen[m.RightID]++
	}
	assert.Len(t, seen, 8)
	for id, n := range seen {
		assert.Equalf(t, 1, n, "participant %s paired %d times", id, n)
	}

	require.NoError(t, db.First(tournament, "id = ?", tournament.ID).Error)
	assert.Equal(t, 1, tournament.RoundIndex)
	assert.NotNil(t, tournament.RoundEndAt)
	assert.Nil(t, tournament.WildcardID)
}

func TestBuildRoundOddPoolRecordsPendingEntrant(t *testing.T) {
	db := setupTestDB(t)
	svc := NewBracketService(db)
	tournament := seedTournament(t, db, models.PhaseVoting, time.Now().Add(-time.Hour))

	pool := []string{"p1", "p2", "p3", "p4", "p5"}
	matches, err := svc.BuildRound(db, tournament, pool, 1)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	paired := map[string]bool{}
	for _, m := range matches {
		paired[m.LeftID] = true
		paired[m.RightID] = true
	}
	require.Len(t, paired, 4)

	require.NotNil(t, tournament.WildcardID)
	assert.Equal(t, 1, tournament.WildcardRound)
	assert.Falsef(t, paired[*tournament.WildcardID],
		"pending entrant %s must be the unpaired member", *tournament.WildcardID)
}

func TestCreateWildcardMatchAppendsAfterPrimaries(t *testing.T) {
	db := setupTestDB(t)
	svc := NewBracketService(db)
	tournament := seedTournament(t, db, models.PhaseVoting, time.Now().Add(-time.Hour))
	tournament.RoundIndex = 2
	require.NoError(t, db.Model(tournament).Update("round_index", 2).Error)

	seedMatch(t, db, tournament.ID, 2, 0, "p1", "p2", 3, 1, time.Now(), models.MatchDecided, false)
	seedMatch(t, db, tournament.ID, 2, 1, "p3", "p4", 0, 2, time.Now(), models.MatchDecided, false)

	match, err := svc.CreateWildcardMatch(db, tournament, "p5", "p2")
	require.NoError(t, err)
	assert.Equal(t, 2, match.Seq)
	assert.Equal(t, 2, match.RoundIndex)
	assert.True(t, match.Wildcard)
	assert.Equal(t, models.MatchOpen, match.Status)
	assert.True(t, match.EndAt.After(time.Now()))
}
