package services

import (
	"testing"
	"time"

	"stylo-battle-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventCursorSameTimestampNotSkipped(t *testing.T) {
	db := setupTestDB(t)
	svc := NewStreamService(db)
	tournament := seedTournament(t, db, models.PhaseVoting, time.Now().Add(-time.Hour))

	ts := time.Now().Truncate(time.Second)
	seedEvent := func(id string, at time.Time) {
		require.NoError(t, db.Create(&models.EngineEvent{
			ID:           id,
			TournamentID: tournament.ID,
			Type:         models.EventMatchDecided,
			RoundIndex:   1,
			EmittedAt:    at,
		}).Error)
	}

	seedEvent("ev-1", ts)
	cursor := svc.initCursor(tournament.ID)

	// history before the connection is not replayed
	events, err := svc.nextEvents(tournament.ID, cursor)
	require.NoError(t, err)
	assert.Empty(t, events)

	// a later commit can land with the identical emitted_at
	seedEvent("ev-2", ts)
	events, err = svc.nextEvents(tournament.ID, cursor)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ev-2", events[0].ID)

	// delivered exactly once
	events, err = svc.nextEvents(tournament.ID, cursor)
	require.NoError(t, err)
	assert.Empty(t, events)

	seedEvent("ev-3", ts.Add(time.Second))
	events, err = svc.nextEvents(tournament.ID, cursor)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ev-3", events[0].ID)
}

func TestEventCursorEmptyFeed(t *testing.T) {
	db := setupTestDB(t)
	svc := NewStreamService(db)
	tournament := seedTournament(t, db, models.PhaseEntry, time.Now().Add(time.Hour))

	cursor := svc.initCursor(tournament.ID)
	events, err := svc.nextEvents(tournament.ID, cursor)
	require.NoError(t, err)
	assert.Empty(t, events)

	require.NoError(t, db.Create(&models.EngineEvent{
		ID:           "ev-first",
		TournamentID: tournament.ID,
		Type:         models.EventRoundStarted,
		RoundIndex:   1,
	}).Error)
	events, err = svc.nextEvents(tournament.ID, cursor)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ev-first", events[0].ID)
}
