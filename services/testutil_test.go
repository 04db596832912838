package services

import (
	"testing"
	"time"

	"stylo-battle-system/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupTestDB opens an in-memory sqlite database with the full schema. One
// connection only: in-memory sqlite loses its tables on a second connection.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.Tournament{},
		&models.Participant{},
		&models.Match{},
		&models.VoteRecord{},
		&models.EngineEvent{},
	))
	return db
}

func seedTournament(t *testing.T, db *gorm.DB, phase string, entryEndAt time.Time) *models.Tournament {
	t.Helper()
	tournament := &models.Tournament{
		ID:             uuid.NewString(),
		Slug:           "worst-haircut",
		Theme:          "Worst Haircut",
		Phase:          phase,
		EntryEndAt:     entryEndAt,
		VoteWindowSecs: 3600,
	}
	require.NoError(t, db.Create(tournament).Error)
	return tournament
}

// reloadTournament reads a fresh row. Refetching into a reused struct leaves
// a stale pointer field behind when the column comes back NULL.
func reloadTournament(t *testing.T, db *gorm.DB, id string) *models.Tournament {
	t.Helper()
	var out models.Tournament
	require.NoError(t, db.First(&out, "id = ?", id).Error)
	return &out
}

func seedParticipant(t *testing.T, db *gorm.DB, tournamentID, id string) *models.Participant {
	t.Helper()
	asset := "https://cdn.example.com/entries/" + id + ".jpg"
	p := &models.Participant{
		ID:             id,
		TournamentID:   tournamentID,
		ExternalUserID: "user-" + id,
		DisplayName:    "Player " + id,
		AssetURL:       &asset,
	}
	require.NoError(t, db.Create(p).Error)
	return p
}

func seedMatch(t *testing.T, db *gorm.DB, tournamentID string, round, seq int, left, right string, lv, rv int64, endAt time.Time, status string, wildcard bool) *models.Match {
	t.Helper()
	m := &models.Match{
		ID:           uuid.NewString(),
		TournamentID: tournamentID,
		RoundIndex:   round,
		Seq:          seq,
		LeftID:       left,
		RightID:      right,
		LeftVotes:    lv,
		RightVotes:   rv,
		EndAt:        endAt,
		Status:       status,
		Wildcard:     wildcard,
	}
	require.NoError(t, db.Create(m).Error)
	return m
}
