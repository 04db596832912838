package services

import (
	"io"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"stylo-battle-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestApp(db *gorm.DB, userID string) (*fiber.App, *TournamentService) {
	svc := NewTournamentService(db, NewEngineService(db, NewBracketService(db)))
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", userID)
		return c.Next()
	})
	app.Post("/tournaments", svc.CreateTournament)
	app.Post("/tournaments/:id/entries", svc.SubmitEntry)
	app.Delete("/tournaments/:id", svc.ResetTournament)
	app.Get("/tournaments/:id", svc.GetTournamentStatus)
	return app, svc
}

func TestParseWindow(t *testing.T) {
	d, err := parseWindow("2h", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, d)

	d, err = parseWindow("30m", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, d)

	d, err = parseWindow("", 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, d)

	_, err = parseWindow("soon", time.Hour)
	assert.Error(t, err)

	_, err = parseWindow("-5m", time.Hour)
	assert.Error(t, err)
}

func TestCreateTournamentHandler(t *testing.T) {
	db := setupTestDB(t)
	app, _ := newTestApp(db, "admin-1")

	form := url.Values{}
	form.Set("theme", "Spooky Pets")
	form.Set("entry_window", "2h")
	form.Set("vote_window", "30m")

	req := httptest.NewRequest("POST", "/tournaments", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 201, resp.StatusCode)

	var tournament models.Tournament
	require.NoError(t, db.First(&tournament, "slug = ?", "spooky-pets").Error)
	assert.Equal(t, "Spooky Pets", tournament.Theme)
	assert.Equal(t, models.PhaseEntry, tournament.Phase)
	assert.Equal(t, 1800, tournament.VoteWindowSecs)
	assert.True(t, tournament.EntryEndAt.After(time.Now().Add(time.Hour)))
}

func TestSubmitEntryRejectedAfterDeadline(t *testing.T) {
	db := setupTestDB(t)
	app, _ := newTestApp(db, "user-1")
	tournament := seedTournament(t, db, models.PhaseEntry, time.Now().Add(-time.Minute))

	form := url.Values{}
	form.Set("display_name", "casey")

	req := httptest.NewRequest("POST", "/tournaments/"+tournament.ID+"/entries", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 409, resp.StatusCode)

	var count int64
	db.Model(&models.Participant{}).Count(&count)
	assert.Zero(t, count)
}

func TestSubmitEntryResubmitOverwrites(t *testing.T) {
	db := setupTestDB(t)
	app, _ := newTestApp(db, "user-1")
	tournament := seedTournament(t, db, models.PhaseEntry, time.Now().Add(time.Hour))

	submit := func(caption string) int {
		form := url.Values{}
		form.Set("display_name", "casey jones")
		form.Set("caption", caption)
		req := httptest.NewRequest("POST", "/tournaments/"+tournament.ID+"/entries", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, 201, submit("first try"))
	assert.Equal(t, 201, submit("second thoughts"))

	var participants []models.Participant
	require.NoError(t, db.Where("tournament_id = ?", tournament.ID).Find(&participants).Error)
	require.Len(t, participants, 1)
	assert.Equal(t, "second thoughts", participants[0].Caption)
	assert.Equal(t, "Casey Jones", participants[0].DisplayName)
}

func TestResetTournamentDeletesEverything(t *testing.T) {
	db := setupTestDB(t)
	app, _ := newTestApp(db, "admin-1")

	tournament := seedTournament(t, db, models.PhaseVoting, time.Now().Add(-time.Hour))
	seedParticipant(t, db, tournament.ID, "p1")
	seedParticipant(t, db, tournament.ID, "p2")
	match := seedMatch(t, db, tournament.ID, 1, 0, "p1", "p2", 1, 0,
		time.Now().Add(time.Hour), models.MatchOpen, false)
	require.NoError(t, db.Create(&models.VoteRecord{
		MatchID: match.ID, VoterID: "alice", Side: models.SideLeft,
	}).Error)
	require.NoError(t, db.Create(&models.EngineEvent{
		ID: uuid.NewString(), TournamentID: tournament.ID, Type: models.EventRoundStarted,
	}).Error)

	req := httptest.NewRequest("DELETE", "/tournaments/"+tournament.ID, nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	for _, model := range []interface{}{
		&models.Tournament{}, &models.Participant{}, &models.Match{},
		&models.VoteRecord{}, &models.EngineEvent{},
	} {
		var count int64
		db.Model(model).Count(&count)
		assert.Zerof(t, count, "expected no rows left in %T", model)
	}
}

func TestGetTournamentStatusShowsRoundMatches(t *testing.T) {
	db := setupTestDB(t)
	app, _ := newTestApp(db, "user-1")

	tournament := seedTournament(t, db, models.PhaseVoting, time.Now().Add(-time.Hour))
	require.NoError(t, db.Model(tournament).Updates(map[string]interface{}{
		"phase": models.PhaseVoting, "round_index": 1,
	}).Error)
	seedMatch(t, db, tournament.ID, 1, 0, "p1", "p2", 2, 1,
		time.Now().Add(time.Hour), models.MatchOpen, false)

	req := httptest.NewRequest("GET", "/tournaments/"+tournament.ID, nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"phase":"voting"`)
	assert.Contains(t, string(body), `"left_votes":2`)
}
