package services

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"stylo-battle-system/models"
	"stylo-battle-system/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TournamentService struct {
	DB     *gorm.DB
	Engine *EngineService
}

func NewTournamentService(db *gorm.DB, engine *EngineService) *TournamentService {
	return &TournamentService{DB: db, Engine: engine}
}

var displayNameCaser = cases.Title(language.Und)

func (s *TournamentService) CreateTournament(c *fiber.Ctx) error {
	theme := strings.TrimSpace(c.FormValue("theme"))
	entryWindowStr := c.FormValue("entry_window")
	voteWindowStr := c.FormValue("vote_window")

	if theme == "" {
		return c.Status(400).JSON(fiber.Map{"error": "theme is required"})
	}

	entryWindow, err := parseWindow(entryWindowStr, 24*time.Hour)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid entry_window (use e.g. 2h or 30m)"})
	}
	voteWindow, err := parseWindow(voteWindowStr, time.Hour)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid vote_window (use e.g. 2h or 30m)"})
	}

	tournament := &models.Tournament{
		ID:             uuid.NewString(),
		Slug:           slug.Make(theme),
		Theme:          theme,
		Phase:          models.PhaseEntry,
		EntryEndAt:     time.Now().Add(entryWindow),
		VoteWindowSecs: int(voteWindow.Seconds()),
	}
	if err := s.DB.Create(tournament).Error; err != nil {
		log.Printf("ERROR creating tournament: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "DB insert failed"})
	}
	return c.Status(201).JSON(tournament)
}

// SubmitEntry registers or updates the caller's entry. Re-submitting during
// the entry window overwrites the previous image and caption; after the
// window closes the roster is frozen.
func (s *TournamentService) SubmitEntry(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(401).JSON(fiber.Map{"error": "unauthorized"})
	}

	var tournament models.Tournament
	if err := s.DB.First(&tournament, "id = ?", c.Params("id")).Error; err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "tournament not found"})
	}
	if tournament.Phase != models.PhaseEntry || !time.Now().Before(tournament.EntryEndAt) {
		return c.Status(409).JSON(fiber.Map{"error": "entries are closed"})
	}

	displayName := displayNameCaser.String(strings.TrimSpace(c.FormValue("display_name")))
	caption := strings.TrimSpace(c.FormValue("caption"))

	var assetURL *string
	if image, err := c.FormFile("image"); err == nil && image.Size > 0 {
		ext := filepath.Ext(image.Filename)
		if ext == "" {
			ext = ".jpg"
		}
		key := "entries/" + tournament.ID + "/" + uuid.NewString() + ext
		url, err := utils.UploadFileToR2(image, key)
		if err != nil {
			log.Printf("ERROR uploading entry image for %s: %v", userID, err)
			return c.Status(500).JSON(fiber.Map{"error": "failed to upload entry image"})
		}
		assetURL = &url
	}

	participant := models.Participant{
		ID:             uuid.NewString(),
		TournamentID:   tournament.ID,
		ExternalUserID: userID,
		DisplayName:    displayName,
		Caption:        caption,
		AssetURL:       assetURL,
	}

	assignments := map[string]interface{}{
		"display_name": displayName,
		"caption":      caption,
		"updated_at":   time.Now(),
	}
	if assetURL != nil {
		assignments["asset_url"] = *assetURL
	}
	err := s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tournament_id"}, {Name: "external_user_id"}},
		DoUpdates: clause.Assignments(assignments),
	}).Create(&participant).Error
	if err != nil {
		log.Printf("ERROR upserting entry for %s: %v", userID, err)
		return c.Status(500).JSON(fiber.Map{"error": "DB insert failed"})
	}

	s.DB.First(&participant, "tournament_id = ? AND external_user_id = ?", tournament.ID, userID)
	return c.Status(201).JSON(participant)
}

func (s *TournamentService) GetAllTournaments(c *fiber.Ctx) error {
	var tournaments []models.Tournament
	if err := s.DB.Order("created_at DESC").Find(&tournaments).Error; err != nil {
		log.Printf("ERROR fetching tournaments: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch tournaments"})
	}
	return c.JSON(tournaments)
}

// GetTournamentStatus is the public scoreboard: phase, deadlines, and the
// current round's matches with live tallies.
func (s *TournamentService) GetTournamentStatus(c *fiber.Ctx) error {
	var tournament models.Tournament
	if err := s.DB.First(&tournament, "id = ?", c.Params("id")).Error; err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "tournament not found"})
	}

	resp := fiber.Map{
		"id":           tournament.ID,
		"slug":         tournament.Slug,
		"theme":        tournament.Theme,
		"phase":        tournament.Phase,
		"round_index":  tournament.RoundIndex,
		"entry_end_at": tournament.EntryEndAt,
	}
	if tournament.RoundEndAt != nil {
		resp["round_end_at"] = tournament.RoundEndAt
	}
	if tournament.ChampionID != nil {
		var champion models.Participant
		if err := s.DB.First(&champion, "id = ?", *tournament.ChampionID).Error; err == nil {
			resp["champion"] = champion
		}
	}
	if tournament.CancelledAt != nil {
		resp["cancelled_at"] = tournament.CancelledAt
	}

	switch tournament.Phase {
	case models.PhaseEntry:
		var entries int64
		s.DB.Model(&models.Participant{}).Where("tournament_id = ?", tournament.ID).Count(&entries)
		resp["entry_count"] = entries
	case models.PhaseVoting:
		var matches []models.Match
		if err := s.DB.Where("tournament_id = ? AND round_index = ?", tournament.ID, tournament.RoundIndex).
			Order("seq ASC").Find(&matches).Error; err != nil {
			log.Printf("ERROR fetching round matches for %s: %v", tournament.ID, err)
			return c.Status(500).JSON(fiber.Map{"error": "failed to fetch matches"})
		}
		resp["matches"] = matches
	}
	return c.JSON(resp)
}

func (s *TournamentService) GetParticipants(c *fiber.Ctx) error {
	var participants []models.Participant
	if err := s.DB.Where("tournament_id = ?", c.Params("id")).
		Order("created_at ASC").Find(&participants).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch participants"})
	}
	return c.JSON(participants)
}

// ForceResolve is the administrative early advance for the current round.
func (s *TournamentService) ForceResolve(c *fiber.Ctx) error {
	var tournament models.Tournament
	if err := s.DB.First(&tournament, "id = ?", c.Params("id")).Error; err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "tournament not found"})
	}
	if tournament.Phase != models.PhaseVoting {
		return c.Status(409).JSON(fiber.Map{"error": "tournament is not in a voting round"})
	}

	events, err := s.Engine.ForceResolveRound(tournament.ID)
	if err != nil {
		log.Printf("ERROR force-resolving tournament %s: %v", tournament.ID, err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to resolve round"})
	}
	return c.JSON(fiber.Map{"events": events})
}

// ResetTournament wipes the tournament and everything attached to it.
func (s *TournamentService) ResetTournament(c *fiber.Ctx) error {
	id := c.Params("id")
	var tournament models.Tournament
	if err := s.DB.First(&tournament, "id = ?", id).Error; err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "tournament not found"})
	}

	var assetURLs []string
	s.DB.Model(&models.Participant{}).
		Where("tournament_id = ? AND asset_url IS NOT NULL", id).
		Pluck("asset_url", &assetURLs)

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var matchIDs []string
		if err := tx.Model(&models.Match{}).Where("tournament_id = ?", id).
			Pluck("id", &matchIDs).Error; err != nil {
			return err
		}
		if len(matchIDs) > 0 {
			if err := tx.Where("match_id IN ?", matchIDs).Delete(&models.VoteRecord{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("tournament_id = ?", id).Delete(&models.Match{}).Error; err != nil {
			return err
		}
		if err := tx.Where("tournament_id = ?", id).Delete(&models.Participant{}).Error; err != nil {
			return err
		}
		if err := tx.Where("tournament_id = ?", id).Delete(&models.EngineEvent{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Tournament{}, "id = ?", id).Error
	})
	if err != nil {
		log.Printf("ERROR resetting tournament %s: %v", id, err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to reset tournament"})
	}

	// Best effort: orphaned images are harmless, the rows are already gone.
	for _, u := range assetURLs {
		if key := utils.R2KeyFromURL(u); key != "" {
			if err := utils.DeleteFileFromR2(key); err != nil {
				log.Printf("WARN failed to delete entry image %s: %v", key, err)
			}
		}
	}
	return c.JSON(fiber.Map{"message": fmt.Sprintf("tournament %s reset", tournament.Slug)})
}

// parseWindow accepts Go duration strings like "2h" or "30m". An empty value
// falls back to the given default.
func parseWindow(v string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("window must be positive")
	}
	return d, nil
}
