package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"stylo-battle-system/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// VoteOutcome is the named result of a cast attempt. Every expected rejection
// is a variant, never an error.
type VoteOutcome string

const (
	VoteAccepted      VoteOutcome = "accepted"
	VoteAlreadyCast   VoteOutcome = "already_voted"
	VoteMatchClosed   VoteOutcome = "match_closed"
	VoteMatchNotFound VoteOutcome = "not_found"
)

// VoteService is the vote ledger: one vote per (match, voter), enforced at
// write time.
type VoteService struct {
	DB *gorm.DB
}

func NewVoteService(db *gorm.DB) *VoteService {
	return &VoteService{DB: db}
}

// Cast records a vote for one side of a match. The whole operation runs in a
// single transaction:
//
//  1. the duplicate check is an insert-or-fail on the (match_id, voter_id)
//     primary key, not a read-then-write, so concurrent duplicates cannot
//     both land;
//  2. the tally bump is a conditional atomic UPDATE gated on the match still
//     being votable, so a vote racing a resolver either commits before the
//     status flips or rolls back entirely.
//
// The deadline is always checked against the persisted end_at, never a cached
// clock, so the ledger stays correct across restarts.
func (s *VoteService) Cast(matchID, voterID, side string) (VoteOutcome, *models.Match, error) {
	if side != models.SideLeft && side != models.SideRight {
		return "", nil, fmt.Errorf("invalid side %q", side)
	}

	var match models.Match
	outcome := VoteAccepted

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&match, "id = ?", matchID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				outcome = VoteMatchNotFound
				return nil
			}
			return fmt.Errorf("fetch match: %w", err)
		}

		if !match.Votable() || time.Now().After(match.EndAt) {
			outcome = VoteMatchClosed
			return nil
		}

		record := models.VoteRecord{MatchID: matchID, VoterID: voterID, Side: side}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&record)
		if res.Error != nil {
			return fmt.Errorf("insert vote record: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			outcome = VoteAlreadyCast
			return nil
		}

		column := "left_votes"
		if side == models.SideRight {
			column = "right_votes"
		}
		bump := tx.Model(&models.Match{}).
			Where("id = ? AND status IN ?", matchID, []string{models.MatchOpen, models.MatchReopened}).
			UpdateColumn(column, gorm.Expr(column+" + 1"))
		if bump.Error != nil {
			return fmt.Errorf("increment %s: %w", column, bump.Error)
		}
		if bump.RowsAffected == 0 {
			// A resolver won the race and moved the match out of open; the
			// vote record insert rolls back with us.
			outcome = VoteMatchClosed
			return errVoteRaceLost
		}

		return tx.First(&match, "id = ?", matchID).Error
	})
	if errors.Is(err, errVoteRaceLost) {
		return VoteMatchClosed, nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	if outcome != VoteAccepted {
		return outcome, nil, nil
	}
	return VoteAccepted, &match, nil
}

var errVoteRaceLost = errors.New("match resolved mid-vote")

// Tally returns the current (left, right) totals for live display.
func (s *VoteService) Tally(matchID string) (*models.Match, error) {
	var match models.Match
	if err := s.DB.First(&match, "id = ?", matchID).Error; err != nil {
		return nil, err
	}
	return &match, nil
}

// CastVote handles POST /matches/:id/votes
func (s *VoteService) CastVote(c *fiber.Ctx) error {
	matchID := c.Params("id")
	voterID, _ := c.Locals("user_id").(string)
	if voterID == "" {
		return c.Status(401).JSON(fiber.Map{"error": "missing user context"})
	}

	type Req struct {
		Side string `json:"side" validate:"oneof=left right"`
	}
	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}
	if req.Side != models.SideLeft && req.Side != models.SideRight {
		return c.Status(400).JSON(fiber.Map{"error": "side must be 'left' or 'right'"})
	}

	outcome, match, err := s.Cast(matchID, voterID, req.Side)
	if err != nil {
		log.Printf("ERROR casting vote on match %s: %v", matchID, err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to record vote"})
	}

	switch outcome {
	case VoteMatchNotFound:
		return c.Status(404).JSON(fiber.Map{"error": "match not found"})
	case VoteMatchClosed:
		return c.Status(409).JSON(fiber.Map{"error": "voting has closed for this match"})
	case VoteAlreadyCast:
		return c.Status(409).JSON(fiber.Map{"error": "you already voted in this match"})
	}

	return c.JSON(fiber.Map{
		"message":     "vote recorded",
		"match_id":    match.ID,
		"left_votes":  match.LeftVotes,
		"right_votes": match.RightVotes,
	})
}

// GetMatchTally handles GET /matches/:id
func (s *VoteService) GetMatchTally(c *fiber.Ctx) error {
	match, err := s.Tally(c.Params("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "match not found"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "DB error"})
	}
	return c.JSON(match)
}
