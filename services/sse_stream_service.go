package services

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"stylo-battle-system/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type StreamService struct {
	DB *gorm.DB
}

func NewStreamService(db *gorm.DB) *StreamService {
	return &StreamService{DB: db}
}

// eventCursor tracks the read position in a tournament's event feed. The
// timestamp alone is not enough: several events can commit with the same
// emitted_at, so the cursor also keeps the ids already delivered at the
// boundary and the next read starts at the boundary inclusive.
type eventCursor struct {
	at   time.Time
	seen map[string]bool
}

// initCursor positions the cursor past everything already emitted.
func (s *StreamService) initCursor(tournamentID string) *eventCursor {
	cur := &eventCursor{seen: map[string]bool{}}

	var latest models.EngineEvent
	err := s.DB.
		Where("tournament_id = ?", tournamentID).
		Order("emitted_at DESC").
		First(&latest).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("SSE init error for tournament %s: %v", tournamentID, err)
		}
		return cur
	}

	cur.at = latest.EmittedAt
	var boundary []models.EngineEvent
	if err := s.DB.
		Where("tournament_id = ? AND emitted_at = ?", tournamentID, cur.at).
		Find(&boundary).Error; err != nil {
		log.Printf("SSE init error for tournament %s: %v", tournamentID, err)
		return cur
	}
	for _, ev := range boundary {
		cur.seen[ev.ID] = true
	}
	return cur
}

// nextEvents returns undelivered events in emission order and advances the
// cursor past them.
func (s *StreamService) nextEvents(tournamentID string, cur *eventCursor) ([]models.EngineEvent, error) {
	var batch []models.EngineEvent
	if err := s.DB.
		Where("tournament_id = ? AND emitted_at >= ?", tournamentID, cur.at).
		Order("emitted_at ASC").
		Find(&batch).Error; err != nil {
		return nil, err
	}

	var fresh []models.EngineEvent
	for _, ev := range batch {
		if ev.EmittedAt.Equal(cur.at) && cur.seen[ev.ID] {
			continue
		}
		if ev.EmittedAt.After(cur.at) {
			cur.at = ev.EmittedAt
			cur.seen = map[string]bool{}
		}
		cur.seen[ev.ID] = true
		fresh = append(fresh, ev)
	}
	return fresh, nil
}

// StreamTournamentEventsSSE streams engine events for one tournament as they
// are committed: round starts, decisions, re-votes, wildcard matches, the
// champion. Events are read back from the events table so a client that
// reconnects never misses a transition.
func (s *StreamService) StreamTournamentEventsSSE(c *fiber.Ctx) error {
	tournamentID := c.Params("id")

	var tournament models.Tournament
	if err := s.DB.First(&tournament, "id = ?", tournamentID).Error; err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "tournament not found"})
	}

	// SSE headers
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()

		cursor := s.initCursor(tournamentID)

		// Initial keepalive (comment event)
		w.WriteString(":\n\n")
		w.Flush()

		for {
			select {
			case <-ticker.C:
				events, err := s.nextEvents(tournamentID, cursor)
				if err != nil {
					log.Printf("SSE query error for tournament %s: %v", tournamentID, err)
					continue
				}
				if len(events) == 0 {
					continue
				}

				for _, ev := range events {
					payload, _ := json.Marshal(ev)
					fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
				}
				if err := w.Flush(); err != nil {
					// Client disconnected
					return
				}

			case <-c.Context().Done():
				// Client closed connection
				return
			}
		}
	})

	return nil
}
