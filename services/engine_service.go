package services

import (
	"fmt"
	"log"
	"sort"
	"time"

	"stylo-battle-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EngineService owns the tournament state machine: entry → voting(round n) →
// closed. Time is only observed at tick boundaries; everything else is a
// function of persisted state.
type EngineService struct {
	DB       *gorm.DB
	Brackets *BracketService
}

func NewEngineService(db *gorm.DB, brackets *BracketService) *EngineService {
	return &EngineService{DB: db, Brackets: brackets}
}

// Tick advances every non-closed tournament that has hit a deadline and
// returns the state-change events produced. Tournaments are processed
// independently: one failing never blocks the rest of the scan.
func (s *EngineService) Tick() []models.EngineEvent {
	var tournaments []models.Tournament
	if err := s.DB.Where("phase <> ?", models.PhaseClosed).Find(&tournaments).Error; err != nil {
		log.Printf("[ENGINE] DB error scanning tournaments: %v", err)
		return nil
	}

	var events []models.EngineEvent
	for _, t := range tournaments {
		evs, err := s.TickTournament(t.ID)
		if err != nil {
			log.Printf("[ENGINE] tick failed for tournament %s: %v", t.ID, err)
			continue
		}
		events = append(events, evs...)
	}
	return events
}

// TickTournament runs one phase-controller pass for a single tournament.
func (s *EngineService) TickTournament(id string) ([]models.EngineEvent, error) {
	var t models.Tournament
	if err := s.DB.First(&t, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("fetch tournament: %w", err)
	}

	now := time.Now()
	switch t.Phase {
	case models.PhaseEntry:
		if now.Before(t.EntryEndAt) {
			return nil, nil
		}
		return s.closeEntries(&t)
	case models.PhaseVoting:
		if t.RoundEndAt == nil || now.Before(*t.RoundEndAt) {
			return nil, nil
		}
		return s.ResolveRound(&t, false)
	}
	return nil, nil
}

// ForceResolveRound is the administrative early-advance. It runs the exact
// same coordinator path as a deadline-triggered resolution, with the per-match
// deadline checks bypassed.
func (s *EngineService) ForceResolveRound(id string) ([]models.EngineEvent, error) {
	var t models.Tournament
	if err := s.DB.First(&t, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("fetch tournament: %w", err)
	}
	if t.Phase != models.PhaseVoting {
		return nil, nil
	}
	return s.ResolveRound(&t, true)
}

// closeEntries performs the Entry → Voting transition. The phase flip is a
// compare-and-swap on phase='entry' so two overlapping ticks cannot both
// generate round 1: the loser of the race sees zero rows affected and stops.
func (s *EngineService) closeEntries(t *models.Tournament) ([]models.EngineEvent, error) {
	var events []models.EngineEvent

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Tournament{}).
			Where("id = ? AND phase = ?", t.ID, models.PhaseEntry).
			Update("phase", models.PhaseVoting)
		if res.Error != nil {
			return fmt.Errorf("phase CAS: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil // another tick won the transition
		}
		t.Phase = models.PhaseVoting

		var participants []models.Participant
		if err := tx.Where("tournament_id = ?", t.ID).Find(&participants).Error; err != nil {
			return fmt.Errorf("fetch participants: %w", err)
		}
		var eligible []models.Participant
		for _, p := range participants {
			if p.Eligible() {
				eligible = append(eligible, p)
			}
		}

		outcome, champion, _, err := s.Brackets.GenerateEntryBracket(tx, t, eligible)
		if err != nil {
			return err
		}

		switch outcome {
		case BracketCancelled:
			now := time.Now()
			if err := tx.Model(&models.Tournament{}).Where("id = ?", t.ID).
				Updates(map[string]interface{}{"phase": models.PhaseClosed, "cancelled_at": now}).Error; err != nil {
				return fmt.Errorf("close cancelled tournament: %w", err)
			}
			events = append(events, s.emit(tx, t, models.EventTournamentCancelled, "", nil))
		case BracketInstantChampion:
			if err := tx.Model(&models.Tournament{}).Where("id = ?", t.ID).
				Updates(map[string]interface{}{"phase": models.PhaseClosed, "champion_id": champion.ID}).Error; err != nil {
				return fmt.Errorf("close instant-champion tournament: %w", err)
			}
			events = append(events, s.emit(tx, t, models.EventChampionDeclared, champion.ID, nil))
		case BracketMatches:
			events = append(events, s.emit(tx, t, models.EventRoundStarted, "", nil))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// ResolveRound is the round coordinator. It resolves every due match, keeps
// the round open while any tie re-vote or wildcard match is pending, restores
// pool parity with a wildcard match when needed, and otherwise advances the
// bracket or declares a champion.
func (s *EngineService) ResolveRound(t *models.Tournament, force bool) ([]models.EngineEvent, error) {
	var events []models.EngineEvent

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var matches []models.Match
		if err := tx.Where("tournament_id = ? AND round_index = ?", t.ID, t.RoundIndex).
			Order("seq ASC").Find(&matches).Error; err != nil {
			return fmt.Errorf("fetch round matches: %w", err)
		}

		now := time.Now()
		anyPending := false
		for i := range matches {
			m := &matches[i]
			if m.Status == models.MatchDecided {
				continue
			}
			if !force && now.Before(m.EndAt) {
				anyPending = true
				continue
			}
			ev, err := s.resolveMatch(tx, t, m)
			if err != nil {
				return err
			}
			if ev != nil {
				events = append(events, *ev)
			}
			if m.Status != models.MatchDecided {
				anyPending = true
			}
		}

		if anyPending {
			return s.extendRoundDeadline(tx, t, matches)
		}

		pool, nextPending := s.winnersPool(t, matches)

		// Odd-pool rule: peel one challenger into a wildcard match against the
		// round's strongest loser. Removing exactly one pool member restores
		// parity, so one correction per round suffices.
		if len(pool)%2 == 1 && len(pool) > 1 {
			challenger := s.pickChallenger(t, pool)
			loserID := s.strongestLoser(matches, pool)
			if loserID != "" {
				match, err := s.Brackets.CreateWildcardMatch(tx, t, challenger, loserID)
				if err != nil {
					return err
				}
				if err := tx.Model(&models.Tournament{}).Where("id = ?", t.ID).
					Update("round_end_at", match.EndAt).Error; err != nil {
					return fmt.Errorf("extend round for wildcard match: %w", err)
				}
				events = append(events, s.emit(tx, t, models.EventWildcardMatchCreated, challenger, match))
				return nil
			}
			// No loser to challenge (round came entirely from carry-over):
			// the challenger keeps its automatic bye and pairing handles the
			// leftover as a pending entrant.
		}

		if nextPending != "" && len(pool) == 0 {
			// everyone else is out; the carried winner is the last standing
			return s.declareChampion(tx, t, nextPending, &events)
		}
		if len(pool) == 1 && nextPending == "" {
			return s.declareChampion(tx, t, pool[0], &events)
		}
		if len(pool) == 0 {
			now := time.Now()
			res := tx.Model(&models.Tournament{}).
				Where("id = ? AND phase = ?", t.ID, models.PhaseVoting).
				Updates(map[string]interface{}{"phase": models.PhaseClosed, "cancelled_at": now})
			if res.Error != nil {
				return fmt.Errorf("close empty-pool tournament: %w", res.Error)
			}
			if res.RowsAffected > 0 {
				events = append(events, s.emit(tx, t, models.EventTournamentCancelled, "", nil))
			}
			return nil
		}

		if len(pool) == 1 && nextPending != "" {
			pool = append(pool, nextPending)
			nextPending = ""
		}

		if _, err := s.Brackets.BuildRound(tx, t, pool, t.RoundIndex+1); err != nil {
			return err
		}
		if nextPending != "" {
			if err := tx.Model(&models.Tournament{}).Where("id = ?", t.ID).
				Updates(map[string]interface{}{"wildcard_id": nextPending, "wildcard_round": t.RoundIndex}).Error; err != nil {
				return fmt.Errorf("carry wildcard winner: %w", err)
			}
			t.WildcardID = &nextPending
			t.WildcardRound = t.RoundIndex
		}
		events = append(events, s.emit(tx, t, models.EventRoundStarted, "", nil))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// resolveMatch applies the tally at the deadline. Equal counts (including 0-0)
// reset the match for a fresh window; otherwise the strict majority side wins.
// Both branches are compare-and-swaps pinned on the status AND the tallies the
// decision was computed from: a vote committing between the read and the
// update leaves zero rows affected, and the loop re-reads and decides again on
// the fresh counts.
func (s *EngineService) resolveMatch(tx *gorm.DB, t *models.Tournament, m *models.Match) (*models.EngineEvent, error) {
	votable := []string{models.MatchOpen, models.MatchReopened}

	for {
		if m.Status == models.MatchDecided {
			return nil, nil
		}

		if m.LeftVotes == m.RightVotes {
			newEnd := time.Now().Add(time.Duration(t.VoteWindowSecs) * time.Second)
			res := tx.Model(&models.Match{}).
				Where("id = ? AND status IN ? AND end_at = ? AND left_votes = ? AND right_votes = ?",
					m.ID, votable, m.EndAt, m.LeftVotes, m.RightVotes).
				Updates(map[string]interface{}{
					"status":      models.MatchReopened,
					"left_votes":  0,
					"right_votes": 0,
					"end_at":      newEnd,
				})
			if res.Error != nil {
				return nil, fmt.Errorf("reopen match %s: %w", m.ID, res.Error)
			}
			if res.RowsAffected == 0 {
				if stop, err := s.refetchForRetry(tx, m); err != nil || stop {
					return nil, err
				}
				continue
			}
			if err := tx.Where("match_id = ?", m.ID).Delete(&models.VoteRecord{}).Error; err != nil {
				return nil, fmt.Errorf("clear vote records for %s: %w", m.ID, err)
			}
			m.Status = models.MatchReopened
			m.LeftVotes, m.RightVotes = 0, 0
			m.EndAt = newEnd
			ev := s.emit(tx, t, models.EventMatchReopened, "", m)
			return &ev, nil
		}

		winner := m.LeftID
		if m.RightVotes > m.LeftVotes {
			winner = m.RightID
		}
		// The losing tally is kept: strongest-loser selection needs it.
		res := tx.Model(&models.Match{}).
			Where("id = ? AND status IN ? AND left_votes = ? AND right_votes = ?",
				m.ID, votable, m.LeftVotes, m.RightVotes).
			Updates(map[string]interface{}{"status": models.MatchDecided, "winner_id": winner})
		if res.Error != nil {
			return nil, fmt.Errorf("decide match %s: %w", m.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			if stop, err := s.refetchForRetry(tx, m); err != nil || stop {
				return nil, err
			}
			continue
		}
		m.Status = models.MatchDecided
		m.WinnerID = &winner
		ev := s.emit(tx, t, models.EventMatchDecided, winner, m)
		return &ev, nil
	}
}

// refetchForRetry reloads a match after a lost CAS. Resolution retries only
// while the match is still past-deadline and undecided; a decided match or a
// fresh re-vote window means another resolver already handled it.
func (s *EngineService) refetchForRetry(tx *gorm.DB, m *models.Match) (bool, error) {
	if err := tx.First(m, "id = ?", m.ID).Error; err != nil {
		return true, err
	}
	if m.Status == models.MatchDecided || time.Now().Before(m.EndAt) {
		return true, nil
	}
	return false, nil
}

// winnersPool assembles the advancing pool once every match in the round is
// decided: one winner per primary match, excluding anyone who played this
// round's wildcard match (they advance via the pending-entrant carry instead),
// plus the round's pending wildcard entrant if it never got to play. The
// second return is the wildcard-match winner to carry into the next round.
func (s *EngineService) winnersPool(t *models.Tournament, matches []models.Match) ([]string, string) {
	inWildcard := map[string]bool{}
	nextPending := ""
	for _, m := range matches {
		if m.Wildcard {
			inWildcard[m.LeftID] = true
			inWildcard[m.RightID] = true
			if m.WinnerID != nil {
				nextPending = *m.WinnerID
			}
		}
	}

	seen := map[string]bool{}
	var pool []string
	for _, m := range matches {
		if m.Wildcard || m.WinnerID == nil {
			continue
		}
		w := *m.WinnerID
		if seen[w] || inWildcard[w] {
			continue
		}
		seen[w] = true
		pool = append(pool, w)
	}

	if t.WildcardID != nil && t.WildcardRound == t.RoundIndex {
		pending := *t.WildcardID
		played := inWildcard[pending]
		for _, m := range matches {
			if m.LeftID == pending || m.RightID == pending {
				played = true
			}
		}
		if !played && !seen[pending] {
			pool = append(pool, pending)
		}
	}
	return pool, nextPending
}

// pickChallenger selects the pool member for the wildcard match: the pending
// wildcard entrant when it is in the pool, otherwise the lowest participant
// id. Fixed policy, reproducible across runs.
func (s *EngineService) pickChallenger(t *models.Tournament, pool []string) string {
	if t.WildcardID != nil && t.WildcardRound == t.RoundIndex {
		for _, id := range pool {
			if id == *t.WildcardID {
				return id
			}
		}
	}
	lowest := pool[0]
	for _, id := range pool[1:] {
		if id < lowest {
			lowest = id
		}
	}
	return lowest
}

// strongestLoser picks the wildcard opponent: the losing participant with the
// highest losing vote count this round, ties broken by highest match total,
// then lowest participant id. Returns "" when the round produced no losers.
func (s *EngineService) strongestLoser(matches []models.Match, pool []string) string {
	inPool := map[string]bool{}
	for _, id := range pool {
		inPool[id] = true
	}

	type loser struct {
		id          string
		losingVotes int64
		totalVotes  int64
	}
	var losers []loser
	for _, m := range matches {
		if m.WinnerID == nil {
			continue
		}
		id, votes := m.LeftID, m.LeftVotes
		if *m.WinnerID == m.LeftID {
			id, votes = m.RightID, m.RightVotes
		}
		if inPool[id] {
			continue
		}
		losers = append(losers, loser{id: id, losingVotes: votes, totalVotes: m.LeftVotes + m.RightVotes})
	}
	if len(losers) == 0 {
		return ""
	}
	sort.Slice(losers, func(i, j int) bool {
		if losers[i].losingVotes != losers[j].losingVotes {
			return losers[i].losingVotes > losers[j].losingVotes
		}
		if losers[i].totalVotes != losers[j].totalVotes {
			return losers[i].totalVotes > losers[j].totalVotes
		}
		return losers[i].id < losers[j].id
	})
	return losers[0].id
}

func (s *EngineService) extendRoundDeadline(tx *gorm.DB, t *models.Tournament, matches []models.Match) error {
	var latest time.Time
	for _, m := range matches {
		if m.Status != models.MatchDecided && m.EndAt.After(latest) {
			latest = m.EndAt
		}
	}
	if latest.IsZero() {
		return nil
	}
	if err := tx.Model(&models.Tournament{}).Where("id = ?", t.ID).
		Update("round_end_at", latest).Error; err != nil {
		return fmt.Errorf("extend round deadline: %w", err)
	}
	t.RoundEndAt = &latest
	return nil
}

func (s *EngineService) declareChampion(tx *gorm.DB, t *models.Tournament, championID string, events *[]models.EngineEvent) error {
	res := tx.Model(&models.Tournament{}).
		Where("id = ? AND phase = ?", t.ID, models.PhaseVoting).
		Updates(map[string]interface{}{
			"phase":        models.PhaseClosed,
			"champion_id":  championID,
			"round_end_at": nil,
			"wildcard_id":  nil,
		})
	if res.Error != nil {
		return fmt.Errorf("declare champion: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil
	}
	t.Phase = models.PhaseClosed
	t.ChampionID = &championID
	*events = append(*events, s.emit(tx, t, models.EventChampionDeclared, championID, nil))
	return nil
}

// emit persists one engine event inside the caller's transaction. Delivery to
// the collaborator is strictly after commit: the state change is durable even
// if nothing downstream ever renders it.
func (s *EngineService) emit(tx *gorm.DB, t *models.Tournament, kind, subjectID string, m *models.Match) models.EngineEvent {
	ev := models.EngineEvent{
		ID:           uuid.NewString(),
		TournamentID: t.ID,
		Type:         kind,
		RoundIndex:   t.RoundIndex,
		SubjectID:    subjectID,
	}
	if m != nil {
		ev.MatchID = m.ID
		ev.RoundIndex = m.RoundIndex
		ev.LeftVotes = m.LeftVotes
		ev.RightVotes = m.RightVotes
	}
	if err := tx.Create(&ev).Error; err != nil {
		log.Printf("[ENGINE] failed to persist event %s for %s: %v", kind, t.ID, err)
	}
	return ev
}
