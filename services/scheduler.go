// services/scheduler.go
package services

import (
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartTickScheduler drives the tournament engine. Every tick scans all open
// tournaments and advances whichever ones hit a deadline; the interval only
// bounds how late a transition can fire, never its correctness.
func (s *EngineService) StartTickScheduler(interval time.Duration) {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	_, _ = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			events := s.Tick()
			for _, ev := range events {
				log.Printf("[ENGINE] %s tournament=%s round=%d match=%s subject=%s",
					ev.Type, ev.TournamentID, ev.RoundIndex, ev.MatchID, ev.SubjectID)
			}
		}),
	)
}
