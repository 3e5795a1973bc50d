package orchestrator

import (
	"context"
	"math"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// phaseTimer is the running timer of the current phase. Closing stop ends
// its goroutine without posting anything.
type phaseTimer struct {
	stop  chan struct{}
	timer clockwork.Timer
}

// schedule starts the timer for a new phase of length d. Any previous timer
// is cancelled first and the epoch advances, so messages posted by older
// timers are ignored by the actor.
func (s *Session) schedule(d time.Duration) {
	s.cancelTimer()
	s.epoch++
	epoch := s.epoch
	s.phaseStarted = s.clock.Now()
	s.phaseDuration = d

	timer := s.clock.NewTimer(d)
	ticker := s.clock.NewTicker(s.opts.TickInterval)
	stop := make(chan struct{})
	s.timer = &phaseTimer{stop: stop, timer: timer}

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-timer.Chan():
				s.post(expiryMsg{epoch: epoch}, stop)
				return
			case <-ticker.Chan():
				if !s.post(tickMsg{epoch: epoch}, stop) {
					stopAndDrainTimer(timer)
					return
				}
			case <-stop:
				stopAndDrainTimer(timer)
				return
			case <-s.done:
				stopAndDrainTimer(timer)
				return
			}
		}
	}()

	log.Debug().
		Str("session_code", s.code).
		Int("round", s.round).
		Str("phase", string(s.phase)).
		Uint64("epoch", epoch).
		Dur("duration", d).
		Msg("scheduled phase timer")
}

// cancelTimer stops the active phase timer, if any.
func (s *Session) cancelTimer() {
	if s.timer == nil {
		return
	}
	close(s.timer.stop)
	s.timer = nil
	log.Debug().Str("session_code", s.code).Uint64("epoch", s.epoch).Msg("cancelled phase timer")
}

// remaining is the time left in the current phase, never negative.
func (s *Session) remaining() time.Duration {
	if s.timer == nil {
		return 0
	}
	left := s.phaseDuration - s.clock.Now().Sub(s.phaseStarted)
	if left < 0 {
		return 0
	}
	return left
}

func (s *Session) remainingSec() int {
	return seconds(s.remaining())
}

// seconds rounds d up to whole seconds.
func seconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}

// scheduleEviction drops the session from the registry once the retention
// period after completion has passed.
func (s *Session) scheduleEviction() {
	t := s.clock.NewTimer(s.opts.RetainCompleted)
	go func() {
		select {
		case <-t.Chan():
			s.post(evictMsg{}, nil)
		case <-s.done:
			stopAndDrainTimer(t)
		}
	}()
}

// cancelStandIns aborts in-flight stand-in lookups of the current phase.
func (s *Session) cancelStandIns() {
	if s.standInCancel != nil {
		s.standInCancel()
		s.standInCancel = nil
	}
}

func (s *Session) standInContext() context.Context {
	s.cancelStandIns()
	ctx, cancel := context.WithCancel(context.Background())
	s.standInCancel = cancel
	return ctx
}

// stopAndDrainTimer stops a timer and drains its channel if it already fired.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
