package state

import "time"

// slot is a cancellable single-shot timer handle. Arming always
// invalidates any previous instance; a stale fire that raced the cancel
// is discarded by the generation check. Arm and cancel run only on the
// engine goroutine, and the fire callback is posted back onto it, so
// the generation counter needs no lock.
type slot struct {
	timer *time.Timer
	gen   uint64
}

// arm schedules fn after d, cancelling any previously armed instance.
// fn runs on the engine goroutine and only if the slot has not been
// re-armed or cancelled in the meantime.
func (s *slot) arm(e *Engine, d time.Duration, fn func()) {
	s.cancel()
	gen := s.gen
	s.timer = time.AfterFunc(d, func() {
		e.post(func() {
			if s.gen == gen {
				s.timer = nil
				fn()
			}
		})
	})
}

// cancel invalidates the armed instance, if any.
func (s *slot) cancel() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
}
