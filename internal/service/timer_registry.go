package service

import (
	"sync"
	"time"

	"random-chat-be/internal/metrics"
	"random-chat-be/internal/pkg/logger"
)

// StageFunc is called for every inactivity stage. stage counts from zero and final
// is set on the last one. Returning false stops the escalation early.
type StageFunc func(stage int, final bool) bool

type timerHandle struct {
	timer *time.Timer
}

// TimerRegistry owns the per-user search timeout and inactivity escalation timers.
// Each user has at most one live timer of each kind. A callback only runs if its
// handle is still registered when the timer fires, so a cancel that wins the race
// suppresses it; a callback that already started runs to completion and must
// re-check state itself.
type TimerRegistry struct {
	mu         sync.Mutex
	search     map[int64]*timerHandle
	inactivity map[int64]*timerHandle
	closed     bool
	inflight   sync.WaitGroup
	logger     logger.ILogger
}

func NewTimerRegistry(logger logger.ILogger) *TimerRegistry {
	return &TimerRegistry{
		search:     make(map[int64]*timerHandle),
		inactivity: make(map[int64]*timerHandle),
		logger:     logger,
	}
}

// ScheduleSearchTimeout replaces any search timer of id. It returns false once the
// registry is closed.
func (r *TimerRegistry) ScheduleSearchTimeout(id int64, delay time.Duration, onFire func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}
	r.stopLocked(r.search, id)

	h := &timerHandle{}
	r.search[id] = h
	h.timer = time.AfterFunc(delay, func() {
		if !r.claim(r.search, id, h, true) {
			return
		}
		defer r.inflight.Done()
		onFire()
	})
	r.publishLocked()
	return true
}

func (r *TimerRegistry) CancelSearchTimeout(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopLocked(r.search, id)
	r.publishLocked()
}

// ScheduleInactivityEscalation replaces any escalation of id with a new one whose
// stages fire at the given cumulative offsets from now.
func (r *TimerRegistry) ScheduleInactivityEscalation(id int64, stages []time.Duration, onStage StageFunc) bool {
	if len(stages) == 0 {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}
	r.stopLocked(r.inactivity, id)

	h := &timerHandle{}
	r.inactivity[id] = h
	r.armStageLocked(id, h, stages, 0, time.Now(), onStage)
	r.publishLocked()
	return true
}

func (r *TimerRegistry) CancelInactivityEscalation(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopLocked(r.inactivity, id)
	r.publishLocked()
}

// CancelAll drops both timers of id.
func (r *TimerRegistry) CancelAll(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopLocked(r.search, id)
	r.stopLocked(r.inactivity, id)
	r.publishLocked()
}

func (r *TimerRegistry) ActiveCounts() (search int, inactivity int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.search), len(r.inactivity)
}

// Close cancels every pending timer, rejects new ones and waits for callbacks
// that are already running.
func (r *TimerRegistry) Close() {
	r.mu.Lock()
	r.closed = true
	r.logger.Info("TimerRegistry", "Closing", map[string]interface{}{
		"search":     len(r.search),
		"inactivity": len(r.inactivity),
	})
	for id := range r.search {
		r.stopLocked(r.search, id)
	}
	for id := range r.inactivity {
		r.stopLocked(r.inactivity, id)
	}
	r.publishLocked()
	r.mu.Unlock()

	r.inflight.Wait()
}

func (r *TimerRegistry) armStageLocked(id int64, h *timerHandle, stages []time.Duration, stage int, start time.Time, onStage StageFunc) {
	delay := time.Until(start.Add(stages[stage]))
	if delay < 0 {
		delay = 0
	}
	final := stage == len(stages)-1

	h.timer = time.AfterFunc(delay, func() {
		if !r.claim(r.inactivity, id, h, final) {
			return
		}
		defer r.inflight.Done()

		if !onStage(stage, final) || final {
			r.release(id, h)
			return
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		// A reply or a cancel during the callback replaced or removed the handle.
		if r.closed || r.inactivity[id] != h {
			return
		}
		r.armStageLocked(id, h, stages, stage+1, start, onStage)
	})
}

// claim checks that h is still the registered handle and marks a callback in
// flight. With remove set the handle is unregistered as well.
func (r *TimerRegistry) claim(slots map[int64]*timerHandle, id int64, h *timerHandle, remove bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || slots[id] != h {
		return false
	}
	if remove {
		delete(slots, id)
		r.publishLocked()
	}
	r.inflight.Add(1)
	return true
}

func (r *TimerRegistry) release(id int64, h *timerHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inactivity[id] == h {
		delete(r.inactivity, id)
		r.publishLocked()
	}
}

func (r *TimerRegistry) stopLocked(slots map[int64]*timerHandle, id int64) {
	if h, ok := slots[id]; ok {
		h.timer.Stop()
		delete(slots, id)
	}
}

func (r *TimerRegistry) publishLocked() {
	metrics.SetTimers(len(r.search), len(r.inactivity))
}
