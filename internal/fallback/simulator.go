package fallback

import (
	"sync"
	"time"

	"workbench/internal/stream"
)

// Scheduler 可取消的延时任务抽象；测试用 ManualScheduler 驱动
// Scheduler schedules a delayed callback and returns a cancel func.
// Production uses timers; tests drive a ManualScheduler without real
// delays.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) (cancel func())
}

// TimerScheduler backs the scheduler with real timers.
type TimerScheduler struct{}

func (TimerScheduler) AfterFunc(d time.Duration, fn func()) func() {
	timer := time.AfterFunc(d, fn)
	return func() { timer.Stop() }
}

// ManualScheduler queues callbacks and fires them on demand.
type ManualScheduler struct {
	mu      sync.Mutex
	pending []*manualTask
}

type manualTask struct {
	fn       func()
	canceled bool
}

func (m *ManualScheduler) AfterFunc(_ time.Duration, fn func()) func() {
	task := &manualTask{fn: fn}
	m.mu.Lock()
	m.pending = append(m.pending, task)
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		task.canceled = true
		m.mu.Unlock()
	}
}

// Fire runs the oldest pending callback; returns false when none remain.
func (m *ManualScheduler) Fire() bool {
	for {
		m.mu.Lock()
		if len(m.pending) == 0 {
			m.mu.Unlock()
			return false
		}
		task := m.pending[0]
		m.pending = m.pending[1:]
		m.mu.Unlock()
		if task.canceled {
			continue
		}
		task.fn()
		return true
	}
}

// Drain fires pending callbacks until none remain.
func (m *ManualScheduler) Drain() {
	for m.Fire() {
	}
}

// EventFunc receives one simulated event for a message.
type EventFunc func(messageID string, event stream.Event)

// Simulator synthesizes the backend's event sequence locally when the
// transport is unavailable or errors mid-stream. It honors the same
// accumulator contract as the real stream, so a turn that falls back keeps
// its partially-accumulated content and the simulator appends to it
// (start is idempotent on the accumulator side).
type Simulator struct {
	scheduler Scheduler
	interval  time.Duration
}

func New(scheduler Scheduler, interval time.Duration) *Simulator {
	if scheduler == nil {
		scheduler = TimerScheduler{}
	}
	if interval <= 0 {
		interval = 400 * time.Millisecond
	}
	return &Simulator{scheduler: scheduler, interval: interval}
}

// Run is a cancel handle for one simulated turn.
type Run struct {
	mu          sync.Mutex
	canceled    bool
	cancelTimer func()
}

// Cancel stops the run; no further events are emitted.
func (r *Run) Cancel() {
	r.mu.Lock()
	r.canceled = true
	if r.cancelTimer != nil {
		r.cancelTimer()
		r.cancelTimer = nil
	}
	r.mu.Unlock()
}

func (r *Run) isCanceled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canceled
}

// Simulate picks the canned scenario for userInput and emits its events at
// a fixed cadence: start, step, text fragments, table rows for schema
// scenarios, a final step, then done carrying the same meta shape the real
// transport would produce. onDone runs after the terminal event or not at
// all if the run is canceled first.
func (s *Simulator) Simulate(userInput, messageID string, onEvent EventFunc, onDone func()) *Run {
	scenario := pickScenario(userInput)
	events := scenario.events()
	run := &Run{}
	s.emitNext(run, messageID, events, onEvent, onDone)
	return run
}

func (s *Simulator) emitNext(run *Run, messageID string, events []stream.Event, onEvent EventFunc, onDone func()) {
	if run.isCanceled() {
		return
	}
	if len(events) == 0 {
		if onDone != nil {
			onDone()
		}
		return
	}
	cancel := s.scheduler.AfterFunc(s.interval, func() {
		if run.isCanceled() {
			return
		}
		if onEvent != nil {
			onEvent(messageID, events[0])
		}
		s.emitNext(run, messageID, events[1:], onEvent, onDone)
	})
	run.mu.Lock()
	run.cancelTimer = cancel
	run.mu.Unlock()
}
