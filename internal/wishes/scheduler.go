package wishes

import (
	"sync"
	"time"
)

// Timer is the cancellable handle returned by a TimerFunc.
type Timer interface {
	Stop() bool
}

// TimerFunc arms a one-shot timer that calls task after delay.
type TimerFunc func(delay time.Duration, task func()) Timer

// RealTimer arms timers on the runtime clock.
func RealTimer(delay time.Duration, task func()) Timer {
	return time.AfterFunc(delay, task)
}

// Debouncer holds at most one deferred task. Scheduling a new task replaces
// the pending one and restarts the quiet period.
type Debouncer struct {
	mu         sync.Mutex
	window     time.Duration
	arm        TimerFunc
	timer      Timer
	task       func()
	generation uint64
}

// NewDebouncer returns a Debouncer with the given quiet period. A nil arm uses RealTimer.
func NewDebouncer(window time.Duration, arm TimerFunc) *Debouncer {
	if arm == nil {
		arm = RealTimer
	}
	return &Debouncer{window: window, arm: arm}
}

// Schedule cancels any pending task and defers task until the window elapses without another call.
func (d *Debouncer) Schedule(task func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.generation++
	generation := d.generation
	d.task = task
	d.timer = d.arm(d.window, func() {
		d.fire(generation)
	})
}

// Pending reports whether a task is waiting to run.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.task != nil
}

// Flush runs the pending task, if any, on the calling goroutine.
func (d *Debouncer) Flush() {
	task := d.take(0, false)
	if task != nil {
		task()
	}
}

// Stop discards the pending task without running it.
func (d *Debouncer) Stop() {
	d.take(0, false)
}

func (d *Debouncer) fire(generation uint64) {
	task := d.take(generation, true)
	if task != nil {
		task()
	}
}

// take detaches the pending task. When matchGeneration is set, a timer that
// was superseded after it fired gets nothing.
func (d *Debouncer) take(generation uint64, matchGeneration bool) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if matchGeneration && generation != d.generation {
		return nil
	}
	task := d.task
	if d.timer != nil {
		d.timer.Stop()
	}
	d.task = nil
	d.timer = nil
	d.generation++
	return task
}
