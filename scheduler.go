package mauzr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
)

// DefaultMaxSleep caps how long the scheduler idles between checks.
const DefaultMaxSleep = time.Second

// Tasks due within fireThreshold are fired instead of idling for them.
const fireThreshold = 10 * time.Millisecond

// Task is a timer created by a Scheduler. New tasks start disabled.
type Task interface {
	// Enable schedules the task one delay from now, or now if instant is set.
	Enable(instant bool)

	// Disable stops the task from firing.
	Disable()

	// Enabled reports whether the task is scheduled.
	Enabled() bool
}

// Scheduler runs timers and an idle activity on a single goroutine.
type Scheduler interface {
	// Every creates a task that repeats every d once enabled.
	Every(d time.Duration, fn func()) Task

	// After creates a task that fires once, d after being enabled.
	After(d time.Duration, fn func()) Task

	// Idle installs fn as the activity run while no task is due. fn receives
	// the time it may take and must return within roughly that time.
	// A nil fn restores the default sleeper.
	Idle(fn func(timeout time.Duration))
}

type loopTask struct {
	sched   *LoopScheduler
	fn      func()
	delay   time.Duration
	repeat  bool
	at      time.Time
	enabled bool
}

func (t *loopTask) Enable(instant bool) {
	s := t.sched
	s.mu.Lock()
	t.at = s.now()
	if !instant {
		t.at = t.at.Add(t.delay)
	}
	t.enabled = true
	s.mu.Unlock()

	s.notify()
}

func (t *loopTask) Disable() {
	s := t.sched
	s.mu.Lock()
	t.enabled = false
	s.mu.Unlock()

	s.notify()
}

func (t *loopTask) Enabled() bool {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	return t.enabled
}

// LoopScheduler is a Scheduler that runs due tasks in a loop and otherwise
// hands the time until the next task, at most MaxSleep, to the idle activity.
type LoopScheduler struct {
	mu       sync.Mutex
	tasks    []*loopTask
	idle     func(time.Duration)
	maxSleep time.Duration
	now      func() time.Time
	logger   Logger

	wake     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewLoopScheduler creates a scheduler. A maxSleep of zero means DefaultMaxSleep.
func NewLoopScheduler(maxSleep time.Duration, logger Logger) *LoopScheduler {
	if maxSleep <= 0 {
		maxSleep = DefaultMaxSleep
	}
	if logger == nil {
		logger = NewNoOpLogger()
	}

	return &LoopScheduler{
		maxSleep: maxSleep,
		now:      time.Now,
		logger:   logger,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Every creates a repeating task.
func (s *LoopScheduler) Every(d time.Duration, fn func()) Task {
	return s.add(d, fn, true)
}

// After creates a one-shot task.
func (s *LoopScheduler) After(d time.Duration, fn func()) Task {
	return s.add(d, fn, false)
}

// Idle sets the idle activity.
func (s *LoopScheduler) Idle(fn func(time.Duration)) {
	s.mu.Lock()
	s.idle = fn
	s.mu.Unlock()

	s.notify()
}

func (s *LoopScheduler) add(d time.Duration, fn func(), repeat bool) Task {
	t := &loopTask{sched: s, fn: fn, delay: d, repeat: repeat}

	s.mu.Lock()
	s.tasks = append(s.tasks, t)
	s.mu.Unlock()

	return t
}

// Run serves tasks until ctx is done or Shutdown is called. A panicking task
// stops the loop and is returned as an error.
func (s *LoopScheduler) Run(ctx context.Context) error {
	var wg conc.WaitGroup

	wg.Go(func() {
		select {
		case <-ctx.Done():
			s.Shutdown()
		case <-s.done:
		}
	})

	wg.Go(func() {
		defer s.Shutdown()
		s.logger.Debug("scheduler serving", nil)
		s.loop()
	})

	if recovered := wg.WaitAndRecover(); recovered != nil {
		return fmt.Errorf("scheduler task failed: %w", recovered.AsError())
	}
	return nil
}

// Shutdown stops the loop. A running idle activity or task is not interrupted.
func (s *LoopScheduler) Shutdown() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
}

// Done is closed once the scheduler is shut down.
func (s *LoopScheduler) Done() <-chan struct{} {
	return s.done
}

func (s *LoopScheduler) loop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		fn, idle, timeout := s.next()
		if fn != nil {
			fn()
			continue
		}
		idle(timeout)
	}
}

// next returns the task to fire now, or the idle activity and its timeout.
func (s *LoopScheduler) next() (func(), func(time.Duration), time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idle := s.idle
	if idle == nil {
		idle = s.sleep
	}

	var due *loopTask
	for _, t := range s.tasks {
		if t.enabled && (due == nil || t.at.Before(due.at)) {
			due = t
		}
	}
	if due == nil {
		return nil, idle, s.maxSleep
	}

	now := s.now()
	delay := min(max(due.at.Sub(now), 0), s.maxSleep)
	if delay > fireThreshold {
		return nil, idle, delay
	}

	if due.repeat {
		due.at = now.Add(due.delay)
	} else {
		due.enabled = false
	}
	return due.fn, nil, 0
}

// sleep is the default idle activity. Task changes cut it short.
func (s *LoopScheduler) sleep(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-s.wake:
	case <-s.done:
	}
}

func (s *LoopScheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
