package scheduler

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Job runs once when its timer fires. The context is canceled on Stop.
type Job func(ctx context.Context)

type timerEntry struct {
	timer *time.Timer
}

// Scheduler runs named delayed jobs. Scheduling a name that is already
// pending replaces the earlier job.
type Scheduler struct {
	mu      sync.Mutex
	timers  map[string]*timerEntry
	stopped bool

	runCtx    context.Context
	runCancel context.CancelFunc
	running   sync.WaitGroup
}

func New() *Scheduler {
	runCtx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		timers:    make(map[string]*timerEntry),
		runCtx:    runCtx,
		runCancel: cancel,
	}
}

func (s *Scheduler) getLogEntry() *log.Entry {
	return log.WithField("object", "Scheduler")
}

// Schedule arms job to run after delay under name. It reports false once the
// scheduler is stopped.
func (s *Scheduler) Schedule(name string, delay time.Duration, job Job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}
	if prev, ok := s.timers[name]; ok {
		prev.timer.Stop()
	}
	if delay < 0 {
		delay = 0
	}
	entry := &timerEntry{}
	entry.timer = time.AfterFunc(delay, func() {
		s.fire(name, entry, job)
	})
	s.timers[name] = entry
	s.getLogEntry().WithFields(log.Fields{
		"method": "Schedule",
		"job":    name,
		"delay":  delay.String(),
	}).Debug("job scheduled")
	return true
}

func (s *Scheduler) fire(name string, entry *timerEntry, job Job) {
	s.mu.Lock()
	if s.timers[name] != entry || s.stopped {
		s.mu.Unlock()
		return
	}
	delete(s.timers, name)
	s.running.Add(1)
	s.mu.Unlock()

	defer s.running.Done()
	defer func() {
		if r := recover(); r != nil {
			s.getLogEntry().WithFields(log.Fields{
				"method": "fire",
				"job":    name,
				"panic":  r,
			}).Error("job panicked")
		}
	}()
	job(s.runCtx)
}

// Cancel removes the pending job with name. It reports whether one was pending.
func (s *Scheduler) Cancel(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.timers[name]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(s.timers, name)
	return true
}

func (s *Scheduler) Pending(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[name]
	return ok
}

func (s *Scheduler) Start(context.Context) error {
	return nil
}

// Stop drops pending jobs and waits for running ones to return.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	for name, entry := range s.timers {
		entry.timer.Stop()
		delete(s.timers, name)
	}
	s.mu.Unlock()
	s.runCancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.running.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
