package moderation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngwarden/internal/compliance"
)

type expirySweeper interface {
	SweepExpiredByTime(ctx context.Context, threshold time.Duration) (compliance.SweepReport, error)
}

// Sweeper periodically restricts users whose compliance cycle outlived the
// time threshold. A tick that arrives while a sweep is still running is skipped.
type Sweeper struct {
	engine    expirySweeper
	threshold time.Duration
	interval  time.Duration

	running atomic.Bool

	runMutex  sync.Mutex
	started   bool
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

func NewSweeper(engine expirySweeper, threshold, interval time.Duration) *Sweeper {
	return &Sweeper{
		engine:    engine,
		threshold: threshold,
		interval:  interval,
	}
}

func (s *Sweeper) getLogEntry() *log.Entry {
	return log.WithField("object", "Sweeper")
}

// Sweep runs one pass. It reports false when another pass was in flight.
func (s *Sweeper) Sweep(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.getLogEntry().Debug("previous sweep still running, skipping")
		return false
	}
	defer s.running.Store(false)

	if _, err := s.engine.SweepExpiredByTime(ctx, s.threshold); err != nil && ctx.Err() == nil {
		s.getLogEntry().WithField("error", err.Error()).Error("sweep failed")
	}
	return true
}

func (s *Sweeper) Start(ctx context.Context) error {
	s.runMutex.Lock()
	defer s.runMutex.Unlock()
	if s.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.runCancel = cancel
	s.started = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.wg.Add(1)
				go func() {
					defer s.wg.Done()
					s.Sweep(runCtx)
				}()
			}
		}
	}()

	s.getLogEntry().WithFields(log.Fields{
		"interval":  s.interval.String(),
		"threshold": s.threshold.String(),
	}).Info("sweeper started")
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
	s.runMutex.Lock()
	if !s.started {
		s.runMutex.Unlock()
		return nil
	}
	s.started = false
	cancel := s.runCancel
	s.runCancel = nil
	s.runMutex.Unlock()

	cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
