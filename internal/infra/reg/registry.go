// Package reg caches the monitored group's administrator ids.
package reg

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

type adminSource interface {
	GetAdministratorIDs(ctx context.Context, groupID int64) ([]int64, error)
}

// AdminRegistry is refreshed at Start and then every interval. Lookups never
// block on the platform.
type AdminRegistry struct {
	source   adminSource
	groupID  int64
	interval time.Duration

	mu     sync.RWMutex
	admins map[int64]struct{}

	runMutex  sync.Mutex
	started   bool
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

func NewAdminRegistry(source adminSource, groupID int64, interval time.Duration) *AdminRegistry {
	return &AdminRegistry{
		source:   source,
		groupID:  groupID,
		interval: interval,
		admins:   map[int64]struct{}{},
	}
}

func (r *AdminRegistry) getLogEntry() *log.Entry {
	return log.WithField("object", "AdminRegistry")
}

func (r *AdminRegistry) IsAdmin(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.admins[userID]
	return ok
}

func (r *AdminRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.admins)
}

// Refresh replaces the cached ids. On failure the previous set is kept.
func (r *AdminRegistry) Refresh(ctx context.Context) error {
	ids, err := r.source.GetAdministratorIDs(ctx, r.groupID)
	if err != nil {
		return err
	}
	admins := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		admins[id] = struct{}{}
	}
	r.mu.Lock()
	r.admins = admins
	r.mu.Unlock()
	r.getLogEntry().WithFields(log.Fields{
		"group_id": r.groupID,
		"count":    len(admins),
	}).Debug("administrators refreshed")
	return nil
}

func (r *AdminRegistry) Start(ctx context.Context) error {
	r.runMutex.Lock()
	defer r.runMutex.Unlock()
	if r.started {
		return nil
	}

	if err := r.Refresh(ctx); err != nil {
		r.getLogEntry().WithField("error", err.Error()).Error("cant fetch administrators")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r.runCancel = cancel
	r.started = true
	if r.interval <= 0 {
		return nil
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if err := r.Refresh(runCtx); err != nil && runCtx.Err() == nil {
					r.getLogEntry().WithField("error", err.Error()).Warn("cant refresh administrators")
				}
			}
		}
	}()
	return nil
}

func (r *AdminRegistry) Stop(ctx context.Context) error {
	r.runMutex.Lock()
	if !r.started {
		r.runMutex.Unlock()
		return nil
	}
	r.started = false
	cancel := r.runCancel
	r.runCancel = nil
	r.runMutex.Unlock()

	cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
