// Package lifecycle starts long-running components in registration order and
// stops them in reverse.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

type Component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type Runtime struct {
	mu         sync.Mutex
	components []Component
	running    []Component
}

func NewRuntime(components ...Component) *Runtime {
	r := &Runtime{}
	for _, component := range components {
		r.Register(component)
	}
	return r
}

// Register appends a component. Components registered after Start are only
// started by the next Start call.
func (r *Runtime) Register(component Component) {
	if component == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components = append(r.components, component)
}

// Start starts every registered component. When one fails, the ones already
// started are stopped again and the failure is returned.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.running) > 0 {
		return nil
	}

	started := make([]Component, 0, len(r.components))
	for _, component := range r.components {
		if err := component.Start(ctx); err != nil {
			_ = stopComponents(ctx, started)
			return fmt.Errorf("start %s: %w", nameOf(component), err)
		}
		log.WithField("component", nameOf(component)).Debug("started")
		started = append(started, component)
	}
	r.running = started
	return nil
}

// Stop stops the running components in reverse start order. Every component
// is asked to stop even when an earlier one fails; the failures are joined.
func (r *Runtime) Stop(ctx context.Context) error {
	r.mu.Lock()
	running := r.running
	r.running = nil
	r.mu.Unlock()

	return stopComponents(ctx, running)
}

func stopComponents(ctx context.Context, components []Component) error {
	var stopErr error
	for i := len(components) - 1; i >= 0; i-- {
		component := components[i]
		if err := component.Stop(ctx); err != nil {
			log.WithFields(log.Fields{
				"component": nameOf(component),
				"error":     err.Error(),
			}).Warn("stop failed")
			stopErr = errors.Join(stopErr, fmt.Errorf("stop %s: %w", nameOf(component), err))
			continue
		}
		log.WithField("component", nameOf(component)).Debug("stopped")
	}
	return stopErr
}

func nameOf(component Component) string {
	return fmt.Sprintf("%T", component)
}
