package system

import (
	"context"
	"fmt"
	"sync"
)

// Manager starts and stops a set of Services in registration order, and
// tears already-started ones down in reverse order if a later one fails to
// start.
type Manager struct {
	mu        sync.Mutex
	services  []Service
	started   bool
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{}
}

// Register adds svc to the set this Manager controls. Returns an error if
// called after Start.
func (m *Manager) Register(svc Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if svc == nil {
		return fmt.Errorf("register: nil service")
	}
	if m.started {
		return fmt.Errorf("register %s: manager already started", svc.Name())
	}
	m.services = append(m.services, svc)
	return nil
}

// Start starts every registered service in order. If one fails, every
// service started so far is stopped in reverse order before returning the
// wrapped error.
func (m *Manager) Start(ctx context.Context) error {
	var startErr error
	m.startOnce.Do(func() {
		m.mu.Lock()
		services := append([]Service(nil), m.services...)
		m.started = true
		m.mu.Unlock()

		started := make([]Service, 0, len(services))
		for _, svc := range services {
			if err := svc.Start(ctx); err != nil {
				startErr = fmt.Errorf("start %s: %w", svc.Name(), err)
				for i := len(started) - 1; i >= 0; i-- {
					_ = started[i].Stop(ctx)
				}
				return
			}
			started = append(started, svc)
		}
	})
	return startErr
}

// Stop stops every registered service in reverse registration order.
// Idempotent; safe to call even if Start was never called or failed.
func (m *Manager) Stop(ctx context.Context) error {
	var stopErr error
	m.stopOnce.Do(func() {
		m.mu.Lock()
		services := append([]Service(nil), m.services...)
		m.mu.Unlock()

		for i := len(services) - 1; i >= 0; i-- {
			if err := services[i].Stop(ctx); err != nil && stopErr == nil {
				stopErr = fmt.Errorf("stop %s: %w", services[i].Name(), err)
			}
		}
	})
	return stopErr
}
