// Package system provides the lifecycle primitives tying the wallet memory
// layer's background services together, grounded on the teacher's
// applications/system/manager.go: a Service interface and a Manager that
// starts services in registration order and stops them in reverse order,
// rolling back on a failed start.
package system

import (
	"context"
	"fmt"
	"sync"
)

// Service is anything with an explicit start/stop lifecycle.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Manager coordinates the lifecycle of a set of Services.
type Manager struct {
	mu        sync.Mutex
	services  []Service
	started   bool
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewManager constructs an empty Manager.
func NewManager() *Manager {
	return &Manager{}
}

// Register adds svc to the managed set. Returns an error if called after
// Start.
func (m *Manager) Register(svc Service) error {
	if svc == nil {
		return fmt.Errorf("cannot register nil service")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("cannot register %s after manager has started", svc.Name())
	}
	m.services = append(m.services, svc)
	return nil
}

// Start starts every registered service in order. If any service fails to
// start, every previously-started service is stopped in reverse order
// before returning the wrapped error.
func (m *Manager) Start(ctx context.Context) error {
	var err error
	m.startOnce.Do(func() {
		m.mu.Lock()
		services := append([]Service(nil), m.services...)
		m.started = true
		m.mu.Unlock()

		started := make([]Service, 0, len(services))
		for _, svc := range services {
			if startErr := svc.Start(ctx); startErr != nil {
				err = fmt.Errorf("start %s: %w", svc.Name(), startErr)
				for i := len(started) - 1; i >= 0; i-- {
					_ = started[i].Stop(ctx)
				}
				return
			}
			started = append(started, svc)
		}
	})
	return err
}

// Stop stops every registered service in reverse registration order,
// continuing past individual failures and returning the first error seen.
func (m *Manager) Stop(ctx context.Context) error {
	var err error
	m.stopOnce.Do(func() {
		m.mu.Lock()
		services := append([]Service(nil), m.services...)
		m.mu.Unlock()

		for i := len(services) - 1; i >= 0; i-- {
			if stopErr := services[i].Stop(ctx); stopErr != nil && err == nil {
				err = fmt.Errorf("stop %s: %w", services[i].Name(), stopErr)
			}
		}
	})
	return err
}
