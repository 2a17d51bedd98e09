// Package transaction keeps a stack of undo steps for partially acquired OS resources.
package transaction

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// RollbackFunc releases one acquired resource
type RollbackFunc func() error

type step struct {
	name string
	fn   RollbackFunc
}

// Manager collects release steps while resources are acquired.
// Rollback releases them in reverse order; Commit hands them off.
type Manager struct {
	mu     sync.Mutex
	steps  []step
	logger *zerolog.Logger
}

// NewManager creates an empty rollback stack
func NewManager(logger *zerolog.Logger) *Manager {
	return &Manager{logger: logger}
}

// Add pushes a release step
func (m *Manager) Add(name string, fn RollbackFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, step{name: name, fn: fn})
}

// Len returns the number of pending steps
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.steps)
}

// Rollback runs every step, last added first, and empties the stack.
// A failing step does not stop the ones below it.
func (m *Manager) Rollback() error {
	m.mu.Lock()
	steps := m.steps
	m.steps = nil
	m.mu.Unlock()

	if len(steps) == 0 {
		return nil
	}

	if m.logger != nil {
		m.logger.Debug().Int("steps", len(steps)).Msg("releasing acquired resources")
	}

	var errs []error
	for i := len(steps) - 1; i >= 0; i-- {
		s := steps[i]
		if err := s.fn(); err != nil {
			errs = append(errs, fmt.Errorf("rollback %q: %w", s.name, err))
			if m.logger != nil {
				m.logger.Warn().Err(err).Str("operation", s.name).Msg("rollback step failed")
			}
		}
	}

	return errors.Join(errs...)
}

// Commit drops every pending step
func (m *Manager) Commit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = nil
}
