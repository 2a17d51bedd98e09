package installer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quantmind-br/droidctl/internal/core"
	"github.com/quantmind-br/droidctl/internal/state"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
)

// ErrStalled is returned by Wait when an item makes no progress to a final state in time
var ErrStalled = errors.New("install item stalled")

// ErrUnknownItem is returned for item ids the manager never saw
var ErrUnknownItem = errors.New("unknown install item")

// Store persists item transitions
type Store interface {
	SaveState(ctx context.Context, st core.InstallItemState, installer core.InstallerType) error
}

// Options tunes the Manager
type Options struct {
	// Concurrency is the number of items handed to the backend at once; <= 1 is serial
	Concurrency int
	// StallTimeout bounds Wait; zero waits indefinitely
	StallTimeout time.Duration
}

type operation func(ctx context.Context, item core.InstallItem, st *state.Stream) error

// Manager feeds install items to a backend, records every transition, and owns backend cleanup
type Manager struct {
	backend  Backend
	store    Store
	logger   *zerolog.Logger
	opts     Options
	registry *state.Registry

	mu        sync.Mutex
	cancels   []func()
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewManager creates a Manager. store may be nil.
func NewManager(backend Backend, store Store, log *zerolog.Logger, opts Options) *Manager {
	return &Manager{
		backend:  backend,
		store:    store,
		logger:   log,
		opts:     opts,
		registry: state.NewRegistry(),
	}
}

// Install hands every item to the backend for installation
func (m *Manager) Install(ctx context.Context, items ...core.InstallItem) error {
	return m.run(ctx, items, m.backend.PerformInstall)
}

// Uninstall hands every item to the backend for removal
func (m *Manager) Uninstall(ctx context.Context, items ...core.InstallItem) error {
	return m.run(ctx, items, m.backend.PerformUninstall)
}

func (m *Manager) run(ctx context.Context, items []core.InstallItem, op operation) error {
	streams := make([]*state.Stream, len(items))
	for i, item := range items {
		streams[i] = m.track(item)
	}

	if m.opts.Concurrency <= 1 {
		var errs []error
		for _, st := range streams {
			if err := m.perform(ctx, st, op); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	p := pool.New().WithErrors().WithMaxGoroutines(m.opts.Concurrency)
	for _, st := range streams {
		p.Go(func() error {
			return m.perform(ctx, st, op)
		})
	}
	return p.Wait()
}

func (m *Manager) perform(ctx context.Context, st *state.Stream, op operation) error {
	item := st.Item()
	err := op(ctx, item, st)
	if err == nil {
		return nil
	}

	cur := st.Value()
	if !cur.State.IsTerminal() {
		if !st.TryEmit(cur.Item.StatesTo(core.StateFailed)) {
			m.logger.Warn().
				Str("item_id", item.ID).
				Stringer("state", cur.State).
				Msg("could not mark item as failed")
		}
	}

	m.logger.Error().
		Err(err).
		Str("item_id", item.ID).
		Str("package", item.PackageName.String()).
		Msg("backend operation failed")
	return fmt.Errorf("%s: %w", item.PackageName, err)
}

// track registers a stream for item and persists its transitions in the background
func (m *Manager) track(item core.InstallItem) *state.Stream {
	st := m.registry.Register(item)
	ch, cancel := st.Subscribe()

	m.mu.Lock()
	m.cancels = append(m.cancels, cancel)
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for s := range ch {
			m.logger.Debug().
				Str("item_id", s.Item.ID).
				Str("package", s.Item.PackageName.String()).
				Stringer("state", s.State).
				Msg("item state changed")

			if m.store == nil {
				continue
			}
			if err := m.store.SaveState(context.Background(), s, m.backend.Type()); err != nil {
				m.logger.Warn().Err(err).Str("item_id", s.Item.ID).Msg("failed to persist item state")
			}
		}
	}()

	return st
}

// Stream returns the state stream of an item
func (m *Manager) Stream(itemID string) (*state.Stream, bool) {
	return m.registry.Get(itemID)
}

// States returns the current state of every tracked item
func (m *Manager) States() []core.InstallItemState {
	return m.registry.Snapshot()
}

// Wait blocks until the item reaches a final state and returns it.
// It fails with ErrStalled when StallTimeout elapses first.
func (m *Manager) Wait(ctx context.Context, itemID string) (core.InstallState, error) {
	st, ok := m.registry.Get(itemID)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownItem, itemID)
	}

	var stall <-chan time.Time
	if m.opts.StallTimeout > 0 {
		timer := time.NewTimer(m.opts.StallTimeout)
		defer timer.Stop()
		stall = timer.C
	}

	select {
	case <-st.Done():
		return st.Value().State, nil
	case <-ctx.Done():
		return st.Value().State, ctx.Err()
	case <-stall:
		cur := st.Value()
		return cur.State, fmt.Errorf("%w: %s still %s after %s", ErrStalled, cur.Item.PackageName, cur.State, m.opts.StallTimeout)
	}
}

// Close releases backend resources once and stops persisting transitions
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.backend.Cleanup()

		m.mu.Lock()
		cancels := m.cancels
		m.cancels = nil
		m.mu.Unlock()

		for _, cancel := range cancels {
			cancel()
		}
		m.wg.Wait()
	})
}
