package installer

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/quantmind-br/droidctl/internal/cache"
	"github.com/quantmind-br/droidctl/internal/core"
	"github.com/quantmind-br/droidctl/internal/session"
	"github.com/quantmind-br/droidctl/internal/state"
	"github.com/quantmind-br/droidctl/internal/transaction"
	"github.com/rs/zerolog"
)

// SessionBackend installs through the platform install-session API.
// PerformInstall returns after commit; completion arrives through a session callback.
type SessionBackend struct {
	cache            ArtifactStore
	installer        session.PackageInstaller
	logger           *zerolog.Logger
	installerPackage string

	mu        sync.Mutex
	callbacks []*session.Callback
	sessions  map[int]struct{}
}

// NewSessionBackend creates a SessionBackend
func NewSessionBackend(deps Deps) *SessionBackend {
	return &SessionBackend{
		cache:            deps.Cache,
		installer:        deps.Installer,
		logger:           deps.Log,
		installerPackage: deps.InstallerPackage,
		sessions:         make(map[int]struct{}),
	}
}

// Type implements Backend
func (b *SessionBackend) Type() core.InstallerType {
	return core.InstallerSession
}

// PerformInstall implements Backend
func (b *SessionBackend) PerformInstall(ctx context.Context, item core.InstallItem, st *state.Stream) error {
	if err := st.Emit(item.StatesTo(core.StateInstalling)); err != nil {
		return err
	}

	artifact, err := b.cache.Resolve(ctx, item.InstallFileName)
	if err != nil {
		return fmt.Errorf("resolve artifact for %s: %w", item.PackageName, err)
	}

	params := session.Params{
		Mode:              session.ModeFullInstall,
		SizeBytes:         artifact.Size,
		RequireUserAction: true,
		InstallerPackage:  b.installerPackage,
	}
	if b.installer.SupportsUserActionSuppression(ctx) {
		params.RequireUserAction = false
	}

	id, err := b.installer.CreateSession(ctx, params)
	if err != nil {
		return fmt.Errorf("create install session: %w", err)
	}
	item.SessionID = id

	log := b.logger.With().
		Str("item_id", item.ID).
		Str("package", item.PackageName.String()).
		Int("session_id", id).
		Logger()

	tx := transaction.NewManager(&log)
	b.trackSession(id)
	tx.Add("abandon session", func() error {
		b.forgetSession(id)
		return b.installer.AbandonSession(context.WithoutCancel(ctx), id)
	})

	cb := b.watch(item, st, &log)
	tx.Add("unregister callback", func() error {
		b.release(cb)
		return nil
	})

	if err := b.writeAndCommit(ctx, item, artifact, &log); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Warn().Err(rbErr).Msg("failed to release install session")
		}
		return err
	}
	tx.Commit()

	log.Info().Msg("install session committed")
	return nil
}

func (b *SessionBackend) writeAndCommit(ctx context.Context, item core.InstallItem, artifact *cache.Artifact, log *zerolog.Logger) error {
	s, err := b.installer.OpenSession(ctx, item.SessionID)
	if err != nil {
		return fmt.Errorf("open install session: %w", err)
	}
	defer s.Close()

	f, err := b.cache.Open(artifact)
	if err != nil {
		return err
	}

	if err := s.Write(ctx, artifact.Name, artifact.Size, f); err != nil {
		f.Close()
		return fmt.Errorf("write %s to session: %w", artifact.Name, err)
	}
	if err := s.Fsync(); err != nil {
		f.Close()
		return fmt.Errorf("sync session: %w", err)
	}
	if err := f.Close(); err != nil {
		log.Debug().Err(err).Msg("closing artifact")
	}

	if err := s.Commit(ctx, statusReceiver(b.logger, item, nil)); err != nil {
		return fmt.Errorf("commit install session: %w", err)
	}
	return nil
}

// watch registers a callback that drives st when the OS finishes item's session
func (b *SessionBackend) watch(item core.InstallItem, st *state.Stream, log *zerolog.Logger) *session.Callback {
	cb := &session.Callback{}
	cb.OnFinished = func(sessionID int, success bool) {
		if sessionID != item.SessionID {
			return
		}
		if !b.release(cb) {
			return
		}
		b.forgetSession(sessionID)

		next := core.StateInstalled
		if !success {
			next = core.StateFailed
		}
		if !st.TryEmit(item.StatesTo(next)) {
			log.Debug().Stringer("state", next).Msg("session result ignored, item already final")
			return
		}
		log.Info().Stringer("state", next).Msg("install session finished")
	}

	b.mu.Lock()
	b.callbacks = append(b.callbacks, cb)
	b.mu.Unlock()

	b.installer.RegisterCallback(cb)
	return cb
}

// release unregisters cb. It reports false when cb was already released.
func (b *SessionBackend) release(cb *session.Callback) bool {
	b.mu.Lock()
	idx := slices.Index(b.callbacks, cb)
	if idx < 0 {
		b.mu.Unlock()
		return false
	}
	b.callbacks = slices.Delete(b.callbacks, idx, idx+1)
	b.mu.Unlock()

	b.installer.UnregisterCallback(cb)
	return true
}

func (b *SessionBackend) trackSession(id int) {
	b.mu.Lock()
	b.sessions[id] = struct{}{}
	b.mu.Unlock()
}

func (b *SessionBackend) forgetSession(id int) {
	b.mu.Lock()
	delete(b.sessions, id)
	b.mu.Unlock()
}

// PerformUninstall implements Backend
func (b *SessionBackend) PerformUninstall(ctx context.Context, item core.InstallItem, st *state.Stream) error {
	return uninstallPackage(ctx, b.installer, b.logger, item, st)
}

// Cleanup unregisters remaining callbacks and abandons sessions that never reported back
func (b *SessionBackend) Cleanup() {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Msg("session cleanup panicked")
		}
	}()

	b.mu.Lock()
	callbacks := b.callbacks
	b.callbacks = nil
	ids := slices.Sorted(maps.Keys(b.sessions))
	clear(b.sessions)
	b.mu.Unlock()

	for _, cb := range callbacks {
		b.installer.UnregisterCallback(cb)
	}

	var errs []error
	for _, id := range ids {
		if err := b.installer.AbandonSession(context.Background(), id); err != nil {
			errs = append(errs, fmt.Errorf("session %d: %w", id, err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		b.logger.Warn().Err(err).Msg("failed to abandon install sessions")
	}
	if len(callbacks) > 0 || len(ids) > 0 {
		b.logger.Debug().
			Int("callbacks", len(callbacks)).
			Int("sessions", len(ids)).
			Msg("session backend cleaned up")
	}
}

// Callbacks returns the number of callbacks still registered by this backend
func (b *SessionBackend) Callbacks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.callbacks)
}

// Sessions returns the ids of sessions this backend still holds
func (b *SessionBackend) Sessions() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Sorted(maps.Keys(b.sessions))
}
