package installer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quantmind-br/droidctl/internal/core"
	"github.com/quantmind-br/droidctl/internal/session"
	"github.com/quantmind-br/droidctl/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	install   func(ctx context.Context, item core.InstallItem, st *state.Stream) error
	uninstall func(ctx context.Context, item core.InstallItem, st *state.Stream) error
	cleanups  atomic.Int32
}

func (f *fakeBackend) Type() core.InstallerType { return core.InstallerRoot }

func (f *fakeBackend) PerformInstall(ctx context.Context, item core.InstallItem, st *state.Stream) error {
	return f.install(ctx, item, st)
}

func (f *fakeBackend) PerformUninstall(ctx context.Context, item core.InstallItem, st *state.Stream) error {
	return f.uninstall(ctx, item, st)
}

func (f *fakeBackend) Cleanup() { f.cleanups.Add(1) }

func succeed(_ context.Context, item core.InstallItem, st *state.Stream) error {
	if err := st.Emit(item.StatesTo(core.StateInstalling)); err != nil {
		return err
	}
	return st.Emit(item.StatesTo(core.StateInstalled))
}

type memStore struct {
	mu     sync.Mutex
	states map[string][]core.InstallState
	types  map[string]core.InstallerType
	err    error
}

func newMemStore() *memStore {
	return &memStore{
		states: make(map[string][]core.InstallState),
		types:  make(map[string]core.InstallerType),
	}
}

func (s *memStore) SaveState(_ context.Context, st core.InstallItemState, installer core.InstallerType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.states[st.Item.ID] = append(s.states[st.Item.ID], st.State)
	s.types[st.Item.ID] = installer
	return nil
}

func (s *memStore) history(id string) []core.InstallState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.InstallState(nil), s.states[id]...)
}

func TestManager_InstallSerialPersistsTransitions(t *testing.T) {
	t.Parallel()

	var order []string
	b := &fakeBackend{install: func(ctx context.Context, item core.InstallItem, st *state.Stream) error {
		order = append(order, item.PackageName.String())
		return succeed(ctx, item, st)
	}}
	store := newMemStore()
	m := NewManager(b, store, nopLogger(), Options{})

	first := core.NewInstallItem("com.example.a", "a.apk")
	second := core.NewInstallItem("com.example.b", "b.apk")
	require.NoError(t, m.Install(context.Background(), first, second))

	for _, item := range []core.InstallItem{first, second} {
		got, err := m.Wait(context.Background(), item.ID)
		require.NoError(t, err)
		assert.Equal(t, core.StateInstalled, got)
	}
	m.Close()

	assert.Equal(t, []string{"com.example.a", "com.example.b"}, order)
	want := []core.InstallState{core.StateQueued, core.StateInstalling, core.StateInstalled}
	assert.Equal(t, want, store.history(first.ID))
	assert.Equal(t, want, store.history(second.ID))
	assert.Equal(t, core.InstallerRoot, store.types[first.ID])
	assert.Len(t, m.States(), 2)
}

func TestManager_BackendErrorDrivesFailed(t *testing.T) {
	t.Parallel()

	boom := errors.New("install session could not be created")
	b := &fakeBackend{install: func(_ context.Context, item core.InstallItem, st *state.Stream) error {
		_ = st.Emit(item.StatesTo(core.StateInstalling))
		return boom
	}}
	store := newMemStore()
	m := NewManager(b, store, nopLogger(), Options{})
	item := core.NewInstallItem(testPackage, testFile)

	err := m.Install(context.Background(), item)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), testPackage.String())

	got, err := m.Wait(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateFailed, got)

	m.Close()
	assert.Equal(t, []core.InstallState{core.StateQueued, core.StateInstalling, core.StateFailed}, store.history(item.ID))
}

func TestManager_BackendErrorAfterTerminalKeepsState(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{install: func(ctx context.Context, item core.InstallItem, st *state.Stream) error {
		_ = succeed(ctx, item, st)
		return errors.New("late error")
	}}
	m := NewManager(b, nil, nopLogger(), Options{})
	item := core.NewInstallItem(testPackage, testFile)

	assert.Error(t, m.Install(context.Background(), item))
	st, ok := m.Stream(item.ID)
	require.True(t, ok)
	assert.Equal(t, core.StateInstalled, st.Value().State)
	m.Close()
}

func TestManager_ParallelIsBounded(t *testing.T) {
	t.Parallel()

	var running, peak atomic.Int32
	b := &fakeBackend{install: func(ctx context.Context, item core.InstallItem, st *state.Stream) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return succeed(ctx, item, st)
	}}
	m := NewManager(b, nil, nopLogger(), Options{Concurrency: 2})
	defer m.Close()

	var items []core.InstallItem
	for range 6 {
		items = append(items, core.NewInstallItem(testPackage, testFile))
	}
	require.NoError(t, m.Install(context.Background(), items...))

	assert.LessOrEqual(t, peak.Load(), int32(2))
	for _, item := range items {
		st, ok := m.Stream(item.ID)
		require.True(t, ok)
		assert.Equal(t, core.StateInstalled, st.Value().State)
	}
}

func TestManager_ParallelCollectsErrors(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{install: func(ctx context.Context, item core.InstallItem, st *state.Stream) error {
		if item.PackageName == "com.example.bad" {
			_ = st.Emit(item.StatesTo(core.StateInstalling))
			return errors.New("write failed")
		}
		return succeed(ctx, item, st)
	}}
	m := NewManager(b, nil, nopLogger(), Options{Concurrency: 4})
	defer m.Close()

	good := core.NewInstallItem("com.example.good", "good.apk")
	bad := core.NewInstallItem("com.example.bad", "bad.apk")
	err := m.Install(context.Background(), good, bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "com.example.bad")

	stGood, _ := m.Stream(good.ID)
	stBad, _ := m.Stream(bad.ID)
	assert.Equal(t, core.StateInstalled, stGood.Value().State)
	assert.Equal(t, core.StateFailed, stBad.Value().State)
}

func TestManager_WaitStalls(t *testing.T) {
	t.Parallel()

	pi := session.NewMockInstaller()
	b := newSessionBackend(t, pi, testFile)
	m := NewManager(b, nil, nopLogger(), Options{StallTimeout: 20 * time.Millisecond})
	item := core.NewInstallItem(testPackage, testFile)

	require.NoError(t, m.Install(context.Background(), item))

	got, err := m.Wait(context.Background(), item.ID)
	assert.ErrorIs(t, err, ErrStalled)
	assert.Equal(t, core.StateInstalling, got)

	pi.Finish(pi.Sessions()[0], true)
	got, err = m.Wait(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateInstalled, got)

	m.Close()
}

func TestManager_WaitContextAndUnknown(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{install: func(_ context.Context, item core.InstallItem, st *state.Stream) error {
		return st.Emit(item.StatesTo(core.StateInstalling))
	}}
	m := NewManager(b, nil, nopLogger(), Options{})
	defer m.Close()

	_, err := m.Wait(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownItem)

	item := core.NewInstallItem(testPackage, testFile)
	require.NoError(t, m.Install(context.Background(), item))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	got, err := m.Wait(ctx, item.ID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, core.StateInstalling, got)
}

func TestManager_UninstallThroughSessionBackend(t *testing.T) {
	t.Parallel()

	pi := session.NewMockInstaller()
	b := newSessionBackend(t, pi)
	store := newMemStore()
	m := NewManager(b, store, nopLogger(), Options{})
	item := core.NewInstallItem(testPackage, "")

	require.NoError(t, m.Uninstall(context.Background(), item))
	st, ok := m.Stream(item.ID)
	require.True(t, ok)
	assert.Equal(t, core.StateUninstalling, st.Value().State, "returns before removal finishes")

	pi.FinishUninstall(testPackage.String(), session.StatusSuccess)
	got, err := m.Wait(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateUninstalled, got)

	m.Close()
	assert.Equal(t, []core.InstallState{core.StateQueued, core.StateUninstalling, core.StateUninstalled}, store.history(item.ID))
}

func TestManager_CloseCleansUpOnce(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{install: succeed}
	m := NewManager(b, nil, nopLogger(), Options{})

	m.Close()
	m.Close()
	assert.Equal(t, int32(1), b.cleanups.Load())
}

func TestManager_CloseReleasesSessions(t *testing.T) {
	t.Parallel()

	pi := session.NewMockInstaller()
	b := newSessionBackend(t, pi, testFile)
	m := NewManager(b, nil, nopLogger(), Options{})
	item := core.NewInstallItem(testPackage, testFile)

	require.NoError(t, m.Install(context.Background(), item))
	require.Len(t, pi.Sessions(), 1)

	m.Close()
	assert.Empty(t, pi.Sessions())
	assert.Zero(t, pi.Callbacks())
	assert.Len(t, pi.Abandoned(), 1)
}

func TestManager_StoreErrorsAreLogged(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.err = errors.New("database is locked")
	m := NewManager(&fakeBackend{install: succeed}, store, nopLogger(), Options{})
	item := core.NewInstallItem(testPackage, testFile)

	require.NoError(t, m.Install(context.Background(), item))
	m.Close()
	assert.Empty(t, store.history(item.ID))
}
