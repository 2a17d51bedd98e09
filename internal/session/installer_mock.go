package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
)

// MockInstaller is an in-memory PackageInstaller for testing.
// Completion is driven explicitly through Finish and FinishUninstall.
type MockInstaller struct {
	CreateSessionFunc func(ctx context.Context, p Params) (int, error)
	WriteFunc         func(ctx context.Context, id int, name string, data []byte) error
	CommitFunc        func(ctx context.Context, id int) error
	AbandonFunc       func(ctx context.Context, id int) error
	UninstallFunc     func(ctx context.Context, packageName string) error
	Suppression       bool

	mu         sync.Mutex
	nextID     int
	sessions   map[int]Params
	callbacks  []*Callback
	written    map[int][]byte
	committed  map[int]StatusReceiver
	abandoned  []int
	uninstalls map[string]StatusReceiver
	unregister int
}

// NewMockInstaller creates a MockInstaller whose session ids start at 1000
func NewMockInstaller() *MockInstaller {
	return &MockInstaller{
		nextID:     1000,
		sessions:   make(map[int]Params),
		written:    make(map[int][]byte),
		committed:  make(map[int]StatusReceiver),
		uninstalls: make(map[string]StatusReceiver),
	}
}

// CreateSession implements PackageInstaller.CreateSession
func (m *MockInstaller) CreateSession(ctx context.Context, p Params) (int, error) {
	if m.CreateSessionFunc != nil {
		id, err := m.CreateSessionFunc(ctx, p)
		if err != nil {
			return 0, err
		}
		m.mu.Lock()
		m.sessions[id] = p
		m.mu.Unlock()
		return id, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.sessions[m.nextID] = p
	return m.nextID, nil
}

// OpenSession implements PackageInstaller.OpenSession
func (m *MockInstaller) OpenSession(_ context.Context, id int) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSession, id)
	}
	return &mockSession{installer: m, id: id}, nil
}

// AbandonSession implements PackageInstaller.AbandonSession
func (m *MockInstaller) AbandonSession(ctx context.Context, id int) error {
	if m.AbandonFunc != nil {
		if err := m.AbandonFunc(ctx, id); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownSession, id)
	}
	delete(m.sessions, id)
	m.abandoned = append(m.abandoned, id)
	return nil
}

// Sessions implements PackageInstaller.Sessions
func (m *MockInstaller) Sessions() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// SupportsUserActionSuppression implements PackageInstaller.SupportsUserActionSuppression
func (m *MockInstaller) SupportsUserActionSuppression(context.Context) bool {
	return m.Suppression
}

// RegisterCallback implements PackageInstaller.RegisterCallback
func (m *MockInstaller) RegisterCallback(cb *Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !slices.Contains(m.callbacks, cb) {
		m.callbacks = append(m.callbacks, cb)
	}
}

// UnregisterCallback implements PackageInstaller.UnregisterCallback
func (m *MockInstaller) UnregisterCallback(cb *Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unregister++
	m.callbacks = slices.DeleteFunc(m.callbacks, func(c *Callback) bool { return c == cb })
}

// Uninstall implements PackageInstaller.Uninstall
func (m *MockInstaller) Uninstall(ctx context.Context, packageName string, target StatusReceiver) error {
	if m.UninstallFunc != nil {
		if err := m.UninstallFunc(ctx, packageName); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uninstalls[packageName] = target
	return nil
}

// Finish reports the outcome of session id to every registered callback and to its commit target
func (m *MockInstaller) Finish(id int, success bool) {
	m.mu.Lock()
	delete(m.sessions, id)
	cbs := slices.Clone(m.callbacks)
	target := m.committed[id]
	delete(m.committed, id)
	m.mu.Unlock()

	for _, cb := range cbs {
		cb.OnFinished(id, success)
	}
	if target != nil {
		code := StatusSuccess
		if !success {
			code = StatusFailure
		}
		target.OnStatus(Status{SessionID: id, Code: code})
	}
}

// FinishUninstall reports the outcome of a pending uninstall
func (m *MockInstaller) FinishUninstall(packageName string, code StatusCode) {
	m.mu.Lock()
	target := m.uninstalls[packageName]
	delete(m.uninstalls, packageName)
	m.mu.Unlock()

	if target != nil {
		target.OnStatus(Status{PackageName: packageName, Code: code})
	}
}

// Callbacks returns the number of registered callbacks
func (m *MockInstaller) Callbacks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.callbacks)
}

// Unregistrations returns how many times UnregisterCallback was called
func (m *MockInstaller) Unregistrations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unregister
}

// Abandoned returns abandoned session ids in order
func (m *MockInstaller) Abandoned() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.abandoned)
}

// Written returns the bytes written to session id
func (m *MockInstaller) Written(id int) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.written[id])
}

// Committed reports whether session id was committed and not yet finished
func (m *MockInstaller) Committed(id int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.committed[id]
	return ok
}

// PendingUninstall reports whether an uninstall of packageName awaits completion
func (m *MockInstaller) PendingUninstall(packageName string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.uninstalls[packageName]
	return ok
}

type mockSession struct {
	installer *MockInstaller
	id        int
}

func (s *mockSession) Write(ctx context.Context, name string, _ int64, r io.Reader) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}
	if s.installer.WriteFunc != nil {
		if err := s.installer.WriteFunc(ctx, s.id, name, buf.Bytes()); err != nil {
			return err
		}
	}
	s.installer.mu.Lock()
	s.installer.written[s.id] = append(s.installer.written[s.id], buf.Bytes()...)
	s.installer.mu.Unlock()
	return nil
}

func (s *mockSession) Fsync() error { return nil }

func (s *mockSession) Commit(ctx context.Context, target StatusReceiver) error {
	if s.installer.CommitFunc != nil {
		if err := s.installer.CommitFunc(ctx, s.id); err != nil {
			return err
		}
	}
	s.installer.mu.Lock()
	s.installer.committed[s.id] = target
	s.installer.mu.Unlock()
	return nil
}

func (s *mockSession) Close() error { return nil }
