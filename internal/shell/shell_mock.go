package shell

import (
	"context"
	"io"
	"sync"
)

// MockShell is a mock implementation of Shell for testing
type MockShell struct {
	ExecFunc      func(ctx context.Context, command string) (*Result, error)
	AvailableFunc func(ctx context.Context) bool

	mu       sync.Mutex
	commands []string
}

// Exec implements Shell.Exec
func (m *MockShell) Exec(ctx context.Context, command string) (*Result, error) {
	m.mu.Lock()
	m.commands = append(m.commands, command)
	m.mu.Unlock()

	if m.ExecFunc != nil {
		return m.ExecFunc(ctx, command)
	}
	return &Result{}, nil
}

// Available implements Shell.Available
func (m *MockShell) Available(ctx context.Context) bool {
	if m.AvailableFunc != nil {
		return m.AvailableFunc(ctx)
	}
	return true
}

// Commands returns every command passed to Exec, in order
func (m *MockShell) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.commands))
	copy(out, m.commands)
	return out
}

// MockStreamer is a MockShell that also accepts stdin payloads
type MockStreamer struct {
	MockShell
	ExecInputFunc func(ctx context.Context, command string, input []byte) (*Result, error)

	inputs [][]byte
}

// ExecInput implements Streamer.ExecInput. The payload is read fully before ExecInputFunc runs.
func (m *MockStreamer) ExecInput(ctx context.Context, command string, r io.Reader) (*Result, error) {
	input, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.commands = append(m.commands, command)
	m.inputs = append(m.inputs, input)
	m.mu.Unlock()

	if m.ExecInputFunc != nil {
		return m.ExecInputFunc(ctx, command, input)
	}
	return &Result{}, nil
}

// Inputs returns every payload passed to ExecInput, in order
func (m *MockStreamer) Inputs() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.inputs))
	copy(out, m.inputs)
	return out
}
