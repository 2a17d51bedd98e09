package installer

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/quantmind-br/droidctl/internal/cache"
	"github.com/quantmind-br/droidctl/internal/core"
	"github.com/quantmind-br/droidctl/internal/state"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const (
	testPackage  = core.PackageName("com.example.app")
	testFile     = "app-1.2.apk"
	testPayload  = "apk-bytes"
	testCacheDir = "/var/cache/droidctl"
)

func newTestCache(t *testing.T, dir string, files ...string) *cache.ReleaseCache {
	t.Helper()
	fs := afero.NewMemMapFs()
	log := zerolog.Nop()
	c, err := cache.New(fs, dir, &log)
	require.NoError(t, err)
	for _, f := range files {
		require.NoError(t, afero.WriteFile(fs, filepath.Join(c.Dir(), f), []byte(testPayload), 0o644))
	}
	return c
}

func nopLogger() *zerolog.Logger {
	log := zerolog.Nop()
	return &log
}

// recorder collects every state an item stream delivers
type recorder struct {
	mu     sync.Mutex
	states []core.InstallState
	closed chan struct{}
}

func record(st *state.Stream) *recorder {
	r := &recorder{closed: make(chan struct{})}
	ch, _ := st.Subscribe()
	go func() {
		defer close(r.closed)
		for s := range ch {
			r.mu.Lock()
			r.states = append(r.states, s.State)
			r.mu.Unlock()
		}
	}()
	return r
}

func (r *recorder) snapshot() []core.InstallState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.InstallState, len(r.states))
	copy(out, r.states)
	return out
}

// waitClosed waits for the stream to reach a final state and returns every state seen
func (r *recorder) waitClosed(t *testing.T) []core.InstallState {
	t.Helper()
	select {
	case <-r.closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("stream never reached a final state, saw %v", r.snapshot())
	}
	return r.snapshot()
}

// eventually waits until the recorder has seen n states
func (r *recorder) eventually(t *testing.T, n int) []core.InstallState {
	t.Helper()
	require.Eventually(t, func() bool { return len(r.snapshot()) >= n }, 2*time.Second, 5*time.Millisecond)
	return r.snapshot()
}
