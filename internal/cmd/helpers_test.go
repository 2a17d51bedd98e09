package cmd

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/quantmind-br/droidctl/internal/config"
	"github.com/quantmind-br/droidctl/internal/core"
	"github.com/quantmind-br/droidctl/internal/db"
	"github.com/quantmind-br/droidctl/internal/session"
	"github.com/quantmind-br/droidctl/internal/shell"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const (
	testPackage = "com.example.app"
	testFile    = "app-1.2.apk"
	testSource  = "/src/app-1.2.apk"
	testPayload = "apk-bytes"
)

// device answers the privileged shell commands of an Android host
type device struct {
	mu          sync.Mutex
	installExit int
	installs    []string
}

func (d *device) exec(_ context.Context, command string) (*shell.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case command == "getprop ro.build.version.release":
		return &shell.Result{Out: []string{"14"}}, nil
	case command == "am get-current-user":
		return &shell.Result{Out: []string{"0"}}, nil
	case strings.HasPrefix(command, "cat "):
		d.installs = append(d.installs, command)
		if d.installExit != 0 {
			return &shell.Result{ExitCode: d.installExit, Out: []string{"Failure [INSTALL_FAILED_INVALID_APK]"}}, nil
		}
		return &shell.Result{Out: []string{"Success"}}, nil
	case command == "which toybox":
		return &shell.Result{Out: []string{"/system/bin/toybox"}}, nil
	case strings.Contains(command, " rm "):
		return &shell.Result{}, nil
	}
	return nil, fmt.Errorf("unexpected command %q", command)
}

func (d *device) installCommands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.installs...)
}

type harness struct {
	t   *testing.T
	cfg *config.Config
	log *zerolog.Logger
	fs  afero.Fs
	sh  *shell.MockShell
	pi  *session.MockInstaller
	dev *device
	env *Env
}

func newHarness(t *testing.T, installerType core.InstallerType) *harness {
	t.Helper()

	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	dir := t.TempDir()
	cfg := &config.Config{
		Paths: config.PathsConfig{
			DataDir:  dir,
			DBFile:   filepath.Join(dir, "items.db"),
			CacheDir: filepath.Join(dir, "cache"),
		},
		Installer: config.InstallerConfig{
			Type:         string(installerType),
			Concurrency:  1,
			StallTimeout: 5 * time.Second,
		},
		Shell:   config.ShellConfig{Mode: config.ShellLocal, RootCommand: "su -c"},
		Cache:   config.CacheConfig{CleanupAfter: 7 * 24 * time.Hour},
		Logging: config.LoggingConfig{Level: "info", Color: "never"},
	}

	log := zerolog.Nop()
	dev := &device{}
	h := &harness{
		t:   t,
		cfg: cfg,
		log: &log,
		fs:  afero.NewMemMapFs(),
		sh:  &shell.MockShell{ExecFunc: dev.exec},
		pi:  session.NewMockInstaller(),
		dev: dev,
	}
	h.env = &Env{Fs: h.fs, Shell: h.sh, Installer: h.pi}

	require.NoError(t, afero.WriteFile(h.fs, testSource, []byte(testPayload), 0o644))
	return h
}

// execute runs droidctl with args and returns what it printed on stdout
func (h *harness) execute(args ...string) (string, error) {
	root := newRootCmd(h.cfg, h.log, "test", h.env)

	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	return stdout.String(), err
}

type result struct {
	out string
	err error
}

// start runs droidctl in the background
func (h *harness) start(args ...string) <-chan result {
	ch := make(chan result, 1)
	go func() {
		out, err := h.execute(args...)
		ch <- result{out: out, err: err}
	}()
	return ch
}

func (h *harness) await(ch <-chan result) result {
	h.t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(10 * time.Second):
		h.t.Fatal("command did not finish")
		return result{}
	}
}

func (h *harness) eventually(cond func() bool) {
	h.t.Helper()
	require.Eventually(h.t, cond, 5*time.Second, 5*time.Millisecond)
}

func (h *harness) openDB() *db.DB {
	h.t.Helper()
	database, err := db.New(context.Background(), h.cfg.Paths.DBFile)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { database.Close() })
	return database
}

// seed records items as if earlier runs had driven them to state
func (h *harness) seed(state core.InstallState, items ...core.InstallItem) {
	h.t.Helper()
	database := h.openDB()
	for _, item := range items {
		for _, st := range pathTo(state) {
			require.NoError(h.t, database.SaveState(context.Background(), item.StatesTo(st), core.InstallerSession))
		}
	}
}

func pathTo(state core.InstallState) []core.InstallState {
	switch state {
	case core.StateInstalling, core.StateUninstalling:
		return []core.InstallState{core.StateQueued, state}
	case core.StateInstalled:
		return []core.InstallState{core.StateQueued, core.StateInstalling, core.StateInstalled}
	case core.StateUninstalled:
		return []core.InstallState{core.StateQueued, core.StateUninstalling, core.StateUninstalled}
	case core.StateFailed:
		return []core.InstallState{core.StateQueued, core.StateInstalling, core.StateFailed}
	default:
		return []core.InstallState{core.StateQueued}
	}
}

func states(transitions []db.Transition) []core.InstallState {
	out := make([]core.InstallState, 0, len(transitions))
	for _, tr := range transitions {
		out = append(out, tr.State)
	}
	return out
}

type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
