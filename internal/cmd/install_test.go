package cmd

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/quantmind-br/droidctl/internal/core"
	"github.com/quantmind-br/droidctl/internal/shell"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTargets(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		pkg     string
		want    []target
		wantErr string
	}{
		{
			name: "package flag",
			args: []string{"./app-1.2.apk"},
			pkg:  testPackage,
			want: []target{{pkg: testPackage, path: "./app-1.2.apk"}},
		},
		{
			name: "pairs",
			args: []string{"com.example.app=app.apk", "org.other.music=/tmp/music.apk"},
			want: []target{
				{pkg: "com.example.app", path: "app.apk"},
				{pkg: "org.other.music", path: "/tmp/music.apk"},
			},
		},
		{name: "path without package", args: []string{"app.apk"}, wantErr: "expected PACKAGE=FILE"},
		{name: "empty path", args: []string{"com.example.app="}, wantErr: "expected PACKAGE=FILE"},
		{name: "invalid package", args: []string{"com example=app.apk"}, wantErr: "invalid package name"},
		{name: "flag with many files", args: []string{"a.apk", "b.apk"}, pkg: testPackage, wantErr: "exactly one"},
		{name: "flag with pair", args: []string{"com.other=a.apk"}, pkg: testPackage, wantErr: "either --package"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTargets(tt.args, tt.pkg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInstallCmd_RootSuccess(t *testing.T) {
	h := newHarness(t, core.InstallerRoot)

	out, err := h.execute("install", "-q", "--package", testPackage, testSource)
	require.NoError(t, err)
	assert.Contains(t, out, "com.example.app: installed")

	cacheDir, _ := filepath.Abs(h.cfg.Paths.CacheDir)
	assert.Equal(t,
		[]string{`cat "` + filepath.Join(cacheDir, testFile) + `" | pm install --user "0" -t -r -S 9`},
		h.dev.installCommands())

	cached, err := afero.ReadFile(h.fs, filepath.Join(cacheDir, testFile))
	require.NoError(t, err)
	assert.Equal(t, testPayload, string(cached))

	items, err := h.openDB().List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, testPackage, items[0].PackageName)
	assert.Equal(t, testFile, items[0].FileName)
	assert.Equal(t, core.InstallerRoot, items[0].Installer)
	assert.Equal(t, core.StateInstalled, items[0].State)

	history, err := h.openDB().History(context.Background(), items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, []core.InstallState{core.StateQueued, core.StateInstalling, core.StateInstalled}, states(history))
}

func TestInstallCmd_RootFailureExitCode(t *testing.T) {
	h := newHarness(t, core.InstallerRoot)
	h.dev.installExit = 1

	out, err := h.execute("install", "-q", "com.example.app="+testSource)
	require.Error(t, err)
	assert.Equal(t, core.ExitInstallFailed, ExitCode(err))
	assert.Contains(t, out, "com.example.app: failed")

	items, err := h.openDB().List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, core.StateFailed, items[0].State)
}

func TestInstallCmd_CachedArtifactByName(t *testing.T) {
	h := newHarness(t, core.InstallerRoot)

	_, err := h.execute("install", "-q", "-p", testPackage, testSource)
	require.NoError(t, err)

	out, err := h.execute("install", "-q", "-p", testPackage, testFile)
	require.NoError(t, err)
	assert.Contains(t, out, "com.example.app: installed")
	assert.Len(t, h.dev.installCommands(), 2)
}

func TestInstallCmd_MissingArtifact(t *testing.T) {
	h := newHarness(t, core.InstallerRoot)

	for _, path := range []string{"missing.apk", "/src/missing.apk"} {
		_, err := h.execute("install", "-q", "-p", testPackage, path)
		require.Error(t, err, path)
		assert.Equal(t, core.ExitArtifactMissing, ExitCode(err), path)
	}
	assert.Empty(t, h.dev.installCommands())
}

func TestInstallCmd_InvalidArgs(t *testing.T) {
	h := newHarness(t, core.InstallerRoot)

	_, err := h.execute("install", "app.apk")
	require.Error(t, err)
	assert.Equal(t, core.ExitInvalidArgs, ExitCode(err))

	_, err = h.execute("install")
	assert.Error(t, err)
}

func TestInstallCmd_ProgressOnStderr(t *testing.T) {
	h := newHarness(t, core.InstallerRoot)

	root := newRootCmd(h.cfg, h.log, "test", h.env)
	var stdout, stderr safeBuffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs([]string{"install", "-p", testPackage, testSource})

	require.NoError(t, root.ExecuteContext(context.Background()))
	assert.Contains(t, stderr.String(), "importing app-1.2.apk")
	assert.NotContains(t, stdout.String(), "importing")
}

func TestInstallCmd_SessionCompletes(t *testing.T) {
	h := newHarness(t, core.InstallerSession)
	h.pi.Suppression = true

	run := h.start("install", "-q", "-p", testPackage, testSource)

	h.eventually(func() bool { return h.pi.Committed(1001) })
	assert.Equal(t, testPayload, string(h.pi.Written(1001)))
	h.pi.Finish(1001, true)

	r := h.await(run)
	require.NoError(t, r.err)
	assert.Contains(t, r.out, "com.example.app: installed")

	items, err := h.openDB().List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1001, items[0].SessionID)
	assert.Equal(t, core.StateInstalled, items[0].State)
	assert.Zero(t, h.pi.Callbacks())
}

func TestInstallCmd_SessionRejected(t *testing.T) {
	h := newHarness(t, core.InstallerSession)

	run := h.start("install", "-q", "-p", testPackage, testSource)
	h.eventually(func() bool { return h.pi.Committed(1001) })
	h.pi.Finish(1001, false)

	r := h.await(run)
	require.Error(t, r.err)
	assert.Equal(t, core.ExitInstallFailed, ExitCode(r.err))
	assert.Contains(t, r.out, "com.example.app: failed")
}

func TestInstallCmd_SessionStalls(t *testing.T) {
	h := newHarness(t, core.InstallerSession)
	h.cfg.Installer.StallTimeout = 50 * time.Millisecond

	out, err := h.execute("install", "-q", "-p", testPackage, testSource)
	require.Error(t, err)
	assert.Equal(t, core.ExitStalled, ExitCode(err))
	assert.Contains(t, out, "com.example.app: installing")

	// closing the runtime abandons the session left behind
	assert.Equal(t, []int{1001}, h.pi.Abandoned())
	assert.Zero(t, h.pi.Callbacks())
}

func TestInstallCmd_WaitRetries(t *testing.T) {
	h := newHarness(t, core.InstallerSession)
	h.cfg.Installer.StallTimeout = 200 * time.Millisecond

	run := h.start("install", "-q", "--wait-retries", "20", "-p", testPackage, testSource)
	h.eventually(func() bool { return h.pi.Committed(1001) })
	time.Sleep(300 * time.Millisecond)
	h.pi.Finish(1001, true)

	r := h.await(run)
	require.NoError(t, r.err)
	assert.Contains(t, r.out, "com.example.app: installed")
}

func TestInstallCmd_Parallel(t *testing.T) {
	h := newHarness(t, core.InstallerRoot)
	h.cfg.Installer.Concurrency = 4
	require.NoError(t, afero.WriteFile(h.fs, "/src/music.apk", []byte("music"), 0o644))

	out, err := h.execute("install", "-q", "com.example.app="+testSource, "org.other.music=/src/music.apk")
	require.NoError(t, err)
	assert.Contains(t, out, "com.example.app: installed")
	assert.Contains(t, out, "org.other.music: installed")
	assert.Len(t, h.dev.installCommands(), 2)
}

func TestInstallCmd_RootOverRemoteShell(t *testing.T) {
	h := newHarness(t, core.InstallerRoot)
	remote := &shell.MockStreamer{
		MockShell: shell.MockShell{ExecFunc: h.dev.exec},
		ExecInputFunc: func(context.Context, string, []byte) (*shell.Result, error) {
			return &shell.Result{Out: []string{"Success"}}, nil
		},
	}
	h.env.Shell = remote

	out, err := h.execute("install", "-q", "-p", testPackage, testSource)
	require.NoError(t, err)
	assert.Contains(t, out, "com.example.app: installed")

	assert.Empty(t, h.dev.installCommands(), "no cat of a local path on the remote host")
	assert.Contains(t, remote.Commands(), `pm install --user "0" -t -r -S 9`)
	assert.Equal(t, [][]byte{[]byte(testPayload)}, remote.Inputs())

	exists, err := afero.Exists(h.fs, filepath.Join(h.cacheDir(), testFile))
	require.NoError(t, err)
	assert.False(t, exists)
}
