package ui

import (
	"bytes"
	"os"
	"testing"

	"github.com/fatih/color"
	"github.com/quantmind-br/droidctl/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withoutColor(t *testing.T) {
	t.Helper()
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = oldStdout

	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r)
	return buf.String()
}

func TestInitColors(t *testing.T) {
	prev := color.NoColor
	t.Cleanup(func() { color.NoColor = prev })

	t.Run("never", func(t *testing.T) {
		color.NoColor = false
		InitColors("never")
		assert.True(t, color.NoColor)
	})

	t.Run("always", func(t *testing.T) {
		color.NoColor = true
		InitColors("always")
		assert.False(t, color.NoColor)
	})

	t.Run("auto with NO_COLOR", func(t *testing.T) {
		t.Setenv("NO_COLOR", "1")
		color.NoColor = false
		InitColors("auto")
		assert.True(t, color.NoColor)
	})

	t.Run("auto with TERM=dumb", func(t *testing.T) {
		t.Setenv("TERM", "dumb")
		color.NoColor = false
		InitColors("auto")
		assert.True(t, color.NoColor)
	})
}

func TestColorizeState(t *testing.T) {
	withoutColor(t)

	for _, s := range []core.InstallState{
		core.StateQueued, core.StateInstalling, core.StateInstalled,
		core.StateUninstalling, core.StateUninstalled, core.StateFailed,
	} {
		assert.Equal(t, s.String(), ColorizeState(s))
	}
	assert.Equal(t, "state(42)", ColorizeState(core.InstallState(42)))
}

func TestColorizeState_WithColor(t *testing.T) {
	prev := color.NoColor
	color.NoColor = false
	t.Cleanup(func() { color.NoColor = prev })

	out := ColorizeState(core.StateFailed)
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "\x1b[")
}

func TestStateMark(t *testing.T) {
	assert.Equal(t, CheckMark, StateMark(core.StateInstalled))
	assert.Equal(t, CheckMark, StateMark(core.StateUninstalled))
	assert.Equal(t, CrossMark, StateMark(core.StateFailed))
	assert.Equal(t, Arrow, StateMark(core.StateInstalling))
}

func TestPrintState(t *testing.T) {
	withoutColor(t)

	item := core.NewInstallItem("com.example.app", "app-1.2.apk")
	var buf bytes.Buffer
	PrintState(&buf, item.StatesTo(core.StateInstalled))

	assert.Contains(t, buf.String(), "com.example.app: installed\n")
}

func TestPrintFunctions(t *testing.T) {
	withoutColor(t)

	t.Run("PrintInfo", func(t *testing.T) {
		out := captureStdout(t, func() { PrintInfo("info %d", 42) })
		assert.Contains(t, out, "info 42")
	})

	t.Run("PrintKeyValue", func(t *testing.T) {
		var buf bytes.Buffer
		PrintKeyValue(&buf, "Package", "com.example.app")
		assert.Equal(t, "Package: com.example.app\n", buf.String())
	})

	t.Run("PrintHeader", func(t *testing.T) {
		var buf bytes.Buffer
		PrintHeader(&buf, "Items")
		assert.Contains(t, buf.String(), "Items\n")
		assert.Contains(t, buf.String(), "────")
	})
}

func TestSprintFunctions(t *testing.T) {
	withoutColor(t)

	assert.Contains(t, SprintSuccess("done %d", 2), "done 2")
	assert.Contains(t, SprintError("broken"), "broken")
}
