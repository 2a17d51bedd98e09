package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstallState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from InstallState
		to   InstallState
		want bool
	}{
		{StateQueued, StateInstalling, true},
		{StateQueued, StateUninstalling, true},
		{StateQueued, StateInstalled, false},
		{StateQueued, StateFailed, false},
		{StateInstalling, StateInstalled, true},
		{StateInstalling, StateFailed, true},
		{StateInstalling, StateUninstalled, false},
		{StateInstalling, StateQueued, false},
		{StateUninstalling, StateUninstalled, true},
		{StateUninstalling, StateFailed, true},
		{StateUninstalling, StateInstalled, false},
		{StateInstalled, StateInstalling, false},
		{StateUninstalled, StateUninstalling, false},
		{StateFailed, StateInstalling, false},
		{StateFailed, StateFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestInstallState_IsTerminal(t *testing.T) {
	assert.False(t, StateQueued.IsTerminal())
	assert.False(t, StateInstalling.IsTerminal())
	assert.False(t, StateUninstalling.IsTerminal())
	assert.True(t, StateInstalled.IsTerminal())
	assert.True(t, StateUninstalled.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())
}

func TestTerminalStatesHaveNoSuccessor(t *testing.T) {
	all := []InstallState{StateQueued, StateInstalling, StateInstalled, StateUninstalling, StateUninstalled, StateFailed}
	for _, from := range all {
		if !from.IsTerminal() {
			continue
		}
		for _, to := range all {
			assert.False(t, from.CanTransitionTo(to), "%s must not transition to %s", from, to)
		}
	}
}

func TestParseInstallState(t *testing.T) {
	for _, s := range []InstallState{StateQueued, StateInstalling, StateInstalled, StateUninstalling, StateUninstalled, StateFailed} {
		parsed, err := ParseInstallState(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}

	_, err := ParseInstallState("exploded")
	assert.Error(t, err)
	assert.Equal(t, "state(42)", InstallState(42).String())
}

func TestParseInstallerType(t *testing.T) {
	got, err := ParseInstallerType("session")
	require.NoError(t, err)
	assert.Equal(t, InstallerSession, got)

	got, err = ParseInstallerType(" Root ")
	require.NoError(t, err)
	assert.Equal(t, InstallerRoot, got)

	_, err = ParseInstallerType("shizuku")
	assert.Error(t, err)
}

func TestNewInstallItem(t *testing.T) {
	a := NewInstallItem("com.example.app", "app-1.2.apk")
	b := NewInstallItem("com.example.app", "app-1.2.apk")

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, PackageName("com.example.app"), a.PackageName)
	assert.Equal(t, "app-1.2.apk", a.InstallFileName)
	assert.Zero(t, a.SessionID)

	st := a.StatesTo(StateInstalling)
	assert.Equal(t, a, st.Item)
	assert.Equal(t, StateInstalling, st.State)
	assert.Equal(t, "com.example.app: installing", st.String())
}
