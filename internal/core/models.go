package core

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// PackageName is an application id such as com.example.app
type PackageName string

func (p PackageName) String() string {
	return string(p)
}

// InstallerType selects which backend drives installations
type InstallerType string

const (
	InstallerSession InstallerType = "session"
	InstallerRoot    InstallerType = "root"
)

// ParseInstallerType converts a configuration value into an InstallerType
func ParseInstallerType(s string) (InstallerType, error) {
	switch InstallerType(strings.ToLower(strings.TrimSpace(s))) {
	case InstallerSession:
		return InstallerSession, nil
	case InstallerRoot:
		return InstallerRoot, nil
	default:
		return "", fmt.Errorf("unknown installer type: %q (want %q or %q)", s, InstallerSession, InstallerRoot)
	}
}

// InstallState is the position of an item in the install state machine
type InstallState int

const (
	StateQueued InstallState = iota
	StateInstalling
	StateInstalled
	StateUninstalling
	StateUninstalled
	StateFailed
)

var stateNames = map[InstallState]string{
	StateQueued:       "queued",
	StateInstalling:   "installing",
	StateInstalled:    "installed",
	StateUninstalling: "uninstalling",
	StateUninstalled:  "uninstalled",
	StateFailed:       "failed",
}

func (s InstallState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ParseInstallState is the inverse of InstallState.String
func ParseInstallState(s string) (InstallState, error) {
	for state, name := range stateNames {
		if name == s {
			return state, nil
		}
	}
	return 0, fmt.Errorf("unknown install state: %q", s)
}

// IsTerminal reports whether no further transition may follow s
func (s InstallState) IsTerminal() bool {
	return s == StateInstalled || s == StateUninstalled || s == StateFailed
}

// CanTransitionTo reports whether next may directly follow s
func (s InstallState) CanTransitionTo(next InstallState) bool {
	switch s {
	case StateQueued:
		return next == StateInstalling || next == StateUninstalling
	case StateInstalling:
		return next == StateInstalled || next == StateFailed
	case StateUninstalling:
		return next == StateUninstalled || next == StateFailed
	default:
		return false
	}
}

// InstallItem identifies one pending installation or removal.
// SessionID is zero until a backend allocates OS resources for the item.
type InstallItem struct {
	ID              string      `json:"id"`
	PackageName     PackageName `json:"package_name"`
	InstallFileName string      `json:"install_file_name"`
	SessionID       int         `json:"session_id,omitempty"`
}

// NewInstallItem creates an item with a fresh id
func NewInstallItem(pkg PackageName, installFileName string) InstallItem {
	return InstallItem{
		ID:              uuid.NewString(),
		PackageName:     pkg,
		InstallFileName: installFileName,
	}
}

// StatesTo pairs the item with a state
func (i InstallItem) StatesTo(state InstallState) InstallItemState {
	return InstallItemState{Item: i, State: state}
}

// InstallItemState is the unit pushed through a state stream
type InstallItemState struct {
	Item  InstallItem  `json:"item"`
	State InstallState `json:"state"`
}

func (s InstallItemState) String() string {
	return fmt.Sprintf("%s: %s", s.Item.PackageName, s.State)
}

// Exit codes
const (
	ExitSuccess         = 0
	ExitGeneral         = 1
	ExitInvalidArgs     = 2
	ExitInstallFailed   = 3
	ExitUninstallFailed = 4
	ExitDatabase        = 5
	ExitPermission      = 6
	ExitArtifactMissing = 7
	ExitStalled         = 8
	ExitInterrupted     = 130
)
