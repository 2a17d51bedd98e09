// Package session exposes the platform package installer session API.
package session

import (
	"context"
	"io"
)

// Mode selects how a session applies its payload
type Mode int

const (
	// ModeFullInstall replaces the whole package
	ModeFullInstall Mode = iota + 1
	// ModeInheritExisting adds splits to an installed package
	ModeInheritExisting
)

// Params configures a new install session
type Params struct {
	Mode      Mode
	SizeBytes int64
	// RequireUserAction asks the platform to confirm with the user. PMInstaller
	// only records it: sessions created through the pm shell command never
	// prompt, whatever the value.
	RequireUserAction bool
	InstallerPackage  string
}

// StatusCode classifies a status report
type StatusCode int

const (
	StatusSuccess StatusCode = iota
	StatusFailure
	StatusPendingUserAction
)

func (c StatusCode) String() string {
	switch c {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusPendingUserAction:
		return "pending_user_action"
	default:
		return "unknown"
	}
}

// Status is delivered to a StatusReceiver when an operation completes or needs the user
type Status struct {
	SessionID   int
	PackageName string
	Code        StatusCode
	Message     string
}

// StatusReceiver is the completion target of a commit or uninstall
type StatusReceiver interface {
	OnStatus(Status)
}

// StatusFunc adapts a function to StatusReceiver
type StatusFunc func(Status)

// OnStatus calls f(s)
func (f StatusFunc) OnStatus(s Status) { f(s) }

// Callback observes session lifecycle events.
// Registration is by pointer identity.
type Callback struct {
	OnFinished func(sessionID int, success bool)
}

// Session is an open install session
type Session interface {
	// Write streams size bytes from r into the session under name
	Write(ctx context.Context, name string, size int64, r io.Reader) error
	// Fsync makes written bytes durable
	Fsync() error
	// Commit starts installation and returns without waiting for it
	Commit(ctx context.Context, target StatusReceiver) error
	Close() error
}

// PackageInstaller creates and tracks install sessions
type PackageInstaller interface {
	CreateSession(ctx context.Context, p Params) (int, error)
	OpenSession(ctx context.Context, id int) (Session, error)
	AbandonSession(ctx context.Context, id int) error
	Sessions() []int
	SupportsUserActionSuppression(ctx context.Context) bool
	RegisterCallback(cb *Callback)
	UnregisterCallback(cb *Callback)
	// Uninstall returns once the request is accepted; the outcome goes to target
	Uninstall(ctx context.Context, packageName string, target StatusReceiver) error
}
