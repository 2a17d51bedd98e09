package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/hashicorp/go-version"
	"github.com/kballard/go-shellquote"
	"github.com/quantmind-br/droidctl/internal/helpers"
	"github.com/quantmind-br/droidctl/internal/security"
	"github.com/rs/zerolog"
)

// ErrUnknownSession is returned for session ids this installer does not own
var ErrUnknownSession = errors.New("unknown install session")

var (
	createdSessionRegex = regexp.MustCompile(`\[(\d+)\]`)
	// suppression of the user-action prompt needs API level 31
	userActionSuppressionSDK = version.Must(version.NewVersion("31"))
)

// PMInstaller drives the Android package manager session commands
// (install-create, install-write, install-commit, install-abandon).
type PMInstaller struct {
	runner helpers.CommandRunner
	prefix []string
	logger *zerolog.Logger
	events *dispatcher

	mu        sync.Mutex
	sessions  map[int]struct{}
	callbacks []*Callback

	sdkOnce  sync.Once
	suppress bool

	wg sync.WaitGroup
}

// NewPMInstaller creates an installer. deviceShell prefixes every device
// command, e.g. "adb -s emulator-5554 shell"; empty runs on this host.
func NewPMInstaller(runner helpers.CommandRunner, deviceShell string, log *zerolog.Logger) (*PMInstaller, error) {
	prefix, err := shellquote.Split(deviceShell)
	if err != nil {
		return nil, fmt.Errorf("parse device shell %q: %w", deviceShell, err)
	}

	return &PMInstaller{
		runner:   runner,
		prefix:   prefix,
		logger:   log,
		events:   newDispatcher(),
		sessions: make(map[int]struct{}),
	}, nil
}

func (p *PMInstaller) device(args ...string) (string, []string) {
	argv := make([]string, 0, len(p.prefix)+len(args))
	argv = append(argv, p.prefix...)
	argv = append(argv, args...)
	return argv[0], argv[1:]
}

func (p *PMInstaller) pm(ctx context.Context, args ...string) (string, error) {
	name, rest := p.device(append([]string{"pm"}, args...)...)
	if err := p.runner.RequireCommand(name); err != nil {
		return "", err
	}
	return p.runner.RunCommand(ctx, name, rest...)
}

// CreateSession runs pm install-create and records the new session id
func (p *PMInstaller) CreateSession(ctx context.Context, params Params) (int, error) {
	if params.Mode != ModeFullInstall {
		return 0, fmt.Errorf("session mode %d is not supported", params.Mode)
	}

	args := []string{"install-create", "-r"}
	if params.SizeBytes > 0 {
		args = append(args, "-S", strconv.FormatInt(params.SizeBytes, 10))
	}
	if params.InstallerPackage != "" {
		if err := security.ValidatePackageName(params.InstallerPackage); err != nil {
			return 0, fmt.Errorf("installer package: %w", err)
		}
		args = append(args, "-i", params.InstallerPackage)
	}

	out, err := p.pm(ctx, args...)
	if err != nil {
		return 0, fmt.Errorf("pm install-create: %w", err)
	}

	m := createdSessionRegex.FindStringSubmatch(out)
	if m == nil {
		return 0, fmt.Errorf("pm install-create: unexpected output %q", strings.TrimSpace(out))
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("pm install-create: parse session id: %w", err)
	}

	p.mu.Lock()
	p.sessions[id] = struct{}{}
	p.mu.Unlock()

	p.logger.Debug().
		Int("session_id", id).
		Bool("require_user_action", params.RequireUserAction).
		Msg("install session created")

	return id, nil
}

// OpenSession returns a handle for an owned session
func (p *PMInstaller) OpenSession(_ context.Context, id int) (Session, error) {
	if !p.owns(id) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSession, id)
	}
	return &pmSession{installer: p, id: id}, nil
}

func (p *PMInstaller) owns(id int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.sessions[id]
	return ok
}

// AbandonSession runs pm install-abandon. Registered callbacks observe an unsuccessful finish.
func (p *PMInstaller) AbandonSession(ctx context.Context, id int) error {
	if !p.owns(id) {
		return fmt.Errorf("%w: %d", ErrUnknownSession, id)
	}

	if _, err := p.pm(ctx, "install-abandon", strconv.Itoa(id)); err != nil {
		return fmt.Errorf("pm install-abandon %d: %w", id, err)
	}

	p.finish(id, false, nil, "abandoned")
	return nil
}

// Sessions lists the ids of sessions created here that have not finished
func (p *PMInstaller) Sessions() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]int, 0, len(p.sessions))
	for id := range p.sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// SupportsUserActionSuppression checks the device SDK level once
func (p *PMInstaller) SupportsUserActionSuppression(ctx context.Context) bool {
	p.sdkOnce.Do(func() {
		name, args := p.device("getprop", "ro.build.version.sdk")
		out, err := p.runner.RunCommand(ctx, name, args...)
		if err != nil {
			p.logger.Debug().Err(err).Msg("could not read device sdk level")
			return
		}
		v, err := version.NewVersion(strings.TrimSpace(out))
		if err != nil {
			p.logger.Debug().Err(err).Str("sdk", strings.TrimSpace(out)).Msg("unparseable sdk level")
			return
		}
		p.suppress = v.GreaterThanOrEqual(userActionSuppressionSDK)
	})
	return p.suppress
}

// RegisterCallback adds cb. Registering the same pointer twice is a no-op.
func (p *PMInstaller) RegisterCallback(cb *Callback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if slices.Contains(p.callbacks, cb) {
		return
	}
	p.callbacks = append(p.callbacks, cb)
}

// UnregisterCallback removes cb if registered
func (p *PMInstaller) UnregisterCallback(cb *Callback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callbacks = slices.DeleteFunc(p.callbacks, func(c *Callback) bool { return c == cb })
}

// Uninstall starts pm uninstall and returns once it is running
func (p *PMInstaller) Uninstall(ctx context.Context, packageName string, target StatusReceiver) error {
	if err := security.ValidatePackageName(packageName); err != nil {
		return err
	}
	name, _ := p.device("pm")
	if err := p.runner.RequireCommand(name); err != nil {
		return fmt.Errorf("uninstall %s: %w", packageName, err)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		out, err := p.pm(context.WithoutCancel(ctx), "uninstall", packageName)
		status := Status{PackageName: packageName, Code: StatusSuccess, Message: strings.TrimSpace(out)}
		if err != nil || !strings.Contains(out, "Success") {
			status.Code = StatusFailure
			if err != nil {
				status.Message = err.Error()
			}
		}
		p.events.post(func() { target.OnStatus(status) })
	}()

	return nil
}

// Close waits for running commits and uninstalls and stops event delivery
func (p *PMInstaller) Close() error {
	p.wg.Wait()
	p.events.close()
	return nil
}

// finish forgets id and notifies callbacks, then target
func (p *PMInstaller) finish(id int, success bool, target StatusReceiver, message string) {
	p.mu.Lock()
	delete(p.sessions, id)
	p.mu.Unlock()

	p.events.post(func() {
		p.mu.Lock()
		cbs := slices.Clone(p.callbacks)
		p.mu.Unlock()

		for _, cb := range cbs {
			if cb.OnFinished != nil {
				cb.OnFinished(id, success)
			}
		}

		if target != nil {
			code := StatusSuccess
			if !success {
				code = StatusFailure
			}
			target.OnStatus(Status{SessionID: id, Code: code, Message: message})
		}
	})
}

type pmSession struct {
	installer *PMInstaller
	id        int

	mu     sync.Mutex
	closed bool
}

func (s *pmSession) Write(ctx context.Context, name string, size int64, r io.Reader) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return fmt.Errorf("session %d is closed", s.id)
	}
	if err := security.ValidateFileName(name); err != nil {
		return fmt.Errorf("session entry name: %w", err)
	}

	p := s.installer
	cmd, args := p.device("pm", "install-write", "-S", strconv.FormatInt(size, 10), strconv.Itoa(s.id), name, "-")
	out, err := p.runner.RunCommandWithInput(ctx, r, cmd, args...)
	if err != nil {
		return fmt.Errorf("pm install-write: %w", err)
	}
	if !strings.Contains(out, "Success") {
		return fmt.Errorf("pm install-write: %s", strings.TrimSpace(out))
	}
	return nil
}

// Fsync is satisfied by install-write, which stages the payload before reporting success
func (s *pmSession) Fsync() error {
	return nil
}

func (s *pmSession) Commit(ctx context.Context, target StatusReceiver) error {
	p := s.installer
	if !p.owns(s.id) {
		return fmt.Errorf("%w: %d", ErrUnknownSession, s.id)
	}

	id := strconv.Itoa(s.id)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		out, err := p.pm(context.WithoutCancel(ctx), "install-commit", id)
		msg := strings.TrimSpace(out)
		success := err == nil && strings.Contains(out, "Success")
		if err != nil {
			msg = err.Error()
		}
		p.logger.Debug().Int("session_id", s.id).Bool("success", success).Str("output", msg).Msg("install session committed")
		p.finish(s.id, success, target, msg)
	}()

	return nil
}

func (s *pmSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
