package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const defaultSSHTimeout = 30 * time.Second

// Dialer opens SSH client connections
type Dialer interface {
	Dial(network, addr string, config *ssh.ClientConfig, timeout time.Duration) (*ssh.Client, error)
}

type netDialer struct{}

func (netDialer) Dial(network, addr string, config *ssh.ClientConfig, timeout time.Duration) (*ssh.Client, error) {
	cfg := *config
	cfg.Timeout = timeout
	return ssh.Dial(network, addr, &cfg)
}

// SSHConfig describes the remote managed host
type SSHConfig struct {
	Host       string
	Port       int
	User       string
	Password   string
	KeyFile    string
	KnownHosts string
	Sudo       bool
	Timeout    time.Duration
}

// SSHShell runs privileged commands on a remote host over SSH
type SSHShell struct {
	cfg    SSHConfig
	client *ssh.ClientConfig
	dialer Dialer
	logger *zerolog.Logger
}

// NewSSHShell builds the client configuration. Key material is read through fs.
func NewSSHShell(fs afero.Fs, cfg SSHConfig, log *zerolog.Logger) (*SSHShell, error) {
	if cfg.Host == "" {
		return nil, errors.New("ssh host is required")
	}
	if cfg.User == "" {
		return nil, errors.New("ssh user is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSSHTimeout
	}

	var auth []ssh.AuthMethod
	if cfg.KeyFile != "" {
		keyBytes, err := afero.ReadFile(fs, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read ssh key: %w", err)
		}
		var signer ssh.Signer
		if cfg.Password != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(cfg.Password))
		} else {
			signer, err = ssh.ParsePrivateKey(keyBytes)
		}
		if err != nil {
			return nil, fmt.Errorf("parse ssh key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	} else if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	if len(auth) == 0 {
		return nil, errors.New("ssh requires a password or a key file")
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHosts != "" {
		cb, err := knownhosts.New(cfg.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
		hostKeyCallback = cb
	} else {
		log.Warn().Str("host", cfg.Host).Msg("ssh host key verification disabled, set shell.ssh.known_hosts")
	}

	return &SSHShell{
		cfg: cfg,
		client: &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            auth,
			HostKeyCallback: hostKeyCallback,
		},
		dialer: netDialer{},
		logger: log,
	}, nil
}

// WithDialer replaces the network dialer
func (s *SSHShell) WithDialer(d Dialer) *SSHShell {
	s.dialer = d
	return s
}

func (s *SSHShell) addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

func (s *SSHShell) wrap(command string) string {
	if s.cfg.Sudo {
		return "sudo -n sh -c " + Quote(command)
	}
	return command
}

// Exec runs command on the remote host
func (s *SSHShell) Exec(ctx context.Context, command string) (*Result, error) {
	return s.run(ctx, command, nil)
}

// ExecInput runs command on the remote host with r as its stdin
func (s *SSHShell) ExecInput(ctx context.Context, command string, r io.Reader) (*Result, error) {
	return s.run(ctx, command, r)
}

func (s *SSHShell) run(ctx context.Context, command string, stdin io.Reader) (*Result, error) {
	timeout := s.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	client, err := s.dialer.Dial("tcp", s.addr(), s.client, timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrShellUnavailable, s.addr(), err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("%w: open session: %w", ErrShellUnavailable, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if stdin != nil {
		session.Stdin = stdin
	}

	cmdStr := s.wrap(command)
	s.logger.Debug().Str("host", s.cfg.Host).Str("command", cmdStr).Msg("executing remote command")

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmdStr)
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = client.Close()
		return nil, ctx.Err()
	}

	return sshResult(err, stdout.String(), stderr.String())
}

func sshResult(err error, stdout, stderr string) (*Result, error) {
	res := &Result{
		Out: splitLines(stdout),
		Err: splitLines(stderr),
	}
	if err == nil {
		return res, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitStatus()
		return res, nil
	}

	return nil, fmt.Errorf("%w: %w", ErrShellUnavailable, err)
}

// Available reports whether the remote host accepts a trivial privileged command
func (s *SSHShell) Available(ctx context.Context) bool {
	res, err := s.Exec(ctx, "true")
	return err == nil && res.IsSuccess()
}
