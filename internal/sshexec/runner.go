package sshexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/teracloudstack/failover-tester/internal/config"
	"github.com/teracloudstack/failover-tester/internal/utils"
)

// Result captures one remote command execution.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner executes shell commands on named hosts. Fault injectors depend on
// this interface only, never on a concrete transport.
type Runner interface {
	Run(ctx context.Context, host, command string) (Result, error)
	Close() error
}

// SSHRunner is a Runner over persistent SSH connections, one per host.
type SSHRunner struct {
	cfg    config.SSHConfig
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*ssh.Client
}

// NewSSHRunner constructs a Runner using the configured credentials.
func NewSSHRunner(cfg config.SSHConfig, logger *slog.Logger) *SSHRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &SSHRunner{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[string]*ssh.Client),
	}
}

// Run executes a command on the named host and returns its exit code and
// output. A non-zero exit code is not an error; callers decide what it
// means for them.
func (r *SSHRunner) Run(ctx context.Context, host, command string) (Result, error) {
	client, err := r.client(host)
	if err != nil {
		return Result{}, err
	}

	session, err := client.NewSession()
	if err != nil {
		return Result{}, utils.NewAppError("sshexec.run", "open session on "+host, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	r.logger.Debug("executing remote command", slog.String("host", host), slog.String("command", command))

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		// Closing the session unblocks Run; the remote command may keep
		// going, which cleanup has to tolerate anyway.
		session.Close()
		<-done
		return Result{}, ctx.Err()
	case err = <-done:
	}

	result := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		return result, fmt.Errorf("run on %s: %w", host, err)
	}
	return result, nil
}

// Close tears down all cached connections.
func (r *SSHRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for host, client := range r.clients {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close connection to %s: %w", host, err)
		}
	}
	r.clients = make(map[string]*ssh.Client)
	return firstErr
}

func (r *SSHRunner) client(host string) (*ssh.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if client, ok := r.clients[host]; ok {
		return client, nil
	}

	hostCfg, ok := r.cfg.Hosts[host]
	if !ok {
		// Unlisted hosts fall back to the shared credentials with the
		// host name used as the address.
		hostCfg = config.HostConfig{Hostname: host}
	}
	if hostCfg.Hostname == "" {
		hostCfg.Hostname = host
	}
	if hostCfg.Port == 0 {
		hostCfg.Port = 22
	}

	username := hostCfg.Username
	if username == "" {
		username = r.cfg.Username
	}
	if username == "" {
		return nil, fmt.Errorf("no SSH username configured for host %s", host)
	}

	auth, err := r.authMethods(hostCfg)
	if err != nil {
		return nil, err
	}

	timeout := r.cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	addr := net.JoinHostPort(hostCfg.Hostname, fmt.Sprintf("%d", hostCfg.Port))
	client, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            username,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // lab hosts, keys churn with every provisioning
		Timeout:         timeout,
	})
	if err != nil {
		return nil, utils.NewAppError("sshexec.dial", addr, err)
	}

	r.logger.Debug("established SSH connection", slog.String("host", host), slog.String("addr", addr))
	r.clients[host] = client
	return client, nil
}

func (r *SSHRunner) authMethods(hostCfg config.HostConfig) ([]ssh.AuthMethod, error) {
	keyPath := hostCfg.PrivateKeyPath
	if keyPath == "" {
		keyPath = r.cfg.PrivateKeyPath
	}
	password := hostCfg.Password
	if password == "" {
		password = r.cfg.Password
	}

	methods := make([]ssh.AuthMethod, 0, 2)
	if keyPath != "" {
		keyBytes, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("read private key %s: %w", keyPath, err)
		}
		signer, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("parse private key %s: %w", keyPath, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if password != "" {
		methods = append(methods, ssh.Password(password))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("no SSH authentication method configured for %s", hostCfg.Hostname)
	}
	return methods, nil
}
