package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// Output holds what a finished remote command produced. A non-zero exit
// status is data, not a transport failure.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Client is an authenticated SSH connection to a single host. The
// connection is opened once and owned exclusively by the caller; individual
// commands each run in their own session. Close releases the connection and
// must run on every exit path.
type Client struct {
	addr string
	ssh  *ssh.Client
	log  *zap.Logger
	stop chan struct{}
}

// Dial connects to host (either "host" or "host:port") using password
// authentication. The context aborts an in-flight connection attempt.
func Dial(ctx context.Context, host, user, password string, timeout time.Duration, log *zap.Logger) (*Client, error) {
	addr := normalizeAddr(host)

	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // operator-controlled hosts
		Timeout:         timeout,
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", addr, err)
	}

	c := &Client{
		addr: addr,
		ssh:  ssh.NewClient(sshConn, chans, reqs),
		log:  log,
		stop: make(chan struct{}),
	}
	go c.keepAlive(30 * time.Second)

	log.Debug("SSH connection established", zap.String("addr", addr), zap.String("user", user))
	return c, nil
}

func normalizeAddr(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, "22")
}

func (c *Client) keepAlive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, _, err := c.ssh.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				return
			}
		case <-c.stop:
			return
		}
	}
}

// Run executes a command in a fresh session and returns its output and exit
// status. Cancelling the context tears the session down.
func (c *Client) Run(ctx context.Context, command string) (Output, error) {
	session, err := c.ssh.NewSession()
	if err != nil {
		return Output{}, fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			session.Close()
		case <-done:
		}
	}()

	err = session.Run(command)
	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitStatus()
			return out, nil
		}
		return out, fmt.Errorf("run %q on %s: %w", command, c.addr, err)
	}

	return out, nil
}

// Addr returns the host:port this client is connected to.
func (c *Client) Addr() string {
	return c.addr
}

// Close releases the underlying connection and stops the keepalive loop.
func (c *Client) Close() error {
	close(c.stop)
	return c.ssh.Close()
}
