package remote

import (
	"bufio"
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/ssh"
)

// RunStreaming executes a long-running command under a pseudo-terminal and
// delivers its output line by line as it arrives. The PTY makes the remote
// process emit progress incrementally and merges stderr into the stream.
// The returned code is the remote exit status; a non-zero status is not an
// error. Cancelling the context tears the session down after draining the
// output collected so far.
func (c *Client) RunStreaming(ctx context.Context, command string, onLine func(string)) (int, error) {
	session, err := c.ssh.NewSession()
	if err != nil {
		return -1, fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("xterm", 80, 40, modes); err != nil {
		return -1, fmt.Errorf("failed to request pty: %w", err)
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		return -1, fmt.Errorf("failed to get stdout pipe: %w", err)
	}

	if err := session.Start(command); err != nil {
		return -1, fmt.Errorf("failed to start %q: %w", command, err)
	}

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			onLine(scanner.Text())
		}
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		session.Close()
		<-drained
		return -1, ctx.Err()
	}

	if err := session.Wait(); err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitStatus(), nil
		}
		return -1, fmt.Errorf("wait for %q: %w", command, err)
	}

	return 0, nil
}
