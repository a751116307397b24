package ssh

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// Run executes a command on the remote host. A completed command reports its
// exit status in the result; only transport problems surface as errors.
func (c *Client) Run(ctx context.Context, cmd string, opts RunOptions) (*ExecResult, error) {
	startTime := time.Now()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.config.CommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log.Debug().
		Str("command", cmd).
		Bool("elevated", opts.Elevated).
		Dur("timeout", timeout).
		Msg("executing command")

	sshClient, err := c.getClient()
	if err != nil {
		return nil, err
	}

	session, err := sshClient.NewSession()
	if err != nil {
		return nil, &TransportError{
			Op:          "run",
			Err:         fmt.Errorf("failed to create session: %w", err),
			IsTemporary: true,
		}
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	finalCmd := cmd
	if opts.Elevated {
		if opts.SudoPassword != "" {
			session.Stdin = strings.NewReader(opts.SudoPassword + "\n")
			finalCmd = fmt.Sprintf("sudo -S -p '' %s", cmd)
		} else {
			finalCmd = fmt.Sprintf("sudo -n %s", cmd)
		}
	}

	doneChan := make(chan error, 1)
	go func() {
		doneChan <- session.Run(finalCmd)
	}()

	var execErr error
	select {
	case <-ctx.Done():
		// Context cancelled or timed out, try to stop the remote process.
		_ = session.Signal(ssh.SIGTERM)
		time.Sleep(100 * time.Millisecond)
		_ = session.Signal(ssh.SIGKILL)
		execErr = ctx.Err()
	case execErr = <-doneChan:
	}

	result := &ExecResult{
		Stdout:     strings.TrimRight(stdoutBuf.String(), "\n"),
		Stderr:     strings.TrimRight(stderrBuf.String(), "\n"),
		StartedAt:  startTime,
		FinishedAt: time.Now(),
		Duration:   time.Since(startTime),
	}

	log.Debug().
		Str("command", cmd).
		Int("stdout_len", len(result.Stdout)).
		Int("stderr_len", len(result.Stderr)).
		Dur("duration", result.Duration).
		Err(execErr).
		Msg("command completed")

	if execErr != nil {
		if exitErr, ok := execErr.(*ssh.ExitError); ok {
			// The command ran to completion with a non-zero status.
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		return nil, &TransportError{
			Op:          "run",
			Err:         fmt.Errorf("command %q did not complete: %w", cmd, execErr),
			IsTemporary: true,
		}
	}
	return result, nil
}

// PathExists reports whether a remote path exists.
func (c *Client) PathExists(ctx context.Context, path string) (bool, error) {
	res, err := c.Run(ctx, fmt.Sprintf("test -e %s", shellQuote(path)), RunOptions{})
	if err != nil {
		return false, err
	}
	switch res.ExitCode {
	case 0:
		return true, nil
	case 1:
		return false, nil
	default:
		return false, &TransportError{
			Op:  "path-exists",
			Err: fmt.Errorf("test -e %s exited %d: %s", path, res.ExitCode, res.Stderr),
		}
	}
}

// ReadFile reads a remote file. Elevated reads go through sudo cat; plain
// reads go through SFTP.
func (c *Client) ReadFile(ctx context.Context, path string, elevated bool) ([]byte, error) {
	if !elevated {
		return c.readFileSFTP(ctx, path)
	}

	res, err := c.Run(ctx, fmt.Sprintf("cat %s", shellQuote(path)), RunOptions{Elevated: true})
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, &TransportError{
			Op:  "read-file",
			Err: fmt.Errorf("cat %s exited %d: %s", path, res.ExitCode, res.Stderr),
		}
	}
	return []byte(res.Stdout), nil
}

// shellQuote single-quotes a path for safe interpolation into a shell
// command line.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
