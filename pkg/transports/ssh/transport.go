// Package ssh provides the SSH transport used to reach remote targets.
package ssh

import (
	"context"
	"time"
)

// Transport is the remote-machine surface the rest of the tool consumes:
// connection lifecycle, command execution with exit-code semantics, remote
// file access, and SFTP transfer.
type Transport interface {
	// Connect establishes an SSH connection to the remote host.
	// Returns an error if connection fails or authentication is rejected.
	Connect(ctx context.Context) error

	// Disconnect closes the SSH connection and releases all resources.
	Disconnect() error

	// IsConnected returns true if the transport has an active connection.
	IsConnected() bool

	// HealthCheck verifies the connection is still alive and responsive.
	HealthCheck(ctx context.Context) error

	// Run executes a command on the remote host. A command that runs to
	// completion never errors here regardless of its exit status; the
	// status is reported in the result. Only transport problems (session
	// setup, connection loss, timeout) surface as errors.
	Run(ctx context.Context, cmd string, opts RunOptions) (*ExecResult, error)

	// ReadFile reads a remote file. Elevated reads go through sudo;
	// plain reads go through SFTP.
	ReadFile(ctx context.Context, path string, elevated bool) ([]byte, error)

	// WriteFile writes data to a remote file via SFTP, creating parent
	// directories as needed.
	WriteFile(ctx context.Context, path string, data []byte, mode uint32) error

	// PathExists reports whether a remote path exists.
	PathExists(ctx context.Context, path string) (bool, error)

	// UploadFile uploads a local file to the remote host via SFTP.
	UploadFile(ctx context.Context, localPath string, remotePath string, mode uint32) error

	// DownloadFile downloads a remote file to the local host via SFTP.
	DownloadFile(ctx context.Context, remotePath string, localPath string) error

	// ConnectionInfo returns information about the current connection.
	ConnectionInfo() ConnectionInfo
}

// RunOptions controls a single remote command execution.
type RunOptions struct {
	// Elevated runs the command under sudo.
	Elevated bool

	// SudoPassword is piped to sudo -S when set. Empty assumes NOPASSWD.
	SudoPassword string

	// Timeout bounds the execution. Zero falls back to the config's
	// command timeout.
	Timeout time.Duration
}

// ConnectionInfo contains details about an active SSH connection.
type ConnectionInfo struct {
	// Host is the remote hostname or IP address
	Host string

	// Port is the SSH port number
	Port int

	// User is the SSH username
	User string

	// ConnectedAt is when the connection was established
	ConnectedAt time.Time

	// LastActivity is when the connection was last used
	LastActivity time.Time
}

// ExecResult represents the result of a remote command execution.
type ExecResult struct {
	// Stdout is the standard output from the command, trailing
	// whitespace trimmed
	Stdout string

	// Stderr is the standard error output from the command
	Stderr string

	// ExitCode is the command's exit code
	ExitCode int

	// StartedAt is when the command started executing
	StartedAt time.Time

	// FinishedAt is when the command finished
	FinishedAt time.Time

	// Duration is the total execution time
	Duration time.Duration
}

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "run", "upload")
	Op string

	// Err is the underlying error
	Err error

	// IsTemporary indicates if the error is temporary and can be retried
	IsTemporary bool

	// IsAuthError indicates if the error is related to authentication
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}
