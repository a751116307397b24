// Package targets binds a remote transport to the engine's execution
// context: command execution with exit-code contracts, remote file access,
// cached platform profile detection, and the per-family package manager
// surface.
package targets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/capstan/pkg/engine"
	"github.com/openfroyo/capstan/pkg/transports/ssh"
)

// DefaultWorkDir is the scratch directory used on targets when none is
// configured.
const DefaultWorkDir = "/tmp/capstan"

// Transport is the subset of the SSH transport a target consumes.
type Transport interface {
	Run(ctx context.Context, cmd string, opts ssh.RunOptions) (*ssh.ExecResult, error)
	ReadFile(ctx context.Context, path string, elevated bool) ([]byte, error)
	PathExists(ctx context.Context, path string) (bool, error)
}

// SSHTarget is an engine.Target backed by an SSH transport. It detects the
// platform profile once, owns the remote scratch directory, and exposes the
// platform's package manager to installation strategies.
type SSHTarget struct {
	id           string
	transport    Transport
	workdir      string
	sudoPassword string

	mu         sync.Mutex
	profile    *engine.PlatformProfile
	pkgUpdated bool
}

// Option configures an SSHTarget.
type Option func(*SSHTarget)

// WithWorkDir overrides the remote scratch directory.
func WithWorkDir(dir string) Option {
	return func(t *SSHTarget) { t.workdir = dir }
}

// WithSudoPassword sets the password used for elevated commands. Empty
// assumes NOPASSWD sudo.
func WithSudoPassword(password string) Option {
	return func(t *SSHTarget) { t.sudoPassword = password }
}

// NewSSHTarget creates a target over an established transport.
func NewSSHTarget(id string, transport Transport, opts ...Option) *SSHTarget {
	t := &SSHTarget{
		id:        id,
		transport: transport,
		workdir:   DefaultWorkDir,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ID implements engine.Target.
func (t *SSHTarget) ID() string { return t.id }

// WorkDir implements engine.Target.
func (t *SSHTarget) WorkDir() string { return t.workdir }

// Execute implements engine.Target. A command that completes with an exit
// code outside the expected set returns the result together with a
// *engine.CommandError; transport failures return a bare error.
func (t *SSHTarget) Execute(ctx context.Context, cmd string, opts engine.ExecOptions) (*engine.ExecResult, error) {
	res, err := t.transport.Run(ctx, cmd, ssh.RunOptions{
		Elevated:     opts.Elevated,
		SudoPassword: t.sudoPassword,
		Timeout:      opts.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to execute on %s: %w", t.id, err)
	}

	result := &engine.ExecResult{
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		Duration: res.Duration,
	}
	if !opts.Accepts(result.ExitCode) {
		return result, &engine.CommandError{Cmd: cmd, Result: result}
	}
	return result, nil
}

// ReadFile implements engine.Target.
func (t *SSHTarget) ReadFile(ctx context.Context, path string, elevated bool) ([]byte, error) {
	return t.transport.ReadFile(ctx, path, elevated)
}

// PathExists implements engine.Target.
func (t *SSHTarget) PathExists(ctx context.Context, path string) (bool, error) {
	return t.transport.PathExists(ctx, path)
}

// Profile implements engine.Target: the platform profile is detected on
// first use and cached for the target's lifetime.
func (t *SSHTarget) Profile(ctx context.Context) (engine.PlatformProfile, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.profile != nil {
		return *t.profile, nil
	}

	profile, err := detectProfile(ctx, t)
	if err != nil {
		return engine.PlatformProfile{}, err
	}

	log.Info().
		Str("target", t.id).
		Str("family", string(profile.Family)).
		Str("version", string(profile.Version)).
		Str("arch", profile.Arch).
		Msg("platform profile detected")

	t.profile = &profile
	return profile, nil
}

// InstallPackages implements engine.PackageHost.
func (t *SSHTarget) InstallPackages(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		return nil
	}

	profile, err := t.Profile(ctx)
	if err != nil {
		return err
	}
	cmds, err := packageCommandsFor(profile.Family)
	if err != nil {
		return err
	}

	if cmds.update != "" {
		t.mu.Lock()
		needsUpdate := !t.pkgUpdated
		t.pkgUpdated = true
		t.mu.Unlock()
		if needsUpdate {
			if _, err := t.Execute(ctx, cmds.update, engine.ExecOptions{
				Elevated: true,
				Timeout:  packageTimeout,
			}); err != nil {
				log.Warn().Err(err).Str("target", t.id).Msg("package index refresh failed")
			}
		}
	}

	log.Debug().
		Str("target", t.id).
		Strs("packages", names).
		Msg("installing packages")

	if _, err := t.Execute(ctx, cmds.install(names), engine.ExecOptions{
		Elevated: true,
		Timeout:  packageTimeout,
	}); err != nil {
		return fmt.Errorf("failed to install packages %s: %w", strings.Join(names, " "), err)
	}
	return nil
}

// PackageInstalled implements engine.PackageHost.
func (t *SSHTarget) PackageInstalled(ctx context.Context, name string) (bool, error) {
	profile, err := t.Profile(ctx)
	if err != nil {
		return false, err
	}
	cmds, err := packageCommandsFor(profile.Family)
	if err != nil {
		return false, err
	}

	res, err := t.Execute(ctx, cmds.query(name), engine.ExecOptions{
		ExpectedExitCodes: []int{0, 1},
	})
	if err != nil {
		// Query tools use assorted non-zero codes for "not installed".
		var cmdErr *engine.CommandError
		if errors.As(err, &cmdErr) {
			return false, nil
		}
		return false, err
	}
	return cmds.installed(res), nil
}
