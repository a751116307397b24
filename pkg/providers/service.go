package providers

import (
	"context"
	"fmt"
	"sync"

	"github.com/openfroyo/capstan/pkg/engine"
)

func serviceControllerDescriptor() *engine.Descriptor {
	return &engine.Descriptor{
		Capability: CapServiceController,
		Name:       "systemctl-service",
		Matches:    func(p engine.PlatformProfile) bool { return p.Family.IsPosix() },
		Command:    "systemctl",
		Candidates: func(_ engine.Target) []engine.Candidate {
			return []engine.Candidate{
				engine.Cmd("command -v systemctl"),
				engine.Cmd("command -v service"),
			}
		},
		New: func(t engine.Target, _ []*engine.Resolved) engine.Provider {
			return &ServiceController{target: t}
		},
	}
}

// ServiceController restarts and inspects system services through systemd
// when present, falling back to the SysV service wrapper.
type ServiceController struct {
	target engine.Target

	mu      sync.Mutex
	systemd bool
	checked bool
}

// Capability implements engine.Provider.
func (s *ServiceController) Capability() engine.CapabilityID { return CapServiceController }

// Restart restarts a service with root privileges.
func (s *ServiceController) Restart(ctx context.Context, name string) error {
	systemd, err := s.useSystemd(ctx)
	if err != nil {
		return err
	}
	cmd := fmt.Sprintf("service %s restart", name)
	if systemd {
		cmd = fmt.Sprintf("systemctl restart %s", name)
	}
	if _, err := s.target.Execute(ctx, cmd, engine.ExecOptions{Elevated: true}); err != nil {
		return engine.WrapError(engine.KindCapabilityUnavailable,
			fmt.Sprintf("failed to restart service %s", name), err).
			WithCapability(CapServiceController).WithTarget(s.target.ID())
	}
	return nil
}

// IsActive reports whether a service is currently running.
func (s *ServiceController) IsActive(ctx context.Context, name string) (bool, error) {
	systemd, err := s.useSystemd(ctx)
	if err != nil {
		return false, err
	}
	cmd := fmt.Sprintf("service %s status", name)
	if systemd {
		cmd = fmt.Sprintf("systemctl is-active %s", name)
	}
	res, err := s.target.Execute(ctx, cmd, engine.ExecOptions{ExpectedExitCodes: []int{0, 1, 3}})
	if err != nil {
		return false, engine.WrapError(engine.KindTransportFailed,
			fmt.Sprintf("failed to query service %s", name), err).WithTarget(s.target.ID())
	}
	return res.ExitCode == 0, nil
}

func (s *ServiceController) useSystemd(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checked {
		return s.systemd, nil
	}
	_, err := s.target.Execute(ctx, "command -v systemctl", engine.ExecOptions{})
	s.systemd = err == nil
	s.checked = true
	return s.systemd, nil
}
