package providers

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/openfroyo/capstan/pkg/engine"
)

// agentForms is the ordered command chain for the guest agent. Hosts with
// a python2 default need the interpreter spelled out; CoreOS ships the
// agent under the OEM partition.
var agentForms = []string{
	"waagent",
	"/usr/sbin/waagent",
	"python3 /usr/sbin/waagent",
	"/usr/share/oem/python/bin/python /usr/share/oem/bin/waagent",
}

// pythonCandidates is the interpreter chain used for programmatic agent
// queries. platform-python covers RedHat 8, the OEM path covers Flatcar.
var pythonCandidates = []string{
	"python3",
	"python2",
	"/usr/libexec/platform-python",
	"/usr/share/oem/python/bin/python3",
}

// WALinuxAgent-2.7.0.6 running on ubuntu 22.04
var agentVersionPattern = regexp.MustCompile(`-(\S+)`)

// ResourceDisk.MountPoint=/mnt
var agentKeyValuePattern = regexp.MustCompile(`^\s*(\S+)=(\S+)\s*$`)

const (
	agentConfPathQuery = `-c "from azurelinuxagent.common.osutil import get_osutil;` +
		`print(get_osutil().agent_conf_file_path)"`
	agentDistroQuery = `-c "from azurelinuxagent.common.version import get_distro;` +
		`print('-'.join(get_distro()[0:3]))"`
	agentDistroLegacyQuery = `-c "import platform;` +
		`print('-'.join(platform.linux_distribution(0)))"`
)

func guestAgentDescriptor() *engine.Descriptor {
	return &engine.Descriptor{
		Capability:   CapGuestAgent,
		Name:         "waagent",
		Matches:      func(p engine.PlatformProfile) bool { return p.Family.IsPosix() },
		Command:      "waagent",
		Dependencies: []engine.CapabilityID{CapServiceController},
		Candidates: func(_ engine.Target) []engine.Candidate {
			cands := make([]engine.Candidate, 0, len(agentForms))
			for _, form := range agentForms {
				cands = append(cands, engine.Cmd(form+" -version"))
			}
			return cands
		},
		New: func(t engine.Target, deps []*engine.Resolved) engine.Provider {
			agent := &GuestAgent{target: t}
			if dep := engine.DependencyOf(deps, CapServiceController); dep != nil {
				agent.services, _ = dep.Provider.(*ServiceController)
			}
			return agent
		},
	}
}

// GuestAgent controls the platform guest agent on a target. Derived facts
// (working command form, interpreter, config path, distro version, parsed
// configuration) are detected once and owned by the provider instance.
type GuestAgent struct {
	target   engine.Target
	services *ServiceController

	mu            sync.Mutex
	command       string
	versionOutput string
	interpreter   string
	confPath      string
	distroVersion string
	config        map[string]string
}

// Capability implements engine.Provider.
func (a *GuestAgent) Capability() engine.CapabilityID { return CapGuestAgent }

// Version returns the agent version, parsed from the version banner of the
// first working command form.
func (a *GuestAgent) Version(ctx context.Context) (string, error) {
	_, out, err := a.commandForm(ctx)
	if err != nil {
		return "", err
	}
	matched := agentVersionPattern.FindStringSubmatch(out)
	if matched == nil {
		return "", engine.NewError(engine.KindCapabilityUnavailable,
			fmt.Sprintf("agent version banner not recognized: %q", out)).
			WithCapability(CapGuestAgent).WithTarget(a.target.ID())
	}
	return matched[1], nil
}

// Deprovision deprovisions the agent. The user account is kept so the
// target stays reachable.
func (a *GuestAgent) Deprovision(ctx context.Context) error {
	cmd, _, err := a.commandForm(ctx)
	if err != nil {
		return err
	}
	_, err = a.target.Execute(ctx, cmd+" -deprovision --force", engine.ExecOptions{Elevated: true})
	if err != nil {
		return engine.WrapError(engine.KindCapabilityUnavailable,
			"failed to deprovision guest agent", err).
			WithCapability(CapGuestAgent).WithTarget(a.target.ID())
	}
	return nil
}

// Restart restarts the agent service. Debian-family hosts name the unit
// walinuxagent, everything else uses waagent.
func (a *GuestAgent) Restart(ctx context.Context) error {
	if a.services == nil {
		return engine.NewError(engine.KindInternal,
			"guest agent has no service controller dependency").WithCapability(CapGuestAgent)
	}
	profile, err := a.target.Profile(ctx)
	if err != nil {
		return engine.WrapError(engine.KindTransportFailed, "failed to read platform profile", err)
	}
	unit := "waagent"
	if profile.Family.IsDebianLike() {
		unit = "walinuxagent"
	}
	return a.services.Restart(ctx, unit)
}

// IsRunning reports whether the agent service is active.
func (a *GuestAgent) IsRunning(ctx context.Context) (bool, error) {
	if a.services == nil {
		return false, engine.NewError(engine.KindInternal,
			"guest agent has no service controller dependency").WithCapability(CapGuestAgent)
	}
	profile, err := a.target.Profile(ctx)
	if err != nil {
		return false, engine.WrapError(engine.KindTransportFailed, "failed to read platform profile", err)
	}
	unit := "waagent"
	if profile.Family.IsDebianLike() {
		unit = "walinuxagent"
	}
	return a.services.IsActive(ctx, unit)
}

// Interpreter returns the first present python interpreter from the
// candidate chain.
func (a *GuestAgent) Interpreter(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.interpreterLocked(ctx)
}

func (a *GuestAgent) interpreterLocked(ctx context.Context) (string, error) {
	if a.interpreter != "" {
		return a.interpreter, nil
	}
	for _, cand := range pythonCandidates {
		_, err := a.target.Execute(ctx, fmt.Sprintf("command -v %s", cand), engine.ExecOptions{})
		if err == nil {
			a.interpreter = cand
			return cand, nil
		}
	}
	return "", engine.NewError(engine.KindCapabilityUnavailable,
		"no python interpreter present").WithCapability(CapGuestAgent).WithTarget(a.target.ID())
}

// ConfigPath returns the agent's configuration file path. The agent's own
// code is asked first; hosts where that fails fall back to the per-family
// well-known locations.
func (a *GuestAgent) ConfigPath(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.configPathLocked(ctx)
}

func (a *GuestAgent) configPathLocked(ctx context.Context) (string, error) {
	if a.confPath != "" {
		return a.confPath, nil
	}

	if python, err := a.interpreterLocked(ctx); err == nil {
		res, err := a.target.Execute(ctx, python+" "+agentConfPathQuery, engine.ExecOptions{})
		if err == nil && strings.TrimSpace(res.Stdout) != "" {
			a.confPath = strings.TrimSpace(res.Stdout)
			return a.confPath, nil
		}
	}

	profile, err := a.target.Profile(ctx)
	if err != nil {
		return "", engine.WrapError(engine.KindTransportFailed, "failed to read platform profile", err)
	}
	switch profile.Family {
	case engine.FamilyCoreOS:
		a.confPath = "/usr/share/oem/waagent.conf"
	case engine.FamilyFreeBSD:
		a.confPath = "/usr/local/etc/waagent.conf"
	default:
		a.confPath = "/etc/waagent.conf"
	}
	return a.confPath, nil
}

// DistroVersion returns the distro identity string as the agent reports
// it: the modern query, then the legacy platform module, then the Unknown
// sentinel. This is the only detector allowed to degrade instead of erroring.
func (a *GuestAgent) DistroVersion(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.distroVersion != "" {
		return a.distroVersion, nil
	}

	python, err := a.interpreterLocked(ctx)
	if err != nil {
		return "", err
	}

	res, err := a.target.Execute(ctx, python+" "+agentDistroQuery, engine.ExecOptions{})
	if err == nil {
		a.distroVersion = strings.TrimSpace(res.Stdout)
		return a.distroVersion, nil
	}

	res, err = a.target.Execute(ctx, python+" "+agentDistroLegacyQuery, engine.ExecOptions{})
	if err == nil {
		a.distroVersion = strings.ToLower(strings.Trim(strings.TrimSpace(res.Stdout), `"`))
		return a.distroVersion, nil
	}

	a.distroVersion = "Unknown"
	return a.distroVersion, nil
}

// Configuration returns the parsed agent configuration. Malformed lines
// are skipped. fresh forces a re-read.
func (a *GuestAgent) Configuration(ctx context.Context, fresh bool) (map[string]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.config != nil && !fresh {
		return a.config, nil
	}

	path, err := a.configPathLocked(ctx)
	if err != nil {
		return nil, err
	}
	data, err := a.target.ReadFile(ctx, path, false)
	if err != nil {
		return nil, engine.WrapError(engine.KindCapabilityUnavailable,
			fmt.Sprintf("failed to read agent configuration %s", path), err).
			WithCapability(CapGuestAgent).WithTarget(a.target.ID())
	}

	config := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		matched := agentKeyValuePattern.FindStringSubmatch(line)
		if matched != nil {
			config[matched[1]] = matched[2]
		}
	}
	a.config = config
	return config, nil
}

// RootDeviceTimeout returns the configured root device SCSI timeout.
func (a *GuestAgent) RootDeviceTimeout(ctx context.Context) (int, error) {
	config, err := a.Configuration(ctx, false)
	if err != nil {
		return 0, err
	}
	value, ok := config["OS.RootDeviceScsiTimeout"]
	if !ok {
		return 0, fmt.Errorf("OS.RootDeviceScsiTimeout is not configured")
	}
	timeout, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("unparseable OS.RootDeviceScsiTimeout %q: %w", value, err)
	}
	return timeout, nil
}

// ResourceDiskMountPoint returns the configured resource disk mount point.
func (a *GuestAgent) ResourceDiskMountPoint(ctx context.Context) (string, error) {
	config, err := a.Configuration(ctx, false)
	if err != nil {
		return "", err
	}
	mount, ok := config["ResourceDisk.MountPoint"]
	if !ok {
		return "", fmt.Errorf("ResourceDisk.MountPoint is not configured")
	}
	return mount, nil
}

// IsSwapEnabled reports whether the agent manages swap on the resource
// disk.
func (a *GuestAgent) IsSwapEnabled(ctx context.Context) (bool, error) {
	config, err := a.Configuration(ctx, false)
	if err != nil {
		return false, err
	}
	switch config["ResourceDisk.EnableSwap"] {
	case "y":
		return true, nil
	case "n":
		return false, nil
	default:
		return false, fmt.Errorf("unknown value for ResourceDisk.EnableSwap: %q",
			config["ResourceDisk.EnableSwap"])
	}
}

// IsAutoUpdateEnabled reports whether agent auto-update is on. Absent
// defaults to enabled.
func (a *GuestAgent) IsAutoUpdateEnabled(ctx context.Context) (bool, error) {
	config, err := a.Configuration(ctx, false)
	if err != nil {
		return false, err
	}
	return config["AutoUpdate.Enabled"] != "n", nil
}

// commandForm finds the first working agent command form and memoizes it
// together with its version banner.
func (a *GuestAgent) commandForm(ctx context.Context) (cmd, versionOutput string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.command != "" {
		return a.command, a.versionOutput, nil
	}
	for _, form := range agentForms {
		res, err := a.target.Execute(ctx, form+" -version", engine.ExecOptions{})
		if err == nil {
			a.command = form
			a.versionOutput = res.Stdout
			return form, res.Stdout, nil
		}
	}
	return "", "", engine.NewError(engine.KindCapabilityUnavailable,
		"guest agent not present").WithCapability(CapGuestAgent).WithTarget(a.target.ID())
}
