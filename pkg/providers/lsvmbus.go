package providers

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/capstan/pkg/engine"
)

const lsvmbusScriptURL = "https://raw.githubusercontent.com/torvalds/linux/master/tools/hv/lsvmbus"

// lsvmbusForms is the ordered command path chain; the working-directory
// form covers the kernel-tree download fallback.
func lsvmbusForms(t engine.Target) []string {
	return []string{
		"lsvmbus",
		"$HOME/.local/bin/lsvmbus",
		"/usr/sbin/lsvmbus",
		path.Join(t.WorkDir(), "lsvmbus"),
	}
}

var (
	// VMBUS ID  1: Class_ID = {525074dc-8985-46e2-8057-a307dc18a502} - [Dynamic Memory]
	vmbusHeaderPattern = regexp.MustCompile(
		`(?m)^VMBUS ID\s+(?P<index>\d+): Class_ID = \{?(?P<class_id>.+?)\}? - \[?(?P<name>.+?)\]?\r?$`)
	// Device_ID = {00000000-0000-8899-0000-000000000000}
	vmbusDevicePattern = regexp.MustCompile(`(?m)Device_ID = \{?(?P<device_id>.+?)\}?\r?$`)
	// Rel_ID=12, target_cpu=2
	vmbusChannelPattern = regexp.MustCompile(`Rel_ID=(?P<rel_id>\d+), target_cpu=(?P<cpu>\d+)`)
)

func lsvmbusDescriptor() *engine.Descriptor {
	return &engine.Descriptor{
		Capability:   CapLsvmbus,
		Name:         "lsvmbus",
		Matches:      func(p engine.PlatformProfile) bool { return p.Family.IsLinux() },
		Command:      "lsvmbus",
		Dependencies: []engine.CapabilityID{CapDownloader},
		Candidates: func(t engine.Target) []engine.Candidate {
			forms := lsvmbusForms(t)
			cands := make([]engine.Candidate, 0, len(forms))
			for _, form := range forms {
				cands = append(cands, engine.Cmd(fmt.Sprintf("command -v %s", form)))
			}
			return cands
		},
		Installable: true,
		Strategy: &engine.StrategyFunc{
			StrategyName: "package-or-kernel-tree",
			Fn:           installLsvmbus,
		},
		New: func(t engine.Target, _ []*engine.Resolved) engine.Provider {
			return &VmBusLister{target: t}
		},
	}
}

// lsvmbusPackage returns the distro package shipping lsvmbus, or empty
// when the family has none. Plain Debian carries no such package.
func lsvmbusPackage(p engine.PlatformProfile) string {
	switch {
	case p.Family.IsRedhatLike():
		return "hyperv-tools"
	case p.Family == engine.FamilySuse:
		return "hyper-v"
	case p.Family == engine.FamilyUbuntu:
		return "linux-cloud-tools-common"
	}
	return ""
}

// installLsvmbus tries the distro package first and falls back to fetching
// the script from the kernel tree. A failed package install is tolerated
// as long as the fallback produces the tool.
func installLsvmbus(ctx context.Context, d *engine.Descriptor, t engine.Target, deps []*engine.Resolved) error {
	profile, err := t.Profile(ctx)
	if err != nil {
		return engine.WrapError(engine.KindTransportFailed, "failed to read platform profile", err)
	}

	if pkg := lsvmbusPackage(profile); pkg != "" {
		host, ok := t.(engine.PackageHost)
		if ok {
			if err := host.InstallPackages(ctx, pkg); err != nil {
				log.Warn().
					Str("target", t.ID()).
					Str("package", pkg).
					Err(err).
					Msg("lsvmbus package install failed, falling back to kernel tree")
			}
		}
	}

	for _, form := range lsvmbusForms(t) {
		if _, err := t.Execute(ctx, fmt.Sprintf("command -v %s", form), engine.ExecOptions{}); err == nil {
			return nil
		}
	}

	dep := engine.DependencyOf(deps, CapDownloader)
	if dep == nil {
		return engine.NewError(engine.KindInternal,
			"lsvmbus install requires the downloader dependency")
	}
	fetcher, ok := dep.Provider.(engine.Fetcher)
	if !ok {
		return engine.NewError(engine.KindInternal,
			"downloader dependency does not implement Fetcher")
	}
	dest := path.Join(t.WorkDir(), "lsvmbus")
	return fetcher.Fetch(ctx, lsvmbusScriptURL, dest, true, false)
}

// VmBusChannel is one relation/CPU pair of a vmbus device.
type VmBusChannel struct {
	RelID     string `json:"rel_id"`
	TargetCPU string `json:"target_cpu"`
}

// VmBusDevice is one device from the vmbus listing.
type VmBusDevice struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	ClassID  string         `json:"class_id"`
	DeviceID string         `json:"device_id"`
	Channels []VmBusChannel `json:"channels"`
}

// VmBusLister lists vmbus devices through lsvmbus.
type VmBusLister struct {
	target engine.Target

	mu      sync.Mutex
	command string
	devices []VmBusDevice
}

// Capability implements engine.Provider.
func (v *VmBusLister) Capability() engine.CapabilityID { return CapLsvmbus }

// Devices returns the parsed vmbus device list. fresh forces a re-run; a
// non-zero exit is retried once with elevation before failing.
func (v *VmBusLister) Devices(ctx context.Context, fresh bool) ([]VmBusDevice, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.devices != nil && !fresh {
		return v.devices, nil
	}

	cmd, err := v.commandLocked(ctx)
	if err != nil {
		return nil, err
	}

	res, err := v.target.Execute(ctx, cmd+" -vv", engine.ExecOptions{})
	if err != nil {
		res, err = v.target.Execute(ctx, cmd+" -vv", engine.ExecOptions{Elevated: true})
	}
	if err != nil {
		return nil, engine.WrapError(engine.KindCapabilityUnavailable,
			"failed to list vmbus devices", err).
			WithCapability(CapLsvmbus).WithTarget(v.target.ID())
	}

	devices, err := parseVmBusDevices(res.Stdout)
	if err != nil {
		return nil, engine.WrapError(engine.KindVerificationInconsistency,
			"unparseable lsvmbus output", err).
			WithCapability(CapLsvmbus).WithTarget(v.target.ID())
	}
	v.devices = devices
	return devices, nil
}

func (v *VmBusLister) commandLocked(ctx context.Context) (string, error) {
	if v.command != "" {
		return v.command, nil
	}
	for _, form := range lsvmbusForms(v.target) {
		if _, err := v.target.Execute(ctx, fmt.Sprintf("command -v %s", form), engine.ExecOptions{}); err == nil {
			v.command = form
			return form, nil
		}
	}
	return "", engine.NewError(engine.KindCapabilityUnavailable,
		"lsvmbus not present").WithCapability(CapLsvmbus).WithTarget(v.target.ID())
}

// parseVmBusDevices splits the -vv output into per-device segments and
// extracts identity plus channel mappings from each.
func parseVmBusDevices(out string) ([]VmBusDevice, error) {
	var devices []VmBusDevice
	for _, segment := range strings.Split(out, "VMBUS ID") {
		if strings.TrimSpace(segment) == "" {
			continue
		}
		segment = "VMBUS ID" + segment

		header := vmbusHeaderPattern.FindStringSubmatch(segment)
		if header == nil {
			return nil, fmt.Errorf("no device header in segment %q", strings.TrimSpace(segment))
		}
		device := VmBusDevice{
			ID:      header[1],
			ClassID: header[2],
			Name:    header[3],
		}

		matched := vmbusDevicePattern.FindStringSubmatch(segment)
		if matched == nil {
			return nil, fmt.Errorf("no device id for vmbus device %s", device.ID)
		}
		device.DeviceID = matched[1]

		for _, channel := range vmbusChannelPattern.FindAllStringSubmatch(segment, -1) {
			device.Channels = append(device.Channels, VmBusChannel{
				RelID:     channel[1],
				TargetCPU: channel[2],
			})
		}
		devices = append(devices, device)
	}
	return devices, nil
}
