package providers

import (
	"context"
	"fmt"
	"regexp"

	"github.com/openfroyo/capstan/pkg/engine"
)

// version:        4.18.0
var modVersionPattern = regexp.MustCompile(`(?m)^version:\s+(\S+)`)

func moduleInfoDescriptor() *engine.Descriptor {
	return &engine.Descriptor{
		Capability:  CapModuleInfo,
		Name:        "modinfo",
		Matches:     func(p engine.PlatformProfile) bool { return p.Family.IsLinux() },
		Command:     "modinfo",
		Installable: true,
		Strategy: &engine.PackageInstall{
			Packages: func(p engine.PlatformProfile) []string {
				return []string{"kmod"}
			},
		},
		New: func(t engine.Target, _ []*engine.Resolved) engine.Provider {
			return &ModInfo{target: t}
		},
	}
}

// ModInfo queries kernel module metadata on the target.
type ModInfo struct {
	target engine.Target
}

// Capability implements engine.Provider.
func (m *ModInfo) Capability() engine.CapabilityID { return CapModuleInfo }

// Info returns the raw modinfo output for a module.
func (m *ModInfo) Info(ctx context.Context, module string) (string, error) {
	res, err := m.target.Execute(ctx, fmt.Sprintf("modinfo %s", module), engine.ExecOptions{})
	if err != nil {
		return "", engine.WrapError(engine.KindCapabilityUnavailable,
			fmt.Sprintf("failed to query module %s", module), err).
			WithCapability(CapModuleInfo).WithTarget(m.target.ID())
	}
	return res.Stdout, nil
}

// Version extracts a module's version field. Builtin modules often carry
// none; that is an empty string, not an error.
func (m *ModInfo) Version(ctx context.Context, module string) (string, error) {
	out, err := m.Info(ctx, module)
	if err != nil {
		return "", err
	}
	matched := modVersionPattern.FindStringSubmatch(out)
	if matched == nil {
		return "", nil
	}
	return matched[1], nil
}
