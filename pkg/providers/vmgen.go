package providers

import (
	"context"

	"github.com/openfroyo/capstan/pkg/engine"
)

const efiFirmwareDir = "/sys/firmware/efi"

func vmGenerationDescriptor() *engine.Descriptor {
	return &engine.Descriptor{
		Capability: CapVMGeneration,
		Name:       "efi-firmware",
		Matches:    func(p engine.PlatformProfile) bool { return p.Family.IsPosix() },
		// Generation is a property of the VM, not an installable tool.
		Detect: func(_ context.Context, _ engine.Target) (bool, error) {
			return true, nil
		},
		New: func(t engine.Target, _ []*engine.Resolved) engine.Provider {
			return &VMGeneration{target: t}
		},
	}
}

// VMGeneration reports the Hyper-V VM generation of a target.
type VMGeneration struct {
	target engine.Target
}

// Capability implements engine.Provider.
func (v *VMGeneration) Capability() engine.CapabilityID { return CapVMGeneration }

// Generation returns "2" when the EFI firmware directory is readable,
// "1" otherwise.
func (v *VMGeneration) Generation(ctx context.Context) (string, error) {
	res, err := v.target.Execute(ctx, "ls -lt "+efiFirmwareDir, engine.ExecOptions{
		ExpectedExitCodes: []int{0, 1, 2},
	})
	if err != nil {
		return "", engine.WrapError(engine.KindTransportFailed,
			"failed to inspect firmware", err).
			WithCapability(CapVMGeneration).WithTarget(v.target.ID())
	}
	if res.ExitCode == 0 {
		return "2", nil
	}
	return "1", nil
}
