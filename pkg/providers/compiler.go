package providers

import (
	"context"
	"fmt"

	"github.com/openfroyo/capstan/pkg/engine"
)

func compilerDescriptor() *engine.Descriptor {
	return &engine.Descriptor{
		Capability:  CapCompiler,
		Name:        "gcc",
		Matches:     func(p engine.PlatformProfile) bool { return p.Family.IsPosix() },
		Command:     "gcc",
		Installable: true,
		Strategy: &engine.PackageInstall{
			Packages: func(p engine.PlatformProfile) []string {
				return []string{"gcc"}
			},
		},
		New: func(t engine.Target, _ []*engine.Resolved) engine.Provider {
			return &Gcc{target: t}
		},
	}
}

// Gcc compiles C sources on the target. It implements the builder
// dependency surface the build-from-source strategy consumes.
type Gcc struct {
	target engine.Target
}

// Capability implements engine.Provider.
func (g *Gcc) Capability() engine.CapabilityID { return CapCompiler }

// Compile builds src into out. A non-empty std pins the language standard;
// build-from-source passes c99 so exit statuses are defined.
func (g *Gcc) Compile(ctx context.Context, src, out, std string) error {
	cmd := fmt.Sprintf("gcc -o %s %s", out, src)
	if std != "" {
		cmd = fmt.Sprintf("gcc -std=%s -o %s %s", std, out, src)
	}
	if _, err := g.target.Execute(ctx, cmd, engine.ExecOptions{}); err != nil {
		return engine.WrapError(engine.KindInstallationFailed,
			fmt.Sprintf("failed to compile %s", src), err).WithTarget(g.target.ID())
	}
	return nil
}
