package providers

import (
	"context"
	"fmt"
	"sync"

	"github.com/openfroyo/capstan/pkg/engine"
)

// downloadTools are the utilities tried in order; the first present one
// backs the capability.
var downloadTools = []string{"wget", "curl"}

func downloaderDescriptor() *engine.Descriptor {
	return &engine.Descriptor{
		Capability: CapDownloader,
		Name:       "wget-curl",
		Matches:    func(p engine.PlatformProfile) bool { return p.Family.IsPosix() },
		Command:    "wget",
		Candidates: func(_ engine.Target) []engine.Candidate {
			cands := make([]engine.Candidate, 0, len(downloadTools))
			for _, tool := range downloadTools {
				cands = append(cands, engine.Cmd(fmt.Sprintf("command -v %s", tool)))
			}
			return cands
		},
		Installable: true,
		Strategy: &engine.PackageInstall{
			Packages: func(p engine.PlatformProfile) []string {
				return []string{"wget"}
			},
		},
		New: func(t engine.Target, _ []*engine.Resolved) engine.Provider {
			return &DownloadTool{target: t}
		},
	}
}

// DownloadTool fetches remote URLs onto a target through whichever of wget
// or curl is present. It implements the download dependency surface the
// installation strategies consume.
type DownloadTool struct {
	target engine.Target

	mu   sync.Mutex
	tool string
}

// Capability implements engine.Provider.
func (d *DownloadTool) Capability() engine.CapabilityID { return CapDownloader }

// Fetch downloads url to dest on the target. executable marks the result
// executable, elevated performs the transfer and chmod as root.
func (d *DownloadTool) Fetch(ctx context.Context, url, dest string, executable, elevated bool) error {
	tool, err := d.selectTool(ctx)
	if err != nil {
		return err
	}

	var cmd string
	switch tool {
	case "wget":
		cmd = fmt.Sprintf("wget -q -O %s %s", dest, url)
	default:
		cmd = fmt.Sprintf("curl -fsSL -o %s %s", dest, url)
	}
	if _, err := d.target.Execute(ctx, cmd, engine.ExecOptions{Elevated: elevated}); err != nil {
		return engine.WrapError(engine.KindInstallationFailed,
			fmt.Sprintf("failed to download %s", url), err).WithTarget(d.target.ID())
	}

	if executable {
		chmod := fmt.Sprintf("chmod +x %s", dest)
		if _, err := d.target.Execute(ctx, chmod, engine.ExecOptions{Elevated: elevated}); err != nil {
			return engine.WrapError(engine.KindInstallationFailed,
				fmt.Sprintf("failed to mark %s executable", dest), err).WithTarget(d.target.ID())
		}
	}
	return nil
}

// selectTool picks the first present download utility, once per provider
// instance.
func (d *DownloadTool) selectTool(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tool != "" {
		return d.tool, nil
	}
	for _, tool := range downloadTools {
		_, err := d.target.Execute(ctx, fmt.Sprintf("command -v %s", tool), engine.ExecOptions{})
		if err == nil {
			d.tool = tool
			return tool, nil
		}
	}
	return "", engine.NewError(engine.KindCapabilityUnavailable,
		"no download utility present").WithCapability(CapDownloader).WithTarget(d.target.ID())
}
