package providers

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/openfroyo/capstan/pkg/engine"
)

const (
	lisDownloadURL = "https://aka.ms/lis"

	// lisVersionCeiling is the first Redhat release shipping the drivers
	// in-box; the external RPMs stop applying there.
	lisVersionCeiling engine.Version = "7.8.0"

	lisArchiveName = "lis.tar.gz"
	lisISODir      = "LISISO"
)

// lisPackages must both be installed for the driver set to count as
// present.
var lisPackages = []string{"kmod-microsoft-hyper-v", "microsoft-hyper-v"}

func lisDriverDescriptor() *engine.Descriptor {
	return &engine.Descriptor{
		Capability:   CapLisDriver,
		Name:         "lis-rpm",
		Matches:      func(p engine.PlatformProfile) bool { return p.Family.IsRedhatLike() },
		Command:      "modinfo hv_vmbus",
		Dependencies: []engine.CapabilityID{CapDownloader, CapModuleInfo},
		Detect:       lisInstalled,
		Installable:  true,
		Strategy: &engine.StrategyFunc{
			StrategyName: "lis-iso-install",
			Fn:           installLisFromISO,
		},
		New: func(t engine.Target, deps []*engine.Resolved) engine.Provider {
			driver := &LisDriver{target: t}
			if dep := engine.DependencyOf(deps, CapModuleInfo); dep != nil {
				driver.modinfo, _ = dep.Provider.(*ModInfo)
			}
			return driver
		},
	}
}

// lisInstalled reports presence through the package pair rather than a
// runnable command: vmbus may be builtin without the LIS RPMs installed.
func lisInstalled(ctx context.Context, t engine.Target) (bool, error) {
	host, ok := t.(engine.PackageHost)
	if !ok {
		return false, nil
	}
	for _, pkg := range lisPackages {
		installed, err := host.PackageInstalled(ctx, pkg)
		if err != nil {
			return false, err
		}
		if !installed {
			return false, nil
		}
	}
	return true, nil
}

// installLisFromISO downloads the LIS archive, extracts it, and runs the
// bundled installer. The version ceiling is checked before any remote
// mutation.
func installLisFromISO(ctx context.Context, d *engine.Descriptor, t engine.Target, deps []*engine.Resolved) error {
	profile, err := t.Profile(ctx)
	if err != nil {
		return engine.WrapError(engine.KindTransportFailed, "failed to read platform profile", err)
	}
	if profile.Version.AtLeast(lisVersionCeiling) {
		return engine.NewError(engine.KindUnsupportedVersion,
			fmt.Sprintf("LIS drivers ship in-box on %s %s and the external RPMs no longer apply",
				profile.Family, profile.Version)).
			WithCapability(CapLisDriver).WithTarget(t.ID())
	}

	isoDir := path.Join(t.WorkDir(), lisISODir)
	present, err := t.PathExists(ctx, isoDir)
	if err != nil {
		return engine.WrapError(engine.KindTransportFailed,
			fmt.Sprintf("failed to check %s", isoDir), err).WithTarget(t.ID())
	}
	if !present {
		dep := engine.DependencyOf(deps, CapDownloader)
		if dep == nil {
			return engine.NewError(engine.KindInternal,
				"LIS install requires the downloader dependency")
		}
		fetcher, ok := dep.Provider.(engine.Fetcher)
		if !ok {
			return engine.NewError(engine.KindInternal,
				"downloader dependency does not implement Fetcher")
		}
		archive := path.Join(t.WorkDir(), lisArchiveName)
		if err := fetcher.Fetch(ctx, lisDownloadURL, archive, false, false); err != nil {
			return err
		}
		untar := fmt.Sprintf("tar -xzf %s -C %s", archive, t.WorkDir())
		if _, err := t.Execute(ctx, untar, engine.ExecOptions{}); err != nil {
			return engine.WrapError(engine.KindInstallationFailed,
				fmt.Sprintf("failed to extract %s", archive), err).WithTarget(t.ID())
		}
	}

	install := fmt.Sprintf("cd %s && ./install.sh", isoDir)
	res, err := t.Execute(ctx, install, engine.ExecOptions{Elevated: true})
	if res != nil && strings.Contains(res.Stdout, "Unsupported kernel version") {
		e := engine.NewError(engine.KindInstallationFailed,
			"LIS installer rejected the running kernel").
			WithCapability(CapLisDriver).WithTarget(t.ID())
		if kernel, kErr := t.Execute(ctx, "uname -r", engine.ExecOptions{}); kErr == nil {
			e = e.WithDetail("kernel", kernel.Stdout)
		}
		return e
	}
	if err != nil {
		return engine.WrapError(engine.KindInstallationFailed,
			"unable to install the LIS RPMs", err).
			WithCapability(CapLisDriver).WithTarget(t.ID())
	}
	return nil
}

// LisDriver exposes the installed LIS driver set.
type LisDriver struct {
	target  engine.Target
	modinfo *ModInfo
}

// Capability implements engine.Provider.
func (l *LisDriver) Capability() engine.CapabilityID { return CapLisDriver }

// Version returns the vmbus driver version. Builtin vmbus reports none,
// which surfaces as an empty string.
func (l *LisDriver) Version(ctx context.Context) (string, error) {
	if l.modinfo == nil {
		return "", engine.NewError(engine.KindInternal,
			"LIS driver has no module-info dependency").WithCapability(CapLisDriver)
	}
	return l.modinfo.Version(ctx, "hv_vmbus")
}
