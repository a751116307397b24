package providers

import (
	"context"
	"testing"

	"github.com/openfroyo/capstan/pkg/engine"
)

func TestLisInstalledRequiresBothPackages(t *testing.T) {
	tests := []struct {
		name      string
		installed []string
		want      bool
	}{
		{name: "both present", installed: []string{"kmod-microsoft-hyper-v", "microsoft-hyper-v"}, want: true},
		{name: "only kmod", installed: []string{"kmod-microsoft-hyper-v"}, want: false},
		{name: "neither", installed: nil, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := newFakePackageTarget("rh-1", redhatProfile)
			for _, pkg := range tt.installed {
				ft.installed[pkg] = true
			}

			present, err := lisInstalled(context.Background(), ft)
			if err != nil {
				t.Fatalf("lisInstalled() error = %v", err)
			}
			if present != tt.want {
				t.Errorf("lisInstalled() = %v, want %v", present, tt.want)
			}
		})
	}
}

func TestInstallLisRefusesCeiling(t *testing.T) {
	profile := engine.PlatformProfile{Family: engine.FamilyRedhat, Version: "7.8", Arch: "x86_64"}
	ft := newFakePackageTarget("rh-1", profile)
	desc := lisDriverDescriptor()

	err := desc.Strategy.Install(context.Background(), desc, ft, nil)
	if !engine.IsUnsupportedVersion(err) {
		t.Fatalf("Install() error = %v, want unsupported version", err)
	}
	// Refusal happens before any remote mutation.
	if n := len(ft.executed); n != 0 {
		t.Errorf("ceiling refusal executed %d commands, want 0", n)
	}
}

func TestInstallLisRunsInstaller(t *testing.T) {
	ft := newFakePackageTarget("rh-1", redhatProfile)
	ft.on("command -v wget", ok("/usr/bin/wget"))
	ft.on("wget -q -O /tmp/capstan/lis.tar.gz", ok(""))
	ft.on("tar -xzf /tmp/capstan/lis.tar.gz", ok(""))
	ft.on("cd /tmp/capstan/LISISO && ./install.sh", ok("Installing LIS RPMs...\nDone.\n"))
	desc := lisDriverDescriptor()
	deps := []*engine.Resolved{{
		Descriptor: downloaderDescriptor(),
		Target:     ft,
		Provider:   &DownloadTool{target: ft.fakeTarget},
	}}

	if err := desc.Strategy.Install(context.Background(), desc, ft, deps); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	install, found := ft.lastMatching("cd /tmp/capstan/LISISO")
	if !found {
		t.Fatal("installer never ran")
	}
	if !install.elevated {
		t.Error("installer ran without elevation")
	}
}

func TestInstallLisUnsupportedKernel(t *testing.T) {
	ft := newFakePackageTarget("rh-1", redhatProfile)
	ft.paths["/tmp/capstan/LISISO"] = true
	ft.on("cd /tmp/capstan/LISISO && ./install.sh", ok("Unsupported kernel version\n"))
	ft.on("uname -r", ok("3.10.0-1160.el7.x86_64"))
	desc := lisDriverDescriptor()

	err := desc.Strategy.Install(context.Background(), desc, ft, nil)
	if !engine.IsInstallationFailed(err) {
		t.Fatalf("Install() error = %v, want installation failed", err)
	}
}

func TestInstallLisSkipsDownloadWhenExtracted(t *testing.T) {
	ft := newFakePackageTarget("rh-1", redhatProfile)
	ft.paths["/tmp/capstan/LISISO"] = true
	ft.on("cd /tmp/capstan/LISISO && ./install.sh", ok("Done.\n"))
	desc := lisDriverDescriptor()

	if err := desc.Strategy.Install(context.Background(), desc, ft, nil); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if n := ft.commandCount("wget"); n != 0 {
		t.Errorf("download ran %d times despite extracted ISO", n)
	}
}

func TestLisDriverVersion(t *testing.T) {
	ft := newFakeTarget("rh-1", redhatProfile)
	ft.on("modinfo hv_vmbus", ok(
		"filename:       /lib/modules/3.10.0/extra/hv_vmbus.ko\n"+
			"version:        4.3.5\n"+
			"license:        GPL\n"))
	driver := &LisDriver{target: ft, modinfo: &ModInfo{target: ft}}

	version, err := driver.Version(context.Background())
	if err != nil {
		t.Fatalf("Version() error = %v", err)
	}
	if version != "4.3.5" {
		t.Errorf("Version() = %q, want 4.3.5", version)
	}
}
