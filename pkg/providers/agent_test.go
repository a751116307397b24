package providers

import (
	"context"
	"testing"

	"github.com/openfroyo/capstan/pkg/engine"
)

const agentBanner = "WALinuxAgent-2.7.0.6 running on ubuntu 22.04"

func TestGuestAgentVersionWalksCommandChain(t *testing.T) {
	ft := newFakeTarget("web-1", ubuntuProfile)
	ft.on("waagent -version", failed(1, "command not found"))
	ft.on("/usr/sbin/waagent -version", ok(agentBanner))
	agent := &GuestAgent{target: ft}

	version, err := agent.Version(context.Background())
	if err != nil {
		t.Fatalf("Version() error = %v", err)
	}
	if version != "2.7.0.6" {
		t.Errorf("Version() = %q, want 2.7.0.6", version)
	}

	// The working form is remembered; a second call probes nothing.
	if _, err := agent.Version(context.Background()); err != nil {
		t.Fatalf("Version() second call error = %v", err)
	}
	if n := ft.commandCount("waagent -version"); n != 1 {
		t.Errorf("first form probed %d times, want 1", n)
	}
	if n := ft.commandCount("/usr/sbin/waagent -version"); n != 1 {
		t.Errorf("working form probed %d times, want 1", n)
	}
}

func TestGuestAgentVersionAbsent(t *testing.T) {
	ft := newFakeTarget("web-1", ubuntuProfile)
	agent := &GuestAgent{target: ft}

	_, err := agent.Version(context.Background())
	if !engine.IsCapabilityUnavailable(err) {
		t.Fatalf("Version() error = %v, want capability unavailable", err)
	}
}

func TestGuestAgentConfigPath(t *testing.T) {
	t.Run("programmatic query wins", func(t *testing.T) {
		ft := newFakeTarget("web-1", ubuntuProfile)
		ft.on("command -v python3", ok("/usr/bin/python3"))
		ft.on(`python3 -c "from azurelinuxagent.common.osutil`, ok("/etc/waagent.conf\n"))
		agent := &GuestAgent{target: ft}

		path, err := agent.ConfigPath(context.Background())
		if err != nil {
			t.Fatalf("ConfigPath() error = %v", err)
		}
		if path != "/etc/waagent.conf" {
			t.Errorf("ConfigPath() = %q, want /etc/waagent.conf", path)
		}
	})

	t.Run("family fallback", func(t *testing.T) {
		tests := []struct {
			name    string
			profile engine.PlatformProfile
			want    string
		}{
			{name: "coreos", profile: engine.PlatformProfile{Family: engine.FamilyCoreOS, Version: "3510", Arch: "x86_64"}, want: "/usr/share/oem/waagent.conf"},
			{name: "freebsd", profile: freebsdProfile, want: "/usr/local/etc/waagent.conf"},
			{name: "linux", profile: ubuntuProfile, want: "/etc/waagent.conf"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				ft := newFakeTarget("web-1", tt.profile)
				agent := &GuestAgent{target: ft}

				path, err := agent.ConfigPath(context.Background())
				if err != nil {
					t.Fatalf("ConfigPath() error = %v", err)
				}
				if path != tt.want {
					t.Errorf("ConfigPath() = %q, want %q", path, tt.want)
				}
			})
		}
	})
}

func TestGuestAgentDistroVersion(t *testing.T) {
	t.Run("modern query", func(t *testing.T) {
		ft := newFakeTarget("web-1", ubuntuProfile)
		ft.on("command -v python3", ok("/usr/bin/python3"))
		ft.on(`python3 -c "from azurelinuxagent.common.version`, ok("ubuntu-22.04-jammy"))
		agent := &GuestAgent{target: ft}

		got, err := agent.DistroVersion(context.Background())
		if err != nil {
			t.Fatalf("DistroVersion() error = %v", err)
		}
		if got != "ubuntu-22.04-jammy" {
			t.Errorf("DistroVersion() = %q", got)
		}
	})

	t.Run("legacy fallback lowercases", func(t *testing.T) {
		ft := newFakeTarget("web-1", ubuntuProfile)
		ft.on("command -v python3", ok("/usr/bin/python3"))
		ft.on(`python3 -c "import platform`, ok(`"Ubuntu-14.04-trusty"`))
		agent := &GuestAgent{target: ft}

		got, err := agent.DistroVersion(context.Background())
		if err != nil {
			t.Fatalf("DistroVersion() error = %v", err)
		}
		if got != "ubuntu-14.04-trusty" {
			t.Errorf("DistroVersion() = %q, want ubuntu-14.04-trusty", got)
		}
	})

	t.Run("unknown sentinel", func(t *testing.T) {
		ft := newFakeTarget("web-1", ubuntuProfile)
		ft.on("command -v python3", ok("/usr/bin/python3"))
		agent := &GuestAgent{target: ft}

		got, err := agent.DistroVersion(context.Background())
		if err != nil {
			t.Fatalf("DistroVersion() error = %v", err)
		}
		if got != "Unknown" {
			t.Errorf("DistroVersion() = %q, want Unknown", got)
		}
	})
}

func TestGuestAgentConfiguration(t *testing.T) {
	ft := newFakeTarget("web-1", ubuntuProfile)
	ft.files["/etc/waagent.conf"] = []byte(
		"# WALinuxAgent configuration\n" +
			"ResourceDisk.MountPoint=/mnt\n" +
			"ResourceDisk.EnableSwap=y\n" +
			"OS.RootDeviceScsiTimeout=300\n" +
			"this line is malformed\n")
	agent := &GuestAgent{target: ft}

	config, err := agent.Configuration(context.Background(), false)
	if err != nil {
		t.Fatalf("Configuration() error = %v", err)
	}
	if len(config) != 3 {
		t.Errorf("Configuration() has %d entries, want 3 (malformed lines skipped)", len(config))
	}

	swap, err := agent.IsSwapEnabled(context.Background())
	if err != nil {
		t.Fatalf("IsSwapEnabled() error = %v", err)
	}
	if !swap {
		t.Error("IsSwapEnabled() = false, want true")
	}

	timeout, err := agent.RootDeviceTimeout(context.Background())
	if err != nil {
		t.Fatalf("RootDeviceTimeout() error = %v", err)
	}
	if timeout != 300 {
		t.Errorf("RootDeviceTimeout() = %d, want 300", timeout)
	}

	mount, err := agent.ResourceDiskMountPoint(context.Background())
	if err != nil {
		t.Fatalf("ResourceDiskMountPoint() error = %v", err)
	}
	if mount != "/mnt" {
		t.Errorf("ResourceDiskMountPoint() = %q, want /mnt", mount)
	}

	// Absent auto-update defaults to enabled.
	auto, err := agent.IsAutoUpdateEnabled(context.Background())
	if err != nil {
		t.Fatalf("IsAutoUpdateEnabled() error = %v", err)
	}
	if !auto {
		t.Error("IsAutoUpdateEnabled() = false, want default true")
	}
}

func TestGuestAgentSwapUnparseable(t *testing.T) {
	ft := newFakeTarget("web-1", ubuntuProfile)
	ft.files["/etc/waagent.conf"] = []byte("ResourceDisk.EnableSwap=maybe\n")
	agent := &GuestAgent{target: ft}

	if _, err := agent.IsSwapEnabled(context.Background()); err == nil {
		t.Fatal("IsSwapEnabled() accepted an unparseable value")
	}
}

func TestGuestAgentRestartUnitName(t *testing.T) {
	tests := []struct {
		name    string
		profile engine.PlatformProfile
		unit    string
	}{
		{name: "ubuntu", profile: ubuntuProfile, unit: "walinuxagent"},
		{name: "redhat", profile: redhatProfile, unit: "waagent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := newFakeTarget("web-1", tt.profile)
			ft.on("command -v systemctl", ok("/usr/bin/systemctl"))
			ft.on("systemctl restart", ok(""))
			agent := &GuestAgent{target: ft, services: &ServiceController{target: ft}}

			if err := agent.Restart(context.Background()); err != nil {
				t.Fatalf("Restart() error = %v", err)
			}
			restart, found := ft.lastMatching("systemctl restart")
			if !found {
				t.Fatal("no restart command executed")
			}
			if restart.cmd != "systemctl restart "+tt.unit {
				t.Errorf("restart command = %q, want unit %s", restart.cmd, tt.unit)
			}
			if !restart.elevated {
				t.Error("restart ran without elevation")
			}
		})
	}
}

func TestGuestAgentDeprovision(t *testing.T) {
	ft := newFakeTarget("web-1", ubuntuProfile)
	ft.on("waagent -version", ok(agentBanner))
	ft.on("waagent -deprovision --force", ok(""))
	agent := &GuestAgent{target: ft}

	if err := agent.Deprovision(context.Background()); err != nil {
		t.Fatalf("Deprovision() error = %v", err)
	}
	deprovision, found := ft.lastMatching("waagent -deprovision")
	if !found {
		t.Fatal("no deprovision command executed")
	}
	if !deprovision.elevated {
		t.Error("deprovision ran without elevation")
	}
}
