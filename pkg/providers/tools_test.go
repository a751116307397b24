package providers

import (
	"context"
	"testing"

	"github.com/openfroyo/capstan/pkg/engine"
)

func TestDownloadToolFetch(t *testing.T) {
	t.Run("wget preferred", func(t *testing.T) {
		ft := newFakeTarget("web-1", ubuntuProfile)
		ft.on("command -v wget", ok("/usr/bin/wget"))
		ft.on("wget -q -O", ok(""))
		tool := &DownloadTool{target: ft}

		err := tool.Fetch(context.Background(), "https://aka.ms/lis", "/tmp/capstan/lis.tar.gz", false, false)
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		fetch, found := ft.lastMatching("wget")
		if !found {
			t.Fatal("wget never ran")
		}
		if fetch.cmd != "wget -q -O /tmp/capstan/lis.tar.gz https://aka.ms/lis" {
			t.Errorf("fetch command = %q", fetch.cmd)
		}
	})

	t.Run("curl fallback", func(t *testing.T) {
		ft := newFakeTarget("web-1", ubuntuProfile)
		ft.on("command -v curl", ok("/usr/bin/curl"))
		ft.on("curl -fsSL -o", ok(""))
		tool := &DownloadTool{target: ft}

		err := tool.Fetch(context.Background(), "https://example.com/f", "/tmp/capstan/f", false, false)
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if _, found := ft.lastMatching("curl -fsSL -o /tmp/capstan/f"); !found {
			t.Error("curl never ran")
		}
	})

	t.Run("executable marks the destination", func(t *testing.T) {
		ft := newFakeTarget("web-1", ubuntuProfile)
		ft.on("command -v wget", ok("/usr/bin/wget"))
		ft.on("wget -q -O", ok(""))
		ft.on("chmod +x", ok(""))
		tool := &DownloadTool{target: ft}

		err := tool.Fetch(context.Background(), "https://example.com/bin", "/tmp/capstan/bin", true, false)
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if n := ft.commandCount("chmod +x /tmp/capstan/bin"); n != 1 {
			t.Errorf("chmod ran %d times, want 1", n)
		}
	})

	t.Run("no utility present", func(t *testing.T) {
		ft := newFakeTarget("web-1", ubuntuProfile)
		tool := &DownloadTool{target: ft}

		err := tool.Fetch(context.Background(), "https://example.com/f", "/tmp/f", false, false)
		if !engine.IsCapabilityUnavailable(err) {
			t.Fatalf("Fetch() error = %v, want capability unavailable", err)
		}
	})

	t.Run("tool choice is memoized", func(t *testing.T) {
		ft := newFakeTarget("web-1", ubuntuProfile)
		ft.on("command -v wget", ok("/usr/bin/wget"))
		ft.on("wget -q -O", ok(""))
		tool := &DownloadTool{target: ft}

		for i := 0; i < 3; i++ {
			if err := tool.Fetch(context.Background(), "https://example.com/f", "/tmp/f", false, false); err != nil {
				t.Fatalf("Fetch() error = %v", err)
			}
		}
		if n := ft.commandCount("command -v wget"); n != 1 {
			t.Errorf("tool probed %d times, want 1", n)
		}
	})
}

func TestGccCompile(t *testing.T) {
	tests := []struct {
		name string
		std  string
		want string
	}{
		{name: "with standard", std: "c99", want: "gcc -std=c99 -o /tmp/capstan/kvp_client /tmp/capstan/kvp_client.c"},
		{name: "without standard", std: "", want: "gcc -o /tmp/capstan/kvp_client /tmp/capstan/kvp_client.c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := newFakeTarget("build-1", ubuntuProfile)
			ft.on("gcc", ok(""))
			gcc := &Gcc{target: ft}

			err := gcc.Compile(context.Background(), "/tmp/capstan/kvp_client.c", "/tmp/capstan/kvp_client", tt.std)
			if err != nil {
				t.Fatalf("Compile() error = %v", err)
			}
			compile, _ := ft.lastMatching("gcc")
			if compile.cmd != tt.want {
				t.Errorf("compile command = %q, want %q", compile.cmd, tt.want)
			}
		})
	}
}

func TestGccCompileFailure(t *testing.T) {
	ft := newFakeTarget("build-1", ubuntuProfile)
	ft.on("gcc", failed(1, "undefined reference to `main'"))
	gcc := &Gcc{target: ft}

	err := gcc.Compile(context.Background(), "/tmp/broken.c", "/tmp/out", "c99")
	if !engine.IsInstallationFailed(err) {
		t.Fatalf("Compile() error = %v, want installation failed", err)
	}
}

func TestModInfoVersion(t *testing.T) {
	t.Run("version field present", func(t *testing.T) {
		ft := newFakeTarget("rh-1", redhatProfile)
		ft.on("modinfo hv_vmbus", ok(
			"filename:       /lib/modules/3.10.0/extra/hv_vmbus.ko\n"+
				"version:        4.3.5\n"))
		info := &ModInfo{target: ft}

		version, err := info.Version(context.Background(), "hv_vmbus")
		if err != nil {
			t.Fatalf("Version() error = %v", err)
		}
		if version != "4.3.5" {
			t.Errorf("Version() = %q, want 4.3.5", version)
		}
	})

	t.Run("builtin module has no version", func(t *testing.T) {
		ft := newFakeTarget("rh-1", redhatProfile)
		ft.on("modinfo hv_vmbus", ok(
			"filename:       (builtin)\nlicense:        GPL\n"))
		info := &ModInfo{target: ft}

		version, err := info.Version(context.Background(), "hv_vmbus")
		if err != nil {
			t.Fatalf("Version() error = %v", err)
		}
		if version != "" {
			t.Errorf("Version() = %q, want empty", version)
		}
	})

	t.Run("unknown module", func(t *testing.T) {
		ft := newFakeTarget("rh-1", redhatProfile)
		info := &ModInfo{target: ft}

		_, err := info.Version(context.Background(), "no_such_module")
		if !engine.IsCapabilityUnavailable(err) {
			t.Fatalf("Version() error = %v, want capability unavailable", err)
		}
	})
}

func TestServiceController(t *testing.T) {
	t.Run("systemd", func(t *testing.T) {
		ft := newFakeTarget("web-1", ubuntuProfile)
		ft.on("command -v systemctl", ok("/usr/bin/systemctl"))
		ft.on("systemctl restart nginx", ok(""))
		ft.on("systemctl is-active nginx", ok("active"))
		services := &ServiceController{target: ft}

		if err := services.Restart(context.Background(), "nginx"); err != nil {
			t.Fatalf("Restart() error = %v", err)
		}
		active, err := services.IsActive(context.Background(), "nginx")
		if err != nil {
			t.Fatalf("IsActive() error = %v", err)
		}
		if !active {
			t.Error("IsActive() = false, want true")
		}
	})

	t.Run("sysv fallback", func(t *testing.T) {
		ft := newFakeTarget("web-1", ubuntuProfile)
		ft.on("service nginx restart", ok(""))
		services := &ServiceController{target: ft}

		if err := services.Restart(context.Background(), "nginx"); err != nil {
			t.Fatalf("Restart() error = %v", err)
		}
		restart, found := ft.lastMatching("service nginx restart")
		if !found {
			t.Fatal("service wrapper never ran")
		}
		if !restart.elevated {
			t.Error("restart ran without elevation")
		}
	})

	t.Run("inactive service", func(t *testing.T) {
		ft := newFakeTarget("web-1", ubuntuProfile)
		ft.on("command -v systemctl", ok("/usr/bin/systemctl"))
		ft.on("systemctl is-active nginx", engine.ExecResult{ExitCode: 3, Stdout: "inactive"})
		services := &ServiceController{target: ft}

		active, err := services.IsActive(context.Background(), "nginx")
		if err != nil {
			t.Fatalf("IsActive() error = %v", err)
		}
		if active {
			t.Error("IsActive() = true, want false")
		}
	})
}
