package ssh

import (
	"context"
	"testing"
	"time"
)

func TestRun(t *testing.T) {
	server := newTestSSHServer(t)
	defer server.close()

	client := connectTestClient(t, server)
	defer client.Disconnect()

	ctx := context.Background()

	tests := []struct {
		name     string
		command  string
		opts     RunOptions
		exitCode int
		stdout   string
		stderr   string
	}{
		{
			name:    "simple echo",
			command: "echo test",
			stdout:  "test",
		},
		{
			name:    "stderr output",
			command: "echo error >&2",
			stderr:  "error",
		},
		{
			name:     "non-zero exit is not an error",
			command:  "exit 1",
			exitCode: 1,
			stderr:   "boom",
		},
		{
			name:     "exit code four",
			command:  "exit 4",
			exitCode: 4,
		},
		{
			name:    "elevated whoami",
			command: "whoami",
			opts:    RunOptions{Elevated: true},
			stdout:  "root",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := client.Run(ctx, tt.command, tt.opts)
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if res.ExitCode != tt.exitCode {
				t.Errorf("exit code = %d, want %d", res.ExitCode, tt.exitCode)
			}
			if res.Stdout != tt.stdout {
				t.Errorf("stdout = %q, want %q", res.Stdout, tt.stdout)
			}
			if res.Stderr != tt.stderr {
				t.Errorf("stderr = %q, want %q", res.Stderr, tt.stderr)
			}
			if res.Duration <= 0 {
				t.Error("duration not recorded")
			}
		})
	}
}

func TestRunTimeout(t *testing.T) {
	server := newTestSSHServer(t)
	defer server.close()

	client := connectTestClient(t, server)
	defer client.Disconnect()

	_, err := client.Run(context.Background(), "sleep 10", RunOptions{Timeout: 100 * time.Millisecond})
	if err == nil {
		t.Fatal("a command exceeding its timeout must fail as a transport error")
	}
	terr, ok := err.(*TransportError)
	if !ok {
		t.Fatalf("error type = %T, want *TransportError", err)
	}
	if !terr.Temporary() {
		t.Error("a timeout should be marked temporary")
	}
}

func TestPathExists(t *testing.T) {
	server := newTestSSHServer(t)
	defer server.close()

	client := connectTestClient(t, server)
	defer client.Disconnect()

	ctx := context.Background()

	exists, err := client.PathExists(ctx, "/present/file")
	if err != nil {
		t.Fatalf("PathExists failed: %v", err)
	}
	if !exists {
		t.Error("/present/file should exist")
	}

	exists, err = client.PathExists(ctx, "/absent/file")
	if err != nil {
		t.Fatalf("PathExists failed: %v", err)
	}
	if exists {
		t.Error("/absent/file should not exist")
	}
}

func TestReadFileElevated(t *testing.T) {
	server := newTestSSHServer(t)
	defer server.close()

	client := connectTestClient(t, server)
	defer client.Disconnect()

	data, err := client.ReadFile(context.Background(), "/etc/secret", true)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "s3cr3t" {
		t.Errorf("read %q, want %q", data, "s3cr3t")
	}
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/etc/waagent.conf", "'/etc/waagent.conf'"},
		{"/tmp/a b", "'/tmp/a b'"},
		{"it's", `'it'\''s'`},
	}
	for _, tt := range tests {
		if got := shellQuote(tt.in); got != tt.want {
			t.Errorf("shellQuote(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
