//go:build !windows

package process

import (
	"errors"
	"strings"
	"testing"
)

func TestBuildCommandDirect(t *testing.T) {
	cfg := ServerConfig{ID: "w", Command: "sleep 30"}
	cmd := cfg.BuildCommand()
	if len(cmd.Args) != 2 || cmd.Args[1] != "30" {
		t.Fatalf("args = %v, want [sleep 30]", cmd.Args)
	}
	if strings.Contains(cmd.Path, "sh") {
		t.Fatalf("simple command must not go through a shell: %s", cmd.Path)
	}
}

func TestBuildCommandMetacharacters(t *testing.T) {
	for _, command := range []string{
		"echo hello | wc -l",
		"FOO=$BAR printenv",
		"ls *.log",
		"echo 'quoted'",
	} {
		cmd := ServerConfig{ID: "w", Command: command}.BuildCommand()
		if cmd.Path != "/bin/sh" {
			t.Errorf("command %q: path = %s, want /bin/sh", command, cmd.Path)
			continue
		}
		if len(cmd.Args) != 3 || cmd.Args[1] != "-c" || cmd.Args[2] != command {
			t.Errorf("command %q: args = %v", command, cmd.Args)
		}
	}
}

func TestBuildCommandExplicitShell(t *testing.T) {
	cases := []struct {
		command string
		script  string
	}{
		{`sh -c 'echo hi; sleep 1'`, "echo hi; sleep 1"},
		{`/bin/sh -c "npm run dev"`, "npm run dev"},
		{`sh -c echo plain`, "echo plain"},
	}
	for _, tc := range cases {
		cmd := ServerConfig{ID: "w", Command: tc.command}.BuildCommand()
		if cmd.Path != "/bin/sh" {
			t.Errorf("command %q: path = %s, want /bin/sh", tc.command, cmd.Path)
			continue
		}
		if got := cmd.Args[len(cmd.Args)-1]; got != tc.script {
			t.Errorf("command %q: script = %q, want %q", tc.command, got, tc.script)
		}
		// No double-wrapping: exactly sh -c <script>.
		if len(cmd.Args) != 3 {
			t.Errorf("command %q: args = %v", tc.command, cmd.Args)
		}
	}
}

func TestBuildCommandEmpty(t *testing.T) {
	cmd := ServerConfig{ID: "w"}.BuildCommand()
	if !strings.HasSuffix(cmd.Path, "true") {
		t.Fatalf("empty command path = %s, want /bin/true", cmd.Path)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     ServerConfig
		wantErr error
	}{
		{name: "ok", cfg: ServerConfig{ID: "web-1", Command: "npm run dev"}},
		{name: "ok dotted", cfg: ServerConfig{ID: "api.v2", Command: "true"}},
		{name: "empty id", cfg: ServerConfig{Command: "true"}, wantErr: ErrEmptyID},
		{name: "blank id", cfg: ServerConfig{ID: "  ", Command: "true"}, wantErr: ErrEmptyID},
		{name: "unsafe slash", cfg: ServerConfig{ID: "a/b", Command: "true"}, wantErr: ErrUnsafeID},
		{name: "unsafe traversal", cfg: ServerConfig{ID: "..", Command: "true"}, wantErr: ErrUnsafeID},
		{name: "unsafe space", cfg: ServerConfig{ID: "a b", Command: "true"}, wantErr: ErrUnsafeID},
		{name: "no command", cfg: ServerConfig{ID: "web"}, wantErr: ErrMissingCommand},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Validate() = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestValidatePortRange(t *testing.T) {
	cfg := ServerConfig{ID: "web", Command: "true", Ports: []int{3000, 70000}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("out-of-range declared port accepted")
	}
	cfg.Ports = []int{3000, 8080}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid ports rejected: %v", err)
	}
}
