package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, data string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadFullConfig(t *testing.T) {
	dir := t.TempDir()
	data := `
listen    = "127.0.0.1:9900"
base_path = "/warden"
env       = ["GLOBAL=1"]

[monitor]
interval      = "2s"
probe_timeout = "250ms"

[kill]
grace = "1s"

[store]
type = "json"
path = "state/warden.json"

[history]
dsn = "sqlite:///tmp/history.db"

[log]
dir          = "logs"
max_size_mb  = 5
max_backups  = 2
max_age_days = 3

[metrics]
enabled           = true
resource_interval = "10s"

[[servers]]
id      = "web"
name    = "Web Frontend"
command = "npm run dev"
workdir = "/srv/web"
env     = ["PORT=3000"]
ports   = [3000]
color   = "#36c"

[[servers]]
id      = "api"
command = "./api"
`
	p := writeFile(t, dir, "warden.toml", data)
	fc, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if fc.Listen != "127.0.0.1:9900" || fc.BasePath != "/warden" {
		t.Fatalf("transport: %+v", fc)
	}
	if fc.Monitor.Interval != 2*time.Second || fc.Monitor.ProbeTimeout != 250*time.Millisecond {
		t.Fatalf("monitor durations: %+v", fc.Monitor)
	}
	if fc.Kill.Grace != time.Second {
		t.Fatalf("kill grace: %v", fc.Kill.Grace)
	}
	if fc.Store.Type != "json" || fc.Store.Path != "state/warden.json" {
		t.Fatalf("store: %+v", fc.Store)
	}
	if fc.History.DSN != "sqlite:///tmp/history.db" {
		t.Fatalf("history: %+v", fc.History)
	}
	if !fc.Metrics.Enabled || fc.Metrics.ResourceInterval != 10*time.Second {
		t.Fatalf("metrics: %+v", fc.Metrics)
	}

	cfgs := fc.ServerConfigs()
	if len(cfgs) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(cfgs))
	}
	web := cfgs[0]
	if web.ID != "web" || web.Name != "Web Frontend" || web.Command != "npm run dev" {
		t.Fatalf("web entry: %+v", web)
	}
	if web.WorkDir != "/srv/web" || len(web.Ports) != 1 || web.Ports[0] != 3000 || web.ColorTag != "#36c" {
		t.Fatalf("web entry: %+v", web)
	}
	// top-level [log] flows down to servers without their own block
	if web.Log.Dir != "logs" || web.Log.MaxSizeMB != 5 || web.Log.MaxBackups != 2 || web.Log.MaxAgeDays != 3 {
		t.Fatalf("web log: %+v", web.Log)
	}
	if cfgs[1].ID != "api" || cfgs[1].Log.Dir != "logs" {
		t.Fatalf("api entry: %+v", cfgs[1])
	}
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "min.toml", `
[[servers]]
id      = "only"
command = "sleep 1"
`)
	fc, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if fc.Listen != ":8800" {
		t.Fatalf("default listen: %q", fc.Listen)
	}
	if fc.BasePath != "/api" {
		t.Fatalf("default base path: %q", fc.BasePath)
	}
	if fc.Monitor.Interval != 0 || fc.Kill.Grace != 0 {
		t.Fatalf("durations should stay zero and default downstream: %+v", fc)
	}
	if fc.Store.Type != "" {
		t.Fatalf("store should be disabled by default: %+v", fc.Store)
	}
	cfgs := fc.ServerConfigs()
	if len(cfgs) != 1 || cfgs[0].Log.Dir != "" {
		t.Fatalf("unexpected conversion: %+v", cfgs)
	}
}

func TestLoadRejectsDuplicateAndEmptyIDs(t *testing.T) {
	dir := t.TempDir()
	dup := writeFile(t, dir, "dup.toml", `
[[servers]]
id      = "a"
command = "true"

[[servers]]
id      = "a"
command = "false"
`)
	if _, err := Load(dup); err == nil || !strings.Contains(err.Error(), "duplicate server id") {
		t.Fatalf("expected duplicate id error, got %v", err)
	}

	empty := writeFile(t, dir, "empty.toml", `
[[servers]]
command = "true"
`)
	if _, err := Load(empty); err == nil || !strings.Contains(err.Error(), "id is required") {
		t.Fatalf("expected empty id error, got %v", err)
	}
}

func TestLoadBadInput(t *testing.T) {
	dir := t.TempDir()
	bad := writeFile(t, dir, "bad.toml", "listen = [broken\n")
	if _, err := Load(bad); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := Load(filepath.Join(dir, "missing.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestPerServerLogOverridesGlobal(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "log.toml", `
[log]
dir         = "global-logs"
max_size_mb = 10

[[servers]]
id      = "a"
command = "true"

[[servers]]
id      = "b"
command = "true"
[servers.log]
dir         = "b-logs"
max_backups = 9
`)
	fc, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfgs := fc.ServerConfigs()
	if cfgs[0].Log.Dir != "global-logs" || cfgs[0].Log.MaxSizeMB != 10 {
		t.Fatalf("a should inherit global log: %+v", cfgs[0].Log)
	}
	if cfgs[1].Log.Dir != "b-logs" {
		t.Fatalf("b should override dir: %+v", cfgs[1].Log)
	}
	if cfgs[1].Log.MaxSizeMB != 10 || cfgs[1].Log.MaxBackups != 9 {
		t.Fatalf("b should keep inherited size and override backups: %+v", cfgs[1].Log)
	}
}

func TestGlobalEnvMerge(t *testing.T) {
	dir := t.TempDir()
	dotenv := writeFile(t, dir, ".env", "FILE_ONLY=fv\n#comment\nSHARED=from-file\n")
	p := writeFile(t, dir, "env.toml", `
env       = ["TOP=tv", "SHARED=from-top"]
env_files = ["`+dotenv+`"]
`)
	fc, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	pairs, err := fc.GlobalEnv()
	if err != nil {
		t.Fatalf("global env: %v", err)
	}
	// order not guaranteed; validate contents by map
	m := make(map[string]string)
	for _, kv := range pairs {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	if m["FILE_ONLY"] != "fv" || m["TOP"] != "tv" {
		t.Fatalf("unexpected pairs: %+v", m)
	}
	if m["SHARED"] != "from-top" {
		t.Fatalf("top-level env should override files: %+v", m)
	}

	fc.EnvFiles = append(fc.EnvFiles, filepath.Join(dir, "missing.env"))
	if _, err := fc.GlobalEnv(); err == nil {
		t.Fatal("expected error for missing env file")
	}
}
