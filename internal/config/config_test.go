package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	c := Default()
	if c.Port != 19192 {
		t.Errorf("Port: got %d, want 19192", c.Port)
	}
	if c.Window.Width != 800 || c.Window.Height != 700 || c.Window.Type != "popup" {
		t.Errorf("Window: got %+v", c.Window)
	}
	if c.Toggle.SettleDelay != 2*time.Second {
		t.Errorf("SettleDelay: got %v", c.Toggle.SettleDelay)
	}
	if len(c.Parameters) != 4 {
		t.Errorf("Parameters: got %v", c.Parameters)
	}
	if !c.History.Enabled {
		t.Error("History.Enabled: got false")
	}
	if c.Extension.CallTimeout != 10*time.Second || c.Extension.MessageTimeout != 15*time.Second {
		t.Errorf("Extension: got %+v", c.Extension)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("PERFDEBUG_PORT", "")
	c, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Port != 19192 {
		t.Errorf("Port: got %d", c.Port)
	}
}

func TestLoadFile(t *testing.T) {
	t.Setenv("PERFDEBUG_PORT", "")
	t.Setenv("PERFDEBUG_DB", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
port: 20000
window:
  width: 640
toggle:
  settle_delay: 500ms
  load_timeout: 5s
extension:
  call_timeout: 3s
parameters: [nocache]
history:
  enabled: false
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Port != 20000 {
		t.Errorf("Port: got %d, want 20000", c.Port)
	}
	if c.Window.Width != 640 || c.Window.Height != 700 {
		t.Errorf("Window: got %dx%d, want 640x700", c.Window.Width, c.Window.Height)
	}
	if c.Toggle.SettleDelay != 500*time.Millisecond || c.Toggle.LoadTimeout != 5*time.Second {
		t.Errorf("Toggle: got %+v", c.Toggle)
	}
	if c.Extension.CallTimeout != 3*time.Second || c.Extension.MessageTimeout != 15*time.Second {
		t.Errorf("Extension: got %+v", c.Extension)
	}
	if len(c.Parameters) != 1 || c.Parameters[0] != "nocache" {
		t.Errorf("Parameters: got %v", c.Parameters)
	}
	if c.History.Enabled {
		t.Error("History.Enabled: got true, want false")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("port: [not a number"), 0o644)
	if _, err := Load(path); err == nil {
		t.Error("Load: want error for invalid yaml")
	}
}

func TestEnvOverrides(t *testing.T) {
	env := map[string]string{
		"PERFDEBUG_PORT":    "31000",
		"PERFDEBUG_DB":      "/tmp/x.db",
		"PERFDEBUG_LOG_DIR": "/tmp/logs",
	}
	c := Default()
	if err := c.applyEnv(func(k string) string { return env[k] }); err != nil {
		t.Fatalf("applyEnv: %v", err)
	}
	if c.Port != 31000 || c.DBPath != "/tmp/x.db" || c.LogDir != "/tmp/logs" {
		t.Errorf("overrides: got port=%d db=%q log=%q", c.Port, c.DBPath, c.LogDir)
	}

	bad := Default()
	if err := bad.applyEnv(func(k string) string {
		if k == "PERFDEBUG_PORT" {
			return "http"
		}
		return ""
	}); err == nil {
		t.Error("invalid port: want error")
	}
}
