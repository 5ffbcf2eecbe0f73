package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadYAMLAppliesDefaults(t *testing.T) {
	path := writeFile(t, "cfg.yaml", `
log_level: debug
scanner:
  wifi:
    iface: mon0
    hop_interval: 250ms
alerting:
  in_range_timeout: 45s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Scanner.WiFi.Iface != "mon0" || cfg.Scanner.WiFi.HopInterval != 250*time.Millisecond {
		t.Fatalf("wifi section not decoded: %+v", cfg.Scanner.WiFi)
	}
	if cfg.Alerting.InRangeTimeout != 45*time.Second {
		t.Fatalf("timeout %s", cfg.Alerting.InRangeTimeout)
	}
	if cfg.Alerting.HeartbeatInterval != 10*time.Second {
		t.Fatalf("heartbeat default lost: %s", cfg.Alerting.HeartbeatInterval)
	}
	if cfg.Scanner.WiFi.MaxChannel != 13 || cfg.Signal.StrongRSSI != -50 {
		t.Fatalf("defaults not applied: %+v %+v", cfg.Scanner.WiFi, cfg.Signal)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "cfg.json", `{"log_format":"text","history":{"store_limit":10}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != "text" || cfg.History.StoreLimit != 10 {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoadRejectsEmptyAndInvalid(t *testing.T) {
	if _, err := Load(writeFile(t, "empty.yaml", "  \n")); err == nil {
		t.Fatalf("expected error for empty file")
	}
	bad := writeFile(t, "bad.yaml", `
alerting:
  heartbeat_interval: 40s
  in_range_timeout: 30s
`)
	if _, err := Load(bad); err == nil {
		t.Fatalf("expected validation error for heartbeat >= timeout")
	}
	driver := writeFile(t, "driver.yaml", `
storage:
  enabled: true
  driver: mongo
`)
	if _, err := Load(driver); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := DefaultConfig()
	cfg.Ignore.MACs = []string{"58:8e:81:00:00:01"}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Ignore.MACs) != 1 || loaded.Scanner.BLE.ScanInterval != 5*time.Second {
		t.Fatalf("round trip lost fields: %+v", loaded)
	}
}

func TestManagerOverride(t *testing.T) {
	m, err := NewManager("")
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	if err := m.Override(func(c *Config) { c.Scanner.WiFi.Iface = "wlan1" }); err != nil {
		t.Fatalf("override: %v", err)
	}
	if m.Get().Scanner.WiFi.Iface != "wlan1" {
		t.Fatalf("override not applied")
	}
	if err := m.Override(func(c *Config) { c.Signal.StrongRSSI = -90 }); err == nil {
		t.Fatalf("invalid override accepted")
	}
	if m.Get().Signal.StrongRSSI != -50 {
		t.Fatalf("rejected override leaked into config")
	}
}
