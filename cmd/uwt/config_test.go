package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigMissingFileDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing config should not error: %v", err)
	}
	if cfg.Baud != 115200 {
		t.Errorf("default baud %d, want 115200", cfg.Baud)
	}
}

func TestLoadConfigParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
device: /dev/ttyUSB1
baud: 921600
block_size: 4096
ack_timeout: 500ms
ssh:
  addr: lab-host:2222
  user: operator
  command: picocom -q /dev/ttyACM0
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Device != "/dev/ttyUSB1" || cfg.Baud != 921600 {
		t.Errorf("device/baud: %s/%d", cfg.Device, cfg.Baud)
	}
	if cfg.SSH.Addr != "lab-host:2222" || cfg.SSH.User != "operator" {
		t.Errorf("ssh hop: %+v", cfg.SSH)
	}

	pcfg, err := cfg.protocolConfig()
	if err != nil {
		t.Fatalf("protocol config: %v", err)
	}
	if pcfg.BlockSize != 4096 {
		t.Errorf("block size %d, want 4096", pcfg.BlockSize)
	}
	if pcfg.AckTimeout != 500*time.Millisecond {
		t.Errorf("ack timeout %s, want 500ms", pcfg.AckTimeout)
	}
	// Unset knobs keep their protocol defaults.
	if pcfg.MaxRetries != 6 {
		t.Errorf("max retries %d, want default 6", pcfg.MaxRetries)
	}
}

func TestLoadConfigBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("ack_timeout: soon\n"), 0600)
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := cfg.protocolConfig(); err == nil {
		t.Error("unparseable duration accepted")
	}
}

func TestSplitSSHTarget(t *testing.T) {
	user, addr, err := splitSSHTarget("op@bridge-host:2200")
	if err != nil || user != "op" || addr != "bridge-host:2200" {
		t.Errorf("got %q %q %v", user, addr, err)
	}
	// Port defaults to 22.
	_, addr, err = splitSSHTarget("op@bridge-host")
	if err != nil || addr != "bridge-host:22" {
		t.Errorf("default port: %q %v", addr, err)
	}
	if _, _, err := splitSSHTarget("no-user-part"); err == nil {
		t.Error("target without user accepted")
	}
}
