package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "broker.conf")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "admin_username=admin\nadmin_password=secret\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Address != "0.0.0.0:1883" {
		t.Errorf("Address = %q, want default", cfg.Address)
	}
	if cfg.AdminHTTPAddress != "0.0.0.0:9090" {
		t.Errorf("AdminHTTPAddress = %q, want default", cfg.AdminHTTPAddress)
	}
	if cfg.SegsToDisconnect != 60 {
		t.Errorf("SegsToDisconnect = %d, want default 60", cfg.SegsToDisconnect)
	}
	if cfg.AdminUsername != "admin" || cfg.AdminPassword != "secret" {
		t.Errorf("admin credentials not parsed: %+v", cfg)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	body := `
address = 10.0.0.1:1883
admin_http_address = 10.0.0.1:9090
log_file = /var/log/broker.log
admin_username = admin
admin_password = s3cret
camera_system_username = camsys
camera_system_password = camsys-pw
segs_to_disconnect = 120
`
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Address != "10.0.0.1:1883" {
		t.Errorf("Address = %q", cfg.Address)
	}
	if cfg.LogFile != "/var/log/broker.log" {
		t.Errorf("LogFile = %q", cfg.LogFile)
	}
	if cfg.CameraSystemUsername != "camsys" || cfg.CameraSystemPassword != "camsys-pw" {
		t.Errorf("camera system credentials not parsed: %+v", cfg)
	}
	if cfg.SegsToDisconnect != 120 {
		t.Errorf("SegsToDisconnect = %d, want 120", cfg.SegsToDisconnect)
	}
}

func TestLoadIgnoresCommentsAndBlankLines(t *testing.T) {
	body := "# this is a comment\n\naddress=127.0.0.1:1883\n"
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Address != "127.0.0.1:1883" {
		t.Errorf("Address = %q", cfg.Address)
	}
}

func TestLoadIgnoresUnknownKeys(t *testing.T) {
	body := "nonsense_key=whatever\naddress=127.0.0.1:1883\n"
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Address != "127.0.0.1:1883" {
		t.Errorf("Address = %q", cfg.Address)
	}
}

func TestLoadRejectsMissingEquals(t *testing.T) {
	_, err := Load(writeConfig(t, "this-line-has-no-equals\n"))
	if err == nil {
		t.Fatal("expected an error for a malformed line")
	}
}

func TestLoadRejectsBadSegsToDisconnect(t *testing.T) {
	_, err := Load(writeConfig(t, "segs_to_disconnect=not-a-number\n"))
	if err == nil {
		t.Fatal("expected an error for a non-integer segs_to_disconnect")
	}
}

func TestLoadParsesEncryptionKey(t *testing.T) {
	body := "encryption_key=" + strings.Repeat("ab", 32) + "\n"
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.EncryptionKey != strings.Repeat("ab", 32) {
		t.Errorf("EncryptionKey = %q", cfg.EncryptionKey)
	}
}

func TestLoadDefaultsEncryptionKeyEmpty(t *testing.T) {
	cfg, err := Load(writeConfig(t, "address=127.0.0.1:1883\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.EncryptionKey != "" {
		t.Errorf("EncryptionKey = %q, want empty by default", cfg.EncryptionKey)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.conf"))
	if err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
