// Package config parses the broker's plain key=value configuration
// file: listen address, log sink path, seed credentials, and the
// idle-disconnect timeout.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds every recognized key from the configuration file.
// Defaults are applied for anything the file omits.
type Config struct {
	Address              string
	AdminHTTPAddress     string
	LogFile              string
	AdminUsername        string
	AdminPassword        string
	CameraSystemUsername string
	CameraSystemPassword string
	SegsToDisconnect     int
	EncryptionKey        string // hex-encoded 32-byte AES-256 key; empty disables the transform
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	cfg := &Config{
		Address:          "0.0.0.0:1883",
		AdminHTTPAddress: "0.0.0.0:9090",
		SegsToDisconnect: 60,
	}

	sc := bufio.NewScanner(f)
	lineno := 0
	for sc.Scan() {
		lineno++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("config: %s:%d: missing '=' in %q", path, lineno, line)
		}
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		switch k {
		case "address":
			cfg.Address = v
		case "admin_http_address":
			cfg.AdminHTTPAddress = v
		case "log_file":
			cfg.LogFile = v
		case "admin_username":
			cfg.AdminUsername = v
		case "admin_password":
			cfg.AdminPassword = v
		case "camera_system_username":
			cfg.CameraSystemUsername = v
		case "camera_system_password":
			cfg.CameraSystemPassword = v
		case "encryption_key":
			cfg.EncryptionKey = v
		case "segs_to_disconnect":
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("config: %s:%d: segs_to_disconnect: %w", path, lineno, err)
			}
			cfg.SegsToDisconnect = n
		default:
			// Unknown keys are ignored rather than rejected, so older
			// config files keep working against a newer broker.
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}
