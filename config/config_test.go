package config

import (
	"os"
	"testing"
	"time"
)

// writeTempConfig creates a minimal configuration file required for LoadConfig
// and returns its path.
func writeTempConfig(t *testing.T) string {
	t.Helper()
	content := `tradeflow:
  name: "TestApp"
  version: "1.0"
sync:
  positions_interval: 10s
orders:
  default_leverage: 3
storage:
  s3:
    enabled: false
`
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Tradeflow.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Tradeflow.Name)
	}
	if cfg.Sync.PositionsInterval != 10*time.Second {
		t.Errorf("unexpected positions interval: %v", cfg.Sync.PositionsInterval)
	}
	if cfg.Orders.DefaultLeverage != 3 {
		t.Errorf("unexpected default leverage: %d", cfg.Orders.DefaultLeverage)
	}
	// Defaults kick in for everything the file omits.
	if cfg.Binance.FuturesBase != "https://fapi.binance.com" {
		t.Errorf("unexpected futures base: %s", cfg.Binance.FuturesBase)
	}
	if cfg.Stream.KeepaliveInterval != 30*time.Minute {
		t.Errorf("unexpected keepalive interval: %v", cfg.Stream.KeepaliveInterval)
	}
}

func TestLoadConfigMissingName(t *testing.T) {
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString("tradeflow:\n  version: \"1.0\"\n"); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	f.Close()
	defer os.Remove(f.Name())

	if _, err := LoadConfig(f.Name()); err == nil {
		t.Fatal("expected error for missing tradeflow.name")
	}
}

func TestIsValidS3Bucket(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"valid-bucket", true},
		{"Invalid", false},
		{"ab", false},
		{"my..bucket", false},
	}
	for _, c := range cases {
		if got := isValidS3Bucket(c.name); got != c.valid {
			t.Errorf("isValidS3Bucket(%q) = %v, want %v", c.name, got, c.valid)
		}
	}
}

func TestLoadCredentials(t *testing.T) {
	t.Setenv("BINANCE_UM_API_KEY", "")
	t.Setenv("BINANCE_UM_API_SECRET", "")
	t.Setenv("BINANCE_API_KEY", "k")
	t.Setenv("BINANCE_API_SECRET", "s")

	creds, err := LoadCredentials()
	if err != nil {
		t.Fatalf("LoadCredentials failed: %v", err)
	}
	if creds.APIKey != "k" || creds.APISecret != "s" {
		t.Errorf("unexpected credentials: %+v", creds)
	}

	// Futures-specific variables win over the generic ones.
	t.Setenv("BINANCE_UM_API_KEY", "umk")
	t.Setenv("BINANCE_UM_API_SECRET", "ums")
	creds, err = LoadCredentials()
	if err != nil {
		t.Fatalf("LoadCredentials failed: %v", err)
	}
	if creds.APIKey != "umk" || creds.APISecret != "ums" {
		t.Errorf("unexpected credentials: %+v", creds)
	}
}
