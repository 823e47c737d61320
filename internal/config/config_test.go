package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWithEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %s", cfg.Server.Addr)
	}
	if cfg.Trading.FeeBps != 2000 {
		t.Errorf("fee_bps = %d", cfg.Trading.FeeBps)
	}
	if cfg.Trading.AutoReleaseWindow.Std() != 72*time.Hour {
		t.Errorf("auto_release_window = %s", cfg.Trading.AutoReleaseWindow.Std())
	}
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  addr: ":9000"
auth:
  jwt_secret: from-file
trading:
  fee_bps: 500
  auto_release_window: 24h
  currencies: [GOLD]
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("FEE_BPS", "1500") // env beats file

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Errorf("addr = %s", cfg.Server.Addr)
	}
	if cfg.Auth.JWTSecret != "from-file" {
		t.Errorf("jwt_secret = %s", cfg.Auth.JWTSecret)
	}
	if cfg.Trading.FeeBps != 1500 {
		t.Errorf("fee_bps = %d", cfg.Trading.FeeBps)
	}
	if len(cfg.Trading.Currencies) != 1 || cfg.Trading.Currencies[0] != "GOLD" {
		t.Errorf("currencies = %v", cfg.Trading.Currencies)
	}
	if cfg.Trading.AutoReleaseWindow.Std() != 24*time.Hour {
		t.Errorf("auto_release_window = %s", cfg.Trading.AutoReleaseWindow.Std())
	}
}

func TestLoadRequiresSecrets(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error without JWT_SECRET and DATABASE_URL")
	}
}
