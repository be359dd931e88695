package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_FileValues(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9100
jwt:
  secret: "file-secret"
ledger:
  low_balance_threshold: 3
`)

	c, err := load(path)
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if c.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want 9100", c.Server.Port)
	}
	if c.Ledger.LowBalanceThreshold != 3 {
		t.Errorf("LowBalanceThreshold = %d, want 3", c.Ledger.LowBalanceThreshold)
	}
	// untouched keys keep their defaults
	if c.Ledger.AbsenceDays != 7 || c.Ledger.MonthlyBuckets != 6 || c.Ledger.HistoryLimit != 100 {
		t.Errorf("ledger defaults = %+v", c.Ledger)
	}
	if c.Database.Driver != "sqlite" {
		t.Errorf("Database.Driver = %q, want sqlite", c.Database.Driver)
	}
	if c.Security.EncryptionKey != "file-secret" {
		t.Errorf("EncryptionKey should fall back to jwt secret, got %q", c.Security.EncryptionKey)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, `
jwt:
  secret: "file-secret"
`)
	t.Setenv("PTT_JWT_SECRET", "env-secret")
	t.Setenv("PTT_SERVER_PORT", "9200")

	c, err := load(path)
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if c.JWT.Secret != "env-secret" {
		t.Errorf("JWT.Secret = %q, want env-secret", c.JWT.Secret)
	}
	if c.Server.Port != 9200 {
		t.Errorf("Server.Port = %d, want 9200", c.Server.Port)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("PTT_JWT_SECRET", "only-env")

	c, err := load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if c.Server.Port != 8000 {
		t.Errorf("Server.Port = %d, want 8000", c.Server.Port)
	}
}

func TestLoad_RequiresSecret(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 8000\n")

	if _, err := load(path); err == nil {
		t.Error("load() without jwt.secret error = nil, want error")
	}
}

func TestValidate_Driver(t *testing.T) {
	c := &Config{
		JWT:      JWTConfig{Secret: "s"},
		Database: DatabaseConfig{Driver: "postgres"},
	}
	if err := c.Validate(); err == nil {
		t.Error("postgres without dsn error = nil, want error")
	}

	c.Database.DSN = "host=localhost user=pt dbname=pt sslmode=disable"
	if err := c.Validate(); err != nil {
		t.Errorf("postgres with dsn error = %v, want nil", err)
	}

	c.Database.Driver = "mysql"
	if err := c.Validate(); err == nil {
		t.Error("unsupported driver error = nil, want error")
	}
}
