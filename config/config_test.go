package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reception.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("RECEPTION_AUTH_JWT_SECRET", secret)

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "Europe/Rome", cfg.Ledger.Timezone)
	assert.Equal(t, "10", cfg.Ledger.KeycardUnitPrice.String())
	assert.Equal(t, 5*time.Second, cfg.Offline.ProbeTimeout)
	assert.Equal(t, "*/15 * * * * *", cfg.Offline.ProbeSchedule)
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	// GIVEN: a file setting the backend and price, and an env override
	path := writeConfig(t, `
store:
  backend: memory
ledger:
  keycard_unit_price: "12.50"
  timezone: UTC
auth:
  jwt_secret: `+secret+`
mail:
  templates:
    "2": d-first-reminder
`)
	t.Setenv("RECEPTION_SERVER_ADDR", ":9090")

	// WHEN
	cfg, err := Load(path)

	// THEN
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "12.5", cfg.Ledger.KeycardUnitPrice.String())
	assert.Equal(t, "d-first-reminder", cfg.Mail.Templates[2])
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := &Config{
		Store:  StoreConfig{Backend: "postgres"},
		Auth:   AuthConfig{Mode: "jwt", JWTSecret: "short"},
		Ledger: LedgerConfig{Timezone: "Mars/Olympus"},
		Mail:   MailConfig{Enabled: true},
	}

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.backend")
	assert.Contains(t, err.Error(), "jwt_secret")
	assert.Contains(t, err.Error(), "ledger.timezone")
	assert.Contains(t, err.Error(), "mail.sendgrid_api_key")
}

func TestValidate_FirebaseAuthNeedsFirebaseStore(t *testing.T) {
	cfg := &Config{
		Store:  StoreConfig{Backend: "memory"},
		Auth:   AuthConfig{Mode: "firebase"},
		Ledger: LedgerConfig{Timezone: "UTC"},
	}

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.mode firebase")
}
