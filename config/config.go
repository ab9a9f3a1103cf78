// Package config loads the reception server configuration.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/warp/reception-ledger/logger"
)

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig
	Log     logger.Config
	Store   StoreConfig
	Offline OfflineConfig
	Ledger  LedgerConfig
	Auth    AuthConfig
	Mail    MailConfig
}

type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// StoreConfig selects the ledger backend: memory, sqlite or firebase.
type StoreConfig struct {
	Backend    string
	SQLitePath string
	Firebase   FirebaseConfig
}

type FirebaseConfig struct {
	ProjectID       string
	DatabaseURL     string
	CredentialsFile string
}

// OfflineConfig drives the connectivity probe and journal replay. Cron
// specs have a seconds field; an empty spec disables the job.
type OfflineConfig struct {
	Enabled       bool
	JournalPath   string
	ProbeSchedule string
	FlushSchedule string
	ProbeTimeout  time.Duration
}

type LedgerConfig struct {
	Timezone         string
	KeycardUnitPrice decimal.Decimal
}

// AuthConfig selects how bearer tokens are verified: jwt or firebase.
type AuthConfig struct {
	Mode      string
	JWTSecret string
	JWTIssuer string
}

type MailConfig struct {
	Enabled        bool
	SendGridAPIKey string
	FromEmail      string
	FromName       string
	// Templates maps activity codes to SendGrid template ids.
	Templates map[int]string
}

// Location resolves Ledger.Timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Ledger.Timezone)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("store.backend", "sqlite")
	v.SetDefault("store.sqlite_path", "./data/reception.db")
	v.SetDefault("offline.enabled", true)
	v.SetDefault("offline.journal_path", "./data/offline.db")
	v.SetDefault("offline.probe_schedule", "*/15 * * * * *")
	v.SetDefault("offline.flush_schedule", "0 * * * * *")
	v.SetDefault("offline.probe_timeout", "5s")
	v.SetDefault("ledger.timezone", "Europe/Rome")
	v.SetDefault("ledger.keycard_unit_price", "10")
	v.SetDefault("auth.mode", "jwt")
	v.SetDefault("auth.jwt_issuer", "reception-ledger")
	v.SetDefault("mail.enabled", false)
	v.SetDefault("mail.from_name", "Reception")
}

// Load reads the YAML file at path (optional) and RECEPTION_* environment
// variables, e.g. RECEPTION_AUTH_JWT_SECRET.
// Priority: environment, file, built-in defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("RECEPTION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	price, err := decimal.NewFromString(v.GetString("ledger.keycard_unit_price"))
	if err != nil {
		return nil, fmt.Errorf("ledger.keycard_unit_price: %w", err)
	}
	templates := make(map[int]string)
	for k, id := range v.GetStringMapString("mail.templates") {
		code, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("mail.templates: %q is not an activity code", k)
		}
		templates[code] = id
	}

	cfg := &Config{
		Server: ServerConfig{
			Addr:           v.GetString("server.addr"),
			AllowedOrigins: v.GetStringSlice("server.allowed_origins"),
		},
		Log: logger.Config{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Store: StoreConfig{
			Backend:    strings.ToLower(v.GetString("store.backend")),
			SQLitePath: v.GetString("store.sqlite_path"),
			Firebase: FirebaseConfig{
				ProjectID:       v.GetString("store.firebase.project_id"),
				DatabaseURL:     v.GetString("store.firebase.database_url"),
				CredentialsFile: v.GetString("store.firebase.credentials_file"),
			},
		},
		Offline: OfflineConfig{
			Enabled:       v.GetBool("offline.enabled"),
			JournalPath:   v.GetString("offline.journal_path"),
			ProbeSchedule: v.GetString("offline.probe_schedule"),
			FlushSchedule: v.GetString("offline.flush_schedule"),
			ProbeTimeout:  v.GetDuration("offline.probe_timeout"),
		},
		Ledger: LedgerConfig{
			Timezone:         v.GetString("ledger.timezone"),
			KeycardUnitPrice: price,
		},
		Auth: AuthConfig{
			Mode:      strings.ToLower(v.GetString("auth.mode")),
			JWTSecret: v.GetString("auth.jwt_secret"),
			JWTIssuer: v.GetString("auth.jwt_issuer"),
		},
		Mail: MailConfig{
			Enabled:        v.GetBool("mail.enabled"),
			SendGridAPIKey: v.GetString("mail.sendgrid_api_key"),
			FromEmail:      v.GetString("mail.from_email"),
			FromName:       v.GetString("mail.from_name"),
			Templates:      templates,
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case "memory":
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required for the sqlite backend"))
		}
	case "firebase":
		if c.Store.Firebase.DatabaseURL == "" {
			errs = append(errs, errors.New("store.firebase.database_url is required for the firebase backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q must be memory, sqlite or firebase", c.Store.Backend))
	}
	switch c.Auth.Mode {
	case "jwt":
		if len(c.Auth.JWTSecret) < 32 {
			errs = append(errs, errors.New("auth.jwt_secret must be at least 32 characters"))
		}
	case "firebase":
		if c.Store.Backend != "firebase" {
			errs = append(errs, errors.New("auth.mode firebase needs the firebase store backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.mode %q must be jwt or firebase", c.Auth.Mode))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("ledger.timezone: %w", err))
	}
	if c.Ledger.KeycardUnitPrice.IsNegative() {
		errs = append(errs, errors.New("ledger.keycard_unit_price must not be negative"))
	}
	if c.Offline.Enabled && c.Offline.JournalPath == "" {
		errs = append(errs, errors.New("offline.journal_path is required when offline mode is enabled"))
	}
	if c.Mail.Enabled && (c.Mail.SendGridAPIKey == "" || c.Mail.FromEmail == "") {
		errs = append(errs, errors.New("mail.sendgrid_api_key and mail.from_email are required when mail is enabled"))
	}
	return errors.Join(errs...)
}
