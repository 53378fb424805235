// CLAUDE:SUMMARY TOML configuration with defaults and environment overrides (ADMIN_SECRET, GITHUB_TOKEN, AUTH_*, SENTRY_DSN)
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Auth     AuthConfig     `toml:"auth"`
	Storage  StorageConfig  `toml:"storage"`
	GitHub   GitHubConfig   `toml:"github"`
	Log      LogConfig      `toml:"log"`
	Sentry   SentryConfig   `toml:"sentry"`
	Invites  InvitesConfig  `toml:"invites"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`

	// HTTP3Addr enables the QUIC listener when non-empty (e.g. ":8443").
	HTTP3Addr string `toml:"http3_addr"`
	CertFile  string `toml:"cert_file"`
	KeyFile   string `toml:"key_file"`

	// PublicURL is the externally visible base URL used to build approve/poll links.
	PublicURL string `toml:"public_url"`
	StaticDir string `toml:"static_dir"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type AuthConfig struct {
	JWTSecret      string `toml:"jwt_secret"`
	TokenExpiryMin int    `toml:"token_expiry_min"`
	AdminSecret    string `toml:"admin_secret"`
	GitHubClientID string `toml:"github_client_id"`
	FeishuAppID    string `toml:"feishu_app_id"`
	ResendKey      string `toml:"resend_key"`
	EmailFrom      string `toml:"email_from"`
}

type StorageConfig struct {
	PackagesDir string `toml:"packages_dir"`
	MaxUploadMB int64  `toml:"max_upload_mb"`
}

type GitHubConfig struct {
	Token       string `toml:"token"`
	APIBase     string `toml:"api_base"`
	Concurrency int    `toml:"concurrency"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type SentryConfig struct {
	DSN         string  `toml:"dsn"`
	Environment string  `toml:"environment"`
	SampleRate  float64 `toml:"traces_sample_rate"`
}

type InvitesConfig struct {
	// SystemCodes are seeded as type=system codes at startup when absent.
	SystemCodes   []string `toml:"system_codes"`
	SystemMaxUses int      `toml:"system_max_uses"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:      ":3000",
			PublicURL: "http://localhost:3000",
			StaticDir: "static",
		},
		Database: DatabaseConfig{
			Path: "data/hub.db",
		},
		Auth: AuthConfig{
			JWTSecret:      "change-me-in-production",
			TokenExpiryMin: 43200, // 30d
			EmailFrom:      "水产市场 <noreply@seafood.market>",
		},
		Storage: StorageConfig{
			PackagesDir: "data/packages",
			MaxUploadMB: 10,
		},
		GitHub: GitHubConfig{
			APIBase:     "https://api.github.com",
			Concurrency: 4,
		},
		Log: LogConfig{
			Level: "info",
		},
		Sentry: SentryConfig{
			Environment: "development",
			SampleRate:  0.2,
		},
		Invites: InvitesConfig{
			SystemMaxUses: 1000,
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err == nil {
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config: %w", err)
			}
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// applyEnv lets deployment environment variables win over the file.
func (c *Config) applyEnv() {
	setString(&c.Auth.AdminSecret, "ADMIN_SECRET")
	setString(&c.GitHub.Token, "GITHUB_TOKEN")
	setString(&c.Auth.GitHubClientID, "AUTH_GITHUB_ID")
	setString(&c.Auth.FeishuAppID, "AUTH_FEISHU_APP_ID")
	setString(&c.Auth.ResendKey, "AUTH_RESEND_KEY")
	setString(&c.Sentry.DSN, "SENTRY_DSN")
	setString(&c.Auth.JWTSecret, "SEAFOOD_JWT_SECRET")
	setString(&c.Database.Path, "SEAFOOD_DB_PATH")

	// AUTH_URL takes precedence over the legacy NEXTAUTH_URL.
	setString(&c.Server.PublicURL, "NEXTAUTH_URL")
	setString(&c.Server.PublicURL, "AUTH_URL")
	c.Server.PublicURL = strings.TrimRight(c.Server.PublicURL, "/")
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

// MaxUploadBytes returns the per-file upload limit.
func (c *Config) MaxUploadBytes() int64 {
	if c.Storage.MaxUploadMB <= 0 {
		return 10 << 20
	}
	return c.Storage.MaxUploadMB << 20
}
