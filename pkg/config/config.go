// Package config loads application configuration from the environment.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// DefaultSenders is the built-in trusted-sender allow list used when
// EMAIL_SENDERS is not set.
var DefaultSenders = []string{
	"alipay@service.alipay.com",
	"wechatpay@tencent.com",
	"wechatpay@service.wechat.com",
}

const passphraseKeyPrefix = "ZIP_PASSPHRASE_"

// Config holds the application configuration loaded from environment
// variables (optionally seeded from a .env file).
type Config struct {
	// YNABAPIKey authenticates against the budgeting API. Required.
	YNABAPIKey string `koanf:"YNAB_API_KEY"`
	// YNABBudgetID preselects a budget; when empty the user is prompted.
	YNABBudgetID string `koanf:"YNAB_BUDGET_ID"`
	// YNABAccountID is the fallback account for source accounts that
	// have no persisted mapping and no prompt channel.
	YNABAccountID string `koanf:"YNAB_ACCOUNT_ID"`

	IMAPServer    string `koanf:"IMAP_SERVER"`
	EmailAddress  string `koanf:"EMAIL_ADDRESS"`
	EmailPassword string `koanf:"EMAIL_PASSWORD"`
	// EmailAuthMethod is "basic" (default) or "oauth" (XOAUTH2).
	EmailAuthMethod   string `koanf:"EMAIL_AUTH_METHOD"`
	OAuthClientID     string `koanf:"OAUTH_CLIENT_ID"`
	OAuthClientSecret string `koanf:"OAUTH_CLIENT_SECRET"`
	OAuthRefreshToken string `koanf:"OAUTH_REFRESH_TOKEN"`
	OAuthTokenURL     string `koanf:"OAUTH_TOKEN_URL"`

	// EmailSenders is a comma-separated trusted-sender list.
	EmailSenders string `koanf:"EMAIL_SENDERS"`
	// HeaderSearchFallback enables the HEADER FROM retry when the plain
	// FROM search returns nothing.
	HeaderSearchFallback bool `koanf:"EMAIL_SEARCH_HEADER_FALLBACK"`
	// FallbackScanLimit bounds the recent-message scan used when both
	// server-side searches come back empty. 0 disables the scan.
	FallbackScanLimit int `koanf:"EMAIL_SEARCH_SAMPLE_LIMIT"`
	// DiscoverSample controls how many recent senders are logged when no
	// message matched any trusted sender. 0 disables discovery.
	DiscoverSample int `koanf:"EMAIL_DISCOVER_SAMPLE"`

	// ZipPassphrase is the global archive passphrase. Per-sender values
	// come from ZIP_PASSPHRASE_<SANITIZED_SENDER> variables.
	ZipPassphrase  string `koanf:"ZIP_PASSPHRASE"`
	zipPassphrases map[string]string

	// StatePath overrides the state store location
	// (default .ynab-butler/state.db).
	StatePath string `koanf:"STATE_PATH"`

	// MaxBadRowFraction is the tolerated fraction of unparsable data rows
	// before a file is rejected as malformed. Defaults to 0.5.
	MaxBadRowFraction float64 `koanf:"IMPORT_MAX_BAD_ROW_FRACTION"`

	// NoPrompt disables all interactive prompts even on a terminal.
	NoPrompt bool `koanf:"NO_PROMPT"`
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	// Missing .env is fine; real deployments use plain env vars.
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", nil), nil); err != nil {
		return nil, fmt.Errorf("loading config from environment: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf", FlatPaths: true}); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.zipPassphrases = make(map[string]string)
	for _, key := range k.Keys() {
		if strings.HasPrefix(key, passphraseKeyPrefix) {
			cfg.zipPassphrases[strings.TrimPrefix(key, passphraseKeyPrefix)] = k.String(key)
		}
	}

	if cfg.EmailAuthMethod == "" {
		cfg.EmailAuthMethod = "basic"
	}
	if cfg.IMAPServer == "" {
		cfg.IMAPServer = "imap.gmail.com"
	}
	if cfg.MaxBadRowFraction <= 0 || cfg.MaxBadRowFraction > 1 {
		cfg.MaxBadRowFraction = 0.5
	}
	if cfg.StatePath == "" {
		cfg.StatePath = filepath.Join(".ynab-butler", "state.db")
	}

	return &cfg, nil
}

// Senders returns the trusted-sender list, defaulting to the built-in
// Alipay/WeChat service addresses.
func (c *Config) Senders() []string {
	if strings.TrimSpace(c.EmailSenders) == "" {
		return DefaultSenders
	}
	var out []string
	for _, s := range strings.Split(c.EmailSenders, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Passphrase returns the configured passphrase for a scope (sender or
// archive identity), falling back to the global value. The bool reports
// whether any configured value exists.
func (c *Config) Passphrase(scope string) (string, bool) {
	if v, ok := c.zipPassphrases[SanitizeScope(scope)]; ok && v != "" {
		return v, true
	}
	if c.ZipPassphrase != "" {
		return c.ZipPassphrase, true
	}
	return "", false
}

// SanitizeScope converts a scope identifier into the uppercase form used
// in ZIP_PASSPHRASE_* environment variable names.
func SanitizeScope(scope string) string {
	var b strings.Builder
	for _, r := range scope {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "DEFAULT"
	}
	return b.String()
}

// ValidateLocal checks the keys required for local-file mode.
func (c *Config) ValidateLocal() error {
	if c.YNABAPIKey == "" {
		return fmt.Errorf("YNAB_API_KEY is required")
	}
	return nil
}

// ValidateEmail checks the keys required for email mode.
func (c *Config) ValidateEmail() error {
	if c.YNABAPIKey == "" {
		return fmt.Errorf("YNAB_API_KEY is required")
	}
	if c.EmailAddress == "" {
		return fmt.Errorf("EMAIL_ADDRESS is required for email mode")
	}
	switch c.EmailAuthMethod {
	case "basic":
		if c.EmailPassword == "" {
			return fmt.Errorf("EMAIL_PASSWORD is required for basic auth")
		}
	case "oauth":
		if c.OAuthClientID == "" || c.OAuthRefreshToken == "" || c.OAuthTokenURL == "" {
			return fmt.Errorf("OAUTH_CLIENT_ID, OAUTH_REFRESH_TOKEN and OAUTH_TOKEN_URL are required for oauth auth")
		}
	default:
		return fmt.Errorf("EMAIL_AUTH_METHOD must be basic or oauth, got %q", c.EmailAuthMethod)
	}
	return nil
}
