package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("YNAB_API_KEY", "key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.IMAPServer != "imap.gmail.com" {
		t.Errorf("IMAPServer = %q", cfg.IMAPServer)
	}
	if cfg.EmailAuthMethod != "basic" {
		t.Errorf("EmailAuthMethod = %q", cfg.EmailAuthMethod)
	}
	if cfg.MaxBadRowFraction != 0.5 {
		t.Errorf("MaxBadRowFraction = %v", cfg.MaxBadRowFraction)
	}
}

func TestSenders(t *testing.T) {
	cfg := &Config{}
	if got := cfg.Senders(); len(got) != len(DefaultSenders) {
		t.Errorf("default senders = %v", got)
	}

	cfg.EmailSenders = "a@example.com, b@example.com,,"
	got := cfg.Senders()
	if len(got) != 2 || got[0] != "a@example.com" || got[1] != "b@example.com" {
		t.Errorf("senders = %v", got)
	}
}

func TestPassphraseScoping(t *testing.T) {
	t.Setenv("YNAB_API_KEY", "key")
	t.Setenv("ZIP_PASSPHRASE", "global")
	t.Setenv("ZIP_PASSPHRASE_ALIPAY_SERVICE_ALIPAY_COM", "scoped")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if pw, ok := cfg.Passphrase("alipay@service.alipay.com"); !ok || pw != "scoped" {
		t.Errorf("scoped passphrase = %q ok=%v", pw, ok)
	}
	if pw, ok := cfg.Passphrase("other@example.com"); !ok || pw != "global" {
		t.Errorf("global fallback = %q ok=%v", pw, ok)
	}
}

func TestSanitizeScope(t *testing.T) {
	tests := []struct{ in, want string }{
		{"alipay@service.alipay.com", "ALIPAY_SERVICE_ALIPAY_COM"},
		{"already_UPPER99", "ALREADY_UPPER99"},
		{"", "DEFAULT"},
	}
	for _, tt := range tests {
		if got := SanitizeScope(tt.in); got != tt.want {
			t.Errorf("SanitizeScope(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidateEmail(t *testing.T) {
	cfg := &Config{YNABAPIKey: "k", EmailAuthMethod: "basic"}
	if err := cfg.ValidateEmail(); err == nil {
		t.Error("missing EMAIL_ADDRESS should fail")
	}

	cfg.EmailAddress = "me@example.com"
	if err := cfg.ValidateEmail(); err == nil {
		t.Error("basic auth without password should fail")
	}

	cfg.EmailPassword = "pw"
	if err := cfg.ValidateEmail(); err != nil {
		t.Errorf("ValidateEmail: %v", err)
	}

	cfg.EmailAuthMethod = "oauth"
	if err := cfg.ValidateEmail(); err == nil {
		t.Error("oauth without client credentials should fail")
	}
}
