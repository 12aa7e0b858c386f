package internal

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	if err := NewDefaultConfig().Validate(); err != nil {
		t.Fatalf("default config: %v", err)
	}
}

func TestContextConfig_Validation(t *testing.T) {
	cases := map[string]func(*ContextConfig){
		"zero window":      func(c *ContextConfig) { c.HistoryWindow = 0 },
		"huge window":      func(c *ContextConfig) { c.HistoryWindow = 5000 },
		"zero excerpt":     func(c *ContextConfig) { c.ExcerptChars = 0 },
		"negative cap":     func(c *ContextConfig) { c.MaxBytes = -2 },
		"no default agent": func(c *ContextConfig) { c.DefaultAgent = "" },
	}
	for name, mutate := range cases {
		cfg := NewDefaultConfig()
		mutate(&cfg.Context)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}

	cfg := NewDefaultConfig()
	cfg.Context.MaxBytes = -1
	if err := cfg.Validate(); err != nil {
		t.Errorf("unlimited cap should be valid: %v", err)
	}
}

func TestHistoryConfig_ResolvePath(t *testing.T) {
	root := filepath.FromSlash("/work/space")
	cases := map[string]string{
		"":              filepath.Join(root, ".folio", "history", "history.db"),
		"custom/h.db":   filepath.Join(root, "custom", "h.db"),
		"/var/lib/h.db": "/var/lib/h.db",
	}
	for in, want := range cases {
		c := HistoryConfig{Path: in}
		if got := c.ResolvePath(root); got != want {
			t.Errorf("ResolvePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}
