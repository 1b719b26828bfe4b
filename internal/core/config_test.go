package core

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// ─── DefaultConfig ──────────────────────────────────────────────────────────

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Alerts.AlertMethod != "all" {
		t.Errorf("default AlertMethod = %q, want all", cfg.Alerts.AlertMethod)
	}
	if cfg.MinSeverityLevel() != SeverityMedium {
		t.Errorf("default MinSeverity = %v, want MEDIUM", cfg.MinSeverityLevel())
	}
	if cfg.Cooldown() != 300*time.Second {
		t.Errorf("default Cooldown = %v, want 5m", cfg.Cooldown())
	}
	if cfg.FileMonitoring.MaxFileSize != 52428800 {
		t.Errorf("default MaxFileSize = %d, want 52428800", cfg.FileMonitoring.MaxFileSize)
	}
	if cfg.CodeAnalysis.EntropyThreshold != 7.0 {
		t.Errorf("default EntropyThreshold = %v, want 7.0", cfg.CodeAnalysis.EntropyThreshold)
	}
	if cfg.Performance.CacheDuration != 3600 {
		t.Errorf("default CacheDuration = %d, want 3600", cfg.Performance.CacheDuration)
	}
	if cfg.EventMonitoring.MaxRecords != 1000 {
		t.Errorf("default MaxRecords = %d, want 1000", cfg.EventMonitoring.MaxRecords)
	}
	if !cfg.Toast.Enabled {
		t.Error("toast should be enabled by default")
	}
	if cfg.Email.Enabled || cfg.Telegram.Enabled || cfg.Webhook.Enabled {
		t.Error("remote channels should be disabled by default")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("default Level = %q, want info", cfg.Logging.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

// ─── LoadConfig ─────────────────────────────────────────────────────────────

func TestLoadConfig_EmptyPath_ReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig(\"\") error: %v", err)
	}
	if cfg.Alerts.AlertCooldown != 300 {
		t.Errorf("expected default cooldown 300, got %d", cfg.Alerts.AlertCooldown)
	}
}

func TestLoadConfig_NonExistentFile_IsFatal(t *testing.T) {
	_, err := LoadConfig("/this/path/does/not/exist/config.yaml")
	if !errors.Is(err, ErrConfigNotFound) {
		t.Fatalf("expected ErrConfigNotFound, got %v", err)
	}
}

func TestLoadConfig_ValidYAML(t *testing.T) {
	yaml := `
alerts:
  alert_method: telegram
  min_severity: high
  alert_cooldown: 60
telegram:
  enabled: true
  bot_token: "123:abc"
  chat_ids: "111, 222"
event_monitoring:
  event_ids: [4625, 4648]
  specific_event_ids: "41,6008"
logging:
  level: "debug"
  format: "json"
`
	path := writeTempConfig(t, yaml)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Alerts.AlertMethod != "telegram" {
		t.Errorf("AlertMethod = %q, want telegram", cfg.Alerts.AlertMethod)
	}
	if cfg.MinSeverityLevel() != SeverityHigh {
		t.Errorf("MinSeverity = %v, want HIGH", cfg.MinSeverityLevel())
	}
	if cfg.Cooldown() != time.Minute {
		t.Errorf("Cooldown = %v, want 1m", cfg.Cooldown())
	}
	if len(cfg.Telegram.ChatIDs) != 2 || cfg.Telegram.ChatIDs[1] != "222" {
		t.Errorf("ChatIDs = %v, want [111 222]", cfg.Telegram.ChatIDs)
	}
	if !cfg.EventMonitoring.EventIDs.Contains(4648) {
		t.Errorf("EventIDs = %v, want to contain 4648", cfg.EventMonitoring.EventIDs)
	}
	if len(cfg.EventMonitoring.SpecificEventIDs) != 2 || cfg.EventMonitoring.SpecificEventIDs[0] != 41 {
		t.Errorf("SpecificEventIDs = %v, want [41 6008]", cfg.EventMonitoring.SpecificEventIDs)
	}
	// Unset sections keep their defaults.
	if cfg.Alerts.ChannelTimeout != 8 {
		t.Errorf("ChannelTimeout = %d, want default 8", cfg.Alerts.ChannelTimeout)
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeTempConfig(t, ": bad: yaml: {{{{")
	_, err := LoadConfig(path)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadConfig_BadIntList(t *testing.T) {
	path := writeTempConfig(t, "network_monitoring:\n  suspicious_ports: \"4444, abc\"\n")
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for non-integer port")
	}
}

func TestLoadConfig_CredentialsFromEnv(t *testing.T) {
	t.Setenv("VIGIL_TELEGRAM_BOT_TOKEN", "env-token")
	t.Setenv("VIGIL_API_KEY", "env-api-key")
	path := writeTempConfig(t, "")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Telegram.BotToken != "env-token" {
		t.Errorf("BotToken = %q, want env-token", cfg.Telegram.BotToken)
	}
	if len(cfg.Server.APIKeys) != 1 || cfg.Server.APIKeys[0] != "env-api-key" {
		t.Errorf("APIKeys = %v, want [env-api-key]", cfg.Server.APIKeys)
	}
}

func TestLoadConfig_FileCredentialsTakePrecedence(t *testing.T) {
	t.Setenv("VIGIL_SMTP_PASSWORD", "env-pass")
	path := writeTempConfig(t, "email:\n  password: file-pass\n")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Email.Password != "file-pass" {
		t.Errorf("Password = %q, want file-pass", cfg.Email.Password)
	}
}

func TestLoadConfig_DotEnvNextToConfig(t *testing.T) {
	dir := t.TempDir()
	// t.Setenv registers cleanup; clear it so godotenv can set it.
	t.Setenv("VIGIL_PUSHOVER_TOKEN", "")
	os.Unsetenv("VIGIL_PUSHOVER_TOKEN")
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("VIGIL_PUSHOVER_TOKEN=dotenv-token\n"), 0600); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "vigil.yaml")
	if err := os.WriteFile(path, []byte("pushover:\n  enabled: true\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Pushover.AppToken != "dotenv-token" {
		t.Errorf("AppToken = %q, want dotenv-token", cfg.Pushover.AppToken)
	}
}

// ─── SaveConfig ─────────────────────────────────────────────────────────────

func TestSaveConfig_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	original := DefaultConfig()
	original.Server.Port = 8888
	original.Alerts.MinSeverity = "CRITICAL"

	if err := SaveConfig(original, path); err != nil {
		t.Fatalf("SaveConfig error: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig after save error: %v", err)
	}
	if loaded.Server.Port != 8888 {
		t.Errorf("Port = %d, want 8888", loaded.Server.Port)
	}
	if loaded.MinSeverityLevel() != SeverityCritical {
		t.Errorf("MinSeverity = %v, want CRITICAL", loaded.MinSeverityLevel())
	}
	if len(loaded.NetworkMonitoring.SuspiciousPorts) != 7 {
		t.Errorf("SuspiciousPorts = %v, want 7 entries", loaded.NetworkMonitoring.SuspiciousPorts)
	}
}

// ─── Validate ───────────────────────────────────────────────────────────────

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown method", func(c *Config) { c.Alerts.AlertMethod = "carrier-pigeon" }, "alert_method"},
		{"unknown severity", func(c *Config) { c.Alerts.MinSeverity = "SEVERE" }, "min_severity"},
		{"negative cooldown", func(c *Config) { c.Alerts.AlertCooldown = -1 }, "alert_cooldown"},
		{"zero interval", func(c *Config) { c.General.CheckInterval = 0 }, "check_interval"},
		{"bad regex", func(c *Config) { c.CodeAnalysis.MaliciousPatterns = StringList{"(unclosed"} }, "malicious_patterns"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tc.want)
			}
		})
	}
}

func TestChannelSelected(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.ChannelSelected("email") || !cfg.ChannelSelected("nats") {
		t.Error("method all should select every channel")
	}
	cfg.Alerts.AlertMethod = "Slack"
	if !cfg.ChannelSelected("slack") {
		t.Error("slack should be selected")
	}
	if cfg.ChannelSelected("email") {
		t.Error("email should not be selected when method is slack")
	}
}

// ─── LogLevel ────────────────────────────────────────────────────────────────

func TestLogLevel(t *testing.T) {
	cases := []struct{ in, want string }{
		{"INFO", "info"},
		{"DEBUG", "debug"},
		{"Warn", "warn"},
		{"", ""},
	}
	for _, tc := range cases {
		cfg := DefaultConfig()
		cfg.Logging.Level = tc.in
		if got := cfg.LogLevel(); got != tc.want {
			t.Errorf("LogLevel(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

// ─── AuthEnabled / ValidateAPIKey ────────────────────────────────────────────

func TestAuthEnabled(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.AuthEnabled() {
		t.Error("AuthEnabled should be false with no keys")
	}
	cfg.Server.APIKeys = []string{"key1"}
	if !cfg.AuthEnabled() {
		t.Error("AuthEnabled should be true with keys")
	}
}

func TestValidateAPIKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.APIKeys = []string{"correct-key", "another-key"}

	if !cfg.ValidateAPIKey("correct-key") {
		t.Error("should accept 'correct-key'")
	}
	if !cfg.ValidateAPIKey("another-key") {
		t.Error("should accept 'another-key'")
	}
	if cfg.ValidateAPIKey("wrong-key") {
		t.Error("should reject 'wrong-key'")
	}
	if cfg.ValidateAPIKey("") {
		t.Error("should reject empty key")
	}
	cfg.ValidateAPIKey(strings.Repeat("b", 10000))
}

func TestSeconds(t *testing.T) {
	if got := Seconds(0, 5*time.Second); got != 5*time.Second {
		t.Errorf("Seconds(0) = %v, want default", got)
	}
	if got := Seconds(3, time.Minute); got != 3*time.Second {
		t.Errorf("Seconds(3) = %v, want 3s", got)
	}
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatal(err)
	}
	return f.Name()
}

func TestLoadConfig_ShippedDefault(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "..", "configs", "default.yaml"))
	if err != nil {
		t.Fatalf("loading shipped config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("shipped config invalid: %v", err)
	}
	if !cfg.NetworkMonitoring.SuspiciousPorts.Contains(31337) {
		t.Errorf("suspicious_ports = %v", cfg.NetworkMonitoring.SuspiciousPorts)
	}
	if len(cfg.FileMonitoring.SuspiciousPatterns) != 3 || cfg.FileMonitoring.SuspiciousPatterns[0] != "*malware*" {
		t.Errorf("suspicious_patterns = %v", cfg.FileMonitoring.SuspiciousPatterns)
	}
	if cfg.Alerts.AlertCooldown != 300 || cfg.MinSeverityLevel() != SeverityMedium {
		t.Errorf("alerts = %+v", cfg.Alerts)
	}
}
