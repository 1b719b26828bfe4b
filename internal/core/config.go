package core

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrConfigNotFound is returned when an explicitly named config file does
// not exist. Startup cannot continue without it.
var ErrConfigNotFound = errors.New("config file not found")

// Config holds the entire vigil configuration.
type Config struct {
	General            GeneralConfig            `yaml:"general"`
	ProcessMonitoring  ProcessMonitoringConfig  `yaml:"process_monitoring"`
	FileMonitoring     FileMonitoringConfig     `yaml:"file_monitoring"`
	CodeAnalysis       CodeAnalysisConfig       `yaml:"code_analysis"`
	EventMonitoring    EventMonitoringConfig    `yaml:"event_monitoring"`
	ResourceMonitoring ResourceMonitoringConfig `yaml:"resource_monitoring"`
	NetworkMonitoring  NetworkMonitoringConfig  `yaml:"network_monitoring"`
	Alerts             AlertConfig              `yaml:"alerts"`
	Email              EmailConfig              `yaml:"email"`
	Webhook            WebhookConfig            `yaml:"webhook"`
	Toast              ToastConfig              `yaml:"toast"`
	Telegram           TelegramConfig           `yaml:"telegram"`
	Discord            DiscordConfig            `yaml:"discord"`
	Slack              SlackConfig              `yaml:"slack"`
	WhatsApp           WhatsAppConfig           `yaml:"whatsapp"`
	Teams              TeamsConfig              `yaml:"teams"`
	Pushover           PushoverConfig           `yaml:"pushover"`
	NATS               NATSConfig               `yaml:"nats"`
	Performance        PerformanceConfig        `yaml:"performance"`
	Debugging          DebuggingConfig          `yaml:"debugging"`
	Logging            LoggingConfig            `yaml:"logging"`
	Server             ServerConfig             `yaml:"server"`
}

// GeneralConfig holds settings shared by every polling source.
type GeneralConfig struct {
	CheckInterval int    `yaml:"check_interval"` // seconds
	ErrorBackoff  int    `yaml:"error_backoff"`  // seconds to sleep after a failed cycle
	LogDir        string `yaml:"log_dir"`
}

// ProcessMonitoringConfig configures the process enumerator.
type ProcessMonitoringConfig struct {
	Enabled            bool       `yaml:"enabled"`
	Interval           int        `yaml:"interval"` // seconds; 0 uses general.check_interval
	SuspiciousNames    StringList `yaml:"suspicious_names"`
	SuspiciousPaths    StringList `yaml:"suspicious_paths"`
	MaliciousHashes    StringList `yaml:"malicious_hashes"`
	AnalyzeExecutables bool       `yaml:"analyze_executables"`
}

// FileMonitoringConfig configures the filesystem watcher and classifier limits.
type FileMonitoringConfig struct {
	Enabled            bool       `yaml:"enabled"`
	Paths              StringList `yaml:"paths"`
	CriticalExtensions StringList `yaml:"critical_extensions"`
	SuspiciousPatterns StringList `yaml:"suspicious_patterns"`
	MaxFileSize        int64      `yaml:"max_file_size"` // bytes
	ScanOnStart        bool       `yaml:"scan_on_start"`
}

// CodeAnalysisConfig configures the content heuristics of the classifier.
type CodeAnalysisConfig struct {
	MaliciousPatterns   StringList `yaml:"malicious_patterns"`
	SuspiciousStrings   StringList `yaml:"suspicious_strings"`
	EntropyThreshold    float64    `yaml:"entropy_threshold"`
	SystemProcessNames  StringList `yaml:"system_process_names"`
	SuspiciousLocations StringList `yaml:"suspicious_locations"`
}

// EventMonitoringConfig configures the event-log source.
type EventMonitoringConfig struct {
	Enabled             bool       `yaml:"enabled"`
	Interval            int        `yaml:"interval"`
	EventIDs            IntList    `yaml:"event_ids"`
	SpecificEventIDs    IntList    `yaml:"specific_event_ids"`
	Sources             StringList `yaml:"sources"`
	SearchAllIfNotFound bool       `yaml:"search_all_if_not_found"`
	ExportDir           string     `yaml:"export_dir"`
	MaxRecords          int        `yaml:"max_records"`
	Lookback            int        `yaml:"lookback"`
}

// ResourceMonitoringConfig configures the resource-metric sampler.
type ResourceMonitoringConfig struct {
	Enabled         bool       `yaml:"enabled"`
	Interval        int        `yaml:"interval"`
	CPUThreshold    float64    `yaml:"cpu_threshold"`
	MemoryThreshold float64    `yaml:"memory_threshold"`
	DiskThreshold   float64    `yaml:"disk_threshold"`
	DiskPaths       StringList `yaml:"disk_paths"`
}

// NetworkMonitoringConfig configures the connection scanner.
type NetworkMonitoringConfig struct {
	Enabled         bool    `yaml:"enabled"`
	Interval        int     `yaml:"interval"`
	SuspiciousPorts IntList `yaml:"suspicious_ports"`
}

// AlertConfig holds dispatcher settings.
type AlertConfig struct {
	AlertMethod    string `yaml:"alert_method"` // "all" or a single channel name
	MinSeverity    string `yaml:"min_severity"`
	AlertCooldown  int    `yaml:"alert_cooldown"`  // seconds
	ChannelTimeout int    `yaml:"channel_timeout"` // seconds, per channel send
	JoinTimeout    int    `yaml:"join_timeout"`    // seconds, whole fan-out
	MaxParallel    int    `yaml:"max_parallel"`
	HistorySize    int    `yaml:"history_size"`
}

// EmailConfig holds SMTP settings.
type EmailConfig struct {
	Enabled    bool       `yaml:"enabled"`
	SMTPServer string     `yaml:"smtp_server"`
	SMTPPort   int        `yaml:"smtp_port"`
	Username   string     `yaml:"username"`
	Password   string     `yaml:"password"`
	From       string     `yaml:"from"`
	To         StringList `yaml:"to"`
	StartTLS   bool       `yaml:"starttls"`
}

// WebhookConfig holds generic webhook settings.
type WebhookConfig struct {
	Enabled bool       `yaml:"enabled"`
	URLs    StringList `yaml:"urls"`
	Method  string     `yaml:"method"`
}

// ToastConfig holds desktop notification settings.
type ToastConfig struct {
	Enabled     bool   `yaml:"enabled"`
	FallbackDir string `yaml:"fallback_dir"`
	Timeout     int    `yaml:"timeout"` // seconds the toast stays visible
}

// TelegramConfig holds Telegram Bot API settings.
type TelegramConfig struct {
	Enabled    bool       `yaml:"enabled"`
	BotToken   string     `yaml:"bot_token"`
	ChatIDs    StringList `yaml:"chat_ids"`
	ParseMode  string     `yaml:"parse_mode"`
	APIBaseURL string     `yaml:"api_base_url"`
}

// DiscordConfig holds Discord webhook settings.
type DiscordConfig struct {
	Enabled     bool       `yaml:"enabled"`
	WebhookURLs StringList `yaml:"webhook_urls"`
	Username    string     `yaml:"username"`
}

// SlackConfig holds Slack incoming-webhook settings.
type SlackConfig struct {
	Enabled     bool       `yaml:"enabled"`
	WebhookURLs StringList `yaml:"webhook_urls"`
}

// WhatsAppConfig holds Twilio WhatsApp settings.
type WhatsAppConfig struct {
	Enabled    bool       `yaml:"enabled"`
	AccountSID string     `yaml:"account_sid"`
	AuthToken  string     `yaml:"auth_token"`
	FromNumber string     `yaml:"from_number"`
	ToNumbers  StringList `yaml:"to_numbers"`
	APIBaseURL string     `yaml:"api_base_url"`
}

// TeamsConfig holds Microsoft Teams webhook settings.
type TeamsConfig struct {
	Enabled     bool       `yaml:"enabled"`
	WebhookURLs StringList `yaml:"webhook_urls"`
}

// PushoverConfig holds Pushover settings.
type PushoverConfig struct {
	Enabled  bool       `yaml:"enabled"`
	AppToken string     `yaml:"app_token"`
	UserKeys StringList `yaml:"user_keys"`
	APIURL   string     `yaml:"api_url"`
}

// NATSConfig holds settings for publishing alerts on a NATS subject.
type NATSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Embedded      bool   `yaml:"embedded"`
	Port          int    `yaml:"port"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// PerformanceConfig holds classifier cache settings.
type PerformanceConfig struct {
	UseFileCache  bool `yaml:"use_file_cache"`
	CacheDuration int  `yaml:"cache_duration"` // seconds
	CacheSize     int  `yaml:"cache_size"`
}

// DebuggingConfig holds optional diagnostic outputs.
type DebuggingConfig struct {
	SaveResults bool `yaml:"save_results"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ServerConfig holds local status API settings.
type ServerConfig struct {
	Enabled bool     `yaml:"enabled"`
	Host    string   `yaml:"host"`
	Port    int      `yaml:"port"`
	APIKeys []string `yaml:"api_keys"`
}

// ChannelNames lists every channel name accepted by alerts.alert_method.
func ChannelNames() []string {
	return []string{"email", "webhook", "toast", "telegram", "discord", "slack", "whatsapp", "teams", "pushover", "nats"}
}

// DefaultConfig returns a Config with sane defaults. Every channel starts
// disabled; sources that need no configuration start enabled.
func DefaultConfig() *Config {
	return &Config{
		General: GeneralConfig{
			CheckInterval: 30,
			ErrorBackoff:  60,
			LogDir:        "logs",
		},
		ProcessMonitoring: ProcessMonitoringConfig{
			Enabled:            true,
			Interval:           15,
			SuspiciousNames:    StringList{"malware.exe", "suspicious.exe", "hack.exe", "keylogger.exe"},
			SuspiciousPaths:    StringList{"temp", "downloads", `appdata\local\temp`},
			AnalyzeExecutables: true,
		},
		FileMonitoring: FileMonitoringConfig{
			Enabled:            false,
			CriticalExtensions: StringList{".exe", ".dll", ".sys", ".bat", ".ps1", ".vbs"},
			SuspiciousPatterns: StringList{"*malware*", "*virus*", "*trojan*"},
			MaxFileSize:        52428800,
		},
		CodeAnalysis: CodeAnalysisConfig{
			MaliciousPatterns:   StringList{"CreateRemoteThread", "VirtualAllocEx", "WriteProcessMemory"},
			SuspiciousStrings:   StringList{"password", "admin", "exploit"},
			EntropyThreshold:    7.0,
			SystemProcessNames:  StringList{"svchost.exe", "winlogon.exe", "explorer.exe", "system.exe", "lsass.exe", "csrss.exe"},
			SuspiciousLocations: StringList{"temp", "downloads", "appdata"},
		},
		EventMonitoring: EventMonitoringConfig{
			Enabled:             false,
			Interval:            30,
			EventIDs:            IntList{1000, 7034, 7036, 4625, 4624},
			Sources:             StringList{"System", "Application", "Security"},
			SearchAllIfNotFound: true,
			ExportDir:           "eventlog",
			MaxRecords:          1000,
			Lookback:            300,
		},
		ResourceMonitoring: ResourceMonitoringConfig{
			Enabled:         true,
			Interval:        300,
			CPUThreshold:    90,
			MemoryThreshold: 90,
			DiskThreshold:   95,
			DiskPaths:       StringList{"/"},
		},
		NetworkMonitoring: NetworkMonitoringConfig{
			Enabled:         false,
			Interval:        120,
			SuspiciousPorts: IntList{4444, 5555, 6666, 7777, 8888, 31337, 12345},
		},
		Alerts: AlertConfig{
			AlertMethod:    "all",
			MinSeverity:    "MEDIUM",
			AlertCooldown:  300,
			ChannelTimeout: 8,
			JoinTimeout:    15,
			MaxParallel:    8,
			HistorySize:    500,
		},
		Email: EmailConfig{
			SMTPPort: 587,
			StartTLS: true,
		},
		Webhook: WebhookConfig{
			Method: "POST",
		},
		Toast: ToastConfig{
			Enabled: true,
			Timeout: 10,
		},
		Telegram: TelegramConfig{
			ParseMode:  "HTML",
			APIBaseURL: "https://api.telegram.org",
		},
		Discord: DiscordConfig{
			Username: "Vigil",
		},
		WhatsApp: WhatsAppConfig{
			APIBaseURL: "https://api.twilio.com",
		},
		Pushover: PushoverConfig{
			APIURL: "https://api.pushover.net/1/messages.json",
		},
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			Port:          4222,
			SubjectPrefix: "vigil.alerts",
		},
		Performance: PerformanceConfig{
			UseFileCache:  true,
			CacheDuration: 3600,
			CacheSize:     4096,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Server: ServerConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    1790,
		},
	}
}

// LoadConfig loads configuration from a YAML file on top of the defaults.
// An empty path returns the defaults. A .env file next to the config is
// loaded into the environment first so credentials can stay out of YAML.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		cfg.applyEnv()
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	envFile := filepath.Join(filepath.Dir(path), ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}
	cfg.applyEnv()

	return cfg, nil
}

// applyEnv fills credentials from VIGIL_* environment variables. Values
// already present in the file win.
func (c *Config) applyEnv() {
	setIfEmpty := func(dst *string, env string) {
		if *dst == "" {
			*dst = os.Getenv(env)
		}
	}
	setIfEmpty(&c.Email.Password, "VIGIL_SMTP_PASSWORD")
	setIfEmpty(&c.Telegram.BotToken, "VIGIL_TELEGRAM_BOT_TOKEN")
	setIfEmpty(&c.WhatsApp.AuthToken, "VIGIL_TWILIO_AUTH_TOKEN")
	setIfEmpty(&c.Pushover.AppToken, "VIGIL_PUSHOVER_TOKEN")

	if len(c.Server.APIKeys) == 0 {
		if envKey := os.Getenv("VIGIL_API_KEY"); envKey != "" {
			c.Server.APIKeys = []string{envKey}
		}
	}
}

// SaveConfig writes the configuration to a YAML file.
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// Validate reports the first configuration error that would make the
// monitor misbehave at runtime.
func (c *Config) Validate() error {
	method := strings.ToLower(strings.TrimSpace(c.Alerts.AlertMethod))
	if method != "all" && !containsString(ChannelNames(), method) {
		return fmt.Errorf("alerts.alert_method: unknown channel %q", c.Alerts.AlertMethod)
	}
	if _, ok := ParseSeverity(c.Alerts.MinSeverity); !ok {
		return fmt.Errorf("alerts.min_severity: unknown severity %q", c.Alerts.MinSeverity)
	}
	if c.Alerts.AlertCooldown < 0 {
		return fmt.Errorf("alerts.alert_cooldown must not be negative")
	}
	if c.General.CheckInterval <= 0 {
		return fmt.Errorf("general.check_interval must be positive")
	}
	if c.FileMonitoring.MaxFileSize <= 0 {
		return fmt.Errorf("file_monitoring.max_file_size must be positive")
	}
	for _, p := range c.CodeAnalysis.MaliciousPatterns {
		if _, err := regexp.Compile("(?i)" + p); err != nil {
			return fmt.Errorf("code_analysis.malicious_patterns: %q: %w", p, err)
		}
	}
	return nil
}

// MinSeverityLevel returns the parsed alerts.min_severity.
func (c *Config) MinSeverityLevel() Severity {
	sev, _ := ParseSeverity(c.Alerts.MinSeverity)
	return sev
}

// Cooldown returns alerts.alert_cooldown as a duration.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Alerts.AlertCooldown) * time.Second
}

// ChannelSelected reports whether alerts.alert_method routes to the channel.
func (c *Config) ChannelSelected(name string) bool {
	method := strings.ToLower(strings.TrimSpace(c.Alerts.AlertMethod))
	return method == "all" || method == name
}

// LogLevel returns the lower-cased log level string.
func (c *Config) LogLevel() string {
	return strings.ToLower(c.Logging.Level)
}

// AuthEnabled returns true if API key authentication is configured.
func (c *Config) AuthEnabled() bool {
	return len(c.Server.APIKeys) > 0
}

// ValidateAPIKey checks if the provided key matches any configured API key.
// Uses constant-time comparison to prevent timing attacks.
func (c *Config) ValidateAPIKey(key string) bool {
	for _, valid := range c.Server.APIKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(valid)) == 1 {
			return true
		}
	}
	return false
}

// Seconds converts a seconds setting to a duration, falling back to def
// when the setting is not positive.
func Seconds(n int, def time.Duration) time.Duration {
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

// StringList decodes either a YAML sequence or a comma-separated scalar.
type StringList []string

func (l *StringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		var items []string
		if err := value.Decode(&items); err != nil {
			return err
		}
		*l = cleanList(items)
	case yaml.ScalarNode:
		*l = cleanList(strings.Split(value.Value, ","))
	default:
		return fmt.Errorf("line %d: expected list or comma-separated string", value.Line)
	}
	return nil
}

// IntList decodes either a YAML sequence of integers or a comma-separated scalar.
type IntList []int

func (l *IntList) UnmarshalYAML(value *yaml.Node) error {
	var raw []string
	switch value.Kind {
	case yaml.SequenceNode:
		if err := value.Decode(&raw); err != nil {
			return err
		}
	case yaml.ScalarNode:
		raw = strings.Split(value.Value, ",")
	default:
		return fmt.Errorf("line %d: expected list or comma-separated integers", value.Line)
	}
	out := make(IntList, 0, len(raw))
	for _, s := range cleanList(raw) {
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("line %d: %q is not an integer", value.Line, s)
		}
		out = append(out, n)
	}
	*l = out
	return nil
}

// Contains reports whether n is in the list.
func (l IntList) Contains(n int) bool {
	for _, v := range l {
		if v == n {
			return true
		}
	}
	return false
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
