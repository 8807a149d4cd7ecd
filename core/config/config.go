package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// WhatsAppConfig holds Meta Cloud API settings for the bot's messaging channel.
type WhatsAppConfig struct {
	Token         string `yaml:"token" envconfig:"WHATSAPP_TOKEN"`
	PhoneNumberID string `yaml:"phone_number_id" envconfig:"WHATSAPP_PHONE_NUMBER_ID"`
	VerifyToken   string `yaml:"verify_token" envconfig:"WHATSAPP_VERIFY_TOKEN"`
	AppSecret     string `yaml:"app_secret" envconfig:"WHATSAPP_APP_SECRET"`
	// APIBaseURL overrides the Graph API endpoint, used in tests and local mocks.
	APIBaseURL string `yaml:"api_base_url" envconfig:"WHATSAPP_API_BASE_URL"`
	APIVersion string `yaml:"api_version" envconfig:"WHATSAPP_API_VERSION"`
}

// HTTPConfig specifies the webhook listener.
type HTTPConfig struct {
	Listen string `yaml:"listen" envconfig:"HTTP_LISTEN"`
	Port   int    `yaml:"port" envconfig:"HTTP_PORT"`
	// PublicURL is used to build the deletion status lookup link.
	PublicURL string `yaml:"public_url" envconfig:"HTTP_PUBLIC_URL"`
}

// DirectoryConfig holds CardDAV (Radicale) contact sync settings.
type DirectoryConfig struct {
	URL         string `yaml:"url" envconfig:"DIRECTORY_URL"`
	User        string `yaml:"user" envconfig:"DIRECTORY_USER"`
	Password    string `yaml:"password" envconfig:"DIRECTORY_PASSWORD"`
	Addressbook string `yaml:"addressbook" envconfig:"DIRECTORY_ADDRESSBOOK"`
}

// SMTPConfig holds owner notification mail settings.
type SMTPConfig struct {
	Host     string `yaml:"host" envconfig:"SMTP_HOST"`
	Port     int    `yaml:"port" envconfig:"SMTP_PORT"`
	User     string `yaml:"user" envconfig:"SMTP_USER"`
	Password string `yaml:"password" envconfig:"SMTP_PASSWORD"`
	From     string `yaml:"from" envconfig:"SMTP_FROM"`
	To       string `yaml:"to" envconfig:"SMTP_TO"`
}

// ContactConfig carries the owner contact details rendered into menu texts.
type ContactConfig struct {
	Mobile   string `yaml:"mobile" envconfig:"CONTACT_MOBILE"`
	Landline string `yaml:"landline" envconfig:"CONTACT_LANDLINE"`
	Email    string `yaml:"email" envconfig:"CONTACT_EMAIL"`
}

// LimitsConfig holds sliding-window quota thresholds per class.
type LimitsConfig struct {
	InboundPerSenderHour int `yaml:"inbound_per_sender_hour" envconfig:"RATE_INBOUND_PER_SENDER_HOUR"`
	InboundGlobalHour    int `yaml:"inbound_global_hour" envconfig:"RATE_INBOUND_GLOBAL_HOUR"`
	SMSPerSenderDay      int `yaml:"sms_per_sender_day" envconfig:"RATE_SMS_PER_SENDER_DAY"`
	SMSGlobalDay         int `yaml:"sms_global_day" envconfig:"RATE_SMS_GLOBAL_DAY"`
	EmailPerSenderDay    int `yaml:"email_per_sender_day" envconfig:"RATE_EMAIL_PER_SENDER_DAY"`
	EmailGlobalDay       int `yaml:"email_global_day" envconfig:"RATE_EMAIL_GLOBAL_DAY"`
	CallbacksPerDay      int `yaml:"callbacks_per_day" envconfig:"RATE_CALLBACKS_PER_DAY"`
	// SweepIntervalMinutes controls the periodic expired-entry sweep; 0 disables it.
	SweepIntervalMinutes int `yaml:"sweep_interval_minutes" envconfig:"RATE_SWEEP_INTERVAL_MINUTES"`
}

// SenderConfig tunes the asynchronous outbound dispatcher.
type SenderConfig struct {
	QueueSize      int `yaml:"queue_size" envconfig:"SENDER_QUEUE_SIZE"`
	Workers        int `yaml:"workers" envconfig:"SENDER_WORKERS"`
	MaxRetries     int `yaml:"max_retries" envconfig:"SENDER_MAX_RETRIES"`
	RetryBackoffMS int `yaml:"retry_backoff_ms" envconfig:"SENDER_RETRY_BACKOFF_MS"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir"`
	BotFile     string `yaml:"bot_file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile"`
}

// DatabaseConfig holds PostgreSQL connection settings.
// It is mapped onto core/database.Config during bootstrap to keep this
// package free of infrastructure imports.
type DatabaseConfig struct {
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
}

// Config aggregates the full service configuration.
type Config struct {
	WhatsApp  WhatsAppConfig  `yaml:"whatsapp"`
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Directory DirectoryConfig `yaml:"directory"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	Contact   ContactConfig   `yaml:"contact"`
	Limits    LimitsConfig    `yaml:"limits"`
	Sender    SenderConfig    `yaml:"sender"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize performs basic validation of required configuration fields and adjusts defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if strings.TrimSpace(cfg.WhatsApp.Token) == "" {
		return fmt.Errorf("whatsapp.token is required")
	}
	if strings.TrimSpace(cfg.WhatsApp.PhoneNumberID) == "" {
		return fmt.Errorf("whatsapp.phone_number_id is required")
	}
	if strings.TrimSpace(cfg.WhatsApp.VerifyToken) == "" {
		return fmt.Errorf("whatsapp.verify_token is required")
	}
	if cfg.WhatsApp.APIVersion == "" {
		cfg.WhatsApp.APIVersion = "v18.0"
	}
	if cfg.WhatsApp.APIBaseURL == "" {
		cfg.WhatsApp.APIBaseURL = "https://graph.facebook.com"
	}
	cfg.WhatsApp.APIBaseURL = strings.TrimRight(cfg.WhatsApp.APIBaseURL, "/")

	if cfg.HTTP.Listen == "" {
		cfg.HTTP.Listen = "0.0.0.0"
	}
	if cfg.HTTP.Port <= 0 {
		cfg.HTTP.Port = 8080
	}
	cfg.HTTP.PublicURL = strings.TrimRight(strings.TrimSpace(cfg.HTTP.PublicURL), "/")

	normalizeLimits(&cfg.Limits)
	normalizeSender(&cfg.Sender)

	if cfg.Directory.Addressbook == "" {
		cfg.Directory.Addressbook = "contacts"
	}
	if cfg.SMTP.Port <= 0 {
		cfg.SMTP.Port = 587
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxConnections <= 0 {
		cfg.Database.MaxConnections = 10
	}

	return nil
}

func normalizeLimits(l *LimitsConfig) {
	if l.InboundPerSenderHour <= 0 {
		l.InboundPerSenderHour = 30
	}
	if l.InboundGlobalHour <= 0 {
		l.InboundGlobalHour = 600
	}
	if l.SMSPerSenderDay <= 0 {
		l.SMSPerSenderDay = 3
	}
	if l.SMSGlobalDay <= 0 {
		l.SMSGlobalDay = 50
	}
	if l.EmailPerSenderDay <= 0 {
		l.EmailPerSenderDay = 3
	}
	if l.EmailGlobalDay <= 0 {
		l.EmailGlobalDay = 100
	}
	if l.CallbacksPerDay <= 0 {
		l.CallbacksPerDay = 2
	}
	if l.SweepIntervalMinutes < 0 {
		l.SweepIntervalMinutes = 0
	}
}

func normalizeSender(s *SenderConfig) {
	if s.QueueSize <= 0 {
		s.QueueSize = 256
	}
	if s.Workers <= 0 {
		s.Workers = 4
	}
	if s.MaxRetries < 0 {
		s.MaxRetries = 0
	}
	if s.RetryBackoffMS <= 0 {
		s.RetryBackoffMS = 2000
	}
}

// SweepInterval returns the configured quota sweep interval as a duration.
func (l LimitsConfig) SweepInterval() time.Duration {
	return time.Duration(l.SweepIntervalMinutes) * time.Minute
}

// RetryBackoff returns the dispatcher retry backoff as a duration.
func (s SenderConfig) RetryBackoff() time.Duration {
	return time.Duration(s.RetryBackoffMS) * time.Millisecond
}
