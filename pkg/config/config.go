package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Server struct {
	ListenAddress  string   `yaml:"listenAddress"`
	MetricsAddress string   `yaml:"metricsAddress"`
	TrustedProxies []string `yaml:"trustedProxies"` // IPs/CIDRs to trust for X-Forwarded-For headers
}

type Mail struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	User               string `yaml:"user"`
	Password           string `yaml:"password"`
	SenderAddress      string `yaml:"senderAddress"`
	SenderName         string `yaml:"senderName"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
}

// AlertSink configures the real-time alert destination for critical audit
// entries. Type is "log" or "kafka".
type AlertSink struct {
	Type    string   `yaml:"type"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	// RatePerSecond bounds how many alerts may be published per second;
	// excess alerts are dropped, never blocked on.
	RatePerSecond float64 `yaml:"ratePerSecond"`
	Burst         int     `yaml:"burst"`
}

type Audit struct {
	BufferSize     int       `yaml:"bufferSize"`
	RetentionYears int       `yaml:"retentionYears"`
	AlertSink      AlertSink `yaml:"alertSink"`
}

type Notifications struct {
	MaxAttempts int `yaml:"maxAttempts"`
	// BackoffBaseMs is the first retry delay in milliseconds; subsequent
	// delays double per attempt.
	BackoffBaseMs int `yaml:"backoffBaseMs"`
	QueueSize     int `yaml:"queueSize"`
	// SecurityRecipients receive break-glass and emergency access alerts.
	SecurityRecipients []string `yaml:"securityRecipients"`
	// AdminRecipients receive administrative notices such as consent
	// revocations.
	AdminRecipients []string `yaml:"adminRecipients"`
	WebhookURL      string   `yaml:"webhookURL"`
}

// Access carries the per-deployment tunables for the authorization layer:
// the role default table and the masking field lists. Both fall back to
// built-in tables when left empty.
type Access struct {
	// RoleDefaults maps a role to its default access level when a patient
	// has no explicit privacy preference (e.g. doctor: full, nurse: limited).
	RoleDefaults map[string]string `yaml:"roleDefaults"`
	// MaskedFields maps role -> dataType -> field names redacted at the
	// "limited" access level.
	MaskedFields map[string]map[string][]string `yaml:"maskedFields"`
}

type Postgres struct {
	DSN string `yaml:"dsn"`
}

type Config struct {
	Server        Server        `yaml:"server"`
	Mail          Mail          `yaml:"mail"`
	Audit         Audit         `yaml:"audit"`
	Notifications Notifications `yaml:"notifications"`
	Access        Access        `yaml:"access"`
	Postgres      Postgres      `yaml:"postgres"`
}

// Load loads the compliance core configuration from a file path.
// If configPath is empty, defaults to "./config.yaml". The path can also
// be overridden via the COMPLIANCE_CONFIG_PATH environment variable.
func Load(configPath ...string) (Config, error) {
	var path string

	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	} else if env := os.Getenv("COMPLIANCE_CONFIG_PATH"); env != "" {
		path = env
	} else {
		path = "./config.yaml"
	}

	var config Config

	content, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("trying to open compliance config file %s: %v", path, err)
	}

	err = yaml.Unmarshal(content, &config)
	if err != nil {
		return config, fmt.Errorf("error unmarshaling YAML %s: %v", path, err)
	}
	return config, nil
}

// Defaults fills in zero-valued fields with production defaults.
func (c *Config) Defaults() {
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = ":8080"
	}
	if c.Server.MetricsAddress == "" {
		c.Server.MetricsAddress = ":9090"
	}
	if c.Mail.Port == 0 {
		c.Mail.Port = 587
	}
	if c.Audit.BufferSize == 0 {
		c.Audit.BufferSize = 1000
	}
	if c.Audit.RetentionYears == 0 {
		c.Audit.RetentionYears = 6
	}
	if c.Audit.AlertSink.Type == "" {
		c.Audit.AlertSink.Type = "log"
	}
	if c.Audit.AlertSink.RatePerSecond == 0 {
		c.Audit.AlertSink.RatePerSecond = 10
	}
	if c.Audit.AlertSink.Burst == 0 {
		c.Audit.AlertSink.Burst = 50
	}
	if c.Notifications.MaxAttempts == 0 {
		c.Notifications.MaxAttempts = 3
	}
	if c.Notifications.BackoffBaseMs == 0 {
		c.Notifications.BackoffBaseMs = 1000
	}
	if c.Notifications.QueueSize == 0 {
		c.Notifications.QueueSize = 1000
	}
}

// BackoffBase returns the first retry delay as a duration.
func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.Notifications.BackoffBaseMs) * time.Millisecond
}
