package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Server holds the HTTP server configuration.
type Server struct {
	ListenAddress  string   `yaml:"listenAddress"`
	TLSCertFile    string   `yaml:"tlsCertFile"`
	TLSKeyFile     string   `yaml:"tlsKeyFile"`
	TrustedProxies []string `yaml:"trustedProxies"`
}

// Auth configures the reviewer-facing bearer token middleware.
// The signing secret is resolved through an environment variable so that
// secrets never land in the config file itself.
type Auth struct {
	// SecretEnv names the environment variable holding the HMAC secret used to
	// validate reviewer JWTs. Empty disables auth (tests and local development only).
	SecretEnv string `yaml:"secretEnv"`
	// Issuer is the expected "iss" claim. Empty skips the issuer check.
	Issuer string `yaml:"issuer"`
}

// Capability configures the capability token authority.
type Capability struct {
	// SigningKeyEnv names the environment variable holding the server MAC key.
	// The authority refuses to start without a non-empty key.
	SigningKeyEnv string `yaml:"signingKeyEnv"`
	// DefaultTTLSeconds applies when a mint request omits ttl_seconds. Defaults to 3600.
	DefaultTTLSeconds int64 `yaml:"defaultTTLSeconds"`
	// SweepInterval controls the periodic cleanup of expired cache entries (e.g. "5m").
	SweepInterval string `yaml:"sweepInterval"`
}

// EscalationPolicy is the YAML shape of one escalation policy. Order in the
// file is priority order: the first matching policy wins.
type EscalationPolicy struct {
	Name                string   `yaml:"name"`
	ConfidenceThreshold float64  `yaml:"confidenceThreshold"`
	Severities          []string `yaml:"severities"`
	RiskCategories      []string `yaml:"riskCategories"`
	Complexity          string   `yaml:"complexity"`
	HumanRoles          []string `yaml:"humanRoles"`
	TimeoutMs           int64    `yaml:"timeoutMs"`
	FallbackAction      string   `yaml:"fallbackAction"`
}

// Mail configures reviewer notifications. Disabled unless Host is set.
type Mail struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	User               string `yaml:"user"`
	Password           string `yaml:"password"`
	SenderAddress      string `yaml:"senderAddress"`
	SenderName         string `yaml:"senderName"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
	RetryCount         int    `yaml:"retryCount"`
	RetryBackoffMs     int    `yaml:"retryBackoffMs"`
	// RoleRecipients maps a human role to notification addresses.
	RoleRecipients map[string][]string `yaml:"roleRecipients"`
}

// AuditSink configures one audit event destination.
type AuditSink struct {
	Name string `yaml:"name"`
	// Type is one of "log", "webhook", "kafka".
	Type string `yaml:"type"`

	// Webhook sink settings
	URL            string            `yaml:"url"`
	Headers        map[string]string `yaml:"headers"`
	TimeoutSeconds int               `yaml:"timeoutSeconds"`

	// Kafka sink settings
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Audit configures the audit trail.
type Audit struct {
	Enabled bool        `yaml:"enabled"`
	Sinks   []AuditSink `yaml:"sinks"`
}

// Config is the root oversight service configuration.
type Config struct {
	Server     Server             `yaml:"server"`
	Auth       Auth               `yaml:"auth"`
	Capability Capability         `yaml:"capability"`
	Policies   []EscalationPolicy `yaml:"policies"`
	Mail       Mail               `yaml:"mail"`
	Audit      Audit              `yaml:"audit"`
}

// DefaultPolicies returns the escalation policies shipped when the config file
// defines none. Order matters: critical security findings are matched before
// compliance reviews.
func DefaultPolicies() []EscalationPolicy {
	return []EscalationPolicy{
		{
			Name:                "critical_security",
			ConfidenceThreshold: 0.7,
			Severities:          []string{"critical", "high"},
			RiskCategories:      []string{"data_breach", "auth_bypass", "rce"},
			Complexity:          "high",
			HumanRoles:          []string{"senior_security_analyst", "security_lead"},
			TimeoutMs:           300000,
			FallbackAction:      "defer",
		},
		{
			Name:                "compliance_review",
			ConfidenceThreshold: 0.8,
			Severities:          []string{"high", "medium"},
			RiskCategories:      []string{"gdpr", "hipaa", "pci"},
			Complexity:          "medium",
			HumanRoles:          []string{"compliance_officer"},
			TimeoutMs:           600000,
			FallbackAction:      "auto_reject",
		},
	}
}

// Load loads the oversight configuration from a file path.
// If configPath is empty, defaults to "./config.yaml". The path can also be
// overridden via the OVERSIGHT_CONFIG_PATH environment variable.
func Load(configPath ...string) (Config, error) {
	var path string
	switch {
	case len(configPath) > 0 && configPath[0] != "":
		path = configPath[0]
	case os.Getenv("OVERSIGHT_CONFIG_PATH") != "":
		path = os.Getenv("OVERSIGHT_CONFIG_PATH")
	default:
		path = "./config.yaml"
	}

	var config Config
	content, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("trying to open oversight config file %s: %v", path, err)
	}
	if err := yaml.Unmarshal(content, &config); err != nil {
		return config, fmt.Errorf("error unmarshaling YAML %s: %v", path, err)
	}
	applyDefaults(&config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.Server.ListenAddress == "" {
		config.Server.ListenAddress = ":8080"
	}
	if config.Capability.SigningKeyEnv == "" {
		config.Capability.SigningKeyEnv = "OVERSIGHT_SIGNING_KEY"
	}
	if config.Capability.DefaultTTLSeconds <= 0 {
		config.Capability.DefaultTTLSeconds = 3600
	}
	if config.Capability.SweepInterval == "" {
		config.Capability.SweepInterval = "5m"
	}
	if len(config.Policies) == 0 {
		config.Policies = DefaultPolicies()
	}
}

// ParsedSweepInterval parses the capability sweep interval, falling back to
// 5 minutes when the configured value is missing or malformed.
func (c Capability) ParsedSweepInterval() time.Duration {
	d, err := time.ParseDuration(c.SweepInterval)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// SigningKey resolves the capability signing key from the environment.
func (c Capability) SigningKey() string {
	return os.Getenv(c.SigningKeyEnv)
}

// AuthSecret resolves the reviewer JWT secret from the environment.
func (a Auth) AuthSecret() string {
	if a.SecretEnv == "" {
		return ""
	}
	return os.Getenv(a.SecretEnv)
}
