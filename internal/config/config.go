// Package config loads and validates bcryptcheck config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Supported values for HASH_DRIVER.
const (
	DriverGo   = "go"
	DriverNode = "node"
)

// Supported values for PACKAGE_MANAGER.
const (
	ManagerNPM  = "npm"
	ManagerYarn = "yarn"
	ManagerPNPM = "pnpm"
)

// Supported values for REPORT_FORMAT.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

const (
	minCost = 4
	maxCost = 31
)

// Config holds bcryptcheck configuration loaded from the environment.
type Config struct {
	// HashDriver selects the hashing capability under test: "node" (native addon) or "go" (x/crypto reference).
	HashDriver string `mapstructure:"HASH_DRIVER"`
	// NodeBinary is the node executable used by the node driver and the rebuild orchestrator.
	NodeBinary string `mapstructure:"NODE_BINARY"`
	// NodeModule is the package require()d by the node driver (e.g. bcrypt).
	NodeModule string `mapstructure:"NODE_MODULE"`
	// ProjectDir is the directory whose node_modules holds the native addon.
	ProjectDir string `mapstructure:"PROJECT_DIR"`
	// PackageManager is npm, yarn or pnpm; used by rebuild.
	PackageManager string `mapstructure:"PACKAGE_MANAGER"`

	// NominalCost is the cost factor for the round-trip and edge-case checks (default 10).
	NominalCost int `mapstructure:"NOMINAL_COST"`
	// LowCost and HighCost are the two cost factors used by the cost sensitivity check (default 4 and 12).
	LowCost  int `mapstructure:"LOW_COST"`
	HighCost int `mapstructure:"HIGH_COST"`
	// LatencyCost is the cost factor for the latency smoke check (default 10).
	LatencyCost int `mapstructure:"LATENCY_COST"`
	// LatencySamples is how many distinct plaintexts the latency check hashes (default 5).
	LatencySamples int `mapstructure:"LATENCY_SAMPLES"`

	// ReportFormat is text, json or yaml.
	ReportFormat string `mapstructure:"REPORT_FORMAT"`
	// GatePolicyFile is an optional Rego file replacing the default gate policy.
	GatePolicyFile string `mapstructure:"GATE_POLICY_FILE"`

	// DatabaseURL enables run history (postgres://… or sqlite://path). Empty disables it.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// OTLPEndpoint is the OTLP gRPC collector (e.g. localhost:4317). Empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// ServiceName is the OTel service.name resource attribute.
	ServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
	// LokiURL, when set, receives each run summary (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`

	// AttestPrivateKey is the PEM private key (or path) used to sign verdict attestations.
	AttestPrivateKey string `mapstructure:"ATTEST_PRIVATE_KEY"`
	// AttestPublicKey is the PEM public key (or path) used by "attest check".
	AttestPublicKey string `mapstructure:"ATTEST_PUBLIC_KEY"`
	// AttestIssuer is the iss claim of attestations.
	AttestIssuer string `mapstructure:"ATTEST_ISSUER"`
	// AttestTTL is the attestation lifetime (e.g. "24h").
	AttestTTL string `mapstructure:"ATTEST_TTL"`

	// LogLevel is a zap level name (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// Env is the deployment environment label attached to telemetry (e.g. "staging").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if any field is invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HASH_DRIVER", DriverNode)
	v.SetDefault("NODE_BINARY", "node")
	v.SetDefault("NODE_MODULE", "bcrypt")
	v.SetDefault("PROJECT_DIR", ".")
	v.SetDefault("PACKAGE_MANAGER", ManagerNPM)
	v.SetDefault("NOMINAL_COST", 10)
	v.SetDefault("LOW_COST", 4)
	v.SetDefault("HIGH_COST", 12)
	v.SetDefault("LATENCY_COST", 10)
	v.SetDefault("LATENCY_SAMPLES", 5)
	v.SetDefault("REPORT_FORMAT", FormatText)
	v.SetDefault("GATE_POLICY_FILE", "")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "bcryptcheck")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("ATTEST_PRIVATE_KEY", "")
	v.SetDefault("ATTEST_PUBLIC_KEY", "")
	v.SetDefault("ATTEST_ISSUER", "bcryptcheck")
	v.SetDefault("ATTEST_TTL", "24h")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	c.HashDriver = strings.ToLower(strings.TrimSpace(c.HashDriver))
	switch c.HashDriver {
	case DriverGo, DriverNode:
	default:
		return fmt.Errorf("config: HASH_DRIVER must be %q or %q, got %q", DriverGo, DriverNode, c.HashDriver)
	}

	c.PackageManager = strings.ToLower(strings.TrimSpace(c.PackageManager))
	switch c.PackageManager {
	case ManagerNPM, ManagerYarn, ManagerPNPM:
	default:
		return fmt.Errorf("config: PACKAGE_MANAGER must be npm, yarn or pnpm, got %q", c.PackageManager)
	}

	c.ReportFormat = strings.ToLower(strings.TrimSpace(c.ReportFormat))
	switch c.ReportFormat {
	case FormatText, FormatJSON, FormatYAML:
	default:
		return fmt.Errorf("config: REPORT_FORMAT must be text, json or yaml, got %q", c.ReportFormat)
	}

	if strings.TrimSpace(c.NodeModule) == "" {
		return errors.New("config: NODE_MODULE must be set")
	}

	costs := []struct {
		key string
		val int
	}{
		{"NOMINAL_COST", c.NominalCost},
		{"LOW_COST", c.LowCost},
		{"HIGH_COST", c.HighCost},
		{"LATENCY_COST", c.LatencyCost},
	}
	for _, cost := range costs {
		if cost.val < minCost || cost.val > maxCost {
			return fmt.Errorf("config: %s must be between %d and %d", cost.key, minCost, maxCost)
		}
	}
	if c.LowCost >= c.HighCost {
		return errors.New("config: LOW_COST must be lower than HIGH_COST")
	}
	if c.LatencySamples <= 0 {
		return errors.New("config: LATENCY_SAMPLES must be positive")
	}
	return nil
}

// AttestationTTL parses AttestTTL as a time.Duration. Returns 24h if unset or invalid.
func (c *Config) AttestationTTL() time.Duration {
	d, err := time.ParseDuration(c.AttestTTL)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// HistoryEnabled reports whether run history should be recorded.
func (c *Config) HistoryEnabled() bool {
	return c != nil && strings.TrimSpace(c.DatabaseURL) != ""
}
