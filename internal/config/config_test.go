package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load returned nil config")
	}
	if cfg.HashDriver != DriverNode {
		t.Errorf("HashDriver = %q, want %q", cfg.HashDriver, DriverNode)
	}
	if cfg.NodeBinary != "node" {
		t.Errorf("NodeBinary = %q, want %q", cfg.NodeBinary, "node")
	}
	if cfg.NodeModule != "bcrypt" {
		t.Errorf("NodeModule = %q, want %q", cfg.NodeModule, "bcrypt")
	}
	if cfg.PackageManager != ManagerNPM {
		t.Errorf("PackageManager = %q, want %q", cfg.PackageManager, ManagerNPM)
	}
	if cfg.NominalCost != 10 || cfg.LowCost != 4 || cfg.HighCost != 12 || cfg.LatencyCost != 10 {
		t.Errorf("costs = %d/%d/%d/%d, want 10/4/12/10", cfg.NominalCost, cfg.LowCost, cfg.HighCost, cfg.LatencyCost)
	}
	if cfg.LatencySamples != 5 {
		t.Errorf("LatencySamples = %d, want 5", cfg.LatencySamples)
	}
	if cfg.ReportFormat != FormatText {
		t.Errorf("ReportFormat = %q, want %q", cfg.ReportFormat, FormatText)
	}
	if cfg.ServiceName != "bcryptcheck" {
		t.Errorf("ServiceName = %q, want %q", cfg.ServiceName, "bcryptcheck")
	}
	if cfg.AttestIssuer != "bcryptcheck" {
		t.Errorf("AttestIssuer = %q, want %q", cfg.AttestIssuer, "bcryptcheck")
	}
	if cfg.HistoryEnabled() {
		t.Error("HistoryEnabled should default to false")
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	os.Clearenv()
	os.Setenv("HASH_DRIVER", "GO")
	os.Setenv("PACKAGE_MANAGER", "pnpm")
	os.Setenv("NOMINAL_COST", "11")
	os.Setenv("REPORT_FORMAT", "json")
	os.Setenv("DATABASE_URL", "sqlite:///tmp/bcryptcheck.db")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HashDriver != DriverGo {
		t.Errorf("HashDriver = %q, want %q", cfg.HashDriver, DriverGo)
	}
	if cfg.PackageManager != ManagerPNPM {
		t.Errorf("PackageManager = %q, want %q", cfg.PackageManager, ManagerPNPM)
	}
	if cfg.NominalCost != 11 {
		t.Errorf("NominalCost = %d, want 11", cfg.NominalCost)
	}
	if cfg.ReportFormat != FormatJSON {
		t.Errorf("ReportFormat = %q, want %q", cfg.ReportFormat, FormatJSON)
	}
	if !cfg.HistoryEnabled() {
		t.Error("HistoryEnabled should be true when DATABASE_URL is set")
	}
}

func TestLoad_CostRange(t *testing.T) {
	testCases := []struct {
		name  string
		key   string
		value string
		err   bool
	}{
		{"nominal min", "NOMINAL_COST", "4", false},
		{"nominal max", "NOMINAL_COST", "31", false},
		{"nominal too low", "NOMINAL_COST", "3", true},
		{"nominal too high", "NOMINAL_COST", "32", true},
		{"latency too low", "LATENCY_COST", "0", true},
		{"high too high", "HIGH_COST", "40", true},
		{"low equals high", "LOW_COST", "12", true},
		{"low above high", "LOW_COST", "13", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			os.Clearenv()
			os.Setenv(tc.key, tc.value)

			cfg, err := Load()
			if tc.err {
				if err == nil {
					t.Fatal("Load should return error")
				}
				if cfg != nil {
					t.Error("Load should return nil config on error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
		})
	}
}

func TestLoad_InvalidEnums(t *testing.T) {
	testCases := []struct {
		key     string
		value   string
		wantMsg string
	}{
		{"HASH_DRIVER", "rust", "HASH_DRIVER"},
		{"PACKAGE_MANAGER", "bun", "PACKAGE_MANAGER"},
		{"REPORT_FORMAT", "xml", "REPORT_FORMAT"},
		{"LATENCY_SAMPLES", "0", "LATENCY_SAMPLES"},
		{"NODE_MODULE", "  ", "NODE_MODULE"},
	}

	for _, tc := range testCases {
		t.Run(tc.key, func(t *testing.T) {
			os.Clearenv()
			os.Setenv(tc.key, tc.value)

			_, err := Load()
			if err == nil {
				t.Fatalf("Load with %s=%q should return error", tc.key, tc.value)
			}
			if !strings.Contains(err.Error(), tc.wantMsg) {
				t.Errorf("error = %q, want mention of %s", err.Error(), tc.wantMsg)
			}
		})
	}
}

func TestAttestationTTL(t *testing.T) {
	testCases := []struct {
		value string
		want  time.Duration
	}{
		{"1h", time.Hour},
		{"invalid", 24 * time.Hour},
		{"0", 24 * time.Hour},
		{"-5m", 24 * time.Hour},
	}

	for _, tc := range testCases {
		t.Run(tc.value, func(t *testing.T) {
			os.Clearenv()
			os.Setenv("ATTEST_TTL", tc.value)

			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if got := cfg.AttestationTTL(); got != tc.want {
				t.Errorf("AttestationTTL = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestHistoryEnabled_NilConfig(t *testing.T) {
	var cfg *Config
	if cfg.HistoryEnabled() {
		t.Error("nil config should not enable history")
	}
}
