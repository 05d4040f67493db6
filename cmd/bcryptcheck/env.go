package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"bcryptcheck/internal/capability"
	"bcryptcheck/internal/config"
	"bcryptcheck/internal/envprobe"
	"bcryptcheck/internal/gate"
)

// envReport is what "bcryptcheck env" prints in structured formats.
type envReport struct {
	Driver      string                `json:"driver" yaml:"driver"`
	Environment envprobe.Environment  `json:"environment" yaml:"environment"`
	Mismatches  []string              `json:"mismatches,omitempty" yaml:"mismatches,omitempty"`
	LoadError   string                `json:"load_error,omitempty" yaml:"load_error,omitempty"`
	Diagnosis   *capability.Diagnosis `json:"diagnosis,omitempty" yaml:"diagnosis,omitempty"`
	GateEngine  string                `json:"gate_engine" yaml:"gate_engine"`
}

func newEnvCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Show the host platform and the runtime backing the hashing capability",
		Long: `Loads the hashing capability only far enough to learn its runtime, then prints the host and
runtime platforms side by side. A load failure is diagnosed instead of failing the command.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format == "" {
				format = a.cfg.ReportFormat
			}
			rep := envReport{Driver: a.cfg.HashDriver}
			var rt capability.RuntimeInfo
			c, err := a.loader()(cmd.Context())
			if err != nil {
				d := capability.Diagnose(err)
				rep.LoadError = err.Error()
				rep.Diagnosis = &d
			} else {
				rt = c.Runtime()
				if cerr := c.Close(); cerr != nil {
					a.logger.Warn("env: close capability", zap.Error(cerr))
				}
			}
			rep.Environment = envprobe.Probe(rt)
			rep.Mismatches = rep.Environment.Mismatches()
			rep.GateEngine = "ok"
			if err := gate.NewEvaluator(a.logger).HealthCheck(cmd.Context()); err != nil {
				rep.GateEngine = err.Error()
			}
			return a.writeEnv(rep, format)
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "output format: text, json or yaml (default REPORT_FORMAT)")
	return cmd
}

func (a *app) writeEnv(rep envReport, format string) error {
	switch strings.ToLower(format) {
	case config.FormatJSON:
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	case config.FormatYAML:
		enc := yaml.NewEncoder(a.stdout)
		enc.SetIndent(2)
		if err := enc.Encode(rep); err != nil {
			return err
		}
		return enc.Close()
	case "", config.FormatText:
	default:
		return fmt.Errorf("env: unknown format %q", format)
	}

	w := a.stdout
	fmt.Fprintf(w, "driver:   %s\n", rep.Driver)
	fmt.Fprintf(w, "host:     %s\n", rep.Environment.Summary())
	fmt.Fprintf(w, "gate:     %s\n", rep.GateEngine)
	for _, m := range rep.Mismatches {
		fmt.Fprintf(w, "mismatch: %s\n", m)
	}
	if rep.Diagnosis != nil {
		fmt.Fprintf(w, "load:     %s: %s\n", rep.Diagnosis.Kind, rep.Diagnosis.Summary)
		if rep.Diagnosis.Remedy != "" {
			fmt.Fprintf(w, "remedy:   %s\n", rep.Diagnosis.Remedy)
		}
	}
	return nil
}
