package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bcryptcheck/internal/attest"
	"bcryptcheck/internal/config"
	"bcryptcheck/internal/gate"
	"bcryptcheck/internal/report"
	"bcryptcheck/internal/telemetry"
	"bcryptcheck/internal/verify"
)

type verifyFlags struct {
	format    string
	attestOut string
}

func newVerifyCmd(a *app) *cobra.Command {
	f := &verifyFlags{}
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Run the verification battery and gate on the result",
		Long: `Loads the hashing capability, runs every check in order, evaluates the gate policy and prints
a report. Exits 0 only when every check passed and the gate allowed the run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.verify(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.format, "format", "", "report format: text, json or yaml (default REPORT_FORMAT)")
	cmd.Flags().StringVar(&f.attestOut, "attest-out", "", "write a signed attestation of the verdict to this file")
	return cmd
}

func (a *app) verify(cmd *cobra.Command, f *verifyFlags) error {
	ctx := cmd.Context()
	format, err := a.reportFormat(f.format)
	if err != nil {
		return err
	}

	var signer *attest.Signer
	if f.attestOut != "" {
		s, err := a.signer()
		if err != nil {
			return err
		}
		signer = s
	}
	evaluator, err := gate.LoadFile(a.cfg.GatePolicyFile, a.logger)
	if err != nil {
		return err
	}

	dispatcher, shutdown := a.telemetry(ctx)
	defer shutdown()
	recorder, closeHistory := a.recorder()
	defer closeHistory()

	runner := verify.NewRunner(verify.Options{
		NominalCost:    a.cfg.NominalCost,
		LowCost:        a.cfg.LowCost,
		HighCost:       a.cfg.HighCost,
		LatencyCost:    a.cfg.LatencyCost,
		LatencySamples: a.cfg.LatencySamples,
		Driver:         a.cfg.HashDriver,
		Logger:         a.logger,
	})
	res := runner.Run(ctx, a.loader())
	decision := evaluator.Evaluate(ctx, res)

	if err := report.Render(a.stdout, res, &decision, format); err != nil {
		return err
	}

	// Sinks run even when the run was interrupted so the failure is on record.
	dispatcher.EmitAsync(ctx, telemetry.NewCompletedEvent(res, &decision, a.cfg.Env))
	recorder.Record(context.WithoutCancel(ctx), res, &decision)

	if signer != nil {
		token, claims, err := signer.Sign(res, decision.Allow)
		if err != nil {
			return err
		}
		if err := os.WriteFile(f.attestOut, []byte(token+"\n"), 0o644); err != nil {
			return fmt.Errorf("attest: write %s: %w", f.attestOut, err)
		}
		a.logger.Info("attest: wrote attestation", zap.String("path", f.attestOut), zap.String("verdict", claims.Verdict))
	}

	if !decision.Allow {
		return errGateDenied
	}
	return nil
}

func (a *app) signer() (*attest.Signer, error) {
	if a.cfg.AttestPrivateKey == "" {
		return nil, fmt.Errorf("attest: --attest-out needs ATTEST_PRIVATE_KEY")
	}
	key, err := attest.ParsePrivateKey(a.cfg.AttestPrivateKey)
	if err != nil {
		return nil, err
	}
	return attest.NewSigner(key, a.cfg.AttestIssuer, a.cfg.AttestationTTL())
}

// reportFormat resolves --format against REPORT_FORMAT and rejects unknown values before any work is done.
func (a *app) reportFormat(flag string) (string, error) {
	if flag == "" {
		return a.cfg.ReportFormat, nil
	}
	format := strings.ToLower(strings.TrimSpace(flag))
	switch format {
	case config.FormatText, config.FormatJSON, config.FormatYAML:
		return format, nil
	default:
		return "", fmt.Errorf("report: unknown format %q (want text, json or yaml)", flag)
	}
}
