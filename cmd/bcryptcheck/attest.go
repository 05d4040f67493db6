package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"bcryptcheck/internal/attest"
)

func newAttestCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attest",
		Short: "Work with signed verification attestations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <file>",
		Short: "Exit 0 only for a valid, unexpired, passing attestation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.AttestPublicKey == "" {
				return errors.New("attest: ATTEST_PUBLIC_KEY is not set")
			}
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("attest: %w", err)
			}
			pub, err := attest.ParsePublicKey(a.cfg.AttestPublicKey)
			if err != nil {
				return err
			}
			v, err := attest.NewVerifier(pub, a.cfg.AttestIssuer)
			if err != nil {
				return err
			}
			claims, err := v.Check(strings.TrimSpace(string(raw)))
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "valid: run %s on %s (%s) verdict %s, %d passed, expires %s\n",
				claims.RunID, claims.Subject, claims.HostPlatform, claims.Verdict, claims.Passed,
				claims.ExpiresAt.Time.UTC().Format(time.RFC3339))
			return nil
		},
	})
	return cmd
}
