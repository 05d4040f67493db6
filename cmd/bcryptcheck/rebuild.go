package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"bcryptcheck/internal/rebuild"
)

type rebuildFlags struct {
	project  string
	pkg      string
	manager  string
	dryRun   bool
	verify   bool
	format   string
	attestTo string
}

func newRebuildCmd(a *app) *cobra.Command {
	f := &rebuildFlags{}
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the native addon from source, then verify it",
		Long: `Removes the installed addon, clears the package manager cache and reinstalls the addon with
npm_config_build_from_source=true so it is compiled for this host. Missing build tools are reported as
warnings; the first failing step stops the rebuild.

By default the verification battery runs afterwards and decides the exit code.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.rebuild(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.project, "project", "", "project directory holding node_modules (default PROJECT_DIR)")
	cmd.Flags().StringVar(&f.pkg, "package", "", "addon package to rebuild (default NODE_MODULE)")
	cmd.Flags().StringVar(&f.manager, "pm", "", "package manager: npm, yarn or pnpm (default PACKAGE_MANAGER)")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "print the plan without running it")
	cmd.Flags().BoolVar(&f.verify, "verify", true, "run verification after a successful rebuild")
	cmd.Flags().StringVar(&f.format, "format", "", "report format for the verification run")
	cmd.Flags().StringVar(&f.attestTo, "attest-out", "", "write a signed attestation of the verification verdict")
	return cmd
}

func (a *app) rebuild(cmd *cobra.Command, f *rebuildFlags) error {
	if f.verify {
		if _, err := a.reportFormat(f.format); err != nil {
			return err
		}
	}
	opts := rebuild.Options{
		ProjectDir: firstNonEmpty(f.project, a.cfg.ProjectDir),
		Package:    firstNonEmpty(f.pkg, a.cfg.NodeModule),
		Manager:    firstNonEmpty(f.manager, a.cfg.PackageManager),
	}
	steps, err := rebuild.Plan(opts)
	if err != nil {
		return err
	}
	if f.dryRun {
		return rebuild.WritePlan(a.stdout, steps)
	}

	out, err := rebuild.NewOrchestrator(nil, a.logger).Run(cmd.Context(), steps)
	for _, w := range out.Warnings {
		fmt.Fprintf(a.stderr, "warning: %s\n", w)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "rebuilt %s in %s (%d steps)\n", opts.Package, opts.ProjectDir, out.Completed)
	if !f.verify {
		return nil
	}
	// The rebuilt addon lives where the rebuild ran.
	a.cfg.ProjectDir = opts.ProjectDir
	a.cfg.NodeModule = opts.Package
	return a.verify(cmd, &verifyFlags{format: f.format, attestOut: f.attestTo})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
