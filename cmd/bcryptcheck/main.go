// bcryptcheck verifies that the bcrypt native addon works on this host and gates a deployment on the result.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"bcryptcheck/internal/config"
)

// errGateDenied is returned when the run completed but must not gate the deployment through. The report has
// already been written, so main exits 1 without printing it again.
var errGateDenied = errors.New("verification failed")

// app carries state shared by the subcommands of one invocation.
type app struct {
	verbose bool
	cfg     *config.Config
	logger  *zap.Logger
	stdout  io.Writer
	stderr  io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the CLI and returns the process exit code: 0 when verification passed (or a non-verify command
// succeeded), 1 otherwise.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errGateDenied):
		return 1
	default:
		fmt.Fprintln(stderr, "bcryptcheck:", err)
		return 1
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr, logger: zap.NewNop()}
	verify := newVerifyCmd(a)

	root := &cobra.Command{
		Use:   "bcryptcheck",
		Short: "Verify the bcrypt native addon on this host before deploying",
		Long: `bcryptcheck loads the bcrypt hashing capability, runs a fixed battery of correctness checks
through both its synchronous and asynchronous APIs, and exits 0 only when every check passed.

Run without arguments to verify. Configuration comes from the environment or a .env file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
		RunE: verify.RunE,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	root.Flags().AddFlagSet(verify.Flags())

	root.AddCommand(verify, newEnvCmd(a), newRebuildCmd(a), newHistoryCmd(a), newAttestCmd(a))
	return root
}

// init loads configuration and builds the logger. Logs go to stderr so reports on stdout stay clean.
func (a *app) init() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg

	zcfg := zap.NewProductionConfig()
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("config: LOG_LEVEL: %w", err)
	}
	if a.verbose {
		level = zapcore.DebugLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.Encoding = "console"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := zcfg.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logger = logger.Named("bcryptcheck")
	return nil
}
