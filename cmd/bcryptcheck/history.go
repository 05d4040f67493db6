package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent verification runs recorded in DATABASE_URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.cfg.HistoryEnabled() {
				return errors.New("history: DATABASE_URL is not set")
			}
			if limit <= 0 {
				return fmt.Errorf("history: --limit must be positive, got %d", limit)
			}
			repo, closeFn, err := a.openHistory()
			if err != nil {
				return err
			}
			defer closeFn()

			runs, err := repo.ListRecent(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}
			if len(runs) == 0 {
				fmt.Fprintln(a.stdout, "no runs recorded")
				return nil
			}

			t := table.New().
				Border(lipgloss.NormalBorder()).
				Headers("STARTED", "VERDICT", "DRIVER", "PLATFORM", "RUNTIME", "PASS", "FAIL", "SKIP", "FAILED CHECKS")
			for _, r := range runs {
				verdict := "DENY"
				if r.GateAllow {
					verdict = "ALLOW"
				}
				failed := strings.Join(r.FailedChecks, ", ")
				if r.Diagnosis != "" {
					failed = strings.TrimPrefix(failed+"; "+r.Diagnosis, "; ")
				}
				t.Row(
					r.StartedAt.Local().Format(time.DateTime),
					verdict,
					r.Driver,
					r.HostPlatform,
					r.RuntimeVersion,
					strconv.Itoa(r.Passed),
					strconv.Itoa(r.Failed),
					strconv.Itoa(r.Skipped),
					failed,
				)
			}
			fmt.Fprintln(a.stdout, t.Render())
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	return cmd
}
