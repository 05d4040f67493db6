// migrate applies or rolls back the run-history schema in DATABASE_URL (postgres://… or sqlite://path).
package main

import (
	"flag"
	"fmt"
	"os"

	"bcryptcheck/internal/config"
	"bcryptcheck/internal/db"
	"bcryptcheck/internal/db/migrate"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if !cfg.HistoryEnabled() {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is not set; set it to postgres://... or sqlite://path to enable run history")
		os.Exit(1)
	}
	dialect, _, err := db.ParseURL(cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}

	if err := migrate.Run(cfg.DatabaseURL, *direction); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
	fmt.Printf("migrate: %s %s complete\n", dialect, *direction)
}
