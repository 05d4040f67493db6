package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"bcryptcheck/internal/capability"
	"bcryptcheck/internal/capability/gobcrypt"
	"bcryptcheck/internal/capability/nodebcrypt"
	"bcryptcheck/internal/config"
	"bcryptcheck/internal/db"
	"bcryptcheck/internal/db/migrate"
	"bcryptcheck/internal/history"
	"bcryptcheck/internal/history/repository"
	"bcryptcheck/internal/telemetry"
	"bcryptcheck/internal/telemetry/loki"
	telemetryotel "bcryptcheck/internal/telemetry/otel"
)

// shutdownTimeout bounds provider flushing at exit.
const shutdownTimeout = 5 * time.Second

// loader returns the capability loader for the configured driver.
func (a *app) loader() capability.Loader {
	if a.cfg.HashDriver == config.DriverGo {
		return gobcrypt.Loader()
	}
	return nodebcrypt.Loader(nodebcrypt.Options{
		NodeBinary: a.cfg.NodeBinary,
		Module:     a.cfg.NodeModule,
		ProjectDir: a.cfg.ProjectDir,
		Logger:     a.logger,
	})
}

// telemetry sets up OTel providers and the event dispatcher. The returned func drains pending events and
// flushes the providers; it is always safe to call.
func (a *app) telemetry(ctx context.Context) (*telemetry.Dispatcher, func()) {
	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Config{
		Endpoint:    a.cfg.OTLPEndpoint,
		Insecure:    a.cfg.OTLPInsecure,
		ServiceName: a.cfg.ServiceName,
		Environment: a.cfg.Env,
	}, a.logger)
	if err != nil {
		a.logger.Warn("telemetry: disabled", zap.Error(err))
		providers, _ = telemetryotel.NewProviders(ctx, telemetryotel.Config{}, a.logger)
	}
	providers.SetGlobal()

	emitters := []telemetry.EventEmitter{telemetryotel.NewEventEmitter(providers.LoggerProvider)}
	if a.cfg.LokiURL != "" {
		emitters = append(emitters, loki.NewEmitter(a.cfg.LokiURL, nil))
	}
	dispatcher := telemetry.NewDispatcher(a.logger, emitters...)

	return dispatcher, func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), telemetry.ShutdownDrainDuration)
		defer cancel()
		if err := dispatcher.Drain(drainCtx); err != nil {
			a.logger.Warn("telemetry: drain", zap.Error(err))
		}
		shutdownCtx, cancel2 := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel2()
		_ = providers.Shutdown(shutdownCtx)
	}
}

// openHistory migrates and opens the history store. It returns nil, nil when history is disabled.
func (a *app) openHistory() (repository.Repository, func(), error) {
	if !a.cfg.HistoryEnabled() {
		return nil, func() {}, nil
	}
	if err := migrate.Run(a.cfg.DatabaseURL, "up"); err != nil {
		return nil, nil, fmt.Errorf("history: migrate: %w", err)
	}
	conn, dialect, err := db.Open(a.cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("history: %w", err)
	}
	return repository.NewSQLRepository(conn, dialect), func() { _ = conn.Close() }, nil
}

// recorder returns a history Recorder, or one that records nothing when history is disabled or unreachable.
func (a *app) recorder() (*history.Recorder, func()) {
	repo, closeFn, err := a.openHistory()
	if err != nil {
		a.logger.Warn("history: disabled for this run", zap.Error(err))
		return history.NewRecorder(nil, a.logger), func() {}
	}
	return history.NewRecorder(repo, a.logger), closeFn
}
