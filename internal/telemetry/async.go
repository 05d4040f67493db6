package telemetry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"bcryptcheck/internal/telemetry/domain"
)

// emitTimeout is the max time allowed for a single async emit. Used by EmitAsync and by ShutdownDrainDuration.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long the CLI waits in Drain before shutting down OTel providers, so in-flight
// emits have time to complete. Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

// Dispatcher fans events out to every configured emitter without blocking the caller.
type Dispatcher struct {
	emitters []EventEmitter
	logger   *zap.Logger
	timeout  time.Duration
	wg       sync.WaitGroup
}

// NewDispatcher returns a Dispatcher for the given emitters. Nil emitters are dropped.
func NewDispatcher(logger *zap.Logger, emitters ...EventEmitter) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{logger: logger, timeout: emitTimeout}
	for _, e := range emitters {
		if e != nil {
			d.emitters = append(d.emitters, e)
		}
	}
	return d
}

// EmitAsync runs Emit on each emitter in its own goroutine with a short timeout. Errors are logged.
//
// The emit context keeps ctx's values but not its cancellation, so an interrupted run still reports.
// A nil Dispatcher or event is a no-op.
func (d *Dispatcher) EmitAsync(ctx context.Context, event *domain.Event) {
	if d == nil || event == nil {
		return
	}
	base := context.WithoutCancel(ctx)
	for _, e := range d.emitters {
		d.wg.Go(func() {
			emitCtx, cancel := context.WithTimeout(base, d.timeout)
			defer cancel()
			if err := e.Emit(emitCtx, event); err != nil {
				d.logger.Warn("telemetry: async emit failed",
					zap.String("event_type", event.Type), zap.String("run_id", event.RunID), zap.Error(err))
			}
		})
	}
}

// Drain waits for in-flight emits. It returns ctx.Err() if ctx ends first.
func (d *Dispatcher) Drain(ctx context.Context) error {
	if d == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
