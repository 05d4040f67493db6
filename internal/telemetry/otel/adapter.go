package otel

import (
	"context"
	"encoding/json"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"bcryptcheck/internal/telemetry"
	"bcryptcheck/internal/telemetry/domain"
)

const scopeName = "bcryptcheck/internal/telemetry"

// recordEmitter is the part of otellog.Logger the adapter uses.
type recordEmitter interface {
	Emit(ctx context.Context, record otellog.Record)
}

// NewEventEmitter returns an EventEmitter that sends events as OTel log records via the given LoggerProvider.
// If provider is nil, returns a no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return NewEventEmitterWithLogger(provider.Logger(scopeName))
}

// NewEventEmitterWithLogger returns an EventEmitter writing to logger.
func NewEventEmitterWithLogger(logger recordEmitter) telemetry.EventEmitter {
	return &otelEmitter{logger: logger}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *domain.Event) error { return nil }

type otelEmitter struct {
	logger recordEmitter
}

// Emit converts the event to an OTel log record: the JSON event is the body and the low-cardinality fields
// become attributes. A failed run is emitted at WARN.
func (e *otelEmitter) Emit(ctx context.Context, event *domain.Event) error {
	if event == nil {
		return nil
	}
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	rec := otellog.Record{}
	rec.SetEventName(event.Type)
	rec.SetBody(otellog.BytesValue(body))
	if event.Success {
		rec.SetSeverity(otellog.SeverityInfo)
		rec.SetSeverityText("INFO")
	} else {
		rec.SetSeverity(otellog.SeverityWarn)
		rec.SetSeverityText("WARN")
	}
	rec.AddAttributes(
		otellog.String("event_type", event.Type),
		otellog.String("run_id", event.RunID),
		otellog.Bool("success", event.Success),
		otellog.Bool("gate_allow", event.GateAllow),
		otellog.Int("passed", event.Passed),
		otellog.Int("failed", event.Failed),
		otellog.Int("skipped", event.Skipped),
	)
	optional := []struct{ key, val string }{
		{"driver", event.Driver},
		{"env", event.Env},
		{"host_platform", event.HostPlatform},
		{"runtime_version", event.RuntimeVersion},
		{"diagnosis", event.Diagnosis},
	}
	for _, kv := range optional {
		if kv.val != "" {
			rec.AddAttributes(otellog.String(kv.key, kv.val))
		}
	}
	ts := event.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	e.logger.Emit(ctx, rec)
	return nil
}
