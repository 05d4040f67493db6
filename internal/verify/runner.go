// Package verify runs the bcrypt verification battery against a hashing capability and produces a single
// verdict suitable for gating a deployment.
//
// Checks run strictly in sequence. A failing check never stops the battery, except when the capability
// cannot be loaded or becomes unavailable mid-run: every later capability check is then recorded as
// skipped. Panics are recovered at the check boundary and recorded as failures.
package verify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"bcryptcheck/internal/capability"
	"bcryptcheck/internal/envprobe"
)

const instrumentationName = "bcryptcheck/internal/verify"

// Options configures a Runner. Zero values take the defaults used by the CLI.
type Options struct {
	NominalCost    int
	LowCost        int
	HighCost       int
	LatencyCost    int
	LatencySamples int

	// Driver is reported when the capability cannot be loaded and so cannot name itself.
	Driver string

	Logger *zap.Logger
	Tracer trace.Tracer
	Meter  metric.Meter
	// Now and Probe are replaced in tests.
	Now   func() time.Time
	Probe func(capability.RuntimeInfo) envprobe.Environment
}

func (o Options) withDefaults() Options {
	if o.NominalCost == 0 {
		o.NominalCost = 10
	}
	if o.LowCost == 0 {
		o.LowCost = 4
	}
	if o.HighCost == 0 {
		o.HighCost = 12
	}
	if o.LatencyCost == 0 {
		o.LatencyCost = 10
	}
	if o.LatencySamples <= 0 {
		o.LatencySamples = 5
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Tracer == nil {
		o.Tracer = otel.Tracer(instrumentationName)
	}
	if o.Meter == nil {
		o.Meter = otel.Meter(instrumentationName)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Probe == nil {
		o.Probe = envprobe.Probe
	}
	return o
}

// Runner executes the verification battery.
type Runner struct {
	opts      Options
	logger    *zap.Logger
	durations metric.Float64Histogram
	failures  metric.Int64Counter
}

// NewRunner builds a Runner. Metric instruments that cannot be created are replaced by no-ops.
func NewRunner(opts Options) *Runner {
	opts = opts.withDefaults()
	r := &Runner{opts: opts, logger: opts.Logger}

	var err error
	r.durations, err = opts.Meter.Float64Histogram("bcryptcheck.check.duration",
		metric.WithDescription("Duration of each verification check"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		r.logger.Warn("verify: duration histogram unavailable", zap.Error(err))
		r.durations = noop.Float64Histogram{}
	}
	r.failures, err = opts.Meter.Int64Counter("bcryptcheck.check.failures",
		metric.WithDescription("Verification checks that failed"),
	)
	if err != nil {
		r.logger.Warn("verify: failure counter unavailable", zap.Error(err))
		r.failures = noop.Int64Counter{}
	}
	return r
}

// Run loads the capability and executes every check against it. It never returns nil and never panics;
// every problem ends up in a CaseResult. The loaded capability is closed before Run returns.
func (r *Runner) Run(ctx context.Context, load capability.Loader) *Result {
	start := r.opts.Now()
	res := &Result{
		RunID:     uuid.NewString(),
		Driver:    r.opts.Driver,
		StartedAt: start,
	}

	ctx, span := r.opts.Tracer.Start(ctx, "verify.run", trace.WithAttributes(
		attribute.String("bcryptcheck.run_id", res.RunID),
	))
	defer span.End()

	var c capability.Capability
	avail, loadErr := r.runCase(ctx, res, CheckAvailability, PathNone, func(ctx context.Context) (string, error) {
		if load == nil {
			return "", fmt.Errorf("%w: no capability loader", capability.ErrUnavailable)
		}
		loaded, err := load(ctx)
		if err != nil {
			return "", err
		}
		if loaded == nil {
			return "", fmt.Errorf("%w: loader returned no capability", capability.ErrUnavailable)
		}
		c = loaded
		res.Driver = loaded.Name()
		return describeRuntime(loaded), nil
	})
	if c != nil {
		defer func() {
			if err := c.Close(); err != nil {
				r.logger.Warn("verify: close capability", zap.String("driver", res.Driver), zap.Error(err))
			}
		}()
	}
	if loadErr != nil {
		d := capability.Diagnose(loadErr)
		res.Diagnosis = &d
		avail.Detail = describeLoadFailure(d, loadErr)
	}

	var rt capability.RuntimeInfo
	if c != nil {
		rt = c.Runtime()
	}
	env, _ := r.runCase(ctx, res, CheckEnvironment, PathNone, func(context.Context) (string, error) {
		res.Environment = r.opts.Probe(rt)
		detail := res.Environment.Summary()
		if mm := res.Environment.Mismatches(); len(mm) > 0 {
			detail += "; platform mismatch: " + strings.Join(mm, ", ")
		}
		return detail, nil
	})
	res.Cases = append(res.Cases, env, avail)

	skip := ""
	if !avail.Passed {
		skip = "capability unavailable"
	}
	for _, chk := range r.battery(res) {
		if skip == "" && ctx.Err() != nil {
			skip = "run cancelled"
		}
		if skip != "" {
			res.Cases = append(res.Cases, CaseResult{Name: chk.name, Skipped: true, Path: PathNone, Detail: "skipped: " + skip})
			continue
		}
		cr, err := r.runCase(ctx, res, chk.name, chk.path, func(ctx context.Context) (string, error) {
			return chk.run(ctx, c)
		})
		res.Cases = append(res.Cases, cr)
		if errors.Is(err, capability.ErrUnavailable) {
			skip = "capability became unavailable"
		}
	}

	counts := res.Counts()
	res.Success = counts.Failed == 0 && counts.Skipped == 0
	res.Elapsed = r.opts.Now().Sub(start)

	span.SetAttributes(
		attribute.String("bcryptcheck.driver", res.Driver),
		attribute.Bool("bcryptcheck.success", res.Success),
		attribute.Int("bcryptcheck.cases.failed", counts.Failed),
		attribute.Int("bcryptcheck.cases.skipped", counts.Skipped),
	)
	if !res.Success {
		span.SetStatus(codes.Error, "verification failed")
	}
	r.logger.Info("verify: run complete",
		zap.String("run_id", res.RunID),
		zap.String("driver", res.Driver),
		zap.Bool("success", res.Success),
		zap.Int("passed", counts.Passed),
		zap.Int("failed", counts.Failed),
		zap.Int("skipped", counts.Skipped),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res
}

// runCase runs fn as one check: it opens a child span, recovers panics, times the call, and records metrics.
// The returned error is the raw cause of a failure, nil on success.
func (r *Runner) runCase(ctx context.Context, res *Result, name string, path Path, fn func(context.Context) (string, error)) (cr CaseResult, err error) {
	ctx, span := r.opts.Tracer.Start(ctx, "verify.check", trace.WithAttributes(
		attribute.String("bcryptcheck.check", name),
		attribute.String("bcryptcheck.path", string(path)),
	))
	defer span.End()

	start := r.opts.Now()
	cr = CaseResult{Name: name, Path: path}
	func() {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panic: %v", p)
			}
		}()
		cr.Detail, err = fn(ctx)
	}()
	cr.Duration = r.opts.Now().Sub(start)

	attrs := []attribute.KeyValue{
		attribute.String("check", name),
		attribute.String("driver", res.Driver),
	}
	if err != nil {
		cr.Passed = false
		cr.Detail = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, cr.Detail)
		r.failures.Add(ctx, 1, metric.WithAttributes(attrs...))
		r.logger.Warn("verify: check failed", zap.String("check", name), zap.String("path", string(path)), zap.Error(err))
	} else {
		cr.Passed = true
		r.logger.Debug("verify: check passed", zap.String("check", name), zap.Duration("duration", cr.Duration))
	}
	r.durations.Record(ctx, float64(cr.Duration)/float64(time.Millisecond),
		metric.WithAttributes(append(attrs, attribute.String("outcome", cr.Status()))...))
	return cr, err
}

func describeRuntime(c capability.Capability) string {
	rt := c.Runtime()
	loaded := rt.Module
	if loaded == "" {
		loaded = rt.Name
	}
	return fmt.Sprintf("%s driver loaded %s (%s %s, %s/%s)", c.Name(), loaded, rt.Name, rt.Version, rt.Platform, rt.Arch)
}

func describeLoadFailure(d capability.Diagnosis, err error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", d.Kind, d.Summary)
	if d.Kind != capability.KindUnknown {
		fmt.Fprintf(&b, " (%v)", err)
	}
	if d.Remedy != "" {
		fmt.Fprintf(&b, "; %s", d.Remedy)
	}
	return b.String()
}
