// Package dispatch drives a single conversion through cache lookup, provider
// selection, invocation, scoring and fallback.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pario-ai/polyglot/pkg/cache"
	"github.com/pario-ai/polyglot/pkg/logging"
	"github.com/pario-ai/polyglot/pkg/metrics"
	"github.com/pario-ai/polyglot/pkg/models"
	"github.com/pario-ai/polyglot/pkg/provider"
	"github.com/pario-ai/polyglot/pkg/quota"
	"github.com/pario-ai/polyglot/pkg/scorer"
)

// DefaultCallTimeout bounds a single provider invocation when none is set.
const DefaultCallTimeout = 30 * time.Second

// Candidates resolves the ordered providers for a language pair.
type Candidates interface {
	ListCandidates(source, target string) []models.ProviderDescriptor
}

// Limiter is the quota tracker as seen by the dispatcher.
type Limiter interface {
	quota.Limiter
	Snapshot(providerID string) (quota.State, error)
}

// ResultCache stores finished conversions by fingerprint.
type ResultCache interface {
	Get(fingerprint string) (models.ConversionResult, bool)
	Put(fingerprint string, result models.ConversionResult, ttl time.Duration)
}

// Options configures a Dispatcher.
type Options struct {
	Languages      []string
	MaxSourceBytes int
	CallTimeout    time.Duration
	CacheTTL       time.Duration
	Scorer         scorer.Scorer
	Logger         *zap.Logger
}

// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	candidates Candidates
	limiter    Limiter
	cache      ResultCache
	invokers   map[string]provider.Invoker
	opts       Options
	logger     *zap.Logger
	group      singleflight.Group

	total     atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	cacheHits atomic.Int64
}

// New creates a Dispatcher. rc may be nil to disable caching.
func New(c Candidates, l Limiter, rc ResultCache, invokers map[string]provider.Invoker, opts Options) *Dispatcher {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if len(opts.Languages) == 0 {
		opts.Languages = models.DefaultLanguages
	}
	return &Dispatcher{
		candidates: c,
		limiter:    l,
		cache:      rc,
		invokers:   invokers,
		opts:       opts,
		logger:     logging.OrNop(opts.Logger).Named("dispatch"),
	}
}

// run carries one conversion through the state machine.
type run struct {
	req         models.ConversionRequest
	fingerprint string
	candidates  []models.ProviderDescriptor
	idx         int
	invoker     provider.Invoker
	output      string
	attempts    []Attempt
	warnings    []string
	result      models.ConversionResult
	err         error
	start       time.Time
}

func (r *run) current() models.ProviderDescriptor { return r.candidates[r.idx] }

// Convert produces a result for req or a *ConversionError.
func (d *Dispatcher) Convert(ctx context.Context, req models.ConversionRequest) (models.ConversionResult, error) {
	r := &run{req: req, start: time.Now()}
	d.total.Add(1)

	st := d.drive(ctx, r, StateStart, StateSelectProvider)
	if st == StateSelectProvider {
		r = d.coalesce(ctx, r)
	}

	outcome := "success"
	switch {
	case r.err != nil:
		d.failed.Add(1)
		outcome = string(KindOf(r.err))
	case r.result.CacheHit:
		d.succeeded.Add(1)
		d.cacheHits.Add(1)
		outcome = "cache_hit"
	default:
		d.succeeded.Add(1)
	}
	metrics.ConversionsTotal.WithLabelValues(outcome).Inc()
	metrics.ConversionDuration.WithLabelValues(outcome).Observe(time.Since(r.start).Seconds())

	if r.err != nil {
		return models.ConversionResult{}, r.err
	}
	return r.result, nil
}

// coalesce runs the provider phase once per in-flight fingerprint. A follower
// whose leader was canceled retries on its own context.
func (d *Dispatcher) coalesce(ctx context.Context, r *run) *run {
	ch := d.group.DoChan(r.fingerprint, func() (any, error) {
		d.drive(ctx, r, StateSelectProvider, StateDone)
		return r, nil
	})

	select {
	case res := <-ch:
		shared := res.Val.(*run)
		if shared == r {
			return r
		}
		if k := KindOf(shared.err); (k == KindCanceled || k == KindTimeout) && ctx.Err() == nil {
			d.drive(ctx, r, StateSelectProvider, StateDone)
			return r
		}
		d.logger.Debug("joined in-flight conversion", zap.String("fingerprint", r.fingerprint))
		r.result = shared.result.Clone()
		r.err = shared.err
		return r
	case <-ctx.Done():
		// r may still be in use by the coalesced call
		return &run{start: r.start, err: contextError(ctx, nil)}
	}
}

// drive steps the machine from st until it reaches stop, Done or Failed.
func (d *Dispatcher) drive(ctx context.Context, r *run, st, stop State) State {
	for st != stop && st != StateDone && st != StateFailed {
		next := d.step(ctx, r, st)
		if ce := d.logger.Check(zap.DebugLevel, "transition"); ce != nil {
			ce.Write(zap.Stringer("from", st), zap.Stringer("to", next), zap.Int("candidate", r.idx))
		}
		st = next
	}
	return st
}

func (d *Dispatcher) step(ctx context.Context, r *run, st State) State {
	switch st {
	case StateStart:
		return d.start(r)
	case StateCacheCheck:
		return d.cacheCheck(r)
	case StateSelectProvider:
		return d.selectProvider(ctx, r)
	case StateInvoke:
		return d.invoke(ctx, r)
	case StateScore:
		return d.score(r)
	case StateCacheWrite:
		if d.cache != nil {
			d.cache.Put(r.fingerprint, r.result, d.opts.CacheTTL)
		}
		return StateDone
	case StateNextCandidate:
		r.idx++
		return StateSelectProvider
	default:
		r.err = &ConversionError{Kind: KindProviderInvocationFailed, Message: fmt.Sprintf("unexpected state %s", st)}
		return StateFailed
	}
}

func (d *Dispatcher) start(r *run) State {
	r.req = r.req.Normalized()
	if err := r.req.Validate(d.opts.Languages, d.opts.MaxSourceBytes); err != nil {
		r.err = &ConversionError{Kind: KindInvalidRequest, Message: "invalid request", Err: err}
		return StateFailed
	}

	r.candidates = d.candidates.ListCandidates(r.req.SourceLanguage, r.req.TargetLanguage)
	if len(r.candidates) == 0 {
		r.err = &ConversionError{
			Kind:    KindUnsupportedLanguagePair,
			Message: fmt.Sprintf("no provider supports %s to %s", r.req.SourceLanguage, r.req.TargetLanguage),
		}
		return StateFailed
	}
	r.fingerprint = cache.Fingerprint(r.req)
	return StateCacheCheck
}

func (d *Dispatcher) cacheCheck(r *run) State {
	if d.cache == nil {
		return StateSelectProvider
	}
	if res, ok := d.cache.Get(r.fingerprint); ok {
		r.result = res
		return StateDone
	}
	return StateSelectProvider
}

func (d *Dispatcher) selectProvider(ctx context.Context, r *run) State {
	if err := ctx.Err(); err != nil {
		r.err = contextError(ctx, r.attempts)
		return StateFailed
	}
	if r.idx >= len(r.candidates) {
		r.err = &ConversionError{
			Kind: KindAllProvidersUnavailable,
			Message: fmt.Sprintf("no provider could convert %s to %s",
				r.req.SourceLanguage, r.req.TargetLanguage),
			Attempts: r.attempts,
		}
		return StateFailed
	}

	c := r.current()
	inv, ok := d.invokers[c.ID]
	if !ok {
		d.skip(r, OutcomeFailed, &ConversionError{Kind: KindProviderInvocationFailed, Message: "no invoker configured"},
			fmt.Sprintf("provider %s skipped: not configured", c.ID))
		return StateNextCandidate
	}
	if d.limiter.IsCircuitOpen(c.ID) {
		d.skip(r, OutcomeCircuitOpen, nil, fmt.Sprintf("provider %s skipped: circuit open", c.ID))
		return StateNextCandidate
	}
	if err := d.limiter.TryReserve(c.ID); err != nil {
		msg := fmt.Sprintf("provider %s skipped: %v", c.ID, err)
		var qe *quota.QuotaError
		if errors.As(err, &qe) {
			msg = fmt.Sprintf("provider %s skipped: %s quota exhausted (%d requests)", c.ID, qe.Window, qe.Limit)
		}
		d.skip(r, OutcomeQuota, &ConversionError{Kind: KindQuotaExceeded, Message: msg, Err: err}, msg)
		return StateNextCandidate
	}

	r.invoker = inv
	return StateInvoke
}

// skip records a candidate that was never invoked.
func (d *Dispatcher) skip(r *run, outcome Outcome, err error, warning string) {
	id := r.current().ID
	r.attempts = append(r.attempts, Attempt{Provider: id, Outcome: outcome, Err: err})
	r.warnings = append(r.warnings, warning)
	metrics.ProviderAttemptsTotal.WithLabelValues(id, string(outcome)).Inc()
	d.logger.Info("candidate skipped", zap.String("provider", id), zap.String("outcome", string(outcome)))
}

func (d *Dispatcher) invoke(ctx context.Context, r *run) State {
	c := r.current()
	callCtx, cancel := context.WithTimeout(ctx, d.opts.CallTimeout)
	t0 := time.Now()
	out, err := r.invoker.Invoke(callCtx, r.req, d.opts.CallTimeout)
	latency := time.Since(t0)
	timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
	cancel()
	metrics.ProviderLatency.WithLabelValues(c.ID).Observe(latency.Seconds())

	if err == nil && strings.TrimSpace(out) == "" {
		err = provider.ErrEmptyOutput
	}
	if err == nil && timedOut {
		err = context.DeadlineExceeded
	}

	if err != nil {
		// the caller gave up; the provider is not at fault
		if ctx.Err() != nil {
			r.err = contextError(ctx, r.attempts)
			return StateFailed
		}

		d.limiter.RecordOutcome(c.ID, false)
		attempt := Attempt{Provider: c.ID, Outcome: OutcomeFailed}
		var warning string
		if timedOut || errors.Is(err, context.DeadlineExceeded) {
			attempt.Outcome = OutcomeTimeout
			attempt.Err = &ConversionError{Kind: KindProviderTimeout, Message: fmt.Sprintf("no response within %s", d.opts.CallTimeout), Err: err}
			warning = fmt.Sprintf("provider %s timed out after %s", c.ID, d.opts.CallTimeout)
		} else {
			attempt.Err = &ConversionError{Kind: KindProviderInvocationFailed, Message: "invocation failed", Err: err}
			warning = fmt.Sprintf("provider %s failed: %v", c.ID, err)
		}
		r.attempts = append(r.attempts, attempt)
		r.warnings = append(r.warnings, warning)
		metrics.ProviderAttemptsTotal.WithLabelValues(c.ID, string(attempt.Outcome)).Inc()
		d.logger.Warn("provider attempt failed",
			zap.String("provider", c.ID),
			zap.String("outcome", string(attempt.Outcome)),
			zap.Duration("latency", latency),
			zap.Bool("retryable", provider.IsRetryable(err)),
			zap.Error(err),
		)
		return StateNextCandidate
	}

	d.limiter.RecordOutcome(c.ID, true)
	metrics.ProviderAttemptsTotal.WithLabelValues(c.ID, string(OutcomeSuccess)).Inc()
	r.output = out
	return StateScore
}

func (d *Dispatcher) score(r *run) State {
	c := r.current()
	in := scorer.Input{Request: r.req, Output: r.output, Tier: c.Tier}
	if snap, err := d.limiter.Snapshot(c.ID); err == nil {
		in.SuccessRate = snap.SuccessRate()
		in.Samples = int(snap.Successes + snap.Failures)
	}
	a := d.opts.Scorer.Assess(in)

	r.result = models.ConversionResult{
		Code:          r.output,
		Confidence:    a.Score,
		Warnings:      slices.Concat(r.warnings, a.Warnings),
		Suggestions:   a.Suggestions,
		ExecutionTime: time.Since(r.start),
		Provider:      c.ID,
		Attempts:      r.idx + 1,
	}
	d.logger.Info("conversion completed",
		zap.String("provider", c.ID),
		zap.String("source", r.req.SourceLanguage),
		zap.String("target", r.req.TargetLanguage),
		zap.Int("confidence", a.Score),
		zap.Int("attempts", r.idx+1),
		zap.Duration("elapsed", r.result.ExecutionTime),
	)
	return StateCacheWrite
}

func contextError(ctx context.Context, attempts []Attempt) *ConversionError {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &ConversionError{Kind: KindTimeout, Message: "deadline exceeded before a provider succeeded", Attempts: attempts, Err: ctx.Err()}
	}
	return &ConversionError{Kind: KindCanceled, Message: "canceled by caller", Attempts: attempts, Err: ctx.Err()}
}

// Stats returns conversion counters since the dispatcher was created.
func (d *Dispatcher) Stats() models.EngineStats {
	s := models.EngineStats{
		Total:     d.total.Load(),
		Succeeded: d.succeeded.Load(),
		Failed:    d.failed.Load(),
		CacheHits: d.cacheHits.Load(),
	}
	if done := s.Succeeded + s.Failed; done > 0 {
		s.SuccessRate = float64(s.Succeeded) / float64(done)
	}
	return s
}
