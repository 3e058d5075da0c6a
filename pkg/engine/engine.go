// Package engine wires the registry, quota tracker, cache, dispatcher and
// batch coordinator into the conversion service used by every front end.
package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/polyglot/pkg/batch"
	"github.com/pario-ai/polyglot/pkg/cache"
	"github.com/pario-ai/polyglot/pkg/cache/sqlite"
	"github.com/pario-ai/polyglot/pkg/config"
	"github.com/pario-ai/polyglot/pkg/dispatch"
	"github.com/pario-ai/polyglot/pkg/history"
	"github.com/pario-ai/polyglot/pkg/logging"
	"github.com/pario-ai/polyglot/pkg/metrics"
	"github.com/pario-ai/polyglot/pkg/models"
	"github.com/pario-ai/polyglot/pkg/provider"
	"github.com/pario-ai/polyglot/pkg/provider/httpadapter"
	"github.com/pario-ai/polyglot/pkg/quota"
	"github.com/pario-ai/polyglot/pkg/registry"
	"github.com/pario-ai/polyglot/pkg/scorer"
)

// Engine is the orchestration facade. It is safe for concurrent use.
type Engine struct {
	cfg        *config.Config
	registry   *registry.Registry
	tracker    *quota.Tracker
	cache      *cache.Cache
	store      *sqlite.Store
	history    *history.Store
	invokers   map[string]provider.Invoker
	dispatcher *dispatch.Dispatcher
	batch      *batch.Coordinator
	logger     *zap.Logger
	now        func() time.Time
}

// ErrHistoryDisabled is returned by history queries when no history database
// is configured.
var ErrHistoryDisabled = errors.New("conversion history is disabled")

// Option configures an Engine.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now in the quota tracker and cache.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New builds an Engine from cfg. Every enabled provider needs an invoker.
func New(cfg *config.Config, invokers map[string]provider.Invoker, logger *zap.Logger, opts ...Option) (*Engine, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	logger = logging.OrNop(logger)

	descs := cfg.Descriptors()
	reg, err := registry.New(descs)
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}

	tracker := quota.New(
		quota.Config{
			FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
			Cooldown:         cfg.CircuitBreaker.Cooldown,
		},
		quota.WithClock(o.now),
		quota.OnCircuitChange(func(id string, open bool) {
			metrics.SetCircuit(id, open)
			if open {
				logger.Warn("circuit opened", zap.String("provider", id))
			} else {
				logger.Info("circuit closed", zap.String("provider", id))
			}
		}),
	)
	for _, d := range descs {
		if d.Enabled {
			if _, ok := invokers[d.ID]; !ok {
				return nil, fmt.Errorf("provider %s: no invoker configured", d.ID)
			}
		}
		tracker.Configure(d.ID, quota.Limits{PerMinute: d.RequestsPerMinute, PerHour: d.RequestsPerHour})
		metrics.SetCircuit(d.ID, false)
	}

	e := &Engine{cfg: cfg, registry: reg, tracker: tracker, invokers: invokers, logger: logger, now: o.now}

	var rc dispatch.ResultCache
	if cfg.Cache.Enabled {
		var tier cache.Tier
		if cfg.Cache.DBPath != "" {
			store, err := sqlite.New(cfg.Cache.DBPath, sqlite.WithClock(o.now))
			if err != nil {
				return nil, err
			}
			e.store = store
			tier = store
		}
		e.cache = cache.New(cache.Options{
			Capacity: cfg.Cache.Capacity,
			TTL:      cfg.Cache.TTL,
			Tier:     tier,
			Logger:   logger,
		}, cache.WithClock(o.now))
		rc = e.cache
	}

	e.dispatcher = dispatch.New(reg, tracker, rc, invokers, dispatch.Options{
		Languages:      cfg.Languages,
		MaxSourceBytes: cfg.Limits.MaxSourceBytes,
		CallTimeout:    cfg.Timeouts.Call,
		CacheTTL:       cfg.Cache.TTL,
		Scorer:         scorer.New(cfg.Scoring.SuccessRateThreshold, cfg.Scoring.MinSamples),
		Logger:         logger,
	})

	if cfg.History.DBPath != "" {
		hs, err := history.New(cfg.History.DBPath)
		if err != nil {
			_ = e.Close()
			return nil, err
		}
		e.history = hs
		if cfg.History.Retention > 0 {
			n, err := hs.Prune(context.Background(), o.now().Add(-cfg.History.Retention))
			if err != nil {
				logger.Warn("history prune failed", zap.Error(err))
			} else if n > 0 {
				logger.Info("history pruned", zap.Int64("records", n))
			}
		}
	}

	e.batch = batch.New(batch.ConverterFunc(e.convert), batch.Options{
		MaxConcurrency: cfg.Batch.MaxConcurrency,
		Timeout:        cfg.Timeouts.Batch,
		MaxSize:        cfg.Batch.MaxSize,
		Logger:         logger,
	})

	logger.Info("engine ready",
		zap.Int("providers", len(descs)),
		zap.Strings("languages", cfg.Languages),
		zap.Bool("cache", cfg.Cache.Enabled),
		zap.Bool("persistent_cache", e.store != nil),
		zap.Bool("history", e.history != nil),
	)
	return e, nil
}

// NewFromConfig builds HTTP invokers for every configured provider and
// returns the wired Engine.
func NewFromConfig(cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	invokers := make(map[string]provider.Invoker, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		a, err := httpadapter.New(pc, httpadapter.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		invokers[pc.ID] = a
	}
	return New(cfg, invokers, logger)
}

// Submit converts a single request.
func (e *Engine) Submit(ctx context.Context, req models.ConversionRequest) (models.ConversionResult, error) {
	return e.convert(ctx, req)
}

// convert runs the dispatcher and logs the outcome to the history store.
func (e *Engine) convert(ctx context.Context, req models.ConversionRequest) (models.ConversionResult, error) {
	start := e.now()
	res, err := e.dispatcher.Convert(ctx, req)
	if e.history == nil {
		return res, err
	}

	rec := models.ConversionRecord{
		SourceLanguage: strings.ToLower(strings.TrimSpace(req.SourceLanguage)),
		TargetLanguage: strings.ToLower(strings.TrimSpace(req.TargetLanguage)),
		SourceBytes:    len(req.SourceCode),
		Duration:       e.now().Sub(start),
		CreatedAt:      start,
	}
	if err != nil {
		rec.ErrorKind = string(dispatch.KindOf(err))
		var ce *dispatch.ConversionError
		if errors.As(err, &ce) {
			rec.Attempts = len(ce.Attempts)
		}
	} else {
		rec.Succeeded = true
		rec.Provider = res.Provider
		rec.Confidence = res.Confidence
		rec.CacheHit = res.CacheHit
		rec.Attempts = res.Attempts
		rec.OutputBytes = len(res.Code)
	}
	if rerr := e.history.Record(context.WithoutCancel(ctx), rec); rerr != nil {
		e.logger.Warn("history record failed", zap.Error(rerr))
	}
	return res, err
}

// SubmitBatch converts reqs concurrently. Non-positive limit or timeout use
// the configured defaults.
func (e *Engine) SubmitBatch(ctx context.Context, reqs []models.ConversionRequest, limit int, timeout time.Duration) (batch.Report, error) {
	return e.batch.Run(ctx, reqs, limit, timeout)
}

// Providers returns every registered provider in candidate order.
func (e *Engine) Providers() []models.ProviderDescriptor {
	return e.registry.All()
}

// Settings reports the languages, styles and limits clients must respect.
func (e *Engine) Settings() models.EngineSettings {
	return models.EngineSettings{
		Languages:      slices.Clone(e.cfg.Languages),
		Styles:         slices.Clone(models.ConversionStyles),
		MaxSourceBytes: e.cfg.Limits.MaxSourceBytes,
		MaxBatchSize:   e.cfg.Batch.MaxSize,
		MaxConcurrency: e.cfg.Batch.MaxConcurrency,
		CallTimeout:    e.cfg.Timeouts.Call,
		BatchTimeout:   e.cfg.Timeouts.Batch,
		CacheEnabled:   e.cache != nil,
		HistoryEnabled: e.history != nil,
	}
}

// ProviderStatus reports quota and breaker state for every provider.
func (e *Engine) ProviderStatus() []models.ProviderStatus {
	descs := e.registry.All()
	out := make([]models.ProviderStatus, 0, len(descs))
	for _, d := range descs {
		snap, err := e.tracker.Snapshot(d.ID)
		if err != nil {
			continue
		}
		st := models.ProviderStatus{
			ProviderID:           d.ID,
			Enabled:              d.Enabled,
			CircuitOpen:          snap.CircuitOpen,
			QuotaRemainingMinute: snap.RemainingMinute(),
			QuotaRemainingHour:   snap.RemainingHour(),
			ConsecutiveFailures:  snap.ConsecutiveFailures,
			SuccessRate:          snap.SuccessRate(),
		}
		if snap.CircuitOpen {
			until := snap.OpenUntil
			st.CircuitOpenUntil = &until
		}
		if !snap.LastFailure.IsZero() {
			last := snap.LastFailure
			st.LastFailure = &last
		}
		out = append(out, st)
	}
	return out
}

// Reload installs provider priorities, tiers, languages, limits and enabled
// flags from cfg. Invokers are fixed at construction, so every enabled
// provider must already have one. Breaker and window state carry over.
func (e *Engine) Reload(cfg *config.Config) error {
	descs := cfg.Descriptors()
	for _, d := range descs {
		if _, ok := e.invokers[d.ID]; d.Enabled && !ok {
			return fmt.Errorf("reload: provider %s: no invoker configured", d.ID)
		}
	}
	if err := e.registry.Replace(descs); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	for _, d := range descs {
		e.tracker.Configure(d.ID, quota.Limits{PerMinute: d.RequestsPerMinute, PerHour: d.RequestsPerHour})
	}
	e.logger.Info("providers reloaded", zap.Int("providers", len(descs)))
	return nil
}

// ResetProvider closes a provider's circuit breaker.
func (e *Engine) ResetProvider(id string) error {
	if _, err := e.registry.Describe(id); err != nil {
		return err
	}
	return e.tracker.Reset(id)
}

// Stats returns conversion counters since start.
func (e *Engine) Stats() models.EngineStats {
	return e.dispatcher.Stats()
}

// CacheStats returns result cache metrics, zero when caching is disabled.
func (e *Engine) CacheStats() models.CacheStats {
	if e.cache == nil {
		return models.CacheStats{}
	}
	return e.cache.Stats()
}

// ClearCache removes cached results and reports how many in-memory entries
// were dropped. With expiredOnly set, live entries are kept.
func (e *Engine) ClearCache(expiredOnly bool) (int, error) {
	if e.cache == nil {
		return 0, nil
	}
	if expiredOnly {
		return e.cache.InvalidateExpired(), nil
	}
	n := e.cache.Len()
	if err := e.cache.Clear(); err != nil {
		return 0, err
	}
	return n, nil
}

// History returns the most recent conversion records, newest first.
func (e *Engine) History(ctx context.Context, limit int) ([]models.ConversionRecord, error) {
	if e.history == nil {
		return nil, ErrHistoryDisabled
	}
	return e.history.Recent(ctx, limit)
}

// HistorySummary aggregates conversions since the given time by language pair
// and provider.
func (e *Engine) HistorySummary(ctx context.Context, since time.Time) ([]models.HistorySummary, error) {
	if e.history == nil {
		return nil, ErrHistoryDisabled
	}
	return e.history.Summary(ctx, since)
}

// Start runs background maintenance until ctx is done.
func (e *Engine) Start(ctx context.Context) {
	if e.cache != nil {
		go e.cache.StartSweeper(ctx, e.cfg.Cache.SweepInterval)
	}
}

// Close releases the persistent cache and history databases.
func (e *Engine) Close() error {
	var errs []error
	if e.store != nil {
		errs = append(errs, e.store.Close())
	}
	if e.history != nil {
		errs = append(errs, e.history.Close())
	}
	return errors.Join(errs...)
}
