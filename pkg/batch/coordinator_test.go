package batch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/polyglot/pkg/dispatch"
	"github.com/pario-ai/polyglot/pkg/models"
	"github.com/pario-ai/polyglot/pkg/provider"
	"github.com/pario-ai/polyglot/pkg/quota"
	"github.com/pario-ai/polyglot/pkg/registry"
)

type converterFunc func(ctx context.Context, req models.ConversionRequest) (models.ConversionResult, error)

func (f converterFunc) Convert(ctx context.Context, req models.ConversionRequest) (models.ConversionResult, error) {
	return f(ctx, req)
}

func req(code string) models.ConversionRequest {
	return models.ConversionRequest{SourceCode: code, SourceLanguage: "python", TargetLanguage: "go"}
}

// echo returns the source code after the delay encoded in delays.
func echo(delays map[string]time.Duration) converterFunc {
	return func(ctx context.Context, r models.ConversionRequest) (models.ConversionResult, error) {
		select {
		case <-time.After(delays[r.SourceCode]):
		case <-ctx.Done():
			return models.ConversionResult{}, ctx.Err()
		}
		return models.ConversionResult{Code: r.SourceCode, Provider: "p"}, nil
	}
}

func TestOrderPreserved(t *testing.T) {
	c := New(echo(map[string]time.Duration{
		"r1": 60 * time.Millisecond,
		"r2": 5 * time.Millisecond,
		"r3": 10 * time.Millisecond,
	}), Options{})

	rep, err := c.Run(context.Background(), []models.ConversionRequest{req("r1"), req("r2"), req("r3")}, 2, time.Second)
	require.NoError(t, err)
	require.Len(t, rep.Items, 3)
	for i, want := range []string{"r1", "r2", "r3"} {
		assert.Equal(t, i, rep.Items[i].Index)
		require.NotNil(t, rep.Items[i].Result)
		assert.Equal(t, want, rep.Items[i].Result.Code)
		assert.Equal(t, want, rep.Items[i].Request.SourceCode)
	}
	assert.Equal(t, Summary{Total: 3, Succeeded: 3, Elapsed: rep.Summary.Elapsed}, rep.Summary)
	assert.NotEmpty(t, rep.ID)
}

func TestConcurrencyCap(t *testing.T) {
	var inFlight, peak atomic.Int32
	conv := converterFunc(func(context.Context, models.ConversionRequest) (models.ConversionResult, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return models.ConversionResult{Code: "x"}, nil
	})

	reqs := make([]models.ConversionRequest, 12)
	for i := range reqs {
		reqs[i] = req("x")
	}
	rep, err := New(conv, Options{}).Run(context.Background(), reqs, 3, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 12, rep.Summary.Succeeded)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestPartialFailureIsolated(t *testing.T) {
	conv := converterFunc(func(_ context.Context, r models.ConversionRequest) (models.ConversionResult, error) {
		if r.SourceCode == "bad" {
			return models.ConversionResult{}, &dispatch.ConversionError{Kind: dispatch.KindAllProvidersUnavailable, Message: "nope"}
		}
		return models.ConversionResult{Code: r.SourceCode}, nil
	})

	rep, err := New(conv, Options{}).Run(context.Background(), []models.ConversionRequest{req("a"), req("bad"), req("c")}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, rep.Items[0].Status())
	assert.Equal(t, StatusFailed, rep.Items[1].Status())
	assert.ErrorIs(t, rep.Items[1].Err, dispatch.ErrAllProvidersUnavailable)
	assert.Nil(t, rep.Items[1].Result)
	assert.Equal(t, StatusSucceeded, rep.Items[2].Status())
	assert.Equal(t, 2, rep.Summary.Succeeded)
	assert.Equal(t, 1, rep.Summary.Failed)
}

func TestBatchTimeoutMarksOutstanding(t *testing.T) {
	stuck := make(chan struct{})
	t.Cleanup(func() { close(stuck) })

	conv := converterFunc(func(_ context.Context, r models.ConversionRequest) (models.ConversionResult, error) {
		if r.SourceCode == "slow" {
			<-stuck // ignores cancellation on purpose
		}
		return models.ConversionResult{Code: r.SourceCode}, nil
	})

	start := time.Now()
	rep, err := New(conv, Options{}).Run(context.Background(),
		[]models.ConversionRequest{req("a"), req("slow"), req("c")}, 3, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second, "stuck item must not block the batch")

	assert.Equal(t, StatusSucceeded, rep.Items[0].Status())
	assert.Equal(t, StatusTimedOut, rep.Items[1].Status())
	assert.ErrorIs(t, rep.Items[1].Err, dispatch.ErrTimeout)
	assert.Equal(t, StatusSucceeded, rep.Items[2].Status())
	assert.Equal(t, 1, rep.Summary.TimedOut)
	assert.Equal(t, 2, rep.Summary.Succeeded)
}

func TestQueuedItemsTimeOutWithoutStarting(t *testing.T) {
	var started atomic.Int32
	conv := converterFunc(func(ctx context.Context, _ models.ConversionRequest) (models.ConversionResult, error) {
		started.Add(1)
		<-ctx.Done()
		return models.ConversionResult{}, &dispatch.ConversionError{Kind: dispatch.KindTimeout, Message: "deadline", Err: ctx.Err()}
	})

	reqs := []models.ConversionRequest{req("a"), req("b"), req("c"), req("d")}
	rep, err := New(conv, Options{}).Run(context.Background(), reqs, 1, 30*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 4, rep.Summary.TimedOut)
	assert.Equal(t, int32(1), started.Load())
}

func TestParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	conv := converterFunc(func(ctx context.Context, _ models.ConversionRequest) (models.ConversionResult, error) {
		cancel()
		<-ctx.Done()
		return models.ConversionResult{}, ctx.Err()
	})

	rep, err := New(conv, Options{}).Run(ctx, []models.ConversionRequest{req("a"), req("b")}, 1, time.Minute)
	require.NoError(t, err)
	for _, it := range rep.Items {
		assert.Error(t, it.Err)
		assert.Equal(t, StatusFailed, it.Status())
	}
}

func TestBatchTooLarge(t *testing.T) {
	c := New(echo(nil), Options{MaxSize: 2})
	_, err := c.Run(context.Background(), []models.ConversionRequest{req("a"), req("b"), req("c")}, 1, time.Second)
	assert.ErrorIs(t, err, ErrBatchTooLarge)
}

func TestEmptyBatch(t *testing.T) {
	rep, err := New(echo(nil), Options{}).Run(context.Background(), nil, 1, time.Second)
	require.NoError(t, err)
	assert.Empty(t, rep.Items)
	assert.Zero(t, rep.Summary.Total)
}

// TestCircuitOpenItemIsolated runs a real dispatcher where the middle item's
// only provider has an open circuit breaker.
func TestCircuitOpenItemIsolated(t *testing.T) {
	reg, err := registry.New([]models.ProviderDescriptor{
		{ID: "py", Priority: 1, Languages: []string{"python", "go"}, Tier: models.TierStandard, Enabled: true},
		{ID: "rb", Priority: 1, Languages: []string{"ruby", "go"}, Tier: models.TierStandard, Enabled: true},
	})
	require.NoError(t, err)

	tr := quota.New(quota.Config{FailureThreshold: 1, Cooldown: time.Hour})
	tr.Configure("py", quota.Limits{})
	tr.Configure("rb", quota.Limits{})
	tr.RecordOutcome("rb", false)
	require.True(t, tr.IsCircuitOpen("rb"))

	good := provider.InvokerFunc(func(_ context.Context, r models.ConversionRequest, _ time.Duration) (string, error) {
		return "package main\n\nfunc main() {}\n", nil
	})
	unreachable := provider.InvokerFunc(func(context.Context, models.ConversionRequest, time.Duration) (string, error) {
		return "", errors.New("must not be called")
	})
	d := dispatch.New(reg, tr, nil, map[string]provider.Invoker{"py": good, "rb": unreachable}, dispatch.Options{})

	reqs := []models.ConversionRequest{
		{SourceCode: "print(1)", SourceLanguage: "python", TargetLanguage: "go"},
		{SourceCode: "puts 1", SourceLanguage: "ruby", TargetLanguage: "go"},
		{SourceCode: "print(3)", SourceLanguage: "python", TargetLanguage: "go"},
	}
	rep, err := New(d, Options{}).Run(context.Background(), reqs, 2, time.Second)
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, rep.Items[0].Status())
	assert.ErrorIs(t, rep.Items[1].Err, dispatch.ErrAllProvidersUnavailable)
	assert.Equal(t, StatusSucceeded, rep.Items[2].Status())
}
