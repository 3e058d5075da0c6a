// Package batch fans conversion requests out to the dispatcher under a
// concurrency cap and collects results in input order.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/pario-ai/polyglot/pkg/dispatch"
	"github.com/pario-ai/polyglot/pkg/logging"
	"github.com/pario-ai/polyglot/pkg/metrics"
	"github.com/pario-ai/polyglot/pkg/models"
)

// ErrBatchTooLarge is returned when a batch exceeds the configured size cap.
var ErrBatchTooLarge = errors.New("batch too large")

// Defaults used when Options leaves a value unset.
const (
	DefaultMaxConcurrency = 4
	DefaultTimeout        = 2 * time.Minute
)

// Converter performs one conversion.
type Converter interface {
	Convert(ctx context.Context, req models.ConversionRequest) (models.ConversionResult, error)
}

// ConverterFunc adapts a function to Converter.
type ConverterFunc func(ctx context.Context, req models.ConversionRequest) (models.ConversionResult, error)

// Convert calls f.
func (f ConverterFunc) Convert(ctx context.Context, req models.ConversionRequest) (models.ConversionResult, error) {
	return f(ctx, req)
}

// Options configures a Coordinator.
type Options struct {
	MaxConcurrency int
	Timeout        time.Duration
	MaxSize        int // zero means unlimited
	Logger         *zap.Logger
}

// Status is the final state of one batch item.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timeout"
)

// Item pairs a request with its result or error.
type Item struct {
	Index   int                      `json:"index"`
	Request models.ConversionRequest `json:"request"`
	Result  *models.ConversionResult `json:"result,omitempty"`
	Err     error                    `json:"-"`
}

// Status classifies the item.
func (it Item) Status() Status {
	switch {
	case it.Err == nil:
		return StatusSucceeded
	case errors.Is(it.Err, dispatch.ErrTimeout):
		return StatusTimedOut
	default:
		return StatusFailed
	}
}

// Summary aggregates a finished batch.
type Summary struct {
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	TimedOut  int           `json:"timed_out"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Report is the outcome of Run. Items are in input order.
type Report struct {
	ID      string  `json:"id"`
	Items   []Item  `json:"items"`
	Summary Summary `json:"summary"`
}

// Coordinator runs batches against a Converter.
type Coordinator struct {
	conv   Converter
	opts   Options
	logger *zap.Logger
}

// New creates a Coordinator.
func New(conv Converter, opts Options) *Coordinator {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Coordinator{
		conv:   conv,
		opts:   opts,
		logger: logging.OrNop(opts.Logger).Named("batch"),
	}
}

type completion struct {
	idx int
	res models.ConversionResult
	err error
}

// Run converts every request with at most maxConcurrency in flight. It
// returns once all items finish or the batch timeout elapses; items still
// outstanding at that point are reported as timed out and their late results
// are discarded. Non-positive arguments use the configured defaults.
func (c *Coordinator) Run(ctx context.Context, reqs []models.ConversionRequest, maxConcurrency int, timeout time.Duration) (Report, error) {
	if c.opts.MaxSize > 0 && len(reqs) > c.opts.MaxSize {
		return Report{}, fmt.Errorf("%w: %d requests (max %d)", ErrBatchTooLarge, len(reqs), c.opts.MaxSize)
	}
	if maxConcurrency <= 0 {
		maxConcurrency = c.opts.MaxConcurrency
	}
	if timeout <= 0 {
		timeout = c.opts.Timeout
	}

	start := time.Now()
	report := Report{ID: uuid.NewString(), Items: make([]Item, len(reqs))}
	for i, req := range reqs {
		report.Items[i] = Item{Index: i, Request: req}
	}

	bctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// buffered so late completions never block after Run returns
	done := make(chan completion, len(reqs))
	sem := semaphore.NewWeighted(int64(maxConcurrency))

	go func() {
		for i, req := range reqs {
			if err := sem.Acquire(bctx, 1); err != nil {
				return
			}
			go func() {
				defer sem.Release(1)
				res, err := c.conv.Convert(bctx, req)
				done <- completion{idx: i, res: res, err: err}
			}()
		}
	}()

	finished := make([]bool, len(reqs))
	record := func(d completion) {
		finished[d.idx] = true
		if d.err != nil {
			report.Items[d.idx].Err = d.err
			return
		}
		res := d.res
		report.Items[d.idx].Result = &res
	}

	remaining := len(reqs)
wait:
	for remaining > 0 {
		select {
		case d := <-done:
			record(d)
			remaining--
		case <-bctx.Done():
			break wait
		}
	}

	if remaining > 0 {
		// keep results that raced the deadline
	drain:
		for {
			select {
			case d := <-done:
				record(d)
			default:
				break drain
			}
		}
		for i := range report.Items {
			if !finished[i] {
				report.Items[i].Err = outstandingError(ctx, timeout)
			}
		}
	}

	report.Summary = summarize(report.Items, time.Since(start))
	metrics.BatchDuration.Observe(report.Summary.Elapsed.Seconds())
	c.logger.Info("batch completed",
		zap.String("batch_id", report.ID),
		zap.Int("total", report.Summary.Total),
		zap.Int("succeeded", report.Summary.Succeeded),
		zap.Int("failed", report.Summary.Failed),
		zap.Int("timed_out", report.Summary.TimedOut),
		zap.Duration("elapsed", report.Summary.Elapsed),
	)
	return report, nil
}

// outstandingError explains why an unfinished item was abandoned.
func outstandingError(parent context.Context, timeout time.Duration) error {
	if err := parent.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return &dispatch.ConversionError{Kind: dispatch.KindCanceled, Message: "batch canceled before the request completed", Err: err}
	}
	return &dispatch.ConversionError{
		Kind:    dispatch.KindTimeout,
		Message: fmt.Sprintf("batch timeout of %s elapsed before the request completed", timeout),
		Err:     context.DeadlineExceeded,
	}
}

func summarize(items []Item, elapsed time.Duration) Summary {
	s := Summary{Total: len(items), Elapsed: elapsed}
	for _, it := range items {
		st := it.Status()
		switch st {
		case StatusSucceeded:
			s.Succeeded++
		case StatusTimedOut:
			s.TimedOut++
		default:
			s.Failed++
		}
		metrics.BatchItemsTotal.WithLabelValues(string(st)).Inc()
	}
	return s
}
