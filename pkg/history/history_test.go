package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pario-ai/polyglot/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func record(src, dst, provider string, ok bool, confidence int, at time.Time) models.ConversionRecord {
	r := models.ConversionRecord{
		SourceLanguage: src,
		TargetLanguage: dst,
		Provider:       provider,
		Succeeded:      ok,
		Confidence:     confidence,
		Attempts:       1,
		SourceBytes:    42,
		Duration:       200 * time.Millisecond,
		CreatedAt:      at,
	}
	if !ok {
		r.Provider = ""
		r.Confidence = 0
		r.ErrorKind = "all_providers_unavailable"
	}
	return r
}

func TestRecordAndRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	for i := range 3 {
		if err := s.Record(ctx, record("python", "go", "a", true, 80+i, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatal(err)
		}
	}

	recs, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Confidence != 82 {
		t.Errorf("newest first: confidence = %d, want 82", recs[0].Confidence)
	}
	if !recs[0].CreatedAt.Equal(base.Add(2 * time.Second)) {
		t.Errorf("created_at = %v", recs[0].CreatedAt)
	}
	if recs[0].Duration != 200*time.Millisecond || !recs[0].Succeeded {
		t.Errorf("unexpected record: %+v", recs[0])
	}

	all, err := s.Recent(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("expected all 3 records, got %d", len(all))
	}
}

func TestSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	_ = s.Record(ctx, record("python", "go", "a", true, 80, base))
	_ = s.Record(ctx, record("python", "go", "a", true, 90, base))
	_ = s.Record(ctx, record("python", "go", "", false, 0, base))
	_ = s.Record(ctx, record("java", "rust", "b", true, 70, base.Add(-time.Hour)))

	sums, err := s.Summary(ctx, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(sums) != 3 {
		t.Fatalf("expected 3 groups, got %d: %+v", len(sums), sums)
	}
	top := sums[0]
	if top.Provider != "a" || top.Conversions != 2 || top.Succeeded != 2 {
		t.Errorf("unexpected top group: %+v", top)
	}
	if top.AvgConfidence != 85 {
		t.Errorf("avg confidence = %v, want 85", top.AvgConfidence)
	}
	if top.SuccessRate() != 1 {
		t.Errorf("success rate = %v, want 1", top.SuccessRate())
	}

	recent, err := s.Summary(ctx, base.Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	for _, h := range recent {
		if h.SourceLanguage == "java" {
			t.Errorf("record before since should be excluded: %+v", h)
		}
	}
}

func TestTotalsAndPrune(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	_ = s.Record(ctx, record("python", "go", "a", true, 80, base.Add(-48*time.Hour)))
	_ = s.Record(ctx, record("python", "go", "", false, 0, base))

	total, ok, err := s.Totals(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || ok != 1 {
		t.Errorf("totals = %d/%d, want 2/1", total, ok)
	}

	n, err := s.Prune(ctx, base.Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("pruned = %d, want 1", n)
	}
	total, _, _ = s.Totals(ctx)
	if total != 1 {
		t.Errorf("total after prune = %d, want 1", total)
	}
}

func TestTotalsEmpty(t *testing.T) {
	s := newTestStore(t)
	total, ok, err := s.Totals(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if total != 0 || ok != 0 {
		t.Errorf("totals = %d/%d, want 0/0", total, ok)
	}
}
