package mcp

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/pario-ai/polyglot/pkg/batch"
	"github.com/pario-ai/polyglot/pkg/models"
)

// formatResult renders converted code followed by its metadata.
func formatResult(res models.ConversionResult) string {
	var b strings.Builder
	b.WriteString(res.Code)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Provider:   %s\n", res.Provider)
	fmt.Fprintf(&b, "Confidence: %d/100\n", res.Confidence)
	fmt.Fprintf(&b, "Cache hit:  %t\n", res.CacheHit)
	fmt.Fprintf(&b, "Time:       %s\n", res.ExecutionTime.Round(time.Millisecond))
	for _, w := range res.Warnings {
		fmt.Fprintf(&b, "Warning:    %s\n", w)
	}
	for _, s := range res.Suggestions {
		fmt.Fprintf(&b, "Suggestion: %s\n", s)
	}
	return b.String()
}

// formatReport renders a batch as one section per item.
func formatReport(rep batch.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Batch %s: %d succeeded, %d failed, %d timed out in %s\n",
		rep.ID, rep.Summary.Succeeded, rep.Summary.Failed, rep.Summary.TimedOut,
		rep.Summary.Elapsed.Round(time.Millisecond))
	for _, it := range rep.Items {
		fmt.Fprintf(&b, "\n[%d] %s -> %s: %s\n", it.Index, it.Request.SourceLanguage, it.Request.TargetLanguage, it.Status())
		if it.Err != nil {
			fmt.Fprintf(&b, "%v\n", it.Err)
			continue
		}
		b.WriteString(formatResult(*it.Result))
	}
	return b.String()
}

// formatProviderStatus formats provider health as a text table.
func formatProviderStatus(statuses []models.ProviderStatus) string {
	if len(statuses) == 0 {
		return "No providers configured."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-16s %-8s %-8s %10s %10s %8s %8s\n",
		"Provider", "Enabled", "Circuit", "Quota/min", "Quota/hr", "Fails", "Success")
	b.WriteString(strings.Repeat("-", 76) + "\n")
	for _, s := range statuses {
		circuit := "closed"
		if s.CircuitOpen {
			circuit = "open"
		}
		fmt.Fprintf(&b, "%-16s %-8t %-8s %10s %10s %8d %7.1f%%\n",
			s.ProviderID, s.Enabled, circuit,
			quotaString(s.QuotaRemainingMinute), quotaString(s.QuotaRemainingHour),
			s.ConsecutiveFailures, s.SuccessRate*100)
	}
	return b.String()
}

func quotaString(n int) string {
	if n < 0 {
		return "unlimited"
	}
	return humanize.Comma(int64(n))
}

// formatStats formats conversion totals as text.
func formatStats(s models.EngineStats) string {
	return fmt.Sprintf("Conversion Statistics\n"+
		"  Total:        %s\n"+
		"  Succeeded:    %s\n"+
		"  Failed:       %s\n"+
		"  Cache hits:   %s\n"+
		"  Success rate: %.1f%%\n",
		humanize.Comma(s.Total), humanize.Comma(s.Succeeded), humanize.Comma(s.Failed),
		humanize.Comma(s.CacheHits), s.SuccessRate*100)
}

// formatCacheStats formats cache stats as text.
func formatCacheStats(s models.CacheStats) string {
	return fmt.Sprintf("Cache Statistics\n"+
		"  Entries:   %d / %d\n"+
		"  Hits:      %d\n"+
		"  Misses:    %d\n"+
		"  Hit Rate:  %.1f%%\n"+
		"  Evictions: %d\n"+
		"  Expired:   %d\n"+
		"  Corrupted: %d\n",
		s.Entries, s.Capacity, s.Hits, s.Misses, s.HitRate()*100, s.Evictions, s.Expired, s.Corrupted)
}

func formatCleared(n int, expiredOnly bool) string {
	if expiredOnly {
		return fmt.Sprintf("Removed %d expired cache entries.", n)
	}
	return fmt.Sprintf("Cleared %d cache entries.", n)
}

// formatHistory formats conversion records as a text table.
func formatHistory(recs []models.ConversionRecord) string {
	if len(recs) == 0 {
		return "No conversions recorded."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-24s %-12s %-10s %6s %10s\n",
		"Time", "Pair", "Provider", "Outcome", "Score", "Duration")
	b.WriteString(strings.Repeat("-", 87) + "\n")
	for _, r := range recs {
		outcome := "ok"
		switch {
		case !r.Succeeded:
			outcome = r.ErrorKind
		case r.CacheHit:
			outcome = "cached"
		}
		provider := r.Provider
		if provider == "" {
			provider = "-"
		}
		fmt.Fprintf(&b, "%-20s %-24s %-12s %-10s %6d %10s\n",
			r.CreatedAt.UTC().Format("2006-01-02T15:04:05"),
			r.SourceLanguage+" -> "+r.TargetLanguage,
			provider, outcome, r.Confidence, r.Duration.Round(time.Millisecond))
	}
	return b.String()
}
