package models

import "time"

// ConversionRecord is one logged conversion outcome.
// Provider is empty when no backend produced output.
type ConversionRecord struct {
	ID             int64         `json:"id"`
	SourceLanguage string        `json:"source_language"`
	TargetLanguage string        `json:"target_language"`
	Provider       string        `json:"provider,omitempty"`
	Succeeded      bool          `json:"succeeded"`
	ErrorKind      string        `json:"error_kind,omitempty"`
	Confidence     int           `json:"confidence"`
	CacheHit       bool          `json:"cache_hit"`
	Attempts       int           `json:"attempts"`
	SourceBytes    int           `json:"source_bytes"`
	OutputBytes    int           `json:"output_bytes"`
	Duration       time.Duration `json:"duration"`
	CreatedAt      time.Time     `json:"created_at"`
}

// HistorySummary aggregates records by language pair and provider.
type HistorySummary struct {
	SourceLanguage string        `json:"source_language"`
	TargetLanguage string        `json:"target_language"`
	Provider       string        `json:"provider"`
	Conversions    int64         `json:"conversions"`
	Succeeded      int64         `json:"succeeded"`
	CacheHits      int64         `json:"cache_hits"`
	AvgConfidence  float64       `json:"avg_confidence"`
	AvgDuration    time.Duration `json:"avg_duration"`
}

// SuccessRate returns succeeded / conversions, or zero when empty.
func (s HistorySummary) SuccessRate() float64 {
	if s.Conversions == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Conversions)
}
