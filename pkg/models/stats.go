package models

import "time"

// CacheStats reports result cache performance metrics.
type CacheStats struct {
	Entries   int    `json:"entries"`
	Capacity  int    `json:"capacity"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Expired   uint64 `json:"expired"`
	Corrupted uint64 `json:"corrupted"`
}

// HitRate returns hits / (hits + misses), or zero before the first lookup.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// EngineStats aggregates conversion outcomes since process start.
type EngineStats struct {
	Total       int64   `json:"total_conversions"`
	Succeeded   int64   `json:"succeeded"`
	Failed      int64   `json:"failed"`
	CacheHits   int64   `json:"cache_hits"`
	SuccessRate float64 `json:"success_rate"`
}

// EngineSettings is the client-facing view of the running configuration.
// It never carries provider credentials.
type EngineSettings struct {
	Languages      []string          `json:"languages"`
	Styles         []ConversionStyle `json:"conversion_styles"`
	MaxSourceBytes int               `json:"max_source_bytes"`
	MaxBatchSize   int               `json:"max_batch_size"`
	MaxConcurrency int               `json:"max_concurrency"`
	CallTimeout    time.Duration     `json:"call_timeout"`
	BatchTimeout   time.Duration     `json:"batch_timeout"`
	CacheEnabled   bool              `json:"cache_enabled"`
	HistoryEnabled bool              `json:"history_enabled"`
}
