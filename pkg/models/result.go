package models

import (
	"slices"
	"time"
)

// ConversionResult is the outcome of a successful conversion.
type ConversionResult struct {
	Code          string        `json:"code"`
	Confidence    int           `json:"confidence"`
	Warnings      []string      `json:"warnings,omitempty"`
	Suggestions   []string      `json:"suggestions,omitempty"`
	ExecutionTime time.Duration `json:"execution_time"`
	Provider      string        `json:"provider"`
	CacheHit      bool          `json:"cache_hit"`
	// Attempts is the number of providers tried before this result was produced.
	Attempts int `json:"attempts"`
}

// Clone returns a deep copy so callers can never share slice backing arrays.
func (r ConversionResult) Clone() ConversionResult {
	r.Warnings = slices.Clone(r.Warnings)
	r.Suggestions = slices.Clone(r.Suggestions)
	return r
}
