package models

import (
	"slices"
	"time"
)

// ProviderTier is the quality class of a backend, used as the scoring baseline.
type ProviderTier string

const (
	TierPremium  ProviderTier = "premium"
	TierStandard ProviderTier = "standard"
	TierEconomy  ProviderTier = "economy"
)

// ProviderDescriptor is the static, immutable record of a configured backend.
type ProviderDescriptor struct {
	ID                string        `json:"id"`
	Priority          int           `json:"priority"`
	Languages         []string      `json:"languages,omitempty"`
	RequestsPerMinute int           `json:"requests_per_minute"`
	RequestsPerHour   int           `json:"requests_per_hour"`
	CostWeight        float64       `json:"cost_weight"`
	Tier              ProviderTier  `json:"tier"`
	AvgLatency        time.Duration `json:"avg_latency"`
	Enabled           bool          `json:"enabled"`
}

// Supports reports whether the provider accepts the language pair.
// An empty language list accepts every pair.
func (d ProviderDescriptor) Supports(source, target string) bool {
	if len(d.Languages) == 0 {
		return true
	}
	return slices.Contains(d.Languages, source) && slices.Contains(d.Languages, target)
}

// ProviderStatus is the read-only health view of one provider.
// Remaining quota is -1 when the window is unlimited.
type ProviderStatus struct {
	ProviderID           string     `json:"provider_id"`
	Enabled              bool       `json:"enabled"`
	CircuitOpen          bool       `json:"circuit_open"`
	CircuitOpenUntil     *time.Time `json:"circuit_open_until,omitempty"`
	QuotaRemainingMinute int        `json:"quota_remaining_minute"`
	QuotaRemainingHour   int        `json:"quota_remaining_hour"`
	ConsecutiveFailures  int        `json:"consecutive_failures"`
	LastFailure          *time.Time `json:"last_failure,omitempty"`
	SuccessRate          float64    `json:"success_rate"`
}

// QuotaRemaining is the tighter of the two windows, or -1 when both are unlimited.
func (s ProviderStatus) QuotaRemaining() int {
	switch {
	case s.QuotaRemainingMinute < 0:
		return s.QuotaRemainingHour
	case s.QuotaRemainingHour < 0:
		return s.QuotaRemainingMinute
	default:
		return min(s.QuotaRemainingMinute, s.QuotaRemainingHour)
	}
}
