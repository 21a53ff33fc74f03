// Package scoring holds the pure functions that map a client's payment
// history onto risk and recovery estimates. Everything here is deterministic
// and side-effect free; the analyzer and payment monitor both depend on it.
package scoring

import (
	"math"
	"time"
)

// RiskLevel classifies how likely an invoice is to go bad.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// BehaviorTier grades a client from best (A) to worst (D).
type BehaviorTier string

const (
	TierA BehaviorTier = "A"
	TierB BehaviorTier = "B"
	TierC BehaviorTier = "C"
	TierD BehaviorTier = "D"
)

// Risk maps payment score and overdue duration to a risk level. Monotonic:
// a higher score never raises risk, more overdue days never lower it.
func Risk(paymentScore, daysOverdue int) RiskLevel {
	idx := float64(100-clampScore(paymentScore)) + 1.5*float64(max(0, daysOverdue))
	switch {
	case idx < 40:
		return RiskLow
	case idx < 70:
		return RiskMedium
	case idx < 100:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// RecoveryLikelihood estimates the probability an outstanding invoice is
// eventually paid, bounded to [0,1]. Monotonic in both inputs: higher score
// raises it, more overdue days lower it.
func RecoveryLikelihood(paymentScore, daysOverdue int) float64 {
	p := 0.20 + 0.008*float64(clampScore(paymentScore)) - 0.006*float64(max(0, daysOverdue))
	return math.Min(1, math.Max(0, p))
}

// TierForScore derives the behavior tier from a payment score.
func TierForScore(score int) BehaviorTier {
	switch {
	case score >= 85:
		return TierA
	case score >= 70:
		return TierB
	case score >= 50:
		return TierC
	default:
		return TierD
	}
}

// PaidInvoice is the slice of invoice history the recompute needs.
type PaidInvoice struct {
	DueAt  time.Time
	PaidAt time.Time
}

// FromHistory recomputes the payment score and the average days-to-payment
// from the full set of paid invoices. A full recompute (rather than patching
// the previous score) keeps the score from drifting as corrections land.
// Days-to-payment is signed: negative means the client pays early.
func FromHistory(paid []PaidInvoice) (score int, avgDaysToPay int) {
	if len(paid) == 0 {
		return 50, 0
	}
	var sumDays, sumLate float64
	for _, p := range paid {
		days := p.PaidAt.Sub(p.DueAt).Hours() / 24
		sumDays += days
		if days > 0 {
			sumLate += days
		}
	}
	avgDays := sumDays / float64(len(paid))
	avgLate := sumLate / float64(len(paid))

	score = clampScore(int(math.Round(100 - 2.0*avgLate)))
	return score, int(math.Round(avgDays))
}

func clampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
