package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/hiltonbrown/ledgerbot-sub004/internal/mirror"
)

// Risk score weights. The composite lands on a 0–100 scale; any component
// increase moves the score strictly upward.
const (
	weightLateRatio   = 40.0
	weightLateness    = 20.0
	weightOutstanding = 25.0
	weightExposure    = 15.0

	latenessSaturationDays    = 60.0
	outstandingSaturation     = 20000.0
	exposureSaturation        = 10000.0
	defaultCreditTermDays     = 30
)

var creditTermSteps = []int{7, 14, 30, 60, 90}

// ComputeCustomerHistory derives the full per-contact snapshot from the
// contact's mirrored invoices and payments. It is recomputed from scratch on
// every sync run, so risk data only reflects activity after a run completes.
func ComputeCustomerHistory(contact mirror.Contact, invoices []mirror.LedgerEntry, paymentsByEntry map[int64][]mirror.Payment, asOf time.Time) mirror.CustomerHistory {
	history := mirror.CustomerHistory{
		UserID:         contact.UserID,
		ContactID:      contact.ID,
		CreditTermDays: defaultCreditTermDays,
	}

	var (
		lateDaysTotal int
		lastPayment   time.Time
		termSamples   []int
	)

	for _, inv := range invoices {
		if inv.Status == mirror.StatusVoided || inv.Status == mirror.StatusCancelled {
			continue
		}
		history.InvoiceCount++

		if !inv.IssueDate.IsZero() && !inv.DueDate.IsZero() {
			termSamples = append(termSamples, DaysOverdue(inv.DueDate, inv.IssueDate))
		}

		if inv.AmountOutstanding > 0 {
			history.CurrentOutstanding += inv.AmountOutstanding
			if inv.AmountOutstanding > history.LargestOutstanding {
				history.LargestOutstanding = inv.AmountOutstanding
			}
		}

		settledAt := settlementDate(paymentsByEntry[inv.ID])
		if !settledAt.IsZero() && settledAt.After(lastPayment) {
			lastPayment = settledAt
		}
		if inv.Status == mirror.StatusPaid && !settledAt.IsZero() && !inv.DueDate.IsZero() {
			if late := DaysOverdue(settledAt, inv.DueDate); late > 0 {
				history.LatePaymentCount++
				lateDaysTotal += late
			}
		}
	}

	if history.LatePaymentCount > 0 {
		history.AvgDaysLate = float64(lateDaysTotal) / float64(history.LatePaymentCount)
	}
	if !lastPayment.IsZero() {
		history.LastPaymentAt = &lastPayment
	}
	if term := inferCreditTerm(termSamples); term > 0 {
		history.CreditTermDays = term
	}

	history.RiskScore = riskScore(history)
	history.RiskLevel = RiskLevelFor(history.RiskScore)
	return history
}

// settlementDate is the most recent payment date against an entry.
func settlementDate(payments []mirror.Payment) time.Time {
	var latest time.Time
	for _, p := range payments {
		if p.PaidAt.After(latest) {
			latest = p.PaidAt
		}
	}
	return latest
}

// inferCreditTerm snaps the median issue→due gap to a conventional term.
func inferCreditTerm(samples []int) int {
	if len(samples) == 0 {
		return 0
	}
	sort.Ints(samples)
	median := samples[len(samples)/2]

	best := creditTermSteps[0]
	for _, step := range creditTermSteps[1:] {
		if math.Abs(float64(median-step)) < math.Abs(float64(median-best)) {
			best = step
		}
	}
	return best
}

func riskScore(h mirror.CustomerHistory) float64 {
	var score float64
	if h.InvoiceCount > 0 {
		score += weightLateRatio * float64(h.LatePaymentCount) / float64(h.InvoiceCount)
	}
	score += weightLateness * saturate(h.AvgDaysLate/latenessSaturationDays)
	score += weightOutstanding * saturate(h.CurrentOutstanding/outstandingSaturation)
	score += weightExposure * saturate(h.LargestOutstanding/exposureSaturation)
	return math.Round(score*100) / 100
}

func saturate(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// RiskLevelFor maps a composite score onto the four risk classes.
func RiskLevelFor(score float64) mirror.RiskLevel {
	switch {
	case score < 25:
		return mirror.RiskLow
	case score < 50:
		return mirror.RiskMedium
	case score < 75:
		return mirror.RiskHigh
	default:
		return mirror.RiskCritical
	}
}

// RiskRank orders risk levels for "highest risk in a set" summaries.
func RiskRank(level mirror.RiskLevel) int {
	switch level {
	case mirror.RiskCritical:
		return 3
	case mirror.RiskHigh:
		return 2
	case mirror.RiskMedium:
		return 1
	default:
		return 0
	}
}
