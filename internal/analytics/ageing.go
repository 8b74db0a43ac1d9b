// Package analytics derives financial signals from the mirror: receivables
// ageing, customer risk scoring and payables cash-flow forecasting. The
// computations are pure functions over mirror snapshots plus a reference
// date; persistence and caching live in the service.
package analytics

import (
	"sort"
	"time"

	"github.com/hiltonbrown/ledgerbot-sub004/internal/mirror"
	"github.com/hiltonbrown/ledgerbot-sub004/internal/shared"
)

// BucketDef describes one ageing bucket's day range. MaxDays < 0 means
// unbounded.
type BucketDef struct {
	Label   string `json:"label"`
	MinDays int    `json:"minDays"`
	MaxDays int    `json:"maxDays"`
}

// BucketDefs are the four disjoint, exhaustive ageing buckets.
var BucketDefs = []BucketDef{
	{Label: "0-30", MinDays: 0, MaxDays: 30},
	{Label: "31-60", MinDays: 31, MaxDays: 60},
	{Label: "61-90", MinDays: 61, MaxDays: 90},
	{Label: "90+", MinDays: 91, MaxDays: -1},
}

// DaysOverdue returns floor((asOf − due) / 1 day). Negative when the entry is
// not yet due.
func DaysOverdue(asOf, due time.Time) int {
	return int(shared.Day(asOf).Sub(shared.Day(due)).Hours() / 24)
}

// BucketIndex maps a days-overdue value to its bucket. Entries not yet due
// fall into the first bucket alongside freshly overdue ones.
func BucketIndex(daysOverdue int) int {
	switch {
	case daysOverdue <= 30:
		return 0
	case daysOverdue <= 60:
		return 1
	case daysOverdue <= 90:
		return 2
	default:
		return 3
	}
}

// ContactBuckets is the per-contact outstanding split used by the report.
type ContactBuckets struct {
	Current    float64 `json:"current"`
	ThirtyDays float64 `json:"thirtyDays"`
	SixtyDays  float64 `json:"sixtyDays"`
	NinetyPlus float64 `json:"ninetyPlus"`
}

func (b *ContactBuckets) add(index int, amount float64) {
	switch index {
	case 0:
		b.Current += amount
	case 1:
		b.ThirtyDays += amount
	case 2:
		b.SixtyDays += amount
	default:
		b.NinetyPlus += amount
	}
}

// BucketTotal aggregates one bucket across all contacts.
type BucketTotal struct {
	BucketDef
	TotalOutstanding float64 `json:"totalOutstanding"`
	InvoiceCount     int     `json:"invoiceCount"`
}

// ContactAgeing summarises one counterparty in the ageing report.
type ContactAgeing struct {
	ContactID         int64          `json:"contactId"`
	ContactName       string         `json:"contactName"`
	TotalOutstanding  float64        `json:"totalOutstanding"`
	InvoiceCount      int            `json:"invoiceCount"`
	Buckets           ContactBuckets `json:"buckets"`
	OldestInvoiceDays int            `json:"oldestInvoiceDays"`
}

// AgeingSummary is the report's top-level totals.
type AgeingSummary struct {
	TotalOutstanding float64 `json:"totalOutstanding"`
	InvoiceCount     int     `json:"invoiceCount"`
	ContactCount     int     `json:"contactCount"`
}

// AgeingReport is the full receivables ageing picture as of a date.
type AgeingReport struct {
	AsOf     string          `json:"asOf"`
	Summary  AgeingSummary   `json:"summary"`
	Buckets  []BucketTotal   `json:"buckets"`
	Contacts []ContactAgeing `json:"contacts"`
}

// BuildAgeingReport classifies outstanding receivables into ageing buckets
// against asOf and aggregates them per counterparty. Entries with outstanding
// ≤ 0 are excluded. Bucket membership is recomputed live: it is a property of
// the reference date, not of the entry.
func BuildAgeingReport(asOf time.Time, entries []mirror.LedgerEntry, contactNames map[int64]string) AgeingReport {
	report := AgeingReport{
		AsOf:    asOf.Format("2006-01-02"),
		Buckets: make([]BucketTotal, len(BucketDefs)),
	}
	for i, def := range BucketDefs {
		report.Buckets[i].BucketDef = def
	}

	byContact := make(map[int64]*ContactAgeing)
	for _, e := range entries {
		if e.AmountOutstanding <= 0 {
			continue
		}
		days := DaysOverdue(asOf, e.DueDate)
		index := BucketIndex(days)

		report.Summary.TotalOutstanding += e.AmountOutstanding
		report.Summary.InvoiceCount++
		report.Buckets[index].TotalOutstanding += e.AmountOutstanding
		report.Buckets[index].InvoiceCount++

		ca, ok := byContact[e.ContactID]
		if !ok {
			ca = &ContactAgeing{ContactID: e.ContactID, ContactName: contactNames[e.ContactID]}
			byContact[e.ContactID] = ca
		}
		ca.TotalOutstanding += e.AmountOutstanding
		ca.InvoiceCount++
		ca.Buckets.add(index, e.AmountOutstanding)
		if days > ca.OldestInvoiceDays {
			ca.OldestInvoiceDays = days
		}
	}

	report.Contacts = make([]ContactAgeing, 0, len(byContact))
	for _, ca := range byContact {
		report.Contacts = append(report.Contacts, *ca)
	}
	sort.Slice(report.Contacts, func(i, j int) bool {
		if report.Contacts[i].TotalOutstanding != report.Contacts[j].TotalOutstanding {
			return report.Contacts[i].TotalOutstanding > report.Contacts[j].TotalOutstanding
		}
		return report.Contacts[i].ContactID < report.Contacts[j].ContactID
	})
	report.Summary.ContactCount = len(report.Contacts)

	return report
}
