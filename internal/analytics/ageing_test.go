package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hiltonbrown/ledgerbot-sub004/internal/mirror"
)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestBucketIndexBoundaries(t *testing.T) {
	cases := []struct {
		daysOverdue int
		want        int
	}{
		{-10, 0},
		{0, 0},
		{30, 0},
		{31, 1},
		{60, 1},
		{61, 2},
		{90, 2},
		{91, 3},
		{400, 3},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, BucketIndex(tc.daysOverdue), "daysOverdue=%d", tc.daysOverdue)
	}
}

func TestDaysOverdueIgnoresTimeOfDay(t *testing.T) {
	asOf := time.Date(2026, 3, 15, 23, 59, 0, 0, time.UTC)
	due := time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC)
	require.Equal(t, 5, DaysOverdue(asOf, due))

	require.Equal(t, -5, DaysOverdue(due, asOf))
}

func TestBuildAgeingReportClassifiesByReferenceDate(t *testing.T) {
	asOf := date("2026-03-15")
	entries := []mirror.LedgerEntry{
		{ID: 1, ContactID: 1, AmountOutstanding: 100, DueDate: asOf.AddDate(0, 0, -30)},
		{ID: 2, ContactID: 1, AmountOutstanding: 200, DueDate: asOf.AddDate(0, 0, -31)},
		{ID: 3, ContactID: 2, AmountOutstanding: 300, DueDate: asOf.AddDate(0, 0, -90)},
		{ID: 4, ContactID: 2, AmountOutstanding: 400, DueDate: asOf.AddDate(0, 0, -91)},
		// Not yet due lands in the first bucket.
		{ID: 5, ContactID: 1, AmountOutstanding: 50, DueDate: asOf.AddDate(0, 0, 10)},
	}
	names := map[int64]string{1: "Acme", 2: "Globex"}

	report := BuildAgeingReport(asOf, entries, names)

	require.Equal(t, "2026-03-15", report.AsOf)
	require.InDelta(t, 1050.0, report.Summary.TotalOutstanding, 1e-9)
	require.Equal(t, 5, report.Summary.InvoiceCount)
	require.Equal(t, 2, report.Summary.ContactCount)

	require.InDelta(t, 150.0, report.Buckets[0].TotalOutstanding, 1e-9)
	require.InDelta(t, 200.0, report.Buckets[1].TotalOutstanding, 1e-9)
	require.InDelta(t, 300.0, report.Buckets[2].TotalOutstanding, 1e-9)
	require.InDelta(t, 400.0, report.Buckets[3].TotalOutstanding, 1e-9)
	require.Equal(t, 2, report.Buckets[0].InvoiceCount)

	// Sorted by outstanding, largest first.
	require.Equal(t, int64(2), report.Contacts[0].ContactID)
	require.Equal(t, "Globex", report.Contacts[0].ContactName)
	require.InDelta(t, 700.0, report.Contacts[0].TotalOutstanding, 1e-9)
	require.Equal(t, 91, report.Contacts[0].OldestInvoiceDays)

	require.Equal(t, int64(1), report.Contacts[1].ContactID)
	require.InDelta(t, 150.0, report.Contacts[1].Buckets.Current, 1e-9)
	require.InDelta(t, 200.0, report.Contacts[1].Buckets.ThirtyDays, 1e-9)
}

func TestBuildAgeingReportExcludesSettledEntries(t *testing.T) {
	asOf := date("2026-03-15")
	entries := []mirror.LedgerEntry{
		{ID: 1, ContactID: 1, AmountOutstanding: 0, DueDate: asOf.AddDate(0, 0, -40)},
		{ID: 2, ContactID: 1, AmountOutstanding: -25, DueDate: asOf.AddDate(0, 0, -40)},
	}

	report := BuildAgeingReport(asOf, entries, nil)

	require.Zero(t, report.Summary.TotalOutstanding)
	require.Zero(t, report.Summary.InvoiceCount)
	require.Empty(t, report.Contacts)
}

func TestBucketTotalsSumToOutstanding(t *testing.T) {
	asOf := date("2026-03-15")
	entries := []mirror.LedgerEntry{
		{ID: 1, ContactID: 1, AmountOutstanding: 123.45, DueDate: asOf.AddDate(0, 0, -5)},
		{ID: 2, ContactID: 2, AmountOutstanding: 67.89, DueDate: asOf.AddDate(0, 0, -45)},
		{ID: 3, ContactID: 3, AmountOutstanding: 10.66, DueDate: asOf.AddDate(0, 0, -100)},
	}

	report := BuildAgeingReport(asOf, entries, nil)

	var bucketSum float64
	for _, b := range report.Buckets {
		bucketSum += b.TotalOutstanding
	}
	require.InDelta(t, report.Summary.TotalOutstanding, bucketSum, 1e-9)
}
