package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hiltonbrown/ledgerbot-sub004/internal/mirror"
)

func paidInvoice(id int64, issue, due time.Time, total float64) mirror.LedgerEntry {
	return mirror.LedgerEntry{
		ID:         id,
		Kind:       mirror.KindInvoice,
		IssueDate:  issue,
		DueDate:    due,
		Total:      total,
		AmountPaid: total,
		Status:     mirror.StatusPaid,
	}
}

func TestComputeCustomerHistoryWorseBehaviourScoresHigher(t *testing.T) {
	asOf := date("2026-06-01")
	contact := mirror.Contact{ID: 1, UserID: "u1", IsCustomer: true}

	// Risky: ten invoices, three settled well past due, a large open balance.
	var risky []mirror.LedgerEntry
	payments := make(map[int64][]mirror.Payment)
	for i := int64(1); i <= 10; i++ {
		issue := asOf.AddDate(0, -int(i), 0)
		due := issue.AddDate(0, 0, 30)
		inv := paidInvoice(i, issue, due, 1000)
		if i <= 3 {
			payments[i] = []mirror.Payment{{LedgerEntryID: i, Amount: 1000, PaidAt: due.AddDate(0, 0, 20)}}
		} else {
			payments[i] = []mirror.Payment{{LedgerEntryID: i, Amount: 1000, PaidAt: due.AddDate(0, 0, -1)}}
		}
		risky = append(risky, inv)
	}
	risky = append(risky, mirror.LedgerEntry{
		ID: 11, Kind: mirror.KindInvoice,
		IssueDate: asOf.AddDate(0, 0, -60), DueDate: asOf.AddDate(0, 0, -30),
		Total: 12000, AmountOutstanding: 12000, Status: mirror.StatusAwaitingPayment,
	})

	// Clean: same volume, every invoice settled early, nothing open.
	var clean []mirror.LedgerEntry
	cleanPayments := make(map[int64][]mirror.Payment)
	for i := int64(1); i <= 10; i++ {
		issue := asOf.AddDate(0, -int(i), 0)
		due := issue.AddDate(0, 0, 30)
		clean = append(clean, paidInvoice(i, issue, due, 1000))
		cleanPayments[i] = []mirror.Payment{{LedgerEntryID: i, Amount: 1000, PaidAt: due.AddDate(0, 0, -5)}}
	}

	riskyHistory := ComputeCustomerHistory(contact, risky, payments, asOf)
	cleanHistory := ComputeCustomerHistory(contact, clean, cleanPayments, asOf)

	require.Equal(t, 3, riskyHistory.LatePaymentCount)
	require.InDelta(t, 20.0, riskyHistory.AvgDaysLate, 1e-9)
	require.InDelta(t, 12000.0, riskyHistory.CurrentOutstanding, 1e-9)
	require.Zero(t, cleanHistory.LatePaymentCount)
	require.Zero(t, cleanHistory.CurrentOutstanding)

	require.Greater(t, riskyHistory.RiskScore, cleanHistory.RiskScore)
	require.Equal(t, mirror.RiskLow, cleanHistory.RiskLevel)
	require.GreaterOrEqual(t, RiskRank(riskyHistory.RiskLevel), RiskRank(mirror.RiskMedium))
}

func TestComputeCustomerHistorySkipsVoidedInvoices(t *testing.T) {
	asOf := date("2026-06-01")
	contact := mirror.Contact{ID: 2, UserID: "u1", IsCustomer: true}
	invoices := []mirror.LedgerEntry{
		{ID: 1, Kind: mirror.KindInvoice, Status: mirror.StatusVoided, Total: 500, AmountOutstanding: 500},
		{ID: 2, Kind: mirror.KindInvoice, Status: mirror.StatusCancelled, Total: 300, AmountOutstanding: 300},
	}

	history := ComputeCustomerHistory(contact, invoices, nil, asOf)

	require.Zero(t, history.InvoiceCount)
	require.Zero(t, history.CurrentOutstanding)
	require.Equal(t, mirror.RiskLow, history.RiskLevel)
}

func TestComputeCustomerHistoryTracksLastPayment(t *testing.T) {
	asOf := date("2026-06-01")
	contact := mirror.Contact{ID: 3, UserID: "u1", IsCustomer: true}
	issue := date("2026-01-01")
	due := date("2026-01-31")
	invoices := []mirror.LedgerEntry{paidInvoice(1, issue, due, 900)}
	payments := map[int64][]mirror.Payment{
		1: {
			{LedgerEntryID: 1, Amount: 400, PaidAt: date("2026-01-20")},
			{LedgerEntryID: 1, Amount: 500, PaidAt: date("2026-02-05")},
		},
	}

	history := ComputeCustomerHistory(contact, invoices, payments, asOf)

	require.NotNil(t, history.LastPaymentAt)
	require.Equal(t, date("2026-02-05"), *history.LastPaymentAt)
	// Settlement is the final payment, five days past due.
	require.Equal(t, 1, history.LatePaymentCount)
	require.InDelta(t, 5.0, history.AvgDaysLate, 1e-9)
}

func TestInferCreditTermSnapsToConventionalSteps(t *testing.T) {
	cases := []struct {
		samples []int
		want    int
	}{
		{nil, 0},
		{[]int{30, 30, 30}, 30},
		{[]int{28, 31, 33}, 30},
		{[]int{6, 7, 9}, 7},
		{[]int{80, 85, 95}, 90},
		{[]int{45}, 30},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, inferCreditTerm(tc.samples), "samples=%v", tc.samples)
	}
}

func TestRiskLevelThresholds(t *testing.T) {
	require.Equal(t, mirror.RiskLow, RiskLevelFor(0))
	require.Equal(t, mirror.RiskLow, RiskLevelFor(24.99))
	require.Equal(t, mirror.RiskMedium, RiskLevelFor(25))
	require.Equal(t, mirror.RiskHigh, RiskLevelFor(50))
	require.Equal(t, mirror.RiskCritical, RiskLevelFor(75))
	require.Equal(t, mirror.RiskCritical, RiskLevelFor(100))
}
