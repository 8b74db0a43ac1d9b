package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hiltonbrown/ledgerbot-sub004/internal/mirror"
)

type memoryMirrorStore struct {
	contacts  []mirror.Contact
	entries   []mirror.LedgerEntry
	payments  []mirror.Payment
	histories map[int64]mirror.CustomerHistory
	risks     map[int64]mirror.RiskLevel

	receivableCalls int
}

func newMemoryMirrorStore() *memoryMirrorStore {
	return &memoryMirrorStore{
		histories: make(map[int64]mirror.CustomerHistory),
		risks:     make(map[int64]mirror.RiskLevel),
	}
}

func (m *memoryMirrorStore) ListOutstandingReceivables(ctx context.Context, userID string) ([]mirror.LedgerEntry, error) {
	m.receivableCalls++
	var out []mirror.LedgerEntry
	for _, e := range m.entries {
		if e.Kind == mirror.KindInvoice && e.AmountOutstanding > 0 {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memoryMirrorStore) ListBillsDueBetween(ctx context.Context, userID string, start, end time.Time) ([]mirror.LedgerEntry, error) {
	var out []mirror.LedgerEntry
	for _, e := range m.entries {
		if e.Kind != mirror.KindBill {
			continue
		}
		if e.DueDate.Before(start) || e.DueDate.After(end) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *memoryMirrorStore) ListContacts(ctx context.Context, userID string) ([]mirror.Contact, error) {
	return m.contacts, nil
}

func (m *memoryMirrorStore) ListEntries(ctx context.Context, userID string, kind mirror.EntryKind) ([]mirror.LedgerEntry, error) {
	var out []mirror.LedgerEntry
	for _, e := range m.entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memoryMirrorStore) ListPayments(ctx context.Context, userID string) ([]mirror.Payment, error) {
	return m.payments, nil
}

func (m *memoryMirrorStore) ListCustomerHistories(ctx context.Context, userID string) (map[int64]mirror.CustomerHistory, error) {
	return m.histories, nil
}

func (m *memoryMirrorStore) UpsertCustomerHistory(ctx context.Context, h *mirror.CustomerHistory) error {
	m.histories[h.ContactID] = *h
	return nil
}

func (m *memoryMirrorStore) UpdateContactRisk(ctx context.Context, contactID int64, level mirror.RiskLevel) error {
	m.risks[contactID] = level
	return nil
}

func TestRecomputeHistoriesCoversCustomersOnly(t *testing.T) {
	asOf := date("2026-06-01")
	store := newMemoryMirrorStore()
	store.contacts = []mirror.Contact{
		{ID: 1, UserID: "u1", Name: "Acme", IsCustomer: true, RiskLevel: mirror.RiskLow},
		{ID: 2, UserID: "u1", Name: "Globex", IsSupplier: true},
	}
	store.entries = []mirror.LedgerEntry{
		{ID: 10, ContactID: 1, Kind: mirror.KindInvoice, Total: 15000, AmountOutstanding: 15000,
			IssueDate: date("2026-01-01"), DueDate: date("2026-01-31"), Status: mirror.StatusAwaitingPayment},
	}
	svc := NewService(store, nil)

	processed, err := svc.RecomputeHistories(context.Background(), "u1", asOf)
	require.NoError(t, err)
	require.Equal(t, 1, processed)

	history, ok := store.histories[1]
	require.True(t, ok)
	require.Equal(t, 1, history.InvoiceCount)
	require.InDelta(t, 15000.0, history.CurrentOutstanding, 1e-9)

	// The open balance alone pushes the contact off its stored low risk.
	require.NotEqual(t, mirror.RiskLow, history.RiskLevel)
	require.Equal(t, history.RiskLevel, store.risks[1])

	// The supplier got no snapshot.
	_, ok = store.histories[2]
	require.False(t, ok)
}

func TestRecomputeHistoriesSkipsUnchangedRisk(t *testing.T) {
	asOf := date("2026-06-01")
	store := newMemoryMirrorStore()
	store.contacts = []mirror.Contact{
		{ID: 1, UserID: "u1", Name: "Acme", IsCustomer: true, RiskLevel: mirror.RiskLow},
	}
	svc := NewService(store, nil)

	processed, err := svc.RecomputeHistories(context.Background(), "u1", asOf)
	require.NoError(t, err)
	require.Equal(t, 1, processed)

	_, touched := store.risks[1]
	require.False(t, touched)
}

func TestAgeingReportUsesVersionedCache(t *testing.T) {
	cache, _ := newTestCache(t)
	store := newMemoryMirrorStore()
	store.contacts = []mirror.Contact{{ID: 1, UserID: "u1", Name: "Acme", IsCustomer: true}}
	store.entries = []mirror.LedgerEntry{
		{ID: 10, ContactID: 1, Kind: mirror.KindInvoice, AmountOutstanding: 400, DueDate: date("2026-02-01")},
	}
	svc := NewService(store, cache)
	ctx := context.Background()
	asOf := date("2026-03-15")

	first, err := svc.AgeingReport(ctx, "u1", asOf)
	require.NoError(t, err)
	require.InDelta(t, 400.0, first.Summary.TotalOutstanding, 1e-9)

	// Second read is served from cache.
	_, err = svc.AgeingReport(ctx, "u1", asOf)
	require.NoError(t, err)
	require.Equal(t, 1, store.receivableCalls)

	// Invalidation forces a recompute against the changed mirror.
	store.entries[0].AmountOutstanding = 250
	require.NoError(t, svc.InvalidateCache(ctx, "u1"))

	fresh, err := svc.AgeingReport(ctx, "u1", asOf)
	require.NoError(t, err)
	require.Equal(t, 2, store.receivableCalls)
	require.InDelta(t, 250.0, fresh.Summary.TotalOutstanding, 1e-9)
}

func TestForecastResolvesContactNames(t *testing.T) {
	store := newMemoryMirrorStore()
	store.contacts = []mirror.Contact{{ID: 2, UserID: "u1", Name: "Globex", IsSupplier: true}}
	store.entries = []mirror.LedgerEntry{
		{ID: 20, ContactID: 2, Kind: mirror.KindBill, Total: 640, DueDate: date("2026-04-06"), Status: mirror.StatusAwaitingPayment},
	}
	svc := NewService(store, nil)

	forecast, err := svc.Forecast(context.Background(), "u1", date("2026-04-01"), date("2026-04-10"), nil)
	require.NoError(t, err)

	bills := forecast.BillsByDate["2026-04-06"]
	require.Len(t, bills, 1)
	require.Equal(t, "Globex", bills[0].ContactName)
	require.InDelta(t, 640.0, forecast.Summary.TotalDue, 1e-9)
}
