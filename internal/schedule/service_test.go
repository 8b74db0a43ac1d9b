package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/hiltonbrown/ledgerbot-sub004/internal/analytics"
	"github.com/hiltonbrown/ledgerbot-sub004/internal/mirror"
	"github.com/hiltonbrown/ledgerbot-sub004/internal/platform/httpx"
)

type memoryScheduleRepo struct {
	schedules map[uuid.UUID]*PaymentSchedule
}

func newMemoryScheduleRepo() *memoryScheduleRepo {
	return &memoryScheduleRepo{schedules: make(map[uuid.UUID]*PaymentSchedule)}
}

func (r *memoryScheduleRepo) Create(ctx context.Context, s *PaymentSchedule) error {
	clone := *s
	r.schedules[s.ID] = &clone
	return nil
}

func (r *memoryScheduleRepo) Get(ctx context.Context, userID string, id uuid.UUID) (*PaymentSchedule, error) {
	s, ok := r.schedules[id]
	if !ok || s.UserID != userID {
		return nil, ErrNotFound
	}
	clone := *s
	return &clone, nil
}

func (r *memoryScheduleRepo) List(ctx context.Context, userID string, statuses []Status) ([]PaymentSchedule, error) {
	var out []PaymentSchedule
	for _, s := range r.schedules {
		if s.UserID != userID {
			continue
		}
		if len(statuses) > 0 {
			match := false
			for _, status := range statuses {
				if s.Status == status {
					match = true
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, *s)
	}
	return out, nil
}

func (r *memoryScheduleRepo) ListByDateRange(ctx context.Context, userID string, start, end time.Time) ([]PaymentSchedule, error) {
	var out []PaymentSchedule
	for _, s := range r.schedules {
		if s.UserID != userID || s.Status == StatusCancelled {
			continue
		}
		if s.ScheduledDate.Before(start) || s.ScheduledDate.After(end) {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

func (r *memoryScheduleRepo) UpdateStatus(ctx context.Context, userID string, id uuid.UUID, from []Status, to Status) error {
	s, ok := r.schedules[id]
	if !ok || s.UserID != userID {
		return ErrNotFound
	}
	for _, f := range from {
		if s.Status == f {
			s.Status = to
			return nil
		}
	}
	return ErrInvalidTransition
}

func (r *memoryScheduleRepo) DraftAllocations(ctx context.Context, userID string) (map[int64]float64, error) {
	out := make(map[int64]float64)
	for _, s := range r.schedules {
		if s.UserID != userID || s.Status != StatusDraft {
			continue
		}
		for _, item := range s.Items {
			out[item.LedgerEntryID] += item.Amount
		}
	}
	return out, nil
}

type memoryEntryStore struct {
	entries  map[int64]mirror.LedgerEntry
	contacts []mirror.Contact
}

func (s *memoryEntryStore) GetEntriesByIDs(ctx context.Context, userID string, ids []int64) ([]mirror.LedgerEntry, error) {
	var out []mirror.LedgerEntry
	for _, id := range ids {
		if e, ok := s.entries[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memoryEntryStore) ListContacts(ctx context.Context, userID string) ([]mirror.Contact, error) {
	return s.contacts, nil
}

type stubAnalytics struct {
	lastAllocations map[int64]float64
}

func (s *stubAnalytics) Forecast(ctx context.Context, userID string, start, end time.Time, allocations map[int64]float64) (analytics.Forecast, error) {
	s.lastAllocations = allocations
	return analytics.Forecast{BillsByDate: map[string][]analytics.BillDue{}}, nil
}

func (s *stubAnalytics) Histories(ctx context.Context, userID string) (map[int64]mirror.CustomerHistory, error) {
	return nil, nil
}

func testEntryStore() *memoryEntryStore {
	due := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	return &memoryEntryStore{
		entries: map[int64]mirror.LedgerEntry{
			1: {ID: 1, Kind: mirror.KindBill, ContactID: 10, Total: 500, Status: mirror.StatusAwaitingPayment, DueDate: due},
			2: {ID: 2, Kind: mirror.KindBill, ContactID: 11, Total: 300, AmountPaid: 100, Status: mirror.StatusAwaitingPayment, DueDate: due},
			3: {ID: 3, Kind: mirror.KindInvoice, ContactID: 10, Total: 900, Status: mirror.StatusAwaitingPayment, DueDate: due},
			4: {ID: 4, Kind: mirror.KindBill, ContactID: 11, Total: 250, AmountPaid: 250, Status: mirror.StatusPaid, DueDate: due},
		},
		contacts: []mirror.Contact{
			{ID: 10, RiskLevel: mirror.RiskLow},
			{ID: 11, RiskLevel: mirror.RiskHigh},
		},
	}
}

func newTestScheduleService() (*Service, *memoryScheduleRepo, *stubAnalytics) {
	repo := newMemoryScheduleRepo()
	stub := &stubAnalytics{}
	return NewService(repo, testEntryStore(), stub), repo, stub
}

func TestCreateDefaultsToFullRemainingAmounts(t *testing.T) {
	svc, repo, _ := newTestScheduleService()

	run, err := svc.Create(context.Background(), "u1", CreateRequest{
		Name:          "May run",
		ScheduledDate: "2026-05-08",
		BillIDs:       []int64{1, 2},
	})
	require.NoError(t, err)

	require.Equal(t, StatusDraft, run.Status)
	require.Equal(t, 2, run.BillCount)
	require.InDelta(t, 700.0, run.TotalAmount, 1e-9)
	require.Equal(t, mirror.RiskHigh, run.HighestRisk)
	require.Len(t, run.Items, 2)
	require.InDelta(t, 500.0, run.Items[0].Amount, 1e-9)
	require.InDelta(t, 200.0, run.Items[1].Amount, 1e-9)

	stored, err := repo.Get(context.Background(), "u1", run.ID)
	require.NoError(t, err)
	require.Equal(t, run.Name, stored.Name)
}

func TestCreateHonoursPartialAllocations(t *testing.T) {
	svc, _, _ := newTestScheduleService()

	run, err := svc.Create(context.Background(), "u1", CreateRequest{
		Name:          "Partial",
		ScheduledDate: "2026-05-08",
		BillIDs:       []int64{1},
		Items:         []ItemRequest{{BillID: 1, Amount: 200}},
	})
	require.NoError(t, err)
	require.InDelta(t, 200.0, run.TotalAmount, 1e-9)
	require.InDelta(t, 200.0, run.Items[0].Amount, 1e-9)
}

func TestCreateRejectsBadRequests(t *testing.T) {
	svc, _, _ := newTestScheduleService()
	ctx := context.Background()

	cases := []struct {
		name string
		req  CreateRequest
	}{
		{"missing name", CreateRequest{ScheduledDate: "2026-05-08", BillIDs: []int64{1}}},
		{"bad date", CreateRequest{Name: "x", ScheduledDate: "08/05/2026", BillIDs: []int64{1}}},
		{"no bills", CreateRequest{Name: "x", ScheduledDate: "2026-05-08"}},
		{"unknown bill", CreateRequest{Name: "x", ScheduledDate: "2026-05-08", BillIDs: []int64{99}}},
		{"not a bill", CreateRequest{Name: "x", ScheduledDate: "2026-05-08", BillIDs: []int64{3}}},
		{"already paid", CreateRequest{Name: "x", ScheduledDate: "2026-05-08", BillIDs: []int64{4}}},
		{"item outside billIds", CreateRequest{Name: "x", ScheduledDate: "2026-05-08", BillIDs: []int64{1}, Items: []ItemRequest{{BillID: 2, Amount: 50}}}},
		{"over-allocation", CreateRequest{Name: "x", ScheduledDate: "2026-05-08", BillIDs: []int64{2}, Items: []ItemRequest{{BillID: 2, Amount: 250}}}},
		{"duplicate item", CreateRequest{Name: "x", ScheduledDate: "2026-05-08", BillIDs: []int64{1}, Items: []ItemRequest{{BillID: 1, Amount: 50}, {BillID: 1, Amount: 60}}}},
	}
	for _, tc := range cases {
		_, err := svc.Create(ctx, "u1", tc.req)
		require.ErrorIs(t, err, httpx.ErrValidation, tc.name)
	}
}

func TestScheduleLifecycle(t *testing.T) {
	svc, _, _ := newTestScheduleService()
	ctx := context.Background()

	run, err := svc.Create(ctx, "u1", CreateRequest{
		Name:          "Lifecycle",
		ScheduledDate: "2026-05-08",
		BillIDs:       []int64{1},
	})
	require.NoError(t, err)

	confirmed, err := svc.Confirm(ctx, "u1", run.ID)
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, confirmed.Status)

	// Confirming twice is not a legal move.
	_, err = svc.Confirm(ctx, "u1", run.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)

	cancelled, err := svc.Cancel(ctx, "u1", run.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)

	_, err = svc.Confirm(ctx, "u1", run.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = svc.Cancel(ctx, "u1", run.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.Confirm(ctx, "u1", uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Confirm(ctx, "other-user", run.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestWindowPassesDraftAllocationsToForecast(t *testing.T) {
	svc, _, stub := newTestScheduleService()
	ctx := context.Background()

	draft, err := svc.Create(ctx, "u1", CreateRequest{
		Name:          "Draft",
		ScheduledDate: "2026-05-08",
		BillIDs:       []int64{1},
		Items:         []ItemRequest{{BillID: 1, Amount: 200}},
	})
	require.NoError(t, err)

	// A cancelled run must not contribute allocations.
	other, err := svc.Create(ctx, "u1", CreateRequest{
		Name:          "Cancelled",
		ScheduledDate: "2026-05-09",
		BillIDs:       []int64{2},
	})
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, "u1", other.ID)
	require.NoError(t, err)

	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 13)
	report, err := svc.Window(ctx, "u1", start, end)
	require.NoError(t, err)

	require.InDelta(t, 200.0, stub.lastAllocations[1], 1e-9)
	_, hasCancelled := stub.lastAllocations[2]
	require.False(t, hasCancelled)

	// The draft schedule itself appears in the window.
	require.Len(t, report.Schedules, 1)
	require.Equal(t, draft.ID, report.Schedules[0].ID)
}
