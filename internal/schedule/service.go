package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/hiltonbrown/ledgerbot-sub004/internal/analytics"
	"github.com/hiltonbrown/ledgerbot-sub004/internal/mirror"
	"github.com/hiltonbrown/ledgerbot-sub004/internal/platform/httpx"
)

// RepositoryPort defines data access methods for schedules.
type RepositoryPort interface {
	Create(ctx context.Context, s *PaymentSchedule) error
	Get(ctx context.Context, userID string, id uuid.UUID) (*PaymentSchedule, error)
	List(ctx context.Context, userID string, statuses []Status) ([]PaymentSchedule, error)
	ListByDateRange(ctx context.Context, userID string, start, end time.Time) ([]PaymentSchedule, error)
	UpdateStatus(ctx context.Context, userID string, id uuid.UUID, from []Status, to Status) error
	DraftAllocations(ctx context.Context, userID string) (map[int64]float64, error)
}

// EntryStore looks up mirrored ledger entries for validation.
type EntryStore interface {
	GetEntriesByIDs(ctx context.Context, userID string, ids []int64) ([]mirror.LedgerEntry, error)
	ListContacts(ctx context.Context, userID string) ([]mirror.Contact, error)
}

// AnalyticsPort is the slice of the analytics service the store consumes.
type AnalyticsPort interface {
	Forecast(ctx context.Context, userID string, start, end time.Time, allocations map[int64]float64) (analytics.Forecast, error)
	Histories(ctx context.Context, userID string) (map[int64]mirror.CustomerHistory, error)
}

// Service handles payment run business logic.
type Service struct {
	repo      RepositoryPort
	entries   EntryStore
	analytics AnalyticsPort
	validate  *validator.Validate
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, entries EntryStore, analytics AnalyticsPort) *Service {
	return &Service{repo: repo, entries: entries, analytics: analytics, validate: validator.New()}
}

// CreateRequest is the payload for creating a payment run.
type CreateRequest struct {
	Name          string        `json:"name" validate:"required,max=200"`
	ScheduledDate string        `json:"scheduledDate" validate:"required,datetime=2006-01-02"`
	BillIDs       []int64       `json:"billIds" validate:"required,min=1,dive,gt=0"`
	Items         []ItemRequest `json:"items,omitempty" validate:"omitempty,dive"`
	Notes         string        `json:"notes,omitempty" validate:"max=2000"`
}

// ItemRequest is an explicit partial allocation for one bill.
type ItemRequest struct {
	BillID int64   `json:"billId" validate:"required,gt=0"`
	Amount float64 `json:"amount" validate:"required,gt=0"`
}

// Create validates the request against the mirror and persists a draft run
// with its denormalized total/count/risk snapshot.
func (s *Service) Create(ctx context.Context, userID string, req CreateRequest) (*PaymentSchedule, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	scheduledDate, err := time.Parse("2006-01-02", req.ScheduledDate)
	if err != nil {
		return nil, fmt.Errorf("%w: scheduledDate must be YYYY-MM-DD", httpx.ErrValidation)
	}

	bills, err := s.entries.GetEntriesByIDs(ctx, userID, req.BillIDs)
	if err != nil {
		return nil, err
	}
	billsByID := make(map[int64]mirror.LedgerEntry, len(bills))
	for _, bill := range bills {
		billsByID[bill.ID] = bill
	}
	for _, id := range req.BillIDs {
		bill, ok := billsByID[id]
		if !ok {
			return nil, fmt.Errorf("%w: bill %d not found", httpx.ErrValidation, id)
		}
		if bill.Kind != mirror.KindBill {
			return nil, fmt.Errorf("%w: entry %d is not a bill", httpx.ErrValidation, id)
		}
		if bill.Status == mirror.StatusPaid || bill.Status == mirror.StatusVoided || bill.Status == mirror.StatusCancelled {
			return nil, fmt.Errorf("%w: bill %d is not payable", httpx.ErrValidation, id)
		}
	}

	// Explicit items cover a subset of bills; the rest default to the
	// bill's full remaining amount.
	explicit := make(map[int64]float64, len(req.Items))
	for _, item := range req.Items {
		bill, ok := billsByID[item.BillID]
		if !ok {
			return nil, fmt.Errorf("%w: item references bill %d outside billIds", httpx.ErrValidation, item.BillID)
		}
		remaining := bill.Total - bill.AmountPaid
		if item.Amount > remaining {
			return nil, fmt.Errorf("%w: allocation %.2f exceeds remaining %.2f on bill %d",
				httpx.ErrValidation, item.Amount, remaining, item.BillID)
		}
		if _, dup := explicit[item.BillID]; dup {
			return nil, fmt.Errorf("%w: duplicate item for bill %d", httpx.ErrValidation, item.BillID)
		}
		explicit[item.BillID] = item.Amount
	}

	run := &PaymentSchedule{
		ID:            uuid.New(),
		UserID:        userID,
		Name:          req.Name,
		ScheduledDate: scheduledDate,
		Status:        StatusDraft,
		Notes:         req.Notes,
	}
	for _, id := range req.BillIDs {
		bill := billsByID[id]
		amount, ok := explicit[id]
		if !ok {
			amount = bill.Total - bill.AmountPaid
		}
		if amount <= 0 {
			return nil, fmt.Errorf("%w: bill %d has nothing left to pay", httpx.ErrValidation, id)
		}
		run.Items = append(run.Items, Item{LedgerEntryID: id, Amount: amount})
		run.TotalAmount += amount
	}
	run.BillCount = len(run.Items)
	run.HighestRisk, err = s.highestRisk(ctx, userID, bills)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *Service) highestRisk(ctx context.Context, userID string, bills []mirror.LedgerEntry) (mirror.RiskLevel, error) {
	contacts, err := s.entries.ListContacts(ctx, userID)
	if err != nil {
		return mirror.RiskLow, err
	}
	levels := make(map[int64]mirror.RiskLevel, len(contacts))
	for _, c := range contacts {
		levels[c.ID] = c.RiskLevel
	}

	highest := mirror.RiskLow
	for _, bill := range bills {
		if level, ok := levels[bill.ContactID]; ok && analytics.RiskRank(level) > analytics.RiskRank(highest) {
			highest = level
		}
	}
	return highest, nil
}

// Confirm moves a draft run to confirmed.
func (s *Service) Confirm(ctx context.Context, userID string, id uuid.UUID) (*PaymentSchedule, error) {
	if err := s.repo.UpdateStatus(ctx, userID, id, []Status{StatusDraft}, StatusConfirmed); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, userID, id)
}

// Cancel moves a draft or confirmed run to cancelled.
func (s *Service) Cancel(ctx context.Context, userID string, id uuid.UUID) (*PaymentSchedule, error) {
	if err := s.repo.UpdateStatus(ctx, userID, id, []Status{StatusDraft, StatusConfirmed}, StatusCancelled); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, userID, id)
}

// Get returns one schedule.
func (s *Service) Get(ctx context.Context, userID string, id uuid.UUID) (*PaymentSchedule, error) {
	return s.repo.Get(ctx, userID, id)
}

// List returns the user's schedules.
func (s *Service) List(ctx context.Context, userID string, statuses []Status) ([]PaymentSchedule, error) {
	return s.repo.List(ctx, userID, statuses)
}

// WindowReport is the combined payment-schedule view for a date window.
type WindowReport struct {
	BillsByDate map[string][]analytics.BillDue `json:"billsByDate"`
	Forecast    []analytics.DayForecast        `json:"forecast"`
	Schedules   []PaymentSchedule              `json:"schedules"`
	Summary     analytics.ForecastSummary      `json:"summary"`
}

// Window builds the payment-schedule report: the cash-flow forecast for the
// window, net of draft allocations, alongside the schedules dated within it.
func (s *Service) Window(ctx context.Context, userID string, start, end time.Time) (WindowReport, error) {
	allocations, err := s.repo.DraftAllocations(ctx, userID)
	if err != nil {
		return WindowReport{}, err
	}
	forecast, err := s.analytics.Forecast(ctx, userID, start, end, allocations)
	if err != nil {
		return WindowReport{}, err
	}
	schedules, err := s.repo.ListByDateRange(ctx, userID, start, end)
	if err != nil {
		return WindowReport{}, err
	}
	if schedules == nil {
		schedules = []PaymentSchedule{}
	}
	return WindowReport{
		BillsByDate: forecast.BillsByDate,
		Forecast:    forecast.Days,
		Schedules:   schedules,
		Summary:     forecast.Summary,
	}, nil
}
