// Package schedule persists user-authored payment runs: named, dated batches
// of bills with optional partial per-bill allocations. Schedules are never
// written by sync.
package schedule

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hiltonbrown/ledgerbot-sub004/internal/mirror"
)

var (
	// ErrNotFound indicates the schedule does not exist for this user.
	ErrNotFound = errors.New("schedule: not found")
	// ErrInvalidTransition indicates a status change outside the lifecycle.
	ErrInvalidTransition = errors.New("schedule: invalid status transition")
)

// Status enumerates the schedule lifecycle. The only legal moves are
// draft → confirmed, draft → cancelled and confirmed → cancelled; anything
// else means cancel-and-recreate.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

// Item allocates part (or all) of one bill to a schedule.
type Item struct {
	ID            int64     `json:"-"`
	ScheduleID    uuid.UUID `json:"-"`
	LedgerEntryID int64     `json:"billId"`
	Amount        float64   `json:"amount"`
}

// PaymentSchedule is a user-curated payment run with a denormalized
// total/count/risk snapshot computed at creation.
type PaymentSchedule struct {
	ID            uuid.UUID        `json:"id"`
	UserID        string           `json:"-"`
	Name          string           `json:"name"`
	ScheduledDate time.Time        `json:"scheduledDate"`
	Status        Status           `json:"status"`
	TotalAmount   float64          `json:"totalAmount"`
	BillCount     int              `json:"billCount"`
	HighestRisk   mirror.RiskLevel `json:"highestRisk"`
	Notes         string           `json:"notes,omitempty"`
	Items         []Item           `json:"items"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}
