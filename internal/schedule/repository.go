package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hiltonbrown/ledgerbot-sub004/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for payment schedules.
// Creation performs no cross-schedule locking: double-booking a bill across
// drafts is allowed and resolved at forecast read time.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a schedule and its items in one transaction.
func (r *Repository) Create(ctx context.Context, s *PaymentSchedule) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		const scheduleQuery = `
			INSERT INTO payment_schedules (id, user_id, name, scheduled_date, status,
				total_amount, bill_count, highest_risk, notes)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING created_at, updated_at`

		if err := tx.QueryRow(ctx, scheduleQuery,
			s.ID, s.UserID, s.Name, s.ScheduledDate, s.Status,
			s.TotalAmount, s.BillCount, s.HighestRisk, s.Notes,
		).Scan(&s.CreatedAt, &s.UpdatedAt); err != nil {
			return fmt.Errorf("schedule: insert: %w", err)
		}

		for i := range s.Items {
			s.Items[i].ScheduleID = s.ID
			if err := tx.QueryRow(ctx,
				`INSERT INTO payment_schedule_items (schedule_id, ledger_entry_id, amount)
				 VALUES ($1, $2, $3) RETURNING id`,
				s.ID, s.Items[i].LedgerEntryID, s.Items[i].Amount,
			).Scan(&s.Items[i].ID); err != nil {
				return fmt.Errorf("schedule: insert item: %w", err)
			}
		}
		return nil
	})
}

// Get returns one schedule with its items.
func (r *Repository) Get(ctx context.Context, userID string, id uuid.UUID) (*PaymentSchedule, error) {
	const query = `
		SELECT id, user_id, name, scheduled_date, status, total_amount, bill_count,
			highest_risk, notes, created_at, updated_at
		FROM payment_schedules WHERE user_id = $1 AND id = $2`

	var s PaymentSchedule
	err := r.pool.QueryRow(ctx, query, userID, id).Scan(
		&s.ID, &s.UserID, &s.Name, &s.ScheduledDate, &s.Status, &s.TotalAmount,
		&s.BillCount, &s.HighestRisk, &s.Notes, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("schedule: get: %w", err)
	}

	if s.Items, err = r.items(ctx, []uuid.UUID{s.ID}); err != nil {
		return nil, err
	}
	return &s, nil
}

// List returns the user's schedules, optionally filtered by status.
func (r *Repository) List(ctx context.Context, userID string, statuses []Status) ([]PaymentSchedule, error) {
	query := `
		SELECT id, user_id, name, scheduled_date, status, total_amount, bill_count,
			highest_risk, notes, created_at, updated_at
		FROM payment_schedules WHERE user_id = $1`
	args := []any{userID}
	if len(statuses) > 0 {
		query += ` AND status = ANY($2)`
		args = append(args, statuses)
	}
	query += ` ORDER BY scheduled_date, created_at`

	return r.listSchedules(ctx, query, args)
}

// ListByDateRange returns non-cancelled schedules dated inside [start, end].
func (r *Repository) ListByDateRange(ctx context.Context, userID string, start, end time.Time) ([]PaymentSchedule, error) {
	const query = `
		SELECT id, user_id, name, scheduled_date, status, total_amount, bill_count,
			highest_risk, notes, created_at, updated_at
		FROM payment_schedules
		WHERE user_id = $1 AND status <> 'cancelled' AND scheduled_date BETWEEN $2 AND $3
		ORDER BY scheduled_date, created_at`

	return r.listSchedules(ctx, query, []any{userID, start, end})
}

func (r *Repository) listSchedules(ctx context.Context, query string, args []any) ([]PaymentSchedule, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("schedule: list: %w", err)
	}
	defer rows.Close()

	var schedules []PaymentSchedule
	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var s PaymentSchedule
		if err := rows.Scan(&s.ID, &s.UserID, &s.Name, &s.ScheduledDate, &s.Status,
			&s.TotalAmount, &s.BillCount, &s.HighestRisk, &s.Notes,
			&s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
		ids = append(ids, s.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(schedules) == 0 {
		return schedules, nil
	}

	items, err := r.items(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID][]Item)
	for _, item := range items {
		byID[item.ScheduleID] = append(byID[item.ScheduleID], item)
	}
	for i := range schedules {
		schedules[i].Items = byID[schedules[i].ID]
	}
	return schedules, nil
}

func (r *Repository) items(ctx context.Context, scheduleIDs []uuid.UUID) ([]Item, error) {
	const query = `
		SELECT id, schedule_id, ledger_entry_id, amount
		FROM payment_schedule_items WHERE schedule_id = ANY($1) ORDER BY id`

	rows, err := r.pool.Query(ctx, query, scheduleIDs)
	if err != nil {
		return nil, fmt.Errorf("schedule: list items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.ScheduleID, &item.LedgerEntryID, &item.Amount); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// UpdateStatus moves a schedule between lifecycle states. The allowed source
// states are enforced in the statement so concurrent transitions cannot
// leapfrog the lifecycle.
func (r *Repository) UpdateStatus(ctx context.Context, userID string, id uuid.UUID, from []Status, to Status) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE payment_schedules SET status = $4, updated_at = NOW()
		 WHERE user_id = $1 AND id = $2 AND status = ANY($3)`,
		userID, id, from, to)
	if err != nil {
		return fmt.Errorf("schedule: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, userID, id); err != nil {
			return err
		}
		return ErrInvalidTransition
	}
	return nil
}

// DraftAllocations sums, per bill, the amounts claimed by draft schedules.
func (r *Repository) DraftAllocations(ctx context.Context, userID string) (map[int64]float64, error) {
	const query = `
		SELECT i.ledger_entry_id, SUM(i.amount)
		FROM payment_schedule_items i
		JOIN payment_schedules s ON s.id = i.schedule_id
		WHERE s.user_id = $1 AND s.status = 'draft'
		GROUP BY i.ledger_entry_id`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("schedule: draft allocations: %w", err)
	}
	defer rows.Close()

	allocations := make(map[int64]float64)
	for rows.Next() {
		var entryID int64
		var amount float64
		if err := rows.Scan(&entryID, &amount); err != nil {
			return nil, err
		}
		allocations[entryID] = amount
	}
	return allocations, rows.Err()
}
