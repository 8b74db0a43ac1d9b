package mirror

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates resource not found.
var ErrNotFound = errors.New("mirror: not found")

// Repository provides PostgreSQL backed persistence for the entity mirror.
// All upserts are single atomic statements; storage-level unique constraints,
// not application locks, are the mutual exclusion across concurrent syncs.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// --- Contacts ---

// UpsertContact inserts a contact on first sight and updates only the mutable
// subset afterwards. Returns the local id and whether the row was created.
func (r *Repository) UpsertContact(ctx context.Context, c *Contact) (int64, bool, error) {
	const query = `
		INSERT INTO contacts (user_id, external_ref, name, email, phone, is_customer, is_supplier)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, external_ref) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			is_customer = EXCLUDED.is_customer,
			is_supplier = EXCLUDED.is_supplier,
			updated_at = NOW()
		RETURNING id, (xmax = 0) AS inserted`

	var id int64
	var inserted bool
	err := r.pool.QueryRow(ctx, query,
		c.UserID, c.ExternalRef, c.Name, c.Email, c.Phone, c.IsCustomer, c.IsSupplier,
	).Scan(&id, &inserted)
	if err != nil {
		return 0, false, fmt.Errorf("mirror: upsert contact %s: %w", c.ExternalRef, err)
	}
	c.ID = id
	return id, inserted, nil
}

// FindContactID maps an external reference to the local contact id.
func (r *Repository) FindContactID(ctx context.Context, userID, externalRef string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`SELECT id FROM contacts WHERE user_id = $1 AND external_ref = $2`,
		userID, externalRef).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("mirror: find contact: %w", err)
	}
	return id, nil
}

// ListContacts returns all mirrored contacts for a user.
func (r *Repository) ListContacts(ctx context.Context, userID string) ([]Contact, error) {
	const query = `
		SELECT id, user_id, external_ref, name, email, phone, is_customer, is_supplier,
			risk_level, bank_details_changed, created_at, updated_at
		FROM contacts WHERE user_id = $1 ORDER BY name`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("mirror: list contacts: %w", err)
	}
	defer rows.Close()

	var contacts []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.UserID, &c.ExternalRef, &c.Name, &c.Email, &c.Phone,
			&c.IsCustomer, &c.IsSupplier, &c.RiskLevel, &c.BankDetailsChanged,
			&c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// UpdateContactRisk writes the derived risk classification back to a contact.
func (r *Repository) UpdateContactRisk(ctx context.Context, contactID int64, level RiskLevel) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE contacts SET risk_level = $2, updated_at = NOW() WHERE id = $1`,
		contactID, level)
	if err != nil {
		return fmt.Errorf("mirror: update contact risk: %w", err)
	}
	return nil
}

// --- Ledger entries ---

// UpsertLedgerEntry inserts an entry on first sight; afterwards only
// balances and status change, never identity fields.
func (r *Repository) UpsertLedgerEntry(ctx context.Context, e *LedgerEntry) (int64, bool, error) {
	const query = `
		INSERT INTO ledger_entries (
			user_id, kind, external_ref, contact_id, number, issue_date, due_date,
			currency, subtotal, tax, total, amount_paid, amount_outstanding, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (user_id, kind, external_ref) DO UPDATE SET
			subtotal = EXCLUDED.subtotal,
			tax = EXCLUDED.tax,
			total = EXCLUDED.total,
			amount_paid = EXCLUDED.amount_paid,
			amount_outstanding = EXCLUDED.amount_outstanding,
			status = EXCLUDED.status,
			updated_at = NOW()
		RETURNING id, (xmax = 0) AS inserted`

	var id int64
	var inserted bool
	err := r.pool.QueryRow(ctx, query,
		e.UserID, e.Kind, e.ExternalRef, nullableID(e.ContactID), e.Number,
		nullableDate(e.IssueDate), nullableDate(e.DueDate), e.Currency,
		e.Subtotal, e.Tax, e.Total, e.AmountPaid, e.AmountOutstanding, e.Status,
	).Scan(&id, &inserted)
	if err != nil {
		return 0, false, fmt.Errorf("mirror: upsert entry %s: %w", e.ExternalRef, err)
	}
	e.ID = id
	return id, inserted, nil
}

// FindEntryID maps an external invoice reference to the local entry id.
// Payments and credit allocations reference entries of either kind, so the
// lookup deliberately spans kinds; the platform assigns globally unique
// document ids, so at most one row can match.
func (r *Repository) FindEntryID(ctx context.Context, userID, externalRef string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`SELECT id FROM ledger_entries WHERE user_id = $1 AND external_ref = $2`,
		userID, externalRef).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("mirror: find entry: %w", err)
	}
	return id, nil
}

// ListEntries returns all entries of a kind for a user.
func (r *Repository) ListEntries(ctx context.Context, userID string, kind EntryKind) ([]LedgerEntry, error) {
	const query = `
		SELECT id, user_id, kind, external_ref, COALESCE(contact_id, 0), number,
			COALESCE(issue_date, 'epoch'::date), COALESCE(due_date, 'epoch'::date),
			currency, subtotal, tax, total, amount_paid, amount_outstanding, status,
			created_at, updated_at
		FROM ledger_entries
		WHERE user_id = $1 AND kind = $2
		ORDER BY due_date, id`

	rows, err := r.pool.Query(ctx, query, userID, kind)
	if err != nil {
		return nil, fmt.Errorf("mirror: list entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListOutstandingReceivables returns invoices with a positive outstanding
// balance, excluding drafts and dead documents.
func (r *Repository) ListOutstandingReceivables(ctx context.Context, userID string) ([]LedgerEntry, error) {
	const query = `
		SELECT id, user_id, kind, external_ref, COALESCE(contact_id, 0), number,
			COALESCE(issue_date, 'epoch'::date), COALESCE(due_date, 'epoch'::date),
			currency, subtotal, tax, total, amount_paid, amount_outstanding, status,
			created_at, updated_at
		FROM ledger_entries
		WHERE user_id = $1 AND kind = 'invoice' AND amount_outstanding > 0
			AND status NOT IN ('draft', 'voided', 'cancelled')
		ORDER BY due_date, id`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("mirror: list outstanding receivables: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListBillsDueBetween returns unpaid bills due inside [start, end].
func (r *Repository) ListBillsDueBetween(ctx context.Context, userID string, start, end time.Time) ([]LedgerEntry, error) {
	const query = `
		SELECT id, user_id, kind, external_ref, COALESCE(contact_id, 0), number,
			COALESCE(issue_date, 'epoch'::date), COALESCE(due_date, 'epoch'::date),
			currency, subtotal, tax, total, amount_paid, amount_outstanding, status,
			created_at, updated_at
		FROM ledger_entries
		WHERE user_id = $1 AND kind = 'bill'
			AND status NOT IN ('paid', 'voided', 'cancelled')
			AND due_date BETWEEN $2 AND $3
		ORDER BY due_date, id`

	rows, err := r.pool.Query(ctx, query, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("mirror: list bills due: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// GetEntriesByIDs returns the user's entries matching the given local ids.
func (r *Repository) GetEntriesByIDs(ctx context.Context, userID string, ids []int64) ([]LedgerEntry, error) {
	const query = `
		SELECT id, user_id, kind, external_ref, COALESCE(contact_id, 0), number,
			COALESCE(issue_date, 'epoch'::date), COALESCE(due_date, 'epoch'::date),
			currency, subtotal, tax, total, amount_paid, amount_outstanding, status,
			created_at, updated_at
		FROM ledger_entries
		WHERE user_id = $1 AND id = ANY($2)
		ORDER BY due_date, id`

	rows, err := r.pool.Query(ctx, query, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("mirror: get entries by ids: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// --- Payments ---

// InsertPayment records a payment fact; duplicates are silently ignored.
func (r *Repository) InsertPayment(ctx context.Context, p *Payment) (bool, error) {
	const query = `
		INSERT INTO payments (user_id, external_ref, ledger_entry_id, amount, paid_at, reference)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, external_ref) DO NOTHING`

	tag, err := r.pool.Exec(ctx, query,
		p.UserID, p.ExternalRef, p.LedgerEntryID, p.Amount, p.PaidAt, p.Reference)
	if err != nil {
		return false, fmt.Errorf("mirror: insert payment %s: %w", p.ExternalRef, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListPayments returns all payments for a user.
func (r *Repository) ListPayments(ctx context.Context, userID string) ([]Payment, error) {
	const query = `
		SELECT id, user_id, external_ref, ledger_entry_id, amount, paid_at, reference, created_at
		FROM payments WHERE user_id = $1 ORDER BY paid_at, id`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("mirror: list payments: %w", err)
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.UserID, &p.ExternalRef, &p.LedgerEntryID,
			&p.Amount, &p.PaidAt, &p.Reference, &p.CreatedAt); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// --- Credits ---

// UpsertCredit inserts a credit document or refreshes its allocation split.
func (r *Repository) UpsertCredit(ctx context.Context, c *Credit) (int64, bool, error) {
	const query = `
		INSERT INTO credits (user_id, kind, external_ref, ledger_entry_id, contact_id,
			total, allocated, remaining, status, issued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id, kind, external_ref) DO UPDATE SET
			allocated = EXCLUDED.allocated,
			remaining = EXCLUDED.remaining,
			status = EXCLUDED.status,
			updated_at = NOW()
		RETURNING id, (xmax = 0) AS inserted`

	var id int64
	var inserted bool
	err := r.pool.QueryRow(ctx, query,
		c.UserID, c.Kind, c.ExternalRef, nullableID(c.LedgerEntryID), nullableID(c.ContactID),
		c.Total, c.Allocated, c.Remaining, c.Status, nullableDate(c.IssuedAt),
	).Scan(&id, &inserted)
	if err != nil {
		return 0, false, fmt.Errorf("mirror: upsert credit %s: %w", c.ExternalRef, err)
	}
	c.ID = id
	return id, inserted, nil
}

// --- Customer histories ---

// UpsertCustomerHistory replaces the derived snapshot for a contact.
func (r *Repository) UpsertCustomerHistory(ctx context.Context, h *CustomerHistory) error {
	const query = `
		INSERT INTO customer_histories (user_id, contact_id, invoice_count, late_payment_count,
			avg_days_late, current_outstanding, largest_outstanding, last_payment_at,
			credit_term_days, risk_score, risk_level, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (user_id, contact_id) DO UPDATE SET
			invoice_count = EXCLUDED.invoice_count,
			late_payment_count = EXCLUDED.late_payment_count,
			avg_days_late = EXCLUDED.avg_days_late,
			current_outstanding = EXCLUDED.current_outstanding,
			largest_outstanding = EXCLUDED.largest_outstanding,
			last_payment_at = EXCLUDED.last_payment_at,
			credit_term_days = EXCLUDED.credit_term_days,
			risk_score = EXCLUDED.risk_score,
			risk_level = EXCLUDED.risk_level,
			computed_at = NOW()`

	_, err := r.pool.Exec(ctx, query,
		h.UserID, h.ContactID, h.InvoiceCount, h.LatePaymentCount, h.AvgDaysLate,
		h.CurrentOutstanding, h.LargestOutstanding, h.LastPaymentAt,
		h.CreditTermDays, h.RiskScore, h.RiskLevel)
	if err != nil {
		return fmt.Errorf("mirror: upsert customer history: %w", err)
	}
	return nil
}

// ListCustomerHistories returns the derived snapshots keyed by contact id.
func (r *Repository) ListCustomerHistories(ctx context.Context, userID string) (map[int64]CustomerHistory, error) {
	const query = `
		SELECT id, user_id, contact_id, invoice_count, late_payment_count, avg_days_late,
			current_outstanding, largest_outstanding, last_payment_at, credit_term_days,
			risk_score, risk_level, computed_at
		FROM customer_histories WHERE user_id = $1`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("mirror: list customer histories: %w", err)
	}
	defer rows.Close()

	histories := make(map[int64]CustomerHistory)
	for rows.Next() {
		var h CustomerHistory
		if err := rows.Scan(&h.ID, &h.UserID, &h.ContactID, &h.InvoiceCount,
			&h.LatePaymentCount, &h.AvgDaysLate, &h.CurrentOutstanding,
			&h.LargestOutstanding, &h.LastPaymentAt, &h.CreditTermDays,
			&h.RiskScore, &h.RiskLevel, &h.ComputedAt); err != nil {
			return nil, err
		}
		histories[h.ContactID] = h
	}
	return histories, rows.Err()
}

// --- Sync status ---

// MarkSyncAttempt records that a run has started.
func (r *Repository) MarkSyncAttempt(ctx context.Context, userID string) error {
	const query = `
		INSERT INTO sync_statuses (user_id, last_attempt_at)
		VALUES ($1, NOW())
		ON CONFLICT (user_id) DO UPDATE SET last_attempt_at = NOW()`
	if _, err := r.pool.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("mirror: mark sync attempt: %w", err)
	}
	return nil
}

// MarkSyncSuccess records a completed run with its record counts.
func (r *Repository) MarkSyncSuccess(ctx context.Context, userID string, counts RecordCounts) error {
	const query = `
		INSERT INTO sync_statuses (user_id, last_success_at, last_error,
			contact_count, entry_count, payment_count, credit_count)
		VALUES ($1, NOW(), '', $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			last_success_at = NOW(),
			last_error = '',
			contact_count = EXCLUDED.contact_count,
			entry_count = EXCLUDED.entry_count,
			payment_count = EXCLUDED.payment_count,
			credit_count = EXCLUDED.credit_count`
	if _, err := r.pool.Exec(ctx, query, userID,
		counts.Contacts, counts.Entries, counts.Payments, counts.Credits); err != nil {
		return fmt.Errorf("mirror: mark sync success: %w", err)
	}
	return nil
}

// MarkSyncFailure records a failed run and its error text.
func (r *Repository) MarkSyncFailure(ctx context.Context, userID, errText string) error {
	const query = `
		INSERT INTO sync_statuses (user_id, last_failure_at, last_error)
		VALUES ($1, NOW(), $2)
		ON CONFLICT (user_id) DO UPDATE SET last_failure_at = NOW(), last_error = $2`
	if _, err := r.pool.Exec(ctx, query, userID, errText); err != nil {
		return fmt.Errorf("mirror: mark sync failure: %w", err)
	}
	return nil
}

// GetSyncStatus returns the user's sync status row.
func (r *Repository) GetSyncStatus(ctx context.Context, userID string) (*SyncStatus, error) {
	const query = `
		SELECT user_id, last_attempt_at, last_success_at, last_failure_at, last_error,
			contact_count, entry_count, payment_count, credit_count
		FROM sync_statuses WHERE user_id = $1`

	var s SyncStatus
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&s.UserID, &s.LastAttemptAt, &s.LastSuccessAt, &s.LastFailureAt, &s.LastError,
		&s.ContactCount, &s.EntryCount, &s.PaymentCount, &s.CreditCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mirror: get sync status: %w", err)
	}
	return &s, nil
}

// --- scan helpers ---

func scanEntries(rows pgx.Rows) ([]LedgerEntry, error) {
	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Kind, &e.ExternalRef, &e.ContactID,
			&e.Number, &e.IssueDate, &e.DueDate, &e.Currency, &e.Subtotal, &e.Tax,
			&e.Total, &e.AmountPaid, &e.AmountOutstanding, &e.Status,
			&e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullableID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

func nullableDate(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
