// Package ledgersync drives the per-user sync pipeline: contacts, then a
// trailing window of invoices and bills, then payments and credit documents,
// then a wholesale customer-history recompute. Every write is independently
// idempotent, so an abandoned run leaves the mirror consistent-but-incomplete
// rather than rolled back.
package ledgersync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hiltonbrown/ledgerbot-sub004/internal/mirror"
	"github.com/hiltonbrown/ledgerbot-sub004/internal/observability"
	"github.com/hiltonbrown/ledgerbot-sub004/internal/xero"
)

// entryWindowMonths bounds how far back invoices and bills are mirrored.
const entryWindowMonths = 24

// LedgerAPI is the slice of the platform client the orchestrator consumes.
type LedgerAPI interface {
	ListContacts(ctx context.Context, page, pageSize int, filter xero.ListFilter) (xero.Page[xero.Contact], error)
	ListInvoices(ctx context.Context, page, pageSize int, filter xero.ListFilter) (xero.Page[xero.Invoice], error)
	ListPayments(ctx context.Context, page, pageSize int, filter xero.ListFilter) (xero.Page[xero.Payment], error)
	ListCreditNotes(ctx context.Context, page, pageSize int, filter xero.ListFilter) (xero.Page[xero.CreditDocument], error)
	ListOverpayments(ctx context.Context, page, pageSize int, filter xero.ListFilter) (xero.Page[xero.CreditDocument], error)
	ListPrepayments(ctx context.Context, page, pageSize int, filter xero.ListFilter) (xero.Page[xero.CreditDocument], error)
}

// Resolver turns a user id into an authorised platform client.
type Resolver interface {
	Resolve(ctx context.Context, userID string) (LedgerAPI, string, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, userID string) (LedgerAPI, string, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(ctx context.Context, userID string) (LedgerAPI, string, error) {
	return f(ctx, userID)
}

// MirrorStore defines the mirror writes the orchestrator performs.
type MirrorStore interface {
	UpsertContact(ctx context.Context, c *mirror.Contact) (int64, bool, error)
	FindContactID(ctx context.Context, userID, externalRef string) (int64, error)
	UpsertLedgerEntry(ctx context.Context, e *mirror.LedgerEntry) (int64, bool, error)
	FindEntryID(ctx context.Context, userID, externalRef string) (int64, error)
	InsertPayment(ctx context.Context, p *mirror.Payment) (bool, error)
	UpsertCredit(ctx context.Context, c *mirror.Credit) (int64, bool, error)
	MarkSyncAttempt(ctx context.Context, userID string) error
	MarkSyncSuccess(ctx context.Context, userID string, counts mirror.RecordCounts) error
	MarkSyncFailure(ctx context.Context, userID, errText string) error
	GetSyncStatus(ctx context.Context, userID string) (*mirror.SyncStatus, error)
}

// AnalyticsPort runs the derived-snapshot recompute at the end of a run.
type AnalyticsPort interface {
	RecomputeHistories(ctx context.Context, userID string, asOf time.Time) (int, error)
	InvalidateCache(ctx context.Context, userID string) error
}

// Config tunes the pipeline.
type Config struct {
	PageSize int
	MaxItems int
	Budget   time.Duration
}

// Service orchestrates sync runs.
type Service struct {
	resolver  Resolver
	store     MirrorStore
	analytics AnalyticsPort
	gate      *xero.Gate
	cfg       Config
	logger    *slog.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

// NewService builds a Service instance.
func NewService(resolver Resolver, store MirrorStore, analytics AnalyticsPort, gate *xero.Gate, cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Service {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.Budget <= 0 {
		cfg.Budget = 10 * time.Minute
	}
	return &Service{
		resolver:  resolver,
		store:     store,
		analytics: analytics,
		gate:      gate,
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

// WithNow overrides the service clock for testing.
func (s *Service) WithNow(fn func() time.Time) {
	if fn != nil {
		s.now = fn
	}
}

// Status returns the user's sync status row.
func (s *Service) Status(ctx context.Context, userID string) (*mirror.SyncStatus, error) {
	return s.store.GetSyncStatus(ctx, userID)
}

// Run executes a full sync for one user and returns the structured report.
// A missing or expired connection fails the whole run; a single bad record
// only dents its stage.
func (s *Service) Run(ctx context.Context, userID string) (*Report, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Budget)
	defer cancel()

	report := &Report{RunID: uuid.New(), UserID: userID, StartedAt: s.now()}

	if err := s.store.MarkSyncAttempt(ctx, userID); err != nil {
		return nil, err
	}

	client, tenantID, err := s.resolver.Resolve(ctx, userID)
	if err != nil {
		_ = s.store.MarkSyncFailure(ctx, userID, err.Error())
		s.metrics.ObserveSyncRun("connection_error", s.now().Sub(report.StartedAt))
		return nil, err
	}

	run := &runState{
		svc:      s,
		client:   client,
		tenantID: tenantID,
		userID:   userID,
		report:   report,
	}

	run.syncContacts(ctx)
	run.syncEntries(ctx)
	run.syncPayments(ctx)
	run.syncCredits(ctx)
	run.recomputeHistories(ctx)

	report.FinishedAt = s.now()
	s.finish(ctx, userID, report, run.counts)
	return report, nil
}

func (s *Service) finish(ctx context.Context, userID string, report *Report, counts mirror.RecordCounts) {
	// The budget may already be spent; status writes still deserve a moment.
	statusCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	outcome := "ok"
	if report.Failed() {
		outcome = "partial"
	}
	s.metrics.ObserveSyncRun(outcome, report.FinishedAt.Sub(report.StartedAt))
	for _, stage := range report.Stages {
		s.metrics.AddSyncRecords(stage.Stage, "created", stage.Created)
		s.metrics.AddSyncRecords(stage.Stage, "updated", stage.Updated)
		s.metrics.AddSyncRecords(stage.Stage, "skipped", stage.Skipped)
		s.metrics.AddSyncRecords(stage.Stage, "failed", stage.Failed)
	}

	if err := s.store.MarkSyncSuccess(statusCtx, userID, counts); err != nil {
		s.logger.Error("mark sync success", slog.String("user_id", userID), slog.Any("error", err))
	}
	// The success upsert clears last_error, so the failure text lands after it.
	if report.Failed() {
		if err := s.store.MarkSyncFailure(statusCtx, userID, summariseFailures(report)); err != nil {
			s.logger.Error("mark sync failure", slog.String("user_id", userID), slog.Any("error", err))
		}
	}
	if report.Wrote() {
		if err := s.analytics.InvalidateCache(statusCtx, userID); err != nil {
			s.logger.Warn("invalidate analytics cache", slog.String("user_id", userID), slog.Any("error", err))
		}
	}
}

func summariseFailures(report *Report) string {
	for _, stage := range report.Stages {
		if stage.Error != "" {
			return fmt.Sprintf("stage %s: %s", stage.Stage, stage.Error)
		}
	}
	for _, stage := range report.Stages {
		if stage.Failed > 0 {
			return fmt.Sprintf("stage %s: %d records failed", stage.Stage, stage.Failed)
		}
	}
	return ""
}

// runState carries per-run scratch across the pipeline stages.
type runState struct {
	svc      *Service
	client   LedgerAPI
	tenantID string
	userID   string
	report   *Report
	counts   mirror.RecordCounts

	// contactIDs maps external contact references seen this run to local ids,
	// saving a lookup per entry.
	contactIDs map[string]int64
}

// logQuota surfaces the platform's remaining call quota after a stage drain.
func (r *runState) logQuota(stage string, limits xero.RateLimit) {
	if limits == (xero.RateLimit{}) {
		return
	}
	r.svc.logger.Debug("platform quota",
		slog.String("user_id", r.userID),
		slog.String("stage", stage),
		slog.Int("minute_remaining", limits.MinuteRemaining),
		slog.Int("day_remaining", limits.DayRemaining))
}

// contactID resolves an external contact reference to the local id, falling
// back to the mirror when the contacts stage did not cover it this run.
func (r *runState) contactID(ctx context.Context, externalRef string) int64 {
	if externalRef == "" {
		return 0
	}
	if id, ok := r.contactIDs[externalRef]; ok {
		return id
	}
	id, err := r.svc.store.FindContactID(ctx, r.userID, externalRef)
	if err != nil {
		return 0
	}
	r.contactIDs[externalRef] = id
	return id
}

func (r *runState) syncContacts(ctx context.Context) {
	s := r.svc
	stage := StageReport{Stage: StageContacts}
	r.contactIDs = make(map[string]int64)

	contacts, limits, err := xero.FetchAll(ctx, s.gate, r.tenantID, s.cfg.PageSize, s.cfg.MaxItems,
		func(ctx context.Context, page, pageSize int) (xero.Page[xero.Contact], error) {
			return r.client.ListContacts(ctx, page, pageSize, xero.ListFilter{})
		})
	r.logQuota(StageContacts, limits)
	if err != nil {
		stage.Error = err.Error()
		s.logger.Error("fetch contacts", slog.String("user_id", r.userID), slog.Any("error", err))
		r.report.Stages = append(r.report.Stages, stage)
		return
	}

	for _, wire := range contacts {
		contact := &mirror.Contact{
			UserID:      r.userID,
			ExternalRef: wire.ContactID,
			Name:        wire.Name,
			Email:       wire.EmailAddress,
			Phone:       wire.Phone,
			IsCustomer:  wire.IsCustomer,
			IsSupplier:  wire.IsSupplier,
		}
		id, created, err := s.store.UpsertContact(ctx, contact)
		switch {
		case isUniqueViolation(err):
			// Lost a race against a concurrent sync for the same user;
			// the other writer's row is the same record.
			stage.updated()
		case err != nil:
			stage.failed(wire.ContactID, err.Error())
			s.logger.Error("mirror contact", slog.String("external_ref", wire.ContactID), slog.Any("error", err))
			continue
		case created:
			stage.created()
		default:
			stage.updated()
		}
		if id != 0 {
			r.contactIDs[wire.ContactID] = id
		}
	}

	r.counts.Contacts = stage.Processed()
	r.report.Stages = append(r.report.Stages, stage)
}

func (r *runState) syncEntries(ctx context.Context) {
	s := r.svc
	stage := StageReport{Stage: StageEntries}
	windowStart := s.now().AddDate(0, -entryWindowMonths, 0)

	invoices, limits, err := xero.FetchAll(ctx, s.gate, r.tenantID, s.cfg.PageSize, s.cfg.MaxItems,
		func(ctx context.Context, page, pageSize int) (xero.Page[xero.Invoice], error) {
			return r.client.ListInvoices(ctx, page, pageSize, xero.ListFilter{DateFrom: windowStart})
		})
	r.logQuota(StageEntries, limits)
	if err != nil {
		stage.Error = err.Error()
		s.logger.Error("fetch invoices", slog.String("user_id", r.userID), slog.Any("error", err))
		r.report.Stages = append(r.report.Stages, stage)
		return
	}

	for _, wire := range invoices {
		entry := &mirror.LedgerEntry{
			UserID:            r.userID,
			Kind:              entryKind(wire.Type),
			ExternalRef:       wire.InvoiceID,
			ContactID:         r.contactID(ctx, wire.ContactID),
			Number:            wire.InvoiceNumber,
			IssueDate:         wire.Date,
			DueDate:           wire.DueDate,
			Currency:          wire.CurrencyCode,
			Subtotal:          wire.SubTotal,
			Tax:               wire.TotalTax,
			Total:             wire.Total,
			AmountPaid:        wire.AmountPaid,
			AmountOutstanding: wire.Total - wire.AmountPaid,
			Status:            entryStatus(wire.Status),
		}
		_, created, err := s.store.UpsertLedgerEntry(ctx, entry)
		switch {
		case isUniqueViolation(err):
			stage.updated()
		case err != nil:
			stage.failed(wire.InvoiceID, err.Error())
			s.logger.Error("mirror entry", slog.String("external_ref", wire.InvoiceID), slog.Any("error", err))
		case created:
			stage.created()
		default:
			stage.updated()
		}
	}

	r.counts.Entries = stage.Processed()
	r.report.Stages = append(r.report.Stages, stage)
}

func (r *runState) syncPayments(ctx context.Context) {
	s := r.svc
	stage := StageReport{Stage: StagePayments}

	payments, limits, err := xero.FetchAll(ctx, s.gate, r.tenantID, s.cfg.PageSize, s.cfg.MaxItems,
		func(ctx context.Context, page, pageSize int) (xero.Page[xero.Payment], error) {
			return r.client.ListPayments(ctx, page, pageSize, xero.ListFilter{})
		})
	r.logQuota(StagePayments, limits)
	if err != nil {
		stage.Error = err.Error()
		s.logger.Error("fetch payments", slog.String("user_id", r.userID), slog.Any("error", err))
		r.report.Stages = append(r.report.Stages, stage)
		return
	}

	for _, wire := range payments {
		entryID, err := s.store.FindEntryID(ctx, r.userID, wire.InvoiceID)
		if errors.Is(err, mirror.ErrNotFound) {
			// Parent entry is outside the sync window; never retried.
			stage.skipped(wire.PaymentID, "parent entry not mirrored")
			s.logger.Info("skip payment without parent",
				slog.String("payment_ref", wire.PaymentID),
				slog.String("invoice_ref", wire.InvoiceID))
			continue
		}
		if err != nil {
			stage.failed(wire.PaymentID, err.Error())
			continue
		}

		created, err := s.store.InsertPayment(ctx, &mirror.Payment{
			UserID:        r.userID,
			ExternalRef:   wire.PaymentID,
			LedgerEntryID: entryID,
			Amount:        wire.Amount,
			PaidAt:        wire.Date,
			Reference:     wire.Reference,
		})
		switch {
		case isUniqueViolation(err):
			stage.updated()
		case err != nil:
			stage.failed(wire.PaymentID, err.Error())
			s.logger.Error("mirror payment", slog.String("external_ref", wire.PaymentID), slog.Any("error", err))
		case created:
			stage.created()
		default:
			// Insert-or-ignore hit an existing row: payments are immutable facts.
			stage.updated()
		}
	}

	r.counts.Payments = stage.Processed()
	r.report.Stages = append(r.report.Stages, stage)
}

func (r *runState) syncCredits(ctx context.Context) {
	s := r.svc
	stage := StageReport{Stage: StageCredits}

	kinds := []struct {
		kind mirror.CreditKind
		list xero.FetchPageFunc[xero.CreditDocument]
	}{
		{mirror.CreditNote, func(ctx context.Context, page, pageSize int) (xero.Page[xero.CreditDocument], error) {
			return r.client.ListCreditNotes(ctx, page, pageSize, xero.ListFilter{})
		}},
		{mirror.Overpayment, func(ctx context.Context, page, pageSize int) (xero.Page[xero.CreditDocument], error) {
			return r.client.ListOverpayments(ctx, page, pageSize, xero.ListFilter{})
		}},
		{mirror.Prepayment, func(ctx context.Context, page, pageSize int) (xero.Page[xero.CreditDocument], error) {
			return r.client.ListPrepayments(ctx, page, pageSize, xero.ListFilter{})
		}},
	}

	for _, entry := range kinds {
		docs, limits, err := xero.FetchAll(ctx, s.gate, r.tenantID, s.cfg.PageSize, s.cfg.MaxItems, entry.list)
		r.logQuota(StageCredits, limits)
		if err != nil {
			stage.Error = err.Error()
			s.logger.Error("fetch credits",
				slog.String("kind", string(entry.kind)),
				slog.String("user_id", r.userID),
				slog.Any("error", err))
			break
		}
		for _, wire := range docs {
			r.mirrorCredit(ctx, &stage, entry.kind, wire)
		}
	}

	r.counts.Credits = stage.Processed()
	r.report.Stages = append(r.report.Stages, stage)
}

func (r *runState) mirrorCredit(ctx context.Context, stage *StageReport, kind mirror.CreditKind, wire xero.CreditDocument) {
	s := r.svc

	var entryID int64
	if wire.InvoiceID != "" {
		id, err := s.store.FindEntryID(ctx, r.userID, wire.InvoiceID)
		if errors.Is(err, mirror.ErrNotFound) {
			stage.skipped(wire.DocumentID, "parent entry not mirrored")
			s.logger.Info("skip credit without parent",
				slog.String("credit_ref", wire.DocumentID),
				slog.String("invoice_ref", wire.InvoiceID))
			return
		}
		if err != nil {
			stage.failed(wire.DocumentID, err.Error())
			return
		}
		entryID = id
	}

	credit := &mirror.Credit{
		UserID:        r.userID,
		Kind:          kind,
		ExternalRef:   wire.DocumentID,
		LedgerEntryID: entryID,
		ContactID:     r.contactID(ctx, wire.ContactID),
		Total:         wire.Total,
		Allocated:     wire.AppliedAmount,
		Remaining:     wire.RemainingCredit,
		Status:        wire.Status,
		IssuedAt:      wire.Date,
	}
	_, created, err := s.store.UpsertCredit(ctx, credit)
	switch {
	case isUniqueViolation(err):
		stage.updated()
	case err != nil:
		stage.failed(wire.DocumentID, err.Error())
		s.logger.Error("mirror credit", slog.String("external_ref", wire.DocumentID), slog.Any("error", err))
	case created:
		stage.created()
	default:
		stage.updated()
	}
}

func (r *runState) recomputeHistories(ctx context.Context) {
	s := r.svc
	stage := StageReport{Stage: StageHistories}

	processed, err := s.analytics.RecomputeHistories(ctx, r.userID, s.now())
	if err != nil {
		stage.Error = err.Error()
		s.logger.Error("recompute histories", slog.String("user_id", r.userID), slog.Any("error", err))
	}
	stage.Updated = processed
	r.report.Stages = append(r.report.Stages, stage)
}

func entryKind(wireType string) mirror.EntryKind {
	if wireType == "ACCPAY" {
		return mirror.KindBill
	}
	return mirror.KindInvoice
}

func entryStatus(wireStatus string) mirror.EntryStatus {
	switch wireStatus {
	case "DRAFT", "SUBMITTED":
		return mirror.StatusDraft
	case "AUTHORISED":
		return mirror.StatusAwaitingPayment
	case "PAID":
		return mirror.StatusPaid
	case "VOIDED":
		return mirror.StatusVoided
	case "DELETED":
		return mirror.StatusCancelled
	default:
		return mirror.StatusAwaitingPayment
	}
}

// isUniqueViolation reports whether err is a storage-level unique constraint
// rejection. Concurrent syncs for the same user rely on these constraints for
// mutual exclusion, so losing the race is benign.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
