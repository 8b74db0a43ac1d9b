package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/hiltonbrown/ledgerbot-sub004/internal/mirror"
)

// MirrorStore defines the mirror reads and derived-snapshot writes the
// analytics engine needs.
type MirrorStore interface {
	ListOutstandingReceivables(ctx context.Context, userID string) ([]mirror.LedgerEntry, error)
	ListBillsDueBetween(ctx context.Context, userID string, start, end time.Time) ([]mirror.LedgerEntry, error)
	ListContacts(ctx context.Context, userID string) ([]mirror.Contact, error)
	ListEntries(ctx context.Context, userID string, kind mirror.EntryKind) ([]mirror.LedgerEntry, error)
	ListPayments(ctx context.Context, userID string) ([]mirror.Payment, error)
	ListCustomerHistories(ctx context.Context, userID string) (map[int64]mirror.CustomerHistory, error)
	UpsertCustomerHistory(ctx context.Context, h *mirror.CustomerHistory) error
	UpdateContactRisk(ctx context.Context, contactID int64, level mirror.RiskLevel) error
}

// Service runs the derived analytics over the mirror.
type Service struct {
	store MirrorStore
	cache *Cache
}

// NewService builds a Service instance.
func NewService(store MirrorStore, cache *Cache) *Service {
	return &Service{store: store, cache: cache}
}

// AgeingReport computes the receivables ageing report as of a date. Reports
// are cached per (user, asOf) against the user's current mirror version.
func (s *Service) AgeingReport(ctx context.Context, userID string, asOf time.Time) (AgeingReport, error) {
	loader := func(ctx context.Context) (interface{}, error) {
		entries, err := s.store.ListOutstandingReceivables(ctx, userID)
		if err != nil {
			return nil, err
		}
		names, err := s.contactNames(ctx, userID)
		if err != nil {
			return nil, err
		}
		return BuildAgeingReport(asOf, entries, names), nil
	}

	if s.cache == nil {
		value, err := loader(ctx)
		if err != nil {
			return AgeingReport{}, err
		}
		return value.(AgeingReport), nil
	}

	key, err := s.cache.BuildKey(ctx, userID, "ageing", userID, asOf.Format("2006-01-02"))
	if err != nil {
		return AgeingReport{}, err
	}
	var report AgeingReport
	if err := s.cache.FetchJSON(ctx, key, &report, loader); err != nil {
		return AgeingReport{}, err
	}
	return report, nil
}

// Forecast computes the payables cash-flow forecast for a window, netting out
// the supplied per-bill draft allocations. Not cached: the window space is
// unbounded and the underlying query is cheap.
func (s *Service) Forecast(ctx context.Context, userID string, start, end time.Time, allocations map[int64]float64) (Forecast, error) {
	bills, err := s.store.ListBillsDueBetween(ctx, userID, start, end)
	if err != nil {
		return Forecast{}, err
	}
	names, err := s.contactNames(ctx, userID)
	if err != nil {
		return Forecast{}, err
	}
	return BuildForecast(start, end, bills, allocations, names), nil
}

// Histories returns the latest derived snapshots keyed by contact id.
func (s *Service) Histories(ctx context.Context, userID string) (map[int64]mirror.CustomerHistory, error) {
	return s.store.ListCustomerHistories(ctx, userID)
}

// RecomputeHistories rebuilds every customer's history snapshot from the
// mirrored invoices and payments, writes the snapshots back, and updates each
// contact's risk classification. Returns the number of contacts processed.
func (s *Service) RecomputeHistories(ctx context.Context, userID string, asOf time.Time) (int, error) {
	contacts, err := s.store.ListContacts(ctx, userID)
	if err != nil {
		return 0, err
	}
	invoices, err := s.store.ListEntries(ctx, userID, mirror.KindInvoice)
	if err != nil {
		return 0, err
	}
	payments, err := s.store.ListPayments(ctx, userID)
	if err != nil {
		return 0, err
	}

	invoicesByContact := make(map[int64][]mirror.LedgerEntry)
	for _, inv := range invoices {
		invoicesByContact[inv.ContactID] = append(invoicesByContact[inv.ContactID], inv)
	}
	paymentsByEntry := make(map[int64][]mirror.Payment)
	for _, p := range payments {
		paymentsByEntry[p.LedgerEntryID] = append(paymentsByEntry[p.LedgerEntryID], p)
	}

	var processed int
	for _, contact := range contacts {
		if !contact.IsCustomer {
			continue
		}
		history := ComputeCustomerHistory(contact, invoicesByContact[contact.ID], paymentsByEntry, asOf)
		if err := s.store.UpsertCustomerHistory(ctx, &history); err != nil {
			return processed, fmt.Errorf("analytics: history for contact %d: %w", contact.ID, err)
		}
		if history.RiskLevel != contact.RiskLevel {
			if err := s.store.UpdateContactRisk(ctx, contact.ID, history.RiskLevel); err != nil {
				return processed, err
			}
		}
		processed++
	}
	return processed, nil
}

// InvalidateCache bumps the user's cache version after the mirror changed.
func (s *Service) InvalidateCache(ctx context.Context, userID string) error {
	return s.cache.Bump(ctx, userID)
}

func (s *Service) contactNames(ctx context.Context, userID string) (map[int64]string, error) {
	contacts, err := s.store.ListContacts(ctx, userID)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(contacts))
	for _, c := range contacts {
		names[c.ID] = c.Name
	}
	return names, nil
}
