// Package mirror holds the local relational copy of externally-owned ledger
// data. Every record is keyed by (owner, external reference); the external
// reference is the sync idempotency key.
package mirror

import (
	"time"
)

// RiskLevel classifies a counterparty's payment risk.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// EntryKind distinguishes receivables from payables.
type EntryKind string

const (
	KindInvoice EntryKind = "invoice" // money owed to the user
	KindBill    EntryKind = "bill"    // money the user owes
)

// EntryStatus enumerates ledger entry statuses.
type EntryStatus string

const (
	StatusDraft           EntryStatus = "draft"
	StatusAwaitingPayment EntryStatus = "awaiting_payment"
	StatusPaid            EntryStatus = "paid"
	StatusVoided          EntryStatus = "voided"
	StatusCancelled       EntryStatus = "cancelled"
)

// CreditKind distinguishes the three mutable adjustment document types.
type CreditKind string

const (
	CreditNote  CreditKind = "credit_note"
	Overpayment CreditKind = "overpayment"
	Prepayment  CreditKind = "prepayment"
)

// Contact is a mirrored customer/supplier party.
type Contact struct {
	ID                 int64
	UserID             string
	ExternalRef        string
	Name               string
	Email              string
	Phone              string
	IsCustomer         bool
	IsSupplier         bool
	RiskLevel          RiskLevel
	BankDetailsChanged bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// LedgerEntry is a mirrored monetary document against a contact. Identity
// fields (number, dates, currency, contact) are immutable after first sight;
// balances and status evolve as the platform's own reconciliation proceeds.
type LedgerEntry struct {
	ID                int64
	UserID            string
	Kind              EntryKind
	ExternalRef       string
	ContactID         int64
	Number            string
	IssueDate         time.Time
	DueDate           time.Time
	Currency          string
	Subtotal          float64
	Tax               float64
	Total             float64
	AmountPaid        float64
	AmountOutstanding float64
	Status            EntryStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Payment is an immutable fact reducing an entry's outstanding balance.
type Payment struct {
	ID            int64
	UserID        string
	ExternalRef   string
	LedgerEntryID int64
	Amount        float64
	PaidAt        time.Time
	Reference     string
	CreatedAt     time.Time
}

// Credit is a mutable adjustment document (credit note, overpayment or
// prepayment); its allocated/remaining split changes over time.
type Credit struct {
	ID            int64
	UserID        string
	Kind          CreditKind
	ExternalRef   string
	LedgerEntryID int64
	ContactID     int64
	Total         float64
	Allocated     float64
	Remaining     float64
	Status        string
	IssuedAt      time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CustomerHistory is the derived per-contact snapshot recomputed wholesale on
// every sync run.
type CustomerHistory struct {
	ID                 int64
	UserID             string
	ContactID          int64
	InvoiceCount       int
	LatePaymentCount   int
	AvgDaysLate        float64
	CurrentOutstanding float64
	LargestOutstanding float64
	LastPaymentAt      *time.Time
	CreditTermDays     int
	RiskScore          float64
	RiskLevel          RiskLevel
	ComputedAt         time.Time
}

// SyncStatus is the per-user observability record; it never gates a run.
type SyncStatus struct {
	UserID        string     `json:"userId"`
	LastAttemptAt *time.Time `json:"lastAttemptAt"`
	LastSuccessAt *time.Time `json:"lastSuccessAt"`
	LastFailureAt *time.Time `json:"lastFailureAt"`
	LastError     string     `json:"lastError,omitempty"`
	ContactCount  int        `json:"contactCount"`
	EntryCount    int        `json:"entryCount"`
	PaymentCount  int        `json:"paymentCount"`
	CreditCount   int        `json:"creditCount"`
}

// RecordCounts aggregates mirrored record totals for a sync status row.
type RecordCounts struct {
	Contacts int
	Entries  int
	Payments int
	Credits  int
}
