package xero

import "time"

// Contact is the wire shape of a counterparty on the external platform.
type Contact struct {
	ContactID    string `json:"ContactID"`
	Name         string `json:"Name"`
	EmailAddress string `json:"EmailAddress"`
	Phone        string `json:"Phone"`
	IsCustomer   bool   `json:"IsCustomer"`
	IsSupplier   bool   `json:"IsSupplier"`
}

// Invoice is the wire shape of an invoice (ACCREC) or bill (ACCPAY).
type Invoice struct {
	InvoiceID     string    `json:"InvoiceID"`
	Type          string    `json:"Type"` // ACCREC or ACCPAY
	InvoiceNumber string    `json:"InvoiceNumber"`
	ContactID     string    `json:"ContactID"`
	Date          time.Time `json:"Date"`
	DueDate       time.Time `json:"DueDate"`
	CurrencyCode  string    `json:"CurrencyCode"`
	SubTotal      float64   `json:"SubTotal"`
	TotalTax      float64   `json:"TotalTax"`
	Total         float64   `json:"Total"`
	AmountPaid    float64   `json:"AmountPaid"`
	AmountDue     float64   `json:"AmountDue"`
	Status        string    `json:"Status"` // DRAFT, AUTHORISED, PAID, VOIDED, DELETED
}

// Payment is the wire shape of a payment applied to an invoice.
type Payment struct {
	PaymentID string    `json:"PaymentID"`
	InvoiceID string    `json:"InvoiceID"`
	Amount    float64   `json:"Amount"`
	Date      time.Time `json:"Date"`
	Reference string    `json:"Reference"`
}

// CreditDocument is the wire shape shared by credit notes, overpayments and
// prepayments. The allocated/remaining split evolves as the platform applies
// the credit across invoices.
type CreditDocument struct {
	DocumentID      string    `json:"DocumentID"`
	InvoiceID       string    `json:"InvoiceID"`
	ContactID       string    `json:"ContactID"`
	Total           float64   `json:"Total"`
	AppliedAmount   float64   `json:"AppliedAmount"`
	RemainingCredit float64   `json:"RemainingCredit"`
	Status          string    `json:"Status"`
	Date            time.Time `json:"Date"`
}

// RateLimit carries the throttle headers returned with every list response.
// The platform enforces its own per-minute and per-day caps; the values are
// surfaced for logging, the pager does not back off on them.
type RateLimit struct {
	MinuteRemaining int
	DayRemaining    int
	RetryAfter      time.Duration
}

// Page is one page of a paginated listing.
type Page[T any] struct {
	Results   []T
	RateLimit RateLimit
}
