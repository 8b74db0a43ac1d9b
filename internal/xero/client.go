// Package xero talks to the external accounting platform: a bearer-token
// HTTP client for the paginated list endpoints plus the rate-limited pager
// that drains them.
package xero

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"
)

// Client calls the platform's ledger endpoints for a single tenant.
type Client struct {
	baseURL  string
	tenantID string
	http     *http.Client
}

// NewClient builds a client bound to one tenant. The token source supplies
// (and transparently refreshes) the bearer token for every request.
func NewClient(baseURL, tenantID string, source oauth2.TokenSource) *Client {
	return &Client{
		baseURL:  baseURL,
		tenantID: tenantID,
		http: &http.Client{
			Transport: &oauth2.Transport{Source: source},
			Timeout:   30 * time.Second,
		},
	}
}

// TenantID returns the tenant this client is bound to.
func (c *Client) TenantID() string {
	return c.tenantID
}

// ListFilter narrows a listing server-side.
type ListFilter struct {
	ModifiedSince time.Time
	DateFrom      time.Time
}

type listEnvelope[T any] struct {
	Items []T `json:"Items"`
}

func list[T any](ctx context.Context, c *Client, resource string, page, pageSize int, filter ListFilter) (Page[T], error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(pageSize))
	if !filter.DateFrom.IsZero() {
		q.Set("where", fmt.Sprintf("Date >= DateTime(%s)", filter.DateFrom.Format("2006,01,02")))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+resource+"?"+q.Encode(), nil)
	if err != nil {
		return Page[T]{}, fmt.Errorf("xero: build request: %w", err)
	}
	req.Header.Set("Xero-Tenant-Id", c.tenantID)
	req.Header.Set("Accept", "application/json")
	if !filter.ModifiedSince.IsZero() {
		req.Header.Set("If-Modified-Since", filter.ModifiedSince.UTC().Format(http.TimeFormat))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Page[T]{}, fmt.Errorf("xero: %s page %d: %w", resource, page, err)
	}
	defer resp.Body.Close()

	limits := parseRateLimit(resp.Header)
	if resp.StatusCode != http.StatusOK {
		return Page[T]{RateLimit: limits}, fmt.Errorf("xero: %s page %d: unexpected status %d", resource, page, resp.StatusCode)
	}

	var envelope listEnvelope[T]
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return Page[T]{RateLimit: limits}, fmt.Errorf("xero: decode %s page %d: %w", resource, page, err)
	}
	return Page[T]{Results: envelope.Items, RateLimit: limits}, nil
}

func parseRateLimit(h http.Header) RateLimit {
	var rl RateLimit
	rl.MinuteRemaining, _ = strconv.Atoi(h.Get("X-MinLimit-Remaining"))
	rl.DayRemaining, _ = strconv.Atoi(h.Get("X-DayLimit-Remaining"))
	if secs, err := strconv.Atoi(h.Get("Retry-After")); err == nil {
		rl.RetryAfter = time.Duration(secs) * time.Second
	}
	return rl
}

// ListContacts returns one page of contacts.
func (c *Client) ListContacts(ctx context.Context, page, pageSize int, filter ListFilter) (Page[Contact], error) {
	return list[Contact](ctx, c, "Contacts", page, pageSize, filter)
}

// ListInvoices returns one page of invoices and bills.
func (c *Client) ListInvoices(ctx context.Context, page, pageSize int, filter ListFilter) (Page[Invoice], error) {
	return list[Invoice](ctx, c, "Invoices", page, pageSize, filter)
}

// ListPayments returns one page of payments.
func (c *Client) ListPayments(ctx context.Context, page, pageSize int, filter ListFilter) (Page[Payment], error) {
	return list[Payment](ctx, c, "Payments", page, pageSize, filter)
}

// ListCreditNotes returns one page of credit notes.
func (c *Client) ListCreditNotes(ctx context.Context, page, pageSize int, filter ListFilter) (Page[CreditDocument], error) {
	return list[CreditDocument](ctx, c, "CreditNotes", page, pageSize, filter)
}

// ListOverpayments returns one page of overpayments.
func (c *Client) ListOverpayments(ctx context.Context, page, pageSize int, filter ListFilter) (Page[CreditDocument], error) {
	return list[CreditDocument](ctx, c, "Overpayments", page, pageSize, filter)
}

// ListPrepayments returns one page of prepayments.
func (c *Client) ListPrepayments(ctx context.Context, page, pageSize int, filter ListFilter) (Page[CreditDocument], error) {
	return list[CreditDocument](ctx, c, "Prepayments", page, pageSize, filter)
}
