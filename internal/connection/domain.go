package connection

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates the user never connected the platform, or the
	// connection has been deactivated.
	ErrNotFound = errors.New("connection: not found")
	// ErrAuthExpired indicates the refresh token itself was rejected and the
	// user must reconnect.
	ErrAuthExpired = errors.New("connection: authorisation expired")
)

// Connection links a local user to one external-platform tenant.
type Connection struct {
	ID             int64
	UserID         string
	TenantID       string
	TenantName     string
	AccessToken    string
	RefreshToken   string
	TokenExpiresAt time.Time
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Status is the connection view exposed to the API.
type Status struct {
	Connected  bool      `json:"connected"`
	TenantName string    `json:"tenantName,omitempty"`
	ExpiresAt  time.Time `json:"expiresAt,omitzero"`
}
