package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/hiltonbrown/ledgerbot-sub004/internal/xero"
)

// refreshSkew refreshes tokens slightly before their stated expiry so an
// in-flight sync never starts with a token about to lapse.
const refreshSkew = 2 * time.Minute

// RepositoryPort defines data access methods for connections.
type RepositoryPort interface {
	FindActive(ctx context.Context, userID string) (*Connection, error)
	Save(ctx context.Context, conn *Connection) error
	UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt time.Time) error
	Deactivate(ctx context.Context, userID string) error
}

// OAuthConfig carries the platform OAuth client settings.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	BaseURL      string
}

// Service resolves a user into a usable platform client, refreshing
// near-expiry access tokens transparently.
type Service struct {
	repo   RepositoryPort
	oauth  OAuthConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, oauth OAuthConfig, logger *slog.Logger) *Service {
	return &Service{repo: repo, oauth: oauth, logger: logger, now: time.Now}
}

// WithNow overrides the service clock for testing.
func (s *Service) WithNow(fn func() time.Time) {
	if fn != nil {
		s.now = fn
	}
}

// Resolve returns a client bound to the user's tenant. Fails with ErrNotFound
// when the user never connected and ErrAuthExpired when the refresh token is
// rejected upstream.
func (s *Service) Resolve(ctx context.Context, userID string) (*xero.Client, error) {
	conn, err := s.repo.FindActive(ctx, userID)
	if err != nil {
		return nil, err
	}

	if s.now().Add(refreshSkew).After(conn.TokenExpiresAt) {
		if err := s.refresh(ctx, conn); err != nil {
			return nil, err
		}
	}

	source := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: conn.AccessToken,
		TokenType:   "Bearer",
		Expiry:      conn.TokenExpiresAt,
	})
	return xero.NewClient(s.oauth.BaseURL, conn.TenantID, source), nil
}

func (s *Service) refresh(ctx context.Context, conn *Connection) error {
	cfg := &oauth2.Config{
		ClientID:     s.oauth.ClientID,
		ClientSecret: s.oauth.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: s.oauth.TokenURL},
	}

	token, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: conn.RefreshToken}).Token()
	if err != nil {
		s.logger.Warn("token refresh rejected",
			slog.String("user_id", conn.UserID),
			slog.Any("error", err))
		return fmt.Errorf("%w: %v", ErrAuthExpired, err)
	}

	refreshToken := token.RefreshToken
	if refreshToken == "" {
		refreshToken = conn.RefreshToken
	}
	if err := s.repo.UpdateTokens(ctx, conn.ID, token.AccessToken, refreshToken, token.Expiry); err != nil {
		return err
	}

	conn.AccessToken = token.AccessToken
	conn.RefreshToken = refreshToken
	conn.TokenExpiresAt = token.Expiry
	return nil
}

// Status reports whether the user has an active connection.
func (s *Service) Status(ctx context.Context, userID string) (Status, error) {
	conn, err := s.repo.FindActive(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return Status{Connected: false}, nil
	}
	if err != nil {
		return Status{}, err
	}
	return Status{Connected: true, TenantName: conn.TenantName, ExpiresAt: conn.TokenExpiresAt}, nil
}

// Disconnect deactivates the user's connection.
func (s *Service) Disconnect(ctx context.Context, userID string) error {
	return s.repo.Deactivate(ctx, userID)
}
