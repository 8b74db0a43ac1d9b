package connection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for connections. Tokens
// are encrypted before they hit the table and decrypted on the way out.
type Repository struct {
	pool   *pgxpool.Pool
	cipher *TokenCipher
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool, cipher *TokenCipher) *Repository {
	return &Repository{pool: pool, cipher: cipher}
}

// FindActive returns the active connection for a user.
func (r *Repository) FindActive(ctx context.Context, userID string) (*Connection, error) {
	const query = `
		SELECT id, user_id, tenant_id, tenant_name, access_token, refresh_token,
			token_expires_at, active, created_at, updated_at
		FROM connections
		WHERE user_id = $1 AND active`

	var conn Connection
	var access, refresh []byte
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&conn.ID, &conn.UserID, &conn.TenantID, &conn.TenantName,
		&access, &refresh, &conn.TokenExpiresAt, &conn.Active,
		&conn.CreatedAt, &conn.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("connection: find active: %w", err)
	}

	if conn.AccessToken, err = r.cipher.Open(access); err != nil {
		return nil, err
	}
	if conn.RefreshToken, err = r.cipher.Open(refresh); err != nil {
		return nil, err
	}
	return &conn, nil
}

// Save inserts a connection or replaces the token material on the user's
// existing active connection.
func (r *Repository) Save(ctx context.Context, conn *Connection) error {
	access, err := r.cipher.Seal(conn.AccessToken)
	if err != nil {
		return err
	}
	refresh, err := r.cipher.Seal(conn.RefreshToken)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO connections (user_id, tenant_id, tenant_name, access_token, refresh_token, token_expires_at, active)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		ON CONFLICT (user_id) WHERE active DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id,
			tenant_name = EXCLUDED.tenant_name,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_expires_at = EXCLUDED.token_expires_at,
			updated_at = NOW()
		RETURNING id`

	if err := r.pool.QueryRow(ctx, query,
		conn.UserID, conn.TenantID, conn.TenantName, access, refresh, conn.TokenExpiresAt,
	).Scan(&conn.ID); err != nil {
		return fmt.Errorf("connection: save: %w", err)
	}
	return nil
}

// UpdateTokens persists rotated token material after a refresh.
func (r *Repository) UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt time.Time) error {
	access, err := r.cipher.Seal(accessToken)
	if err != nil {
		return err
	}
	refresh, err := r.cipher.Seal(refreshToken)
	if err != nil {
		return err
	}

	const query = `
		UPDATE connections
		SET access_token = $2, refresh_token = $3, token_expires_at = $4, updated_at = NOW()
		WHERE id = $1`

	if _, err := r.pool.Exec(ctx, query, id, access, refresh, expiresAt); err != nil {
		return fmt.Errorf("connection: update tokens: %w", err)
	}
	return nil
}

// ListActiveUserIDs returns every user with an active connection, for the
// nightly sync fan-out.
func (r *Repository) ListActiveUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id FROM connections WHERE active ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("connection: list active users: %w", err)
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		userIDs = append(userIDs, userID)
	}
	return userIDs, rows.Err()
}

// Deactivate marks the user's connection inactive. Mirrored data stays put.
func (r *Repository) Deactivate(ctx context.Context, userID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE connections SET active = FALSE, updated_at = NOW() WHERE user_id = $1 AND active`,
		userID)
	if err != nil {
		return fmt.Errorf("connection: deactivate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
