package sqlite

import (
	"context"
	"time"

	"github.com/example/contract-scheduler/internal/persistence"
)

// UpsertCredential inserts a credential, replacing the token pair when a row
// for the same (user, provider account) already exists.
func (s *Storage) UpsertCredential(ctx context.Context, cred persistence.CalendarCredential) (persistence.CalendarCredential, error) {
	scopes, err := encodeStrings(cred.Scopes)
	if err != nil {
		return persistence.CalendarCredential{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO calendar_credentials
			(id, user_id, provider_account, access_token, refresh_token, token_type, expiry, scopes, revoked, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT (user_id, provider_account) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_type = excluded.token_type,
			expiry = excluded.expiry,
			scopes = excluded.scopes,
			revoked = 0,
			updated_at = excluded.updated_at
	`, cred.ID, cred.UserID, cred.ProviderAccount, cred.AccessToken, cred.RefreshToken,
		cred.TokenType, fmtTime(cred.Expiry), scopes, fmtTime(cred.CreatedAt), fmtTime(cred.UpdatedAt))
	if err != nil {
		return persistence.CalendarCredential{}, mapError(err)
	}

	// The stored row keeps its original id on conflict, so read it back.
	var row credentialRow
	err = s.db.GetContext(ctx, &row, `
		SELECT * FROM calendar_credentials WHERE user_id = ? AND provider_account = ?
	`, cred.UserID, cred.ProviderAccount)
	if err != nil {
		return persistence.CalendarCredential{}, mapError(err)
	}
	return row.convert()
}

// GetCredential retrieves a credential by id.
func (s *Storage) GetCredential(ctx context.Context, id string) (persistence.CalendarCredential, error) {
	var row credentialRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM calendar_credentials WHERE id = ?`, id); err != nil {
		return persistence.CalendarCredential{}, mapError(err)
	}
	return row.convert()
}

// GetCredentialForUser retrieves the credential connected for a user.
func (s *Storage) GetCredentialForUser(ctx context.Context, userID string) (persistence.CalendarCredential, error) {
	var row credentialRow
	err := s.db.GetContext(ctx, &row, `
		SELECT * FROM calendar_credentials WHERE user_id = ? ORDER BY created_at LIMIT 1
	`, userID)
	if err != nil {
		return persistence.CalendarCredential{}, mapError(err)
	}
	return row.convert()
}

// RotateTokens replaces the stored token pair in a single statement so the
// old pair can never be observed after the rotation.
func (s *Storage) RotateTokens(ctx context.Context, id, accessToken, refreshToken, tokenType string, expiry, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE calendar_credentials
		SET access_token = ?, refresh_token = ?, token_type = ?, expiry = ?, updated_at = ?
		WHERE id = ?
	`, accessToken, refreshToken, tokenType, fmtTime(expiry), fmtTime(now), id)
	if err != nil {
		return mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// MarkRevoked flags a credential whose refresh grant was rejected upstream.
func (s *Storage) MarkRevoked(ctx context.Context, id string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE calendar_credentials SET revoked = 1, updated_at = ? WHERE id = ?
	`, fmtTime(now), id)
	if err != nil {
		return mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}
