// Package credential owns OAuth calendar credentials: storing token pairs
// from consent callbacks and handing out valid access tokens, refreshing
// transparently when they are about to expire.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/example/contract-scheduler/internal/persistence"
)

var (
	// ErrNotConnected is returned when the user has no stored credential.
	ErrNotConnected = errors.New("credential: no calendar connected")
	// ErrRevoked is returned when the provider rejected the refresh grant.
	// The user must go through consent again.
	ErrRevoked = errors.New("credential: grant revoked")
	// ErrTransient is returned on network or rate-limit failures during
	// refresh. Callers may retry.
	ErrTransient = errors.New("credential: temporary refresh failure")
)

// DefaultExpiryMargin is how close to expiry a token may get before a
// refresh is forced.
const DefaultExpiryMargin = 60 * time.Second

// Access is a usable token for one user's calendar account. The stored
// refresh token never leaves the package.
type Access struct {
	UserID          string
	ProviderAccount string
	Token           *oauth2.Token
}

// AccountLookup resolves the provider account identifier (the calendar owner
// email) for a freshly exchanged token.
type AccountLookup func(ctx context.Context, token *oauth2.Token) (string, error)

// Store manages calendar credentials. Refreshes for the same credential are
// collapsed through a singleflight group so at most one refresh is in flight
// per credential, which protects the refresh token from concurrent rotation.
type Store struct {
	repo        persistence.CredentialRepository
	oauth       *oauth2.Config
	accountFor  AccountLookup
	margin      time.Duration
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger

	group       singleflight.Group
	tokenSource func(ctx context.Context, base *oauth2.Token) oauth2.TokenSource
}

// NewStore wires a credential store. idGenerator supplies identifiers for new
// credential rows; accountFor resolves the provider account after consent.
func NewStore(repo persistence.CredentialRepository, oauthCfg *oauth2.Config, accountFor AccountLookup, idGenerator func() string, now func() time.Time) *Store {
	return NewStoreWithLogger(repo, oauthCfg, accountFor, idGenerator, now, nil)
}

// NewStoreWithLogger wires a credential store with an explicit logger.
func NewStoreWithLogger(repo persistence.CredentialRepository, oauthCfg *oauth2.Config, accountFor AccountLookup, idGenerator func() string, now func() time.Time, logger *slog.Logger) *Store {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		repo:        repo,
		oauth:       oauthCfg,
		accountFor:  accountFor,
		margin:      DefaultExpiryMargin,
		idGenerator: idGenerator,
		now:         now,
		logger:      logger,
	}
	s.tokenSource = func(ctx context.Context, base *oauth2.Token) oauth2.TokenSource {
		return oauthCfg.TokenSource(ctx, base)
	}
	return s
}

// AuthCodeURL builds the consent URL for the authorization-code flow.
// Offline access is requested so a refresh token is issued.
func (s *Store) AuthCodeURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a token pair and upserts the
// credential keyed by (user, provider account).
func (s *Store) Exchange(ctx context.Context, userID, code string) (persistence.CalendarCredential, error) {
	token, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return persistence.CalendarCredential{}, fmt.Errorf("credential: exchanging authorization code: %w", err)
	}

	account := userID
	if s.accountFor != nil {
		account, err = s.accountFor(ctx, token)
		if err != nil {
			return persistence.CalendarCredential{}, fmt.Errorf("credential: resolving provider account: %w", err)
		}
	}

	now := s.now().UTC()
	cred := persistence.CalendarCredential{
		ID:              s.idGenerator(),
		UserID:          userID,
		ProviderAccount: account,
		AccessToken:     token.AccessToken,
		RefreshToken:    token.RefreshToken,
		TokenType:       token.TokenType,
		Expiry:          token.Expiry.UTC(),
		Scopes:          append([]string(nil), s.oauth.Scopes...),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	stored, err := s.repo.UpsertCredential(ctx, cred)
	if err != nil {
		return persistence.CalendarCredential{}, err
	}
	s.logger.InfoContext(ctx, "calendar credential stored", "user_id", userID, "provider_account", account)
	return stored, nil
}

// ValidToken returns a non-expired access token for the user, refreshing
// first when the stored token expires within the safety margin.
func (s *Store) ValidToken(ctx context.Context, userID string) (Access, error) {
	cred, err := s.repo.GetCredentialForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return Access{}, fmt.Errorf("%w: user %s", ErrNotConnected, userID)
		}
		return Access{}, err
	}
	if cred.Revoked {
		return Access{}, fmt.Errorf("%w: user %s", ErrRevoked, userID)
	}
	if s.fresh(cred) {
		return access(cred), nil
	}

	result, err, _ := s.group.Do(cred.ID, func() (interface{}, error) {
		return s.refresh(ctx, cred.ID)
	})
	if err != nil {
		return Access{}, err
	}
	return access(result.(persistence.CalendarCredential)), nil
}

// fresh reports whether the stored token outlives the expiry margin.
func (s *Store) fresh(cred persistence.CalendarCredential) bool {
	if cred.Expiry.IsZero() {
		return false
	}
	return s.now().Add(s.margin).Before(cred.Expiry)
}

func (s *Store) refresh(ctx context.Context, credentialID string) (persistence.CalendarCredential, error) {
	// Re-read: a refresh that completed while this call waited on the
	// singleflight group has already rotated the pair.
	cred, err := s.repo.GetCredential(ctx, credentialID)
	if err != nil {
		return persistence.CalendarCredential{}, err
	}
	if cred.Revoked {
		return persistence.CalendarCredential{}, fmt.Errorf("%w: user %s", ErrRevoked, cred.UserID)
	}
	if s.fresh(cred) {
		return cred, nil
	}

	base := &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		TokenType:    cred.TokenType,
		Expiry:       cred.Expiry,
	}
	token, err := s.tokenSource(ctx, base).Token()
	if err != nil {
		if isRevokedGrant(err) {
			if markErr := s.repo.MarkRevoked(ctx, cred.ID, s.now().UTC()); markErr != nil {
				s.logger.ErrorContext(ctx, "failed to mark credential revoked", "credential_id", cred.ID, "error", markErr)
			}
			s.logger.WarnContext(ctx, "calendar grant revoked", "user_id", cred.UserID)
			return persistence.CalendarCredential{}, fmt.Errorf("%w: user %s", ErrRevoked, cred.UserID)
		}
		return persistence.CalendarCredential{}, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	// Google omits the refresh token on rotation unless it changed.
	refreshToken := token.RefreshToken
	if refreshToken == "" {
		refreshToken = cred.RefreshToken
	}
	if err := s.repo.RotateTokens(ctx, cred.ID, token.AccessToken, refreshToken, token.TokenType, token.Expiry.UTC(), s.now().UTC()); err != nil {
		return persistence.CalendarCredential{}, err
	}

	cred.AccessToken = token.AccessToken
	cred.RefreshToken = refreshToken
	cred.TokenType = token.TokenType
	cred.Expiry = token.Expiry.UTC()
	s.logger.InfoContext(ctx, "calendar credential refreshed", "user_id", cred.UserID, "expiry", cred.Expiry)
	return cred, nil
}

// isRevokedGrant detects the provider's revoked-consent answer to a refresh
// attempt.
func isRevokedGrant(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return false
	}
	return retrieveErr.ErrorCode == "invalid_grant"
}

func access(cred persistence.CalendarCredential) Access {
	return Access{
		UserID:          cred.UserID,
		ProviderAccount: cred.ProviderAccount,
		Token: &oauth2.Token{
			AccessToken: cred.AccessToken,
			TokenType:   cred.TokenType,
			Expiry:      cred.Expiry,
		},
	}
}
