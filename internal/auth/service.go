package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/hourglasshq/hourglass/internal/storage"
)

// UserStore is the slice of the credential store the auth service needs.
type UserStore interface {
	FindByUsername(ctx context.Context, username string) (*storage.User, error)
	RecordFailedLogin(ctx context.Context, username string) (bool, error)
	ResetFailedLogins(ctx context.Context, username string) error
	ChangePassword(ctx context.Context, username, newHash string, historyDepth int) error
	PasswordHistory(ctx context.Context, username string, limit int) ([]string, error)
}

// RevocationStore is the slice of the revocation ledger the auth service
// needs.
type RevocationStore interface {
	Revoke(ctx context.Context, jti, username string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Service orchestrates login, refresh, logout and password change. It is
// agnostic of HTTP transport and of the concrete database behind the store
// interfaces.
type Service struct {
	users  UserStore
	ledger RevocationStore
	hasher PasswordHasher
	codec  *Codec
	policy *Policy
	log    *slog.Logger
}

func NewService(users UserStore, ledger RevocationStore, hasher PasswordHasher, codec *Codec, policy *Policy, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		users:  users,
		ledger: ledger,
		hasher: hasher,
		codec:  codec,
		policy: policy,
		log:    log,
	}
}

// TokenPair is the issuance result of a successful login or refresh.
type TokenPair struct {
	AccessToken        string `json:"accessToken"`
	RefreshToken       string `json:"refreshToken"`
	ExpiresIn          int64  `json:"expiresIn"` // access token lifetime in seconds
	MustChangePassword bool   `json:"mustChangePassword,omitempty"`
}

func (s *Service) mintPair(username, role string) (*TokenPair, error) {
	access, accessClaims, err := s.codec.Mint(username, role, TokenAccess)
	if err != nil {
		return nil, err
	}
	refresh, _, err := s.codec.Mint(username, role, TokenRefresh)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(time.Until(accessClaims.ExpiresAt.Time).Seconds()),
	}, nil
}

// MintServiceToken issues a long-lived SERVICE_ACCOUNT token for CI
// integrations. The subject must be an existing user (typically holding the
// JENKINS_SERVICE role) so the request gate can load a principal for it.
func (s *Service) MintServiceToken(ctx context.Context, username string, ttl time.Duration) (string, error) {
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return "", err
	}
	if ttl <= 0 {
		ttl = s.codec.config.ServiceTTL
	}
	token, claims, err := s.codec.MintWithTTL(user.Username, user.RoleName, TokenServiceAccount, ttl)
	if err != nil {
		return "", err
	}
	s.log.Info("service_token_minted",
		"subject", user.Username,
		"jti", claims.ID,
		"expires_at", claims.ExpiresAt.Time,
	)
	return token, nil
}
