package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Common errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrWeakSecret   = errors.New("signing secret must be at least 256 bits")
)

// TokenType discriminates the three credentials the codec mints.
type TokenType string

const (
	TokenAccess         TokenType = "ACCESS"
	TokenRefresh        TokenType = "REFRESH"
	TokenServiceAccount TokenType = "SERVICE_ACCOUNT"
)

const tokenIssuer = "hourglass"

// Claims is the signed payload of every token. Subject carries the username
// and ID carries the jti consulted by the revocation ledger.
type Claims struct {
	Role string    `json:"role"`
	Type TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// Username returns the token subject.
func (c *Claims) Username() string { return c.Subject }

// TokenID returns the jti.
func (c *Claims) TokenID() string { return c.ID }

// CodecConfig sets the per-type lifetimes.
type CodecConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	ServiceTTL time.Duration
}

// Codec signs and verifies bearer tokens with HMAC-SHA256 over a shared
// secret. It is stateless; revocation lives in the ledger, not here.
type Codec struct {
	secret []byte
	config CodecConfig
}

// NewCodec creates a codec. The secret must carry at least 256 bits of
// material; callers are expected to have rejected default sentinels already
// (config.Validate), but the length floor is enforced here too.
func NewCodec(secret []byte, cfg CodecConfig) (*Codec, error) {
	if len(secret) < 32 {
		return nil, ErrWeakSecret
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 24 * time.Hour
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	if cfg.ServiceTTL <= 0 {
		cfg.ServiceTTL = 30 * 24 * time.Hour
	}
	return &Codec{secret: secret, config: cfg}, nil
}

// Mint signs a token of the given type with a fresh 128-bit jti.
func (c *Codec) Mint(username, role string, typ TokenType) (string, *Claims, error) {
	return c.MintWithTTL(username, role, typ, c.ttlFor(typ))
}

// MintWithTTL signs a token with an explicit lifetime. Used for service
// account tokens whose lifetime is set per integration.
func (c *Codec) MintWithTTL(username, role string, typ TokenType, ttl time.Duration) (string, *Claims, error) {
	now := time.Now().UTC()
	claims := &Claims{
		Role: role,
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ID:        uuid.NewString(),
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, claims, nil
}

// Verify parses the token and checks signature, expiry and issuer.
func (c *Codec) Verify(tokenString string) (*Claims, error) {
	return c.parse(tokenString, true)
}

// ParseExpired verifies the signature but tolerates an expired token. Used
// by logout, where revoking an already-expired token is a no-op rather than
// an error.
func (c *Codec) ParseExpired(tokenString string) (*Claims, error) {
	return c.parse(tokenString, false)
}

func (c *Codec) parse(tokenString string, validateExpiry bool) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
	}
	if !validateExpiry {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (c *Codec) ttlFor(typ TokenType) time.Duration {
	switch typ {
	case TokenRefresh:
		return c.config.RefreshTTL
	case TokenServiceAccount:
		return c.config.ServiceTTL
	default:
		return c.config.AccessTTL
	}
}
