package identities

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/terrahash/landregistry/internal/cache"
	"github.com/terrahash/landregistry/internal/config"
	"github.com/terrahash/landregistry/pkg/models"
)

// Claims is the content of a session token
type Claims struct {
	UserID string          `json:"uid"`
	Wallet string          `json:"wallet"`
	Type   models.UserType `json:"type"`
	jwt.RegisteredClaims
}

// Sessions issues and verifies HS256 session tokens
type Sessions struct {
	secret     []byte
	cookieName string
	maxAge     time.Duration
	secure     bool
	store      cache.SessionStore
}

func NewSessions(cfg config.SessionConfig, store cache.SessionStore) *Sessions {
	if store == nil {
		store = cache.Noop{}
	}
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}
	name := cfg.CookieName
	if name == "" {
		name = "terrahash-session"
	}
	return &Sessions{
		secret:     []byte(cfg.Secret),
		cookieName: name,
		maxAge:     maxAge,
		secure:     cfg.Secure,
		store:      store,
	}
}

func (s *Sessions) CookieName() string    { return s.cookieName }
func (s *Sessions) MaxAge() time.Duration { return s.maxAge }
func (s *Sessions) Secure() bool          { return s.secure }

// Issue signs a new session for u
func (s *Sessions) Issue(u *models.User) (string, *Claims, error) {
	now := time.Now()
	claims := &Claims{
		UserID: u.ID,
		Wallet: u.WalletAddress,
		Type:   u.Type,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.maxAge)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign session: %w", err)
	}
	return token, claims, nil
}

// Parse verifies the signature, expiry and revocation of token.
func (s *Sessions) Parse(ctx context.Context, token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, ErrNotAuthenticated.Wrap(err)
	}
	revoked, err := s.store.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("check session: %w", err)
	}
	if revoked {
		return nil, ErrNotAuthenticated.Explain("Session has been logged out")
	}
	return claims, nil
}

// Revoke blocks the session until its natural expiry
func (s *Sessions) Revoke(ctx context.Context, claims *Claims) error {
	if claims == nil || claims.ID == "" {
		return nil
	}
	until := time.Now().Add(s.maxAge)
	if claims.ExpiresAt != nil {
		until = claims.ExpiresAt.Time
	}
	return s.store.Revoke(ctx, claims.ID, until)
}
