package api

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/prpatrol/prpatrol/internal/config"
	"github.com/prpatrol/prpatrol/pkg/errors"
)

// AuthManager verifies dashboard credentials and issues HS256 JWTs.
type AuthManager struct {
	username     string
	passwordHash string
	secret       []byte
	tokenTTL     time.Duration
	now          func() time.Time
}

// NewAuthManager builds an auth manager from the dashboard auth config.
func NewAuthManager(cfg *config.DashboardAuthConfig) *AuthManager {
	ttl := time.Duration(cfg.TokenTTLMinutes) * time.Minute
	if ttl <= 0 {
		ttl = time.Duration(config.DefaultTokenTTLMinutes) * time.Minute
	}
	return &AuthManager{
		username:     cfg.Username,
		passwordHash: cfg.PasswordHash,
		secret:       []byte(cfg.JWTSecret),
		tokenTTL:     ttl,
		now:          time.Now,
	}
}

// Login verifies the credentials against the configured bcrypt hash and
// returns a signed token with its expiry.
func (a *AuthManager) Login(username, password string) (string, time.Time, error) {
	if username != a.username {
		// Burn a bcrypt round anyway so username probing costs the
		// same as a wrong password.
		_ = bcrypt.CompareHashAndPassword([]byte(a.passwordHash), []byte(password))
		return "", time.Time{}, errors.New(errors.ErrCodeUnauthorized, "invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.passwordHash), []byte(password)); err != nil {
		return "", time.Time{}, errors.New(errors.ErrCodeUnauthorized, "invalid credentials")
	}

	now := a.now()
	expiresAt := now.Add(a.tokenTTL)
	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		Issuer:    "prpatrol",
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, errors.Wrap(errors.ErrCodeInternal, "failed to sign token", err)
	}
	return token, expiresAt, nil
}

// ValidateToken parses and verifies a token, returning the subject.
func (a *AuthManager) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New(errors.ErrCodeUnauthorized, "unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(func() time.Time { return a.now() }))
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeUnauthorized, "invalid token", err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", errors.New(errors.ErrCodeUnauthorized, "invalid token claims")
	}
	return claims.Subject, nil
}
