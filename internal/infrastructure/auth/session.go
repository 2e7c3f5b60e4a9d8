package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"dealroom/internal/domain/entity"
	"dealroom/pkg/errors"
)

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// SessionManager issues and verifies HS256 session tokens. The subject is the
// user id and the role claim is the user's trade role.
type SessionManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSessionManager(secret string, ttl time.Duration) *SessionManager {
	return &SessionManager{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (m *SessionManager) Issue(userID string, role entity.Role) (string, time.Time, error) {
	if userID == "" || !role.Valid() {
		return "", time.Time{}, errors.Validation("userId and a valid role are required")
	}

	now := m.now()
	expiresAt := now.Add(m.ttl)
	claims := &Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, errors.Internal("Failed to sign session token", err)
	}
	return token, expiresAt, nil
}

func (m *SessionManager) Verify(_ context.Context, token string) (*entity.Session, error) {
	if token == "" {
		return nil, errors.Unauthenticated("Missing session token", nil)
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return nil, errors.Unauthenticated("Invalid or expired session token", err)
	}

	role := entity.Role(claims.Role)
	if claims.Subject == "" || !role.Valid() {
		return nil, errors.Unauthenticated("Session token is missing identity claims", nil)
	}

	session := &entity.Session{UserID: claims.Subject, Role: role}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}
