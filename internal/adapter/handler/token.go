package handler

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rl1809/pharmacy-pos/internal/core/domain"
)

// TokenManager issues and verifies the bearer tokens handed out at login.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &TokenManager{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (m *TokenManager) Issue(user domain.User) (string, time.Time, error) {
	expires := m.now().Add(m.ttl)
	claims := jwt.MapClaims{
		"sub":       user.ID,
		"username":  user.Username,
		"full_name": user.FullName,
		"role":      string(user.Role),
		"iat":       m.now().Unix(),
		"exp":       expires.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// Verify returns the user a token was issued to. Any parse, signature or
// expiry failure is domain.ErrUnauthorized.
func (m *TokenManager) Verify(raw string) (domain.User, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return domain.User{}, domain.ErrUnauthorized
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return domain.User{}, domain.ErrUnauthorized
	}
	sub, _ := claims["sub"].(string)
	role, _ := claims["role"].(string)
	if sub == "" || role == "" {
		return domain.User{}, domain.ErrUnauthorized
	}
	username, _ := claims["username"].(string)
	fullName, _ := claims["full_name"].(string)

	return domain.User{
		ID:       sub,
		Username: username,
		FullName: fullName,
		Role:     domain.Role(role),
		Active:   true,
	}, nil
}
