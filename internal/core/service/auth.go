package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/pharmacy-pos/internal/core/domain"
	"github.com/rl1809/pharmacy-pos/internal/port"
)

const DefaultLoginTimeout = 10 * time.Second

type AuthService struct {
	identity  port.IdentityProvider
	terminals *TerminalPool
	timeout   time.Duration
	logger    *zap.Logger
}

func NewAuthService(identity port.IdentityProvider, terminals *TerminalPool, timeout time.Duration, logger *zap.Logger) *AuthService {
	if timeout <= 0 {
		timeout = DefaultLoginTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		identity:  identity,
		terminals: terminals,
		timeout:   timeout,
		logger:    logger,
	}
}

type authResult struct {
	user *domain.User
	err  error
}

// Login races the identity provider against the login timeout. When the
// deadline wins the attempt is abandoned; whatever the provider returns
// later is dropped. Users whose role may run the register get a terminal.
func (s *AuthService) Login(ctx context.Context, username, password string) (domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return domain.User{}, domain.ErrInvalidCredentials
	}

	done := make(chan authResult, 1)
	go func() {
		user, err := s.identity.Authenticate(context.WithoutCancel(ctx), username, password)
		done <- authResult{user: user, err: err}
	}()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	var res authResult
	select {
	case res = <-done:
	case <-timer.C:
		s.logger.Warn("login timed out", zap.String("username", username), zap.Duration("timeout", s.timeout))
		return domain.User{}, domain.ErrLoginTimeout
	case <-ctx.Done():
		return domain.User{}, ctx.Err()
	}

	if res.err != nil {
		return domain.User{}, fmt.Errorf("authenticate: %w", res.err)
	}
	if res.user == nil || !res.user.Active {
		return domain.User{}, domain.ErrInvalidCredentials
	}

	user := *res.user
	user.PasswordHash = ""
	if user.Role.Allows(domain.PermOperateRegister) {
		if _, err := s.terminals.Attach(ctx, user); err != nil {
			return domain.User{}, fmt.Errorf("attach terminal: %w", err)
		}
	}

	s.logger.Info("user logged in", zap.String("user_id", user.ID), zap.String("role", string(user.Role)))
	return user, nil
}

// Logout tears down the user's terminal.
func (s *AuthService) Logout(userID string) {
	s.terminals.Detach(userID)
}

// Terminal resolves the terminal of an authenticated user. After logout,
// or a restart, there is none and the user has to log in again.
func (s *AuthService) Terminal(user domain.User) (*Terminal, error) {
	if !user.Role.Allows(domain.PermOperateRegister) {
		return nil, domain.ErrForbidden
	}
	return s.terminals.Get(user.ID)
}
