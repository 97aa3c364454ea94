package service

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/rl1809/pharmacy-pos/internal/core/domain"
)

// TerminalPool holds the live terminal of every logged-in cashier.
type TerminalPool struct {
	deps Deps

	mu        sync.RWMutex
	terminals map[string]*Terminal
}

func NewTerminalPool(deps Deps) *TerminalPool {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &TerminalPool{
		deps:      deps,
		terminals: make(map[string]*Terminal),
	}
}

// Attach returns the cashier's terminal, creating and starting it on first
// use. A start failure leaves no terminal behind.
func (p *TerminalPool) Attach(ctx context.Context, user domain.User) (*Terminal, error) {
	p.mu.RLock()
	t, ok := p.terminals[user.ID]
	p.mu.RUnlock()
	if ok {
		return t, nil
	}

	t = NewTerminal(user, p.deps)
	if err := t.Start(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.terminals[user.ID]; ok {
		t.Close()
		return existing, nil
	}
	p.terminals[user.ID] = t
	p.deps.Logger.Info("terminal attached", zap.String("cashier_id", user.ID), zap.String("role", string(user.Role)))
	return t, nil
}

// Get returns the terminal of a logged-in cashier.
func (p *TerminalPool) Get(cashierID string) (*Terminal, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	t, ok := p.terminals[cashierID]
	if !ok {
		return nil, domain.ErrTerminalNotFound
	}
	return t, nil
}

// Detach tears down the cashier's terminal. Unknown cashiers are a no-op.
func (p *TerminalPool) Detach(cashierID string) {
	p.mu.Lock()
	t, ok := p.terminals[cashierID]
	delete(p.terminals, cashierID)
	p.mu.Unlock()

	if ok {
		t.Close()
		p.deps.Logger.Info("terminal detached", zap.String("cashier_id", cashierID))
	}
}

func (p *TerminalPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.terminals)
}

// CloseAll detaches every terminal, for shutdown.
func (p *TerminalPool) CloseAll() {
	p.mu.Lock()
	terminals := p.terminals
	p.terminals = make(map[string]*Terminal)
	p.mu.Unlock()

	for _, t := range terminals {
		t.Close()
	}
}
