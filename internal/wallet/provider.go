package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/invar/vault/internal/logging"
)

// ErrLocked is returned by Key when the account has not been unlocked.
var ErrLocked = errors.New("wallet is locked")

// Provider connects the keystore account of a directory: Connect unlocks it
// with the configured password source and reports its address.
type Provider struct {
	dir      string
	password PasswordSource

	mu      sync.Mutex
	manager *Manager
}

// NewProvider creates a provider for the keystore in dir.
func NewProvider(dir string, password PasswordSource) *Provider {
	return &Provider{dir: dir, password: password}
}

// KeystoreDir returns the watched keystore directory.
func (p *Provider) KeystoreDir() string {
	return p.dir
}

// Connect unlocks the first keystore account and returns its address.
func (p *Provider) Connect(ctx context.Context) (common.Address, error) {
	if err := ctx.Err(); err != nil {
		return common.Address{}, err
	}

	m, err := Load(p.dir)
	if err != nil {
		return common.Address{}, err
	}
	if err := p.unlock(m); err != nil {
		return common.Address{}, err
	}

	p.mu.Lock()
	if p.manager != nil && p.manager.Address() != m.Address() {
		p.manager.ClearCachedKey()
	}
	p.manager = m
	p.mu.Unlock()

	logging.Info("wallet unlocked", logging.Address(m.Address()), logging.Component("wallet"))
	return m.Address(), nil
}

func (p *Provider) unlock(m *Manager) error {
	if p.password == nil {
		return ErrNoPassword
	}
	pw, err := p.password()
	if err != nil {
		return err
	}
	if pw == "" {
		return ErrNoPassword
	}
	if _, err := m.Unlock(pw); err != nil {
		return err
	}
	return nil
}

// Key returns the unlocked key of account. If the keystore now holds a
// different account than the one last connected, it is unlocked first.
func (p *Provider) Key(account common.Address) (*ecdsa.PrivateKey, error) {
	if key, ok := p.cachedKey(account); ok {
		return key, nil
	}
	if _, err := p.Connect(context.Background()); err != nil {
		return nil, err
	}
	if key, ok := p.cachedKey(account); ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: keystore does not hold %s", ErrLocked, account.Hex())
}

func (p *Provider) cachedKey(account common.Address) (*ecdsa.PrivateKey, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.manager == nil || p.manager.Address() != account || p.manager.privateKey == nil {
		return nil, false
	}
	return p.manager.privateKey, true
}

// Lock forgets the unlocked key.
func (p *Provider) Lock() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.manager != nil {
		p.manager.ClearCachedKey()
		p.manager = nil
	}
}
