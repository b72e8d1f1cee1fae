package wallet

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/99designs/keyring"
)

const keyringService = "invar"

// platformKeyring is the keyring the wallet password is kept in on one OS.
type platformKeyring struct {
	name     string
	backends []keyring.BackendType
}

var platformKeyrings = map[string]platformKeyring{
	"darwin":  {"macOS Keychain", []keyring.BackendType{keyring.KeychainBackend}},
	"linux":   {"Secret Service", []keyring.BackendType{keyring.SecretServiceBackend, keyring.KWalletBackend}},
	"windows": {"Windows Credential Manager", []keyring.BackendType{keyring.WinCredBackend}},
}

// PasswordStore keeps keystore passwords in a keyring, one entry per keystore
// directory.
type PasswordStore struct {
	ring    keyring.Keyring
	backend string
}

// NewPasswordStore wraps an open keyring. backend names it in messages.
func NewPasswordStore(ring keyring.Keyring, backend string) *PasswordStore {
	return &PasswordStore{ring: ring, backend: backend}
}

// OpenPasswordStore opens the platform keyring.
func OpenPasswordStore() (*PasswordStore, error) {
	platform, ok := platformKeyrings[runtime.GOOS]
	if !ok {
		return nil, fmt.Errorf("no keyring backend available on %s", runtime.GOOS)
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:                    keyringService,
		AllowedBackends:                platform.backends,
		KeychainTrustApplication:       true,
		KeychainAccessibleWhenUnlocked: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", platform.name, err)
	}
	return NewPasswordStore(ring, platform.name), nil
}

// Backend returns the keyring name, e.g. "macOS Keychain".
func (s *PasswordStore) Backend() string {
	return s.backend
}

// Save stores the password of the keystore in dir.
func (s *PasswordStore) Save(dir, password string) error {
	err := s.ring.Set(keyring.Item{
		Key:         passwordKey(dir),
		Data:        []byte(password),
		Label:       "InVar wallet password",
		Description: "Password of the InVar keystore in " + dir,
	})
	if err != nil {
		return fmt.Errorf("failed to store in %s: %w", s.backend, err)
	}
	return nil
}

// Load returns the password stored for dir, or "" when there is none.
func (s *PasswordStore) Load(dir string) (string, error) {
	item, err := s.ring.Get(passwordKey(dir))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(item.Data), nil
}

// Forget removes the password stored for dir. A missing entry is not an error.
func (s *PasswordStore) Forget(dir string) error {
	err := s.ring.Remove(passwordKey(dir))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil
	}
	return err
}

// passwordKey names the keyring entry of a keystore directory. Relative and
// absolute spellings of one directory share an entry.
func passwordKey(dir string) string {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	return "keystore:" + filepath.Clean(dir)
}
