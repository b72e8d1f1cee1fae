// Package wallet provides the wallet behind the stake controller: an
// encrypted keystore account unlocked with a password taken from the
// environment, a file or the platform keyring.
package wallet

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrNoWallet is returned when the keystore directory holds no account.
	ErrNoWallet = errors.New("no wallet found")
	// ErrWalletExists is returned when creating over an existing account.
	ErrWalletExists = errors.New("wallet already exists")
)

// Scrypt parameters used when encrypting new keys.
var (
	scryptN = keystore.StandardScryptN
	scryptP = keystore.StandardScryptP
)

// Account is one key file of the keystore.
type Account struct {
	Address common.Address
	Path    string
}

// Accounts lists the key files in dir, ordered by file name. A missing
// directory has no accounts.
func Accounts(dir string) ([]Account, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read keystore directory: %w", err)
	}

	var out []Account
	for _, e := range entries {
		if e.IsDir() || e.Name()[0] == '.' {
			continue
		}
		path := filepath.Join(dir, e.Name())
		addr, ok := keyFileAddress(path)
		if !ok {
			continue
		}
		out = append(out, Account{Address: addr, Path: path})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func keyFileAddress(path string) (common.Address, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return common.Address{}, false
	}
	var key struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(data, &key); err != nil || !common.IsHexAddress(key.Address) {
		return common.Address{}, false
	}
	return common.HexToAddress(key.Address), true
}

// Manager holds the wallet account of a keystore directory.
type Manager struct {
	dir        string
	account    Account
	privateKey *ecdsa.PrivateKey
}

// Load opens the first account in dir. It returns ErrNoWallet when there is none.
func Load(dir string) (*Manager, error) {
	accounts, err := Accounts(dir)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoWallet, dir)
	}
	return &Manager{dir: dir, account: accounts[0]}, nil
}

// Create generates a new account in dir encrypted with password.
func Create(dir, password string) (*Manager, error) {
	if err := prepareDir(dir); err != nil {
		return nil, err
	}

	acct, err := keystore.StoreKey(dir, password, scryptN, scryptP)
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}
	return &Manager{dir: dir, account: Account{Address: acct.Address, Path: acct.URL.Path}}, nil
}

// Import stores a hex-encoded private key in dir encrypted with password.
func Import(dir, privKeyHex, password string) (*Manager, error) {
	if err := prepareDir(dir); err != nil {
		return nil, err
	}

	privateKey, err := crypto.HexToECDSA(trimHexPrefix(privKeyHex))
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}

	ks := keystore.NewKeyStore(dir, scryptN, scryptP)
	acct, err := ks.ImportECDSA(privateKey, password)
	if err != nil {
		return nil, fmt.Errorf("failed to import key: %w", err)
	}
	return &Manager{dir: dir, account: Account{Address: acct.Address, Path: acct.URL.Path}}, nil
}

func prepareDir(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create keystore directory: %w", err)
	}
	accounts, err := Accounts(dir)
	if err != nil {
		return err
	}
	if len(accounts) > 0 {
		return fmt.Errorf("%w in %s (%s)", ErrWalletExists, dir, accounts[0].Address.Hex())
	}
	return nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// Address returns the account address.
func (m *Manager) Address() common.Address {
	return m.account.Address
}

// KeystoreDir returns the keystore directory.
func (m *Manager) KeystoreDir() string {
	return m.dir
}

// KeyPath returns the path of the account's key file.
func (m *Manager) KeyPath() string {
	return m.account.Path
}

// Unlock decrypts the account key. The key is cached until ClearCachedKey.
func (m *Manager) Unlock(password string) (*ecdsa.PrivateKey, error) {
	if m.privateKey != nil {
		return m.privateKey, nil
	}

	keyJSON, err := os.ReadFile(m.account.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	key, err := keystore.DecryptKey(keyJSON, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt key: %w", err)
	}

	m.privateKey = key.PrivateKey
	return key.PrivateKey, nil
}

// ClearCachedKey zeros and removes the cached private key from memory.
func (m *Manager) ClearCachedKey() {
	if m.privateKey != nil {
		m.privateKey.D.SetUint64(0)
		m.privateKey = nil
	}
}
