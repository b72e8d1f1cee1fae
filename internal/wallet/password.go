package wallet

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// PasswordEnv is the environment variable read by EnvPassword.
const PasswordEnv = "INVAR_WALLET_PASSWORD"

// ErrNoPassword is returned when no password source produced a password.
var ErrNoPassword = errors.New("no wallet password available")

// PasswordSource returns the keystore password. An empty password with a nil
// error means the source has nothing to offer.
type PasswordSource func() (string, error)

// EnvPassword reads the password from the environment variable name.
func EnvPassword(name string) PasswordSource {
	return func() (string, error) {
		return os.Getenv(name), nil
	}
}

// FilePassword reads the password from the first line of path. An empty
// path yields nothing.
func FilePassword(path string) PasswordSource {
	return func() (string, error) {
		if path == "" {
			return "", nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read password file: %w", err)
		}
		line, _, _ := strings.Cut(string(data), "\n")
		return strings.TrimRight(line, "\r"), nil
	}
}

// KeyringPassword reads the password stored for the keystore in dir from the
// platform keyring. The keyring is opened on each lookup.
func KeyringPassword(dir string) PasswordSource {
	return func() (string, error) {
		store, err := OpenPasswordStore()
		if err != nil {
			return "", err
		}
		return store.Load(dir)
	}
}

// KernelKeyringPassword reads the password stored in the Linux kernel keyring.
func KernelKeyringPassword() PasswordSource {
	return func() (string, error) {
		// A missing key is not an error for the chain.
		pw, err := RetrieveKernelKeyring()
		if err != nil {
			return "", nil
		}
		return pw, nil
	}
}

// StaticPassword returns a fixed password.
func StaticPassword(pw string) PasswordSource {
	return func() (string, error) {
		return pw, nil
	}
}

// FirstPassword tries sources in order and returns the first non-empty
// password. Source errors are collected and reported only when every source
// came up empty.
func FirstPassword(sources ...PasswordSource) PasswordSource {
	return func() (string, error) {
		var errs []error
		for _, src := range sources {
			if src == nil {
				continue
			}
			pw, err := src()
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if pw != "" {
				return pw, nil
			}
		}
		if len(errs) > 0 {
			return "", errors.Join(append([]error{ErrNoPassword}, errs...)...)
		}
		return "", ErrNoPassword
	}
}

// DefaultPasswordSources is the lookup order used by the CLI and the server:
// environment, password file, platform keyring, kernel keyring.
func DefaultPasswordSources(dir, passwordFile string) PasswordSource {
	return FirstPassword(
		EnvPassword(PasswordEnv),
		FilePassword(passwordFile),
		optional(KeyringPassword(dir)),
		KernelKeyringPassword(),
	)
}

// optional turns source errors into "nothing to offer".
func optional(src PasswordSource) PasswordSource {
	return func() (string, error) {
		pw, err := src()
		if err != nil {
			return "", nil
		}
		return pw, nil
	}
}
