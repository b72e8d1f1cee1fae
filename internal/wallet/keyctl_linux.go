//go:build linux

package wallet

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const kernelKeyringKeyName = "invar-wallet"

// StoreKernelKeyring stores the wallet password in the user keyring of the
// Linux kernel. The key lives in kernel memory only and is lost on reboot.
func StoreKernelKeyring(password string) error {
	if _, err := unix.AddKey("user", kernelKeyringKeyName, []byte(password), unix.KEY_SPEC_USER_KEYRING); err != nil {
		return fmt.Errorf("add_key failed: %w", err)
	}
	return nil
}

// RetrieveKernelKeyring reads the wallet password from the kernel keyring.
func RetrieveKernelKeyring() (string, error) {
	id, err := unix.KeyctlSearch(unix.KEY_SPEC_USER_KEYRING, "user", kernelKeyringKeyName, 0)
	if err != nil {
		return "", fmt.Errorf("keyctl search failed: %w", err)
	}

	size, err := unix.KeyctlBuffer(unix.KEYCTL_READ, id, nil, 0)
	if err != nil {
		return "", fmt.Errorf("keyctl read failed: %w", err)
	}
	buf := make([]byte, size)
	n, err := unix.KeyctlBuffer(unix.KEYCTL_READ, id, buf, 0)
	if err != nil {
		return "", fmt.Errorf("keyctl read failed: %w", err)
	}
	if n > len(buf) {
		n = len(buf)
	}
	return string(buf[:n]), nil
}

// DeleteKernelKeyring unlinks the wallet password from the kernel keyring.
func DeleteKernelKeyring() error {
	id, err := unix.KeyctlSearch(unix.KEY_SPEC_USER_KEYRING, "user", kernelKeyringKeyName, 0)
	if err != nil {
		return nil
	}
	if _, err := unix.KeyctlInt(unix.KEYCTL_UNLINK, id, unix.KEY_SPEC_USER_KEYRING, 0, 0); err != nil {
		return fmt.Errorf("keyctl unlink failed: %w", err)
	}
	return nil
}
