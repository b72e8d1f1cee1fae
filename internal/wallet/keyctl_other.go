//go:build !linux

package wallet

import "errors"

var errNoKernelKeyring = errors.New("kernel keyring is only available on Linux")

// StoreKernelKeyring is not available on non-Linux platforms.
func StoreKernelKeyring(_ string) error {
	return errNoKernelKeyring
}

// RetrieveKernelKeyring is not available on non-Linux platforms.
func RetrieveKernelKeyring() (string, error) {
	return "", errNoKernelKeyring
}

// DeleteKernelKeyring is not available on non-Linux platforms.
func DeleteKernelKeyring() error {
	return errNoKernelKeyring
}
