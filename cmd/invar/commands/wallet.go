package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/invar/vault/internal/stake"
	"github.com/invar/vault/internal/wallet"
)

// minPasswordLength is enforced when a keystore password is chosen.
const minPasswordLength = 8

// NewWalletCmd creates the wallet command group
func NewWalletCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Manage the staking wallet",
		Long: `Manage the Ethereum account used to stake, withdraw and claim.

The wallet is stored as an encrypted keystore file (geth V3 format) in
wallet.keystore_dir (default ~/.invar/keystore).

The password is looked up in this order when the wallet connects:
  INVAR_WALLET_PASSWORD environment variable
  wallet.password_file
  platform keyring (macOS Keychain, Secret Service, Windows credentials)
  Linux kernel keyring (volatile, lost on reboot)

Examples:
  invar wallet create
  invar wallet import
  invar wallet show`,
	}

	cmd.AddCommand(newWalletCreateCmd())
	cmd.AddCommand(newWalletImportCmd())
	cmd.AddCommand(newWalletShowCmd())
	cmd.AddCommand(newWalletForgetPasswordCmd())

	return cmd
}

func keystoreDir(flag string) string {
	if flag != "" {
		return flag
	}
	return currentConfig().Wallet.KeystoreDir
}

// storePasswordInKeyring stores the wallet password in the best available
// keyring: platform keyring, then kernel keyring, then instructions.
func storePasswordInKeyring(w io.Writer, dir, password string) {
	if store, err := wallet.OpenPasswordStore(); err == nil {
		if err := store.Save(dir, password); err == nil {
			say(w, stake.NoticeInfo, "Password saved to "+store.Backend()+"; the wallet unlocks automatically.")
			return
		}
	}
	if err := wallet.StoreKernelKeyring(password); err == nil {
		say(w, stake.NoticeInfo, "Password saved to the kernel keyring; the wallet unlocks automatically until reboot.")
		return
	}

	say(w, stake.NoticeWarning, "Could not store the password in a system keyring.")
	fmt.Fprintln(w, hint("For automatic unlock set "+wallet.PasswordEnv+" or wallet.password_file."))
}

// printWallet shows the keystore account with any extra rows.
func printWallet(w io.Writer, m *wallet.Manager, extra ...row) {
	rows := append([]row{
		{"Address", m.Address().Hex()},
		{"Keystore", m.KeyPath()},
	}, extra...)
	fmt.Fprintln(w, section("Wallet", rows...))
}

// ensureNoWallet fails if dir already holds a keystore account.
func ensureNoWallet(dir string) error {
	m, err := wallet.Load(dir)
	switch {
	case errors.Is(err, wallet.ErrNoWallet):
		return nil
	case err != nil:
		return fmt.Errorf("failed to check keystore: %w", err)
	default:
		return fmt.Errorf("%w at %s (address: %s)", wallet.ErrWalletExists, dir, m.Address().Hex())
	}
}

// readNewPassword prompts for a password and its confirmation.
func readNewPassword() (string, error) {
	const maxAttempts = 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		fmt.Fprint(os.Stderr, "Enter wallet password: ")
		password, err := readPasswordNoEcho()
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)

		if len(password) < minPasswordLength {
			say(os.Stderr, stake.NoticeWarning, fmt.Sprintf("Password must be at least %d characters. Try again.", minPasswordLength))
			continue
		}

		fmt.Fprint(os.Stderr, "Confirm wallet password: ")
		confirm, err := readPasswordNoEcho()
		if err != nil {
			return "", fmt.Errorf("failed to read confirmation: %w", err)
		}
		fmt.Fprintln(os.Stderr)

		if password != confirm {
			say(os.Stderr, stake.NoticeWarning, "Passwords do not match. Try again.")
			continue
		}
		return password, nil
	}
	return "", fmt.Errorf("too many failed attempts")
}

func newWalletCreateCmd() *cobra.Command {
	var dirFlag string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new wallet",
		Long:  "Create a new Ethereum account in a password-encrypted keystore file.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := keystoreDir(dirFlag)
			if err := ensureNoWallet(dir); err != nil {
				return err
			}

			password, err := readNewPassword()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var m *wallet.Manager
			err = withSpinner(out, "Encrypting keystore", func() error {
				m, err = wallet.Create(dir, password)
				return err
			})
			if err != nil {
				return fmt.Errorf("failed to create wallet: %w", err)
			}

			say(out, stake.NoticeSuccess, "Wallet created")
			printWallet(out, m)
			storePasswordInKeyring(out, dir, password)
			say(out, stake.NoticeWarning, "Back up your keystore directory and remember your password.")
			fmt.Fprintln(out, hint("Fund the address with USDC and gas before staking."))
			return nil
		},
	}

	cmd.Flags().StringVar(&dirFlag, "keystore", "", "Path to keystore directory (default: wallet.keystore_dir)")

	return cmd
}

func newWalletImportCmd() *cobra.Command {
	var dirFlag string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a wallet from a private key",
		Long:  "Import an existing Ethereum private key into an encrypted keystore file.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := keystoreDir(dirFlag)
			if err := ensureNoWallet(dir); err != nil {
				return err
			}

			const maxAttempts = 3
			var privKeyHex string
			for attempt := 1; attempt <= maxAttempts; attempt++ {
				fmt.Fprint(os.Stderr, "Enter private key (hex, with or without 0x prefix): ")
				input, err := readPasswordNoEcho()
				if err != nil {
					return fmt.Errorf("failed to read private key: %w", err)
				}
				fmt.Fprintln(os.Stderr)

				input = strings.TrimPrefix(strings.TrimSpace(input), "0x")
				if len(input) != 64 {
					say(os.Stderr, stake.NoticeWarning, fmt.Sprintf("Private key must be 64 hex characters (32 bytes), got %d. Try again.", len(input)))
					continue
				}
				privKeyHex = input
				break
			}
			if privKeyHex == "" {
				return fmt.Errorf("too many failed attempts")
			}

			password, err := readNewPassword()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var m *wallet.Manager
			err = withSpinner(out, "Encrypting keystore", func() error {
				m, err = wallet.Import(dir, privKeyHex, password)
				return err
			})
			if err != nil {
				return fmt.Errorf("failed to import wallet: %w", err)
			}

			say(out, stake.NoticeSuccess, "Wallet imported")
			printWallet(out, m)
			storePasswordInKeyring(out, dir, password)
			return nil
		},
	}

	cmd.Flags().StringVar(&dirFlag, "keystore", "", "Path to keystore directory (default: wallet.keystore_dir)")

	return cmd
}

func newWalletShowCmd() *cobra.Command {
	var dirFlag string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show wallet address and keystore path",
		Long:  "Display the wallet address and keystore file. No password needed.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			m, err := wallet.Load(keystoreDir(dirFlag))
			if errors.Is(err, wallet.ErrNoWallet) {
				say(out, stake.NoticeInfo, "No wallet found.")
				fmt.Fprintln(out, hint("Create one with: invar wallet create"))
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to load wallet: %w", err)
			}

			printWallet(out, m, row{"Password", passwordStatus(m.KeystoreDir())})
			return nil
		},
	}

	cmd.Flags().StringVar(&dirFlag, "keystore", "", "Path to keystore directory (default: wallet.keystore_dir)")

	return cmd
}

func passwordStatus(dir string) string {
	if os.Getenv(wallet.PasswordEnv) != "" {
		return "from " + wallet.PasswordEnv
	}
	if f := currentConfig().Wallet.PasswordFile; f != "" {
		return "from " + f
	}
	if pw, err := wallet.KeyringPassword(dir)(); err == nil && pw != "" {
		return "stored in platform keyring"
	}
	if pw, err := wallet.RetrieveKernelKeyring(); err == nil && pw != "" {
		return "stored in kernel keyring"
	}
	return "not stored (prompted on use)"
}

func newWalletForgetPasswordCmd() *cobra.Command {
	var dirFlag string

	cmd := &cobra.Command{
		Use:   "forget-password",
		Short: "Remove the wallet password from the system keyrings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			dir := keystoreDir(dirFlag)
			removed := false

			if store, err := wallet.OpenPasswordStore(); err == nil {
				if pw, err := store.Load(dir); err == nil && pw != "" {
					if err := store.Forget(dir); err != nil {
						return fmt.Errorf("failed to remove password from %s: %w", store.Backend(), err)
					}
					say(out, stake.NoticeSuccess, "Removed password from "+store.Backend())
					removed = true
				}
			}
			if pw, err := wallet.RetrieveKernelKeyring(); err == nil && pw != "" {
				if err := wallet.DeleteKernelKeyring(); err != nil {
					return fmt.Errorf("failed to remove password from kernel keyring: %w", err)
				}
				say(out, stake.NoticeSuccess, "Removed password from kernel keyring")
				removed = true
			}

			if !removed {
				say(out, stake.NoticeInfo, "No stored password found in any keyring.")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dirFlag, "keystore", "", "Path to keystore directory (default: wallet.keystore_dir)")

	return cmd
}
