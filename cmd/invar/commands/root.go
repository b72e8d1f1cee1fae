package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the invar command with every subcommand registered.
// Without a subcommand it runs the landing navigator.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "invar",
		Short: "InVar USDC Vault",
		Long: `Stake USDC into the InVar vault from the terminal or serve the vault pages.

Run without a subcommand to choose between minting and staking.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNavigator(cmd, "")
		},
	}

	root.PersistentFlags().StringVar(&ConfigPath, "config", "", "Path to config file (default: ~/.invar/config.yaml)")
	root.PersistentFlags().StringVar(&LogLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	root.AddCommand(NewNavigatorCmd())
	root.AddCommand(NewStatusCmd())
	root.AddCommand(NewStakeCmd())
	root.AddCommand(NewWithdrawCmd())
	root.AddCommand(NewClaimCmd())
	root.AddCommand(NewServeCmd())
	root.AddCommand(NewWalletCmd())
	root.AddCommand(NewVersionCmd())

	return root
}
