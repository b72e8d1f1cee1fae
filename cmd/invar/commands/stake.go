package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/invar/vault/internal/stake"
)

// runSession connects the wallet, runs action (if any) behind a spinner and
// prints the resulting stake page.
func runSession(cmd *cobra.Command, title string, action func(ctx context.Context, ctrl *stake.Controller) (common.Hash, error)) error {
	cfg, err := requireConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := newSession(cfg, true)
	if err != nil {
		return err
	}
	defer s.Close()

	out := cmd.OutOrStdout()
	if err := s.connect(ctx, out); err != nil {
		return err
	}

	if action != nil {
		var hash common.Hash
		err := withSpinner(out, title, func() error {
			var err error
			hash, err = action(ctx, s.ctrl)
			return err
		})
		if err != nil {
			fmt.Fprintln(out, renderSnapshot(s.ctrl.Snapshot()))
			return err
		}
		say(out, stake.NoticeSuccess, fmt.Sprintf("Confirmed (tx %s)", hash.Hex()))
	}

	fmt.Fprintln(out, renderSnapshot(s.ctrl.Snapshot()))
	return nil
}

func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show vault and account balances",
		Long: `Connect the keystore wallet and show the stake page: total value locked,
the multisig balance, your balance, claimable rewards and the timelock.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, "", nil)
		},
	}
}

func NewStakeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stake <amount>",
		Short: "Stake USDC into the vault",
		Long: `Stake an amount of USDC (up to 6 decimals) into the vault.

If the vault's allowance is insufficient an approval transaction is sent and
confirmed first.

Examples:
  invar stake 50
  invar stake 12.5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, "Staking "+args[0], func(ctx context.Context, ctrl *stake.Controller) (common.Hash, error) {
				return ctrl.StakeAmount(ctx, args[0])
			})
		},
	}
}

func NewWithdrawCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "withdraw",
		Short: "Withdraw the vault balance to the multisig",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, "Withdrawing to multisig", func(ctx context.Context, ctrl *stake.Controller) (common.Hash, error) {
				return ctrl.Withdraw(ctx)
			})
		},
	}
}

func NewClaimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "claim",
		Short: "Claim staking rewards",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, "Claiming rewards", func(ctx context.Context, ctrl *stake.Controller) (common.Hash, error) {
				return ctrl.ClaimRewards(ctx)
			})
		},
	}
}
