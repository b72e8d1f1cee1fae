package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// VaultContract is a client for the USDC staking vault.
type VaultContract struct {
	*boundContract
}

// NewVaultContract binds the vault at addr through c.
func NewVaultContract(c *Client, addr common.Address) (*VaultContract, error) {
	b, err := bindClient(c, "vault", VaultABI, addr)
	if err != nil {
		return nil, err
	}
	return &VaultContract{b}, nil
}

// NewVaultContractWithBackend binds the vault to arbitrary backends.
// sender may be nil for a read-only binding.
func NewVaultContractWithBackend(addr common.Address, caller bind.ContractCaller, transactor bind.ContractTransactor, sender txSender) (*VaultContract, error) {
	b, err := newBoundContract("vault", VaultABI, addr, caller, transactor, sender, nil)
	if err != nil {
		return nil, err
	}
	return &VaultContract{b}, nil
}

// Address returns the vault contract address.
func (vc *VaultContract) Address() common.Address {
	return vc.address
}

// Timelock returns the unlock timestamp (epoch seconds) stored at index.
func (vc *VaultContract) Timelock(ctx context.Context, index int64) (*big.Int, error) {
	return vc.callBig(ctx, "timelock", big.NewInt(index))
}

// TotalBalance returns the vault's total token balance (TVL) in base units.
func (vc *VaultContract) TotalBalance(ctx context.Context) (*big.Int, error) {
	return vc.callBig(ctx, "balanceOf")
}

// ClaimableOf returns the rewards account can claim, in base units.
func (vc *VaultContract) ClaimableOf(ctx context.Context, account common.Address) (*big.Int, error) {
	return vc.callBig(ctx, "claimableOf", account)
}

// Stake deposits amount base units into the vault.
func (vc *VaultContract) Stake(ctx context.Context, amount *big.Int) (*PendingTx, error) {
	return vc.transact(ctx, "stake", amount)
}

// Withdraw moves the vault balance to the multisig.
func (vc *VaultContract) Withdraw(ctx context.Context) (*PendingTx, error) {
	return vc.transact(ctx, "withdraw")
}

// Claim pays out the caller's claimable rewards.
func (vc *VaultContract) Claim(ctx context.Context) (*PendingTx, error) {
	return vc.transact(ctx, "claim")
}
