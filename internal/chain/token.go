package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// TokenContract is a client for the staked ERC-20 token.
type TokenContract struct {
	*boundContract
}

// NewTokenContract binds the token at addr through c.
func NewTokenContract(c *Client, addr common.Address) (*TokenContract, error) {
	b, err := bindClient(c, "token", ERC20ABI, addr)
	if err != nil {
		return nil, err
	}
	return &TokenContract{b}, nil
}

// NewTokenContractWithBackend binds the token to arbitrary backends.
// sender may be nil for a read-only binding.
func NewTokenContractWithBackend(addr common.Address, caller bind.ContractCaller, transactor bind.ContractTransactor, sender txSender) (*TokenContract, error) {
	b, err := newBoundContract("token", ERC20ABI, addr, caller, transactor, sender, nil)
	if err != nil {
		return nil, err
	}
	return &TokenContract{b}, nil
}

// Address returns the token contract address.
func (tc *TokenContract) Address() common.Address {
	return tc.address
}

// Symbol returns the token symbol.
func (tc *TokenContract) Symbol(ctx context.Context) (string, error) {
	out, err := tc.call(ctx, "symbol")
	if err != nil {
		return "", err
	}
	symbol, ok := out.(string)
	if !ok {
		return "", fmt.Errorf("token.symbol: unexpected result type %T", out)
	}
	return symbol, nil
}

// Decimals returns the token precision.
func (tc *TokenContract) Decimals(ctx context.Context) (uint8, error) {
	out, err := tc.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := out.(uint8)
	if !ok {
		return 0, fmt.Errorf("token.decimals: unexpected result type %T", out)
	}
	return d, nil
}

// BalanceOf returns the balance of account in base units.
func (tc *TokenContract) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	return tc.callBig(ctx, "balanceOf", account)
}

// Allowance returns how much spender may move on behalf of owner.
func (tc *TokenContract) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	return tc.callBig(ctx, "allowance", owner, spender)
}

// Approve lets spender move amount base units of the wallet's tokens.
func (tc *TokenContract) Approve(ctx context.Context, spender common.Address, amount *big.Int) (*PendingTx, error) {
	return tc.transact(ctx, "approve", spender, amount)
}
