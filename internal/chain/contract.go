package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/invar/vault/internal/util"
)

// txSender signs transactions and awaits their confirmation.
type txSender interface {
	TransactOpts(ctx context.Context) (*bind.TransactOpts, error)
	WaitForTransaction(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

// boundContract is a bound ABI with retried reads and non-retried writes.
type boundContract struct {
	name     string
	address  common.Address
	abi      abi.ABI
	contract *bind.BoundContract
	sender   txSender
	retry    *util.RetryConfig
}

func newBoundContract(name, abiJSON string, address common.Address, caller bind.ContractCaller, transactor bind.ContractTransactor, sender txSender, retry *util.RetryConfig) (*boundContract, error) {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s ABI: %w", name, err)
	}

	return &boundContract{
		name:     name,
		address:  address,
		abi:      parsed,
		contract: bind.NewBoundContract(address, parsed, caller, transactor, nil),
		sender:   sender,
		retry:    retry,
	}, nil
}

func bindClient(c *Client, name, abiJSON string, address common.Address) (*boundContract, error) {
	if c == nil {
		return nil, fmt.Errorf("%s: client is required", name)
	}
	backend, err := c.Backend()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return newBoundContract(name, abiJSON, address, backend, backend, c, c.ReadRetry())
}

// call performs a read with the configured retry policy and returns the
// first output value.
func (b *boundContract) call(ctx context.Context, method string, params ...interface{}) (interface{}, error) {
	out, result := util.RetryWithValue(ctx, b.retry, func(ctx context.Context) (interface{}, error) {
		var results []interface{}
		err := b.contract.Call(&bind.CallOpts{Context: ctx}, &results, method, params...)
		if err != nil {
			if errors.Is(err, bind.ErrNoCode) || isRevert(err) {
				return nil, util.MarkNonRetryable(wrapRevert(b.name+"."+method, err))
			}
			return nil, err
		}
		if len(results) == 0 {
			return nil, util.MarkNonRetryable(fmt.Errorf("empty result"))
		}
		return results[0], nil
	})
	if result.LastError != nil {
		return nil, fmt.Errorf("%s.%s: %w", b.name, method, result.LastError)
	}
	return out, nil
}

func (b *boundContract) callBig(ctx context.Context, method string, params ...interface{}) (*big.Int, error) {
	out, err := b.call(ctx, method, params...)
	if err != nil {
		return nil, err
	}
	v, ok := out.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s.%s: unexpected result type %T", b.name, method, out)
	}
	return v, nil
}

// transact submits a write once; writes are never retried.
func (b *boundContract) transact(ctx context.Context, method string, params ...interface{}) (*PendingTx, error) {
	if b.sender == nil {
		return nil, fmt.Errorf("%s.%s: %w", b.name, method, ErrNoSigner)
	}

	opts, err := b.sender.TransactOpts(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", b.name, method, err)
	}

	tx, err := b.contract.Transact(opts, method, params...)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", b.name, method, wrapRevert(b.name+"."+method, err))
	}

	return NewPendingTx(b.name+"."+method, tx, b.sender.WaitForTransaction), nil
}
