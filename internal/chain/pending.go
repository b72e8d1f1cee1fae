package chain

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// WaitFunc blocks until a submitted transaction is confirmed.
type WaitFunc func(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)

// PendingTx is a submitted but not yet confirmed transaction. Wait resolves
// once the transaction is mined with the configured confirmations, or fails
// with a *RevertError when it reverted.
type PendingTx struct {
	tx     *types.Transaction
	method string
	wait   WaitFunc

	mu      sync.Mutex
	done    bool
	receipt *types.Receipt
	err     error
}

// NewPendingTx wraps tx with the function used to await its confirmation.
func NewPendingTx(method string, tx *types.Transaction, wait WaitFunc) *PendingTx {
	return &PendingTx{tx: tx, method: method, wait: wait}
}

// Hash returns the transaction hash.
func (p *PendingTx) Hash() common.Hash {
	if p.tx == nil {
		return common.Hash{}
	}
	return p.tx.Hash()
}

// Method returns the contract method that was called.
func (p *PendingTx) Method() string {
	return p.method
}

// Wait blocks until confirmation. A final outcome is cached so repeated calls
// do not poll the node again; an interrupted wait can be retried.
func (p *PendingTx) Wait(ctx context.Context) (*types.Receipt, error) {
	if p.wait == nil {
		return nil, fmt.Errorf("%s: no confirmation source", p.method)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return p.receipt, p.err
	}

	receipt, err := p.wait(ctx, p.tx)
	if err != nil && ctx.Err() != nil {
		return receipt, err
	}
	p.receipt, p.err, p.done = receipt, err, true
	return receipt, err
}
