package stake

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/invar/vault/internal/amount"
	"github.com/invar/vault/internal/chain"
	"github.com/invar/vault/internal/logging"
)

// beginWrite claims the busy flag for op.
func (c *Controller) beginWrite(op string) (session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.vault == nil || c.token == nil {
		return session{}, ErrNotConnected
	}
	if c.busy {
		c.rec.BusyRejected(op)
		return session{}, ErrBusy
	}
	c.busy = true
	c.publishLocked()
	return session{generation: c.generation, account: c.account, vault: c.vault, token: c.token}, nil
}

func (c *Controller) endWrite() {
	c.mu.Lock()
	c.busy = false
	c.publishLocked()
	c.mu.Unlock()
}

// StakeAmount sets the deposit input and stakes it.
func (c *Controller) StakeAmount(ctx context.Context, input string) (common.Hash, error) {
	c.SetDeposit(input)
	return c.Stake(ctx)
}

// Stake deposits the current input into the vault. The allowance is checked
// first and topped up according to the approval policy; the approval is
// confirmed before the stake is submitted. On success the input resets to 0
// and every view is reloaded.
func (c *Controller) Stake(ctx context.Context) (common.Hash, error) {
	c.mu.Lock()
	input := c.deposit
	c.mu.Unlock()

	// Invalid input never claims the busy flag.
	amt, err := amount.Parse(input, c.opts.Decimals)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrInvalidAmount, err)
		c.fail("stake", err)
		return common.Hash{}, err
	}

	s, err := c.beginWrite("stake")
	if err != nil {
		c.fail("stake", err)
		return common.Hash{}, err
	}
	defer c.endWrite()

	spender := s.vault.Address()
	allowance, err := readView(ctx, c.rec, "allowance", func(ctx context.Context) (*big.Int, error) {
		return s.token.Allowance(ctx, s.account, spender)
	})
	if err != nil {
		err = newTxError("allowance check", common.Hash{}, err)
		c.fail("stake", err)
		return common.Hash{}, err
	}

	if grant := c.approvalAmount(allowance, amt.Raw); grant != nil {
		_, err := c.submit(ctx, s, "approve", s.token.Address(), func(ctx context.Context) (*chain.PendingTx, error) {
			return s.token.Approve(ctx, spender, grant)
		})
		if err != nil {
			c.fail("stake", err)
			return common.Hash{}, err
		}
		c.notify(NoticeInfo, "Approval confirmed")
	}

	hash, err := c.submit(ctx, s, "stake", spender, func(ctx context.Context) (*chain.PendingTx, error) {
		return s.vault.Stake(ctx, amt.Raw)
	})
	if err != nil {
		c.fail("stake", err)
		return hash, err
	}

	c.mu.Lock()
	if c.generation == s.generation {
		c.deposit = "0"
	}
	symbol := c.snapshotLocked().TokenSymbol("tokens")
	c.addNoticeLocked(NoticeSuccess, fmt.Sprintf("Staked %s %s", amt, symbol))
	c.publishLocked()
	c.mu.Unlock()

	c.refreshAfterWrite(ctx, s)
	return hash, nil
}

// Withdraw moves the vault balance to the multisig and reloads every view.
func (c *Controller) Withdraw(ctx context.Context) (common.Hash, error) {
	s, err := c.beginWrite("withdraw")
	if err != nil {
		c.fail("withdraw", err)
		return common.Hash{}, err
	}
	defer c.endWrite()

	hash, err := c.submit(ctx, s, "withdraw", s.vault.Address(), s.vault.Withdraw)
	if err != nil {
		c.fail("withdraw", err)
		return hash, err
	}

	c.notify(NoticeSuccess, "Withdrawal confirmed")
	c.refreshAfterWrite(ctx, s)
	return hash, nil
}

// ClaimRewards pays out the claimable rewards. The rewards view is zeroed on
// confirmation and then every view is reloaded.
func (c *Controller) ClaimRewards(ctx context.Context) (common.Hash, error) {
	s, err := c.beginWrite("claim")
	if err != nil {
		c.fail("claim", err)
		return common.Hash{}, err
	}
	defer c.endWrite()

	hash, err := c.submit(ctx, s, "claim", s.vault.Address(), s.vault.Claim)
	if err != nil {
		c.fail("claim", err)
		return hash, err
	}

	c.mu.Lock()
	if c.generation == s.generation {
		c.rewards = readyField(NewAmountView(new(big.Int), c.opts.Decimals))
	}
	c.addNoticeLocked(NoticeSuccess, "Rewards claimed")
	c.publishLocked()
	c.mu.Unlock()

	c.refreshAfterWrite(ctx, s)
	return hash, nil
}

// refreshAfterWrite reloads every view once a write is confirmed. The write
// has landed, so the reload outlives a cancelled caller but is bounded by
// RefreshTimeout.
func (c *Controller) refreshAfterWrite(ctx context.Context, s session) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.RefreshTimeout)
	defer cancel()
	c.refresh(ctx, s)
}

// approvalAmount returns the allowance to grant before staking amount, or nil
// when no approval is needed.
func (c *Controller) approvalAmount(allowance, amount *big.Int) *big.Int {
	switch c.opts.ApprovalPolicy {
	case ApprovalExact:
		if allowance.Cmp(amount) < 0 {
			return new(big.Int).Set(amount)
		}
	default:
		if allowance.Sign() == 0 {
			return new(big.Int).Set(math.MaxBig256)
		}
	}
	return nil
}

// submit sends one transaction and waits for its confirmation. Writes are
// never retried.
func (c *Controller) submit(ctx context.Context, s session, step string, target common.Address, send func(ctx context.Context) (*chain.PendingTx, error)) (common.Hash, error) {
	start := time.Now()
	event := logging.AuditEvent{
		Operation: step,
		Actor:     s.account.Hex(),
		Target:    target.Hex(),
	}

	pending, err := send(ctx)
	if err != nil {
		c.rec.ObserveWrite(step, time.Since(start), err)
		event.Result, event.Details = "failed", err.Error()
		logging.Audit(event)
		return common.Hash{}, newTxError(step, common.Hash{}, err)
	}

	hash := pending.Hash()
	event.TxHash = hash.Hex()
	event.Result = "submitted"
	logging.Audit(event)
	c.notify(NoticeInfo, fmt.Sprintf("%s submitted (tx %s), waiting for confirmation", step, hash.Hex()))

	_, err = pending.Wait(ctx)
	c.rec.ObserveWrite(step, time.Since(start), err)
	if err != nil {
		event.Result, event.Details = "failed", err.Error()
		logging.Audit(event)
		return hash, newTxError(step, hash, err)
	}

	event.Result = "confirmed"
	logging.Audit(event)
	return hash, nil
}
