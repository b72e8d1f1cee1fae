package stake

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/invar/vault/internal/amount"
	"github.com/invar/vault/internal/logging"
	"github.com/invar/vault/internal/util"
)

// Options configures a Controller.
type Options struct {
	Multisig       common.Address
	Decimals       int32
	TimelockIndex  int64
	ApprovalPolicy ApprovalPolicy
	Recorder       Recorder
	MaxNotices     int
	// RefreshTimeout bounds the reload that follows a confirmed write.
	RefreshTimeout time.Duration
	Now            func() time.Time
}

// DefaultOptions returns the options of the USDC vault.
func DefaultOptions() Options {
	return Options{
		Decimals:       amount.USDCDecimals,
		TimelockIndex:  1,
		ApprovalPolicy: ApprovalUnlimited,
		MaxNotices:     20,
		RefreshTimeout: time.Minute,
	}
}

// Controller owns the wallet session of the stake page.
type Controller struct {
	wallet Wallet
	bind   Binder
	opts   Options
	rec    Recorder

	mu          sync.Mutex
	connected   bool
	account     common.Address
	generation  uint64
	vault       Vault
	token       Token
	tokens      TokenBalanceView
	rewards     Field[AmountView]
	claimableAt Field[time.Time]
	deposit     string
	busy        bool
	notices     []Notice
	subs        map[int]chan Snapshot
	nextSub     int
}

// session is the binding captured when an operation starts. Results are only
// applied while the controller is still on the same generation.
type session struct {
	generation uint64
	account    common.Address
	vault      Vault
	token      Token
}

// New creates a disconnected controller.
func New(wallet Wallet, binder Binder, opts Options) (*Controller, error) {
	if wallet == nil {
		return nil, errors.New("wallet provider is required")
	}
	if binder == nil {
		return nil, errors.New("contract binder is required")
	}
	if opts.Multisig == (common.Address{}) {
		return nil, errors.New("multisig address is required")
	}
	policy, err := ParseApprovalPolicy(string(opts.ApprovalPolicy))
	if err != nil {
		return nil, err
	}
	opts.ApprovalPolicy = policy
	if opts.Decimals < 0 {
		return nil, fmt.Errorf("invalid token decimals %d", opts.Decimals)
	}
	if opts.MaxNotices <= 0 {
		opts.MaxNotices = 20
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	rec := opts.Recorder
	if rec == nil {
		rec = nopRecorder{}
	}

	c := &Controller{
		wallet:  wallet,
		bind:    binder,
		opts:    opts,
		rec:     rec,
		deposit: "0",
		subs:    make(map[int]chan Snapshot),
	}
	c.resetViewsLocked()
	rec.SetPhase(string(PhaseDisconnected))
	return c, nil
}

// Connect requests wallet authorization. A new account re-binds the contracts,
// resets every view to loading and reloads them; the same account is refreshed.
func (c *Controller) Connect(ctx context.Context) (common.Address, error) {
	account, err := c.wallet.Connect(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrWalletAuthorization, err)
		c.fail("connect", err)
		return common.Address{}, err
	}
	if account == (common.Address{}) {
		err = fmt.Errorf("%w: wallet returned no account", ErrWalletAuthorization)
		c.fail("connect", err)
		return common.Address{}, err
	}

	if err := c.switchAccount(ctx, account); err != nil {
		return account, err
	}
	return account, nil
}

// Disconnect forgets the connected account and clears every view.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	prev := c.account
	c.generation++
	c.connected = false
	c.account = common.Address{}
	c.vault, c.token = nil, nil
	c.resetViewsLocked()
	c.addNoticeLocked(NoticeInfo, "Wallet disconnected")
	c.publishLocked()
	c.mu.Unlock()

	logging.Info("wallet disconnected", logging.Address(prev), logging.Component("stake"))
}

// FollowAddress applies account changes reported by the wallet provider until
// ctx is done or changes is closed. The zero address disconnects.
func (c *Controller) FollowAddress(ctx context.Context, changes <-chan common.Address) {
	for {
		select {
		case <-ctx.Done():
			return
		case account, ok := <-changes:
			if !ok {
				return
			}
			if account == (common.Address{}) {
				c.Disconnect()
				continue
			}
			if err := c.switchAccount(ctx, account); err != nil {
				logging.Warn("failed to follow account change",
					logging.Address(account), logging.Err(err), logging.Component("stake"))
			}
		}
	}
}

func (c *Controller) switchAccount(ctx context.Context, account common.Address) error {
	c.mu.Lock()
	if c.connected && c.account == account && c.vault != nil {
		c.mu.Unlock()
		return c.Refresh(ctx)
	}
	c.generation++
	gen := c.generation
	c.connected = true
	c.account = account
	c.vault, c.token = nil, nil
	c.resetViewsLocked()
	c.publishLocked()
	c.mu.Unlock()

	logging.Info("wallet connected", logging.Address(account), logging.Component("stake"))

	vault, token, err := c.bind(ctx, account)
	if err != nil {
		err = fmt.Errorf("failed to bind contracts: %w", err)
		c.mu.Lock()
		if c.generation == gen {
			c.tokens = TokenBalanceView{
				Symbol:           unavailableField[string](err),
				TotalValueLocked: unavailableField[AmountView](err),
				MultisigBalance:  unavailableField[AmountView](err),
				UserBalance:      unavailableField[AmountView](err),
			}
			c.rewards = unavailableField[AmountView](err)
			c.claimableAt = unavailableField[time.Time](err)
		}
		c.mu.Unlock()
		c.fail("connect", err)
		return err
	}

	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return nil
	}
	c.vault, c.token = vault, token
	c.addNoticeLocked(NoticeSuccess, "Connected "+account.Hex())
	c.publishLocked()
	c.mu.Unlock()

	c.refresh(ctx, session{generation: gen, account: account, vault: vault, token: token})
	return nil
}

// Refresh reloads every view for the connected account.
func (c *Controller) Refresh(ctx context.Context) error {
	s, err := c.currentSession()
	if err != nil {
		return err
	}
	c.refresh(ctx, s)
	return nil
}

func (c *Controller) currentSession() (session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.vault == nil || c.token == nil {
		return session{}, ErrNotConnected
	}
	return session{generation: c.generation, account: c.account, vault: c.vault, token: c.token}, nil
}

// refresh runs every load concurrently; each one only touches its own fields.
func (c *Controller) refresh(ctx context.Context, s session) {
	var g util.Group
	g.Go("stake.timelock", func() { c.loadTimelock(ctx, s) })
	g.Go("stake.tokens", func() { c.loadTokenView(ctx, s) })
	g.Go("stake.rewards", func() { c.loadClaimableRewards(ctx, s) })
	g.Wait()
}

func (c *Controller) loadTimelock(ctx context.Context, s session) {
	epoch, err := readView(ctx, c.rec, "timelock", func(ctx context.Context) (*big.Int, error) {
		return s.vault.Timelock(ctx, c.opts.TimelockIndex)
	})
	var field Field[time.Time]
	switch {
	case err != nil:
		field = unavailableField[time.Time](err)
	case !epoch.IsInt64():
		field = unavailableField[time.Time](fmt.Errorf("timelock %s out of range", epoch))
	default:
		field = readyField(time.Unix(epoch.Int64(), 0).UTC())
	}
	c.apply(s, "claimable time", field.Error, func() { c.claimableAt = field })
}

func (c *Controller) loadTokenView(ctx context.Context, s session) {
	var g util.Group
	g.Go("stake.symbol", func() {
		symbol, err := readView(ctx, c.rec, "symbol", func(ctx context.Context) (string, error) {
			return s.token.Symbol(ctx)
		})
		field := readyField(symbol)
		if err != nil {
			field = unavailableField[string](err)
		}
		c.apply(s, "token symbol", field.Error, func() { c.tokens.Symbol = field })
	})
	g.Go("stake.user_balance", func() {
		field := c.readAmount(ctx, "user_balance", func(ctx context.Context) (*big.Int, error) {
			return s.token.BalanceOf(ctx, s.account)
		})
		c.apply(s, "your balance", field.Error, func() { c.tokens.UserBalance = field })
	})
	g.Go("stake.multisig_balance", func() {
		field := c.readAmount(ctx, "multisig_balance", func(ctx context.Context) (*big.Int, error) {
			return s.token.BalanceOf(ctx, c.opts.Multisig)
		})
		c.apply(s, "multisig balance", field.Error, func() { c.tokens.MultisigBalance = field })
	})
	g.Go("stake.tvl", func() {
		field := c.readAmount(ctx, "total_value_locked", s.vault.TotalBalance)
		c.apply(s, "total value locked", field.Error, func() { c.tokens.TotalValueLocked = field })
	})
	g.Wait()
}

func (c *Controller) loadClaimableRewards(ctx context.Context, s session) {
	field := c.readAmount(ctx, "claimable_rewards", func(ctx context.Context) (*big.Int, error) {
		return s.vault.ClaimableOf(ctx, s.account)
	})
	c.apply(s, "claimable rewards", field.Error, func() { c.rewards = field })
}

func (c *Controller) readAmount(ctx context.Context, view string, fn func(ctx context.Context) (*big.Int, error)) Field[AmountView] {
	raw, err := readView(ctx, c.rec, view, fn)
	if err != nil {
		return unavailableField[AmountView](err)
	}
	return readyField(NewAmountView(raw, c.opts.Decimals))
}

// readView times a single view read. Retries and per-attempt timeouts are
// applied by the contract bindings.
func readView[T any](ctx context.Context, rec Recorder, view string, fn func(ctx context.Context) (T, error)) (T, error) {
	start := time.Now()
	v, err := fn(ctx)
	rec.ObserveRead(view, time.Since(start), err)
	return v, err
}

// apply stores a load result unless the account changed while it was in flight.
func (c *Controller) apply(s session, label, errMsg string, set func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != s.generation {
		return
	}
	set()
	if errMsg != "" {
		c.addNoticeLocked(NoticeWarning, fmt.Sprintf("Could not load %s: %s", label, errMsg))
		logging.Warn("view read failed",
			"view", label, "error", errMsg, logging.Address(s.account), logging.Component("stake"))
	}
	c.publishLocked()
}

// SetDeposit stores the user-entered stake amount. It is validated by Stake.
func (c *Controller) SetDeposit(input string) {
	c.mu.Lock()
	c.deposit = input
	c.publishLocked()
	c.mu.Unlock()
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe returns a channel receiving the latest snapshot after every state
// change, starting with the current one. Slow readers only see the newest
// snapshot. cancel closes the channel.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++
	ch := make(chan Snapshot, 1)
	ch <- c.snapshotLocked()
	c.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
		})
	}
}

func (c *Controller) phaseLocked() Phase {
	switch {
	case !c.connected:
		return PhaseDisconnected
	case c.busy:
		return PhaseSubmitting
	case c.loadingLocked():
		return PhaseLoading
	default:
		return PhaseReady
	}
}

func (c *Controller) loadingLocked() bool {
	for _, state := range []FieldState{
		c.tokens.Symbol.State,
		c.tokens.TotalValueLocked.State,
		c.tokens.MultisigBalance.State,
		c.tokens.UserBalance.State,
		c.rewards.State,
		c.claimableAt.State,
	} {
		if state == FieldLoading {
			return true
		}
	}
	return false
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		Phase:          c.phaseLocked(),
		Connected:      c.connected,
		Account:        c.account,
		Multisig:       c.opts.Multisig,
		Tokens:         c.tokens,
		Rewards:        c.rewards,
		ClaimableAt:    c.claimableAt,
		Deposit:        c.deposit,
		Busy:           c.busy,
		ApprovalPolicy: c.opts.ApprovalPolicy,
		Notices:        append([]Notice(nil), c.notices...),
	}
	if c.vault != nil {
		snap.Vault = c.vault.Address()
	}
	return snap
}

func (c *Controller) resetViewsLocked() {
	c.tokens = loadingTokenView()
	c.rewards = loadingField[AmountView]()
	c.claimableAt = loadingField[time.Time]()
}

func (c *Controller) addNoticeLocked(level NoticeLevel, msg string) {
	c.notices = append(c.notices, Notice{Level: level, Message: msg, Time: c.opts.Now()})
	if n := len(c.notices) - c.opts.MaxNotices; n > 0 {
		c.notices = append([]Notice(nil), c.notices[n:]...)
	}
}

func (c *Controller) notify(level NoticeLevel, msg string) {
	c.mu.Lock()
	c.addNoticeLocked(level, msg)
	c.publishLocked()
	c.mu.Unlock()
}

// fail records a failed operation as an error notice and in the log.
func (c *Controller) fail(op string, err error) {
	logging.Error("stake operation failed", "operation", op, logging.Err(err), logging.Component("stake"))
	c.notify(NoticeError, err.Error())
}

func (c *Controller) publishLocked() {
	snap := c.snapshotLocked()
	c.rec.SetPhase(string(snap.Phase))
	for _, ch := range c.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
