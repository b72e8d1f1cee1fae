package stake

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/invar/vault/internal/chain"
)

var (
	vaultAddr    = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tokenAddr    = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	multisigAddr = common.HexToAddress("0x9999999999999999999999999999999999999999")
	accountA     = common.HexToAddress("0x000000000000000000000000000000000000000a")
	accountB     = common.HexToAddress("0x000000000000000000000000000000000000000b")
)

// fakeLedger is an in-memory vault and token pair.
type fakeLedger struct {
	mu          sync.Mutex
	symbol      string
	balances    map[common.Address]*big.Int
	allowances  map[common.Address]*big.Int
	vaultTotal  *big.Int
	claimable   map[common.Address]*big.Int
	timelock    int64
	readErrs    map[string]error
	submitErrs  map[string]error
	confirmErrs map[string]error
	writes      []string
	nonce       uint64

	// readHook and confirmHook run before a read or a confirmation, outside the lock.
	readHook    func(method string, account common.Address)
	confirmHook func(method string)
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		symbol:      "USDC",
		balances:    map[common.Address]*big.Int{multisigAddr: big.NewInt(0)},
		allowances:  make(map[common.Address]*big.Int),
		vaultTotal:  big.NewInt(0),
		claimable:   make(map[common.Address]*big.Int),
		timelock:    1_700_000_000,
		readErrs:    make(map[string]error),
		submitErrs:  make(map[string]error),
		confirmErrs: make(map[string]error),
	}
}

func (l *fakeLedger) setBalance(account common.Address, v int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] = big.NewInt(v)
}

func (l *fakeLedger) setAllowance(owner common.Address, v *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowances[owner] = new(big.Int).Set(v)
}

func (l *fakeLedger) setClaimable(account common.Address, v int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.claimable[account] = big.NewInt(v)
}

func (l *fakeLedger) writeLog() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.writes...)
}

func (l *fakeLedger) read(ctx context.Context, method string, account common.Address) error {
	if hook := l.readHook; hook != nil {
		hook(method, account)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readErrs[method]
}

func valueOf(m map[common.Address]*big.Int, key common.Address) *big.Int {
	if v, ok := m[key]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// submit records a write and returns a pending handle that applies effect
// when it is confirmed.
func (l *fakeLedger) submit(method, logEntry string, effect func()) (*chain.PendingTx, error) {
	l.mu.Lock()
	if err := l.submitErrs[method]; err != nil {
		l.mu.Unlock()
		return nil, err
	}
	l.nonce++
	l.writes = append(l.writes, logEntry)
	to := vaultAddr
	tx := types.NewTx(&types.LegacyTx{Nonce: l.nonce, To: &to, Gas: 21000, GasPrice: big.NewInt(1)})
	l.mu.Unlock()

	return chain.NewPendingTx(method, tx, func(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
		if hook := l.confirmHook; hook != nil {
			hook(method)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		l.mu.Lock()
		defer l.mu.Unlock()
		if err := l.confirmErrs[method]; err != nil {
			return &types.Receipt{Status: types.ReceiptStatusFailed, TxHash: tx.Hash()}, err
		}
		effect()
		return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: tx.Hash()}, nil
	}), nil
}

type fakeVault struct {
	l       *fakeLedger
	account common.Address
}

func (v *fakeVault) Address() common.Address { return vaultAddr }

func (v *fakeVault) Timelock(ctx context.Context, index int64) (*big.Int, error) {
	if err := v.l.read(ctx, "timelock", v.account); err != nil {
		return nil, err
	}
	if index != 1 {
		return nil, fmt.Errorf("unexpected timelock index %d", index)
	}
	v.l.mu.Lock()
	defer v.l.mu.Unlock()
	return big.NewInt(v.l.timelock), nil
}

func (v *fakeVault) TotalBalance(ctx context.Context) (*big.Int, error) {
	if err := v.l.read(ctx, "vault.balanceOf", v.account); err != nil {
		return nil, err
	}
	v.l.mu.Lock()
	defer v.l.mu.Unlock()
	return new(big.Int).Set(v.l.vaultTotal), nil
}

func (v *fakeVault) ClaimableOf(ctx context.Context, account common.Address) (*big.Int, error) {
	if err := v.l.read(ctx, "claimableOf", account); err != nil {
		return nil, err
	}
	v.l.mu.Lock()
	defer v.l.mu.Unlock()
	return valueOf(v.l.claimable, account), nil
}

func (v *fakeVault) Stake(ctx context.Context, amount *big.Int) (*chain.PendingTx, error) {
	amt := new(big.Int).Set(amount)
	return v.l.submit("stake", "stake:"+amt.String(), func() {
		bal := valueOf(v.l.balances, v.account)
		v.l.balances[v.account] = bal.Sub(bal, amt)
		v.l.vaultTotal = new(big.Int).Add(v.l.vaultTotal, amt)
		allowance := valueOf(v.l.allowances, v.account)
		v.l.allowances[v.account] = allowance.Sub(allowance, amt)
	})
}

func (v *fakeVault) Withdraw(ctx context.Context) (*chain.PendingTx, error) {
	return v.l.submit("withdraw", "withdraw", func() {
		ms := valueOf(v.l.balances, multisigAddr)
		v.l.balances[multisigAddr] = ms.Add(ms, v.l.vaultTotal)
		v.l.vaultTotal = new(big.Int)
	})
}

func (v *fakeVault) Claim(ctx context.Context) (*chain.PendingTx, error) {
	return v.l.submit("claim", "claim", func() {
		reward := valueOf(v.l.claimable, v.account)
		bal := valueOf(v.l.balances, v.account)
		v.l.balances[v.account] = bal.Add(bal, reward)
		v.l.claimable[v.account] = new(big.Int)
	})
}

type fakeToken struct {
	l       *fakeLedger
	account common.Address
}

func (t *fakeToken) Address() common.Address { return tokenAddr }

func (t *fakeToken) Symbol(ctx context.Context) (string, error) {
	if err := t.l.read(ctx, "symbol", t.account); err != nil {
		return "", err
	}
	t.l.mu.Lock()
	defer t.l.mu.Unlock()
	return t.l.symbol, nil
}

func (t *fakeToken) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	if err := t.l.read(ctx, "token.balanceOf", account); err != nil {
		return nil, err
	}
	t.l.mu.Lock()
	defer t.l.mu.Unlock()
	return valueOf(t.l.balances, account), nil
}

func (t *fakeToken) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	if err := t.l.read(ctx, "allowance", owner); err != nil {
		return nil, err
	}
	if spender != vaultAddr {
		return nil, errors.New("unexpected spender")
	}
	t.l.mu.Lock()
	defer t.l.mu.Unlock()
	return valueOf(t.l.allowances, owner), nil
}

func (t *fakeToken) Approve(ctx context.Context, spender common.Address, amount *big.Int) (*chain.PendingTx, error) {
	amt := new(big.Int).Set(amount)
	return t.l.submit("approve", "approve:"+amt.String(), func() {
		t.l.allowances[t.account] = amt
	})
}

type fakeWallet struct {
	mu      sync.Mutex
	account common.Address
	err     error
}

func (w *fakeWallet) Connect(ctx context.Context) (common.Address, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.account, w.err
}

func (w *fakeWallet) use(account common.Address) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.account = account
}

func ledgerBinder(l *fakeLedger) Binder {
	return func(ctx context.Context, account common.Address) (Vault, Token, error) {
		return &fakeVault{l: l, account: account}, &fakeToken{l: l, account: account}, nil
	}
}

type fakeRecorder struct {
	mu    sync.Mutex
	reads map[string]int
	wrote map[string]int
	busy   int
	phase  string
	phases []string
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{reads: make(map[string]int), wrote: make(map[string]int)}
}

func (r *fakeRecorder) ObserveRead(view string, d time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads[view]++
}

func (r *fakeRecorder) ObserveWrite(step string, d time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wrote[step]++
}

func (r *fakeRecorder) BusyRejected(op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.busy++
}

func (r *fakeRecorder) SetPhase(phase string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phase = phase
	r.phases = append(r.phases, phase)
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Multisig = multisigAddr
	return opts
}

func newTestController(t *testing.T, l *fakeLedger, w *fakeWallet, opts Options) *Controller {
	t.Helper()
	c, err := New(w, ledgerBinder(l), opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

// waitFor polls cond until it holds or the test times out.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}
