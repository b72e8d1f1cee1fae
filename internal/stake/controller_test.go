package stake

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestNew_Validation(t *testing.T) {
	l := newFakeLedger()
	w := &fakeWallet{account: accountA}

	if _, err := New(nil, ledgerBinder(l), testOptions()); err == nil {
		t.Error("expected error without wallet")
	}
	if _, err := New(w, nil, testOptions()); err == nil {
		t.Error("expected error without binder")
	}
	if _, err := New(w, ledgerBinder(l), DefaultOptions()); err == nil {
		t.Error("expected error without multisig")
	}

	opts := testOptions()
	opts.ApprovalPolicy = "sometimes"
	if _, err := New(w, ledgerBinder(l), opts); err == nil {
		t.Error("expected error for unknown approval policy")
	}

	opts = testOptions()
	opts.ApprovalPolicy = ""
	c, err := New(w, ledgerBinder(l), opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.Snapshot().ApprovalPolicy; got != ApprovalUnlimited {
		t.Errorf("default policy = %q, want unlimited", got)
	}
}

func TestController_InitialState(t *testing.T) {
	c := newTestController(t, newFakeLedger(), &fakeWallet{account: accountA}, testOptions())

	snap := c.Snapshot()
	if snap.Phase != PhaseDisconnected {
		t.Errorf("phase = %s, want disconnected", snap.Phase)
	}
	if snap.Connected || snap.Account != (common.Address{}) {
		t.Error("new controller should have no account")
	}
	if snap.Deposit != "0" {
		t.Errorf("deposit = %q, want 0", snap.Deposit)
	}
	if snap.Tokens.Symbol.State != FieldLoading {
		t.Errorf("symbol state = %s, want loading", snap.Tokens.Symbol.State)
	}
}

func TestConnect_LoadsAllViews(t *testing.T) {
	l := newFakeLedger()
	l.setBalance(accountA, 1_500_000)
	l.setBalance(multisigAddr, 7_000_000)
	l.vaultTotal = big.NewInt(123456789000)
	l.setClaimable(accountA, 2_500_000)

	rec := newFakeRecorder()
	opts := testOptions()
	opts.Recorder = rec
	c := newTestController(t, l, &fakeWallet{account: accountA}, opts)

	account, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if account != accountA {
		t.Errorf("account = %s", account.Hex())
	}

	snap := c.Snapshot()
	if snap.Phase != PhaseReady {
		t.Fatalf("phase = %s, want ready", snap.Phase)
	}
	if snap.Vault != vaultAddr {
		t.Errorf("vault = %s", snap.Vault.Hex())
	}
	if got := snap.Tokens.Symbol.Value; got != "USDC" {
		t.Errorf("symbol = %q", got)
	}
	if got := snap.Tokens.TotalValueLocked.Value.Display; got != "123456.789" {
		t.Errorf("TVL display = %q, want 123456.789", got)
	}
	if got := snap.Tokens.TotalValueLocked.Value.BaseUnits; got != "123456789000" {
		t.Errorf("TVL base units = %q", got)
	}
	if got := snap.Tokens.UserBalance.Value.Display; got != "1.5" {
		t.Errorf("user balance = %q, want 1.5", got)
	}
	if got := snap.Tokens.MultisigBalance.Value.Display; got != "7" {
		t.Errorf("multisig balance = %q, want 7", got)
	}
	if got := snap.Rewards.Value.Display; got != "2.5" {
		t.Errorf("rewards = %q, want 2.5", got)
	}
	want := time.Unix(1_700_000_000, 0).UTC()
	if !snap.ClaimableAt.Ready() || !snap.ClaimableAt.Value.Equal(want) {
		t.Errorf("claimable at = %+v, want %s", snap.ClaimableAt, want)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, view := range []string{"timelock", "symbol", "user_balance", "multisig_balance", "total_value_locked", "claimable_rewards"} {
		if rec.reads[view] != 1 {
			t.Errorf("expected 1 read of %s, got %d", view, rec.reads[view])
		}
	}
	if rec.phase != string(PhaseReady) {
		t.Errorf("recorded phase = %s", rec.phase)
	}
}

func TestConnect_AuthorizationFailure(t *testing.T) {
	w := &fakeWallet{err: errors.New("could not decrypt key with given password")}
	c := newTestController(t, newFakeLedger(), w, testOptions())

	_, err := c.Connect(context.Background())
	if !errors.Is(err, ErrWalletAuthorization) {
		t.Fatalf("expected ErrWalletAuthorization, got %v", err)
	}

	snap := c.Snapshot()
	if snap.Phase != PhaseDisconnected {
		t.Errorf("phase = %s, want disconnected", snap.Phase)
	}
	if len(snap.Notices) != 1 || snap.Notices[0].Level != NoticeError {
		t.Fatalf("expected one error notice, got %+v", snap.Notices)
	}
}

func TestConnect_NoAccount(t *testing.T) {
	c := newTestController(t, newFakeLedger(), &fakeWallet{}, testOptions())

	if _, err := c.Connect(context.Background()); !errors.Is(err, ErrWalletAuthorization) {
		t.Fatalf("expected ErrWalletAuthorization, got %v", err)
	}
}

func TestConnect_BindFailure(t *testing.T) {
	binder := func(ctx context.Context, account common.Address) (Vault, Token, error) {
		return nil, nil, errors.New("dial tcp: connection refused")
	}
	c, err := New(&fakeWallet{account: accountA}, binder, testOptions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := c.Connect(context.Background()); err == nil {
		t.Fatal("expected bind error")
	}

	snap := c.Snapshot()
	if snap.Tokens.Symbol.State != FieldUnavailable || snap.Rewards.State != FieldUnavailable {
		t.Errorf("views should be unavailable: %+v", snap.Tokens)
	}
	if _, err := c.Withdraw(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("write without contracts: expected ErrNotConnected, got %v", err)
	}
}

func TestRefresh_ReadFailureIsLocal(t *testing.T) {
	l := newFakeLedger()
	l.readErrs["symbol"] = errors.New("rpc timeout")
	l.setBalance(accountA, 10_000_000)

	c := newTestController(t, l, &fakeWallet{account: accountA}, testOptions())
	if _, err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	snap := c.Snapshot()
	if snap.Tokens.Symbol.State != FieldUnavailable {
		t.Errorf("symbol state = %s, want unavailable", snap.Tokens.Symbol.State)
	}
	if snap.Tokens.Symbol.Error != "rpc timeout" {
		t.Errorf("symbol error = %q", snap.Tokens.Symbol.Error)
	}
	if !snap.Tokens.UserBalance.Ready() || snap.Tokens.UserBalance.Value.Display != "10" {
		t.Errorf("user balance should be unaffected: %+v", snap.Tokens.UserBalance)
	}
	if snap.Phase != PhaseReady {
		t.Errorf("phase = %s, want ready", snap.Phase)
	}
	if snap.TokenSymbol("tokens") != "tokens" {
		t.Error("fallback symbol expected while symbol is unavailable")
	}

	var warned bool
	for _, n := range snap.Notices {
		if n.Level == NoticeWarning {
			warned = true
		}
	}
	if !warned {
		t.Errorf("expected a warning notice, got %+v", snap.Notices)
	}
}

func TestRefresh_NotConnected(t *testing.T) {
	c := newTestController(t, newFakeLedger(), &fakeWallet{account: accountA}, testOptions())
	if err := c.Refresh(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestTimelock_OutOfRange(t *testing.T) {
	l := newFakeLedger()
	c := newTestController(t, l, &fakeWallet{account: accountA}, testOptions())
	binder := func(ctx context.Context, account common.Address) (Vault, Token, error) {
		return &hugeTimelockVault{fakeVault{l: l, account: account}}, &fakeToken{l: l, account: account}, nil
	}
	c.bind = binder

	if _, err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := c.Snapshot().ClaimableAt.State; got != FieldUnavailable {
		t.Errorf("claimable time state = %s, want unavailable", got)
	}
}

type hugeTimelockVault struct {
	fakeVault
}

func (v *hugeTimelockVault) Timelock(ctx context.Context, index int64) (*big.Int, error) {
	return new(big.Int).Lsh(big.NewInt(1), 100), nil
}

func TestReconnect_ResetsViewsBeforeRepopulating(t *testing.T) {
	l := newFakeLedger()
	l.setBalance(accountA, 5_000_000)
	l.setBalance(accountB, 9_000_000)
	l.setClaimable(accountA, 1_000_000)

	w := &fakeWallet{account: accountA}
	c := newTestController(t, l, w, testOptions())
	if _, err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect A: %v", err)
	}
	if got := c.Snapshot().Tokens.UserBalance.Value.Display; got != "5" {
		t.Fatalf("A balance = %q", got)
	}

	c.Disconnect()
	snap := c.Snapshot()
	if snap.Phase != PhaseDisconnected || snap.Tokens.UserBalance.State != FieldLoading {
		t.Fatalf("disconnect should reset views, got %s %+v", snap.Phase, snap.Tokens.UserBalance)
	}

	gate := make(chan struct{})
	c.bind = func(ctx context.Context, account common.Address) (Vault, Token, error) {
		<-gate
		return ledgerBinder(l)(ctx, account)
	}

	w.use(accountB)
	done := make(chan error, 1)
	go func() {
		_, err := c.Connect(context.Background())
		done <- err
	}()

	waitFor(t, "account B", func() bool { return c.Snapshot().Account == accountB })
	snap = c.Snapshot()
	if snap.Phase != PhaseLoading {
		t.Errorf("phase = %s, want loading", snap.Phase)
	}
	for name, state := range map[string]FieldState{
		"symbol":   snap.Tokens.Symbol.State,
		"tvl":      snap.Tokens.TotalValueLocked.State,
		"multisig": snap.Tokens.MultisigBalance.State,
		"user":     snap.Tokens.UserBalance.State,
		"rewards":  snap.Rewards.State,
		"timelock": snap.ClaimableAt.State,
	} {
		if state != FieldLoading {
			t.Errorf("%s state = %s, want loading", name, state)
		}
	}
	if snap.Tokens.UserBalance.Value.Display != "" || snap.Rewards.Value.Display != "" {
		t.Error("values of the previous account leaked into the new session")
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("Connect B: %v", err)
	}
	snap = c.Snapshot()
	if got := snap.Tokens.UserBalance.Value.Display; got != "9" {
		t.Errorf("B balance = %q, want 9", got)
	}
	if got := snap.Rewards.Value.Display; got != "0" {
		t.Errorf("B rewards = %q, want 0", got)
	}
}

func TestStaleReadsAreDiscarded(t *testing.T) {
	l := newFakeLedger()
	l.setClaimable(accountA, 3_000_000)
	l.setClaimable(accountB, 4_000_000)

	started := make(chan struct{})
	release := make(chan struct{})
	l.readHook = func(method string, account common.Address) {
		if method == "claimableOf" && account == accountA {
			close(started)
			<-release
		}
	}

	c := newTestController(t, l, &fakeWallet{account: accountA}, testOptions())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Connect(context.Background())
	}()
	<-started

	if err := c.switchAccount(context.Background(), accountB); err != nil {
		t.Fatalf("switch to B: %v", err)
	}
	if got := c.Snapshot().Rewards.Value.Display; got != "4" {
		t.Fatalf("B rewards = %q, want 4", got)
	}

	close(release)
	<-done

	snap := c.Snapshot()
	if snap.Account != accountB {
		t.Errorf("account = %s, want B", snap.Account.Hex())
	}
	if got := snap.Rewards.Value.Display; got != "4" {
		t.Errorf("stale read for A overwrote B rewards: %q", got)
	}
}

func TestFollowAddress(t *testing.T) {
	l := newFakeLedger()
	l.setBalance(accountB, 2_000_000)
	c := newTestController(t, l, &fakeWallet{account: accountA}, testOptions())
	if _, err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	changes := make(chan common.Address)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.FollowAddress(ctx, changes)
	}()

	changes <- accountB
	waitFor(t, "account B ready", func() bool {
		s := c.Snapshot()
		return s.Account == accountB && s.Phase == PhaseReady
	})
	if got := c.Snapshot().Tokens.UserBalance.Value.Display; got != "2" {
		t.Errorf("B balance = %q, want 2", got)
	}

	changes <- common.Address{}
	waitFor(t, "disconnect", func() bool { return c.Snapshot().Phase == PhaseDisconnected })

	cancel()
	<-done
}

func TestSubscribe(t *testing.T) {
	c := newTestController(t, newFakeLedger(), &fakeWallet{account: accountA}, testOptions())

	ch, cancel := c.Subscribe()
	first := <-ch
	if first.Phase != PhaseDisconnected {
		t.Errorf("initial snapshot phase = %s", first.Phase)
	}

	if _, err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// Only the newest snapshot is kept for a slow reader.
	latest := <-ch
	if latest.Phase != PhaseReady || latest.Account != accountA {
		t.Errorf("latest snapshot = %s %s", latest.Phase, latest.Account.Hex())
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}
	c.SetDeposit("1")
}

func TestNotices_Bounded(t *testing.T) {
	opts := testOptions()
	opts.MaxNotices = 3
	c := newTestController(t, newFakeLedger(), &fakeWallet{account: accountA}, opts)

	for i := 0; i < 5; i++ {
		c.notify(NoticeInfo, string(rune('a'+i)))
	}
	snap := c.Snapshot()
	if len(snap.Notices) != 3 {
		t.Fatalf("expected 3 notices, got %d", len(snap.Notices))
	}
	if snap.Notices[0].Message != "c" || snap.Notices[2].Message != "e" {
		t.Errorf("expected newest notices kept, got %+v", snap.Notices)
	}
}

func TestParseApprovalPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    ApprovalPolicy
		wantErr bool
	}{
		{"", ApprovalUnlimited, false},
		{"unlimited", ApprovalUnlimited, false},
		{"exact", ApprovalExact, false},
		{"max", "", true},
	}
	for _, tt := range tests {
		got, err := ParseApprovalPolicy(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseApprovalPolicy(%q) = %q, %v", tt.in, got, err)
		}
	}
}
