package web

import (
	"context"
	"math/big"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/invar/vault/internal/metrics"
	"github.com/invar/vault/internal/stake"
)

var (
	testAccount = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testTxHash  = common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111")
)

// fakeController records calls and serves a fixed snapshot.
type fakeController struct {
	mu         sync.Mutex
	snap       stake.Snapshot
	connectErr error
	writeErr   error
	calls      []string
	subs       map[int]chan stake.Snapshot
	nextSub    int
}

func newFakeController(snap stake.Snapshot) *fakeController {
	return &fakeController{snap: snap, subs: make(map[int]chan stake.Snapshot)}
}

func (f *fakeController) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeController) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeController) Connect(ctx context.Context) (common.Address, error) {
	f.record("connect")
	if f.connectErr != nil {
		return common.Address{}, f.connectErr
	}
	return testAccount, nil
}

func (f *fakeController) Disconnect() { f.record("disconnect") }

func (f *fakeController) SetDeposit(input string) { f.record("deposit:" + input) }

func (f *fakeController) StakeAmount(ctx context.Context, input string) (common.Hash, error) {
	f.record("stake:" + input)
	return f.write()
}

func (f *fakeController) Stake(ctx context.Context) (common.Hash, error) {
	f.record("stake")
	return f.write()
}

func (f *fakeController) Withdraw(ctx context.Context) (common.Hash, error) {
	f.record("withdraw")
	return f.write()
}

func (f *fakeController) ClaimRewards(ctx context.Context) (common.Hash, error) {
	f.record("claim")
	return f.write()
}

func (f *fakeController) write() (common.Hash, error) {
	if f.writeErr != nil {
		return common.Hash{}, f.writeErr
	}
	return testTxHash, nil
}

func (f *fakeController) Snapshot() stake.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeController) Subscribe() (<-chan stake.Snapshot, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSub
	f.nextSub++
	ch := make(chan stake.Snapshot, 8)
	ch <- f.snap
	f.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.subs, id)
			close(ch)
		})
	}
}

func (f *fakeController) publish(snap stake.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap = snap
	for _, ch := range f.subs {
		ch <- snap
	}
}

func (f *fakeController) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func amountField(raw int64) stake.Field[stake.AmountView] {
	return stake.Field[stake.AmountView]{State: stake.FieldReady, Value: stake.NewAmountView(big.NewInt(raw), 6)}
}

func disconnectedSnapshot() stake.Snapshot {
	loading := stake.Field[stake.AmountView]{State: stake.FieldLoading}
	return stake.Snapshot{
		Phase:   stake.PhaseDisconnected,
		Deposit: "0",
		Tokens: stake.TokenBalanceView{
			Symbol:           stake.Field[string]{State: stake.FieldLoading},
			TotalValueLocked: loading,
			MultisigBalance:  loading,
			UserBalance:      loading,
		},
		Rewards:        loading,
		ClaimableAt:    stake.Field[time.Time]{State: stake.FieldLoading},
		ApprovalPolicy: stake.ApprovalUnlimited,
	}
}

func loadingSnapshot() stake.Snapshot {
	snap := disconnectedSnapshot()
	snap.Phase = stake.PhaseLoading
	snap.Connected = true
	snap.Account = testAccount
	return snap
}

func readySnapshot() stake.Snapshot {
	snap := loadingSnapshot()
	snap.Phase = stake.PhaseReady
	snap.Tokens = stake.TokenBalanceView{
		Symbol:           stake.Field[string]{State: stake.FieldReady, Value: "USDC"},
		TotalValueLocked: amountField(123456789000),
		MultisigBalance:  stake.Field[stake.AmountView]{State: stake.FieldUnavailable, Error: "execution reverted"},
		UserBalance:      amountField(100000000),
	}
	snap.Rewards = amountField(1500000)
	snap.ClaimableAt = stake.Field[time.Time]{State: stake.FieldReady, Value: time.Unix(1700000000, 0)}
	snap.Notices = []stake.Notice{{Level: stake.NoticeSuccess, Message: "Staked 50 USDC", Time: time.Unix(1700000000, 0)}}
	return snap
}

func testServerConfig() *ServerConfig {
	cfg := DefaultServerConfig()
	cfg.RateLimit = 0
	cfg.Version = "test"
	return cfg
}

// newTestServer serves a fresh Server over httptest. Cleanup stops the
// server, waiting for background actions, before closing the listener.
func newTestServer(t *testing.T, cfg *ServerConfig, ctrl *fakeController) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(cfg, ctrl, metrics.NewCollector())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		stopServer(t, s)
		ts.Close()
	})
	return s, ts
}

func stopServer(t *testing.T, s *Server) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
