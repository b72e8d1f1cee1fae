package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// fakeBackend answers eth_call with ABI-encoded outputs and records sent
// transactions.
type fakeBackend struct {
	abi     abi.ABI
	respond func(method string, args []interface{}) ([]interface{}, error)

	mu    sync.Mutex
	calls map[string]int
	sent  []*types.Transaction
}

func newFakeBackend(t *testing.T, abiJSON string, respond func(method string, args []interface{}) ([]interface{}, error)) *fakeBackend {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	return &fakeBackend{abi: parsed, respond: respond, calls: make(map[string]int)}
}

func (f *fakeBackend) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeBackend) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}

func (f *fakeBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if len(call.Data) < 4 {
		return nil, errors.New("short calldata")
	}
	method, err := f.abi.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.calls[method.Name]++
	f.mu.Unlock()

	out, err := f.respond(method.Name, args)
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(out...)
}

func (f *fakeBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(1)}, nil
}

func (f *fakeBackend) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return []byte{0x60}, nil
}

func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 7, nil
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1e9), nil
}

func (f *fakeBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1e9), nil
}

func (f *fakeBackend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 60000, nil
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

// fakeSender signs with a throwaway key and confirms instantly.
type fakeSender struct {
	key     *ecdsa.PrivateKey
	waitErr error
	waited  []common.Hash
}

func newFakeSender(t *testing.T) *fakeSender {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return &fakeSender{key: key}
}

func (s *fakeSender) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(s.key, big.NewInt(1337))
	if err != nil {
		return nil, err
	}
	opts.Context = ctx
	opts.GasPrice = big.NewInt(1e9)
	return opts, nil
}

func (s *fakeSender) WaitForTransaction(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	s.waited = append(s.waited, tx.Hash())
	if s.waitErr != nil {
		return nil, s.waitErr
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: tx.Hash(), BlockNumber: big.NewInt(2)}, nil
}

// revertDataError mimics the JSON-RPC error returned for a reverted eth_call.
type revertDataError struct {
	data string
}

func (e *revertDataError) Error() string          { return "execution reverted" }
func (e *revertDataError) ErrorData() interface{} { return e.data }

func revertData(t *testing.T, reason string) string {
	t.Helper()
	typ, err := abi.NewType("string", "", nil)
	if err != nil {
		t.Fatalf("new type: %v", err)
	}
	packed, err := abi.Arguments{{Type: typ}}.Pack(reason)
	if err != nil {
		t.Fatalf("pack reason: %v", err)
	}
	selector := crypto.Keccak256([]byte("Error(string)"))[:4]
	return fmt.Sprintf("0x%x%x", selector, packed)
}
