package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/invar/vault/internal/logging"
	"github.com/invar/vault/internal/util"
)

// ErrNotConnected is returned when the client has no RPC connection.
var ErrNotConnected = errors.New("not connected")

// ErrNoSigner is returned when a write is attempted without a wallet key.
var ErrNoSigner = errors.New("no signing key configured")

// ClientConfig holds configuration for the RPC client
type ClientConfig struct {
	RPCURL             string
	ChainID            int64
	BlockConfirmations int
	MaxGasPrice        *big.Int // nil = no cap
	PollInterval       time.Duration
	TxTimeout          time.Duration
	ReadRetry          *util.RetryConfig
}

// DefaultClientConfig returns sensible defaults
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		RPCURL:             "http://127.0.0.1:8545",
		ChainID:            1,
		BlockConfirmations: 1,
		MaxGasPrice:        big.NewInt(200e9), // 200 gwei
		PollInterval:       2 * time.Second,
		TxTimeout:          5 * time.Minute,
		ReadRetry:          util.DefaultRetryConfig(),
	}
}

// Client is an RPC connection plus the signing key of the connected wallet.
type Client struct {
	config     *ClientConfig
	eth        *ethclient.Client
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int

	connected bool
	mu        sync.RWMutex
}

// NewClient creates a client. privateKey may be nil for a read-only client.
func NewClient(config *ClientConfig, privateKey *ecdsa.PrivateKey) *Client {
	if config == nil {
		config = DefaultClientConfig()
	}

	c := &Client{
		config:     config,
		privateKey: privateKey,
		chainID:    big.NewInt(config.ChainID),
	}
	if privateKey != nil {
		c.address = crypto.PubkeyToAddress(privateKey.PublicKey)
	}
	return c
}

// Connect dials the RPC endpoint and verifies the chain ID.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	eth, result := util.RetryWithValue(ctx, c.config.ReadRetry, func(ctx context.Context) (*ethclient.Client, error) {
		return ethclient.DialContext(ctx, c.config.RPCURL)
	})
	if result.LastError != nil {
		return fmt.Errorf("failed to connect to RPC %s: %w", c.config.RPCURL, result.LastError)
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return fmt.Errorf("failed to get chain ID: %w", err)
	}
	if chainID.Cmp(c.chainID) != 0 {
		eth.Close()
		return fmt.Errorf("chain ID mismatch: expected %d, got %d", c.chainID, chainID)
	}

	c.eth = eth
	c.connected = true

	logging.Info("connected to chain",
		"rpc_url", c.config.RPCURL,
		"chain_id", chainID.String(),
		logging.Component("chain"))
	return nil
}

// Close closes the connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	c.connected = false
}

// IsConnected returns true if connected
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Backend returns the underlying ethclient for contract bindings.
func (c *Client) Backend() (*ethclient.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.eth == nil {
		return nil, ErrNotConnected
	}
	return c.eth, nil
}

// Address returns the signer address (zero for read-only clients).
func (c *Client) Address() common.Address {
	return c.address
}

// ChainID returns the chain ID
func (c *Client) ChainID() *big.Int {
	return c.chainID
}

// ReadRetry returns the retry policy applied to contract reads.
func (c *Client) ReadRetry() *util.RetryConfig {
	return c.config.ReadRetry
}

// TransactOpts creates signed transaction options for the wallet key.
// The nonce is left to the node (pending nonce), writes are serialized by the caller.
func (c *Client) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	if c.privateKey == nil {
		return nil, ErrNoSigner
	}

	eth, err := c.Backend()
	if err != nil {
		return nil, err
	}

	gasPrice, err := eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	if c.config.MaxGasPrice != nil && gasPrice.Cmp(c.config.MaxGasPrice) > 0 {
		gasPrice = new(big.Int).Set(c.config.MaxGasPrice)
	}

	auth, err := bind.NewKeyedTransactorWithChainID(c.privateKey, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	auth.Context = ctx
	auth.GasPrice = gasPrice

	return auth, nil
}

// WaitForTransaction waits for tx to be mined and confirmed. A reverted
// transaction is replayed as a call at its block to recover the revert reason.
func (c *Client) WaitForTransaction(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	eth, err := c.Backend()
	if err != nil {
		return nil, err
	}

	if c.config.TxTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.TxTimeout)
		defer cancel()
	}

	return waitConfirmed(ctx, eth, tx, c.address, c.config.BlockConfirmations, c.config.PollInterval)
}

// confirmBackend is the subset of ethclient needed to await confirmations.
type confirmBackend interface {
	bind.DeployBackend
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

func waitConfirmed(ctx context.Context, b confirmBackend, tx *types.Transaction, from common.Address, confirmations int, poll time.Duration) (*types.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, b, tx)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for transaction %s: %w", tx.Hash().Hex(), err)
	}

	if receipt.Status == types.ReceiptStatusFailed {
		return receipt, revertedReceipt(ctx, b, tx, from, receipt)
	}

	if confirmations <= 1 {
		return receipt, nil
	}
	if poll <= 0 {
		poll = 2 * time.Second
	}

	// The inclusion block counts as the first confirmation.
	target := receipt.BlockNumber.Uint64() + uint64(confirmations) - 1
	for {
		current, err := b.BlockNumber(ctx)
		if err == nil && current >= target {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return receipt, ctx.Err()
		case <-time.After(poll):
		}
	}
}

// revertedReceipt re-executes the failed transaction at its block to obtain
// the revert reason.
func revertedReceipt(ctx context.Context, b confirmBackend, tx *types.Transaction, from common.Address, receipt *types.Receipt) error {
	msg := ethereum.CallMsg{
		From:  from,
		To:    tx.To(),
		Gas:   tx.Gas(),
		Value: tx.Value(),
		Data:  tx.Data(),
	}

	_, callErr := b.CallContract(ctx, msg, receipt.BlockNumber)
	revertErr := &RevertError{
		Method: "transaction " + tx.Hash().Hex(),
		Err:    fmt.Errorf("transaction failed: %s", tx.Hash().Hex()),
	}
	if reason, ok := RevertReason(callErr); ok {
		revertErr.Reason = reason
	}
	return revertErr
}
