package commands

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/term"

	"github.com/invar/vault/internal/chain"
	"github.com/invar/vault/internal/config"
	"github.com/invar/vault/internal/metrics"
	"github.com/invar/vault/internal/stake"
	"github.com/invar/vault/internal/util"
	"github.com/invar/vault/internal/wallet"
)

// clientConfig maps the chain section of the config to a chain client config.
func clientConfig(cfg *config.Config) *chain.ClientConfig {
	retry := util.DefaultRetryConfig()
	retry.MaxRetries = cfg.Chain.ReadRetries
	retry.AttemptTimeout = cfg.Chain.ReadTimeout

	return &chain.ClientConfig{
		RPCURL:             cfg.Chain.RPCURL,
		ChainID:            cfg.Chain.ChainID,
		BlockConfirmations: cfg.Chain.BlockConfirmations,
		MaxGasPrice:        cfg.Chain.MaxGasPrice(),
		PollInterval:       cfg.Chain.PollInterval,
		TxTimeout:          cfg.Chain.TxTimeout,
		ReadRetry:          retry,
	}
}

// chainBinder dials a chain client signing with the connected account and
// binds the vault and token contracts to it. Rebinding closes the previous
// client.
type chainBinder struct {
	cfg  *config.Config
	keys func(common.Address) (*ecdsa.PrivateKey, error)

	mu     sync.Mutex
	client *chain.Client
}

func (b *chainBinder) Bind(ctx context.Context, account common.Address) (stake.Vault, stake.Token, error) {
	key, err := b.keys(account)
	if err != nil {
		return nil, nil, fmt.Errorf("wallet key unavailable: %w", err)
	}

	client := chain.NewClient(clientConfig(b.cfg), key)
	if err := client.Connect(ctx); err != nil {
		return nil, nil, err
	}

	vault, err := chain.NewVaultContract(client, b.cfg.Contracts.VaultAddress())
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	token, err := chain.NewTokenContract(client, b.cfg.Contracts.TokenAddress())
	if err != nil {
		client.Close()
		return nil, nil, err
	}

	b.mu.Lock()
	prev := b.client
	b.client = client
	b.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
	return vault, token, nil
}

func (b *chainBinder) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		b.client.Close()
		b.client = nil
	}
}

// session is a stake controller wired to the keystore wallet and the chain.
type session struct {
	cfg      *config.Config
	provider *wallet.Provider
	binder   *chainBinder
	metrics  *metrics.Collector
	ctrl     *stake.Controller
}

// newSession builds the controller. With prompt set, a terminal password
// prompt is the last password source.
func newSession(cfg *config.Config, prompt bool) (*session, error) {
	password := wallet.DefaultPasswordSources(cfg.Wallet.KeystoreDir, cfg.Wallet.PasswordFile)
	if prompt && term.IsTerminal(int(syscall.Stdin)) {
		password = wallet.FirstPassword(password, promptPassword)
	}
	provider := wallet.NewProvider(cfg.Wallet.KeystoreDir, password)

	policy, err := stake.ParseApprovalPolicy(cfg.Staking.ApprovalPolicy)
	if err != nil {
		return nil, err
	}

	binder := &chainBinder{cfg: cfg, keys: provider.Key}
	collector := metrics.NewCollector()

	opts := stake.DefaultOptions()
	opts.Multisig = cfg.Contracts.MultisigAddress()
	opts.Decimals = cfg.Contracts.TokenDecimals
	opts.TimelockIndex = cfg.Contracts.TimelockIndex
	opts.ApprovalPolicy = policy
	opts.Recorder = collector
	// every read may use all of its attempts
	opts.RefreshTimeout = cfg.Chain.ReadTimeout * time.Duration(cfg.Chain.ReadRetries+1)

	ctrl, err := stake.New(provider, binder.Bind, opts)
	if err != nil {
		return nil, err
	}

	return &session{
		cfg:      cfg,
		provider: provider,
		binder:   binder,
		metrics:  collector,
		ctrl:     ctrl,
	}, nil
}

func (s *session) Close() {
	s.binder.Close()
	s.provider.Lock()
}

// connect connects the wallet behind a spinner and fails if the account
// could not be bound.
func (s *session) connect(ctx context.Context, w io.Writer) error {
	return withSpinner(w, "Connecting wallet", func() error {
		_, err := s.ctrl.Connect(ctx)
		return err
	})
}

func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Enter wallet password: ")
	pw, err := readPasswordNoEcho()
	fmt.Fprintln(os.Stderr)
	return pw, err
}

// readPasswordNoEcho reads a line from stdin with echo disabled.
func readPasswordNoEcho() (string, error) {
	password, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	return string(password), nil
}
