// Package stake implements the stake page interaction controller: it bridges a
// wallet and the vault and token contracts to a display surface and
// sequences stake, withdraw and claim transactions.
package stake

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/invar/vault/internal/amount"
	"github.com/invar/vault/internal/chain"
)

var (
	// ErrWalletAuthorization is returned when the wallet refuses to connect:
	// no account, a wrong password or a declined unlock.
	ErrWalletAuthorization = errors.New("wallet authorization failed")
	// ErrNotConnected is returned by operations that need a connected wallet.
	ErrNotConnected = errors.New("wallet not connected")
	// ErrBusy is returned when a write is requested while another is in flight.
	ErrBusy = errors.New("another transaction is in progress")
	// ErrInvalidAmount is returned for stake input that fails validation.
	ErrInvalidAmount = errors.New("invalid stake amount")
)

// Wallet is the wallet provider boundary.
type Wallet interface {
	Connect(ctx context.Context) (common.Address, error)
}

// Vault is the staking vault contract boundary.
type Vault interface {
	Address() common.Address
	Timelock(ctx context.Context, index int64) (*big.Int, error)
	TotalBalance(ctx context.Context) (*big.Int, error)
	ClaimableOf(ctx context.Context, account common.Address) (*big.Int, error)
	Stake(ctx context.Context, amount *big.Int) (*chain.PendingTx, error)
	Withdraw(ctx context.Context) (*chain.PendingTx, error)
	Claim(ctx context.Context) (*chain.PendingTx, error)
}

// Token is the staked ERC-20 token boundary.
type Token interface {
	Address() common.Address
	Symbol(ctx context.Context) (string, error)
	BalanceOf(ctx context.Context, account common.Address) (*big.Int, error)
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
	Approve(ctx context.Context, spender common.Address, amount *big.Int) (*chain.PendingTx, error)
}

// Binder derives the contract handles used on behalf of account. It is called
// again whenever the connected account changes.
type Binder func(ctx context.Context, account common.Address) (Vault, Token, error)

// Recorder receives controller measurements.
type Recorder interface {
	ObserveRead(view string, d time.Duration, err error)
	ObserveWrite(step string, d time.Duration, err error)
	BusyRejected(op string)
	SetPhase(phase string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveRead(string, time.Duration, error)  {}
func (nopRecorder) ObserveWrite(string, time.Duration, error) {}
func (nopRecorder) BusyRejected(string)                       {}
func (nopRecorder) SetPhase(string)                           {}

// Phase is the controller session state.
type Phase string

const (
	PhaseDisconnected Phase = "disconnected"
	PhaseLoading      Phase = "loading"
	PhaseReady        Phase = "ready"
	PhaseSubmitting   Phase = "submitting"
)

// ApprovalPolicy decides how much allowance is granted to the vault before staking.
type ApprovalPolicy string

const (
	// ApprovalUnlimited grants MaxUint256 once, when the allowance is exactly zero.
	ApprovalUnlimited ApprovalPolicy = "unlimited"
	// ApprovalExact grants the staked amount whenever the allowance is short of it.
	ApprovalExact ApprovalPolicy = "exact"
)

// ParseApprovalPolicy validates a configured policy name.
func ParseApprovalPolicy(s string) (ApprovalPolicy, error) {
	switch p := ApprovalPolicy(s); p {
	case ApprovalUnlimited, ApprovalExact:
		return p, nil
	case "":
		return ApprovalUnlimited, nil
	default:
		return "", fmt.Errorf("unknown approval policy %q (want %q or %q)", s, ApprovalUnlimited, ApprovalExact)
	}
}

// FieldState tells whether a view field has been read.
type FieldState string

const (
	FieldLoading     FieldState = "loading"
	FieldReady       FieldState = "ready"
	FieldUnavailable FieldState = "unavailable"
)

// Field is one independently loaded value of a view.
type Field[T any] struct {
	State FieldState `json:"state"`
	Value T          `json:"value"`
	Error string     `json:"error,omitempty"`
}

// Ready reports whether the value has been read successfully.
func (f Field[T]) Ready() bool {
	return f.State == FieldReady
}

func loadingField[T any]() Field[T] {
	return Field[T]{State: FieldLoading}
}

func readyField[T any](v T) Field[T] {
	return Field[T]{State: FieldReady, Value: v}
}

func unavailableField[T any](err error) Field[T] {
	return Field[T]{State: FieldUnavailable, Error: err.Error()}
}

// AmountView carries an amount as exact base units and as display text.
type AmountView struct {
	Amount    amount.Amount `json:"-"`
	BaseUnits string        `json:"base_units"`
	Display   string        `json:"display"`
}

// NewAmountView builds the view of raw base units at the given precision.
func NewAmountView(raw *big.Int, decimals int32) AmountView {
	a := amount.FromBaseUnits(raw, decimals)
	return AmountView{Amount: a, BaseUnits: a.Raw.String(), Display: a.String()}
}

func (v AmountView) String() string {
	return v.Display
}

// TokenBalanceView is the token section of the stake page.
type TokenBalanceView struct {
	Symbol           Field[string]     `json:"symbol"`
	TotalValueLocked Field[AmountView] `json:"total_value_locked"`
	MultisigBalance  Field[AmountView] `json:"multisig_balance"`
	UserBalance      Field[AmountView] `json:"user_balance"`
}

func loadingTokenView() TokenBalanceView {
	return TokenBalanceView{
		Symbol:           loadingField[string](),
		TotalValueLocked: loadingField[AmountView](),
		MultisigBalance:  loadingField[AmountView](),
		UserBalance:      loadingField[AmountView](),
	}
}

// NoticeLevel classifies a notice.
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is a human-readable message about an outcome shown to the user.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
	Time    time.Time   `json:"time"`
}

// Snapshot is an immutable copy of the controller state for rendering.
type Snapshot struct {
	Phase          Phase             `json:"phase"`
	Connected      bool              `json:"connected"`
	Account        common.Address    `json:"account"`
	Vault          common.Address    `json:"vault"`
	Multisig       common.Address    `json:"multisig"`
	Tokens         TokenBalanceView  `json:"tokens"`
	Rewards        Field[AmountView] `json:"claimable_rewards"`
	ClaimableAt    Field[time.Time]  `json:"claimable_at"`
	Deposit        string            `json:"deposit"`
	Busy           bool              `json:"busy"`
	ApprovalPolicy ApprovalPolicy    `json:"approval_policy"`
	Notices        []Notice          `json:"notices"`
}

// TokenSymbol returns the loaded symbol, or fallback while it is unknown.
func (s Snapshot) TokenSymbol(fallback string) string {
	if s.Tokens.Symbol.Ready() && s.Tokens.Symbol.Value != "" {
		return s.Tokens.Symbol.Value
	}
	return fallback
}

// TxError is a failed step of a write sequence. Reason holds the contract
// revert reason when the node supplied one.
type TxError struct {
	Step   string
	TxHash common.Hash
	Reason string
	Err    error
}

func newTxError(step string, hash common.Hash, err error) *TxError {
	reason, _ := chain.RevertReason(err)
	return &TxError{Step: step, TxHash: hash, Reason: reason, Err: err}
}

func (e *TxError) Error() string {
	msg := e.Step + " failed"
	if e.TxHash != (common.Hash{}) {
		msg += " (tx " + e.TxHash.Hex() + ")"
	}
	switch {
	case e.Reason != "":
		msg += ": " + e.Reason
	case e.Err != nil:
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TxError) Unwrap() error {
	return e.Err
}
