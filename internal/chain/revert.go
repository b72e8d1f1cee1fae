package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// RevertError is returned when a contract call or transaction reverted.
// Reason holds the decoded revert string when the contract supplied one.
type RevertError struct {
	Method string
	Reason string
	Err    error
}

func (e *RevertError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s reverted: %s", e.Method, e.Reason)
	}
	return fmt.Sprintf("%s reverted", e.Method)
}

func (e *RevertError) Unwrap() error {
	return e.Err
}

// RevertReason extracts a human-readable revert reason from an error returned
// by the node, either from the Error(string) revert data attached to the
// JSON-RPC error or from the "execution reverted: ..." message.
func RevertReason(err error) (string, bool) {
	if err == nil {
		return "", false
	}

	var revertErr *RevertError
	if errors.As(err, &revertErr) && revertErr.Reason != "" {
		return revertErr.Reason, true
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if reason, ok := decodeRevertData(dataErr.ErrorData()); ok {
			return reason, true
		}
	}

	const marker = "execution reverted: "
	msg := err.Error()
	if idx := strings.Index(msg, marker); idx >= 0 {
		return strings.TrimSpace(msg[idx+len(marker):]), true
	}
	return "", false
}

// isRevert reports whether err came from the EVM rather than the transport.
func isRevert(err error) bool {
	if err == nil {
		return false
	}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		return true
	}
	return strings.Contains(err.Error(), "execution reverted")
}

func decodeRevertData(data interface{}) (string, bool) {
	var raw []byte
	switch v := data.(type) {
	case string:
		b, err := hexutil.Decode(v)
		if err != nil {
			return "", false
		}
		raw = b
	case []byte:
		raw = v
	default:
		return "", false
	}

	reason, err := abi.UnpackRevert(raw)
	if err != nil {
		return "", false
	}
	return reason, true
}

// wrapRevert converts an EVM revert into a *RevertError; other errors are
// returned unchanged.
func wrapRevert(method string, err error) error {
	if !isRevert(err) {
		return err
	}
	reason, _ := RevertReason(err)
	return &RevertError{Method: method, Reason: reason, Err: err}
}
