package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/invar/vault/internal/logging"
	"github.com/invar/vault/internal/stake"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 4 << 10

// StakeRequest is the request for POST /v1/stake/stake
type StakeRequest struct {
	Amount string `json:"amount"`
}

// ActionResponse is returned by the write endpoints
type ActionResponse struct {
	TxHash   string         `json:"tx_hash,omitempty"`
	Snapshot stake.Snapshot `json:"snapshot"`
}

// ConnectResponse is returned by POST /v1/stake/connect
type ConnectResponse struct {
	Account  common.Address `json:"account"`
	Snapshot stake.Snapshot `json:"snapshot"`
}

// ErrorResponse is the body of every failed API call
type ErrorResponse struct {
	Error  string `json:"error"`
	Step   string `json:"step,omitempty"`
	TxHash string `json:"tx_hash,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// handleSnapshot handles GET /v1/stake
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.controller.Snapshot())
}

// handleConnect handles POST /v1/stake/connect
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	account, err := s.controller.Connect(r.Context())
	if err != nil {
		s.writeActionError(w, "connect", err)
		return
	}
	s.writeJSON(w, http.StatusOK, ConnectResponse{Account: account, Snapshot: s.controller.Snapshot()})
}

// handleDisconnect handles POST /v1/stake/disconnect
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.controller.Disconnect()
	s.writeJSON(w, http.StatusOK, ActionResponse{Snapshot: s.controller.Snapshot()})
}

// handleStake handles POST /v1/stake/stake
func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	var req StakeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	hash, err := s.controller.StakeAmount(r.Context(), req.Amount)
	s.writeActionResult(w, "stake", hash, err)
}

// handleWithdraw handles POST /v1/stake/withdraw
func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	hash, err := s.controller.Withdraw(r.Context())
	s.writeActionResult(w, "withdraw", hash, err)
}

// handleClaim handles POST /v1/stake/claim
func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	hash, err := s.controller.ClaimRewards(r.Context())
	s.writeActionResult(w, "claim", hash, err)
}

func (s *Server) writeActionResult(w http.ResponseWriter, op string, hash common.Hash, err error) {
	if err != nil {
		s.writeActionError(w, op, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ActionResponse{TxHash: hash.Hex(), Snapshot: s.controller.Snapshot()})
}

func (s *Server) writeActionError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: err.Error()}

	var txErr *stake.TxError
	if errors.As(err, &txErr) {
		resp.Step = txErr.Step
		resp.Reason = txErr.Reason
		if txErr.TxHash != (common.Hash{}) {
			resp.TxHash = txErr.TxHash.Hex()
		}
	}

	logging.Debug("stake API call failed",
		"operation", op,
		"status", status,
		logging.Err(err),
		logging.Component("web"))
	s.writeJSON(w, status, resp)
}

// statusFor maps controller errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, stake.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, stake.ErrWalletAuthorization):
		return http.StatusUnauthorized
	case errors.Is(err, stake.ErrBusy), errors.Is(err, stake.ErrNotConnected):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes an error response
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}
