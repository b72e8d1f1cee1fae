package web

import (
	"bytes"
	"context"
	"embed"
	"html/template"
	"net/http"
	"time"

	"github.com/invar/vault/internal/logging"
	"github.com/invar/vault/internal/navigator"
	"github.com/invar/vault/internal/stake"
)

//go:embed templates/*.html
var templateFS embed.FS

// LoadingText is shown for values that are still being read.
const LoadingText = "Loading..."

const claimableTimeLayout = "Mon Jan 02 2006 15:04:05 MST"

var pageFuncs = template.FuncMap{
	"field":     amountText,
	"timeField": timeText,
}

var pages = map[string]*template.Template{
	"landing": parsePage("landing.html"),
	"mint":    parsePage("mint.html"),
	"stake":   parsePage("stake.html"),
}

func parsePage(name string) *template.Template {
	return template.Must(template.New(name).Funcs(pageFuncs).ParseFS(templateFS, "templates/layout.html", "templates/"+name))
}

func amountText(f stake.Field[stake.AmountView]) string {
	switch f.State {
	case stake.FieldReady:
		return f.Value.Display
	case stake.FieldUnavailable:
		return "Unavailable"
	default:
		return LoadingText
	}
}

func timeText(f stake.Field[time.Time]) string {
	switch f.State {
	case stake.FieldReady:
		return f.Value.Local().Format(claimableTimeLayout)
	case stake.FieldUnavailable:
		return "Unavailable"
	default:
		return LoadingText
	}
}

type landingPage struct {
	Title   string
	Refresh bool
	Choices []navigator.Choice
}

type stakePage struct {
	Title    string
	Refresh  bool
	Snap     stake.Snapshot
	Symbol   string
	CanWrite bool
}

// render executes a page into a buffer first so template errors still
// produce a clean 500.
func (s *Server) render(w http.ResponseWriter, name string, data any) {
	var buf bytes.Buffer
	if err := pages[name].ExecuteTemplate(&buf, "layout", data); err != nil {
		logging.Error("failed to render page", "page", name, logging.Err(err), logging.Component("web"))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// handleLanding handles GET /
func (s *Server) handleLanding(w http.ResponseWriter, r *http.Request) {
	s.render(w, "landing", landingPage{
		Title:   "InVar Test Website",
		Choices: navigator.Choices(),
	})
}

// handleMint handles GET /mint
func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	if s.config.MintURL != "" {
		http.Redirect(w, r, s.config.MintURL, http.StatusFound)
		return
	}
	s.render(w, "mint", landingPage{Title: "Mint a new NFT"})
}

// handleStakePage handles GET /stake
func (s *Server) handleStakePage(w http.ResponseWriter, r *http.Request) {
	snap := s.controller.Snapshot()
	s.render(w, "stake", stakePage{
		Title:    "InVar USDC Vault",
		Refresh:  snap.Phase == stake.PhaseLoading || snap.Phase == stake.PhaseSubmitting,
		Snap:     snap,
		Symbol:   snap.TokenSymbol(""),
		CanWrite: snap.Phase == stake.PhaseReady,
	})
}

func redirectToStake(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, navigator.RouteStake, http.StatusSeeOther)
}

// handleFormConnect handles POST /stake/connect
func (s *Server) handleFormConnect(w http.ResponseWriter, r *http.Request) {
	s.background("web-connect", func(ctx context.Context) {
		s.controller.Connect(ctx)
	})
	redirectToStake(w, r)
}

// handleFormDisconnect handles POST /stake/disconnect
func (s *Server) handleFormDisconnect(w http.ResponseWriter, r *http.Request) {
	s.controller.Disconnect()
	redirectToStake(w, r)
}

// handleFormDeposit handles POST /stake/deposit
func (s *Server) handleFormDeposit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	s.controller.SetDeposit(r.PostForm.Get("amount"))
	s.background("web-stake", func(ctx context.Context) {
		s.controller.Stake(ctx)
	})
	redirectToStake(w, r)
}

// handleFormWithdraw handles POST /stake/withdraw
func (s *Server) handleFormWithdraw(w http.ResponseWriter, r *http.Request) {
	s.background("web-withdraw", func(ctx context.Context) {
		s.controller.Withdraw(ctx)
	})
	redirectToStake(w, r)
}

// handleFormClaim handles POST /stake/claim
func (s *Server) handleFormClaim(w http.ResponseWriter, r *http.Request) {
	s.background("web-claim", func(ctx context.Context) {
		s.controller.ClaimRewards(ctx)
	})
	redirectToStake(w, r)
}
