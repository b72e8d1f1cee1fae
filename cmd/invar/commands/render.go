package commands

import (
	"strings"
	"time"

	"github.com/invar/vault/internal/stake"
)

const loadingText = "Loading..."

func amountText(f stake.Field[stake.AmountView], symbol string) string {
	switch f.State {
	case stake.FieldReady:
		return strings.TrimSpace(f.Value.Display + " " + symbol)
	case stake.FieldUnavailable:
		return "unavailable (" + f.Error + ")"
	default:
		return loadingText
	}
}

func timeText(f stake.Field[time.Time]) string {
	switch f.State {
	case stake.FieldReady:
		return f.Value.Local().Format(time.RFC1123)
	case stake.FieldUnavailable:
		return "unavailable (" + f.Error + ")"
	default:
		return loadingText
	}
}

// renderSnapshot renders the stake page: vault totals, the account's tokens
// and recent notices.
func renderSnapshot(snap stake.Snapshot) string {
	status := row{"Status", PhaseBadge(string(snap.Phase))}
	if !snap.Connected {
		return section("InVar USDC Vault", status)
	}

	symbol := snap.TokenSymbol("")
	parts := []string{
		section("InVar USDC Vault",
			status,
			row{"Account", snap.Account.Hex()},
			row{"TVL", amountText(snap.Tokens.TotalValueLocked, symbol)},
			row{"MultiSig", amountText(snap.Tokens.MultisigBalance, symbol)},
		),
		section("Your Tokens",
			row{"Claimable Time", timeText(snap.ClaimableAt)},
			row{"Claimable Rewards", amountText(snap.Rewards, symbol)},
			row{"Current Balance", amountText(snap.Tokens.UserBalance, symbol)},
			row{"Staking Amount", strings.TrimSpace(snap.Deposit + " " + symbol)},
		),
	}
	if len(snap.Notices) > 0 {
		parts = append(parts, renderNotices(snap.Notices))
	}
	return strings.Join(parts, "\n")
}

func renderNotices(notices []stake.Notice) string {
	lines := make([]string, 0, len(notices)+1)
	lines = append(lines, heading("Notices"))
	for _, n := range notices {
		lines = append(lines, formatNotice(n))
	}
	return strings.Join(lines, "\n")
}
