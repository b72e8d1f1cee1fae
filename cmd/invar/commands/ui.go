package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/huh/spinner"
	"github.com/charmbracelet/lipgloss"

	"github.com/invar/vault/internal/stake"
)

// row is one labelled line of a stake page section.
type row struct {
	label string
	value string
}

// section renders a titled block of rows: a rounded box on a terminal,
// an underlined list otherwise.
func section(title string, rows ...row) string {
	if !isTTY() {
		var sb strings.Builder
		fmt.Fprintf(&sb, "%s\n%s\n", title, strings.Repeat("=", len(title)))
		for _, r := range rows {
			fmt.Fprintf(&sb, "%-20s %s\n", r.label+":", r.value)
		}
		return sb.String()
	}

	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, StyleHeader.Render(title))
	for _, r := range rows {
		lines = append(lines, StyleLabel.Render(r.label)+StyleValue.Render(r.value))
	}
	return StyleBox.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func heading(title string) string {
	if !isTTY() {
		return title + "\n" + strings.Repeat("-", len(title))
	}
	return StyleSubheader.Render(title)
}

// noticeTags prefix notices when colors are unavailable.
var noticeTags = map[stake.NoticeLevel]string{
	stake.NoticeInfo:    "[INFO]",
	stake.NoticeSuccess: "[OK]",
	stake.NoticeWarning: "[WARN]",
	stake.NoticeError:   "[ERROR]",
}

func noticeStyle(level stake.NoticeLevel) lipgloss.Style {
	switch level {
	case stake.NoticeSuccess:
		return StyleSuccess
	case stake.NoticeWarning:
		return StyleWarning
	case stake.NoticeError:
		return StyleError
	default:
		return StyleInfo
	}
}

// formatNotice renders a notice on one line. Notices recorded by the
// controller carry their time; CLI messages do not.
func formatNotice(n stake.Notice) string {
	msg := n.Message
	if !n.Time.IsZero() {
		msg = n.Time.Local().Format("15:04:05") + " " + msg
	}
	if !isTTY() {
		return strings.TrimSpace(noticeTags[n.Level] + " " + msg)
	}
	return noticeStyle(n.Level).Render("  " + msg)
}

// say prints msg to w at the given notice level.
func say(w io.Writer, level stake.NoticeLevel, msg string) {
	fmt.Fprintln(w, formatNotice(stake.Notice{Level: level, Message: msg}))
}

// hint renders a dim follow-up suggestion.
func hint(msg string) string {
	if !isTTY() {
		return "  " + msg
	}
	return "  " + StyleDim.Render(msg)
}

// withSpinner runs fn behind a spinner titled title. Without a terminal the
// title is printed to w instead.
func withSpinner(w io.Writer, title string, fn func() error) error {
	if !isTTY() {
		fmt.Fprintf(w, "%s...\n", title)
		return fn()
	}

	var fnErr error
	if err := spinner.New().Title(title).Action(func() { fnErr = fn() }).Run(); err != nil {
		return err
	}
	return fnErr
}
