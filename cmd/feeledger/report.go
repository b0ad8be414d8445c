// cmd/feeledger/report.go
package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/solaudit/feeledger/internal/ledger"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")).
			Padding(0, 1).Border(lipgloss.RoundedBorder())
	keyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Width(16)
	validStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	invalidStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
)

// renderReport builds the human-readable audit report for a verified ledger.
func renderReport(path string, book *ledger.Ledger, result ledger.Result) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Ledger Audit Report"))
	b.WriteString("\n\n")

	row := func(key, value string) {
		b.WriteString(keyStyle.Render(key))
		b.WriteString(value)
		b.WriteString("\n")
	}

	row("File", path)
	row("Mint", book.Mint)
	row("Bonding curve", book.BondingCurve)
	row("Creator", book.Creator)
	row("Entries", fmt.Sprintf("%d", book.EntryCount))
	row("Total fees", fmt.Sprintf("%d", book.TotalFees))
	row("Total claimed", fmt.Sprintf("%d", book.TotalClaimed))
	row("Migrated", fmt.Sprintf("%t", book.Migrated))
	row("Latest hash", book.LatestHash)
	row("Updated", book.UpdatedAt.UTC().Format(time.RFC3339))

	b.WriteString("\n")
	if result.Valid {
		b.WriteString(validStyle.Render("✔ chain intact: sequence, linkage, and commitments all verify"))
	} else {
		b.WriteString(invalidStyle.Render(fmt.Sprintf("✘ %s", result)))
	}

	return b.String()
}
