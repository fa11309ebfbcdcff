// ABOUTME: Terminal styling shared by CLI commands
// ABOUTME: Colors confidence buckets and statuses only when stdout is a terminal
package cli

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/harperreed/cosell/models"
)

var isTTY = term.IsTerminal(int(os.Stdout.Fd()))

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

func render(style lipgloss.Style, s string) string {
	if !isTTY {
		return s
	}
	return style.Render(s)
}

func bucketStyle(bucket string) lipgloss.Style {
	switch bucket {
	case models.BucketHigh:
		return okStyle
	case models.BucketMedium:
		return warnStyle
	default:
		return dimStyle
	}
}

func statusStyle(status string) lipgloss.Style {
	switch status {
	case models.StatusConfirmed, models.StatusSynced:
		return okStyle
	case models.StatusReview:
		return warnStyle
	case models.StatusRejected:
		return errStyle
	default:
		return lipgloss.NewStyle()
	}
}

func scanStatusStyle(status string) lipgloss.Style {
	switch status {
	case models.ScanCompleted:
		return okStyle
	case models.ScanCancelled:
		return warnStyle
	default:
		return errStyle
	}
}

// truncate shortens s to n runes with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
