package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	colorPrimary = lipgloss.Color("#16A34A") // green-600
	colorMuted   = lipgloss.Color("#6B7280") // gray-500
	colorError   = lipgloss.Color("#EF4444") // red
	colorWarning = lipgloss.Color("#F59E0B") // amber

	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	borderStyle  = lipgloss.NewStyle().Foreground(colorMuted)
	labelStyle   = lipgloss.NewStyle().Bold(true).Width(14)
	successStyle = lipgloss.NewStyle().Foreground(colorPrimary)
	errorStyle   = lipgloss.NewStyle().Foreground(colorError)
	warningStyle = lipgloss.NewStyle().Foreground(colorWarning)
)

// renderTable writes rows under a styled header.
func renderTable(w io.Writer, headers []string, rows [][]string) error {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...)
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

// printFields writes aligned "label value" lines.
func printFields(w io.Writer, fields [][2]string) {
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		_, _ = fmt.Fprintln(w, labelStyle.Render(f[0])+f[1])
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func statusText(status string) string {
	switch status {
	case "completed", "active":
		return successStyle.Render(status)
	case "failed", "cancelled":
		return errorStyle.Render(status)
	case "processing", "past_due":
		return warningStyle.Render(status)
	}
	return status
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
