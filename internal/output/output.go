// Package output provides styled terminal output helpers (success, error,
// warning, record and sync status formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	// Styles
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	keyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	statusStyles = map[string]lipgloss.Style{
		"synced":  lipgloss.NewStyle().Foreground(lipgloss.Color("242")),
		"created": lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		"updated": lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		"deleted": lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// Success prints a success message
func Success(format string, args ...interface{}) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...interface{}) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...interface{}) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...interface{}) {
	fmt.Println(fmt.Sprintf(format, args...))
}

// JSON outputs data as JSON
func JSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// Error codes for structured JSON output
const (
	ErrCodeNotFound        = "not_found"
	ErrCodeInvalidInput    = "invalid_input"
	ErrCodeConflict        = "conflict"
	ErrCodeUnauthorized    = "unauthorized"
	ErrCodeUnavailable     = "unavailable"
	ErrCodeNotLoggedIn     = "not_logged_in"
	ErrCodeServerRejection = "server_error"
)

// JSONError outputs an error as JSON
func JSONError(code, message string) {
	JSONErrorWithDetails(code, message, nil)
}

// JSONErrorWithDetails outputs an error as JSON with additional context
func JSONErrorWithDetails(code, message string, details map[string]interface{}) {
	errObj := map[string]interface{}{
		"code":    code,
		"message": message,
	}
	if len(details) > 0 {
		errObj["details"] = details
	}
	result := map[string]interface{}{
		"error": errObj,
	}
	data, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(data))
}

// StatusBadge returns a colored replica status marker. Settled rows
// render as a plain dot.
func StatusBadge(status string) string {
	symbol := map[string]string{
		"synced":  "·",
		"created": "+",
		"updated": "~",
		"deleted": "-",
	}[status]
	if symbol == "" {
		return fmt.Sprintf("[%s]", status)
	}
	if style, ok := statusStyles[status]; ok {
		return style.Render(symbol)
	}
	return symbol
}

// FormatStatus formats a replica status with color
func FormatStatus(status string) string {
	if style, ok := statusStyles[status]; ok {
		return style.Render(status)
	}
	return status
}

// RecordLabel picks the human-facing field of a row, falling back to the id.
func RecordLabel(row map[string]any) string {
	for _, k := range []string{"name", "session_date", "location", "player_id"} {
		if s, ok := row[k].(string); ok && s != "" {
			return s
		}
	}
	id, _ := row["id"].(string)
	return id
}

// FormatRecordShort renders a one-line record summary:
// "<badge> <id> <label>".
func FormatRecordShort(row map[string]any, status string) string {
	id, _ := row["id"].(string)
	label := RecordLabel(row)
	if label == id {
		label = ""
	}
	line := fmt.Sprintf("%s %s", StatusBadge(status), subtleStyle.Render(id))
	if label != "" {
		line += " " + titleStyle.Render(label)
	}
	return line
}

// FormatRecordLong renders every column, sorted, one per line.
func FormatRecordLong(table string, row map[string]any, status string, changed []string) string {
	var sb strings.Builder
	id, _ := row["id"].(string)
	sb.WriteString(titleStyle.Render(fmt.Sprintf("%s/%s", table, id)))
	sb.WriteString("  ")
	sb.WriteString(FormatStatus(status))
	sb.WriteString("\n")

	keys := make([]string, 0, len(row))
	width := 0
	for k := range row {
		if k == "id" {
			continue
		}
		keys = append(keys, k)
		if len(k) > width {
			width = len(k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "  %s %s\n", keyStyle.Render(fmt.Sprintf("%-*s", width, k+":")), FormatValue(row[k]))
	}
	if len(changed) > 0 {
		fmt.Fprintf(&sb, "  %s\n", subtleStyle.Render("unsynced: "+strings.Join(changed, ", ")))
	}
	return sb.String()
}

// FormatValue renders a column value; nil prints as "-".
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "-"
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	case bool:
		if x {
			return "yes"
		}
		return "no"
	default:
		return fmt.Sprint(x)
	}
}

// FormatCursor renders a pull cursor (epoch ms) with its age.
func FormatCursor(ms int64, ok bool) string {
	if !ok {
		return subtleStyle.Render("never synced")
	}
	t := time.UnixMilli(ms)
	return fmt.Sprintf("%s (%s)", t.UTC().Format(time.RFC3339), FormatTimeAgo(t))
}

// FormatTimeAgo formats a time as a human-readable "ago" string
func FormatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1m ago"
		}
		return fmt.Sprintf("%dm ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1h ago"
		}
		return fmt.Sprintf("%dh ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	default:
		return t.Format("2006-01-02")
	}
}

// SectionHeader returns a formatted section header for CLI output
// e.g., "\nGAMES:\n"
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}
