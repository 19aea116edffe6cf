package cmd

import (
	"strings"

	"github.com/fatih/color"
)

var (
	colorSuccess = color.New(color.FgGreen).SprintFunc()
	colorInfo    = color.New(color.FgCyan).SprintFunc()
	colorWarn    = color.New(color.FgYellow).SprintFunc()
	colorError   = color.New(color.FgRed).SprintFunc()
)

// formatStatusWithColor colors a checkup or check status for terminal
// output. Statuses outside the lifecycle print uncolored.
func formatStatusWithColor(status string) string {
	switch strings.ToLower(status) {
	case "ok", "completed":
		return colorSuccess(status)
	case "created", "running":
		return colorWarn(status)
	case "failed", "error":
		return colorError(status)
	default:
		return status
	}
}
