package console

import (
	"fmt"

	"github.com/fatih/color"

	"github.com/wentf9/sftpq/pkg/models"
)

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()
)

// statusText 按状态着色
func statusText(s models.JobStatus) string {
	switch s {
	case models.StatusCompleted:
		return green(string(s))
	case models.StatusFailed:
		return red(string(s))
	case models.StatusCancelled:
		return yellow(string(s))
	case models.StatusQueued:
		return faint(string(s))
	default:
		return cyan(string(s))
	}
}
