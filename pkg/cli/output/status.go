package output

import "fmt"

// StatusIcon 构建状态图标
func StatusIcon(status string) string {
	switch status {
	case "DONE", "BUILD_COMPLETED_SUCCESS":
		return "✅"
	case "DONE_WITH_ERRORS", "BUILD_COMPLETED_WITH_ERROR", "SYSTEM_ERROR":
		return "❌"
	case "REJECTED":
		return "🚫"
	case "CANCELLED":
		return "🛑"
	case "BUILDING", "STORING_RESULTS":
		return "🔄"
	case "ENQUEUED":
		return "📥"
	case "NEW", "WAITING_FOR_DEPENDENCIES":
		return "⏳"
	default:
		return "❓"
	}
}

// FormatStatus 带图标的状态
func FormatStatus(status string) string {
	return fmt.Sprintf("%s %s", StatusIcon(status), status)
}

// ProgressBar 文本进度条
func ProgressBar(percent, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := percent * width / 100
	bar := make([]rune, width)
	for i := range bar {
		if i < filled {
			bar[i] = '█'
		} else {
			bar[i] = '░'
		}
	}
	return fmt.Sprintf("[%s] %3d%%", string(bar), percent)
}
