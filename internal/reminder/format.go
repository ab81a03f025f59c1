package reminder

import (
	"fmt"
	"strings"
)

const (
	glyphDelivered = "✅"
	glyphPending   = "⏳"
)

func FormatReminder(e Event) string {
	return fmt.Sprintf("⏰ Reminder: %s %s", e.DisplayTime, e.Content)
}

func FormatCreated(e Event) string {
	return fmt.Sprintf("Event added: %s %s", e.DisplayTime, e.Content)
}

func FormatScreenshot(intervalMinutes int) string {
	return fmt.Sprintf("[system] Scheduled screenshot taken (every %d min), saved locally.", intervalMinutes)
}

// FormatEventList renders one line per event in the given order.
func FormatEventList(events []Event) string {
	if len(events) == 0 {
		return "No events yet."
	}
	var b strings.Builder
	b.WriteString("Current events:")
	for _, e := range events {
		glyph := glyphPending
		if e.Delivered {
			glyph = glyphDelivered
		}
		fmt.Fprintf(&b, "\n%s %s - %s", glyph, e.DisplayTime, e.Content)
	}
	return b.String()
}
