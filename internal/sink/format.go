package sink

import (
	"fmt"
	"strings"

	"inboxwatch/internal/model"
)

// Section headers inserted lazily into the daily log, one per source kind.
const (
	SectionEmail = "## 📧 Email Updates"
	SectionChat  = "## 💬 Slack Unreads"
)

const (
	previewLimit = 300
	dailyLimit   = 200
)

// FormatTaskEntry renders a watch match as a pending-task inbox entry.
func FormatTaskEntry(res model.MatchResult, dt string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## [ ] 📧 %s — %s\n", res.Message.From, dt)
	fmt.Fprintf(&b, "**Watch**: %s\n", res.Watch.Title)
	if res.Watch.TaskRef != "" {
		fmt.Fprintf(&b, "**Linked task**: %s (%s)\n", res.Watch.TaskRef, res.Watch.Action)
	}
	fmt.Fprintf(&b, "**Subject**: %s\n", res.Message.Subject)
	fmt.Fprintf(&b, "**Preview**: %s\n", truncate(res.Message.BodyPreview, previewLimit))
	b.WriteString(Tag(res.Message.ID))
	b.WriteString("\n\n")
	return b.String()
}

// FormatChatTaskEntry renders a classifier hit as a pending-task inbox entry.
func FormatChatTaskEntry(m model.IncomingMessage, dt string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## [ ] %s via %s — %s\n", m.From, m.Channel, dt)
	b.WriteString(truncate(m.BodyPreview, previewLimit))
	b.WriteString("\n")
	b.WriteString(Tag(m.ID))
	b.WriteString("\n\n")
	return b.String()
}

// FormatDailyMatch renders a watch match as a daily log line group.
func FormatDailyMatch(res model.MatchResult, dt string) string {
	taskRef := ""
	if res.Watch.TaskRef != "" {
		taskRef = " → " + res.Watch.TaskRef
	}
	var b strings.Builder
	fmt.Fprintf(&b, "- 📧 **%s**%s [%s] **%s**: %s\n",
		res.Watch.Title, taskRef, dt, res.Message.From, res.Message.Subject)
	fmt.Fprintf(&b, "  _%s_ %s\n", truncate(res.Message.BodyPreview, dailyLimit), Tag(res.Message.ID))
	return b.String()
}

// FormatDailyChat renders one chat message as a daily log line.
func FormatDailyChat(m model.IncomingMessage) string {
	flag := ""
	if m.Mention {
		flag = " 🔔"
	}
	return fmt.Sprintf("- **%s**%s [%s] **%s**: %s %s\n",
		m.Channel, flag, m.ReceivedAt.Format("15:04"), m.From,
		truncate(m.BodyPreview, previewLimit), Tag(m.ID))
}

// truncate flattens newlines and caps the text at limit runes, never
// splitting a multibyte rune.
func truncate(s string, limit int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
