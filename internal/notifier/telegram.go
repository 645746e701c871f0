package notifier

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"feedwatch/internal/feed"
	kit "feedwatch/internal/transport"
)

// ChatSender sends items as chat messages through a transport adapter.
// Recipient ids are numeric chat ids.
type ChatSender struct {
	adapter kit.Adapter
}

func NewChatSender(adapter kit.Adapter) *ChatSender {
	return &ChatSender{adapter: adapter}
}

func (s *ChatSender) Send(ctx context.Context, recipientID string, item feed.Item) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(recipientID), 10, 64)
	if err != nil {
		return fmt.Errorf("recipient %q: %w", recipientID, err)
	}
	_, err = s.adapter.SendText(ctx, kit.ChatTarget{ChatID: chatID}, FormatItem(item), &kit.SendOptions{
		ParseMode: "Markdown",
	})
	return err
}

// FormatItem renders the notification for a single new item.
func FormatItem(it feed.Item) string {
	var b strings.Builder
	b.WriteString("🔥 *Новая новость!*")
	if it.DisplayDate != "" {
		b.WriteString(" (")
		b.WriteString(EscapeMarkdown(it.DisplayDate))
		b.WriteString(")")
	}
	b.WriteString("\n\n")
	b.WriteString(Link(it))
	return b.String()
}

// FormatList renders items as a bullet list, or empty when there are none.
func FormatList(header string, items []feed.Item) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n\n")
	for _, it := range items {
		b.WriteString("• ")
		b.WriteString(Link(it))
		if it.DisplayDate != "" {
			b.WriteString(" (")
			b.WriteString(EscapeMarkdown(it.DisplayDate))
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func Link(it feed.Item) string {
	title := strings.TrimSpace(it.Title)
	if title == "" {
		title = it.ID
	}
	return "[" + escapeLinkText(title) + "](" + strings.ReplaceAll(it.ID, ")", "%29") + ")"
}

var mdReplacer = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

// EscapeMarkdown escapes the characters legacy Telegram Markdown treats as
// entity markers.
func EscapeMarkdown(s string) string { return mdReplacer.Replace(s) }

var linkTextReplacer = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[", "]", "")

func escapeLinkText(s string) string { return linkTextReplacer.Replace(s) }
