package tools

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/vocalmail/vocalmail/internal/model"
)

const previewChars = 200

// formatMessages renders stored messages as a numbered plain-text list the
// reasoning model can read back to the user.
func formatMessages(msgs []*model.Message) string {
	if len(msgs) == 0 {
		return "No emails found."
	}
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%d. From: %s\n", i+1, formatSender(m.FromName, m.FromEmail))
		fmt.Fprintf(&b, "   Subject: %s\n", orUntitled(m.Subject))
		fmt.Fprintf(&b, "   Date: %s\n", m.ReceivedAt.Format("Mon, 2 Jan 2006 15:04"))
		fmt.Fprintf(&b, "   Preview: %s", previewText(m.BodyText, m.Snippet))
	}
	return b.String()
}

// formatHits renders search hits in the same shape, including the match score.
func formatHits(hits []model.SearchHit) string {
	if len(hits) == 0 {
		return "No emails found."
	}
	var b strings.Builder
	for i, h := range hits {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%d. From: %s\n", i+1, formatSender(h.FromName, h.FromEmail))
		fmt.Fprintf(&b, "   Subject: %s\n", orUntitled(h.Subject))
		fmt.Fprintf(&b, "   Date: %s\n", h.ReceivedAt.Format("Mon, 2 Jan 2006 15:04"))
		fmt.Fprintf(&b, "   Preview: %s", previewText(h.Snippet, ""))
	}
	return b.String()
}

func formatSender(name, email string) string {
	switch {
	case name != "" && email != "":
		return fmt.Sprintf("%s <%s>", name, email)
	case email != "":
		return email
	case name != "":
		return name
	default:
		return "unknown sender"
	}
}

func orUntitled(subject string) string {
	if strings.TrimSpace(subject) == "" {
		return "(no subject)"
	}
	return subject
}

func previewText(body, snippet string) string {
	text := snippet
	if text == "" {
		text = body
	}
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > previewChars {
		// Back off to a rune boundary so the cut never leaves invalid UTF-8.
		n := previewChars
		for n > 0 && !utf8.RuneStart(text[n]) {
			n--
		}
		text = text[:n]
	}
	if text == "" {
		return "(empty)"
	}
	return text
}
