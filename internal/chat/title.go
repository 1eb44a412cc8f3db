package chat

import (
	"context"
	"strings"

	"github.com/glimchat/glim/internal/session"
)

const titlePrompt = "Write a short title for this conversation, at most " +
	"six words, in the language of the conversation. Reply with the title " +
	"only, no quotes or punctuation around it."

const maxTitleRunes = 80

// generateTitle names an untitled conversation from its first exchange.
// Best effort: a failed generation leaves the conversation untitled.
func (o *Orchestrator) generateTitle(ctx context.Context, conv *session.Conversation, userText, answer string) {
	var b strings.Builder
	b.WriteString("User: ")
	b.WriteString(userText)
	if answer != "" {
		b.WriteString("\nAssistant: ")
		b.WriteString(answer)
	}

	title, err := o.generateText(ctx, titlePrompt, b.String())
	if err != nil {
		o.logger.Warn("title generation failed", "conversation", conv.ID, "error", err)
		return
	}
	title = cleanTitle(title)
	if title == "" {
		return
	}
	if err := o.store.UpdateTitle(ctx, conv.ID, title); err != nil {
		o.logger.Error("storing title failed", "conversation", conv.ID, "error", err)
		return
	}
	conv.Title = title
}

// cleanTitle strips quoting and newlines the model sometimes adds anyway.
func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, `"'« »`)
	s = strings.TrimSuffix(s, ".")
	r := []rune(s)
	if len(r) > maxTitleRunes {
		s = string(r[:maxTitleRunes])
	}
	return strings.TrimSpace(s)
}
