package chat

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/glimchat/glim/internal/session"
)

// TokenBudget controls when history compaction kicks in.
type TokenBudget struct {
	// MaxHistoryTokens triggers compaction once uncompacted history
	// exceeds it.
	MaxHistoryTokens int
	// KeepRecent is how many trailing messages stay out of the summary.
	KeepRecent int
}

// DefaultTokenBudget returns the compaction defaults.
func DefaultTokenBudget() TokenBudget {
	return TokenBudget{MaxHistoryTokens: 24000, KeepRecent: 6}
}

const compactPrompt = "Summarize the following conversation concisely. " +
	"Preserve names, decisions, facts and open questions so the " +
	"conversation can continue from the summary alone."

// estimateTokens approximates token count from rune count. The model
// tokenizer averages roughly two characters per token on mixed text, which
// is close enough for a compaction trigger.
func estimateTokens(text string) int {
	n := len([]rune(text)) / 2
	if n == 0 && text != "" {
		n = 1
	}
	return n
}

// maybeCompact folds older history into the conversation summary when the
// uncompacted tail grows past the token budget. Failures are logged and
// skipped; compaction retries on a later turn.
func (o *Orchestrator) maybeCompact(ctx context.Context, conv *session.Conversation) {
	msgs, err := o.store.MessagesAfter(ctx, conv.ID, conv.SummaryUpto)
	if err != nil {
		o.logger.Error("loading history for compaction failed", "conversation", conv.ID, "error", err)
		return
	}
	if len(msgs) <= o.tokenBudget.KeepRecent {
		return
	}

	total := 0
	for _, m := range msgs {
		total += estimateTokens(m.Text())
	}
	if total <= o.tokenBudget.MaxHistoryTokens {
		return
	}

	fold := msgs[:len(msgs)-o.tokenBudget.KeepRecent]
	upto := fold[len(fold)-1].SequenceNumber

	var transcript strings.Builder
	if conv.Summary != "" {
		transcript.WriteString("Earlier summary:\n")
		transcript.WriteString(conv.Summary)
		transcript.WriteString("\n\n")
	}
	for _, m := range fold {
		text := m.Text()
		if text == "" {
			continue
		}
		fmt.Fprintf(&transcript, "%s: %s\n", m.Role, text)
	}

	summary, err := o.generateText(ctx, compactPrompt, transcript.String())
	if err != nil {
		o.logger.Error("summary compaction failed", "conversation", conv.ID, "error", err)
		return
	}
	if err := o.store.UpdateSummary(ctx, conv.ID, summary, upto); err != nil {
		o.logger.Error("storing summary failed", "conversation", conv.ID, "error", err)
		return
	}
	conv.Summary = summary
	conv.SummaryUpto = upto
	o.logger.Info("history compacted", "conversation", conv.ID, "upto", upto, "folded", len(fold))
}

// generateText runs a one-shot background generation with retry and returns
// the response text.
func (o *Orchestrator) generateText(ctx context.Context, instruction, input string) (string, error) {
	contents := []*genai.Content{{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{{Text: input}},
	}}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: instruction}}},
	}

	var resp *genai.GenerateContentResponse
	err := withRetry(ctx, o.retry, func() error {
		var genErr error
		resp, genErr = o.gen.Generate(ctx, o.defaultModel, contents, cfg)
		return genErr
	})
	if err != nil {
		return "", err
	}
	text := responseText(resp)
	if text == "" {
		return "", ErrNoResponse
	}
	return text, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, p := range cand.Content.Parts {
			if p != nil && !p.Thought {
				b.WriteString(p.Text)
			}
		}
	}
	return strings.TrimSpace(b.String())
}
