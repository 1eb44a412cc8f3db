package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

// Action is a model-assisted transform applied to artifact content.
type Action string

const (
	ActionPolish    Action = "polish"
	ActionTranslate Action = "translate"
	ActionSummarize Action = "summarize"
	ActionContinue  Action = "continue"
	ActionTone      Action = "tone"
)

// ErrUnknownAction is returned for actions the editor does not support.
var ErrUnknownAction = errors.New("unknown transform action")

// ErrEmptyResult is returned when the model produced no usable text.
var ErrEmptyResult = errors.New("transform produced no content")

// TextGenerator is the one-shot model call the editor needs.
type TextGenerator interface {
	Generate(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Editor applies transforms to stored artifacts. Each successful transform
// saves a new version.
type Editor struct {
	store  *Store
	gen    TextGenerator
	model  string
	logger *slog.Logger
}

// NewEditor creates an Editor.
func NewEditor(store *Store, gen TextGenerator, model string, logger *slog.Logger) *Editor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Editor{store: store, gen: gen, model: model, logger: logger}
}

// instruction builds the system instruction for an action. The argument
// carries the target language for translate and the desired tone for tone.
func instruction(action Action, argument string) (string, error) {
	switch action {
	case ActionPolish:
		return "Polish the following text. Fix grammar, wording and flow " +
			"without changing its meaning or format. Reply with the revised " +
			"text only.", nil
	case ActionTranslate:
		lang := argument
		if lang == "" {
			lang = "English"
		}
		return fmt.Sprintf("Translate the following text into %s, preserving "+
			"formatting. Reply with the translation only.", lang), nil
	case ActionSummarize:
		return "Summarize the following text concisely, keeping its key " +
			"points. Reply with the summary only.", nil
	case ActionContinue:
		return "Continue the following text in the same style and voice. " +
			"Reply with the continuation only, without repeating the " +
			"original.", nil
	case ActionTone:
		tone := argument
		if tone == "" {
			tone = "neutral"
		}
		return fmt.Sprintf("Rewrite the following text in a %s tone, keeping "+
			"its meaning and format. Reply with the rewritten text only.", tone), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, action)
}

// Transform runs one action against an artifact's content and returns the
// resulting text without persisting it.
func (e *Editor) Transform(ctx context.Context, a *Artifact, action Action, argument string) (string, error) {
	system, err := instruction(action, argument)
	if err != nil {
		return "", err
	}

	resp, err := e.gen.Generate(ctx, e.model,
		[]*genai.Content{{Role: genai.RoleUser, Parts: []*genai.Part{{Text: a.Content}}}},
		&genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: system}}},
		})
	if err != nil {
		return "", fmt.Errorf("transform %s: %w", action, err)
	}

	text := responseText(resp)
	if text == "" {
		return "", ErrEmptyResult
	}
	if action == ActionContinue {
		text = a.Content + "\n\n" + text
	}
	return text, nil
}

// Apply runs a transform and saves the result as the artifact's next
// version.
func (e *Editor) Apply(ctx context.Context, id uuid.UUID, action Action, argument string) (*Artifact, error) {
	a, err := e.store.ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	text, err := e.Transform(ctx, a, action, argument)
	if err != nil {
		return nil, err
	}
	a.Content = text
	saved, err := e.store.Save(ctx, a)
	if err != nil {
		return nil, err
	}
	e.logger.Info("applied transform",
		"artifact", saved.ID, "action", action, "version", saved.Version)
	return saved, nil
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
