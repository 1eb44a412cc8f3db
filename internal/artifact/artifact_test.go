package artifact

import (
	"context"
	"errors"
	"strings"
	"testing"

	"google.golang.org/genai"
)

func TestValidateFilename(t *testing.T) {
	valid := []string{"notes.md", "main.go", "plan", "a b.txt"}
	for _, name := range valid {
		if err := ValidateFilename(name); err != nil {
			t.Errorf("ValidateFilename(%q) = %v", name, err)
		}
	}

	invalid := []string{
		"",
		"../etc/passwd",
		"dir/file.txt",
		`dir\file.txt`,
		"trailing ",
		" leading",
		strings.Repeat("x", 200),
	}
	for _, name := range invalid {
		if err := ValidateFilename(name); !errors.Is(err, ErrInvalidFilename) {
			t.Errorf("ValidateFilename(%q) = %v, want ErrInvalidFilename", name, err)
		}
	}
}

func TestTypeValid(t *testing.T) {
	for _, typ := range []Type{TypeText, TypeMarkdown, TypeCode} {
		if !typ.Valid() {
			t.Errorf("%q not valid", typ)
		}
	}
	if Type("binary").Valid() {
		t.Error("unknown type accepted")
	}
}

// stubGenerator returns a fixed text for every call and records the last
// system instruction.
type stubGenerator struct {
	text       string
	err        error
	lastSystem string
	lastInput  string
}

func (g *stubGenerator) Generate(_ context.Context, _ string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	if cfg != nil && cfg.SystemInstruction != nil && len(cfg.SystemInstruction.Parts) > 0 {
		g.lastSystem = cfg.SystemInstruction.Parts[0].Text
	}
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		g.lastInput = contents[0].Parts[0].Text
	}
	if g.err != nil {
		return nil, g.err
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []*genai.Part{{Text: g.text}}},
	}}}, nil
}

func TestTransform_Polish(t *testing.T) {
	gen := &stubGenerator{text: "The quick brown fox."}
	e := NewEditor(nil, gen, "gemini-2.5-flash", nil)

	a := &Artifact{Content: "the quick brown foks"}
	got, err := e.Transform(context.Background(), a, ActionPolish, "")
	if err != nil {
		t.Fatal(err)
	}
	if got != "The quick brown fox." {
		t.Errorf("result = %q", got)
	}
	if gen.lastInput != "the quick brown foks" {
		t.Errorf("input = %q", gen.lastInput)
	}
	if !strings.Contains(gen.lastSystem, "Polish") {
		t.Errorf("system = %q", gen.lastSystem)
	}
}

func TestTransform_TranslateCarriesLanguage(t *testing.T) {
	gen := &stubGenerator{text: "Bonjour"}
	e := NewEditor(nil, gen, "gemini-2.5-flash", nil)

	if _, err := e.Transform(context.Background(), &Artifact{Content: "Hello"}, ActionTranslate, "French"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(gen.lastSystem, "French") {
		t.Errorf("system = %q", gen.lastSystem)
	}
}

func TestTransform_ContinueAppends(t *testing.T) {
	gen := &stubGenerator{text: "And then it rained."}
	e := NewEditor(nil, gen, "gemini-2.5-flash", nil)

	got, err := e.Transform(context.Background(), &Artifact{Content: "It was a dark night."}, ActionContinue, "")
	if err != nil {
		t.Fatal(err)
	}
	want := "It was a dark night.\n\nAnd then it rained."
	if got != want {
		t.Errorf("result = %q, want %q", got, want)
	}
}

func TestTransform_UnknownAction(t *testing.T) {
	e := NewEditor(nil, &stubGenerator{text: "x"}, "m", nil)
	if _, err := e.Transform(context.Background(), &Artifact{}, Action("reticulate"), ""); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("err = %v", err)
	}
}

func TestTransform_EmptyResult(t *testing.T) {
	e := NewEditor(nil, &stubGenerator{text: "   "}, "m", nil)
	if _, err := e.Transform(context.Background(), &Artifact{Content: "text"}, ActionSummarize, ""); !errors.Is(err, ErrEmptyResult) {
		t.Errorf("err = %v", err)
	}
}
