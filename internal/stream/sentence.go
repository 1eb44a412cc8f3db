package stream

import (
	"strings"
	"unicode"
)

// sentenceBuffer accumulates answer text and yields completed sentences.
// Segmentation is best-effort: CJK terminators always end a sentence, while
// Latin terminators need a following whitespace rune, which keeps decimals
// like "3.14" and dotted hostnames intact.
type sentenceBuffer struct {
	runes []rune
}

// push appends streamed text and returns any sentences completed by it.
func (b *sentenceBuffer) push(text string) []string {
	b.runes = append(b.runes, []rune(text)...)

	var out []string
	start := 0
	for i := 0; i < len(b.runes); i++ {
		switch b.runes[i] {
		case '。', '！', '？', '…':
			if s := strings.TrimSpace(string(b.runes[start : i+1])); s != "" {
				out = append(out, s)
			}
			start = i + 1
		case '.', '!', '?':
			if i+1 < len(b.runes) && unicode.IsSpace(b.runes[i+1]) {
				if s := strings.TrimSpace(string(b.runes[start : i+1])); s != "" {
					out = append(out, s)
				}
				start = i + 1
			}
		}
	}
	b.runes = append([]rune(nil), b.runes[start:]...)
	return out
}

// flush returns whatever trailing fragment remains.
func (b *sentenceBuffer) flush() string {
	rest := strings.TrimSpace(string(b.runes))
	b.runes = nil
	return rest
}
