package analysis

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// approxRunesPerToken is used when no tokenizer could be loaded.
const approxRunesPerToken = 4

// Budget trims transcripts to fit the model's input window.
type Budget struct {
	tokenizer *tiktoken.Tiktoken
	maxTokens int
}

// NewBudget creates a budget of maxTokens for the transcript part of the prompt.
// model selects the tokenizer (e.g. "gpt-4o"); unknown models fall back to
// cl100k_base, and if no encoding can be loaded at all the budget counts
// runes instead.
func NewBudget(model string, maxTokens int) *Budget {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			enc = nil
		}
	}
	return &Budget{tokenizer: enc, maxTokens: maxTokens}
}

// MaxTokens returns the configured limit.
func (b *Budget) MaxTokens() int { return b.maxTokens }

// Count returns the token count for text.
func (b *Budget) Count(text string) int {
	if b.tokenizer == nil {
		return (len([]rune(text)) + approxRunesPerToken - 1) / approxRunesPerToken
	}
	return len(b.tokenizer.Encode(text, nil, nil))
}

// Fit returns text unchanged when it is within budget. Otherwise it keeps the
// opening two thirds and the closing third of the budget and marks the gap,
// so both the introduction and the wrap-up of a meeting survive.
func (b *Budget) Fit(text string) (string, bool) {
	if b.maxTokens <= 0 || b.Count(text) <= b.maxTokens {
		return text, false
	}
	head := b.maxTokens * 2 / 3
	tail := b.maxTokens - head

	if b.tokenizer == nil {
		runes := []rune(text)
		h, t := head*approxRunesPerToken, tail*approxRunesPerToken
		omitted := (len(runes) - h - t + approxRunesPerToken - 1) / approxRunesPerToken
		return join(string(runes[:h]), string(runes[len(runes)-t:]), omitted), true
	}

	tokens := b.tokenizer.Encode(text, nil, nil)
	omitted := len(tokens) - head - tail
	return join(b.tokenizer.Decode(tokens[:head]), b.tokenizer.Decode(tokens[len(tokens)-tail:]), omitted), true
}

func join(head, tail string, omitted int) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimRight(head, " "))
	fmt.Fprintf(&sb, "\n[... %d tokens omitted ...]\n", omitted)
	sb.WriteString(strings.TrimLeft(tail, " "))
	return sb.String()
}
