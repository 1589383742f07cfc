// Package reading generates the narrative a mapping run starts from: a
// three to five card spread interpreted in prose, optionally extended by
// follow-up exchanges.
package reading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bbiangul/rhizome/llm"
)

// Kind selects the framing of a reading.
type Kind string

const (
	KindSpecific Kind = "specific"
	KindGeneral  Kind = "general"
	KindDeep     Kind = "deep"
)

// Separator joins a reading and each follow-up continuation. Exports render
// it as a "Continued Exploration" heading.
const Separator = "\n\n---SEPARATOR---\n\n"

// SeparatorToken is Separator without the surrounding blank lines.
const SeparatorToken = "---SEPARATOR---"

var (
	ErrInvalidKind   = errors.New("reading: invalid kind")
	ErrEmptyQuestion = errors.New("reading: question is empty")
	ErrEmptyReading  = errors.New("reading: nothing to continue")
)

// ParseKind validates a reading kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindSpecific, KindGeneral, KindDeep:
		return Kind(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
}

// Description is the phrase used for the kind in the user prompt.
func (k Kind) Description() string {
	switch k {
	case KindSpecific:
		return "specific question"
	case KindGeneral:
		return "general life reading"
	default:
		return "deep psychological exploration"
	}
}

// Placeholder is a prompt hint shown to the querent for the kind.
func (k Kind) Placeholder() string {
	switch k {
	case KindSpecific:
		return "Share your question or describe your situation..."
	case KindGeneral:
		return "Tell me about what's present in your life right now..."
	default:
		return "What aspect of your psyche calls for exploration?"
	}
}

const readingSystemPrompt = `You are an AI simulation conducting a tarot reading in the style of a wise, insightful divination practitioner. Your approach combines:
- Deep psychological insight and symbolism
- Philosophical wisdom with practical application
- A blend of gentle humor and profound understanding
- Therapeutic guidance that empowers the querent

For this %s reading, provide:
1. A thoughtful introduction acknowledging their question
2. A spread of 3-5 cards with detailed symbolic interpretation
3. Analysis of relationships between cards
4. Integration of insights into a coherent narrative
5. Practical guidance and next steps

Keep the tone warm, philosophical, and empowering. Focus on psychological depth rather than fortune-telling.`

const readingUserPrompt = `The querent asks: "%s"

Please conduct a complete tarot reading for this %s.`

const followUpSystemPrompt = `You are continuing a tarot reading. The original reading is provided as context. Now the querent has a follow-up question or comment. Provide additional insight, draw new cards if needed, or explore the themes more deeply.

Original reading:
%s

Continue in the same philosophical, insightful style. Keep your response focused and substantial.`

const followUpUserPrompt = `The querent says: "%s"

Please continue the reading, addressing their follow-up.`

// Generator produces readings through a completion collaborator.
type Generator struct {
	llm llm.Completer
}

// NewGenerator creates a Generator.
func NewGenerator(c llm.Completer) *Generator {
	return &Generator{llm: c}
}

// Generate asks for a complete reading of the given kind and returns the
// model's text unchanged.
func (g *Generator) Generate(ctx context.Context, kind Kind, question string) (string, error) {
	if _, err := ParseKind(string(kind)); err != nil {
		return "", err
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyQuestion
	}

	start := time.Now()
	text, err := g.llm.Complete(ctx,
		fmt.Sprintf(readingSystemPrompt, kind),
		fmt.Sprintf(readingUserPrompt, question, kind.Description()))
	if err != nil {
		return "", fmt.Errorf("generating %s reading: %w", kind, err)
	}

	slog.Info("reading: generated",
		"kind", kind,
		"length", len(text),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return text, nil
}

// FollowUp continues narrative with the querent's follow-up and returns the
// extended narrative: the original, Separator, then the new text.
func (g *Generator) FollowUp(ctx context.Context, narrative, followUp string) (string, error) {
	if strings.TrimSpace(narrative) == "" {
		return "", ErrEmptyReading
	}
	followUp = strings.TrimSpace(followUp)
	if followUp == "" {
		return "", ErrEmptyQuestion
	}

	start := time.Now()
	text, err := g.llm.Complete(ctx,
		fmt.Sprintf(followUpSystemPrompt, narrative),
		fmt.Sprintf(followUpUserPrompt, followUp))
	if err != nil {
		return "", fmt.Errorf("continuing reading: %w", err)
	}

	slog.Info("reading: continued",
		"added", len(text),
		"sections", Sections(narrative)+1,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return narrative + Separator + text, nil
}

// Sections reports how many parts a narrative has: one plus the number of
// follow-up continuations.
func Sections(narrative string) int {
	return strings.Count(narrative, SeparatorToken) + 1
}
