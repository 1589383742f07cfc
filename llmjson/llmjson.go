// Package llmjson decodes JSON payloads out of model responses.
//
// Completion text is an untyped channel: models wrap JSON in markdown fences,
// add preambles, or ignore the format request entirely. Decode strips the
// fences, parses, and validates the result against the struct's `validate`
// tags, so that call sites only ever see a well-shaped value or an error they
// can degrade on.
package llmjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrMalformed is wrapped by every error Decode returns.
var ErrMalformed = errors.New("llmjson: malformed response")

var validate = validator.New(validator.WithRequiredStructEnabled())

// codeBlockRe matches a fenced block, optionally tagged json.
var codeBlockRe = regexp.MustCompile("(?s)^```(?:json|JSON)?[ \\t]*\\n?(.*?)\\n?```\\s*$")

// StripFences removes a surrounding markdown code fence, if any, and trims
// whitespace. Text that is not fenced is returned trimmed.
func StripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	if m := codeBlockRe.FindStringSubmatch(raw); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	if strings.HasPrefix(raw, "```") {
		// Unterminated fence: drop the opening line.
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimPrefix(raw, "json")
		raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
	}
	return strings.TrimSpace(raw)
}

// Decode parses raw into v and validates it. v must be a pointer to a
// struct, and the response must hold a JSON object.
func Decode(raw string, v any) error {
	body := StripFences(raw)
	if body == "" {
		return fmt.Errorf("%w: empty response", ErrMalformed)
	}
	if body[0] != '{' {
		return fmt.Errorf("%w: top-level value is not an object", ErrMalformed)
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %s", ErrMalformed, formatValidationError(err))
	}
	return nil
}

// DecodeOr decodes raw into a T, returning fallback(raw) when decoding
// fails. The fallback is never handed an error: it only sees the raw text.
func DecodeOr[T any](raw string, fallback func(raw string) T) (T, error) {
	var v T
	if err := Decode(raw, &v); err != nil {
		return fallback(raw), err
	}
	return v, nil
}

func formatValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		field := e.Namespace()
		switch e.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", field, e.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, e.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
