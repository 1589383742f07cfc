package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrEmbeddingsUnsupported is returned by providers without an embeddings
// endpoint.
var ErrEmbeddingsUnsupported = errors.New("llm: provider does not support embeddings")

// APIError is a non-2xx answer from a provider. Message is the provider's
// own error text when the body carried one.
type APIError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("LLM API error %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether retrying the request later could succeed.
func (e *APIError) Temporary() bool {
	return retryableStatusCode(e.StatusCode)
}

// newAPIError extracts {"error": {"message": ...}} or {"error": "..."} from
// body, the two shapes OpenAI-compatible and Anthropic endpoints use.
func newAPIError(status int, body []byte) *APIError {
	e := &APIError{StatusCode: status, Body: string(body)}

	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &nested) == nil && nested.Error.Message != "" {
		e.Message = nested.Error.Message
		return e
	}
	var flat struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &flat) == nil && flat.Error != "" {
		e.Message = flat.Error
		return e
	}
	e.Message = fmt.Sprintf("API request failed with status %d", status)
	return e
}

// retryableStatusCode returns true for HTTP status codes that warrant a retry.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout ||
		code == 529 // Anthropic "overloaded"
}
