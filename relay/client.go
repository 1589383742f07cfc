package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bbiangul/rhizome/llm"
)

// Error is a non-2xx reply from a relay.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("relay error %d: %s", e.Status, e.Message)
}

// Client calls a relay. It implements llm.Completer.
type Client struct {
	baseURL string
	http    *http.Client

	// Token is sent as a bearer token when set, for relays behind an
	// API key.
	Token string
}

var _ llm.Completer = (*Client)(nil)

// NewClient creates a client for the relay at baseURL. A nil httpClient
// uses one with a five minute timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Complete sends one system prompt and message and returns the model text.
func (c *Client) Complete(ctx context.Context, system, message string) (string, error) {
	body, err := json.Marshal(Request{System: system, Message: message})
	if err != nil {
		return "", fmt.Errorf("marshaling relay request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/claude", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling relay: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading relay response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		if json.Unmarshal(data, &eb) != nil || eb.Error == "" {
			eb.Error = fmt.Sprintf("relay request failed with status %d", resp.StatusCode)
		}
		return "", &Error{Status: resp.StatusCode, Message: eb.Error}
	}

	var out response
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decoding relay response: %w", err)
	}
	return out.Response, nil
}
