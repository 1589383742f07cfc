package llmjson

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Items []string `json:"items" validate:"required"`
	Note  string   `json:"note"`
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", `  {"a":1}  `, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```\n", `{"a":1}`},
		{"unterminated", "```json\n{\"a\":1}", `{"a":1}`},
		{"prose untouched", "Sure! {\"a\":1}", `Sure! {"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripFences(tt.input))
		})
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		want    []string
	}{
		{name: "valid", input: `{"items":["a","b"]}`, want: []string{"a", "b"}},
		{name: "fenced", input: "```json\n{\"items\":[\"x\"],\"note\":\"n\"}\n```", want: []string{"x"}},
		{name: "empty array is present", input: `{"items":[]}`, want: []string{}},
		{name: "missing field", input: `{"note":"n"}`, wantErr: true},
		{name: "null field", input: `{"items":null}`, wantErr: true},
		{name: "not json", input: "Here are some items:\n- a\n- b", wantErr: true},
		{name: "empty", input: "   ", wantErr: true},
		{name: "wrong shape", input: `["a"]`, wantErr: true},
		{name: "null", input: "null", wantErr: true},
		{name: "fenced null", input: "```json\nnull\n```", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p payload
			err := Decode(tt.input, &p)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrMalformed))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Items)
		})
	}
}

func TestDecodeOr(t *testing.T) {
	fallback := func(raw string) payload { return payload{Note: "fallback:" + raw} }

	got, err := DecodeOr(`{"items":["ok"]}`, fallback)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, got.Items)

	got, err = DecodeOr("nope", fallback)
	assert.Error(t, err)
	assert.Equal(t, "fallback:nope", got.Note)
}
