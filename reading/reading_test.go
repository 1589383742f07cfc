package reading

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbiangul/rhizome/llm"
)

type recorder struct {
	system, message string
	reply           string
	err             error
}

func (r *recorder) Complete(ctx context.Context, system, message string) (string, error) {
	r.system, r.message = system, message
	return r.reply, r.err
}

var _ llm.Completer = (*recorder)(nil)

func TestGenerate(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindSpecific, "specific question"},
		{KindGeneral, "general life reading"},
		{KindDeep, "deep psychological exploration"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			rec := &recorder{reply: "The Tower stands."}
			out, err := NewGenerator(rec).Generate(context.Background(), tt.kind, "  Should I move?  ")
			require.NoError(t, err)
			assert.Equal(t, "The Tower stands.", out)
			assert.Contains(t, rec.system, "For this "+string(tt.kind)+" reading")
			assert.Contains(t, rec.message, `"Should I move?"`)
			assert.Contains(t, rec.message, tt.want)
		})
	}
}

func TestGenerateValidates(t *testing.T) {
	g := NewGenerator(&recorder{})

	_, err := g.Generate(context.Background(), "tea-leaves", "q")
	assert.ErrorIs(t, err, ErrInvalidKind)

	_, err = g.Generate(context.Background(), KindDeep, "   ")
	assert.ErrorIs(t, err, ErrEmptyQuestion)
}

func TestGeneratePropagatesTransportError(t *testing.T) {
	boom := errors.New("down")
	_, err := NewGenerator(&recorder{err: boom}).Generate(context.Background(), KindGeneral, "q")
	assert.ErrorIs(t, err, boom)
}

func TestFollowUpAppendsWithSeparator(t *testing.T) {
	rec := &recorder{reply: "The Page of Wands arrives."}
	g := NewGenerator(rec)

	out, err := g.FollowUp(context.Background(), "First reading.", "What about work?")
	require.NoError(t, err)
	assert.Equal(t, "First reading.\n\n---SEPARATOR---\n\nThe Page of Wands arrives.", out)
	assert.Contains(t, rec.system, "Original reading:\nFirst reading.")
	assert.Contains(t, rec.message, `"What about work?"`)
	assert.Equal(t, 2, Sections(out))

	out, err = g.FollowUp(context.Background(), out, "And love?")
	require.NoError(t, err)
	assert.Equal(t, 3, Sections(out))
}

func TestFollowUpValidates(t *testing.T) {
	g := NewGenerator(&recorder{})

	_, err := g.FollowUp(context.Background(), "", "x")
	assert.ErrorIs(t, err, ErrEmptyReading)

	_, err = g.FollowUp(context.Background(), "reading", " ")
	assert.ErrorIs(t, err, ErrEmptyQuestion)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("deep")
	require.NoError(t, err)
	assert.Equal(t, KindDeep, k)
	assert.NotEmpty(t, k.Placeholder())
}
