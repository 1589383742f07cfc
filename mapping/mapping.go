// Package mapping turns a reading into a node/edge graph: one extraction
// call, a fixed number of enrichment rounds that each add edges (and, in
// chaos mode, nodes), and a closing synthesis.
//
// Completion failures abort a run. Responses that are not the JSON that was
// asked for never do: extraction degrades to a line-based parser and a round
// degrades to an empty contribution with a placeholder insight.
package mapping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bbiangul/rhizome/graph"
	"github.com/bbiangul/rhizome/llm"
	"github.com/bbiangul/rhizome/llmjson"
)

// Mode controls how far the model may stray from the reading.
type Mode string

const (
	// ModeControl keeps nodes grounded in the reading.
	ModeControl Mode = "control"
	// ModeChaos allows ungrounded nodes and, from round 3, new nodes.
	ModeChaos Mode = "chaos"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeControl, ModeChaos:
		return Mode(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

const (
	// DefaultRounds is the number of enrichment rounds of a run.
	DefaultRounds = 4

	// DefaultRoundDelay paces successive rounds.
	DefaultRoundDelay = time.Second

	// UnparsedInsights is the insight recorded for a round whose response
	// could not be decoded.
	UnparsedInsights = "Unable to parse cycle insights"
)

var (
	// ErrCompletion wraps failures of the completion collaborator. A run
	// that returns it produced no result.
	ErrCompletion = errors.New("mapping: completion failed")

	// ErrCancelled is returned when the context ends before or during a
	// stage.
	ErrCancelled = errors.New("mapping: run cancelled")

	// ErrInvalidMode is returned for a mode other than control or chaos.
	ErrInvalidMode = errors.New("mapping: invalid mode")

	// ErrEmptyNarrative is returned when there is nothing to map.
	ErrEmptyNarrative = errors.New("mapping: narrative is empty")
)

// Config holds pipeline configuration.
type Config struct {
	Rounds     int
	RoundDelay time.Duration
	Observer   Observer
}

// Observer receives progress as a run advances. Either callback may be nil.
// Callbacks run on the pipeline goroutine and must not retain the slices
// they are given beyond the call.
type Observer struct {
	OnNodes func(nodes []graph.Node)
	OnRound func(cp graph.Checkpoint)
}

// Request describes one mapping run.
type Request struct {
	Narrative string
	Question  string
	Mode      Mode
	Rounds    int // 0 uses the pipeline default
}

// Result is the terminal artifact of a successful run.
type Result struct {
	Narrative   string             `json:"narrative"`
	Question    string             `json:"question"`
	Mode        Mode               `json:"mode"`
	Graph       graph.State        `json:"graph"`
	Checkpoints []graph.Checkpoint `json:"checkpoints"`
	Synthesis   string             `json:"synthesis"`
	ElapsedMs   int64              `json:"elapsed_ms"`
}

// Pipeline runs mapping requests against a completion collaborator. It
// holds no per-run state and may be shared; a single run issues its
// completions strictly one after another.
type Pipeline struct {
	llm llm.Completer
	cfg Config
}

// New creates a pipeline.
func New(c llm.Completer, cfg Config) *Pipeline {
	if cfg.Rounds <= 0 {
		cfg.Rounds = DefaultRounds
	}
	if cfg.RoundDelay < 0 {
		cfg.RoundDelay = 0
	}
	return &Pipeline{llm: c, cfg: cfg}
}

// nodesPayload is the JSON shape requested by the extraction prompt.
type nodesPayload struct {
	Nodes []graph.Node `json:"nodes" validate:"required"`
}

// roundPayload is the JSON shape requested by each round prompt. Every
// field is optional.
type roundPayload struct {
	Edges    []graph.Edge `json:"edges"`
	NewNodes []graph.Node `json:"newNodes"`
	Insights string       `json:"insights"`
}

// ExtractNodes asks for the initial nodes of the narrative. The only error
// it returns is a failed completion; an unusable response falls back to
// graph.ParseNodesFromText.
func (p *Pipeline) ExtractNodes(ctx context.Context, narrative string, mode Mode) ([]graph.Node, error) {
	system, user := buildExtractionPrompts(narrative, mode)

	start := time.Now()
	resp, err := p.complete(ctx, "extraction", system, user)
	if err != nil {
		return nil, err
	}

	payload, err := llmjson.DecodeOr(resp, func(raw string) nodesPayload {
		return nodesPayload{Nodes: graph.ParseNodesFromText(raw)}
	})
	if err != nil {
		slog.Warn("mapping: extraction response not JSON, using line parser",
			"error", err, "nodes", len(payload.Nodes))
	}

	slog.Info("mapping: nodes extracted",
		"nodes", len(payload.Nodes),
		"mode", mode,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return payload.Nodes, nil
}

// RunRound performs enrichment round n over state and returns the grown
// state with the round's checkpoint. The input state is not modified. When
// the response cannot be decoded the returned state equals the input and
// the checkpoint carries UnparsedInsights.
func (p *Pipeline) RunRound(ctx context.Context, n int, state graph.State, mode Mode) (graph.State, graph.Checkpoint, error) {
	system, user := buildRoundPrompts(n, state.Nodes, mode)

	start := time.Now()
	resp, err := p.complete(ctx, fmt.Sprintf("round %d", n), system, user)
	if err != nil {
		return state, graph.Checkpoint{}, err
	}

	var payload roundPayload
	if err := llmjson.Decode(resp, &payload); err != nil {
		slog.Warn("mapping: round response not JSON, keeping graph unchanged",
			"round", n, "error", err)
		next := state.Clone()
		return next, next.Checkpoint(n, UnparsedInsights), nil
	}

	next := state.Merge(payload.Edges, payload.NewNodes)
	slog.Info("mapping: round complete",
		"round", n,
		"new_edges", len(payload.Edges),
		"new_nodes", len(payload.NewNodes),
		"nodes", len(next.Nodes),
		"edges", len(next.Edges),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return next, next.Checkpoint(n, payload.Insights), nil
}

// Synthesize asks for the closing narrative and returns the raw text.
func (p *Pipeline) Synthesize(ctx context.Context, question, narrative string, state graph.State, checkpoints []graph.Checkpoint) (string, error) {
	system, user := buildSynthesisPrompts(question, narrative, state, checkpoints)
	return p.complete(ctx, "synthesis", system, user)
}

// Run executes extraction, the enrichment rounds and synthesis. The context
// is checked between stages; once it is done no further completion is
// issued. Any error means no result.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	if req.Narrative == "" {
		return nil, ErrEmptyNarrative
	}
	if _, err := ParseMode(string(req.Mode)); err != nil {
		return nil, err
	}
	numRounds := req.Rounds
	if numRounds <= 0 {
		numRounds = p.cfg.Rounds
	}

	start := time.Now()
	slog.Info("mapping: run starting", "mode", req.Mode, "rounds", numRounds,
		"narrative_len", len(req.Narrative))

	if err := checkCancelled(ctx, "extraction"); err != nil {
		return nil, err
	}
	nodes, err := p.ExtractNodes(ctx, req.Narrative, req.Mode)
	if err != nil {
		return nil, err
	}
	if p.cfg.Observer.OnNodes != nil {
		p.cfg.Observer.OnNodes(nodes)
	}

	state := graph.NewState(nodes)
	checkpoints := make([]graph.Checkpoint, 0, numRounds)
	for n := 1; n <= numRounds; n++ {
		if n > 1 && p.cfg.RoundDelay > 0 {
			if err := sleepCtx(ctx, p.cfg.RoundDelay); err != nil {
				return nil, fmt.Errorf("%w before round %d: %w", ErrCancelled, n, err)
			}
		}
		if err := checkCancelled(ctx, fmt.Sprintf("round %d", n)); err != nil {
			return nil, err
		}

		var cp graph.Checkpoint
		state, cp, err = p.RunRound(ctx, n, state, req.Mode)
		if err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, cp)
		if p.cfg.Observer.OnRound != nil {
			p.cfg.Observer.OnRound(cp)
		}
	}

	if err := checkCancelled(ctx, "synthesis"); err != nil {
		return nil, err
	}
	synthesis, err := p.Synthesize(ctx, req.Question, req.Narrative, state, checkpoints)
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	slog.Info("mapping: run complete",
		"nodes", len(state.Nodes),
		"edges", len(state.Edges),
		"rounds", len(checkpoints),
		"elapsed", elapsed.Round(time.Millisecond))

	return &Result{
		Narrative:   req.Narrative,
		Question:    req.Question,
		Mode:        req.Mode,
		Graph:       state,
		Checkpoints: checkpoints,
		Synthesis:   synthesis,
		ElapsedMs:   elapsed.Milliseconds(),
	}, nil
}

// complete issues one completion and classifies its failure.
func (p *Pipeline) complete(ctx context.Context, stage, system, user string) (string, error) {
	resp, err := p.llm.Complete(ctx, system, user)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w during %s: %w", ErrCancelled, stage, ctx.Err())
		}
		return "", fmt.Errorf("%w: %s: %w", ErrCompletion, stage, err)
	}
	return resp, nil
}

func checkCancelled(ctx context.Context, stage string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w before %s: %w", ErrCancelled, stage, err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
