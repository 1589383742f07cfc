// Package rhizome generates tarot readings, maps them into a growing graph
// of symbolic nodes over several enrichment rounds, and archives the
// results for export and similarity search.
package rhizome

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/bbiangul/rhizome/export"
	"github.com/bbiangul/rhizome/graph"
	"github.com/bbiangul/rhizome/llm"
	"github.com/bbiangul/rhizome/mapping"
	"github.com/bbiangul/rhizome/mentions"
	"github.com/bbiangul/rhizome/parser"
	"github.com/bbiangul/rhizome/reading"
	"github.com/bbiangul/rhizome/relay"
	"github.com/bbiangul/rhizome/retrieval"
	"github.com/bbiangul/rhizome/store"
)

// Engine is the main entry point.
type Engine interface {
	// Read generates a new reading for the question.
	Read(ctx context.Context, kind reading.Kind, question string) (string, error)

	// FollowUp extends a reading with a continuation addressing followUp.
	FollowUp(ctx context.Context, narrative, followUp string) (string, error)

	// Map runs the mapping pipeline over a narrative and archives the
	// session. A transport failure aborts the run and nothing is archived.
	Map(ctx context.Context, req MapRequest) (*Session, error)

	// Get loads an archived session.
	Get(ctx context.Context, id string) (*Session, error)

	// List returns archived sessions, newest first.
	List(ctx context.Context, limit, offset int) ([]store.Summary, error)

	// Search finds archived sessions by full text and, when embeddings are
	// configured, by node similarity.
	Search(ctx context.Context, query string, limit int) ([]retrieval.Hit, error)

	// Delete removes an archived session.
	Delete(ctx context.Context, id string) error

	// Similar returns the k archived nodes closest to query.
	Similar(ctx context.Context, query string, k int) ([]store.NodeMatch, error)

	// Export writes an archived session in the given format.
	Export(ctx context.Context, id string, format export.Format, w io.Writer) error

	// Mentions detects card names in text.
	Mentions(text string) []mentions.Mention

	// ImportNarrative reads a narrative from a txt, md, pdf or xlsx file.
	ImportNarrative(ctx context.Context, path string) (*parser.ParseResult, error)

	// Catalog returns the card catalog in use.
	Catalog() mentions.Catalog

	// Store returns the underlying store for diagnostic access.
	Store() *store.Store

	// Close cleanly shuts down the engine.
	Close() error
}

// MapRequest describes a mapping run.
type MapRequest struct {
	Kind      reading.Kind `json:"kind"`
	Question  string       `json:"question"`
	Narrative string       `json:"narrative"`
	Mode      mapping.Mode `json:"mode"`
	Rounds    int          `json:"rounds,omitempty"`

	// Observer receives progress of this run. It is not serialised.
	Observer mapping.Observer `json:"-"`
}

// Session is an archived reading and its mapping.
type Session struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
	mapping.Result

	// Clusters groups the final graph's nodes; see graph.Clusters.
	Clusters []graph.Cluster `json:"clusters"`
}

func newSession(id, kind string, createdAt time.Time, res mapping.Result) *Session {
	return &Session{
		ID:        id,
		Kind:      kind,
		CreatedAt: createdAt,
		Result:    res,
		Clusters:  graph.Clusters(res.Graph),
	}
}

// Document converts the session into an export document.
func (s *Session) Document() export.Document {
	return export.FromResult(&s.Result, s.Kind, s.CreatedAt)
}

// Option customises New.
type Option func(*engineOptions)

type engineOptions struct {
	completer llm.Completer
	embedder  llm.Provider
	noEmbed   bool
}

// WithCompleter uses c for every completion instead of building one from
// the configuration.
func WithCompleter(c llm.Completer) Option {
	return func(o *engineOptions) { o.completer = c }
}

// WithEmbedder uses p for node embeddings instead of building one from the
// configuration.
func WithEmbedder(p llm.Provider) Option {
	return func(o *engineOptions) { o.embedder = p }
}

// WithoutEmbeddings disables node embeddings even when configured.
func WithoutEmbeddings() Option {
	return func(o *engineOptions) { o.noEmbed = true }
}

type engine struct {
	cfg       Config
	store     *store.Store
	completer llm.Completer
	embedLLM  llm.Provider
	reader    *reading.Generator
	search    *retrieval.Engine
	parsers   *parser.Registry
	catalog   mentions.Catalog
	detector  *mentions.Detector
}

// New creates an engine with the given configuration.
func New(cfg Config, opts ...Option) (Engine, error) {
	var o engineOptions
	for _, opt := range opts {
		opt(&o)
	}

	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = 768
	}
	if cfg.Rounds <= 0 {
		cfg.Rounds = mapping.DefaultRounds
	}

	catalog := mentions.DefaultCatalog()
	if cfg.CatalogPath != "" {
		f, err := os.Open(cfg.CatalogPath)
		if err != nil {
			return nil, fmt.Errorf("opening catalog: %w", err)
		}
		catalog, err = mentions.LoadCatalog(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}

	completer := o.completer
	if completer == nil {
		var err error
		completer, err = newCompleter(cfg)
		if err != nil {
			return nil, err
		}
	}

	embedLLM := o.embedder
	if embedLLM == nil && !o.noEmbed && cfg.Embedding.Provider != "" {
		var err error
		embedLLM, err = llm.NewProvider(llm.Config{
			Provider: cfg.Embedding.Provider,
			Model:    cfg.Embedding.Model,
			BaseURL:  cfg.Embedding.BaseURL,
			APIKey:   cfg.Embedding.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("creating embedding provider: %w", err)
		}
	}
	if o.noEmbed {
		embedLLM = nil
	}

	s, err := store.New(cfg.resolveDBPath(), cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	return &engine{
		cfg:       cfg,
		store:     s,
		completer: completer,
		embedLLM:  embedLLM,
		reader:    reading.NewGenerator(completer),
		search:    retrieval.New(s, embedLLM, retrieval.DefaultConfig()),
		parsers:   parser.NewRegistry(),
		catalog:   catalog,
		detector:  mentions.Compile(catalog),
	}, nil
}

// newCompleter builds the completion collaborator: a relay client when a
// relay URL is configured, the chat provider otherwise.
func newCompleter(cfg Config) (llm.Completer, error) {
	if cfg.RelayURL != "" {
		c := relay.NewClient(cfg.RelayURL, nil)
		c.Token = cfg.RelayToken
		return c, nil
	}
	chat, err := llm.NewProvider(llm.Config{
		Provider: cfg.Chat.Provider,
		Model:    cfg.Chat.Model,
		BaseURL:  cfg.Chat.BaseURL,
		APIKey:   cfg.Chat.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("creating chat provider: %w", err)
	}
	return llm.NewCompleter(chat, llm.CompleterOptions{
		Model:       cfg.Chat.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}), nil
}

// Read generates a new reading.
func (e *engine) Read(ctx context.Context, kind reading.Kind, question string) (string, error) {
	text, err := e.reader.Generate(ctx, kind, question)
	return text, e.classify(err)
}

// FollowUp continues a reading.
func (e *engine) FollowUp(ctx context.Context, narrative, followUp string) (string, error) {
	text, err := e.reader.FollowUp(ctx, narrative, followUp)
	return text, e.classify(err)
}

// classify maps package errors onto the engine's sentinels, keeping the
// original in the chain.
func (e *engine) classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, reading.ErrInvalidKind), errors.Is(err, reading.ErrEmptyQuestion),
		errors.Is(err, reading.ErrEmptyReading), errors.Is(err, mapping.ErrEmptyNarrative):
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	case errors.Is(err, mapping.ErrInvalidMode):
		return fmt.Errorf("%w: %w", ErrInvalidMode, err)
	case errors.Is(err, mapping.ErrCancelled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrLLMRequestFailed, err)
	}
}

// Map runs the pipeline and archives the session.
func (e *engine) Map(ctx context.Context, req MapRequest) (*Session, error) {
	if req.Kind != "" {
		if _, err := reading.ParseKind(string(req.Kind)); err != nil {
			return nil, e.classify(err)
		}
	}

	pipeline := mapping.New(e.completer, mapping.Config{
		Rounds:     e.cfg.Rounds,
		RoundDelay: e.cfg.RoundDelay,
		Observer:   req.Observer,
	})
	res, err := pipeline.Run(ctx, mapping.Request{
		Narrative: req.Narrative,
		Question:  req.Question,
		Mode:      req.Mode,
		Rounds:    req.Rounds,
	})
	if err != nil {
		return nil, e.classify(err)
	}

	rec := &store.Reading{
		Kind:        string(req.Kind),
		Question:    res.Question,
		Narrative:   res.Narrative,
		Mode:        string(res.Mode),
		Synthesis:   res.Synthesis,
		ElapsedMs:   res.ElapsedMs,
		Nodes:       res.Graph.Nodes,
		Edges:       res.Graph.Edges,
		Checkpoints: res.Checkpoints,
	}
	id, err := e.store.SaveReading(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("archiving session: %w", err)
	}

	if e.embedLLM != nil && len(rec.Nodes) > 0 {
		if err := e.embedNodes(ctx, id, rec); err != nil {
			// The session is archived; only similarity search misses it.
			slog.Warn("node embedding failed", "reading_id", id, "error", err)
		}
	}

	slog.Info("session archived",
		"reading_id", id,
		"nodes", len(rec.Nodes),
		"edges", len(rec.Edges),
		"rounds", len(rec.Checkpoints))

	return newSession(id, rec.Kind, rec.CreatedAt, *res), nil
}

func (e *engine) embedNodes(ctx context.Context, readingID string, rec *store.Reading) error {
	start := time.Now()
	labels := make([]string, len(rec.Nodes))
	for i, n := range rec.Nodes {
		labels[i] = n.Label
	}
	vecs, err := e.embedLLM.Embed(ctx, labels)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	if err := e.store.InsertNodeEmbeddings(ctx, readingID, vecs); err != nil {
		return err
	}
	slog.Debug("nodes embedded", "reading_id", readingID, "count", len(vecs),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// Get loads an archived session.
func (e *engine) Get(ctx context.Context, id string) (*Session, error) {
	r, err := e.store.GetReading(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrReadingNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return newSession(r.ID, r.Kind, r.CreatedAt, mapping.Result{
		Narrative:   r.Narrative,
		Question:    r.Question,
		Mode:        mapping.Mode(r.Mode),
		Graph:       graph.State{Nodes: r.Nodes, Edges: r.Edges},
		Checkpoints: r.Checkpoints,
		Synthesis:   r.Synthesis,
		ElapsedMs:   r.ElapsedMs,
	}), nil
}

func (e *engine) List(ctx context.Context, limit, offset int) ([]store.Summary, error) {
	return e.store.ListReadings(ctx, limit, offset)
}

func (e *engine) Search(ctx context.Context, query string, limit int) ([]retrieval.Hit, error) {
	hits, _, err := e.search.Search(ctx, query, limit)
	return hits, err
}

// Delete removes an archived session.
func (e *engine) Delete(ctx context.Context, id string) error {
	err := e.store.DeleteReading(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrReadingNotFound, id)
	}
	return err
}

// Similar embeds query and searches archived node labels.
func (e *engine) Similar(ctx context.Context, query string, k int) ([]store.NodeMatch, error) {
	if e.embedLLM == nil {
		return nil, ErrEmbeddingsDisabled
	}
	if k <= 0 {
		k = 10
	}
	vecs, err := e.embedLLM.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	if len(vecs) == 0 {
		return nil, ErrEmbeddingFailed
	}
	return e.store.SimilarNodes(ctx, vecs[0], k)
}

// Export writes an archived session.
func (e *engine) Export(ctx context.Context, id string, format export.Format, w io.Writer) error {
	s, err := e.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := export.Write(w, format, s.Document(), e.catalog); err != nil {
		if errors.Is(err, export.ErrUnsupportedFormat) {
			return fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
		}
		return err
	}
	return nil
}

func (e *engine) Mentions(text string) []mentions.Mention {
	return e.detector.Detect(text)
}

// ImportNarrative reads a narrative from a file.
func (e *engine) ImportNarrative(ctx context.Context, path string) (*parser.ParseResult, error) {
	res, err := e.parsers.ParseFile(ctx, path)
	if errors.Is(err, parser.ErrUnsupportedFormat) {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
	}
	return res, err
}

func (e *engine) Catalog() mentions.Catalog {
	return e.catalog
}

// Store returns the underlying store for diagnostic access.
func (e *engine) Store() *store.Store {
	return e.store
}

// Close shuts down the engine.
func (e *engine) Close() error {
	return e.store.Close()
}
