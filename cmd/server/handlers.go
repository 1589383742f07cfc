package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/bbiangul/rhizome"
	"github.com/bbiangul/rhizome/export"
	"github.com/bbiangul/rhizome/graph"
	"github.com/bbiangul/rhizome/mapping"
	"github.com/bbiangul/rhizome/mentions"
	"github.com/bbiangul/rhizome/reading"
)

type handler struct {
	engine   rhizome.Engine
	timeout  time.Duration
	validate *validator.Validate
}

func newHandler(e rhizome.Engine, timeout time.Duration) *handler {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &handler{engine: e, timeout: timeout, validate: validator.New()}
}

func (h *handler) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/readings", h.handleReading)
	mux.HandleFunc("POST /api/readings/followup", h.handleFollowUp)
	mux.HandleFunc("POST /api/mappings", h.handleMap)
	mux.HandleFunc("GET /api/mappings", h.handleList)
	mux.HandleFunc("GET /api/mappings/search", h.handleSearch)
	mux.HandleFunc("GET /api/mappings/{id}", h.handleGet)
	mux.HandleFunc("DELETE /api/mappings/{id}", h.handleDelete)
	mux.HandleFunc("GET /api/mappings/{id}/export", h.handleExport)
	mux.HandleFunc("GET /api/mappings/{id}/nodes/{node}/neighborhood", h.handleNeighborhood)
	mux.HandleFunc("GET /api/similar", h.handleSimilar)
	mux.HandleFunc("POST /api/mentions", h.handleMentions)
}

type readingRequest struct {
	Kind     string `json:"kind" validate:"required,oneof=specific general deep"`
	Question string `json:"question" validate:"required"`
}

type followUpRequest struct {
	Narrative string `json:"narrative" validate:"required"`
	FollowUp  string `json:"followUp" validate:"required"`
}

type mapRequest struct {
	Kind      string `json:"kind" validate:"omitempty,oneof=specific general deep"`
	Question  string `json:"question"`
	Narrative string `json:"narrative" validate:"required"`
	Mode      string `json:"mode" validate:"required,oneof=control chaos"`
	Rounds    int    `json:"rounds" validate:"gte=0,lte=12"`
}

type mentionsRequest struct {
	Text string `json:"text" validate:"required"`
}

// decode reads a JSON body into v and validates it. It writes the error
// response itself and reports whether the handler should continue.
func (h *handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Tag() == "required" {
			return fmt.Sprintf("%s is required", fe.Field())
		}
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
	return "invalid request"
}

// POST /api/readings
func (h *handler) handleReading(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req readingRequest
	if !h.decode(w, r, &req) {
		return
	}

	text, err := h.engine.Read(ctx, reading.Kind(req.Kind), req.Question)
	if err != nil {
		h.fail(w, "reading", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"kind":     req.Kind,
		"question": req.Question,
		"reading":  text,
		"mentions": h.engine.Mentions(text),
	})
}

// POST /api/readings/followup
func (h *handler) handleFollowUp(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req followUpRequest
	if !h.decode(w, r, &req) {
		return
	}

	text, err := h.engine.FollowUp(ctx, req.Narrative, req.FollowUp)
	if err != nil {
		h.fail(w, "followup", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"reading":  text,
		"sections": reading.Sections(text),
	})
}

// progressEvent is one line of a streamed mapping run.
type progressEvent struct {
	Type        string            `json:"type"`
	Description string            `json:"description,omitempty"`
	Nodes       []graph.Node      `json:"nodes,omitempty"`
	Checkpoint  *graph.Checkpoint `json:"checkpoint,omitempty"`
	Session     *rhizome.Session  `json:"session,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// POST /api/mappings
// Responds with the archived session, or with newline-delimited progress
// events when the client accepts application/x-ndjson.
func (h *handler) handleMap(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req mapRequest
	if !h.decode(w, r, &req) {
		return
	}

	mreq := rhizome.MapRequest{
		Kind:      reading.Kind(req.Kind),
		Question:  req.Question,
		Narrative: req.Narrative,
		Mode:      mapping.Mode(req.Mode),
		Rounds:    req.Rounds,
	}

	if r.Header.Get("Accept") != "application/x-ndjson" {
		session, err := h.engine.Map(ctx, mreq)
		if err != nil {
			h.fail(w, "mapping", err)
			return
		}
		writeJSON(w, http.StatusOK, session)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	flusher, _ := w.(http.Flusher)
	emit := func(ev progressEvent) {
		if err := enc.Encode(ev); err != nil {
			slog.Debug("progress write failed", "error", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	emit(progressEvent{Type: "extracting", Description: "Extracting initial nodes..."})
	mreq.Observer = mapping.Observer{
		OnNodes: func(nodes []graph.Node) {
			emit(progressEvent{Type: "nodes", Nodes: nodes})
		},
		OnRound: func(cp graph.Checkpoint) {
			emit(progressEvent{Type: "round", Description: mapping.RoundDescription(cp.Round), Checkpoint: &cp})
		},
	}

	session, err := h.engine.Map(ctx, mreq)
	if err != nil {
		slog.Error("mapping error", "error", err)
		emit(progressEvent{Type: "error", Error: err.Error()})
		return
	}
	emit(progressEvent{Type: "complete", Session: session})
}

// GET /api/mappings
func (h *handler) handleList(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50, 1, 500)
	offset := queryInt(r, "offset", 0, 0, 1<<30)

	items, err := h.engine.List(r.Context(), limit, offset)
	if err != nil {
		h.fail(w, "list", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mappings": items})
}

// GET /api/mappings/search?q=
func (h *handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	items, err := h.engine.Search(r.Context(), q, queryInt(r, "limit", 20, 1, 200))
	if err != nil {
		h.fail(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mappings": items})
}

// GET /api/mappings/{id}
func (h *handler) handleGet(w http.ResponseWriter, r *http.Request) {
	session, err := h.engine.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, "get", err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// DELETE /api/mappings/{id}
func (h *handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.engine.Delete(r.Context(), id); err != nil {
		h.fail(w, "delete", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// GET /api/mappings/{id}/export?format=
func (h *handler) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := r.PathValue("id")
	session, err := h.engine.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "export", err)
		return
	}

	// Render fully before writing headers so a failure can still be a 500.
	var buf bytes.Buffer
	if err := h.engine.Export(r.Context(), id, format, &buf); err != nil {
		h.fail(w, "export", err)
		return
	}

	doc := session.Document()
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Filename(format)))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		slog.Debug("export write failed", "id", id, "error", err)
	}
}

// GET /api/mappings/{id}/nodes/{node}/neighborhood?depth=
func (h *handler) handleNeighborhood(w http.ResponseWriter, r *http.Request) {
	session, err := h.engine.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, "neighborhood", err)
		return
	}
	nodeID := graph.NodeID(r.PathValue("node"))
	found := graph.Neighborhood(session.Graph, nodeID, queryInt(r, "depth", 1, 0, 10))
	if found == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("node %s not found", nodeID))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": found})
}

// GET /api/similar?q=&k=
func (h *handler) handleSimilar(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	matches, err := h.engine.Similar(r.Context(), q, queryInt(r, "k", 10, 1, 100))
	if err != nil {
		h.fail(w, "similar", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

// POST /api/mentions
func (h *handler) handleMentions(w http.ResponseWriter, r *http.Request) {
	var req mentionsRequest
	if !h.decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mentions":   h.engine.Mentions(req.Text),
		"paragraphs": mentions.Annotate(req.Text, h.engine.Catalog()),
	})
}

// fail maps engine errors to status codes and logs the ones that are ours.
func (h *handler) fail(w http.ResponseWriter, op string, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error(op+" error", "error", err)
	}
	writeError(w, status, err.Error())
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, rhizome.ErrReadingNotFound):
		return http.StatusNotFound
	case errors.Is(err, rhizome.ErrInvalidRequest),
		errors.Is(err, rhizome.ErrInvalidMode),
		errors.Is(err, rhizome.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, rhizome.ErrEmbeddingsDisabled):
		return http.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, rhizome.ErrLLMRequestFailed), errors.Is(err, rhizome.ErrEmbeddingFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func queryInt(r *http.Request, key string, def, lo, hi int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return max(lo, min(v, hi))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
