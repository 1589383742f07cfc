package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbiangul/rhizome"
	"github.com/bbiangul/rhizome/export"
	"github.com/bbiangul/rhizome/graph"
	"github.com/bbiangul/rhizome/mapping"
	"github.com/bbiangul/rhizome/mentions"
	"github.com/bbiangul/rhizome/parser"
	"github.com/bbiangul/rhizome/reading"
	"github.com/bbiangul/rhizome/retrieval"
	"github.com/bbiangul/rhizome/store"
)

// fakeEngine keeps sessions in memory and answers completions with canned
// text.
type fakeEngine struct {
	sessions map[string]*rhizome.Session
	readErr  error
	lastMap  rhizome.MapRequest
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{sessions: map[string]*rhizome.Session{}}
}

func (f *fakeEngine) Read(ctx context.Context, kind reading.Kind, question string) (string, error) {
	if f.readErr != nil {
		return "", f.readErr
	}
	return "The Hermit lights the way.", nil
}

func (f *fakeEngine) FollowUp(ctx context.Context, narrative, followUp string) (string, error) {
	return narrative + reading.Separator + "The Star answers.", nil
}

func (f *fakeEngine) Map(ctx context.Context, req rhizome.MapRequest) (*rhizome.Session, error) {
	f.lastMap = req
	nodes := []graph.Node{{ID: "node1", Label: "Solitude", Type: graph.NodeSymbol}}
	if req.Observer.OnNodes != nil {
		req.Observer.OnNodes(nodes)
	}
	state := graph.NewState(nodes)
	var cps []graph.Checkpoint
	rounds := max(req.Rounds, 1)
	for n := 1; n <= rounds; n++ {
		cp := state.Checkpoint(n, fmt.Sprintf("round %d", n))
		cps = append(cps, cp)
		if req.Observer.OnRound != nil {
			req.Observer.OnRound(cp)
		}
	}
	s := &rhizome.Session{
		ID:        fmt.Sprintf("id-%d", len(f.sessions)+1),
		Kind:      string(req.Kind),
		CreatedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Result: mapping.Result{
			Narrative:   req.Narrative,
			Question:    req.Question,
			Mode:        req.Mode,
			Graph:       state,
			Checkpoints: cps,
			Synthesis:   "Walk on.",
		},
	}
	f.sessions[s.ID] = s
	return s, nil
}

func (f *fakeEngine) Get(ctx context.Context, id string) (*rhizome.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", rhizome.ErrReadingNotFound, id)
	}
	return s, nil
}

func (f *fakeEngine) List(ctx context.Context, limit, offset int) ([]store.Summary, error) {
	var out []store.Summary
	for id, s := range f.sessions {
		out = append(out, store.Summary{ID: id, Question: s.Question})
	}
	return out, nil
}

func (f *fakeEngine) Search(ctx context.Context, query string, limit int) ([]retrieval.Hit, error) {
	list, _ := f.List(ctx, limit, 0)
	hits := make([]retrieval.Hit, len(list))
	for i, sm := range list {
		hits[i] = retrieval.Hit{Summary: sm, Score: 1}
	}
	return hits, nil
}

func (f *fakeEngine) Delete(ctx context.Context, id string) error {
	if _, ok := f.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", rhizome.ErrReadingNotFound, id)
	}
	delete(f.sessions, id)
	return nil
}

func (f *fakeEngine) Similar(ctx context.Context, query string, k int) ([]store.NodeMatch, error) {
	return nil, rhizome.ErrEmbeddingsDisabled
}

func (f *fakeEngine) Export(ctx context.Context, id string, format export.Format, w io.Writer) error {
	s, err := f.Get(ctx, id)
	if err != nil {
		return err
	}
	return export.Write(w, format, s.Document(), nil)
}

func (f *fakeEngine) Mentions(text string) []mentions.Mention {
	return mentions.Detect(text, mentions.DefaultCatalog())
}

func (f *fakeEngine) ImportNarrative(ctx context.Context, path string) (*parser.ParseResult, error) {
	return nil, rhizome.ErrUnsupportedFormat
}

func (f *fakeEngine) Catalog() mentions.Catalog { return mentions.DefaultCatalog() }
func (f *fakeEngine) Store() *store.Store        { return nil }
func (f *fakeEngine) Close() error               { return nil }

func newTestServer(t *testing.T, e rhizome.Engine) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	newHandler(e, time.Minute).register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestReadingEndpoint(t *testing.T) {
	srv := newTestServer(t, newFakeEngine())

	resp, body := postJSON(t, srv.URL+"/api/readings", `{"kind":"specific","question":"Where now?"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "The Hermit lights the way.", body["reading"])
	mentioned := body["mentions"].([]any)
	require.Len(t, mentioned, 1)
	assert.Equal(t, "the hermit", mentioned[0].(map[string]any)["name"])
}

func TestReadingValidation(t *testing.T) {
	srv := newTestServer(t, newFakeEngine())

	tests := []struct {
		body string
		want string
	}{
		{`{"kind":"specific"}`, "Question is required"},
		{`{"kind":"tarot","question":"q"}`, "Kind is invalid"},
		{`not json`, "invalid JSON"},
	}
	for _, tt := range tests {
		resp, body := postJSON(t, srv.URL+"/api/readings", tt.body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, tt.body)
		assert.Equal(t, tt.want, body["error"], tt.body)
	}
}

func TestReadingUpstreamFailure(t *testing.T) {
	e := newFakeEngine()
	e.readErr = fmt.Errorf("%w: boom", rhizome.ErrLLMRequestFailed)
	srv := newTestServer(t, e)

	resp, _ := postJSON(t, srv.URL+"/api/readings", `{"kind":"deep","question":"q"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestFollowUpEndpoint(t *testing.T) {
	srv := newTestServer(t, newFakeEngine())

	resp, body := postJSON(t, srv.URL+"/api/readings/followup", `{"narrative":"First.","followUp":"And then?"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["sections"])
}

func TestMappingLifecycle(t *testing.T) {
	e := newFakeEngine()
	srv := newTestServer(t, e)

	resp, body := postJSON(t, srv.URL+"/api/mappings",
		`{"kind":"general","question":"q","narrative":"The Hermit walks.","mode":"chaos","rounds":2}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	id := body["id"].(string)
	assert.Equal(t, "chaos", body["mode"])
	assert.Len(t, body["checkpoints"], 2)
	assert.Equal(t, mapping.ModeChaos, e.lastMap.Mode)

	get, err := http.Get(srv.URL + "/api/mappings/" + id)
	require.NoError(t, err)
	get.Body.Close()
	assert.Equal(t, http.StatusOK, get.StatusCode)

	exp, err := http.Get(srv.URL + "/api/mappings/" + id + "/export?format=html")
	require.NoError(t, err)
	html, _ := io.ReadAll(exp.Body)
	exp.Body.Close()
	assert.Equal(t, http.StatusOK, exp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", exp.Header.Get("Content-Type"))
	assert.Contains(t, exp.Header.Get("Content-Disposition"), "tarot-general-20250301-120000.html")
	assert.Contains(t, string(html), "cards/")

	bad, err := http.Get(srv.URL + "/api/mappings/" + id + "/export?format=pdf")
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/mappings/"+id, nil)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	del.Body.Close()
	assert.Equal(t, http.StatusOK, del.StatusCode)

	missing, err := http.Get(srv.URL + "/api/mappings/" + id)
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestNeighborhoodEndpoint(t *testing.T) {
	e := newFakeEngine()
	srv := newTestServer(t, e)

	_, body := postJSON(t, srv.URL+"/api/mappings", `{"narrative":"x","mode":"control"}`)
	id := body["id"].(string)

	resp, err := http.Get(srv.URL + "/api/mappings/" + id + "/nodes/node1/neighborhood?depth=2")
	require.NoError(t, err)
	var out struct {
		Nodes []graph.Node `json:"nodes"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, out.Nodes, 1)
	assert.Equal(t, "Solitude", out.Nodes[0].Label)

	resp, err = http.Get(srv.URL + "/api/mappings/" + id + "/nodes/node9/neighborhood")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMappingValidation(t *testing.T) {
	srv := newTestServer(t, newFakeEngine())

	resp, body := postJSON(t, srv.URL+"/api/mappings", `{"narrative":"x","mode":"wild"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Mode is invalid", body["error"])

	resp, body = postJSON(t, srv.URL+"/api/mappings", `{"mode":"control"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Narrative is required", body["error"])
}

func TestMappingStream(t *testing.T) {
	srv := newTestServer(t, newFakeEngine())

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/mappings",
		strings.NewReader(`{"narrative":"The Sun rises.","mode":"control","rounds":3}`))
	require.NoError(t, err)
	req.Header.Set("Accept", "application/x-ndjson")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	var types []string
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var ev progressEvent
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		types = append(types, ev.Type)
		if ev.Type == "round" {
			assert.Equal(t, mapping.RoundDescription(ev.Checkpoint.Round), ev.Description)
		}
	}
	assert.Equal(t, []string{"extracting", "nodes", "round", "round", "round", "complete"}, types)
}

func TestSimilarDisabled(t *testing.T) {
	srv := newTestServer(t, newFakeEngine())

	resp, err := http.Get(srv.URL + "/api/similar?q=solitude")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/similar")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMentionsEndpoint(t *testing.T) {
	srv := newTestServer(t, newFakeEngine())

	resp, body := postJSON(t, srv.URL+"/api/mentions", `{"text":"The Moon reversed.\n\nThe Tower falls."}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["mentions"], 2)
	assert.Len(t, body["paragraphs"], 2)
}

func TestAuthMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := authMiddleware("secret", ok)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/mappings", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/mappings", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	for _, path := range []string{"/health", "/metrics"} {
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestHTTPMetricsUsesPattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newHTTPMetrics(reg)

	mux := http.NewServeMux()
	newHandler(newFakeEngine(), time.Minute).register(mux)
	h := m.middleware(mux)

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/mappings/"+id, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}
	assert.Equal(t, float64(2), testutil.ToFloat64(m.requests.WithLabelValues("GET /api/mappings/{id}", "404")))
}

func TestErrorStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, errorStatus(fmt.Errorf("%w: x", rhizome.ErrInvalidMode)))
	assert.Equal(t, http.StatusGatewayTimeout, errorStatus(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)))
	assert.Equal(t, http.StatusInternalServerError, errorStatus(io.ErrUnexpectedEOF))
}
