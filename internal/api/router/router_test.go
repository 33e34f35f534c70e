package router

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/cuongbtq/pythia/internal/api/handler"
	"github.com/cuongbtq/pythia/internal/domain"
	"github.com/cuongbtq/pythia/internal/session"
	"github.com/cuongbtq/pythia/internal/transform"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	mu sync.Mutex

	upload    domain.Upload
	counts    string
	submitErr error

	params    domain.QueryParams
	enrich    map[domain.EnrichKind]domain.EnrichQuery
	commitErr error
	results   *domain.ResultSet
	enriched  map[domain.EnrichKind]*domain.EnrichResult
	fetchErr  error
	sort      transform.SortState
	closed    int
}

func newFakeSession() *fakeSession {
	q := domain.DefaultEnrichQuery()
	return &fakeSession{
		params:   domain.DefaultQueryParams(),
		enrich:   map[domain.EnrichKind]domain.EnrichQuery{domain.EnrichKindGO: q, domain.EnrichKindKEGG: q},
		enriched: map[domain.EnrichKind]*domain.EnrichResult{},
		sort:     transform.DefaultSortState(),
	}
}

func (f *fakeSession) Submit(_ context.Context, u domain.Upload) (domain.Job, error) {
	if err := u.Validate(); err != nil {
		return domain.Job{}, err
	}
	b, _ := io.ReadAll(u.Counts.Reader)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upload, f.counts = u, string(b)
	if f.submitErr != nil {
		return domain.Job{}, f.submitErr
	}
	return domain.Job{ID: "job-1", State: domain.JobStateQueued}, nil
}

func (f *fakeSession) CommitParams(_ context.Context, p domain.QueryParams) error {
	if err := p.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params = p
	return f.commitErr
}

func (f *fakeSession) FetchEnrichment(_ context.Context, kind domain.EnrichKind, q domain.EnrichQuery) (*domain.EnrichResult, error) {
	if f.results == nil {
		return nil, domain.ErrNoCompletedJob
	}
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	er := &domain.EnrichResult{JobID: "job-1", Kind: kind, Query: q, Items: []domain.EnrichItem{
		{Term: "T1", Description: "small", Count: 5, PAdjust: 0.01, NegLog10Padj: 2},
		{Term: "T2", Description: "large", Count: 10, PAdjust: 0.001, NegLog10Padj: 3},
	}}
	f.mu.Lock()
	f.enriched[kind] = er
	f.mu.Unlock()
	return er, nil
}

func (f *fakeSession) Snapshot() session.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return session.State{SessionID: "s-1", Params: f.params, Enrich: f.enrich, HasResults: f.results != nil}
}

func (f *fakeSession) Volcano() (transform.VolcanoView, error) {
	if f.results == nil {
		return transform.VolcanoView{}, domain.ErrNoCompletedJob
	}
	return transform.Volcano(f.results.Volcano, f.params.PadjCutoff, f.params.LfcThresh, f.params.ItemLimit), nil
}

func (f *fakeSession) PCA() ([]transform.PCATrace, error) {
	if f.results == nil {
		return nil, domain.ErrNoCompletedJob
	}
	return transform.GroupPCA(f.results.PCA), nil
}

func (f *fakeSession) TopTable() (domain.TopTable, error) {
	if f.results == nil {
		return domain.TopTable{}, domain.ErrNoCompletedJob
	}
	return f.results.TopTable, nil
}

func (f *fakeSession) Enrichment(kind domain.EnrichKind) *domain.EnrichResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enriched[kind]
}

func (f *fakeSession) EnrichTable(kind domain.EnrichKind) ([]domain.EnrichItem, transform.SortState, error) {
	er := f.Enrichment(kind)
	if er == nil {
		return nil, f.sort, domain.ErrNoCompletedJob
	}
	return transform.SortItems(er.Items, f.sort), f.sort, nil
}

func (f *fakeSession) ToggleSort(_ domain.EnrichKind, key transform.SortKey) transform.SortState {
	f.sort = f.sort.Toggle(key)
	return f.sort
}

func (f *fakeSession) Downloads() (session.Downloads, error) {
	if f.results == nil {
		return session.Downloads{}, domain.ErrNoCompletedJob
	}
	return session.Downloads{Results: "http://backend/jobs/job-1/download"}, nil
}

func (f *fakeSession) Close() {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
}

func completedResults() *domain.ResultSet {
	return &domain.ResultSet{
		JobID:   "job-1",
		Volcano: []domain.DEResultRow{{Gene: "G1", Log2FC: 2, Padj: 0.001}},
		PCA: []domain.PCAPoint{
			{Sample: "s1", PC1: 1, PC2: 2, Group: "T"},
			{Sample: "s2", PC1: 3, PC2: 4, Group: "C"},
		},
		TopTable: domain.TopTable{
			Columns: []string{"gene", "padj"},
			Rows:    [][]domain.Cell{{domain.StringCell("G1"), domain.NumberCell(0.001)}},
		},
	}
}

type harness struct {
	engine   *gin.Engine
	handler  *handler.SessionHandler
	sessions []*fakeSession
}

func newHarness(t *testing.T, setup func(*fakeSession)) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := &harness{}
	deps := &handler.Dependencies{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		NewSession: func() handler.Session {
			s := newFakeSession()
			if setup != nil {
				setup(s)
			}
			h.sessions = append(h.sessions, s)
			return s
		},
		MaxUploadBytes: 1 << 20,
	}
	h.engine, h.handler = SetupRouter(deps)
	return h
}

func (h *harness) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)
	return w
}

func (h *harness) doJSON(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	return h.do(t, method, path, r, "application/json")
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m), w.Body.String())
	return m
}

func multipartBody(t *testing.T, files map[string]string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		fw, err := mw.CreateFormFile(name, name+".csv")
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestHealth(t *testing.T) {
	h := newHarness(t, nil)

	w := h.doJSON(t, http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestRequestID_Propagated(t *testing.T) {
	h := newHarness(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc")
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)

	assert.Equal(t, "abc", w.Header().Get(RequestIDHeader))
}

func TestCreateJob(t *testing.T) {
	tests := []struct {
		name       string
		files      map[string]string
		fields     map[string]string
		wantStatus int
		wantField  string
		wantDesign string
	}{
		{
			name:       "submitted",
			files:      map[string]string{"counts": "gene,s1\nG1,5\n", "metadata": "sample,condition\ns1,T\n"},
			fields:     map[string]string{"design_col": "group"},
			wantStatus: http.StatusAccepted,
			wantDesign: "group",
		},
		{
			name:       "design column defaults",
			files:      map[string]string{"counts": "gene,s1\nG1,5\n", "metadata": "sample,condition\ns1,T\n"},
			wantStatus: http.StatusAccepted,
			wantDesign: domain.DefaultDesignColumn,
		},
		{
			name:       "missing metadata",
			files:      map[string]string{"counts": "gene,s1\nG1,5\n"},
			wantStatus: http.StatusBadRequest,
			wantField:  "metadata",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			body, ct := multipartBody(t, tt.files, tt.fields)

			w := h.do(t, http.MethodPost, "/api/v1/session/jobs", body, ct)

			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			m := decode(t, w)
			if tt.wantField != "" {
				assert.Equal(t, tt.wantField, m["field"])
				return
			}
			assert.Equal(t, "job-1", m["job_id"])
			assert.Equal(t, "queued", m["status"])
			s := h.sessions[0]
			assert.Equal(t, tt.wantDesign, s.upload.DesignColumn)
			assert.Equal(t, "gene,s1\nG1,5\n", s.counts)
		})
	}
}

func TestCreateJob_TooLarge(t *testing.T) {
	h := newHarness(t, nil)
	body, ct := multipartBody(t, map[string]string{
		"counts":   strings.Repeat("x", 2<<20),
		"metadata": "m",
	}, nil)

	w := h.do(t, http.MethodPost, "/api/v1/session/jobs", body, ct)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestCreateJob_BackendError(t *testing.T) {
	h := newHarness(t, func(s *fakeSession) {
		s.submitErr = &domain.TransportError{Op: "create job", StatusCode: 500, Body: "<html>boom</html>"}
	})
	body, ct := multipartBody(t, map[string]string{"counts": "c", "metadata": "m"}, nil)

	w := h.do(t, http.MethodPost, "/api/v1/session/jobs", body, ct)

	require.Equal(t, http.StatusBadGateway, w.Code)
	m := decode(t, w)
	assert.Equal(t, float64(500), m["backend_status"])
	assert.Equal(t, "<html>boom</html>", m["backend_body"])
}

func TestResultViews_BeforeCompletion(t *testing.T) {
	h := newHarness(t, nil)

	for _, path := range []string{"volcano", "pca", "top-table", "downloads"} {
		w := h.doJSON(t, http.MethodGet, "/api/v1/session/"+path, "")
		assert.Equal(t, http.StatusConflict, w.Code, path)
	}
}

func TestResultViews(t *testing.T) {
	h := newHarness(t, func(s *fakeSession) { s.results = completedResults() })

	w := h.doJSON(t, http.MethodGet, "/api/v1/session/volcano", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	v := decode(t, w)
	assert.Len(t, v["points"], 1)
	assert.Equal(t, float64(1), v["counts"].(map[string]any)["Upregulated"])

	w = h.doJSON(t, http.MethodGet, "/api/v1/session/pca", "")
	require.Equal(t, http.StatusOK, w.Code)
	traces := decode(t, w)["traces"].([]any)
	require.Len(t, traces, 2)
	assert.Equal(t, "T", traces[0].(map[string]any)["group"])

	w = h.doJSON(t, http.MethodGet, "/api/v1/session/top-table", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"G1"`)

	w = h.doJSON(t, http.MethodGet, "/api/v1/session/downloads", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://backend/jobs/job-1/download", decode(t, w)["results"])
}

func TestUpdateParams(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		commitErr  error
		wantStatus int
		wantPadj   float64
	}{
		{
			name:       "partial update",
			body:       `{"padj_cutoff":0.01}`,
			wantStatus: http.StatusOK,
			wantPadj:   0.01,
		},
		{
			name:       "out of range",
			body:       `{"padj_cutoff":0}`,
			wantStatus: http.StatusBadRequest,
			wantPadj:   0.05,
		},
		{
			name:       "malformed body",
			body:       `{"padj_cutoff":`,
			wantStatus: http.StatusBadRequest,
			wantPadj:   0.05,
		},
		{
			name:       "re-query failed",
			body:       `{"padj_cutoff":0.2}`,
			commitErr:  &domain.TransportError{Op: "get results", StatusCode: 503},
			wantStatus: http.StatusBadGateway,
			wantPadj:   0.2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(s *fakeSession) { s.commitErr = tt.commitErr })

			w := h.doJSON(t, http.MethodPut, "/api/v1/session/params", tt.body)

			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			assert.Equal(t, tt.wantPadj, h.sessions[0].params.PadjCutoff)
		})
	}
}

func TestEnrichment(t *testing.T) {
	h := newHarness(t, func(s *fakeSession) { s.results = completedResults() })

	w := h.doJSON(t, http.MethodGet, "/api/v1/session/enrich/go", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.doJSON(t, http.MethodPost, "/api/v1/session/enrich/go", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	m := decode(t, w)
	assert.Equal(t, "go", m["kind"])
	assert.Len(t, m["items"], 2)

	w = h.doJSON(t, http.MethodPost, "/api/v1/session/enrich/kegg", `{"organism":"mmu","ontology":""}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	q := decode(t, w)["query"].(map[string]any)
	assert.Equal(t, "mmu", q["organism"])
	assert.NotContains(t, q, "ontology")

	w = h.doJSON(t, http.MethodGet, "/api/v1/session/enrich/go?view=table", "")
	require.Equal(t, http.StatusOK, w.Code)
	items := decode(t, w)["items"].([]any)
	assert.Equal(t, "T2", items[0].(map[string]any)["term"])

	w = h.doJSON(t, http.MethodGet, "/api/v1/session/enrich/go?view=bar", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["bars"], 2)

	w = h.doJSON(t, http.MethodGet, "/api/v1/session/enrich/go?view=dot", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["dots"], 2)

	w = h.doJSON(t, http.MethodGet, "/api/v1/session/enrich/go?view=pie", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEnrichment_Errors(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       string
		setup      func(*fakeSession)
		wantStatus int
	}{
		{
			name:       "unknown kind",
			path:       "/api/v1/session/enrich/reactome",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "before completion",
			path:       "/api/v1/session/enrich/go",
			wantStatus: http.StatusConflict,
		},
		{
			name:       "invalid settings",
			path:       "/api/v1/session/enrich/go",
			body:       `{"top":0}`,
			setup:      func(s *fakeSession) { s.results = completedResults(); s.fetchErr = domain.NewValidationError("top", "must be greater than 0") },
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "backend error",
			path:       "/api/v1/session/enrich/go",
			setup:      func(s *fakeSession) { s.results = completedResults(); s.fetchErr = &domain.TransportError{Op: "enrich", StatusCode: 500} },
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "stale response",
			path:       "/api/v1/session/enrich/go",
			setup:      func(s *fakeSession) { s.results = completedResults(); s.fetchErr = domain.ErrSuperseded },
			wantStatus: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.setup)

			w := h.doJSON(t, http.MethodPost, tt.path, tt.body)

			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
		})
	}
}

func TestSortEnrichment(t *testing.T) {
	h := newHarness(t, nil)

	w := h.doJSON(t, http.MethodPost, "/api/v1/session/enrich/go/sort", `{"key":"count"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{"key": "count", "desc": false}, decode(t, w))

	w = h.doJSON(t, http.MethodPost, "/api/v1/session/enrich/go/sort", `{"key":"count"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["desc"])

	w = h.doJSON(t, http.MethodPost, "/api/v1/session/enrich/go/sort", `{"key":"color"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.doJSON(t, http.MethodPost, "/api/v1/session/enrich/go/sort", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteSession(t *testing.T) {
	h := newHarness(t, nil)

	w := h.doJSON(t, http.MethodDelete, "/api/v1/session", "")
	require.Equal(t, http.StatusNoContent, w.Code)

	require.Len(t, h.sessions, 2)
	assert.Equal(t, 1, h.sessions[0].closed)
	assert.Equal(t, 0, h.sessions[1].closed)

	w = h.doJSON(t, http.MethodGet, "/api/v1/session", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "s-1", decode(t, w)["session_id"])

	h.handler.Shutdown()
	assert.Equal(t, 1, h.sessions[1].closed)
}

func TestCORS_Preflight(t *testing.T) {
	h := newHarness(t, nil)

	w := h.doJSON(t, http.MethodOptions, "/api/v1/session", "")

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
