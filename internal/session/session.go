// Package session is the consumer-facing orchestrator: it owns the current
// job, the committed parameter snapshot and the displayed results.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/pythia/internal/client"
	"github.com/cuongbtq/pythia/internal/controller"
	"github.com/cuongbtq/pythia/internal/domain"
	"github.com/cuongbtq/pythia/internal/query"
	"github.com/cuongbtq/pythia/internal/transform"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// ErrClosed is returned by operations on a closed session
var ErrClosed = errors.New("session closed")

// Cache stores fetched snapshots. Implementations must be safe for concurrent use.
type Cache interface {
	PutResults(ctx context.Context, key string, rs *domain.ResultSet) error
	GetResults(ctx context.Context, jobID, key string) (*domain.ResultSet, error)
	PutEnrichment(ctx context.Context, key string, er *domain.EnrichResult) error
	GetEnrichment(ctx context.Context, jobID string, kind domain.EnrichKind, key string) (*domain.EnrichResult, error)
	DeleteJob(ctx context.Context, jobID string) error
}

// Config holds session configuration
type Config struct {
	// ID names the session; a random id is used when empty
	ID           string
	Client       client.ResultsClient
	Cache        Cache
	Logger       *slog.Logger
	PollInterval time.Duration
	FetchTimeout time.Duration
	Params       domain.QueryParams
	Enrich       domain.EnrichQuery
	// Listeners receive job transitions after the session has handled them
	Listeners []controller.Listener
}

// Session drives one job at a time. Displayed snapshots are immutable and
// replaced wholesale; readers never observe a partial update.
type Session struct {
	id           string
	ctrl         *controller.Controller
	client       client.ResultsClient
	cache        Cache
	logger       *slog.Logger
	fetchTimeout time.Duration

	group singleflight.Group

	mu           sync.Mutex
	params       domain.QueryParams
	enrich       map[domain.EnrichKind]domain.EnrichQuery
	sorts        map[domain.EnrichKind]transform.SortState
	completedJob string
	lastErr      error

	results atomic.Pointer[domain.ResultSet]
	goRes   atomic.Pointer[domain.EnrichResult]
	keggRes atomic.Pointer[domain.EnrichResult]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// New creates an idle session
func New(cfg *Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = 2 * time.Minute
	}

	params := cfg.Params.Clone()
	if params == (domain.QueryParams{}) {
		params = domain.DefaultQueryParams()
	}
	enrich := cfg.Enrich
	if enrich.Mode == "" {
		enrich = domain.DefaultEnrichQuery()
	}

	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:           id,
		client:       cfg.Client,
		cache:        cfg.Cache,
		logger:       logger.With(slog.String("session_id", id)),
		fetchTimeout: fetchTimeout,
		params:       params,
		enrich: map[domain.EnrichKind]domain.EnrichQuery{
			domain.EnrichKindGO:   enrich,
			domain.EnrichKindKEGG: enrich,
		},
		sorts: map[domain.EnrichKind]transform.SortState{
			domain.EnrichKindGO:   transform.DefaultSortState(),
			domain.EnrichKindKEGG: transform.DefaultSortState(),
		},
		ctx:    ctx,
		cancel: cancel,
	}

	listeners := append([]controller.Listener{s.onTransition}, cfg.Listeners...)
	s.ctrl = controller.New(&controller.Config{
		Client:       cfg.Client,
		PollInterval: cfg.PollInterval,
		Logger:       s.logger,
		Listeners:    listeners,
	})
	return s
}

// ID identifies the session in logs and events
func (s *Session) ID() string { return s.id }

// Submit supersedes the current job with a new one. Displayed results are
// cleared once the upload has been validated.
func (s *Session) Submit(ctx context.Context, upload domain.Upload) (domain.Job, error) {
	if s.closed.Load() {
		return domain.Job{}, ErrClosed
	}
	if err := upload.Validate(); err != nil {
		return domain.Job{}, err
	}

	// no event of the previous job is delivered after this
	s.ctrl.Cancel()

	s.mu.Lock()
	prev := s.completedJob
	s.completedJob = ""
	s.lastErr = nil
	s.results.Store(nil)
	s.goRes.Store(nil)
	s.keggRes.Store(nil)
	s.mu.Unlock()

	if prev != "" && s.cache != nil {
		if err := s.cache.DeleteJob(ctx, prev); err != nil {
			s.logger.Warn("Failed to drop cached snapshots",
				slog.String("job_id", prev),
				slog.Any("error", err),
			)
		}
	}

	job, err := s.ctrl.CreateJob(ctx, upload)
	if err != nil {
		s.setErr(err)
		return job, err
	}
	return job, nil
}

// onTransition runs on the polling goroutine. Completion triggers exactly
// one results fetch with the committed parameters.
func (s *Session) onTransition(ev controller.Event) {
	switch ev.To {
	case domain.JobStateCompleted:
		s.mu.Lock()
		s.completedJob = ev.JobID
		p := s.params
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.fetchResults(s.ctx, ev.JobID, p); err != nil && !errors.Is(err, domain.ErrSuperseded) {
				s.logger.Error("Failed to fetch results",
					slog.String("job_id", ev.JobID),
					slog.Any("error", err),
				)
			}
		}()
	case domain.JobStateFailed:
		s.setErr(ev.Err)
	}
}

// CommitParams replaces the parameter snapshot. Once a job has completed it
// re-queries the backend unless the displayed results already match. On
// failure the displayed results are kept and LastError is set.
func (s *Session) CommitParams(ctx context.Context, p domain.QueryParams) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := p.Validate(); err != nil {
		return err
	}

	p = p.Clone()

	s.mu.Lock()
	s.params = p
	jobID := s.completedJob
	s.mu.Unlock()

	if jobID == "" {
		return nil
	}

	if cur := s.results.Load(); cur != nil && cur.JobID == jobID && query.ResultsKey(cur.Query) == query.ResultsKey(p) {
		return nil
	}
	return s.fetchResults(ctx, jobID, p)
}

func (s *Session) fetchResults(ctx context.Context, jobID string, p domain.QueryParams) error {
	key := query.ResultsKey(p)

	if s.cache != nil {
		rs, err := s.cache.GetResults(ctx, jobID, key)
		if err != nil {
			s.logger.Warn("Failed to read results cache", slog.Any("error", err))
		}
		if rs != nil {
			return s.showResults(jobID, key, rs)
		}
	}

	v, shared, err := s.await(ctx, "results|"+jobID+"|"+key, func(fctx context.Context) (any, error) {
		return s.client.GetResults(fctx, jobID, p)
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return s.resultsFailed(jobID, key, err)
	}
	rs := v.(*domain.ResultSet)

	if s.cache != nil && !shared {
		if err := s.cache.PutResults(ctx, key, rs); err != nil {
			s.logger.Warn("Failed to cache results", slog.Any("error", err))
		}
	}
	return s.showResults(jobID, key, rs)
}

// await joins the in-flight request for key, or starts it. The request runs
// on the session context so that a caller giving up does not cancel it for
// the others sharing it.
func (s *Session) await(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, bool, error) {
	ch := s.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(s.ctx, s.fetchTimeout)
		defer cancel()
		return fn(fctx)
	})
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case r := <-ch:
		return r.Val, r.Shared, r.Err
	}
}

// resultsFailed records err only if the failed request is still the one
// the committed parameters ask for.
func (s *Session) resultsFailed(jobID, key string, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.completedJob != jobID || query.ResultsKey(s.params) != key {
		s.logger.Debug("Discarding stale results error",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		return domain.ErrSuperseded
	}
	s.lastErr = err
	return err
}

// showResults swaps the display only if the snapshot still belongs to the
// current job and the latest committed parameters.
func (s *Session) showResults(jobID, key string, rs *domain.ResultSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.completedJob != jobID || query.ResultsKey(s.params) != key {
		s.logger.Debug("Discarding stale results",
			slog.String("job_id", jobID),
		)
		return domain.ErrSuperseded
	}
	s.results.Store(rs)
	s.lastErr = nil

	s.logger.Info("Results updated",
		slog.String("job_id", jobID),
		slog.Int("volcano_rows", len(rs.Volcano)),
		slog.Int("top_rows", rs.TopTable.Len()),
	)
	return nil
}

// FetchEnrichment queries GO or KEGG enrichment for the completed job with
// the committed parameters. On failure the previous enrichment stays displayed.
func (s *Session) FetchEnrichment(ctx context.Context, kind domain.EnrichKind, q domain.EnrichQuery) (*domain.EnrichResult, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if kind != domain.EnrichKindGO && kind != domain.EnrichKindKEGG {
		return nil, domain.ErrUnknownKind
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.enrich[kind] = q
	jobID := s.completedJob
	p := s.params
	s.mu.Unlock()

	if jobID == "" {
		return nil, domain.ErrNoCompletedJob
	}

	key := query.EnrichKey(kind, p, q)

	if s.cache != nil {
		er, err := s.cache.GetEnrichment(ctx, jobID, kind, key)
		if err != nil {
			s.logger.Warn("Failed to read enrichment cache", slog.Any("error", err))
		}
		if er != nil {
			return er, s.showEnrichment(jobID, kind, key, er)
		}
	}

	v, shared, err := s.await(ctx, "enrich|"+jobID+"|"+key, func(fctx context.Context) (any, error) {
		return s.client.GetEnrichment(fctx, jobID, kind, p, q)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, s.enrichFailed(jobID, kind, key, err)
	}
	er := v.(*domain.EnrichResult)

	if s.cache != nil && !shared {
		if err := s.cache.PutEnrichment(ctx, key, er); err != nil {
			s.logger.Warn("Failed to cache enrichment", slog.Any("error", err))
		}
	}
	return er, s.showEnrichment(jobID, kind, key, er)
}

func (s *Session) enrichFailed(jobID string, kind domain.EnrichKind, key string, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.completedJob != jobID || query.EnrichKey(kind, s.params, s.enrich[kind]) != key {
		s.logger.Debug("Discarding stale enrichment error",
			slog.String("job_id", jobID),
			slog.String("kind", string(kind)),
			slog.Any("error", err),
		)
		return domain.ErrSuperseded
	}
	s.lastErr = err
	return err
}

func (s *Session) showEnrichment(jobID string, kind domain.EnrichKind, key string, er *domain.EnrichResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.completedJob != jobID || query.EnrichKey(kind, s.params, s.enrich[kind]) != key {
		return domain.ErrSuperseded
	}
	s.enrichPtr(kind).Store(er)
	s.lastErr = nil

	s.logger.Info("Enrichment updated",
		slog.String("job_id", jobID),
		slog.String("kind", string(kind)),
		slog.Int("items", len(er.Items)),
	)
	return nil
}

func (s *Session) enrichPtr(kind domain.EnrichKind) *atomic.Pointer[domain.EnrichResult] {
	if kind == domain.EnrichKindKEGG {
		return &s.keggRes
	}
	return &s.goRes
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// Results returns the displayed results, or nil
func (s *Session) Results() *domain.ResultSet {
	return s.results.Load()
}

// Enrichment returns the displayed enrichment of kind, or nil
func (s *Session) Enrichment(kind domain.EnrichKind) *domain.EnrichResult {
	return s.enrichPtr(kind).Load()
}

// Volcano renders the displayed results with the thresholds they were fetched with
func (s *Session) Volcano() (transform.VolcanoView, error) {
	rs := s.results.Load()
	if rs == nil {
		return transform.VolcanoView{}, domain.ErrNoCompletedJob
	}
	return transform.Volcano(rs.Volcano, rs.Query.PadjCutoff, rs.Query.LfcThresh, rs.Query.ItemLimit), nil
}

// PCA groups the displayed sample projection
func (s *Session) PCA() ([]transform.PCATrace, error) {
	rs := s.results.Load()
	if rs == nil {
		return nil, domain.ErrNoCompletedJob
	}
	return transform.GroupPCA(rs.PCA), nil
}

// TopTable returns the displayed top-gene table
func (s *Session) TopTable() (domain.TopTable, error) {
	rs := s.results.Load()
	if rs == nil {
		return domain.TopTable{}, domain.ErrNoCompletedJob
	}
	return rs.TopTable, nil
}

// EnrichTable returns the displayed items of kind in the active sort order
func (s *Session) EnrichTable(kind domain.EnrichKind) ([]domain.EnrichItem, transform.SortState, error) {
	er := s.Enrichment(kind)
	state := s.SortState(kind)
	if er == nil {
		return nil, state, domain.ErrNoCompletedJob
	}
	return transform.SortItems(er.Items, state), state, nil
}

// SortState returns the active table sort of kind
func (s *Session) SortState(kind domain.EnrichKind) transform.SortState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorts[kind]
}

// ToggleSort selects key on the enrichment table of kind
func (s *Session) ToggleSort(kind domain.EnrichKind, key transform.SortKey) transform.SortState {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.sorts[kind].Toggle(key)
	s.sorts[kind] = next
	return next
}

// Downloads holds export links for the completed job
type Downloads struct {
	Results string `json:"results"`
	GOCSV   string `json:"go_csv"`
	GOTSV   string `json:"go_tsv"`
	KEGGCSV string `json:"kegg_csv"`
	KEGGTSV string `json:"kegg_tsv"`
}

// Downloads builds export links from the committed parameters
func (s *Session) Downloads() (Downloads, error) {
	s.mu.Lock()
	jobID := s.completedJob
	p := s.params
	goQ := s.enrich[domain.EnrichKindGO]
	keggQ := s.enrich[domain.EnrichKindKEGG]
	s.mu.Unlock()

	if jobID == "" {
		return Downloads{}, domain.ErrNoCompletedJob
	}

	d := Downloads{Results: s.client.DownloadURL(jobID, p)}
	links := []struct {
		dst    *string
		kind   domain.EnrichKind
		q      domain.EnrichQuery
		format domain.DownloadFormat
	}{
		{&d.GOCSV, domain.EnrichKindGO, goQ, domain.FormatCSV},
		{&d.GOTSV, domain.EnrichKindGO, goQ, domain.FormatTSV},
		{&d.KEGGCSV, domain.EnrichKindKEGG, keggQ, domain.FormatCSV},
		{&d.KEGGTSV, domain.EnrichKindKEGG, keggQ, domain.FormatTSV},
	}
	for _, l := range links {
		u, err := s.client.EnrichDownloadURL(jobID, l.kind, p, l.q, l.format)
		if err != nil {
			return Downloads{}, fmt.Errorf("failed to build %s download link: %w", l.kind, err)
		}
		*l.dst = u
	}
	return d, nil
}

// State is a point-in-time view of the session
type State struct {
	SessionID  string                                   `json:"session_id"`
	Job        domain.Job                               `json:"job"`
	Polling    bool                                     `json:"polling"`
	Params     domain.QueryParams                       `json:"params"`
	Enrich     map[domain.EnrichKind]domain.EnrichQuery `json:"enrich"`
	HasResults bool                                     `json:"has_results"`
	LastError  string                                   `json:"last_error,omitempty"`
}

// Snapshot returns the current session state
func (s *Session) Snapshot() State {
	job, polling := s.ctrl.Job(), s.ctrl.Polling()

	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		SessionID:  s.id,
		Job:        job,
		Polling:    polling,
		Params:     s.params.Clone(),
		Enrich:     make(map[domain.EnrichKind]domain.EnrichQuery, len(s.enrich)),
		HasResults: s.results.Load() != nil,
	}
	for k, q := range s.enrich {
		st.Enrich[k] = q
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// Params returns the committed parameter snapshot
func (s *Session) Params() domain.QueryParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params.Clone()
}

// LastError returns the most recent non-fatal error, cleared by the next success
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Close stops polling and waits for background fetches. It is safe to call
// more than once.
func (s *Session) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.ctrl.Cancel()
	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	jobID := s.completedJob
	s.mu.Unlock()
	if jobID != "" && s.cache != nil {
		if err := s.cache.DeleteJob(context.Background(), jobID); err != nil {
			s.logger.Warn("Failed to drop cached snapshots", slog.Any("error", err))
		}
	}
	s.logger.Info("Session closed")
}
