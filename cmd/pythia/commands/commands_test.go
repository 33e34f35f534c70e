package commands

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/cuongbtq/pythia/internal/domain"
	"github.com/cuongbtq/pythia/internal/transform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

const resultsBody = `{
	"job_id": "j1",
	"volcano": [
		{"gene": "G1", "log2FC": 2.5, "padj": 0.001},
		{"gene": "G2", "log2FC": -0.1, "padj": 0.5}
	],
	"pca": [
		{"sample": "s1", "PC1": 1, "PC2": 2, "group": "T"},
		{"sample": "s2", "PC1": -1, "PC2": 0.5, "group": "C"}
	],
	"top_table": [{"gene": "G1", "padj": 0.001}]
}`

const enrichBody = `{"items": [
	{"term": "GO:1", "description": "cell cycle", "count": 3, "gene_ratio": 0.1, "p_adjust": 0.01, "neglog10padj": 2},
	{"term": "GO:2", "description": "apoptosis", "count": 8, "gene_ratio": 0.3, "p_adjust": null, "neglog10padj": null}
]}`

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /jobs", func(w http.ResponseWriter, r *http.Request) {
		if _, _, err := r.FormFile("counts"); err != nil {
			http.Error(w, "counts missing", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"job_id":"j1","status":"queued"}`)
	})
	mux.HandleFunc("GET /jobs/j1/status", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < 2 {
			fmt.Fprint(w, `{"status":"running"}`)
			return
		}
		fmt.Fprint(w, `{"status":"completed"}`)
	})
	mux.HandleFunc("GET /jobs/j1/results", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, resultsBody)
	})
	mux.HandleFunc("GET /jobs/j1/enrich/{kind}", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, enrichBody)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, backend string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := fmt.Sprintf(`backend:
  base_url: %q
poll:
  interval: 10ms
logging:
  output: discard
`, backend)
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func writeInput(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := NewApp()
	app.Writer = &out
	app.ErrWriter = io.Discard
	err := app.Run(context.Background(), append([]string{"pythia"}, args...))
	return out.String(), err
}

func TestRunAction(t *testing.T) {
	srv := newBackend(t)
	cfg := writeConfig(t, srv.URL)

	out, err := runApp(t, "--config", cfg, "run",
		"--counts", writeInput(t, "counts.csv", "gene,s1\nG1,5\n"),
		"--metadata", writeInput(t, "meta.csv", "sample,condition\ns1,T\n"),
		"--enrich", "go",
		"--sort", "count", "--desc",
	)
	require.NoError(t, err)

	assert.Contains(t, out, "Upregulated")
	assert.Contains(t, out, "cell cycle")
	assert.Contains(t, out, "go enrichment (2 terms, sorted by count desc)")
	assert.Contains(t, out, srv.URL+"/jobs/j1/download")
	assert.Less(t, bytes.Index([]byte(out), []byte("apoptosis")), bytes.Index([]byte(out), []byte("cell cycle")))
}

func TestRunAction_MissingInput(t *testing.T) {
	srv := newBackend(t)
	cfg := writeConfig(t, srv.URL)

	_, err := runApp(t, "--config", cfg, "run",
		"--counts", filepath.Join(t.TempDir(), "absent.csv"),
		"--metadata", writeInput(t, "meta.csv", "sample\n"),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open input")
}

func TestStatusAction(t *testing.T) {
	srv := newBackend(t)

	out, err := runApp(t, "--config", writeConfig(t, srv.URL), "status", "--job", "j1")
	require.NoError(t, err)
	assert.Equal(t, "j1\trunning\n", out)
}

func TestResultsAction(t *testing.T) {
	srv := newBackend(t)

	out, err := runApp(t, "--config", writeConfig(t, srv.URL), "results", "--job", "j1", "--padj", "0.01")
	require.NoError(t, err)
	assert.Contains(t, out, "Volcano: 2 genes, padj <= 0.01")
	assert.Contains(t, out, "G1")
	assert.Contains(t, out, "s2")
}

func TestEnrichAction(t *testing.T) {
	srv := newBackend(t)

	out, err := runApp(t, "--config", writeConfig(t, srv.URL), "enrich", "--job", "j1", "--kind", "both")
	require.NoError(t, err)
	assert.Contains(t, out, "go enrichment")
	assert.Contains(t, out, "kegg enrichment")
	assert.Contains(t, out, "NA")
}

func TestEnrichAction_BackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not ready", http.StatusConflict)
	}))
	t.Cleanup(srv.Close)

	_, err := runApp(t, "--config", writeConfig(t, srv.URL), "enrich", "--job", "j1", "--kind", "kegg")
	require.Error(t, err)
	assert.True(t, domain.IsTransport(err))
}

func TestUrlsAction(t *testing.T) {
	out, err := runApp(t, "--backend", "http://localhost:8000", "urls", "--job", "j1", "--a", "T", "--b", "C")
	require.NoError(t, err)
	assert.Contains(t, out, "http://localhost:8000/jobs/j1/download?a=T&b=C")
	assert.Contains(t, out, "kegg tsv")
}

func TestQueryParams(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    domain.QueryParams
		wantErr string
	}{
		{
			name: "defaults",
			want: domain.DefaultQueryParams(),
		},
		{
			name: "overrides",
			args: []string{"--padj", "0.01", "--top-n", "5", "--a", "T", "--b", "C"},
			want: func() domain.QueryParams {
				p := domain.DefaultQueryParams().WithContrast("T", "C")
				p.PadjCutoff = 0.01
				p.TopN = 5
				return p
			}(),
		},
		{
			name:    "half contrast",
			args:    []string{"--a", "T"},
			wantErr: "contrast",
		},
		{
			name:    "out of range",
			args:    []string{"--lfc", "-1"},
			wantErr: "lfc_thresh",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got domain.QueryParams
			var gotErr error
			cmd := &cli.Command{
				Name:  "test",
				Flags: ParamFlags(),
				Action: func(_ context.Context, cmd *cli.Command) error {
					got, gotErr = queryParams(cmd, domain.DefaultQueryParams())
					return nil
				},
			}
			require.NoError(t, cmd.Run(context.Background(), append([]string{"test"}, tt.args...)))

			if tt.wantErr != "" {
				require.Error(t, gotErr)
				assert.Contains(t, gotErr.Error(), tt.wantErr)
				return
			}
			require.NoError(t, gotErr)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEnrichKinds(t *testing.T) {
	tests := []struct {
		in      string
		want    []domain.EnrichKind
		wantErr bool
	}{
		{in: "both", want: []domain.EnrichKind{domain.EnrichKindGO, domain.EnrichKindKEGG}},
		{in: "KEGG", want: []domain.EnrichKind{domain.EnrichKindKEGG}},
		{in: "go, kegg", want: []domain.EnrichKind{domain.EnrichKindGO, domain.EnrichKindKEGG}},
		{in: ""},
		{in: "reactome", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := enrichKinds(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrUnknownKind)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderTopTable_Limit(t *testing.T) {
	table := domain.TopTable{
		Columns: []string{"gene", "padj"},
		Rows: [][]domain.Cell{
			{domain.StringCell("G1"), domain.NumberCell(0.001)},
			{domain.StringCell("G2"), domain.NumberCell(0.002)},
			{domain.StringCell("G3"), {}},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, renderTopTable(&buf, table, 2))
	assert.Contains(t, buf.String(), "G2")
	assert.NotContains(t, buf.String(), "G3")

	buf.Reset()
	require.NoError(t, renderTopTable(&buf, table, 0))
	assert.Contains(t, buf.String(), "G3")
	assert.Contains(t, buf.String(), "null")
}

func TestFormatFloat(t *testing.T) {
	assert.Equal(t, "NA", formatFloat(math.NaN()))
	assert.Equal(t, "0.05", formatFloat(0.05))
}

func TestRenderEnrichment(t *testing.T) {
	items := []domain.EnrichItem{{Term: "K1", Description: "pathway", Count: 2, GeneRatio: 0.5, PAdjust: math.NaN(), NegLog10Padj: math.NaN()}}

	var buf bytes.Buffer
	require.NoError(t, renderEnrichment(&buf, domain.EnrichKindKEGG, items, transform.DefaultSortState()))
	assert.Contains(t, buf.String(), "kegg enrichment (1 terms, sorted by p_adjust asc)")
	assert.Contains(t, buf.String(), "NA")
}
