package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/cuongbtq/pythia/internal/controller"
	"github.com/cuongbtq/pythia/internal/domain"
	"github.com/cuongbtq/pythia/internal/session"
	"github.com/cuongbtq/pythia/internal/transform"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

// RunAction submits a job, waits for it to finish and prints its results
func RunAction(ctx context.Context, cmd *cli.Command) error {
	app, err := NewAppContext(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	params, err := queryParams(cmd, app.Config.Defaults.Params)
	if err != nil {
		return err
	}
	enrichQ, err := enrichQuery(cmd, app.Config.Defaults.Enrich)
	if err != nil {
		return err
	}
	kinds, err := enrichKinds(cmd.String("enrich"))
	if err != nil {
		return err
	}
	sort, err := sortState(cmd)
	if err != nil {
		return err
	}

	counts, err := openInput(cmd.String("counts"))
	if err != nil {
		return err
	}
	defer counts.Close()
	metadata, err := openInput(cmd.String("metadata"))
	if err != nil {
		return err
	}
	defer metadata.Close()

	var once sync.Once
	done := make(chan controller.Event, 1)
	progress := func(ev controller.Event) {
		fmt.Fprintf(cmd.Root().ErrWriter, "job %s: %s\n", ev.JobID, ev.To)
		if ev.To.IsTerminal() {
			once.Do(func() { done <- ev })
		}
	}

	s := session.New(&session.Config{
		Client:       app.Client,
		Logger:       app.Logger.Logger,
		PollInterval: app.Config.Poll.Interval,
		FetchTimeout: app.Config.Session.FetchTimeout,
		Params:       params,
		Enrich:       enrichQ,
		Listeners:    []controller.Listener{progress},
	})
	defer s.Close()

	job, err := s.Submit(ctx, domain.Upload{
		Counts:       &domain.File{Name: filepath.Base(counts.Name()), Reader: counts},
		Metadata:     &domain.File{Name: filepath.Base(metadata.Name()), Reader: metadata},
		DesignColumn: cmd.String("design-col"),
	})
	if err != nil {
		return fmt.Errorf("failed to submit job: %w", err)
	}
	app.Logger.Debug("Waiting for job", slog.String("job_id", job.ID))

	var final controller.Event
	select {
	case <-ctx.Done():
		return ctx.Err()
	case final = <-done:
	}
	if final.To == domain.JobStateFailed {
		if final.Err != nil {
			return final.Err
		}
		return &domain.JobFailedError{JobID: final.JobID}
	}

	// Joins the fetch the session started on completion
	if err := s.CommitParams(ctx, params); err != nil {
		return fmt.Errorf("failed to fetch results: %w", err)
	}

	if err := printResults(app, s, params, cmd.Int("rows")); err != nil {
		return err
	}

	if len(kinds) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		for _, kind := range kinds {
			g.Go(func() error {
				_, err := s.FetchEnrichment(gctx, kind, enrichQ)
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("failed to fetch enrichment: %w", err)
		}
		for _, kind := range kinds {
			setSort(s, kind, sort)
			items, state, err := s.EnrichTable(kind)
			if err != nil {
				return err
			}
			if err := renderEnrichment(app.Out, kind, items, state); err != nil {
				return err
			}
		}
	}

	d, err := s.Downloads()
	if err != nil {
		return err
	}
	return renderLinks(app.Out, []link{
		{"results", d.Results},
		{"go csv", d.GOCSV},
		{"go tsv", d.GOTSV},
		{"kegg csv", d.KEGGCSV},
		{"kegg tsv", d.KEGGTSV},
	})
}

func printResults(app *AppContext, s *session.Session, params domain.QueryParams, rows int) error {
	v, err := s.Volcano()
	if err != nil {
		return err
	}
	if err := renderVolcanoSummary(app.Out, v, params); err != nil {
		return err
	}
	traces, err := s.PCA()
	if err != nil {
		return err
	}
	if err := renderPCA(app.Out, traces); err != nil {
		return err
	}
	t, err := s.TopTable()
	if err != nil {
		return err
	}
	return renderTopTable(app.Out, t, rows)
}

// setSort toggles the table of kind until it matches want
func setSort(s *session.Session, kind domain.EnrichKind, want transform.SortState) {
	for i := 0; i < 2 && s.SortState(kind) != want; i++ {
		s.ToggleSort(kind, want.Key)
	}
}

func openInput(path string) (*os.File, error) {
	if path == "" {
		return nil, errors.New("input path is empty")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	return f, nil
}
