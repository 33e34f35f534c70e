package commands

import (
	"context"
	"fmt"

	"github.com/cuongbtq/pythia/internal/domain"
	"github.com/cuongbtq/pythia/internal/transform"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

// EnrichAction fetches GO and/or KEGG enrichment concurrently and prints
// each table in the requested order
func EnrichAction(ctx context.Context, cmd *cli.Command) error {
	app, err := NewAppContext(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	params, err := queryParams(cmd, app.Config.Defaults.Params)
	if err != nil {
		return err
	}
	q, err := enrichQuery(cmd, app.Config.Defaults.Enrich)
	if err != nil {
		return err
	}
	kinds, err := enrichKinds(cmd.String("kind"))
	if err != nil {
		return err
	}
	if len(kinds) == 0 {
		return domain.NewValidationError("kind", "at least one of go or kegg is required")
	}
	sort, err := sortState(cmd)
	if err != nil {
		return err
	}

	jobID := cmd.String("job")
	results := make([]*domain.EnrichResult, len(kinds))
	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		g.Go(func() error {
			er, err := app.Client.GetEnrichment(gctx, jobID, kind, params, q)
			if err != nil {
				return fmt.Errorf("failed to get %s enrichment: %w", kind, err)
			}
			results[i] = er
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, er := range results {
		if err := renderEnrichment(app.Out, er.Kind, transform.SortItems(er.Items, sort), sort); err != nil {
			return err
		}
	}
	return nil
}
