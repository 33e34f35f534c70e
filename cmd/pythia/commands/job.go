package commands

import (
	"context"
	"fmt"

	"github.com/cuongbtq/pythia/internal/domain"
	"github.com/cuongbtq/pythia/internal/transform"
	"github.com/urfave/cli/v3"
)

// StatusAction prints the backend state of a job
func StatusAction(ctx context.Context, cmd *cli.Command) error {
	app, err := NewAppContext(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	jobID := cmd.String("job")
	state, err := app.Client.GetStatus(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	_, err = fmt.Fprintf(app.Out, "%s\t%s\n", jobID, state)
	return err
}

// ResultsAction fetches and prints one results snapshot of a completed job
func ResultsAction(ctx context.Context, cmd *cli.Command) error {
	app, err := NewAppContext(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	params, err := queryParams(cmd, app.Config.Defaults.Params)
	if err != nil {
		return err
	}

	rs, err := app.Client.GetResults(ctx, cmd.String("job"), params)
	if err != nil {
		return fmt.Errorf("failed to get results: %w", err)
	}

	v := transform.Volcano(rs.Volcano, params.PadjCutoff, params.LfcThresh, params.ItemLimit)
	if err := renderVolcanoSummary(app.Out, v, params); err != nil {
		return err
	}
	if err := renderPCA(app.Out, transform.GroupPCA(rs.PCA)); err != nil {
		return err
	}
	return renderTopTable(app.Out, rs.TopTable, cmd.Int("rows"))
}

// UrlsAction prints the export links of a job without downloading them
func UrlsAction(_ context.Context, cmd *cli.Command) error {
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

	jobID := cmd.String("job")
	links := []link{{"results", app.Client.DownloadURL(jobID, params)}}
	for _, kind := range []domain.EnrichKind{domain.EnrichKindGO, domain.EnrichKindKEGG} {
		for _, format := range []domain.DownloadFormat{domain.FormatCSV, domain.FormatTSV} {
			u, err := app.Client.EnrichDownloadURL(jobID, kind, params, q, format)
			if err != nil {
				return err
			}
			links = append(links, link{fmt.Sprintf("%s %s", kind, format), u})
		}
	}
	return renderLinks(app.Out, links)
}
