package commands

import (
	"slices"

	"github.com/cuongbtq/pythia/internal/config"
	"github.com/cuongbtq/pythia/internal/domain"
	"github.com/urfave/cli/v3"
)

func jobFlag() cli.Flag {
	return &cli.StringFlag{Name: "job", Usage: "backend job id", Required: true}
}

func rowsFlag() cli.Flag {
	return &cli.IntFlag{Name: "rows", Usage: "top-table rows to print (0 prints all)", Value: 20}
}

// NewApp builds the command tree
func NewApp() *cli.Command {
	return &cli.Command{
		Name:  "pythia",
		Usage: "Submit RNA-seq differential expression jobs and inspect their results",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "configuration file",
				Sources: cli.EnvVars(config.EnvConfigPath),
			},
			&cli.StringFlag{
				Name:    "backend",
				Usage:   "analysis backend base url",
				Sources: cli.EnvVars(config.EnvBackendURL),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Submit a job, wait for it and print its results",
				Flags: slices.Concat([]cli.Flag{
					&cli.StringFlag{Name: "counts", Usage: "counts matrix file", Required: true},
					&cli.StringFlag{Name: "metadata", Usage: "sample metadata file", Required: true},
					&cli.StringFlag{Name: "design-col", Usage: "metadata column holding the condition", Value: domain.DefaultDesignColumn},
					&cli.StringFlag{Name: "enrich", Usage: "enrichment to fetch after completion: go, kegg or both"},
					rowsFlag(),
				}, ParamFlags(), EnrichFlags()),
				Action: RunAction,
			},
			{
				Name:   "status",
				Usage:  "Print the state of a job",
				Flags:  []cli.Flag{jobFlag()},
				Action: StatusAction,
			},
			{
				Name:   "results",
				Usage:  "Print the volcano summary, PCA and top table of a completed job",
				Flags:  slices.Concat([]cli.Flag{jobFlag(), rowsFlag()}, ParamFlags()),
				Action: ResultsAction,
			},
			{
				Name:  "enrich",
				Usage: "Print GO and/or KEGG enrichment of a completed job",
				Flags: slices.Concat([]cli.Flag{
					jobFlag(),
					&cli.StringFlag{Name: "kind", Usage: "go, kegg or both", Value: "both"},
				}, ParamFlags(), EnrichFlags()),
				Action: EnrichAction,
			},
			{
				Name:   "urls",
				Usage:  "Print the export links of a job",
				Flags:  slices.Concat([]cli.Flag{jobFlag()}, ParamFlags(), EnrichFlags()),
				Action: UrlsAction,
			},
			{
				Name:  "events",
				Usage: "Tail job transitions published to RabbitMQ",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "queue", Usage: "queue to consume (default: a temporary exclusive queue)"},
					&cli.StringFlag{Name: "binding", Usage: "routing key pattern, e.g. job.completed"},
				},
				Action: EventsAction,
			},
		},
	}
}
