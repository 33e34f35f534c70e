package commands

import (
	"strings"

	"github.com/cuongbtq/pythia/internal/domain"
	"github.com/cuongbtq/pythia/internal/transform"
	"github.com/urfave/cli/v3"
)

// ParamFlags select the results query. Unset flags keep the configured defaults.
func ParamFlags() []cli.Flag {
	return []cli.Flag{
		&cli.FloatFlag{Name: "padj", Usage: "adjusted p-value cutoff"},
		&cli.FloatFlag{Name: "lfc", Usage: "absolute log2 fold change threshold"},
		&cli.IntFlag{Name: "top-n", Usage: "rows in the top-gene table"},
		&cli.IntFlag{Name: "item-limit", Usage: "maximum volcano points"},
		&cli.StringFlag{Name: "a", Usage: "contrast numerator level"},
		&cli.StringFlag{Name: "b", Usage: "contrast denominator level"},
	}
}

// EnrichFlags select the enrichment query
func EnrichFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "mode", Usage: "ora or gsea"},
		&cli.StringFlag{Name: "ontology", Usage: "GO sub-ontology: BP, MF or CC"},
		&cli.StringFlag{Name: "organism", Usage: "organism key (hsa, mmu)"},
		&cli.FloatFlag{Name: "p-cutoff", Usage: "enrichment p-value cutoff"},
		&cli.FloatFlag{Name: "q-cutoff", Usage: "enrichment q-value cutoff"},
		&cli.IntFlag{Name: "top", Usage: "terms returned"},
		&cli.StringFlag{Name: "sort", Usage: "table sort key", Value: string(transform.SortByPAdjust)},
		&cli.BoolFlag{Name: "desc", Usage: "sort descending"},
	}
}

func queryParams(cmd *cli.Command, defaults domain.QueryParams) (domain.QueryParams, error) {
	p := defaults
	if cmd.IsSet("padj") {
		p.PadjCutoff = cmd.Float("padj")
	}
	if cmd.IsSet("lfc") {
		p.LfcThresh = cmd.Float("lfc")
	}
	if cmd.IsSet("top-n") {
		p.TopN = cmd.Int("top-n")
	}
	if cmd.IsSet("item-limit") {
		p.ItemLimit = cmd.Int("item-limit")
	}
	if cmd.IsSet("a") || cmd.IsSet("b") {
		if !cmd.IsSet("a") || !cmd.IsSet("b") {
			return p, domain.NewValidationError("contrast", "both --a and --b are required")
		}
		p = p.WithContrast(cmd.String("a"), cmd.String("b"))
	}
	return p, p.Validate()
}

func enrichQuery(cmd *cli.Command, defaults domain.EnrichQuery) (domain.EnrichQuery, error) {
	q := defaults
	if cmd.IsSet("mode") {
		q.Mode = domain.EnrichMode(strings.ToLower(cmd.String("mode")))
	}
	if cmd.IsSet("ontology") {
		o := domain.Ontology(strings.ToUpper(cmd.String("ontology")))
		q.Ontology = &o
	}
	if cmd.IsSet("organism") {
		q.Organism = cmd.String("organism")
	}
	if cmd.IsSet("p-cutoff") {
		q.PCutoff = cmd.Float("p-cutoff")
	}
	if cmd.IsSet("q-cutoff") {
		q.QCutoff = cmd.Float("q-cutoff")
	}
	if cmd.IsSet("top") {
		q.TopK = cmd.Int("top")
	}
	return q, q.Validate()
}

func sortState(cmd *cli.Command) (transform.SortState, error) {
	key, err := transform.ParseSortKey(cmd.String("sort"))
	if err != nil {
		return transform.SortState{}, err
	}
	return transform.SortState{Key: key, Desc: cmd.Bool("desc")}, nil
}

// enrichKinds expands go, kegg or both
func enrichKinds(s string) ([]domain.EnrichKind, error) {
	if strings.EqualFold(s, "both") {
		return []domain.EnrichKind{domain.EnrichKindGO, domain.EnrichKindKEGG}, nil
	}
	var kinds []domain.EnrichKind
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, err := domain.ParseEnrichKind(part)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}
