package commands

import (
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/cuongbtq/pythia/internal/domain"
	"github.com/cuongbtq/pythia/internal/transform"
	"github.com/olekukonko/tablewriter"
)

func formatFloat(f float64) string {
	if math.IsNaN(f) {
		return "NA"
	}
	return strconv.FormatFloat(f, 'g', 4, 64)
}

func renderVolcanoSummary(w io.Writer, v transform.VolcanoView, p domain.QueryParams) error {
	fmt.Fprintf(w, "Volcano: %d genes, padj <= %s, |log2FC| >= %s\n",
		len(v.Points), formatFloat(p.PadjCutoff), formatFloat(p.LfcThresh))

	table := tablewriter.NewWriter(w)
	table.Header("Class", "Genes")
	for _, label := range []transform.Label{transform.Upregulated, transform.Downregulated, transform.NonSignificant} {
		if err := table.Append(string(label), strconv.Itoa(v.Counts[label])); err != nil {
			return err
		}
	}
	return table.Render()
}

func renderPCA(w io.Writer, traces []transform.PCATrace) error {
	table := tablewriter.NewWriter(w)
	table.Header("Group", "Sample", "PC1", "PC2")
	for _, tr := range traces {
		for i, sample := range tr.Samples {
			if err := table.Append(tr.Group, sample, formatFloat(tr.PC1[i]), formatFloat(tr.PC2[i])); err != nil {
				return err
			}
		}
	}
	return table.Render()
}

// renderTopTable prints up to limit rows; zero prints all
func renderTopTable(w io.Writer, t domain.TopTable, limit int) error {
	if len(t.Columns) == 0 {
		_, err := fmt.Fprintln(w, "Top table: no rows")
		return err
	}

	header := make([]any, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c
	}
	table := tablewriter.NewWriter(w)
	table.Header(header...)

	n := t.Len()
	if limit > 0 && limit < n {
		n = limit
	}
	for i := 0; i < n; i++ {
		row := make([]string, len(t.Columns))
		for j, col := range t.Columns {
			cell, _ := t.Value(i, col)
			row[j] = cell.String()
		}
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

func renderEnrichment(w io.Writer, kind domain.EnrichKind, items []domain.EnrichItem, sort transform.SortState) error {
	fmt.Fprintf(w, "%s enrichment (%d terms, sorted by %s %s)\n", kind, len(items), sort.Key, sort.Direction())

	table := tablewriter.NewWriter(w)
	table.Header("Term", "Description", "Count", "GeneRatio", "p.adjust", "-log10(padj)")
	for _, it := range items {
		if err := table.Append(
			it.Term,
			it.Description,
			strconv.Itoa(it.Count),
			formatFloat(it.GeneRatio),
			formatFloat(it.PAdjust),
			formatFloat(it.NegLog10Padj),
		); err != nil {
			return err
		}
	}
	return table.Render()
}

type link struct {
	name string
	url  string
}

func renderLinks(w io.Writer, links []link) error {
	table := tablewriter.NewWriter(w)
	table.Header("Export", "URL")
	for _, l := range links {
		if err := table.Append(l.name, l.url); err != nil {
			return err
		}
	}
	return table.Render()
}
