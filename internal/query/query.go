// Package query turns parameter snapshots into canonical keys and backend
// query strings. Keys are used to detect no-op re-queries and to deduplicate
// in-flight requests; query strings are what the backend sees.
package query

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/cuongbtq/pythia/internal/domain"
)

// Unset marks an optional field that was never set. It cannot collide with
// a user-typed value.
const Unset = "\x00unset"

// FormatFloat renders a float with a stable, locale-independent representation
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ResultsKey returns the canonical key of a results query
func ResultsKey(p domain.QueryParams) string {
	return canonical(resultsFields(p))
}

// EnrichKey returns the canonical key of an enrichment query. The results
// thresholds and contrast are part of the key because the backend derives the
// gene list from them.
func EnrichKey(kind domain.EnrichKind, p domain.QueryParams, q domain.EnrichQuery) string {
	fields := resultsFields(p)
	fields["kind"] = string(kind)
	fields["mode"] = string(q.Mode)
	fields["ont"] = optionalOntology(q.Ontology)
	fields["organism"] = strings.ToLower(q.Organism)
	fields["p_cutoff"] = FormatFloat(q.PCutoff)
	fields["q_cutoff"] = FormatFloat(q.QCutoff)
	fields["top"] = strconv.Itoa(q.TopK)
	return canonical(fields)
}

// ResultsValues builds the query string of GET /jobs/{id}/results. Unset
// contrasts are omitted so the backend falls back to its default contrast.
func ResultsValues(p domain.QueryParams) url.Values {
	v := url.Values{}
	if p.ContrastA != nil && *p.ContrastA != "" {
		v.Set("a", *p.ContrastA)
	}
	if p.ContrastB != nil && *p.ContrastB != "" {
		v.Set("b", *p.ContrastB)
	}
	v.Set("padj_cutoff", FormatFloat(p.PadjCutoff))
	v.Set("lfc_thresh", FormatFloat(p.LfcThresh))
	v.Set("top_n", strconv.Itoa(p.TopN))
	v.Set("item_limit", strconv.Itoa(p.ItemLimit))
	return v
}

// DownloadValues builds the query string of GET /jobs/{id}/download
func DownloadValues(p domain.QueryParams) url.Values {
	a, b := p.ContrastOrEmpty()
	v := url.Values{}
	v.Set("a", a)
	v.Set("b", b)
	v.Set("padj_cutoff", FormatFloat(p.PadjCutoff))
	v.Set("lfc_thresh", FormatFloat(p.LfcThresh))
	return v
}

// EnrichValues builds the query string of GET /jobs/{id}/enrich/{kind}
func EnrichValues(kind domain.EnrichKind, p domain.QueryParams, q domain.EnrichQuery) (url.Values, error) {
	v, err := enrichBase(kind, p, q)
	if err != nil {
		return nil, err
	}
	v.Set("p_cutoff", FormatFloat(q.PCutoff))
	v.Set("q_cutoff", FormatFloat(q.QCutoff))
	v.Set("top", strconv.Itoa(q.TopK))
	return v, nil
}

// EnrichDownloadValues builds the query string of GET /jobs/{id}/enrich/download.
// CSV is the backend default and is not sent explicitly.
func EnrichDownloadValues(kind domain.EnrichKind, p domain.QueryParams, q domain.EnrichQuery, format domain.DownloadFormat) (url.Values, error) {
	v, err := enrichBase(kind, p, q)
	if err != nil {
		return nil, err
	}
	v.Set("type", string(kind))
	if format != "" && format != domain.FormatCSV {
		v.Set("format", string(format))
	}
	return v, nil
}

func enrichBase(kind domain.EnrichKind, p domain.QueryParams, q domain.EnrichQuery) (url.Values, error) {
	org, ok := domain.LookupOrganism(q.Organism)
	if !ok {
		return nil, domain.NewValidationError("organism", "unsupported organism "+q.Organism)
	}

	a, b := p.ContrastOrEmpty()
	v := url.Values{}
	v.Set("mode", string(q.Mode))
	switch kind {
	case domain.EnrichKindGO:
		ont := domain.OntologyBP
		if q.Ontology != nil {
			ont = *q.Ontology
		}
		v.Set("ont", string(ont))
		v.Set("org_db", org.OrgDb)
	case domain.EnrichKindKEGG:
		v.Set("kegg_org", org.KeggOrg)
	default:
		return nil, domain.ErrUnknownKind
	}
	v.Set("a", a)
	v.Set("b", b)
	v.Set("padj_cutoff", FormatFloat(p.PadjCutoff))
	v.Set("lfc_thresh", FormatFloat(p.LfcThresh))
	return v, nil
}

func resultsFields(p domain.QueryParams) map[string]string {
	return map[string]string{
		"a":           optionalString(p.ContrastA),
		"b":           optionalString(p.ContrastB),
		"padj_cutoff": FormatFloat(p.PadjCutoff),
		"lfc_thresh":  FormatFloat(p.LfcThresh),
		"top_n":       strconv.Itoa(p.TopN),
		"item_limit":  strconv.Itoa(p.ItemLimit),
	}
}

func optionalString(s *string) string {
	if s == nil {
		return Unset
	}
	return *s
}

func optionalOntology(o *domain.Ontology) string {
	if o == nil {
		return Unset
	}
	return string(*o)
}

// canonical joins fields in sorted key order. Values are query-escaped so a
// separator inside a value cannot forge another field.
func canonical(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(fields[k]))
	}
	return sb.String()
}
