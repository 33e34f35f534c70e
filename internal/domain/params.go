package domain

import (
	"math"
	"strings"
)

// QueryParams is the snapshot of user-chosen thresholds for a results query.
// It is passed by value; a nil contrast means "not set".
type QueryParams struct {
	PadjCutoff float64 `json:"padj_cutoff" yaml:"padj_cutoff"`
	LfcThresh  float64 `json:"lfc_thresh" yaml:"lfc_thresh"`
	TopN       int     `json:"top_n" yaml:"top_n"`
	ItemLimit  int     `json:"item_limit" yaml:"item_limit"`
	ContrastA  *string `json:"a,omitempty" yaml:"a"`
	ContrastB  *string `json:"b,omitempty" yaml:"b"`
}

// DefaultQueryParams returns the thresholds a fresh session starts with
func DefaultQueryParams() QueryParams {
	return QueryParams{
		PadjCutoff: 0.05,
		LfcThresh:  1,
		TopN:       100,
		ItemLimit:  10000,
	}
}

// Validate checks value ranges
func (p QueryParams) Validate() error {
	if !(p.PadjCutoff > 0) || math.IsInf(p.PadjCutoff, 0) {
		return NewValidationError("padj_cutoff", "must be a finite number greater than 0")
	}
	if !(p.LfcThresh >= 0) || math.IsInf(p.LfcThresh, 0) {
		return NewValidationError("lfc_thresh", "must be a finite number greater than or equal to 0")
	}
	if p.TopN <= 0 {
		return NewValidationError("top_n", "must be greater than 0")
	}
	if p.ItemLimit <= 0 {
		return NewValidationError("item_limit", "must be greater than 0")
	}
	return nil
}

// WithContrast returns a copy with both contrast levels set
func (p QueryParams) WithContrast(a, b string) QueryParams {
	p.ContrastA = &a
	p.ContrastB = &b
	return p
}

// Clone returns a copy that shares no contrast storage with p
func (p QueryParams) Clone() QueryParams {
	if p.ContrastA != nil {
		a := *p.ContrastA
		p.ContrastA = &a
	}
	if p.ContrastB != nil {
		b := *p.ContrastB
		p.ContrastB = &b
	}
	return p
}

// ContrastOrEmpty returns the contrast levels with unset values as empty strings
func (p QueryParams) ContrastOrEmpty() (string, string) {
	var a, b string
	if p.ContrastA != nil {
		a = *p.ContrastA
	}
	if p.ContrastB != nil {
		b = *p.ContrastB
	}
	return a, b
}

// EnrichMode selects the enrichment test
type EnrichMode string

const (
	EnrichModeORA  EnrichMode = "ora"
	EnrichModeGSEA EnrichMode = "gsea"
)

// Ontology is a GO sub-ontology
type Ontology string

const (
	OntologyBP Ontology = "BP"
	OntologyMF Ontology = "MF"
	OntologyCC Ontology = "CC"
)

// EnrichKind selects the enrichment database
type EnrichKind string

const (
	EnrichKindGO   EnrichKind = "go"
	EnrichKindKEGG EnrichKind = "kegg"
)

// ParseEnrichKind validates an enrichment kind
func ParseEnrichKind(s string) (EnrichKind, error) {
	switch EnrichKind(strings.ToLower(s)) {
	case EnrichKindGO:
		return EnrichKindGO, nil
	case EnrichKindKEGG:
		return EnrichKindKEGG, nil
	default:
		return "", ErrUnknownKind
	}
}

// DownloadFormat is the table format of an export
type DownloadFormat string

const (
	FormatCSV DownloadFormat = "csv"
	FormatTSV DownloadFormat = "tsv"
)

// Organism maps a short key to its annotation packages
type Organism struct {
	Key     string
	Label   string
	OrgDb   string
	KeggOrg string
}

var organisms = map[string]Organism{
	"hsa": {Key: "hsa", Label: "Human", OrgDb: "org.Hs.eg.db", KeggOrg: "hsa"},
	"mmu": {Key: "mmu", Label: "Mouse", OrgDb: "org.Mm.eg.db", KeggOrg: "mmu"},
}

// LookupOrganism returns the organism registered for key
func LookupOrganism(key string) (Organism, bool) {
	o, ok := organisms[strings.ToLower(key)]
	return o, ok
}

// EnrichQuery is the snapshot of enrichment settings. It shares the contrast
// and thresholds of the QueryParams it is sent with.
type EnrichQuery struct {
	Mode     EnrichMode `json:"mode" yaml:"mode"`
	Ontology *Ontology  `json:"ontology,omitempty" yaml:"ontology"`
	Organism string     `json:"organism" yaml:"organism"`
	PCutoff  float64    `json:"p_cutoff" yaml:"p_cutoff"`
	QCutoff  float64    `json:"q_cutoff" yaml:"q_cutoff"`
	TopK     int        `json:"top" yaml:"top"`
}

// DefaultEnrichQuery returns the enrichment settings a fresh session starts with
func DefaultEnrichQuery() EnrichQuery {
	bp := OntologyBP
	return EnrichQuery{
		Mode:     EnrichModeORA,
		Ontology: &bp,
		Organism: "hsa",
		PCutoff:  0.05,
		QCutoff:  0.2,
		TopK:     20,
	}
}

// Validate checks the enrichment settings
func (q EnrichQuery) Validate() error {
	if q.Mode != EnrichModeORA && q.Mode != EnrichModeGSEA {
		return NewValidationError("mode", "must be ora or gsea")
	}
	if q.Ontology != nil {
		switch *q.Ontology {
		case OntologyBP, OntologyMF, OntologyCC:
		default:
			return NewValidationError("ontology", "must be BP, MF or CC")
		}
	}
	if _, ok := LookupOrganism(q.Organism); !ok {
		return NewValidationError("organism", "unsupported organism "+q.Organism)
	}
	if !(q.PCutoff > 0) || !(q.QCutoff > 0) {
		return NewValidationError("cutoff", "p and q cutoffs must be greater than 0")
	}
	if q.TopK <= 0 {
		return NewValidationError("top", "must be greater than 0")
	}
	return nil
}
