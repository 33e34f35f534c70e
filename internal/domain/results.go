package domain

import (
	"math"

	"github.com/goccy/go-json"
)

// DEResultRow is one gene of a differential-expression result. Padj is NaN
// when the backend could not compute it.
type DEResultRow struct {
	Gene         string   `json:"gene"`
	Log2FC       float64  `json:"log2FC"`
	Padj         float64  `json:"padj"`
	NegLog10Padj *float64 `json:"neglog10padj,omitempty"`
}

// UnmarshalJSON maps null numeric fields to NaN
func (r *DEResultRow) UnmarshalJSON(b []byte) error {
	var raw struct {
		Gene         string   `json:"gene"`
		Log2FC       *float64 `json:"log2FC"`
		Padj         *float64 `json:"padj"`
		NegLog10Padj *float64 `json:"neglog10padj"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	r.Gene = raw.Gene
	r.Log2FC = floatOrNaN(raw.Log2FC)
	r.Padj = floatOrNaN(raw.Padj)
	r.NegLog10Padj = raw.NegLog10Padj
	return nil
}

// MarshalJSON writes non-finite numbers as null
func (r DEResultRow) MarshalJSON() ([]byte, error) {
	var neg *float64
	if r.NegLog10Padj != nil {
		neg = finiteOrNil(*r.NegLog10Padj)
	}
	return json.Marshal(struct {
		Gene         string   `json:"gene"`
		Log2FC       *float64 `json:"log2FC"`
		Padj         *float64 `json:"padj"`
		NegLog10Padj *float64 `json:"neglog10padj,omitempty"`
	}{
		Gene:         r.Gene,
		Log2FC:       finiteOrNil(r.Log2FC),
		Padj:         finiteOrNil(r.Padj),
		NegLog10Padj: neg,
	})
}

// EnrichItem is one enriched GO term or KEGG pathway
type EnrichItem struct {
	Term         string  `json:"term"`
	Description  string  `json:"description"`
	Count        int     `json:"count"`
	GeneRatio    float64 `json:"gene_ratio"`
	PAdjust      float64 `json:"p_adjust"`
	NegLog10Padj float64 `json:"neglog10padj"`
}

// UnmarshalJSON maps null numeric fields to NaN
func (i *EnrichItem) UnmarshalJSON(b []byte) error {
	var raw struct {
		Term         string   `json:"term"`
		Description  string   `json:"description"`
		Count        int      `json:"count"`
		GeneRatio    *float64 `json:"gene_ratio"`
		PAdjust      *float64 `json:"p_adjust"`
		NegLog10Padj *float64 `json:"neglog10padj"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	i.Term = raw.Term
	i.Description = raw.Description
	i.Count = raw.Count
	i.GeneRatio = floatOrNaN(raw.GeneRatio)
	i.PAdjust = floatOrNaN(raw.PAdjust)
	i.NegLog10Padj = floatOrNaN(raw.NegLog10Padj)
	return nil
}

// MarshalJSON writes non-finite numbers as null
func (i EnrichItem) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Term         string   `json:"term"`
		Description  string   `json:"description"`
		Count        int      `json:"count"`
		GeneRatio    *float64 `json:"gene_ratio"`
		PAdjust      *float64 `json:"p_adjust"`
		NegLog10Padj *float64 `json:"neglog10padj"`
	}{
		Term:         i.Term,
		Description:  i.Description,
		Count:        i.Count,
		GeneRatio:    finiteOrNil(i.GeneRatio),
		PAdjust:      finiteOrNil(i.PAdjust),
		NegLog10Padj: finiteOrNil(i.NegLog10Padj),
	})
}

// PCAPoint is one sample projected on the first two principal components of the VST counts
type PCAPoint struct {
	Sample string  `json:"sample"`
	PC1    float64 `json:"PC1"`
	PC2    float64 `json:"PC2"`
	Group  string  `json:"group"`
}

// ResultSet is an immutable snapshot of one results fetch. A newer fetch
// replaces it wholesale.
type ResultSet struct {
	JobID    string          `json:"job_id"`
	Params   json.RawMessage `json:"params,omitempty"`
	Query    QueryParams     `json:"query"`
	Volcano  []DEResultRow   `json:"volcano"`
	PCA      []PCAPoint      `json:"pca"`
	TopTable TopTable        `json:"top_table"`
}

// EnrichResult is an immutable snapshot of one enrichment fetch
type EnrichResult struct {
	JobID  string       `json:"job_id"`
	Kind   EnrichKind   `json:"kind"`
	Params QueryParams  `json:"params"`
	Query  EnrichQuery  `json:"query"`
	Items  []EnrichItem `json:"items"`
}

func floatOrNaN(f *float64) float64 {
	if f == nil {
		return math.NaN()
	}
	return *f
}

func finiteOrNil(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
