package dto

import "github.com/cuongbtq/pythia/internal/domain"

// CreateJobForm holds the non-file fields of a job submission
type CreateJobForm struct {
	DesignColumn string `form:"design_col"`
}

type JobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// UpdateParamsRequest changes the committed thresholds. Omitted fields keep
// their current value.
type UpdateParamsRequest struct {
	PadjCutoff    *float64 `json:"padj_cutoff"`
	LfcThresh     *float64 `json:"lfc_thresh"`
	TopN          *int     `json:"top_n"`
	ItemLimit     *int     `json:"item_limit"`
	ContrastA     *string  `json:"a"`
	ContrastB     *string  `json:"b"`
	ClearContrast bool     `json:"clear_contrast"`
}

// Apply returns p with the request's fields set
func (r UpdateParamsRequest) Apply(p domain.QueryParams) domain.QueryParams {
	if r.PadjCutoff != nil {
		p.PadjCutoff = *r.PadjCutoff
	}
	if r.LfcThresh != nil {
		p.LfcThresh = *r.LfcThresh
	}
	if r.TopN != nil {
		p.TopN = *r.TopN
	}
	if r.ItemLimit != nil {
		p.ItemLimit = *r.ItemLimit
	}
	if r.ClearContrast {
		p.ContrastA, p.ContrastB = nil, nil
	}
	if r.ContrastA != nil {
		a := *r.ContrastA
		p.ContrastA = &a
	}
	if r.ContrastB != nil {
		b := *r.ContrastB
		p.ContrastB = &b
	}
	return p
}

// EnrichRequest overrides the enrichment settings of one fetch
type EnrichRequest struct {
	Mode     *string  `json:"mode"`
	Ontology *string  `json:"ontology"`
	Organism *string  `json:"organism"`
	PCutoff  *float64 `json:"p_cutoff"`
	QCutoff  *float64 `json:"q_cutoff"`
	Top      *int     `json:"top"`
}

// Apply returns q with the request's fields set. An empty ontology clears it.
func (r EnrichRequest) Apply(q domain.EnrichQuery) domain.EnrichQuery {
	if r.Mode != nil {
		q.Mode = domain.EnrichMode(*r.Mode)
	}
	if r.Ontology != nil {
		if *r.Ontology == "" {
			q.Ontology = nil
		} else {
			o := domain.Ontology(*r.Ontology)
			q.Ontology = &o
		}
	}
	if r.Organism != nil {
		q.Organism = *r.Organism
	}
	if r.PCutoff != nil {
		q.PCutoff = *r.PCutoff
	}
	if r.QCutoff != nil {
		q.QCutoff = *r.QCutoff
	}
	if r.Top != nil {
		q.TopK = *r.Top
	}
	return q
}

type SortRequest struct {
	Key string `json:"key" binding:"required"`
}
