package transform

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/cuongbtq/pythia/internal/domain"
	"github.com/goccy/go-json"
)

// BarItem is one bar of the horizontal enrichment bar chart
type BarItem struct {
	Description  string  `json:"description"`
	Count        int     `json:"count"`
	NegLog10Padj float64 `json:"neglog10padj"`
	Text         string  `json:"text"`
}

// MarshalJSON writes a missing significance as null
func (b BarItem) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Description  string   `json:"description"`
		Count        int      `json:"count"`
		NegLog10Padj *float64 `json:"neglog10padj"`
		Text         string   `json:"text"`
	}{b.Description, b.Count, finite(b.NegLog10Padj), b.Text})
}

// BarView reverses the items so the top-ranked term, which the backend
// sends first, ends up drawn last and therefore topmost.
func BarView(items []domain.EnrichItem) []BarItem {
	out := make([]BarItem, len(items))
	for i, it := range items {
		out[len(items)-1-i] = BarItem{
			Description:  it.Description,
			Count:        it.Count,
			NegLog10Padj: it.NegLog10Padj,
			Text:         fmt.Sprintf("-log10(padj)=%.2f", it.NegLog10Padj),
		}
	}
	return out
}

// DotItem is one marker of the enrichment dot plot
type DotItem struct {
	Term        string  `json:"term"`
	Description string  `json:"description"`
	GeneRatio   float64 `json:"x"`
	Size        int     `json:"size"`
	Color       float64 `json:"color"`
}

// MarshalJSON writes non-finite coordinates as null
func (d DotItem) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Term        string   `json:"term"`
		Description string   `json:"description"`
		GeneRatio   *float64 `json:"x"`
		Size        int      `json:"size"`
		Color       *float64 `json:"color"`
	}{d.Term, d.Description, finite(d.GeneRatio), d.Size, finite(d.Color)})
}

// DotView maps items to dot plot markers, keeping backend order
func DotView(items []domain.EnrichItem) []DotItem {
	out := make([]DotItem, len(items))
	for i, it := range items {
		out[i] = DotItem{
			Term:        it.Term,
			Description: it.Description,
			GeneRatio:   it.GeneRatio,
			Size:        it.Count,
			Color:       it.NegLog10Padj,
		}
	}
	return out
}

// SortKey is a sortable enrichment table column
type SortKey string

const (
	SortByDescription  SortKey = "description"
	SortByCount        SortKey = "count"
	SortByGeneRatio    SortKey = "gene_ratio"
	SortByPAdjust      SortKey = "p_adjust"
	SortByNegLog10Padj SortKey = "neglog10padj"
)

// ParseSortKey validates a column name
func ParseSortKey(s string) (SortKey, error) {
	switch k := SortKey(strings.ToLower(s)); k {
	case SortByDescription, SortByCount, SortByGeneRatio, SortByPAdjust, SortByNegLog10Padj:
		return k, nil
	}
	return "", domain.NewValidationError("sort", "unknown sort key "+s)
}

// SortState is the active column and direction of an enrichment table
type SortState struct {
	Key  SortKey `json:"key"`
	Desc bool    `json:"desc"`
}

// DefaultSortState sorts by adjusted p-value, ascending
func DefaultSortState() SortState {
	return SortState{Key: SortByPAdjust}
}

// Toggle returns the state after the user selects key: the active key flips
// direction, any other key starts ascending.
func (s SortState) Toggle(key SortKey) SortState {
	if key == s.Key {
		return SortState{Key: key, Desc: !s.Desc}
	}
	return SortState{Key: key}
}

// Direction returns "asc" or "desc"
func (s SortState) Direction() string {
	if s.Desc {
		return "desc"
	}
	return "asc"
}

// SortItems returns a stably sorted copy of items. Equal keys keep their
// input order in both directions. NaN numbers compare greater than any number.
func SortItems(items []domain.EnrichItem, state SortState) []domain.EnrichItem {
	out := make([]domain.EnrichItem, len(items))
	copy(out, items)

	sort.SliceStable(out, func(i, j int) bool {
		c := compareBy(state.Key, out[i], out[j])
		if state.Desc {
			return c > 0
		}
		return c < 0
	})
	return out
}

func compareBy(key SortKey, a, b domain.EnrichItem) int {
	switch key {
	case SortByDescription:
		return strings.Compare(a.Description, b.Description)
	case SortByCount:
		switch {
		case a.Count < b.Count:
			return -1
		case a.Count > b.Count:
			return 1
		}
		return 0
	case SortByGeneRatio:
		return compareFloat(a.GeneRatio, b.GeneRatio)
	case SortByPAdjust:
		return compareFloat(a.PAdjust, b.PAdjust)
	case SortByNegLog10Padj:
		return compareFloat(a.NegLog10Padj, b.NegLog10Padj)
	}
	return 0
}

func compareFloat(a, b float64) int {
	an, bn := math.IsNaN(a), math.IsNaN(b)
	switch {
	case an && bn:
		return 0
	case an:
		return 1
	case bn:
		return -1
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
