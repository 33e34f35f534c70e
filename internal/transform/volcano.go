// Package transform reshapes raw backend records into render-ready,
// immutable structures. Every function here is pure and never mutates its input.
package transform

import (
	"math"

	"github.com/cuongbtq/pythia/internal/domain"
	"github.com/goccy/go-json"
	"gonum.org/v1/gonum/floats"
)

// Label is the three-way volcano classification
type Label string

const (
	Upregulated    Label = "Upregulated"
	Downregulated  Label = "Downregulated"
	NonSignificant Label = "Non-significant"
)

// VolcanoPoint is a classified DE row
type VolcanoPoint struct {
	Gene   string  `json:"gene"`
	Log2FC float64 `json:"log2FC"`
	Padj   float64 `json:"padj"`
	// Y is -log10(padj); +Inf when padj is 0
	Y         float64 `json:"-"`
	Plottable bool    `json:"plottable"`
	Label     Label   `json:"label"`
}

// MarshalJSON writes a non-finite y as null and flags +Inf separately so
// renderers can pin those genes to the top of the axis.
func (p VolcanoPoint) MarshalJSON() ([]byte, error) {
	out := struct {
		Gene      string   `json:"gene"`
		Log2FC    *float64 `json:"log2FC"`
		Padj      *float64 `json:"padj"`
		Y         *float64 `json:"y"`
		YInfinite bool     `json:"y_infinite,omitempty"`
		Plottable bool     `json:"plottable"`
		Label     Label    `json:"label"`
	}{
		Gene:      p.Gene,
		Log2FC:    finite(p.Log2FC),
		Padj:      finite(p.Padj),
		Y:         finite(p.Y),
		YInfinite: math.IsInf(p.Y, 1),
		Plottable: p.Plottable,
		Label:     p.Label,
	}
	return json.Marshal(out)
}

func finite(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// NegLog10 returns -log10(p). p == 0 maps to +Inf; NaN, infinite and
// negative p are not plottable.
func NegLog10(p float64) (float64, bool) {
	if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 {
		return math.NaN(), false
	}
	if p == 0 {
		return math.Inf(1), true
	}
	return -math.Log10(p), true
}

// Classify labels a row. Both cutoffs are inclusive. A padj that is not a
// probability in [0, cutoff] is never significant.
func Classify(log2FC, padj, padjCutoff, lfcThresh float64) Label {
	if !(padj >= 0 && padj <= padjCutoff) || math.IsInf(padj, 0) {
		return NonSignificant
	}
	switch {
	case log2FC >= lfcThresh:
		return Upregulated
	case log2FC <= -lfcThresh:
		return Downregulated
	default:
		return NonSignificant
	}
}

// ClassifyRow computes the y coordinate and label of a single row. A value
// sent by the backend in neglog10padj takes precedence over the computed one.
func ClassifyRow(row domain.DEResultRow, padjCutoff, lfcThresh float64) VolcanoPoint {
	y, ok := NegLog10(row.Padj)
	if ok && row.NegLog10Padj != nil && !math.IsNaN(*row.NegLog10Padj) {
		y = *row.NegLog10Padj
	}
	return VolcanoPoint{
		Gene:      row.Gene,
		Log2FC:    row.Log2FC,
		Padj:      row.Padj,
		Y:         y,
		Plottable: ok,
		Label:     Classify(row.Log2FC, row.Padj, padjCutoff, lfcThresh),
	}
}

// Truncate returns at most limit rows from the head of rows, in order.
// A non-positive limit keeps everything.
func Truncate[T any](rows []T, limit int) []T {
	if limit <= 0 || len(rows) <= limit {
		return rows
	}
	return rows[:limit]
}

// VolcanoTrace is one coloured series of the volcano plot
type VolcanoTrace struct {
	Name   Label          `json:"name"`
	Points []VolcanoPoint `json:"points"`
}

// Extent is a closed numeric range
type Extent struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// VolcanoView is everything a volcano renderer needs
type VolcanoView struct {
	// Points holds the classified rows in input order, after truncation
	Points []VolcanoPoint `json:"points"`
	// Traces are drawn in this order: non-significant first so that
	// significant genes are painted on top
	Traces []VolcanoTrace `json:"traces"`
	// YThreshold is -log10(padjCutoff), the horizontal significance line
	YThreshold float64 `json:"y_threshold"`
	// XThreshold is lfcThresh; lines are drawn at +/- this value
	XThreshold float64       `json:"x_threshold"`
	XRange     Extent        `json:"x_range"`
	YRange     Extent        `json:"y_range"`
	Counts     map[Label]int `json:"counts"`
}

// Volcano truncates rows to the first itemLimit entries, then classifies
// them. Truncation happens before classification, so the plot reflects the
// backend's order and not a significance-based sample.
func Volcano(rows []domain.DEResultRow, padjCutoff, lfcThresh float64, itemLimit int) VolcanoView {
	rows = Truncate(rows, itemLimit)

	view := VolcanoView{
		Points:     make([]VolcanoPoint, 0, len(rows)),
		XThreshold: lfcThresh,
		Counts:     map[Label]int{Upregulated: 0, Downregulated: 0, NonSignificant: 0},
	}
	view.YThreshold, _ = NegLog10(padjCutoff)

	traces := map[Label][]VolcanoPoint{}
	var xs, ys []float64
	for _, row := range rows {
		pt := ClassifyRow(row, padjCutoff, lfcThresh)
		view.Points = append(view.Points, pt)
		view.Counts[pt.Label]++
		if !pt.Plottable {
			continue
		}
		traces[pt.Label] = append(traces[pt.Label], pt)
		if !math.IsNaN(pt.Log2FC) && !math.IsInf(pt.Log2FC, 0) {
			xs = append(xs, pt.Log2FC)
		}
		if !math.IsInf(pt.Y, 0) {
			ys = append(ys, pt.Y)
		}
	}

	for _, label := range []Label{NonSignificant, Upregulated, Downregulated} {
		view.Traces = append(view.Traces, VolcanoTrace{Name: label, Points: traces[label]})
	}

	view.XRange = extentOf(xs)
	view.YRange = extentOf(ys)
	return view
}

func extentOf(v []float64) Extent {
	if len(v) == 0 {
		return Extent{}
	}
	return Extent{Min: floats.Min(v), Max: floats.Max(v)}
}
