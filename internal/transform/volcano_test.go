package transform

import (
	"math"
	"testing"

	"github.com/cuongbtq/pythia/internal/domain"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestNegLog10(t *testing.T) {
	tests := []struct {
		name     string
		p        float64
		want     float64
		wantPlot bool
	}{
		{name: "regular", p: 0.01, want: 2, wantPlot: true},
		{name: "one", p: 1, want: 0, wantPlot: true},
		{name: "zero is infinite", p: 0, want: math.Inf(1), wantPlot: true},
		{name: "nan", p: math.NaN(), wantPlot: false},
		{name: "negative", p: -0.1, wantPlot: false},
		{name: "inf", p: math.Inf(1), wantPlot: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NegLog10(tt.p)
			assert.Equal(t, tt.wantPlot, ok)
			if !tt.wantPlot {
				return
			}
			if math.IsInf(tt.want, 1) {
				assert.True(t, math.IsInf(got, 1))
				return
			}
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		log2FC float64
		padj   float64
		want   Label
	}{
		{name: "up", log2FC: 2, padj: 0.01, want: Upregulated},
		{name: "down", log2FC: -2, padj: 0.01, want: Downregulated},
		{name: "inclusive lfc", log2FC: 1, padj: 0.01, want: Upregulated},
		{name: "inclusive negative lfc", log2FC: -1, padj: 0.01, want: Downregulated},
		{name: "inclusive padj", log2FC: 3, padj: 0.05, want: Upregulated},
		{name: "padj too high", log2FC: 3, padj: 0.06, want: NonSignificant},
		{name: "small fold change", log2FC: 0.5, padj: 0.001, want: NonSignificant},
		{name: "nan padj", log2FC: 5, padj: math.NaN(), want: NonSignificant},
		{name: "negative padj", log2FC: 5, padj: -0.01, want: NonSignificant},
		{name: "negative padj down", log2FC: -5, padj: -1, want: NonSignificant},
		{name: "negative infinite padj", log2FC: 5, padj: math.Inf(-1), want: NonSignificant},
		{name: "infinite padj", log2FC: 5, padj: math.Inf(1), want: NonSignificant},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.log2FC, tt.padj, 0.05, 1))
		})
	}
}

func TestClassifyRow(t *testing.T) {
	t.Run("significant gene", func(t *testing.T) {
		pt := ClassifyRow(domain.DEResultRow{Gene: "X", Log2FC: 2, Padj: 0.01}, 0.05, 1)
		assert.Equal(t, Upregulated, pt.Label)
		assert.True(t, pt.Plottable)
		assert.InDelta(t, 2.0, pt.Y, 1e-12)
	})

	t.Run("zero padj with no fold change", func(t *testing.T) {
		pt := ClassifyRow(domain.DEResultRow{Gene: "Y", Log2FC: 0, Padj: 0}, 0.05, 1)
		assert.Equal(t, NonSignificant, pt.Label)
		assert.True(t, pt.Plottable)
		assert.True(t, math.IsInf(pt.Y, 1))
	})

	t.Run("server value wins", func(t *testing.T) {
		neg := 7.5
		pt := ClassifyRow(domain.DEResultRow{Gene: "Z", Log2FC: 2, Padj: 0, NegLog10Padj: &neg}, 0.05, 1)
		assert.Equal(t, 7.5, pt.Y)
	})

	t.Run("nan padj is not plottable", func(t *testing.T) {
		pt := ClassifyRow(domain.DEResultRow{Gene: "W", Log2FC: 4, Padj: math.NaN()}, 0.05, 1)
		assert.False(t, pt.Plottable)
		assert.Equal(t, NonSignificant, pt.Label)
	})

	t.Run("negative padj is neither plottable nor significant", func(t *testing.T) {
		pt := ClassifyRow(domain.DEResultRow{Gene: "V", Log2FC: 4, Padj: -0.2}, 0.05, 1)
		assert.False(t, pt.Plottable)
		assert.Equal(t, NonSignificant, pt.Label)
	})
}

func TestVolcano(t *testing.T) {
	rows := []domain.DEResultRow{
		{Gene: "A", Log2FC: 2, Padj: 0.01},
		{Gene: "B", Log2FC: -3, Padj: 0.001},
		{Gene: "C", Log2FC: 0.1, Padj: 0.5},
		{Gene: "D", Log2FC: 0, Padj: 0},
		{Gene: "E", Log2FC: 1, Padj: math.NaN()},
	}

	view := Volcano(rows, 0.05, 1, 0)

	require.Len(t, view.Points, 5)
	require.Len(t, view.Traces, 3)
	assert.Equal(t, NonSignificant, view.Traces[0].Name)
	assert.Equal(t, Upregulated, view.Traces[1].Name)
	assert.Equal(t, Downregulated, view.Traces[2].Name)

	// E is counted but not drawn
	assert.Len(t, view.Traces[0].Points, 2)
	assert.Equal(t, 3, view.Counts[NonSignificant])
	assert.Equal(t, 1, view.Counts[Upregulated])
	assert.Equal(t, 1, view.Counts[Downregulated])

	assert.InDelta(t, -math.Log10(0.05), view.YThreshold, 1e-12)
	assert.Equal(t, 1.0, view.XThreshold)
	assert.Equal(t, Extent{Min: -3, Max: 2}, view.XRange)
	assert.InDelta(t, 3.0, view.YRange.Max, 1e-12)
}

func TestVolcano_TruncatesBeforeClassifying(t *testing.T) {
	rows := []domain.DEResultRow{
		{Gene: "A", Log2FC: 0, Padj: 0.9},
		{Gene: "B", Log2FC: 0, Padj: 0.9},
		{Gene: "C", Log2FC: 5, Padj: 0.0001},
	}

	view := Volcano(rows, 0.05, 1, 2)

	require.Len(t, view.Points, 2)
	assert.Equal(t, "A", view.Points[0].Gene)
	assert.Equal(t, "B", view.Points[1].Gene)
	assert.Equal(t, 0, view.Counts[Upregulated])
}

func TestVolcanoPoint_MarshalInfinite(t *testing.T) {
	pt := ClassifyRow(domain.DEResultRow{Gene: "Y", Log2FC: 0, Padj: 0}, 0.05, 1)

	b, err := json.Marshal(pt)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Nil(t, got["y"])
	assert.Equal(t, true, got["y_infinite"])
	assert.Equal(t, "Non-significant", got["label"])
}

func TestTruncate_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		rows := rapid.SliceOf(rapid.Int()).Draw(t, "rows")
		limit := rapid.IntRange(1, 50).Draw(t, "limit")

		got := Truncate(rows, limit)

		want := len(rows)
		if limit < want {
			want = limit
		}
		if len(got) != want {
			t.Fatalf("len = %d, want %d", len(got), want)
		}
		for i := range got {
			if got[i] != rows[i] {
				t.Fatalf("row %d reordered", i)
			}
		}
	})
}

func TestClassify_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		log2FC := rapid.Float64Range(-20, 20).Draw(t, "log2FC")
		padj := rapid.Float64Range(0, 1).Draw(t, "padj")
		cutoff := rapid.Float64Range(0.0001, 1).Draw(t, "cutoff")
		lfc := rapid.Float64Range(0, 10).Draw(t, "lfc")

		label := Classify(log2FC, padj, cutoff, lfc)

		switch label {
		case Upregulated:
			if padj > cutoff || log2FC < lfc {
				t.Fatalf("up with padj=%v log2FC=%v", padj, log2FC)
			}
		case Downregulated:
			if padj > cutoff || log2FC > -lfc {
				t.Fatalf("down with padj=%v log2FC=%v", padj, log2FC)
			}
		case NonSignificant:
			if padj <= cutoff && (log2FC >= lfc || log2FC <= -lfc) {
				t.Fatalf("non-significant with padj=%v log2FC=%v", padj, log2FC)
			}
		}
	})
}
