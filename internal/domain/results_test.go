package domain

import (
	"math"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDEResultRow_NullPadjBecomesNaN(t *testing.T) {
	var rows []DEResultRow
	err := json.Unmarshal([]byte(`[
		{"gene":"A","log2FC":1.5,"padj":0.01},
		{"gene":"B","log2FC":-0.2,"padj":null},
		{"gene":"C","log2FC":3,"padj":0,"neglog10padj":300}
	]`), &rows)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, 0.01, rows[0].Padj)
	assert.Nil(t, rows[0].NegLog10Padj)
	assert.True(t, math.IsNaN(rows[1].Padj))
	require.NotNil(t, rows[2].NegLog10Padj)
	assert.Equal(t, 300.0, *rows[2].NegLog10Padj)
}

func TestDEResultRow_MarshalWritesNullForNaN(t *testing.T) {
	b, err := json.Marshal(DEResultRow{Gene: "B", Log2FC: 1, Padj: math.NaN()})
	require.NoError(t, err)
	assert.JSONEq(t, `{"gene":"B","log2FC":1,"padj":null}`, string(b))
}

func TestTopTable_PreservesColumnOrderAndKinds(t *testing.T) {
	var table TopTable
	err := json.Unmarshal([]byte(`[
		{"gene":"TP53","log2FC":2.5,"padj":0.001,"symbol":null},
		{"gene":"MYC","log2FC":-1,"padj":0.02,"symbol":"MYC","flag":true}
	]`), &table)
	require.NoError(t, err)

	assert.Equal(t, []string{"gene", "log2FC", "padj", "symbol", "flag"}, table.Columns)
	require.Equal(t, 2, table.Len())

	gene, ok := table.Value(0, "gene")
	require.True(t, ok)
	assert.Equal(t, CellString, gene.Kind)
	assert.Equal(t, "TP53", gene.String())

	fc, _ := table.Value(0, "log2FC")
	assert.Equal(t, CellNumber, fc.Kind)
	assert.Equal(t, 2.5, fc.Num)

	sym, _ := table.Value(0, "symbol")
	assert.Equal(t, CellNull, sym.Kind)
	assert.Equal(t, "null", sym.String())

	// first row has no "flag" column value
	flag, _ := table.Value(0, "flag")
	assert.Equal(t, CellNull, flag.Kind)

	flag, _ = table.Value(1, "flag")
	assert.Equal(t, StringCell("true"), flag)

	_, ok = table.Value(0, "missing")
	assert.False(t, ok)
}

func TestTopTable_MarshalKeepsOrder(t *testing.T) {
	table := TopTable{
		Columns: []string{"padj", "gene"},
		Rows: [][]Cell{
			{NumberCell(0.5), StringCell("A")},
			{{Kind: CellNull}, StringCell("B")},
		},
	}
	b, err := json.Marshal(table)
	require.NoError(t, err)
	assert.Equal(t, `[{"padj":0.5,"gene":"A"},{"padj":null,"gene":"B"}]`, string(b))
}

func TestTopTable_Null(t *testing.T) {
	var table TopTable
	require.NoError(t, json.Unmarshal([]byte(`null`), &table))
	assert.Equal(t, 0, table.Len())
	assert.Empty(t, table.Columns)
}

func TestTopTable_RejectsNonArray(t *testing.T) {
	var table TopTable
	assert.Error(t, json.Unmarshal([]byte(`{"gene":"A"}`), &table))
}
