package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// CellKind enumerates the primitive kinds a top-table cell may hold
type CellKind int

const (
	CellNull CellKind = iota
	CellNumber
	CellString
)

// Cell is a single top-table value
type Cell struct {
	Kind CellKind
	Num  float64
	Str  string
}

// NumberCell creates a numeric cell
func NumberCell(v float64) Cell { return Cell{Kind: CellNumber, Num: v} }

// StringCell creates a string cell
func StringCell(s string) Cell { return Cell{Kind: CellString, Str: s} }

// String renders the cell the way the table shows it
func (c Cell) String() string {
	switch c.Kind {
	case CellNumber:
		return strconv.FormatFloat(c.Num, 'g', -1, 64)
	case CellString:
		return c.Str
	default:
		return "null"
	}
}

// MarshalJSON writes the cell back as its primitive value
func (c Cell) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case CellNumber:
		if math.IsNaN(c.Num) || math.IsInf(c.Num, 0) {
			return []byte("null"), nil
		}
		return []byte(strconv.FormatFloat(c.Num, 'g', -1, 64)), nil
	case CellString:
		return json.Marshal(c.Str)
	default:
		return []byte("null"), nil
	}
}

// TopTable is the top-gene table with the column order the backend sent
type TopTable struct {
	Columns []string
	Rows    [][]Cell
}

// Len returns the number of rows
func (t TopTable) Len() int { return len(t.Rows) }

// Value returns the cell at row i for column name
func (t TopTable) Value(i int, column string) (Cell, bool) {
	for j, c := range t.Columns {
		if c == column {
			if i < 0 || i >= len(t.Rows) || j >= len(t.Rows[i]) {
				return Cell{}, false
			}
			return t.Rows[i][j], true
		}
	}
	return Cell{}, false
}

// MarshalJSON writes the table as an array of objects in column order
func (t TopTable) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, row := range t.Rows {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('{')
		for j, col := range t.Columns {
			if j > 0 {
				buf.WriteByte(',')
			}
			k, err := json.Marshal(col)
			if err != nil {
				return nil, err
			}
			buf.Write(k)
			buf.WriteByte(':')
			var cell Cell
			if j < len(row) {
				cell = row[j]
			}
			v, err := cell.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(v)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an array of flat objects. Columns follow the key order
// of the first row; keys first seen in later rows are appended.
func (t *TopTable) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*t = TopTable{}
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	if err := expectDelim(dec, '['); err != nil {
		return err
	}

	index := map[string]int{}
	var columns []string
	var rows []map[string]Cell

	for dec.More() {
		if err := expectDelim(dec, '{'); err != nil {
			return err
		}
		row := map[string]Cell{}
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return err
			}
			key, ok := tok.(string)
			if !ok {
				return fmt.Errorf("top_table: expected object key, got %v", tok)
			}
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				return err
			}
			row[key] = decodeCell(raw)
			if _, seen := index[key]; !seen {
				index[key] = len(columns)
				columns = append(columns, key)
			}
		}
		if err := expectDelim(dec, '}'); err != nil {
			return err
		}
		rows = append(rows, row)
	}
	if err := expectDelim(dec, ']'); err != nil {
		return err
	}

	t.Columns = columns
	t.Rows = make([][]Cell, len(rows))
	for i, row := range rows {
		cells := make([]Cell, len(columns))
		for j, col := range columns {
			cells[j] = row[col]
		}
		t.Rows[i] = cells
	}
	return nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("top_table: expected %q, got %v", want, tok)
	}
	return nil
}

func decodeCell(raw json.RawMessage) Cell {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Cell{Kind: CellNull}
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return StringCell(s)
		}
	case 't', 'f':
		return StringCell(string(trimmed))
	case '{', '[':
		return StringCell(string(trimmed))
	default:
		if f, err := strconv.ParseFloat(string(trimmed), 64); err == nil {
			return NumberCell(f)
		}
	}
	return StringCell(string(trimmed))
}
