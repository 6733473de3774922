// Package gviz decodes the spreadsheet tabular-query wire format.
//
// A tabular-query response is a JavaScript callback invocation wrapping a JSON
// payload:
//
//	/*O_o*/
//	google.visualization.Query.setResponse({"version":"0.6","status":"ok",
//	    "table":{"cols":[...],"rows":[{"c":[{"v":"Date(2024,0,5)"},null,{"v":1.2}]}]}});
//
// Parse strips the envelope and returns the table. Cells keep the raw value
// the feed delivered; interpretation (dates, heights) is left to callers.
package gviz

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// EnvelopeMarker is the callback the feed wraps its payload in.
const EnvelopeMarker = "google.visualization.Query.setResponse("

var (
	// ErrFormat is returned when the response does not carry the expected envelope.
	ErrFormat = errors.New("tabular feed response format error")
	// ErrParse is returned when the wrapped payload is not a usable table.
	ErrParse = errors.New("tabular feed payload parse error")
)

// Column describes one column of the returned table.
type Column struct {
	ID    string
	Label string
	Type  string
}

// Cell is one table cell. A nil *Cell stands for a null cell object.
type Cell struct {
	// V is the raw value: float64, string, bool, []interface{} or nil.
	V interface{}
	// F is the feed's formatted rendering of V, if any.
	F string
}

// Null reports whether the cell is absent or carries a null value.
func (c *Cell) Null() bool {
	return c == nil || c.V == nil
}

// Row is an ordered sequence of cells.
type Row struct {
	Cells []*Cell
}

// Cell returns the cell at index i, or nil when the row is shorter than i+1.
func (r Row) Cell(i int) *Cell {
	if i < 0 || i >= len(r.Cells) {
		return nil
	}
	return r.Cells[i]
}

// Table is the decoded payload of a tabular-query response.
type Table struct {
	Version string
	Status  string
	Cols    []Column
	Rows    []Row
}

// Parse extracts the payload from a wrapped response body and decodes its table.
func Parse(body string) (*Table, error) {
	payload, err := unwrap(body)
	if err != nil {
		return nil, err
	}

	if !gjson.Valid(payload) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", ErrParse)
	}

	doc := gjson.Parse(payload)
	if !doc.IsObject() {
		return nil, fmt.Errorf("%w: payload is not an object", ErrParse)
	}

	status := doc.Get("status").String()
	if status == "error" {
		msg := doc.Get("errors.0.detailed_message").String()
		if msg == "" {
			msg = doc.Get("errors.0.message").String()
		}
		return nil, fmt.Errorf("%w: feed reported error: %s", ErrParse, msg)
	}

	rows := doc.Get("table.rows")
	if !rows.IsArray() {
		return nil, fmt.Errorf("%w: missing table.rows", ErrParse)
	}

	table := &Table{
		Version: doc.Get("version").String(),
		Status:  status,
	}

	for _, col := range doc.Get("table.cols").Array() {
		table.Cols = append(table.Cols, Column{
			ID:    col.Get("id").String(),
			Label: col.Get("label").String(),
			Type:  col.Get("type").String(),
		})
	}

	for i, row := range rows.Array() {
		cells := row.Get("c")
		if !cells.IsArray() {
			return nil, fmt.Errorf("%w: row %d has no cell list", ErrParse, i)
		}
		var r Row
		for _, c := range cells.Array() {
			r.Cells = append(r.Cells, decodeCell(c))
		}
		table.Rows = append(table.Rows, r)
	}

	return table, nil
}

func decodeCell(c gjson.Result) *Cell {
	if c.Type == gjson.Null || !c.IsObject() {
		return nil
	}
	cell := &Cell{F: c.Get("f").String()}
	if v := c.Get("v"); v.Exists() && v.Type != gjson.Null {
		cell.V = v.Value()
	}
	return cell
}

// unwrap returns the text between the envelope marker and the last closing
// parenthesis of the body.
func unwrap(body string) (string, error) {
	start := strings.Index(body, EnvelopeMarker)
	if start < 0 {
		return "", fmt.Errorf("%w: envelope marker not found", ErrFormat)
	}
	rest := body[start+len(EnvelopeMarker):]
	end := strings.LastIndex(rest, ")")
	if end < 0 {
		return "", fmt.Errorf("%w: envelope is not closed", ErrFormat)
	}
	payload := strings.TrimSpace(rest[:end])
	if payload == "" {
		return "", fmt.Errorf("%w: empty envelope", ErrFormat)
	}
	return payload, nil
}
