// Package readings turns tabular feed rows into validated, timestamped readings.
//
// The feed splits each instant over two cells: the date cell supplies the
// calendar fields and the time cell the clock fields. Neither cell alone names
// the instant; the date cell usually carries midnight and the time cell the
// spreadsheet epoch (30 Dec 1899).
package readings

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/tejusbharadwaj/tankwatch/internal/gviz"
	"github.com/tejusbharadwaj/tankwatch/internal/models"
)

// ErrRejected is wrapped by every row rejection.
var ErrRejected = errors.New("row rejected")

// Layout gives the cell index of each field in a returned row.
type Layout struct {
	Date   int
	Time   int
	Height int
}

// DefaultLayout is the SELECT A,B,C layout.
var DefaultLayout = Layout{Date: 0, Time: 1, Height: 2}

// Rejection records why a row was dropped.
type Rejection struct {
	Row    int
	Reason error
}

// Result is the outcome of reconstructing a table.
type Result struct {
	// Readings are sorted newest first.
	Readings []models.Reading
	Rejected []Rejection
}

// Reconstructor builds readings for one source.
type Reconstructor struct {
	layout Layout
	loc    *time.Location
}

// NewReconstructor returns a reconstructor that composes timestamps in loc.
// A nil loc means time.Local.
func NewReconstructor(layout Layout, loc *time.Location) *Reconstructor {
	if loc == nil {
		loc = time.Local
	}
	return &Reconstructor{layout: layout, loc: loc}
}

// Rows converts every row, dropping the ones that cannot be read. Partial
// data is expected: a rejected row never fails the batch.
func (r *Reconstructor) Rows(rows []gviz.Row) Result {
	var res Result
	for i, row := range rows {
		reading, err := r.Row(row)
		if err != nil {
			res.Rejected = append(res.Rejected, Rejection{Row: i, Reason: err})
			continue
		}
		res.Readings = append(res.Readings, reading)
	}
	SortNewestFirst(res.Readings)
	return res
}

// Row converts a single row.
func (r *Reconstructor) Row(row gviz.Row) (models.Reading, error) {
	day, err := r.calendar(row.Cell(r.layout.Date))
	if err != nil {
		return models.Reading{}, fmt.Errorf("%w: date cell: %v", ErrRejected, err)
	}
	clock, err := r.clock(row.Cell(r.layout.Time))
	if err != nil {
		return models.Reading{}, fmt.Errorf("%w: time cell: %v", ErrRejected, err)
	}
	height, ok := row.Cell(r.layout.Height).Float()
	if !ok {
		return models.Reading{}, fmt.Errorf("%w: height cell is not a number", ErrRejected)
	}

	y, m, d := day.Date()
	return models.Reading{
		Time:   time.Date(y, m, d, clock.Hour(), clock.Minute(), clock.Second(), 0, r.loc),
		Height: height,
	}, nil
}

func (r *Reconstructor) calendar(c *gviz.Cell) (time.Time, error) {
	s, ok := c.Text()
	if !ok || s == "" {
		return time.Time{}, errors.New("missing")
	}
	lit, err := gviz.ParseDateLiteral(s)
	if err != nil {
		return time.Time{}, err
	}
	return lit.In(r.loc), nil
}

// clock accepts either a date literal or a timeofday array.
func (r *Reconstructor) clock(c *gviz.Cell) (time.Time, error) {
	if c.Null() {
		return time.Time{}, errors.New("missing")
	}
	switch v := c.V.(type) {
	case string:
		if v == "" {
			return time.Time{}, errors.New("missing")
		}
		lit, err := gviz.ParseDateLiteral(v)
		if err != nil {
			return time.Time{}, err
		}
		return lit.In(r.loc), nil
	case []interface{}:
		tod, err := gviz.ParseTimeOfDay(v)
		if err != nil {
			return time.Time{}, err
		}
		return time.Date(2000, time.January, 1, tod.Hour, tod.Minute, tod.Second, 0, r.loc), nil
	default:
		return time.Time{}, fmt.Errorf("unexpected %T value", c.V)
	}
}

// SortNewestFirst orders readings by timestamp, most recent first.
func SortNewestFirst(rs []models.Reading) {
	sort.SliceStable(rs, func(i, j int) bool {
		return rs[i].Time.After(rs[j].Time)
	})
}

// Chronological returns a copy of rs ordered oldest first.
func Chronological(rs []models.Reading) []models.Reading {
	out := make([]models.Reading, len(rs))
	copy(out, rs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Time.Before(out[j].Time)
	})
	return out
}

// Head returns at most n readings from the front of rs. n <= 0 returns all.
func Head(rs []models.Reading, n int) []models.Reading {
	if n <= 0 || n >= len(rs) {
		return rs
	}
	return rs[:n]
}
