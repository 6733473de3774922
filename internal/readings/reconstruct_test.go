package readings

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejusbharadwaj/tankwatch/internal/gviz"
	"github.com/tejusbharadwaj/tankwatch/internal/models"
)

func row(cells ...*gviz.Cell) gviz.Row {
	return gviz.Row{Cells: cells}
}

func v(x interface{}) *gviz.Cell {
	return &gviz.Cell{V: x}
}

func TestRowComposesDateAndClock(t *testing.T) {
	bangkok := time.FixedZone("ICT", 7*3600)
	rc := NewReconstructor(DefaultLayout, bangkok)

	tests := []struct {
		name string
		date string
		time interface{}
		want time.Time
	}{
		{
			name: "midnight date with epoch time",
			date: "Date(2024,0,5)",
			time: "Date(1899,11,30,13,45,10)",
			want: time.Date(2024, time.January, 5, 13, 45, 10, 0, bangkok),
		},
		{
			name: "date cell carrying a clock is ignored for clock fields",
			date: "Date(2024,6,1,9,9,9)",
			time: "Date(1899,11,30,0,5,0)",
			want: time.Date(2024, time.July, 1, 0, 5, 0, 0, bangkok),
		},
		{
			name: "time cell carrying a date is ignored for calendar fields",
			date: "Date(2023,11,31)",
			time: "Date(2030,2,4,23,59,59)",
			want: time.Date(2023, time.December, 31, 23, 59, 59, 0, bangkok),
		},
		{
			name: "timeofday array",
			date: "Date(2024,1,29)",
			time: []interface{}{6.0, 30.0, 0.0},
			want: time.Date(2024, time.February, 29, 6, 30, 0, 0, bangkok),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rc.Row(row(v(tt.date), v(tt.time), v(1.5)))
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got.Time), "want %v got %v", tt.want, got.Time)
			assert.Equal(t, 1.5, got.Height)
		})
	}
}

func TestRowRejections(t *testing.T) {
	rc := NewReconstructor(DefaultLayout, time.UTC)

	tests := []struct {
		name string
		row  gviz.Row
	}{
		{name: "missing date", row: row(nil, v("Date(1899,11,30,1,0,0)"), v(1.0))},
		{name: "bad date", row: row(v("yesterday"), v("Date(1899,11,30,1,0,0)"), v(1.0))},
		{name: "numeric date", row: row(v(45000.0), v("Date(1899,11,30,1,0,0)"), v(1.0))},
		{name: "missing time", row: row(v("Date(2024,0,1)"), nil, v(1.0))},
		{name: "bad time", row: row(v("Date(2024,0,1)"), v("noon"), v(1.0))},
		{name: "non numeric height", row: row(v("Date(2024,0,1)"), v("Date(1899,11,30,1,0,0)"), v("sensor fault"))},
		{name: "null height", row: row(v("Date(2024,0,1)"), v("Date(1899,11,30,1,0,0)"), &gviz.Cell{})},
		{name: "short row", row: row(v("Date(2024,0,1)"), v("Date(1899,11,30,1,0,0)"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rc.Row(tt.row)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrRejected))
		})
	}
}

func TestRowsDropsInvalidAndSortsNewestFirst(t *testing.T) {
	rc := NewReconstructor(DefaultLayout, time.UTC)

	rows := []gviz.Row{
		row(v("Date(2024,0,1)"), v("Date(1899,11,30,8,0,0)"), v(1.0)),
		row(v("Date(2024,0,1)"), v("Date(1899,11,30,10,0,0)"), v("oops")),
		row(v("Date(2024,0,1)"), v("Date(1899,11,30,9,0,0)"), v("1.2")),
		row(nil, nil, nil),
		row(v("Date(2024,0,2)"), v("Date(1899,11,30,7,0,0)"), v(1.4)),
	}

	res := rc.Rows(rows)
	require.Len(t, res.Readings, 3)
	require.Len(t, res.Rejected, 2)
	assert.Equal(t, 1, res.Rejected[0].Row)
	assert.Equal(t, 3, res.Rejected[1].Row)

	assert.Equal(t, time.Date(2024, time.January, 2, 7, 0, 0, 0, time.UTC), res.Readings[0].Time)
	assert.Equal(t, 1.4, res.Readings[0].Height)
	assert.Equal(t, 1.2, res.Readings[1].Height)
	assert.Equal(t, 1.0, res.Readings[2].Height)
}

func TestCustomLayout(t *testing.T) {
	rc := NewReconstructor(Layout{Date: 2, Time: 0, Height: 1}, time.UTC)

	got, err := rc.Row(row(v("Date(1899,11,30,4,5,6)"), v(0.75), v("Date(2025,4,10)")))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, time.May, 10, 4, 5, 6, 0, time.UTC), got.Time)
	assert.Equal(t, 0.75, got.Height)
}

func TestChronologicalAndHead(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rs := []models.Reading{
		{Time: base.Add(2 * time.Minute), Height: 3},
		{Time: base, Height: 1},
		{Time: base.Add(time.Minute), Height: 2},
	}

	chrono := Chronological(rs)
	assert.Equal(t, []float64{1, 2, 3}, []float64{chrono[0].Height, chrono[1].Height, chrono[2].Height})
	assert.Equal(t, 3.0, rs[0].Height, "input must not be reordered")

	SortNewestFirst(rs)
	assert.Equal(t, 3.0, rs[0].Height)

	assert.Len(t, Head(rs, 2), 2)
	assert.Len(t, Head(rs, 0), 3)
	assert.Len(t, Head(rs, 50), 3)
}
