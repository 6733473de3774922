package gviz

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Order is one ORDER BY term.
type Order struct {
	Column string
	Desc   bool
}

// Query is a tabular query: column selection, ordering and an optional limit.
type Query struct {
	Select  []string
	OrderBy []Order
	Limit   int
}

// String renders the query language text, e.g.
// "SELECT A,B,C ORDER BY A DESC, B DESC LIMIT 1".
func (q Query) String() string {
	var parts []string
	if len(q.Select) > 0 {
		parts = append(parts, "SELECT "+strings.Join(q.Select, ","))
	}
	if len(q.OrderBy) > 0 {
		terms := make([]string, len(q.OrderBy))
		for i, o := range q.OrderBy {
			terms[i] = o.Column
			if o.Desc {
				terms[i] += " DESC"
			}
		}
		parts = append(parts, "ORDER BY "+strings.Join(terms, ", "))
	}
	if q.Limit > 0 {
		parts = append(parts, "LIMIT "+strconv.Itoa(q.Limit))
	}
	return strings.Join(parts, " ")
}

// NewestFirst selects cols ordered by the date and time columns descending,
// keeping at most limit rows.
func NewestFirst(cols []string, dateCol, timeCol string, limit int) Query {
	return Query{
		Select:  cols,
		OrderBy: []Order{{Column: dateCol, Desc: true}, {Column: timeCol, Desc: true}},
		Limit:   limit,
	}
}

// BuildURL attaches the sheet name and query text to a feed endpoint.
// Existing query parameters on base are kept.
func BuildURL(base, sheet string, q Query) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid feed url %q: %w", base, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid feed url %q: missing scheme or host", base)
	}
	values := u.Query()
	if sheet != "" {
		values.Set("sheet", sheet)
	}
	if tq := q.String(); tq != "" {
		values.Set("tq", tq)
	}
	// The query endpoint expects %20 rather than form-encoded spaces.
	u.RawQuery = strings.ReplaceAll(values.Encode(), "+", "%20")
	return u.String(), nil
}

// EditURL strips the /gviz/tq suffix from a feed url, leaving the
// human-facing spreadsheet link.
func EditURL(feedURL string) string {
	if i := strings.Index(feedURL, "/gviz/tq"); i >= 0 {
		return feedURL[:i]
	}
	return feedURL
}
