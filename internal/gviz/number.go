package gviz

import (
	"math"
	"regexp"
	"strings"

	"github.com/spf13/cast"
)

var numberPrefix = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)

// Float interprets the cell as a finite number. Numeric cells are used as-is;
// text cells are read like a spreadsheet formula would, taking the longest
// leading numeric prefix ("2.5 m" reads as 2.5). Null, boolean and
// non-numeric cells report false.
func (c *Cell) Float() (float64, bool) {
	if c.Null() {
		return 0, false
	}
	var f float64
	switch v := c.V.(type) {
	case float64:
		f = v
	case string:
		s := strings.TrimSpace(v)
		n, err := cast.ToFloat64E(s)
		if err != nil {
			m := numberPrefix.FindString(s)
			if m == "" {
				return 0, false
			}
			if n, err = cast.ToFloat64E(m); err != nil {
				return 0, false
			}
		}
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Text returns the cell value as text, and false when it is not a string.
func (c *Cell) Text() (string, bool) {
	if c.Null() {
		return "", false
	}
	s, ok := c.V.(string)
	return s, ok
}
