package gviz

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrDateLiteral is returned for text that is not a date literal.
var ErrDateLiteral = errors.New("invalid date literal")

const datePrefix = "Date("

// DateLiteral is a decoded Date(y,m,d[,h[,mi[,s[,ms]]]]) value. Month is
// zero-based, as the feed emits it.
type DateLiteral struct {
	Year        int
	Month       int
	Day         int
	Hour        int
	Minute      int
	Second      int
	Millisecond int
}

// ParseDateLiteral decodes the feed's textual date form. The literal may be
// embedded in surrounding text; the first Date( occurrence is decoded.
// Clock components default to 0 when absent.
func ParseDateLiteral(s string) (DateLiteral, error) {
	start := strings.Index(s, datePrefix)
	if start < 0 {
		return DateLiteral{}, fmt.Errorf("%w: %q", ErrDateLiteral, s)
	}
	body := s[start+len(datePrefix):]
	end := strings.IndexByte(body, ')')
	if end < 0 {
		return DateLiteral{}, fmt.Errorf("%w: %q", ErrDateLiteral, s)
	}

	parts := strings.Split(body[:end], ",")
	if len(parts) < 3 || len(parts) > 7 {
		return DateLiteral{}, fmt.Errorf("%w: %q has %d components", ErrDateLiteral, s, len(parts))
	}

	var fields [7]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			return DateLiteral{}, fmt.Errorf("%w: %q component %d", ErrDateLiteral, s, i)
		}
		fields[i] = n
	}

	return DateLiteral{
		Year:        fields[0],
		Month:       fields[1],
		Day:         fields[2],
		Hour:        fields[3],
		Minute:      fields[4],
		Second:      fields[5],
		Millisecond: fields[6],
	}, nil
}

// In returns the instant the literal names in loc. Out-of-range fields
// normalize the way time.Date does.
func (d DateLiteral) In(loc *time.Location) time.Time {
	return time.Date(d.Year, time.Month(d.Month+1), d.Day,
		d.Hour, d.Minute, d.Second, d.Millisecond*int(time.Millisecond), loc)
}

// Clock is a time of day.
type Clock struct {
	Hour, Minute, Second, Millisecond int
}

// Clock returns the clock half of the literal.
func (d DateLiteral) Clock() Clock {
	return Clock{Hour: d.Hour, Minute: d.Minute, Second: d.Second, Millisecond: d.Millisecond}
}

// ParseTimeOfDay decodes the feed's timeofday array form [h, m, s(, ms)].
func ParseTimeOfDay(v []interface{}) (Clock, error) {
	if len(v) < 3 || len(v) > 4 {
		return Clock{}, fmt.Errorf("%w: timeofday has %d components", ErrDateLiteral, len(v))
	}
	var fields [4]int
	for i, x := range v {
		f, ok := x.(float64)
		if !ok || f < 0 || f != float64(int(f)) {
			return Clock{}, fmt.Errorf("%w: timeofday component %d", ErrDateLiteral, i)
		}
		fields[i] = int(f)
	}
	return Clock{Hour: fields[0], Minute: fields[1], Second: fields[2], Millisecond: fields[3]}, nil
}
