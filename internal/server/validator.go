package server

import (
	"fmt"

	"github.com/spf13/cast"

	"github.com/tejusbharadwaj/tankwatch/internal/session"
)

const maxReadingsLimit = 10000

type RequestValidator struct {
	defaultLimit int
	maxLimit     int
}

func NewRequestValidator() *RequestValidator {
	return &RequestValidator{
		defaultLimit: session.TableSize,
		maxLimit:     maxReadingsLimit,
	}
}

// ReadingsLimit parses the limit query parameter. An empty value selects the
// table size; 0 selects every reading.
func (v *RequestValidator) ReadingsLimit(raw string) (int, error) {
	if raw == "" {
		return v.defaultLimit, nil
	}
	n, err := cast.ToIntE(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid limit: %s", raw)
	}
	if n < 0 {
		return 0, fmt.Errorf("limit must not be negative")
	}
	if n > v.maxLimit {
		return 0, fmt.Errorf("limit exceeds maximum allowed (%d)", v.maxLimit)
	}
	return n, nil
}
