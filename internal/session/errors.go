package session

import (
	"errors"

	"github.com/tejusbharadwaj/tankwatch/internal/api"
	"github.com/tejusbharadwaj/tankwatch/internal/config"
	"github.com/tejusbharadwaj/tankwatch/internal/gviz"
)

var (
	// ErrNoData is returned when a feed yields no usable rows.
	ErrNoData = errors.New("no usable readings in feed")
	// ErrStale is returned when a newer cycle committed before this one finished.
	ErrStale = errors.New("superseded by a newer refresh")
)

// Error kinds shown to users and used as metric labels.
const (
	KindNetwork = "network"
	KindFormat  = "format"
	KindParse   = "parse"
	KindNoData  = "no_data"
	KindConfig  = "config"
	KindUnknown = "unknown"
)

// ErrorKind classifies an error chain. A nil error has no kind.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, api.ErrNetwork):
		return KindNetwork
	case errors.Is(err, gviz.ErrFormat):
		return KindFormat
	case errors.Is(err, gviz.ErrParse):
		return KindParse
	case errors.Is(err, ErrNoData):
		return KindNoData
	case errors.Is(err, config.ErrConfig):
		return KindConfig
	default:
		return KindUnknown
	}
}
