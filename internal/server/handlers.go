package server

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tejusbharadwaj/tankwatch/internal/analytics"
	"github.com/tejusbharadwaj/tankwatch/internal/netstate"
	"github.com/tejusbharadwaj/tankwatch/internal/session"
)

type sourceHandler func(w http.ResponseWriter, r *http.Request, src Source)

// withSource resolves the {id} route variable.
func (s *Server) withSource(h sourceHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		src, ok := s.sources[id]
		if !ok {
			s.respondWithError(w, NewAPIError(ErrorCodeNotFound, "unknown source: "+id, nil, http.StatusNotFound))
			return
		}
		h(w, r, src)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"sources": len(s.sources),
		"online":  s.online(),
	})
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	out := make([]session.Overview, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.sources[id].Overview())
	}
	s.respondWithJSON(w, http.StatusOK, out)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request, src Source) {
	s.respondWithJSON(w, http.StatusOK, src.Dashboard())
}

func (s *Server) handleReadings(w http.ResponseWriter, r *http.Request, src Source) {
	raw := r.URL.Query().Get("limit")
	limit, err := s.validator.ReadingsLimit(raw)
	if err != nil {
		s.respondWithError(w, NewAPIError(ErrorCodeBadRequest, err.Error(), raw, http.StatusBadRequest))
		return
	}
	s.respondWithJSON(w, http.StatusOK, src.Readings(limit))
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request, src Source) {
	s.respondWithJSON(w, http.StatusOK, src.Chart())
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request, src Source) {
	in, err := src.Insights()
	switch {
	case errors.Is(err, analytics.ErrInsufficientData):
		s.respondWithError(w, NewAPIError(ErrorCodeInsufficientData,
			"fewer than two readings in the analytics window", nil, http.StatusUnprocessableEntity))
	case err != nil:
		s.logger.WithError(err).WithField("source", src.ID()).Error("Failed to compute insights")
		s.respondWithError(w, NewAPIError(ErrorCodeInternalServerError, "failed to compute insights", nil, http.StatusInternalServerError))
	default:
		s.respondWithJSON(w, http.StatusOK, in)
	}
}

func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	if s.network == nil {
		s.respondWithJSON(w, http.StatusOK, netstate.Status{Online: true})
		return
	}
	s.respondWithJSON(w, http.StatusOK, s.network.Status())
}
