package daemon

import (
	"net/http"
	"strconv"
	"time"

	"aco/internal/logs"
	"aco/internal/services"
)

const maxLogWait = 30 * time.Second

// handleLogs pages through the server log. offset defaults to -1 (tail);
// follow=true long-polls for up to wait (a Go duration, capped at 30s).
func (s *apiServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := logs.Request{Offset: -1, Search: q.Get("search")}
	var err error
	if v := q.Get("offset"); v != "" {
		if req.Offset, err = strconv.ParseInt(v, 10, 64); err != nil {
			s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "logs", "offset must be an integer", nil))
			return
		}
	}
	if v := q.Get("limit"); v != "" {
		if req.Limit, err = strconv.Atoi(v); err != nil || req.Limit < 0 {
			s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "logs", "limit must be a non-negative integer", nil))
			return
		}
	}
	if v := q.Get("follow"); v != "" {
		if req.Follow, err = strconv.ParseBool(v); err != nil {
			s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "logs", "follow must be a boolean", nil))
			return
		}
	}
	if req.Follow {
		req.Wait = 10 * time.Second
		if v := q.Get("wait"); v != "" {
			if req.Wait, err = time.ParseDuration(v); err != nil || req.Wait < 0 {
				s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "logs", "wait must be a duration such as 5s", nil))
				return
			}
		}
		req.Wait = min(req.Wait, maxLogWait)
	}

	page, err := logs.Read(r.Context(), logs.CurrentPath(s.cfg.Paths.LogDir), req)
	if err != nil && r.Context().Err() == nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}
