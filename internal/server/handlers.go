package server

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/harun/toolgate/pkg/auditlog"
	"github.com/harun/toolgate/pkg/dispatch"
)

// dispatchBody is either one request or a batch under "requests".
type dispatchBody struct {
	dispatch.Request
	Requests []dispatch.Request `json:"requests"`
}

type batchResponse struct {
	Results []dispatch.Result `json:"results"`
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":         "ok",
			"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
			"providers":      s.manager.Registry().IDs(),
		})
	}
}

func (s *Server) handleDispatch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body dispatchBody
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err := dec.Decode(&body); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}

		batch := body.Requests != nil
		reqs := body.Requests
		if !batch {
			reqs = []dispatch.Request{body.Request}
		}
		if batch && len(reqs) == 0 {
			writeError(w, http.StatusBadRequest, "requests must not be empty")
			return
		}
		if len(reqs) > s.cfg.MaxBatch {
			writeError(w, http.StatusRequestEntityTooLarge,
				"batch of "+strconv.Itoa(len(reqs))+" exceeds max_batch "+strconv.Itoa(s.cfg.MaxBatch))
			return
		}

		if !s.allow(w, reqs) {
			return
		}

		ctx := r.Context()
		if !batch {
			writeJSON(w, http.StatusOK, s.manager.Dispatch(ctx, reqs[0]))
			return
		}
		writeJSON(w, http.StatusOK, batchResponse{Results: s.manager.DispatchBatch(ctx, reqs)})
	}
}

// allow charges a whole request body to the rate limit. A rejected batch
// costs none of its agents anything.
func (s *Server) allow(w http.ResponseWriter, reqs []dispatch.Request) bool {
	if s.limiter == nil {
		return true
	}
	agents := make([]string, len(reqs))
	for i, req := range reqs {
		agents[i] = req.AgentID
	}

	ok, agent, retry := s.limiter.AllowBatch(agents)
	if ok {
		return true
	}
	secs := int(math.Ceil(retry.Seconds()))
	if secs < 1 {
		secs = 1
	}
	s.logger.Warn().
		Str("agent_id", agent).
		Int("batch", len(reqs)).
		Int("retry_after", secs).
		Msg("Dispatch rate limit exceeded")
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	return false
}

func (s *Server) handleListTools() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		connectionID := q.Get("connection_id")
		if connectionID == "" {
			writeError(w, http.StatusBadRequest, "connection_id is required")
			return
		}
		providers := s.manager.ListTools(r.Context(), q.Get("agent_id"), connectionID)
		writeJSON(w, http.StatusOK, map[string]any{"providers": providers})
	}
}

func (s *Server) handleQueryExecutions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := parseFilter(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		records, err := s.manager.Audit().Query(r.Context(), f)
		if err != nil {
			s.logger.Error().Err(err).Msg("Execution query failed")
			writeError(w, http.StatusInternalServerError, "execution query failed")
			return
		}
		if records == nil {
			records = []auditlog.Record{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"executions": records})
	}
}

func parseFilter(r *http.Request) (auditlog.Filter, error) {
	q := r.URL.Query()
	f := auditlog.Filter{
		AgentID:  q.Get("agent_id"),
		ToolName: q.Get("tool_name"),
	}

	var err error
	if v := q.Get("since"); v != "" {
		if f.Since, err = time.Parse(time.RFC3339, v); err != nil {
			return f, errors.New("since must be an RFC 3339 timestamp")
		}
	}
	if v := q.Get("until"); v != "" {
		if f.Until, err = time.Parse(time.RFC3339, v); err != nil {
			return f, errors.New("until must be an RFC 3339 timestamp")
		}
	}
	if v := q.Get("success"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, errors.New("success must be true or false")
		}
		f.Success = &b
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, errors.New("limit must be a non-negative integer")
		}
		f.Limit = n
	}
	return f.Normalize(), nil
}

func (s *Server) handleInvalidateProvider() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, ok := s.manager.Registry().Get(id); !ok {
			writeError(w, http.StatusNotFound, "unknown provider: "+id)
			return
		}
		n := s.manager.InvalidateProvider(id)
		writeJSON(w, http.StatusOK, map[string]any{"provider_id": id, "invalidated": n})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, RequestID: w.Header().Get(RequestIDHeader)})
}
