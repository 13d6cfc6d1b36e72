package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/webscout/internal/crawler"
	"github.com/JakeFAU/webscout/internal/scheduler"
	"github.com/JakeFAU/webscout/internal/search"
)

const maxQueueBatch = 100

// search handles GET /v1/search?q=&max_results=&offset=&type=.
func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	maxResults, offset, err := parseLimitOffset(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := s.engine.Search(r.Context(), search.Request{
		Query:      q.Get("q"),
		MaxResults: maxResults,
		Offset:     offset,
		Type:       search.Type(q.Get("type")),
	})
	if err != nil {
		s.writeSearchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// searchDomain handles GET /v1/search/domain?domain=&q=&max_results=.
func (s *Server) searchDomain(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	maxResults, _, err := parseLimitOffset(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := s.engine.SearchDomain(r.Context(), q.Get("domain"), q.Get("q"), maxResults)
	if err != nil {
		s.writeSearchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// stats handles GET /v1/stats.
func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Statistics(r.Context())
	if err != nil {
		s.logger.Error("statistics failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load statistics")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type enqueueRequest struct {
	URLs     []string `json:"urls"`
	Priority *int     `json:"priority"`
}

type enqueueResponse struct {
	Added    []string          `json:"added"`
	Skipped  []string          `json:"skipped"`
	Rejected map[string]string `json:"rejected,omitempty"`
}

// enqueue handles POST /v1/queue {"urls": [...], "priority": 10}. Already known URLs
// are reported as skipped; a full frontier answers 503.
func (s *Server) enqueue(w http.ResponseWriter, r *http.Request) {
	if s.frontier == nil {
		writeError(w, http.StatusServiceUnavailable, "crawl frontier unavailable")
		return
	}
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.URLs) == 0 {
		writeError(w, http.StatusBadRequest, "urls required")
		return
	}
	if len(req.URLs) > maxQueueBatch {
		writeError(w, http.StatusBadRequest, "too many urls")
		return
	}
	priority := crawler.PrioritySeed
	if req.Priority != nil {
		priority = *req.Priority
	}

	out := enqueueResponse{Added: []string{}, Skipped: []string{}}
	for _, u := range req.URLs {
		added, err := s.frontier.Enqueue(r.Context(), u, priority)
		switch {
		case errors.Is(err, scheduler.ErrFrontierFull):
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		case errors.Is(err, context.DeadlineExceeded):
			writeError(w, http.StatusRequestTimeout, err.Error())
			return
		case err != nil:
			if out.Rejected == nil {
				out.Rejected = map[string]string{}
			}
			out.Rejected[u] = err.Error()
		case added:
			out.Added = append(out.Added, u)
		default:
			out.Skipped = append(out.Skipped, u)
		}
	}
	writeJSON(w, http.StatusAccepted, out)
}

func (s *Server) writeSearchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, search.ErrEmptyQuery), errors.Is(err, search.ErrEmptyDomain),
		errors.Is(err, search.ErrInvalidSearchType):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, http.StatusRequestTimeout, "search timed out")
	default:
		s.logger.Error("search failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "search failed")
	}
}

// parseLimitOffset reads max_results and offset. Bounds beyond these checks are the
// engine's job.
func parseLimitOffset(r *http.Request) (int, int, error) {
	q := r.URL.Query()
	limit := 0
	if limStr := strings.TrimSpace(q.Get("max_results")); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid max_results")
		}
		limit = val
	}
	offset := 0
	if offStr := strings.TrimSpace(q.Get("offset")); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
