package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/jonathan/mp-harvester/internal/acquire"
	"github.com/jonathan/mp-harvester/internal/session"
)

// LoginRequest optionally carries a share code. Without one the server runs
// the interactive browser login.
type LoginRequest struct {
	ShareCode string `json:"share_code,omitempty" validate:"omitempty,startswith=WC01"`
}

// SearchRequest starts a streamed search.
type SearchRequest struct {
	Query          string `json:"query" validate:"required_without=FakeID,max=64"`
	FakeID         string `json:"fakeid,omitempty"`
	MaxPages       int    `json:"max_pages,omitempty" validate:"gte=0,lte=500"`
	IncludeContent bool   `json:"include_content,omitempty"`
	Since          string `json:"since,omitempty"`
	Until          string `json:"until,omitempty"`
	Keyword        string `json:"keyword,omitempty"`
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, s.sessions.Status())
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := s.validator.Struct(req); err != nil {
		s.failWith(w, r, validationError(err))
		return
	}

	if req.ShareCode != "" {
		c, err := session.DecodeShareCode(req.ShareCode)
		if err != nil {
			s.failWith(w, r, &ErrValidation{Field: "share_code", Message: err.Error()})
			return
		}
		if _, err := s.sessions.Import(c); err != nil {
			s.failWith(w, r, &ErrValidation{Field: "share_code", Message: err.Error()})
			return
		}
	} else if _, err := s.sessions.Acquire(r.Context()); err != nil {
		s.failWith(w, r, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, s.sessions.Status())
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Logout(); err != nil {
		s.failWith(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		s.failWith(w, r, &ErrValidation{Field: "query", Message: "required"})
		return
	}

	accounts, err := s.engine.SearchAccounts(r.Context(), query)
	if err != nil {
		s.failWith(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"accounts": accounts})
}

func (s *Server) handleArticle(w http.ResponseWriter, r *http.Request) {
	articleURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if articleURL == "" {
		s.failWith(w, r, &ErrValidation{Field: "url", Message: "required"})
		return
	}

	article, err := s.engine.FetchArticle(r.Context(), articleURL)
	if err != nil {
		s.failWith(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, article)
}

// handleSearchStream runs a search and streams its progress. The final
// SearchResultSet is sent as a result event; the stream closes after it.
func (s *Server) handleSearchStream(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := s.validator.Struct(req); err != nil {
		s.failWith(w, r, validationError(err))
		return
	}
	since, err := acquire.ParseDate(req.Since, false)
	if err != nil {
		s.failWith(w, r, &ErrValidation{Field: "since", Message: err.Error()})
		return
	}
	until, err := acquire.ParseDate(req.Until, true)
	if err != nil {
		s.failWith(w, r, &ErrValidation{Field: "until", Message: err.Error()})
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	opts := acquire.SearchOptions{
		Query:          req.Query,
		FakeID:         req.FakeID,
		MaxPages:       req.MaxPages,
		IncludeContent: req.IncludeContent,
		Since:          since,
		Until:          until,
		Keyword:        req.Keyword,
		OnProgress: func(event acquire.ProgressEvent) {
			if event.Step == acquire.StepComplete {
				event.Content = nil
			}
			if err := sse.WriteEvent(EventProgress, event); err != nil {
				s.logger.Debug("failed to write SSE event", zap.Error(err))
			}
		},
	}

	set, err := s.engine.Search(r.Context(), opts)
	if err != nil {
		sse.WriteError(err.Error(), HTTPStatus(err))
		if set == nil {
			return
		}
	}
	if werr := sse.WriteEvent(EventResult, set); werr != nil {
		s.logger.Debug("failed to write SSE result", zap.Error(werr))
	}
}

func (s *Server) handleInvalidateCache(w http.ResponseWriter, r *http.Request) {
	fingerprint := r.PathValue("fingerprint")
	if len(fingerprint) != 64 || strings.Trim(fingerprint, "0123456789abcdef") != "" {
		s.failWith(w, r, &ErrValidation{Field: "fingerprint", Message: "must be 64 lowercase hex characters"})
		return
	}
	if err := s.cache.Invalidate(r.Context(), fingerprint); err != nil {
		s.failWith(w, r, fmt.Errorf("failed to invalidate %s: %w", fingerprint, err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// validationError reports the first failing field.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return &ErrValidation{Field: verrs[0].Field(), Message: verrs[0].Tag()}
	}
	return &ErrValidation{Field: "request", Message: "invalid request"}
}
