package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/astroline/platform/gateway/internal/archive"
	"github.com/astroline/platform/gateway/internal/gateway"
	"github.com/astroline/platform/gateway/internal/pii"
	"github.com/astroline/platform/gateway/internal/retrieval"
)

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type searchResponse struct {
	Tenant  string                   `json:"tenant"`
	Results []retrieval.SearchResult `json:"results"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		gateway.WriteError(w, r, http.StatusBadRequest, gateway.CodeBadRequest, "invalid JSON body", nil)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		gateway.WriteError(w, r, http.StatusUnprocessableEntity, gateway.CodeValidationError, "query is required", nil)
		return
	}

	tenant := gateway.Tenant(r.Context()).Tenant
	results, err := s.primary.Search(r.Context(), req.Query, req.TopK, tenant)
	if err != nil {
		s.logger.Error().Err(err).Str("tenant", tenant).Msg("primary search failed")
		gateway.WriteError(w, r, http.StatusBadGateway, gateway.CodeBadGateway, "retrieval backend unavailable", nil)
		return
	}
	if s.shadow != nil {
		s.shadow.Sample(req.Query, tenant, retrieval.ResultIDs(results))
	}
	gateway.WriteJSON(w, http.StatusOK, searchResponse{Tenant: tenant, Results: results})
}

type ingestRequest struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		gateway.WriteError(w, r, http.StatusBadRequest, gateway.CodeBadRequest, "invalid JSON body", nil)
		return
	}
	if req.ID == "" || strings.TrimSpace(req.Text) == "" {
		gateway.WriteError(w, r, http.StatusUnprocessableEntity, gateway.CodeValidationError, "id and text are required", nil)
		return
	}

	doc := retrieval.Document{
		ID:       req.ID,
		Tenant:   gateway.Tenant(r.Context()).Tenant,
		Text:     req.Text,
		Metadata: req.Metadata,
	}

	if s.scanner != nil {
		if err := s.scanner.ScanDocument(r.Context(), doc); err != nil {
			if !s.rejectViolation(w, r, err, doc.Tenant) {
				return
			}
		}
	}

	if err := s.primary.Ingest(r.Context(), doc); err != nil {
		s.logger.Error().Err(err).Str("doc_id", doc.ID).Str("tenant", doc.Tenant).Msg("primary ingest failed")
		gateway.WriteError(w, r, http.StatusBadGateway, gateway.CodeBadGateway, "retrieval backend unavailable", nil)
		return
	}
	if s.dual != nil {
		s.dual.Write(r.Context(), doc)
	}
	if len(s.sinks) > 0 {
		payload, err := json.Marshal(doc)
		if err == nil {
			archive.StoreAll(r.Context(), s.sinks, doc, payload, s.logger)
		}
	}

	gateway.WriteJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"id":     doc.ID,
	})
}

type chatRequest struct {
	Prompt string `json:"prompt"`
}

type chatResponse struct {
	Answer  string                   `json:"answer"`
	Sources []retrieval.SearchResult `json:"sources"`
}

func (s *Server) handleChatAnswer(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		gateway.WriteError(w, r, http.StatusBadRequest, gateway.CodeBadRequest, "invalid JSON body", nil)
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		gateway.WriteError(w, r, http.StatusUnprocessableEntity, gateway.CodeValidationError, "prompt is required", nil)
		return
	}

	tenant := gateway.Tenant(r.Context()).Tenant
	if s.scanner != nil {
		if err := s.scanner.ScanPrompt(r.Context(), tenant, req.Prompt); err != nil {
			if !s.rejectViolation(w, r, err, tenant) {
				return
			}
		}
	}

	results, err := s.primary.Search(r.Context(), req.Prompt, 5, tenant)
	if err != nil {
		s.logger.Error().Err(err).Str("tenant", tenant).Msg("chat retrieval failed")
		gateway.WriteError(w, r, http.StatusBadGateway, gateway.CodeBadGateway, "retrieval backend unavailable", nil)
		return
	}
	if s.shadow != nil {
		s.shadow.Sample(req.Prompt, tenant, retrieval.ResultIDs(results))
	}

	gateway.WriteJSON(w, http.StatusOK, chatResponse{
		Answer:  composeAnswer(results),
		Sources: results,
	})
}

// composeAnswer is a grounded stub: the real generation service sits behind
// the gateway, this surface only proves the retrieval plumbing.
func composeAnswer(results []retrieval.SearchResult) string {
	if len(results) == 0 {
		return "The stars are quiet on this one. Try rephrasing your question."
	}
	return fmt.Sprintf("Based on %d reading(s) in your library, the most relevant guidance is in document %s.", len(results), results[0].ID)
}

var zodiacSigns = map[string]struct{}{
	"aries": {}, "taurus": {}, "gemini": {}, "cancer": {},
	"leo": {}, "virgo": {}, "libra": {}, "scorpio": {},
	"sagittarius": {}, "capricorn": {}, "aquarius": {}, "pisces": {},
}

func (s *Server) handleHoroscopeToday(w http.ResponseWriter, r *http.Request) {
	sign := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("sign")))
	if _, ok := zodiacSigns[sign]; !ok {
		gateway.WriteError(w, r, http.StatusUnprocessableEntity, gateway.CodeValidationError, "unknown zodiac sign", nil)
		return
	}
	gateway.WriteJSON(w, http.StatusOK, map[string]string{
		"sign":      sign,
		"date":      time.Now().UTC().Format("2006-01-02"),
		"horoscope": fmt.Sprintf("A favorable alignment invites %s to trust the process today.", sign),
	})
}

// rejectViolation returns true when the request may proceed. Monitor mode
// logs the violation and lets the request through; enforce mode writes the
// policy error.
func (s *Server) rejectViolation(w http.ResponseWriter, r *http.Request, err error, tenant string) bool {
	var violation *pii.Violation
	if !errors.As(err, &violation) {
		gateway.WriteError(w, r, http.StatusBadRequest, gateway.CodeBadRequest, err.Error(), nil)
		return false
	}
	if !s.scanner.Enforced() {
		s.logger.Warn().
			Str("rule", violation.Rule).
			Str("tenant", tenant).
			Msg("content violation observed in monitor mode")
		return true
	}
	gateway.WriteError(w, r, http.StatusBadRequest, gateway.CodeBadRequest, "content policy violation", map[string]any{
		"rule":   violation.Rule,
		"detail": violation.Detail,
	})
	return false
}
