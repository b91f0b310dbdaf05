package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dgallion1/pageindex/internal/errs"
)

type selectRequest struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

type treeSearchRequest struct {
	Query  string   `json:"query"`
	DocIDs []string `json:"doc_ids"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// llmFailure reports a model failure with the user-facing hint.
func (s *Server) llmFailure(w http.ResponseWriter, op string, err error) {
	s.log.Error(op+" failed", "error", err)
	writeJSON(w, http.StatusBadGateway, map[string]string{
		"error": err.Error(),
		"hint":  errs.UserMessage(err),
	})
}

func (s *Server) handleSelectDocuments(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		jsonError(w, "query is required", http.StatusBadRequest)
		return
	}
	sel, err := s.engine.SelectDocuments(r.Context(), req.Query, req.K)
	if err != nil {
		s.llmFailure(w, "document selection", err)
		return
	}
	writeJSON(w, http.StatusOK, sel)
}

func (s *Server) handleTreeSearch(w http.ResponseWriter, r *http.Request) {
	var req treeSearchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" || len(req.DocIDs) == 0 {
		jsonError(w, "query and doc_ids are required", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.SearchTrees(r.Context(), req.Query, req.DocIDs))
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		jsonError(w, "query is required", http.StatusBadRequest)
		return
	}
	resp, err := s.engine.Answer(r.Context(), req.Query, req.K)
	if err != nil {
		s.llmFailure(w, "query", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
