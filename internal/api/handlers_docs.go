package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/pageindex/internal/directory"
	"github.com/dgallion1/pageindex/internal/errs"
)

// handleListDocuments returns the directory index.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	entries := s.orchestrator.Indexer().Directory().Entries()
	if entries == nil {
		entries = []directory.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": entries})
}

func (s *Server) handleGetTree(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	tree, err := s.orchestrator.Indexer().Store().Load(r.Context(), docID)
	if errs.IsNotFound(err) {
		jsonError(w, "document not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Error("load tree", "doc_id", docID, "error", err)
		jsonError(w, "failed to load tree: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

// handleDeleteDocument removes a document's tree and directory entry.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	err := s.orchestrator.Indexer().Remove(r.Context(), docID)
	if errors.Is(err, errs.ErrNotFound) {
		jsonError(w, "document not found", http.StatusNotFound)
		return
	}
	if err != nil {
		jsonError(w, "failed to delete document: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"doc_id": docID, "deleted": true})
}
