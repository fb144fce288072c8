package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

// handleListConversations returns all conversations, most recently
// modified first.
// GET /api/conversations
func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.store.List(r.Context())
	if err != nil {
		s.writeStoreErr(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

// handleGetConversation returns the full turn array of one conversation.
// GET /api/conversation/{id}
func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	turns, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.writeStoreErr(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, turns)
}

// handleSearch performs a case-insensitive substring search across all
// conversations. An empty query yields an empty result set.
// GET /api/search/all?q=<text>
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	results, err := s.store.Search(r.Context(), query)
	if err != nil {
		s.writeStoreErr(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}
