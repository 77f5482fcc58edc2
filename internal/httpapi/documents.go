package httpapi

import (
	"net/http"
	"sort"
	"strconv"
)

type documentView struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title,omitempty"`
	SourceType string `json:"source_type,omitempty"`
	SourceURL  string `json:"source_url,omitempty"`
	Enabled    bool   `json:"enabled"`
}

// handleListDocuments reports every indexed document with its effective
// enabled state for the conversation (and its user, when known).
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	conversationID, err := strconv.ParseInt(r.URL.Query().Get("conversation_id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "conversation_id is required"})
		return
	}
	conv, err := s.store.GetConversation(r.Context(), conversationID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	indexed := s.idx.IndexedResources()
	ids := make([]string, 0, len(indexed))
	for id := range indexed {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	enabled, err := s.store.EffectiveEnabled(r.Context(), conversationID, conv.UserID, ids)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	docs := make([]documentView, 0, len(ids))
	for _, id := range ids {
		v := documentView{DocumentID: id, Enabled: enabled[id]}
		if meta := s.cat.MetadataFor(id); meta != nil {
			v.Title = meta.Title
			v.SourceType = meta.SourceType
			v.SourceURL = meta.SourceURL
		}
		docs = append(docs, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

type documentToggleRequest struct {
	ConversationID int64    `json:"conversation_id"`
	DocumentID     string   `json:"document_id,omitempty"`
	DocumentIDs    []string `json:"document_ids,omitempty"`
}

func (s *Server) handleDocumentEnable(enabled, bulk bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req documentToggleRequest
		if !readJSON(w, r, &req) {
			return
		}
		if _, err := s.store.GetConversation(r.Context(), req.ConversationID); err != nil {
			writeStoreError(w, err)
			return
		}
		var err error
		if bulk {
			err = s.store.SetDocumentsEnabled(r.Context(), req.ConversationID, req.DocumentIDs, enabled)
		} else {
			err = s.store.SetDocumentEnabled(r.Context(), req.ConversationID, req.DocumentID, enabled)
		}
		if err != nil {
			writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
