package httpapi

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/docsage/docsage/internal/chatstore"
)

type createConversationRequest struct {
	ClientID string `json:"client_id"`
	UserID   string `json:"user_id,omitempty"`
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if !readJSON(w, r, &req) {
		return
	}
	conv, err := s.store.CreateConversation(r.Context(), req.ClientID, req.UserID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "client_id is required"})
		return
	}
	convs, err := s.store.ListConversations(r.Context(), clientID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if convs == nil {
		convs = []chatstore.Conversation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

type conversationRef struct {
	ConversationID int64  `json:"conversation_id"`
	ClientID       string `json:"client_id,omitempty"`
}

func (s *Server) handleLoadConversation(w http.ResponseWriter, r *http.Request) {
	var req conversationRef
	if !readJSON(w, r, &req) {
		return
	}
	conv, err := s.store.GetConversation(r.Context(), req.ConversationID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	msgs, err := s.store.Messages(r.Context(), req.ConversationID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if msgs == nil {
		msgs = []chatstore.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation": conv,
		"messages":     msgs,
	})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	var req conversationRef
	if !readJSON(w, r, &req) {
		return
	}
	conv, err := s.store.GetConversation(r.Context(), req.ConversationID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	// Ownership check: deletes must come from the owning client.
	if req.ClientID != "" && conv.ClientID != req.ClientID {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "conversation belongs to another client"})
		return
	}
	if err := s.store.DeleteConversation(r.Context(), req.ConversationID); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type feedbackRequest struct {
	MessageID int64  `json:"message_id"`
	Kind      string `json:"kind"`
	Flags     struct {
		Incorrect     bool `json:"incorrect"`
		Unhelpful     bool `json:"unhelpful"`
		Inappropriate bool `json:"inappropriate"`
	} `json:"flags"`
	Text string `json:"text,omitempty"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !readJSON(w, r, &req) {
		return
	}
	err := s.store.AddFeedback(r.Context(), chatstore.Feedback{
		MessageID:     req.MessageID,
		Kind:          req.Kind,
		Incorrect:     req.Flags.Incorrect,
		Unhelpful:     req.Flags.Unhelpful,
		Inappropriate: req.Flags.Inappropriate,
		Text:          req.Text,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type abPreferenceRequest struct {
	ComparisonID string `json:"comparison_id"`
	Preference   string `json:"preference"`
}

func (s *Server) handleABPreference(w http.ResponseWriter, r *http.Request) {
	var req abPreferenceRequest
	if !readJSON(w, r, &req) {
		return
	}
	id, err := uuid.Parse(req.ComparisonID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid comparison_id"})
		return
	}
	if err := s.store.SetPreference(r.Context(), id, req.Preference); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
