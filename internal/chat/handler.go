package chat

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"linkup/internal/ident"
	"linkup/internal/middleware"
)

type Handler struct {
	Service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{Service: s}
}

// ListConversations serves the caller's conversation summaries, newest
// activity first.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	sums, err := h.Service.Summaries(r.Context(), userID)
	if err != nil {
		http.Error(w, "failed to fetch conversations", http.StatusInternalServerError)
		return
	}
	if sums == nil {
		sums = []Summary{}
	}
	json.NewEncoder(w).Encode(sums)
}

// GetMessages serves the newest page of a conversation, oldest first.
// Only members may read it.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conversationID, err := ident.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid conversation id", http.StatusBadRequest)
		return
	}

	conv, err := h.Service.Conversation(r.Context(), conversationID)
	if err != nil {
		if errors.Is(err, ErrConversationNotFound) {
			http.Error(w, "conversation not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to fetch conversation", http.StatusInternalServerError)
		return
	}
	if !conv.HasMember(userID) {
		http.Error(w, "not a member", http.StatusForbidden)
		return
	}

	msgs, err := h.Service.Messages(r.Context(), conversationID)
	if err != nil {
		http.Error(w, "failed to fetch messages", http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []Message{}
	}
	json.NewEncoder(w).Encode(msgs)
}
