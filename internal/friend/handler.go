package friend

import (
	"encoding/json"
	"net/http"

	"linkup/internal/middleware"
)

type Handler struct {
	Service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{Service: s}
}

// ListFriends serves the caller's confirmed friends.
func (h *Handler) ListFriends(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	profiles, err := h.Service.Friends(r.Context(), userID)
	if err != nil {
		http.Error(w, "failed to fetch friends", http.StatusInternalServerError)
		return
	}
	if profiles == nil {
		profiles = []PeerProfile{}
	}
	json.NewEncoder(w).Encode(profiles)
}

// ListRequests serves the caller's pending requests;
// ?direction=incoming|outgoing, incoming by default.
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	incoming := r.URL.Query().Get("direction") != "outgoing"
	profiles, err := h.Service.Requests(r.Context(), userID, incoming)
	if err != nil {
		http.Error(w, "failed to fetch requests", http.StatusInternalServerError)
		return
	}
	if profiles == nil {
		profiles = []PeerProfile{}
	}
	json.NewEncoder(w).Encode(profiles)
}
