package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Tyrowin/dmchat/internal/apperr"
	"github.com/Tyrowin/dmchat/internal/auth"
	"github.com/Tyrowin/dmchat/internal/messaging"
	"github.com/Tyrowin/dmchat/internal/models"
)

// ListUsers returns every user except the caller, for the sidebar.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	users, err := h.store.ListUsersExcept(r.Context(), userID)
	if err != nil {
		h.Fail(w, r, apperr.Persistence("failed to list users", err))
		return
	}
	if users == nil {
		users = []models.User{}
	}
	h.JSON(w, http.StatusOK, users)
}

// GetMessages returns the conversation between the caller and {peerId}.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	messages, err := h.router.Conversation(r.Context(), userID, chi.URLParam(r, "peerId"))
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	h.JSON(w, http.StatusOK, messages)
}

// SendMessage stores a message to {peerId} and pushes it to the peer if online.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var draft messaging.Draft
	if err := decode(r, &draft); err != nil {
		h.Fail(w, r, err)
		return
	}

	msg, err := h.router.Send(r.Context(), userID, chi.URLParam(r, "peerId"), draft)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	h.JSON(w, http.StatusCreated, msg)
}
