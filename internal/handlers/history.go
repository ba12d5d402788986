package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/courier/internal/api/middleware"
)

// History returns every message between the caller and another user,
// oldest first. Clients call it when opening a conversation to catch up on
// anything the live channel missed.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	me, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	otherID, err := strconv.ParseInt(chi.URLParam(r, "userId"), 10, 64)
	if err != nil || otherID <= 0 {
		h.Error(w, http.StatusBadRequest, "invalid userId")
		return
	}

	messages, err := h.store.ListConversation(r.Context(), me.ID, otherID)
	if err != nil {
		h.logger.Error().Err(err).Int64("user_id", me.ID).Int64("other_user_id", otherID).Msg("failed to load history")
		h.Error(w, http.StatusInternalServerError, "failed to load messages")
		return
	}

	h.JSON(w, http.StatusOK, messages)
}

// Contacts lists the users the caller has exchanged messages with, most
// recent first.
func (h *Handler) Contacts(w http.ResponseWriter, r *http.Request) {
	me, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	contacts, err := h.store.ListContacts(r.Context(), me.ID)
	if err != nil {
		h.logger.Error().Err(err).Int64("user_id", me.ID).Msg("failed to load contacts")
		h.Error(w, http.StatusInternalServerError, "failed to load contacts")
		return
	}

	h.JSON(w, http.StatusOK, contacts)
}
