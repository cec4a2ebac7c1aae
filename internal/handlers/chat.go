package handlers

import (
	"net/http"
	"strings"

	"github.com/juju/errors"

	"github.com/lingomate/backend/internal/chat"
	"github.com/lingomate/backend/internal/logging"
	"github.com/lingomate/backend/internal/middleware"
	"github.com/lingomate/backend/internal/repositories"
)

// ChatHandler serves the chat provider endpoints under /api/chat.
type ChatHandler struct {
	Chat  ChatService
	Users UserDirectory
}

type tokenResponse struct {
	Token string `json:"token"`
}

type notifyRequest struct {
	RecipientID string `json:"recipientId"`
	Message     string `json:"message"`
	Type        string `json:"type"`
}

// Token handles GET /api/chat/token. The caller is mirrored into the provider
// before the token is issued so the first connection finds the identity.
func (h ChatHandler) Token(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := middleware.UserFromContext(ctx)
	if !ok {
		respondMessage(ctx, w, http.StatusUnauthorized, "Unauthorized - No token provided")
		return
	}

	if result := h.Chat.UpsertRemoteUser(ctx, chat.RemoteUserFor(user)); !result.OK() {
		logging.FromContext(ctx).Warn("mirror chat user before token", "error", result.Err)
	}

	token, err := h.Chat.IssueChatToken(ctx, user.ID)
	if err != nil {
		logging.FromContext(ctx).Error("issue chat token", "error", err)
		respondMessage(ctx, w, http.StatusInternalServerError, internalErrorMessage)
		return
	}
	respondJSON(ctx, w, http.StatusOK, tokenResponse{Token: token})
}

// Notify handles POST /api/chat/notify.
func (h ChatHandler) Notify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sender, ok := middleware.UserFromContext(ctx)
	if !ok {
		respondMessage(ctx, w, http.StatusUnauthorized, "Unauthorized - No token provided")
		return
	}

	var req notifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, err)
		return
	}
	if strings.TrimSpace(req.RecipientID) == "" || strings.TrimSpace(req.Message) == "" {
		respondError(ctx, w, errors.NewNotValid(nil, "Recipient and message are required"))
		return
	}

	recipient, err := h.Users.FindByID(ctx, req.RecipientID)
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		respondMessage(ctx, w, http.StatusNotFound, "Recipient not found")
		return
	case err != nil:
		respondError(ctx, w, errors.Annotate(err, "load notification recipient"))
		return
	}

	if err := h.Chat.Notify(ctx, chat.RemoteUserFor(sender), chat.RemoteUserFor(recipient), req.Message, req.Type); err != nil {
		logging.FromContext(ctx).Error("send chat notification", "error", err, "recipient_id", recipient.ID)
		respondMessage(ctx, w, http.StatusInternalServerError, "Failed to send notification")
		return
	}
	respondMessage(ctx, w, http.StatusOK, "Notification sent successfully")
}
