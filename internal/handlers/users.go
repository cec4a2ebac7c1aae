package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/juju/errors"

	"github.com/lingomate/backend/internal/chat"
	"github.com/lingomate/backend/internal/middleware"
	"github.com/lingomate/backend/internal/models"
)

const (
	avatarFormField = "avatar"
	maxAvatarBytes  = 5 << 20
)

// UserHandler serves the social graph and profile endpoints under /api/users.
type UserHandler struct {
	Friends  FriendService
	Accounts AccountService
	Chat     ChatService
	Users    UserDirectory
}

// Recommended handles GET /api/users.
func (h UserHandler) Recommended(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := h.sessionUser(w, r)
	if !ok {
		return
	}

	users, err := h.Friends.Recommended(ctx, user.ID)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, nonNil(users))
}

// MyFriends handles GET /api/users/friends.
func (h UserHandler) MyFriends(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := h.sessionUser(w, r)
	if !ok {
		return
	}

	friends, err := h.Friends.Friends(ctx, user.ID)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, nonNil(friends))
}

// SendFriendRequest handles POST /api/users/friend-request/{id}.
func (h UserHandler) SendFriendRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := h.sessionUser(w, r)
	if !ok {
		return
	}

	request, err := h.Friends.Send(ctx, user.ID, mux.Vars(r)["id"])
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusCreated, request)
}

// AcceptFriendRequest handles PUT /api/users/friend-request/{id}/accept.
func (h UserHandler) AcceptFriendRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := h.sessionUser(w, r)
	if !ok {
		return
	}

	if _, err := h.Friends.Accept(ctx, mux.Vars(r)["id"], user.ID); err != nil {
		respondError(ctx, w, err)
		return
	}
	respondMessage(ctx, w, http.StatusOK, "Friend request accepted")
}

// FriendRequests handles GET /api/users/friend-requests.
func (h UserHandler) FriendRequests(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := h.sessionUser(w, r)
	if !ok {
		return
	}

	requests, err := h.Friends.Requests(ctx, user.ID)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	requests.Incoming = nonNil(requests.Incoming)
	requests.Accepted = nonNil(requests.Accepted)
	respondJSON(ctx, w, http.StatusOK, requests)
}

// OutgoingFriendRequests handles GET /api/users/outgoing-friend-requests.
func (h UserHandler) OutgoingFriendRequests(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := h.sessionUser(w, r)
	if !ok {
		return
	}

	requests, err := h.Friends.Outgoing(ctx, user.ID)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, nonNil(requests))
}

// LatestChats handles GET /api/users/latest-chats.
func (h UserHandler) LatestChats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := h.sessionUser(w, r)
	if !ok {
		return
	}

	chats, err := h.Chat.LatestChats(ctx, user.ID, h.Users)
	if err != nil {
		respondError(ctx, w, errors.Annotate(err, "load latest chats"))
		return
	}
	respondJSON(ctx, w, http.StatusOK, nonNil(chats))
}

// UploadAvatar handles POST /api/users/avatar with a multipart "avatar" file.
func (h UserHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := h.sessionUser(w, r)
	if !ok {
		return
	}

	if !h.Accounts.AvatarUploadsEnabled() {
		respondError(ctx, w, errors.NewNotSupported(nil, "Avatar uploads are not configured"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxAvatarBytes)
	file, header, err := r.FormFile(avatarFormField)
	if err != nil {
		respondError(ctx, w, errors.NewNotValid(nil, "Avatar file is required"))
		return
	}
	defer file.Close()

	updated, err := h.Accounts.UpdateAvatar(ctx, user.ID, header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, userResponse{Success: true, User: updated})
}

func (h UserHandler) sessionUser(w http.ResponseWriter, r *http.Request) (models.User, bool) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		respondMessage(r.Context(), w, http.StatusUnauthorized, "Unauthorized - No token provided")
	}
	return user, ok
}

// nonNil keeps empty listings encoded as [] rather than null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

var _ chat.UserLookup = UserDirectory(nil)
