// Package friends implements the friend request lifecycle and friend listings.
package friends

import (
	"context"
	"log/slog"
	"time"

	"github.com/juju/errors"

	"github.com/lingomate/backend/internal/logging"
	"github.com/lingomate/backend/internal/metrics"
	"github.com/lingomate/backend/internal/models"
	"github.com/lingomate/backend/internal/repositories"
)

// Service coordinates friend requests between members.
type Service struct {
	users    repositories.UserRepository
	requests repositories.FriendRepository
	now      func() time.Time
	newID    func() string
}

// NewService constructs a Service over the provided repositories.
func NewService(users repositories.UserRepository, requests repositories.FriendRepository) *Service {
	return &Service{
		users:    users,
		requests: requests,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    models.NewID,
	}
}

// Requests groups the friend requests shown on a member's notifications page.
type Requests struct {
	Incoming []models.PopulatedFriendRequest `json:"incomingReqs"`
	Accepted []models.PopulatedFriendRequest `json:"acceptedReqs"`
}

// Send creates a pending request from senderID to recipientID.
func (s *Service) Send(ctx context.Context, senderID, recipientID string) (models.FriendRequest, error) {
	if senderID == recipientID {
		return models.FriendRequest{}, errors.NewNotValid(nil, "You cannot send a friend request to yourself.")
	}

	recipient, err := s.users.FindByID(ctx, recipientID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.FriendRequest{}, errors.NewNotFound(nil, "Recipient not found.")
		}
		return models.FriendRequest{}, errors.Annotate(err, "load recipient")
	}

	if recipient.HasFriend(senderID) {
		return models.FriendRequest{}, errors.NewAlreadyExists(nil, "You are already friends with this user.")
	}

	_, err = s.requests.FindBetween(ctx, senderID, recipientID)
	switch {
	case err == nil:
		return models.FriendRequest{}, errDuplicateRequest()
	case !errors.Is(err, repositories.ErrNotFound):
		return models.FriendRequest{}, errors.Annotate(err, "look up existing request")
	}

	now := s.now()
	request := models.FriendRequest{
		ID:        s.newID(),
		Sender:    senderID,
		Recipient: recipientID,
		Status:    models.FriendRequestPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.requests.CreateRequest(ctx, request); err != nil {
		switch {
		case errors.Is(err, repositories.ErrConflict):
			return models.FriendRequest{}, errDuplicateRequest()
		case errors.Is(err, repositories.ErrNotFound):
			return models.FriendRequest{}, errors.NewNotFound(nil, "User not found")
		}
		return models.FriendRequest{}, errors.Annotate(err, "create friend request")
	}

	metrics.RecordFriendRequest(metrics.TransitionSent)
	logging.FromContext(ctx).Info("friend request sent",
		slog.String("request_id", request.ID),
		slog.String("recipient_id", recipientID),
	)
	return request, nil
}

// Accept moves a pending request addressed to actingUserID to accepted and
// links both friend sets.
func (s *Service) Accept(ctx context.Context, requestID, actingUserID string) (request models.FriendRequest, err error) {
	ctx, span := logging.StartSpan(ctx, "friends.accept", slog.String("request_id", requestID))
	defer func() { span.End(err) }()

	existing, err := s.requests.FindRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.FriendRequest{}, errRequestNotFound()
		}
		return models.FriendRequest{}, errors.Annotate(err, "load friend request")
	}

	if existing.Recipient != actingUserID {
		return models.FriendRequest{}, errors.NewForbidden(nil, "You are not authorized to accept this request")
	}
	if existing.Status != models.FriendRequestPending {
		return models.FriendRequest{}, errNotPending()
	}

	accepted, err := s.requests.AcceptRequest(ctx, requestID)
	if err != nil {
		switch {
		case errors.Is(err, repositories.ErrNotPending):
			return models.FriendRequest{}, errNotPending()
		case errors.Is(err, repositories.ErrNotFound):
			return models.FriendRequest{}, errRequestNotFound()
		}
		return models.FriendRequest{}, errors.Annotate(err, "accept friend request")
	}

	metrics.RecordFriendRequest(metrics.TransitionAccepted)
	return accepted, nil
}

// Friends returns the member's friends.
func (s *Service) Friends(ctx context.Context, userID string) ([]models.PublicUser, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	friends, err := s.users.FindByIDs(ctx, user.Friends)
	if err != nil {
		return nil, errors.Annotate(err, "load friends")
	}
	out := make([]models.PublicUser, 0, len(friends))
	for _, f := range friends {
		out = append(out, withLanguages(f))
	}
	return out, nil
}

// Recommended returns onboarded members who are neither userID nor already friends.
func (s *Service) Recommended(ctx context.Context, userID string) ([]models.PublicUser, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	users, err := s.users.ListRecommended(ctx, user.ID, user.Friends)
	if err != nil {
		return nil, errors.Annotate(err, "list recommended users")
	}
	out := make([]models.PublicUser, 0, len(users))
	for _, u := range users {
		out = append(out, u.Public())
	}
	return out, nil
}

// Requests returns pending requests addressed to userID and accepted requests
// userID sent.
func (s *Service) Requests(ctx context.Context, userID string) (Requests, error) {
	incoming, err := s.requests.ListIncoming(ctx, userID, models.FriendRequestPending)
	if err != nil {
		return Requests{}, errors.Annotate(err, "list incoming requests")
	}
	accepted, err := s.requests.ListOutgoing(ctx, userID, models.FriendRequestAccepted)
	if err != nil {
		return Requests{}, errors.Annotate(err, "list accepted requests")
	}

	populatedIncoming, err := s.populate(ctx, incoming, withLanguages)
	if err != nil {
		return Requests{}, err
	}
	populatedAccepted, err := s.populate(ctx, accepted, brief)
	if err != nil {
		return Requests{}, err
	}
	return Requests{Incoming: populatedIncoming, Accepted: populatedAccepted}, nil
}

// Outgoing returns pending requests sent by userID.
func (s *Service) Outgoing(ctx context.Context, userID string) ([]models.PopulatedFriendRequest, error) {
	outgoing, err := s.requests.ListOutgoing(ctx, userID, models.FriendRequestPending)
	if err != nil {
		return nil, errors.Annotate(err, "list outgoing requests")
	}
	return s.populate(ctx, outgoing, withLanguages)
}

func (s *Service) loadUser(ctx context.Context, userID string) (models.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.User{}, errors.NewNotFound(nil, "User not found")
		}
		return models.User{}, errors.Annotate(err, "load user")
	}
	return user, nil
}

// populate embeds both parties of each request using project.
func (s *Service) populate(ctx context.Context, requests []models.FriendRequest, project func(models.User) models.PublicUser) ([]models.PopulatedFriendRequest, error) {
	out := make([]models.PopulatedFriendRequest, 0, len(requests))
	if len(requests) == 0 {
		return out, nil
	}

	seen := make(map[string]struct{})
	var ids []string
	for _, r := range requests {
		for _, id := range []string{r.Sender, r.Recipient} {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	users, err := s.users.FindByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Annotate(err, "load request participants")
	}
	byID := make(map[string]models.PublicUser, len(users))
	for _, u := range users {
		byID[u.ID] = project(u)
	}

	for _, r := range requests {
		sender, ok := byID[r.Sender]
		if !ok {
			sender = models.PublicUser{ID: r.Sender}
		}
		recipient, ok := byID[r.Recipient]
		if !ok {
			recipient = models.PublicUser{ID: r.Recipient}
		}
		out = append(out, models.PopulatedFriendRequest{
			ID:        r.ID,
			Sender:    sender,
			Recipient: recipient,
			Status:    r.Status,
			CreatedAt: r.CreatedAt,
			UpdatedAt: r.UpdatedAt,
		})
	}
	return out, nil
}

func withLanguages(u models.User) models.PublicUser {
	return models.PublicUser{
		ID:               u.ID,
		FullName:         u.FullName,
		ProfilePic:       u.ProfilePic,
		NativeLanguage:   u.NativeLanguage,
		LearningLanguage: u.LearningLanguage,
	}
}

func brief(u models.User) models.PublicUser {
	return models.PublicUser{ID: u.ID, FullName: u.FullName, ProfilePic: u.ProfilePic}
}

func errDuplicateRequest() error {
	return errors.NewAlreadyExists(nil, "Friend request already exists.")
}

func errRequestNotFound() error {
	return errors.NewNotFound(nil, "Friend request not found")
}

func errNotPending() error {
	return errors.NewNotValid(nil, "Friend request is not pending")
}
