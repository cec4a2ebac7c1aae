package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lingomate/backend/internal/models"
)

// MemoryStore implements Store with in-process maps, for tests and local development.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]models.User
	emails   map[string]string
	requests map[string]models.FriendRequest
	pairs    map[string]string
	now      func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]models.User),
		emails:   make(map[string]string),
		requests: make(map[string]models.FriendRequest),
		pairs:    make(map[string]string),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Users returns the store as a UserRepository.
func (s *MemoryStore) Users() UserRepository { return memoryUsers{s} }

// Friends returns the store as a FriendRepository.
func (s *MemoryStore) Friends() FriendRepository { return memoryFriends{s} }

// Close is a no-op.
func (s *MemoryStore) Close(context.Context) error { return nil }

// SetFriendRequestStatus overwrites a request's status without touching friend
// sets. Tests use it to simulate a partially applied acceptance.
func (s *MemoryStore) SetFriendRequestStatus(id string, status models.FriendRequestStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if request, ok := s.requests[id]; ok {
		request.Status = status
		s.requests[id] = request
	}
}

type memoryUsers struct{ s *MemoryStore }

func (m memoryUsers) Create(_ context.Context, user models.User) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, exists := m.s.emails[user.Email]; exists {
		return ErrConflict
	}
	if _, exists := m.s.users[user.ID]; exists {
		return ErrConflict
	}
	user.Friends = append([]string(nil), user.Friends...)
	m.s.users[user.ID] = user
	m.s.emails[user.Email] = user.ID
	return nil
}

func (m memoryUsers) FindByID(_ context.Context, id string) (models.User, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	user, ok := m.s.users[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return copyUser(user), nil
}

func (m memoryUsers) FindByEmail(_ context.Context, email string) (models.User, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	id, ok := m.s.emails[email]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return copyUser(m.s.users[id]), nil
}

func (m memoryUsers) FindByIDs(_ context.Context, ids []string) ([]models.User, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var out []models.User
	for _, id := range ids {
		if user, ok := m.s.users[id]; ok {
			out = append(out, copyUser(user))
		}
	}
	return out, nil
}

func (m memoryUsers) UpdateProfile(_ context.Context, id string, profile models.Profile) (models.User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	user, ok := m.s.users[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	user.FullName = profile.FullName
	user.Bio = profile.Bio
	user.NativeLanguage = profile.NativeLanguage
	user.LearningLanguage = profile.LearningLanguage
	user.Location = profile.Location
	if profile.ProfilePic != "" {
		user.ProfilePic = profile.ProfilePic
	}
	user.IsOnboarded = true
	user.UpdatedAt = m.s.now()
	m.s.users[id] = user
	return copyUser(user), nil
}

func (m memoryUsers) UpdateProfilePic(_ context.Context, id, url string) (models.User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	user, ok := m.s.users[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	user.ProfilePic = url
	user.UpdatedAt = m.s.now()
	m.s.users[id] = user
	return copyUser(user), nil
}

func (m memoryUsers) AddFriend(_ context.Context, userID, friendID string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return m.s.addFriendLocked(userID, friendID)
}

func (m memoryUsers) ListRecommended(_ context.Context, userID string, exclude []string) ([]models.User, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	skip := make(map[string]struct{}, len(exclude)+1)
	skip[userID] = struct{}{}
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	var out []models.User
	for id, user := range m.s.users {
		if _, excluded := skip[id]; excluded || !user.IsOnboarded {
			continue
		}
		out = append(out, copyUser(user))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) addFriendLocked(userID, friendID string) error {
	user, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := s.users[friendID]; !ok {
		return ErrNotFound
	}
	if user.HasFriend(friendID) {
		return nil
	}
	user.Friends = append(user.Friends, friendID)
	s.users[userID] = user
	return nil
}

type memoryFriends struct{ s *MemoryStore }

func (m memoryFriends) CreateRequest(_ context.Context, request models.FriendRequest) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.users[request.Sender]; !ok {
		return ErrNotFound
	}
	if _, ok := m.s.users[request.Recipient]; !ok {
		return ErrNotFound
	}
	key := request.PairKey()
	if _, exists := m.s.pairs[key]; exists {
		return ErrConflict
	}
	m.s.requests[request.ID] = request
	m.s.pairs[key] = request.ID
	return nil
}

func (m memoryFriends) FindRequest(_ context.Context, id string) (models.FriendRequest, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	request, ok := m.s.requests[id]
	if !ok {
		return models.FriendRequest{}, ErrNotFound
	}
	return request, nil
}

func (m memoryFriends) FindBetween(_ context.Context, a, b string) (models.FriendRequest, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	id, ok := m.s.pairs[models.PairKey(":", a, b)]
	if !ok {
		return models.FriendRequest{}, ErrNotFound
	}
	return m.s.requests[id], nil
}

func (m memoryFriends) AcceptRequest(_ context.Context, id string) (models.FriendRequest, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	request, ok := m.s.requests[id]
	if !ok {
		return models.FriendRequest{}, ErrNotFound
	}
	if request.Status != models.FriendRequestPending {
		return models.FriendRequest{}, ErrNotPending
	}
	if err := m.s.addFriendLocked(request.Sender, request.Recipient); err != nil {
		return models.FriendRequest{}, err
	}
	if err := m.s.addFriendLocked(request.Recipient, request.Sender); err != nil {
		return models.FriendRequest{}, err
	}
	request.Status = models.FriendRequestAccepted
	request.UpdatedAt = m.s.now()
	m.s.requests[id] = request
	return request, nil
}

func (m memoryFriends) ListIncoming(_ context.Context, recipientID string, status models.FriendRequestStatus) ([]models.FriendRequest, error) {
	return m.filter(func(r models.FriendRequest) bool { return r.Recipient == recipientID && r.Status == status }), nil
}

func (m memoryFriends) ListOutgoing(_ context.Context, senderID string, status models.FriendRequestStatus) ([]models.FriendRequest, error) {
	return m.filter(func(r models.FriendRequest) bool { return r.Sender == senderID && r.Status == status }), nil
}

func (m memoryFriends) ListByStatus(_ context.Context, status models.FriendRequestStatus) ([]models.FriendRequest, error) {
	return m.filter(func(r models.FriendRequest) bool { return r.Status == status }), nil
}

func (m memoryFriends) filter(keep func(models.FriendRequest) bool) []models.FriendRequest {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var out []models.FriendRequest
	for _, request := range m.s.requests {
		if keep(request) {
			out = append(out, request)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func copyUser(user models.User) models.User {
	user.Friends = append([]string(nil), user.Friends...)
	return user
}

var _ Store = (*MemoryStore)(nil)
