package models

import "time"

// User represents an account within the LingoMate platform.
type User struct {
	ID               string    `json:"_id"`
	Email            string    `json:"email"`
	Password         string    `json:"-"`
	FullName         string    `json:"fullName"`
	Bio              string    `json:"bio"`
	ProfilePic       string    `json:"profilePic"`
	NativeLanguage   string    `json:"nativeLanguage"`
	LearningLanguage string    `json:"learningLanguage"`
	Location         string    `json:"location"`
	IsOnboarded      bool      `json:"isOnboarded"`
	Friends          []string  `json:"friends"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// HasFriend reports whether id is in the user's friend set.
func (u User) HasFriend(id string) bool {
	for _, friend := range u.Friends {
		if friend == id {
			return true
		}
	}
	return false
}

// Public returns the projection of the user that other members may see.
func (u User) Public() PublicUser {
	return PublicUser{
		ID:               u.ID,
		FullName:         u.FullName,
		ProfilePic:       u.ProfilePic,
		NativeLanguage:   u.NativeLanguage,
		LearningLanguage: u.LearningLanguage,
		Bio:              u.Bio,
		Location:         u.Location,
		IsOnboarded:      u.IsOnboarded,
	}
}

// PublicUser is the denormalised user shape embedded in listings.
type PublicUser struct {
	ID               string `json:"_id"`
	FullName         string `json:"fullName"`
	ProfilePic       string `json:"profilePic"`
	NativeLanguage   string `json:"nativeLanguage,omitempty"`
	LearningLanguage string `json:"learningLanguage,omitempty"`
	Bio              string `json:"bio,omitempty"`
	Location         string `json:"location,omitempty"`
	IsOnboarded      bool   `json:"isOnboarded,omitempty"`
}

// Profile holds the fields a user completes during onboarding.
type Profile struct {
	FullName         string
	Bio              string
	NativeLanguage   string
	LearningLanguage string
	Location         string
	ProfilePic       string
}

// FriendRequestStatus enumerates the lifecycle of a friend request.
type FriendRequestStatus string

const (
	FriendRequestPending  FriendRequestStatus = "pending"
	FriendRequestAccepted FriendRequestStatus = "accepted"
)

// FriendRequest represents a directed proposal between two users.
type FriendRequest struct {
	ID        string              `json:"_id"`
	Sender    string              `json:"sender"`
	Recipient string              `json:"recipient"`
	Status    FriendRequestStatus `json:"status"`
	CreatedAt time.Time           `json:"createdAt"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

// PairKey returns the canonical key of the unordered pair {Sender, Recipient}.
func (r FriendRequest) PairKey() string {
	return PairKey(":", r.Sender, r.Recipient)
}

// PairKey joins two participant ids in lexicographic order so both sides of a
// symmetric relationship derive the same key.
func PairKey(sep, a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + sep + b
}

// PopulatedFriendRequest is a friend request with both parties embedded.
type PopulatedFriendRequest struct {
	ID        string              `json:"_id"`
	Sender    PublicUser          `json:"sender"`
	Recipient PublicUser          `json:"recipient"`
	Status    FriendRequestStatus `json:"status"`
	CreatedAt time.Time           `json:"createdAt"`
	UpdatedAt time.Time           `json:"updatedAt"`
}
