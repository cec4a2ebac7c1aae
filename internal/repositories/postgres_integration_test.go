package repositories

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/cockroachdb/cockroach-go/v2/testserver"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lingomate/backend/internal/models"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	server, err := testserver.NewTestServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "start cockroach test server: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, server.PGURL().String())
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to cockroach test server: %v\n", err)
		server.Stop()
		os.Exit(1)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		fmt.Fprintf(os.Stderr, "apply migrations: %v\n", err)
		pool.Close()
		server.Stop()
		os.Exit(1)
	}

	testPool = pool

	code := m.Run()

	pool.Close()
	server.Stop()

	os.Exit(code)
}

func TestPostgresUserRepository_CreateFindAndOnboard(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	repo := NewPostgresUserRepository(testPool)

	user := createTestUser(t, repo, "alice@example.com", false)

	dup := models.User{
		ID:        uuid.NewString(),
		Email:     user.Email,
		Password:  "another-hash",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := repo.Create(ctx, dup); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict when creating duplicate email, got %v", err)
	}

	fetched, err := repo.FindByEmail(ctx, user.Email)
	if err != nil {
		t.Fatalf("find by email: %v", err)
	}
	if fetched.ID != user.ID || fetched.Password != user.Password || fetched.IsOnboarded {
		t.Fatalf("unexpected user fetched: %+v", fetched)
	}
	if fetched.Friends == nil || len(fetched.Friends) != 0 {
		t.Fatalf("expected empty friend set, got %v", fetched.Friends)
	}

	updated, err := repo.UpdateProfile(ctx, user.ID, models.Profile{
		FullName:         "Alice Liddell",
		Bio:              "Curious",
		NativeLanguage:   "english",
		LearningLanguage: "spanish",
		Location:         "Oxford",
	})
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if !updated.IsOnboarded || updated.LearningLanguage != "spanish" {
		t.Fatalf("expected onboarded profile, got %+v", updated)
	}
	if updated.ProfilePic != user.ProfilePic {
		t.Fatalf("expected profile pic to be kept, got %q", updated.ProfilePic)
	}

	withPic, err := repo.UpdateProfilePic(ctx, user.ID, "https://cdn.example.com/a.png")
	if err != nil {
		t.Fatalf("update profile pic: %v", err)
	}
	if withPic.ProfilePic != "https://cdn.example.com/a.png" {
		t.Fatalf("unexpected profile pic %q", withPic.ProfilePic)
	}

	if _, err := repo.UpdateProfile(ctx, uuid.NewString(), models.Profile{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound updating missing user, got %v", err)
	}
	if _, err := repo.FindByID(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown id, got %v", err)
	}
}

func TestPostgresUserRepository_AddFriendAndRecommend(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	repo := NewPostgresUserRepository(testPool)
	viewer := createTestUser(t, repo, "viewer@example.com", true)
	friend := createTestUser(t, repo, "friend@example.com", true)
	pending := createTestUser(t, repo, "pending@example.com", true)
	_ = createTestUser(t, repo, "fresh@example.com", false)

	for i := 0; i < 2; i++ {
		if err := repo.AddFriend(ctx, viewer.ID, friend.ID); err != nil {
			t.Fatalf("add friend (attempt %d): %v", i+1, err)
		}
	}

	loaded, err := repo.FindByID(ctx, viewer.ID)
	if err != nil {
		t.Fatalf("find viewer: %v", err)
	}
	if len(loaded.Friends) != 1 || loaded.Friends[0] != friend.ID {
		t.Fatalf("expected exactly one friend, got %v", loaded.Friends)
	}

	recommended, err := repo.ListRecommended(ctx, viewer.ID, loaded.Friends)
	if err != nil {
		t.Fatalf("list recommended: %v", err)
	}
	if len(recommended) != 1 || recommended[0].ID != pending.ID {
		t.Fatalf("expected only the onboarded stranger, got %+v", recommended)
	}

	friends, err := repo.FindByIDs(ctx, loaded.Friends)
	if err != nil {
		t.Fatalf("find by ids: %v", err)
	}
	if len(friends) != 1 || friends[0].Email != friend.Email {
		t.Fatalf("unexpected friends: %+v", friends)
	}

	if err := repo.AddFriend(ctx, viewer.ID, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound adding unknown friend, got %v", err)
	}
}

func TestPostgresFriendRepository_CreateAcceptAndList(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	userRepo := NewPostgresUserRepository(testPool)
	sender := createTestUser(t, userRepo, "sender@example.com", true)
	recipient := createTestUser(t, userRepo, "recipient@example.com", true)
	stranger := createTestUser(t, userRepo, "stranger@example.com", true)

	repo := NewPostgresFriendRepository(testPool)

	request := newTestRequest(sender.ID, recipient.ID, time.Now().UTC().Add(-time.Hour))
	if err := repo.CreateRequest(ctx, request); err != nil {
		t.Fatalf("create friend request: %v", err)
	}

	reverse := newTestRequest(recipient.ID, sender.ID, time.Now().UTC())
	if err := repo.CreateRequest(ctx, reverse); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on reverse-direction request, got %v", err)
	}

	ghost := newTestRequest(sender.ID, uuid.NewString(), time.Now().UTC())
	if err := repo.CreateRequest(ctx, ghost); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown recipient, got %v", err)
	}

	other := newTestRequest(stranger.ID, recipient.ID, time.Now().UTC())
	if err := repo.CreateRequest(ctx, other); err != nil {
		t.Fatalf("create second friend request: %v", err)
	}

	between, err := repo.FindBetween(ctx, recipient.ID, sender.ID)
	if err != nil {
		t.Fatalf("find between: %v", err)
	}
	if between.ID != request.ID {
		t.Fatalf("expected request %s, got %s", request.ID, between.ID)
	}

	incoming, err := repo.ListIncoming(ctx, recipient.ID, models.FriendRequestPending)
	if err != nil {
		t.Fatalf("list incoming: %v", err)
	}
	if len(incoming) != 2 {
		t.Fatalf("expected 2 incoming requests, got %d", len(incoming))
	}

	accepted, err := repo.AcceptRequest(ctx, request.ID)
	if err != nil {
		t.Fatalf("accept request: %v", err)
	}
	if accepted.Status != models.FriendRequestAccepted {
		t.Fatalf("expected accepted status, got %s", accepted.Status)
	}

	for _, pair := range [][2]string{{sender.ID, recipient.ID}, {recipient.ID, sender.ID}} {
		user, err := userRepo.FindByID(ctx, pair[0])
		if err != nil {
			t.Fatalf("find user %s: %v", pair[0], err)
		}
		if !user.HasFriend(pair[1]) {
			t.Fatalf("expected %s to list %s as friend, got %v", pair[0], pair[1], user.Friends)
		}
	}

	if _, err := repo.AcceptRequest(ctx, request.ID); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected ErrNotPending accepting twice, got %v", err)
	}
	if _, err := repo.AcceptRequest(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown request, got %v", err)
	}

	outgoing, err := repo.ListOutgoing(ctx, sender.ID, models.FriendRequestAccepted)
	if err != nil {
		t.Fatalf("list outgoing: %v", err)
	}
	if len(outgoing) != 1 || outgoing[0].ID != request.ID {
		t.Fatalf("unexpected outgoing requests: %+v", outgoing)
	}

	all, err := repo.ListByStatus(ctx, models.FriendRequestAccepted)
	if err != nil {
		t.Fatalf("list by status: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 accepted request, got %d", len(all))
	}
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrationsDir := filepath.Join("..", "..", "migrations")
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		contents, err := os.ReadFile(filepath.Join(migrationsDir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		if _, err := pool.Exec(ctx, string(contents)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
	}

	return nil
}

func resetDatabase(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	conn, err := testPool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire connection: %v", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "TRUNCATE TABLE friend_requests, user_friends, users CASCADE"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
}

func createTestUser(t *testing.T, repo UserRepository, email string, onboarded bool) models.User {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Millisecond)
	user := models.User{
		ID:          uuid.NewString(),
		Email:       email,
		Password:    "password-hash",
		FullName:    email,
		ProfilePic:  "https://avatar.iran.liara.run/public/7.png",
		IsOnboarded: onboarded,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := repo.Create(context.Background(), user); err != nil {
		t.Fatalf("create test user: %v", err)
	}
	return user
}

func newTestRequest(sender, recipient string, createdAt time.Time) models.FriendRequest {
	return models.FriendRequest{
		ID:        uuid.NewString(),
		Sender:    sender,
		Recipient: recipient,
		Status:    models.FriendRequestPending,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}
