package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lingomate/backend/internal/db"
	"github.com/lingomate/backend/internal/models"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

const userColumns = `
        u.id, u.email, u.password_hash, u.full_name, u.bio, u.profile_pic,
        u.native_language, u.learning_language, u.location, u.is_onboarded,
        u.created_at, u.updated_at,
        ARRAY(SELECT f.friend_id FROM user_friends f WHERE f.user_id = u.id ORDER BY f.created_at)`

const friendRequestColumns = `id, sender_id, recipient_id, status, created_at, updated_at`

// PostgresStore exposes the PostgreSQL-backed repositories sharing one pool.
type PostgresStore struct {
	pool    db.Pool
	users   *PostgresUserRepository
	friends *PostgresFriendRepository
}

// NewPostgresStore constructs repositories backed by the provided pool.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{
		pool:    pool,
		users:   NewPostgresUserRepository(pool),
		friends: NewPostgresFriendRepository(pool),
	}
}

// Users returns the user repository.
func (s *PostgresStore) Users() UserRepository { return s.users }

// Friends returns the friend request repository.
func (s *PostgresStore) Friends() FriendRepository { return s.friends }

// Close releases the underlying pool.
func (s *PostgresStore) Close(context.Context) error {
	s.pool.Close()
	return nil
}

// PostgresUserRepository provides PostgreSQL-backed persistence for users.
type PostgresUserRepository struct {
	pool db.Pool
}

// NewPostgresUserRepository constructs a user repository backed by PostgreSQL.
func NewPostgresUserRepository(pool db.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

// Create persists a new user record.
func (r *PostgresUserRepository) Create(ctx context.Context, user models.User) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO users (id, email, password_hash, full_name, bio, profile_pic,
            native_language, learning_language, location, is_onboarded, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
    `, user.ID, user.Email, user.Password, user.FullName, user.Bio, user.ProfilePic,
		user.NativeLanguage, user.LearningLanguage, user.Location, user.IsOnboarded, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// FindByID fetches a user, including its friend set, by identifier.
func (r *PostgresUserRepository) FindByID(ctx context.Context, id string) (models.User, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.User{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	user, err := scanUser(conn.QueryRow(ctx, `SELECT `+userColumns+` FROM users u WHERE u.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("select user by id: %w", err)
	}
	return user, nil
}

// FindByEmail fetches a user by their email address.
func (r *PostgresUserRepository) FindByEmail(ctx context.Context, email string) (models.User, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.User{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	user, err := scanUser(conn.QueryRow(ctx, `SELECT `+userColumns+` FROM users u WHERE u.email = $1`, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("select user by email: %w", err)
	}
	return user, nil
}

// FindByIDs fetches every user whose id is listed. Unknown ids are skipped.
func (r *PostgresUserRepository) FindByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.queryUsers(ctx, "select users by ids", `SELECT `+userColumns+` FROM users u WHERE u.id = ANY($1) ORDER BY u.created_at`, ids)
}

// ListRecommended returns onboarded users other than userID and those excluded.
func (r *PostgresUserRepository) ListRecommended(ctx context.Context, userID string, exclude []string) ([]models.User, error) {
	if exclude == nil {
		exclude = []string{}
	}
	return r.queryUsers(ctx, "select recommended users", `
        SELECT `+userColumns+`
        FROM users u
        WHERE u.id <> $1 AND u.is_onboarded AND NOT (u.id = ANY($2))
        ORDER BY u.created_at DESC
    `, userID, exclude)
}

// UpdateProfile stores the onboarding profile and marks the user onboarded.
func (r *PostgresUserRepository) UpdateProfile(ctx context.Context, id string, profile models.Profile) (models.User, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.User{}, fmt.Errorf("acquire connection: %w", err)
	}
	tag, err := conn.Exec(ctx, `
        UPDATE users
        SET full_name = $2, bio = $3, native_language = $4, learning_language = $5,
            location = $6, profile_pic = COALESCE(NULLIF($7, ''), profile_pic),
            is_onboarded = TRUE, updated_at = $8
        WHERE id = $1
    `, id, profile.FullName, profile.Bio, profile.NativeLanguage, profile.LearningLanguage,
		profile.Location, profile.ProfilePic, time.Now().UTC())
	conn.Release()
	if err != nil {
		return models.User{}, fmt.Errorf("update user profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.User{}, ErrNotFound
	}

	return r.FindByID(ctx, id)
}

// UpdateProfilePic replaces the user's avatar reference.
func (r *PostgresUserRepository) UpdateProfilePic(ctx context.Context, id, url string) (models.User, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.User{}, fmt.Errorf("acquire connection: %w", err)
	}
	tag, err := conn.Exec(ctx, `UPDATE users SET profile_pic = $2, updated_at = $3 WHERE id = $1`, id, url, time.Now().UTC())
	conn.Release()
	if err != nil {
		return models.User{}, fmt.Errorf("update profile pic: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.User{}, ErrNotFound
	}

	return r.FindByID(ctx, id)
}

// AddFriend inserts friendID into userID's friend set if it is not already there.
func (r *PostgresUserRepository) AddFriend(ctx context.Context, userID, friendID string) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, insertFriendSQL, userID, friendID, time.Now().UTC()); err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return ErrNotFound
		}
		return fmt.Errorf("insert friend: %w", err)
	}
	return nil
}

func (r *PostgresUserRepository) queryUsers(ctx context.Context, op, query string, args ...any) ([]models.User, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

const insertFriendSQL = `
        INSERT INTO user_friends (user_id, friend_id, created_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (user_id, friend_id) DO NOTHING`

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	err := row.Scan(&user.ID, &user.Email, &user.Password, &user.FullName, &user.Bio, &user.ProfilePic,
		&user.NativeLanguage, &user.LearningLanguage, &user.Location, &user.IsOnboarded,
		&user.CreatedAt, &user.UpdatedAt, &user.Friends)
	if err != nil {
		return models.User{}, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	user.UpdatedAt = user.UpdatedAt.UTC()
	return user, nil
}

// PostgresFriendRepository provides PostgreSQL-backed persistence for friend requests.
type PostgresFriendRepository struct {
	pool db.Pool
}

// NewPostgresFriendRepository constructs a friend repository backed by PostgreSQL.
func NewPostgresFriendRepository(pool db.Pool) *PostgresFriendRepository {
	return &PostgresFriendRepository{pool: pool}
}

// CreateRequest persists a new friend request.
func (r *PostgresFriendRepository) CreateRequest(ctx context.Context, request models.FriendRequest) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO friend_requests (id, sender_id, recipient_id, pair_key, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `, request.ID, request.Sender, request.Recipient, request.PairKey(), string(request.Status), request.CreatedAt, request.UpdatedAt)
	if err != nil {
		switch pgCode(err) {
		case pgUniqueViolation:
			return ErrConflict
		case pgForeignKeyViolation:
			return ErrNotFound
		}
		return fmt.Errorf("insert friend request: %w", err)
	}

	return nil
}

// FindRequest loads a friend request by id.
func (r *PostgresFriendRepository) FindRequest(ctx context.Context, id string) (models.FriendRequest, error) {
	return r.findOne(ctx, `SELECT `+friendRequestColumns+` FROM friend_requests WHERE id = $1`, id)
}

// FindBetween loads the request for the unordered pair {a, b}.
func (r *PostgresFriendRepository) FindBetween(ctx context.Context, a, b string) (models.FriendRequest, error) {
	return r.findOne(ctx, `SELECT `+friendRequestColumns+` FROM friend_requests WHERE pair_key = $1`, models.PairKey(":", a, b))
}

// AcceptRequest flips the request to accepted and links both friend sets in a
// single transaction.
func (r *PostgresFriendRepository) AcceptRequest(ctx context.Context, id string) (models.FriendRequest, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return models.FriendRequest{}, fmt.Errorf("begin accept transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	request, err := scanFriendRequest(tx.QueryRow(ctx, `
        UPDATE friend_requests
        SET status = $2, updated_at = $3
        WHERE id = $1 AND status = $4
        RETURNING `+friendRequestColumns,
		id, string(models.FriendRequestAccepted), now, string(models.FriendRequestPending)))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return models.FriendRequest{}, fmt.Errorf("update friend request status: %w", err)
		}
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM friend_requests WHERE id = $1)`, id).Scan(&exists); err != nil {
			return models.FriendRequest{}, fmt.Errorf("check friend request: %w", err)
		}
		if exists {
			return models.FriendRequest{}, ErrNotPending
		}
		return models.FriendRequest{}, ErrNotFound
	}

	for _, pair := range [][2]string{{request.Sender, request.Recipient}, {request.Recipient, request.Sender}} {
		if _, err := tx.Exec(ctx, insertFriendSQL, pair[0], pair[1], now); err != nil {
			return models.FriendRequest{}, fmt.Errorf("insert friend %s -> %s: %w", pair[0], pair[1], err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return models.FriendRequest{}, fmt.Errorf("commit accept transaction: %w", err)
	}
	return request, nil
}

// ListIncoming returns requests addressed to the recipient with the given status.
func (r *PostgresFriendRepository) ListIncoming(ctx context.Context, recipientID string, status models.FriendRequestStatus) ([]models.FriendRequest, error) {
	return r.queryRequests(ctx, `
        SELECT `+friendRequestColumns+` FROM friend_requests
        WHERE recipient_id = $1 AND status = $2
        ORDER BY created_at DESC`, recipientID, string(status))
}

// ListOutgoing returns requests sent by the sender with the given status.
func (r *PostgresFriendRepository) ListOutgoing(ctx context.Context, senderID string, status models.FriendRequestStatus) ([]models.FriendRequest, error) {
	return r.queryRequests(ctx, `
        SELECT `+friendRequestColumns+` FROM friend_requests
        WHERE sender_id = $1 AND status = $2
        ORDER BY created_at DESC`, senderID, string(status))
}

// ListByStatus returns every request in the given status, oldest first.
func (r *PostgresFriendRepository) ListByStatus(ctx context.Context, status models.FriendRequestStatus) ([]models.FriendRequest, error) {
	return r.queryRequests(ctx, `
        SELECT `+friendRequestColumns+` FROM friend_requests
        WHERE status = $1
        ORDER BY created_at`, string(status))
}

func (r *PostgresFriendRepository) findOne(ctx context.Context, query string, args ...any) (models.FriendRequest, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.FriendRequest{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	request, err := scanFriendRequest(conn.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.FriendRequest{}, ErrNotFound
		}
		return models.FriendRequest{}, fmt.Errorf("select friend request: %w", err)
	}
	return request, nil
}

func (r *PostgresFriendRepository) queryRequests(ctx context.Context, query string, args ...any) ([]models.FriendRequest, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query friend requests: %w", err)
	}
	defer rows.Close()

	var requests []models.FriendRequest
	for rows.Next() {
		request, err := scanFriendRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan friend request: %w", err)
		}
		requests = append(requests, request)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate friend requests: %w", err)
	}
	return requests, nil
}

func scanFriendRequest(row pgx.Row) (models.FriendRequest, error) {
	var (
		request models.FriendRequest
		status  string
	)
	if err := row.Scan(&request.ID, &request.Sender, &request.Recipient, &status, &request.CreatedAt, &request.UpdatedAt); err != nil {
		return models.FriendRequest{}, err
	}
	request.Status = models.FriendRequestStatus(status)
	request.CreatedAt = request.CreatedAt.UTC()
	request.UpdatedAt = request.UpdatedAt.UTC()
	return request, nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

var _ Store = (*PostgresStore)(nil)
var _ UserRepository = (*PostgresUserRepository)(nil)
var _ FriendRepository = (*PostgresFriendRepository)(nil)
