package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/lingomate/backend/internal/models"
)

const (
	usersCollection          = "users"
	friendRequestsCollection = "friendrequests"

	// mongoIllegalOperation is returned when transactions are attempted
	// against a standalone server.
	mongoIllegalOperation = 20
)

type userDoc struct {
	ID               string    `bson:"_id"`
	Email            string    `bson:"email"`
	Password         string    `bson:"password"`
	FullName         string    `bson:"fullName"`
	Bio              string    `bson:"bio"`
	ProfilePic       string    `bson:"profilePic"`
	NativeLanguage   string    `bson:"nativeLanguage"`
	LearningLanguage string    `bson:"learningLanguage"`
	Location         string    `bson:"location"`
	IsOnboarded      bool      `bson:"isOnboarded"`
	Friends          []string  `bson:"friends"`
	CreatedAt        time.Time `bson:"createdAt"`
	UpdatedAt        time.Time `bson:"updatedAt"`
}

func (d userDoc) model() models.User {
	friends := d.Friends
	if friends == nil {
		friends = []string{}
	}
	return models.User{
		ID:               d.ID,
		Email:            d.Email,
		Password:         d.Password,
		FullName:         d.FullName,
		Bio:              d.Bio,
		ProfilePic:       d.ProfilePic,
		NativeLanguage:   d.NativeLanguage,
		LearningLanguage: d.LearningLanguage,
		Location:         d.Location,
		IsOnboarded:      d.IsOnboarded,
		Friends:          friends,
		CreatedAt:        d.CreatedAt.UTC(),
		UpdatedAt:        d.UpdatedAt.UTC(),
	}
}

func newUserDoc(u models.User) userDoc {
	friends := u.Friends
	if friends == nil {
		friends = []string{}
	}
	return userDoc{
		ID:               u.ID,
		Email:            u.Email,
		Password:         u.Password,
		FullName:         u.FullName,
		Bio:              u.Bio,
		ProfilePic:       u.ProfilePic,
		NativeLanguage:   u.NativeLanguage,
		LearningLanguage: u.LearningLanguage,
		Location:         u.Location,
		IsOnboarded:      u.IsOnboarded,
		Friends:          friends,
		CreatedAt:        u.CreatedAt,
		UpdatedAt:        u.UpdatedAt,
	}
}

type friendRequestDoc struct {
	ID        string    `bson:"_id"`
	Sender    string    `bson:"sender"`
	Recipient string    `bson:"recipient"`
	PairKey   string    `bson:"pairKey"`
	Status    string    `bson:"status"`
	CreatedAt time.Time `bson:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

func (d friendRequestDoc) model() models.FriendRequest {
	return models.FriendRequest{
		ID:        d.ID,
		Sender:    d.Sender,
		Recipient: d.Recipient,
		Status:    models.FriendRequestStatus(d.Status),
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
}

// MongoStore exposes repositories backed by the `users` and `friendrequests`
// collections of a MongoDB database.
type MongoStore struct {
	client  *mongo.Client
	users   *MongoUserRepository
	friends *MongoFriendRepository
}

// NewMongoStore connects to MongoDB and returns a store bound to database.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(database)
	users := db.Collection(usersCollection)
	requests := db.Collection(friendRequestsCollection)

	return &MongoStore{
		client:  client,
		users:   &MongoUserRepository{users: users},
		friends: &MongoFriendRepository{client: client, users: users, requests: requests},
	}, nil
}

// EnsureIndexes creates the uniqueness constraints the repositories rely on.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	if _, err := s.users.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("email_unique"),
	}); err != nil {
		return fmt.Errorf("create users email index: %w", err)
	}

	if _, err := s.friends.requests.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "pairKey", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("pair_unique"),
		},
		{
			Keys:    bson.D{{Key: "recipient", Value: 1}, {Key: "status", Value: 1}},
			Options: options.Index().SetName("recipient_status"),
		},
		{
			Keys:    bson.D{{Key: "sender", Value: 1}, {Key: "status", Value: 1}},
			Options: options.Index().SetName("sender_status"),
		},
	}); err != nil {
		return fmt.Errorf("create friend request indexes: %w", err)
	}
	return nil
}

// Users returns the user repository.
func (s *MongoStore) Users() UserRepository { return s.users }

// Friends returns the friend request repository.
func (s *MongoStore) Friends() FriendRepository { return s.friends }

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// MongoUserRepository persists users as documents with an embedded friend set.
type MongoUserRepository struct {
	users *mongo.Collection
}

// Create inserts a new user document.
func (r *MongoUserRepository) Create(ctx context.Context, user models.User) error {
	if _, err := r.users.InsertOne(ctx, newUserDoc(user)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// FindByID fetches a user by id.
func (r *MongoUserRepository) FindByID(ctx context.Context, id string) (models.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

// FindByEmail fetches a user by email.
func (r *MongoUserRepository) FindByEmail(ctx context.Context, email string) (models.User, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

// FindByIDs fetches every user whose id is listed.
func (r *MongoUserRepository) FindByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.find(ctx, bson.M{"_id": bson.M{"$in": ids}}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
}

// ListRecommended returns onboarded users other than userID and the excluded ids.
func (r *MongoUserRepository) ListRecommended(ctx context.Context, userID string, exclude []string) ([]models.User, error) {
	if exclude == nil {
		exclude = []string{}
	}
	filter := bson.M{
		"_id":         bson.M{"$ne": userID, "$nin": exclude},
		"isOnboarded": true,
	}
	return r.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
}

// UpdateProfile applies the onboarding profile and sets isOnboarded.
func (r *MongoUserRepository) UpdateProfile(ctx context.Context, id string, profile models.Profile) (models.User, error) {
	set := bson.M{
		"fullName":         profile.FullName,
		"bio":              profile.Bio,
		"nativeLanguage":   profile.NativeLanguage,
		"learningLanguage": profile.LearningLanguage,
		"location":         profile.Location,
		"isOnboarded":      true,
		"updatedAt":        time.Now().UTC(),
	}
	if profile.ProfilePic != "" {
		set["profilePic"] = profile.ProfilePic
	}
	return r.findAndUpdate(ctx, id, bson.M{"$set": set})
}

// UpdateProfilePic replaces the avatar reference.
func (r *MongoUserRepository) UpdateProfilePic(ctx context.Context, id, url string) (models.User, error) {
	return r.findAndUpdate(ctx, id, bson.M{"$set": bson.M{"profilePic": url, "updatedAt": time.Now().UTC()}})
}

// AddFriend adds friendID to the user's friend set with $addToSet.
func (r *MongoUserRepository) AddFriend(ctx context.Context, userID, friendID string) error {
	return addFriend(ctx, r.users, userID, friendID, time.Now().UTC())
}

func addFriend(ctx context.Context, users *mongo.Collection, userID, friendID string, now time.Time) error {
	res, err := users.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{
		"$addToSet": bson.M{"friends": friendID},
		"$set":      bson.M{"updatedAt": now},
	})
	if err != nil {
		return fmt.Errorf("add friend %s -> %s: %w", userID, friendID, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoUserRepository) findOne(ctx context.Context, filter bson.M) (models.User, error) {
	var doc userDoc
	if err := r.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("find user: %w", err)
	}
	return doc.model(), nil
}

func (r *MongoUserRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.User, error) {
	cursor, err := r.users.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}
	var docs []userDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	users := make([]models.User, 0, len(docs))
	for _, doc := range docs {
		users = append(users, doc.model())
	}
	return users, nil
}

func (r *MongoUserRepository) findAndUpdate(ctx context.Context, id string, update bson.M) (models.User, error) {
	var doc userDoc
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	if err := r.users.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("update user: %w", err)
	}
	return doc.model(), nil
}

// MongoFriendRepository persists friend requests in the `friendrequests` collection.
type MongoFriendRepository struct {
	client   *mongo.Client
	users    *mongo.Collection
	requests *mongo.Collection
}

// CreateRequest inserts a new request. The unique pairKey index rejects a
// second request for the same unordered pair.
func (r *MongoFriendRepository) CreateRequest(ctx context.Context, request models.FriendRequest) error {
	doc := friendRequestDoc{
		ID:        request.ID,
		Sender:    request.Sender,
		Recipient: request.Recipient,
		PairKey:   request.PairKey(),
		Status:    string(request.Status),
		CreatedAt: request.CreatedAt,
		UpdatedAt: request.UpdatedAt,
	}
	if _, err := r.requests.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert friend request: %w", err)
	}
	return nil
}

// FindRequest loads a request by id.
func (r *MongoFriendRepository) FindRequest(ctx context.Context, id string) (models.FriendRequest, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

// FindBetween loads the request for the unordered pair {a, b}.
func (r *MongoFriendRepository) FindBetween(ctx context.Context, a, b string) (models.FriendRequest, error) {
	return r.findOne(ctx, bson.M{"pairKey": models.PairKey(":", a, b)})
}

// AcceptRequest runs the status flip and both $addToSet writes inside a
// multi-document transaction. Standalone servers cannot run transactions, so
// there the writes are applied in sequence; each is idempotent and the
// reconciler repairs an interrupted sequence.
func (r *MongoFriendRepository) AcceptRequest(ctx context.Context, id string) (models.FriendRequest, error) {
	session, err := r.client.StartSession()
	if err != nil {
		return models.FriendRequest{}, fmt.Errorf("start mongo session: %w", err)
	}
	defer session.EndSession(ctx)

	result, err := session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return r.accept(sc, id)
	})
	if err != nil {
		if transactionsUnsupported(err) {
			return r.accept(ctx, id)
		}
		return models.FriendRequest{}, err
	}
	return result.(models.FriendRequest), nil
}

func (r *MongoFriendRepository) accept(ctx context.Context, id string) (models.FriendRequest, error) {
	now := time.Now().UTC()

	var doc friendRequestDoc
	err := r.requests.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": string(models.FriendRequestPending)},
		bson.M{"$set": bson.M{"status": string(models.FriendRequestAccepted), "updatedAt": now}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return models.FriendRequest{}, fmt.Errorf("update friend request status: %w", err)
		}
		count, err := r.requests.CountDocuments(ctx, bson.M{"_id": id})
		if err != nil {
			return models.FriendRequest{}, fmt.Errorf("count friend request: %w", err)
		}
		if count > 0 {
			return models.FriendRequest{}, ErrNotPending
		}
		return models.FriendRequest{}, ErrNotFound
	}

	if err := addFriend(ctx, r.users, doc.Sender, doc.Recipient, now); err != nil {
		return models.FriendRequest{}, err
	}
	if err := addFriend(ctx, r.users, doc.Recipient, doc.Sender, now); err != nil {
		return models.FriendRequest{}, err
	}
	return doc.model(), nil
}

// ListIncoming returns requests addressed to recipientID with the given status.
func (r *MongoFriendRepository) ListIncoming(ctx context.Context, recipientID string, status models.FriendRequestStatus) ([]models.FriendRequest, error) {
	return r.find(ctx, bson.M{"recipient": recipientID, "status": string(status)}, -1)
}

// ListOutgoing returns requests sent by senderID with the given status.
func (r *MongoFriendRepository) ListOutgoing(ctx context.Context, senderID string, status models.FriendRequestStatus) ([]models.FriendRequest, error) {
	return r.find(ctx, bson.M{"sender": senderID, "status": string(status)}, -1)
}

// ListByStatus returns all requests in the given status, oldest first.
func (r *MongoFriendRepository) ListByStatus(ctx context.Context, status models.FriendRequestStatus) ([]models.FriendRequest, error) {
	return r.find(ctx, bson.M{"status": string(status)}, 1)
}

func (r *MongoFriendRepository) findOne(ctx context.Context, filter bson.M) (models.FriendRequest, error) {
	var doc friendRequestDoc
	if err := r.requests.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.FriendRequest{}, ErrNotFound
		}
		return models.FriendRequest{}, fmt.Errorf("find friend request: %w", err)
	}
	return doc.model(), nil
}

func (r *MongoFriendRepository) find(ctx context.Context, filter bson.M, order int) ([]models.FriendRequest, error) {
	cursor, err := r.requests.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: order}}))
	if err != nil {
		return nil, fmt.Errorf("find friend requests: %w", err)
	}
	var docs []friendRequestDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode friend requests: %w", err)
	}
	requests := make([]models.FriendRequest, 0, len(docs))
	for _, doc := range docs {
		requests = append(requests, doc.model())
	}
	return requests, nil
}

func transactionsUnsupported(err error) bool {
	var cmdErr mongo.CommandError
	return errors.As(err, &cmdErr) && cmdErr.Code == mongoIllegalOperation
}

var _ Store = (*MongoStore)(nil)
var _ UserRepository = (*MongoUserRepository)(nil)
var _ FriendRepository = (*MongoFriendRepository)(nil)
