package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/Tyrowin/dmchat/internal/models"
)

type userDocument struct {
	ID         string    `bson:"_id"`
	FullName   string    `bson:"fullName"`
	Email      string    `bson:"email"`
	Password   string    `bson:"password"`
	ProfilePic string    `bson:"profilePic"`
	CreatedAt  time.Time `bson:"createdAt"`
	UpdatedAt  time.Time `bson:"updatedAt"`
}

func (d userDocument) model() models.User {
	return models.User{
		ID:         d.ID,
		FullName:   d.FullName,
		Email:      d.Email,
		Password:   d.Password,
		ProfilePic: d.ProfilePic,
		CreatedAt:  d.CreatedAt.UTC(),
		UpdatedAt:  d.UpdatedAt.UTC(),
	}
}

type messageDocument struct {
	ID         string    `bson:"_id"`
	SenderID   string    `bson:"senderId"`
	ReceiverID string    `bson:"receiverId"`
	Text       string    `bson:"text,omitempty"`
	Image      string    `bson:"image,omitempty"`
	CreatedAt  time.Time `bson:"createdAt"`
}

func (d messageDocument) model() models.Message {
	return models.Message{
		ID:         d.ID,
		SenderID:   d.SenderID,
		ReceiverID: d.ReceiverID,
		Text:       d.Text,
		Image:      d.Image,
		CreatedAt:  d.CreatedAt.UTC(),
	}
}

// MongoStore keeps users and messages as MongoDB documents.
type MongoStore struct {
	client   *mongo.Client
	users    *mongo.Collection
	messages *mongo.Collection
}

// NewMongoStore connects to uri, selects database and ensures the indexes
// backing email uniqueness and conversation range queries.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	db := client.Database(database)
	s := &MongoStore{
		client:   client,
		users:    db.Collection("users"),
		messages: db.Collection("messages"),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}

	_, err = s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "senderId", Value: 1},
			{Key: "receiverId", Value: 1},
			{Key: "createdAt", Value: 1},
		},
	})
	return err
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Ping checks the server connection.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// CreateUser inserts a user document.
func (s *MongoStore) CreateUser(ctx context.Context, user *models.User) error {
	prepareUser(user)

	_, err := s.users.InsertOne(ctx, userDocument{
		ID:         user.ID,
		FullName:   user.FullName,
		Email:      user.Email,
		Password:   user.Password,
		ProfilePic: user.ProfilePic,
		CreatedAt:  user.CreatedAt,
		UpdatedAt:  user.UpdatedAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateEmail
	}
	return err
}

func (s *MongoStore) findUser(ctx context.Context, filter bson.D) (*models.User, error) {
	var doc userDocument
	if err := s.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	user := doc.model()
	return &user, nil
}

// GetUserByID retrieves a user by ID.
func (s *MongoStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return s.findUser(ctx, bson.D{{Key: "_id", Value: id}})
}

// GetUserByEmail retrieves a user by email.
func (s *MongoStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findUser(ctx, bson.D{{Key: "email", Value: models.NormalizeEmail(email)}})
}

// ListUsersExcept returns every user other than id, ordered by name.
func (s *MongoStore) ListUsersExcept(ctx context.Context, id string) ([]models.User, error) {
	cursor, err := s.users.Find(ctx,
		bson.D{{Key: "_id", Value: bson.D{{Key: "$ne", Value: id}}}},
		options.Find().SetSort(bson.D{{Key: "fullName", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}

	var docs []userDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	users := make([]models.User, 0, len(docs))
	for _, doc := range docs {
		users = append(users, doc.model())
	}
	return users, nil
}

// UpdateProfilePic stores a new avatar reference and returns the updated user.
func (s *MongoStore) UpdateProfilePic(ctx context.Context, id, profilePic string) (*models.User, error) {
	var doc userDocument
	err := s.users.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "profilePic", Value: profilePic},
			{Key: "updatedAt", Value: now()},
		}}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	user := doc.model()
	return &user, nil
}

// CreateMessage inserts a message document.
func (s *MongoStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	prepareMessage(msg)

	_, err := s.messages.InsertOne(ctx, messageDocument{
		ID:         msg.ID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Text:       msg.Text,
		Image:      msg.Image,
		CreatedAt:  msg.CreatedAt,
	})
	return err
}

// Conversation returns the messages exchanged between two users, oldest first.
// Ids are UUIDv7, so sorting by _id breaks createdAt ties in insertion order.
func (s *MongoStore) Conversation(ctx context.Context, userA, userB string) ([]models.Message, error) {
	filter := bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "senderId", Value: userA}, {Key: "receiverId", Value: userB}},
		bson.D{{Key: "senderId", Value: userB}, {Key: "receiverId", Value: userA}},
	}}}

	cursor, err := s.messages.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}

	var docs []messageDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(docs))
	for _, doc := range docs {
		messages = append(messages, doc.model())
	}
	return messages, nil
}
