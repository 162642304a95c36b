// Package store persists users and messages. SQLite is the default backend;
// PostgreSQL and MongoDB implementations are selected by configuration.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Tyrowin/dmchat/internal/models"
)

var (
	// ErrNotFound is returned when a user lookup matches nothing.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateEmail is returned when a user is created with an email already in use.
	ErrDuplicateEmail = errors.New("email already exists")
)

// UserStore holds user accounts.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsersExcept(ctx context.Context, id string) ([]models.User, error)
	UpdateProfilePic(ctx context.Context, id, profilePic string) (*models.User, error)
}

// MessageStore holds direct messages.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg *models.Message) error
	Conversation(ctx context.Context, userA, userB string) ([]models.Message, error)
}

// DataStore defines the interface for persistent storage of users and messages.
// SQLiteStore, PostgresStore and MongoStore implement this interface.
type DataStore interface {
	UserStore
	MessageStore

	Ping(ctx context.Context) error
	Close() error
}

// now is the store clock, truncated to the millisecond precision every backend keeps.
var now = func() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// prepareUser fills the identity fields a backend must not leave empty.
func prepareUser(user *models.User) {
	if user.ID == "" {
		user.ID = models.NewID()
	}
	user.Email = models.NormalizeEmail(user.Email)
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now()
	}
	user.UpdatedAt = user.CreatedAt
}

// prepareMessage assigns id and timestamp when the caller left them empty.
func prepareMessage(msg *models.Message) {
	if msg.ID == "" {
		msg.ID = models.NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now()
	}
}
