package store

import (
	"context"

	"github.com/Tyrowin/dmchat/internal/config"
)

// Open selects the backend from configuration: PostgreSQL when DATABASE_URL
// is set, MongoDB when MONGO_URI is set, SQLite otherwise. It returns the
// store together with the backend name for logging.
func Open(ctx context.Context, cfg *config.Config) (DataStore, string, error) {
	switch {
	case cfg.DatabaseURL != "":
		s, err := NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, "postgres", err
		}
		return s, "postgres", nil
	case cfg.MongoURI != "":
		s, err := NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, "mongodb", err
		}
		return s, "mongodb", nil
	default:
		s, err := NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, "sqlite", err
		}
		return s, "sqlite", nil
	}
}
