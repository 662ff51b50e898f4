package archive

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tesfam/bingo-engine/internal/engine"
)

const collectionName = "finished_sessions"

// Store keeps finished sessions in MongoDB after the registry reclaims
// them. A TTL index on expires_at ages archived rooms out without any
// manual cleanup.
type Store struct {
	db        *mongo.Database
	retention time.Duration
}

// Connect dials MONGODB_URI, ensures the TTL index and returns a Store
// that keeps archived sessions for the given retention.
func Connect(ctx context.Context, retention time.Duration) (*Store, error) {
	mongoURI := os.Getenv("MONGODB_URI")

	uri, err := url.Parse(mongoURI)
	if err != nil {
		return nil, fmt.Errorf("parse MONGODB_URI: %w", err)
	}
	dbName := strings.TrimPrefix(uri.Path, "/")

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(mongoURI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(dbName)

	indexModel := mongo.IndexModel{
		Keys:    bson.M{"expires_at": 1},
		Options: options.Index().SetExpireAfterSeconds(0),
	}
	if _, err := db.Collection(collectionName).Indexes().CreateOne(ctx, indexModel); err != nil {
		return nil, fmt.Errorf("create TTL index: %w", err)
	}

	return &Store{db: db, retention: retention}, nil
}

type sessionDoc struct {
	SessionID  string    `bson:"session_id"`
	Status     string    `bson:"status"`
	EntryPrice string    `bson:"entry_price"`
	Pool       string    `bson:"pool"`
	Players    []int64   `bson:"players"`
	Calls      []int     `bson:"calls"`
	WinnerID   int64     `bson:"winner_id,omitempty"`
	CreatedAt  time.Time `bson:"created_at"`
	FinishedAt time.Time `bson:"finished_at"`
	ExpiresAt  time.Time `bson:"expires_at"`
}

// SaveSession upserts the terminal snapshot keyed by session ID, so a
// retried reap never duplicates the record.
func (s *Store) SaveSession(ctx context.Context, snap engine.Snapshot) error {
	doc := sessionDoc{
		SessionID:  snap.ID,
		Status:     string(snap.Status),
		EntryPrice: snap.EntryPrice.StringFixed(2),
		Pool:       snap.Pool.StringFixed(2),
		Players:    snap.Players,
		Calls:      snap.Calls,
		WinnerID:   snap.WinnerID,
		CreatedAt:  snap.CreatedAt,
		FinishedAt: snap.FinishedAt,
		ExpiresAt:  time.Now().UTC().Add(s.retention),
	}

	_, err := s.db.Collection(collectionName).UpdateOne(ctx,
		bson.M{"session_id": snap.ID},
		bson.M{"$set": doc},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("archive session %s: %w", snap.ID, err)
	}
	return nil
}
