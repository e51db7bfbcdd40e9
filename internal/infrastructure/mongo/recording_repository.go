// Package mongo stores session recordings as MongoDB documents.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/victoralfred/marketpulse/internal/domain/analytics"
)

// Connect opens a client and pings the primary
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	return client, nil
}

// RecordingRepository implements analytics.RecordingRepository
type RecordingRepository struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

// NewRecordingRepository creates a repository over the given collection
func NewRecordingRepository(collection *mongo.Collection, logger *zap.Logger) *RecordingRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordingRepository{collection: collection, logger: logger}
}

// EnsureIndexes creates the lookup indexes. Failures are logged, not returned.
func (r *RecordingRepository) EnsureIndexes(ctx context.Context) {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "start_time", Value: -1}},
		},
	}

	for _, index := range indexes {
		if _, err := r.collection.Indexes().CreateOne(ctx, index); err != nil {
			r.logger.Warn("Failed to create recording index", zap.Error(err))
		}
	}
}

// Save stores a recording, replacing any recording with the same session id
func (r *RecordingRepository) Save(ctx context.Context, recording *analytics.SessionRecording) error {
	_, err := r.collection.ReplaceOne(ctx,
		bson.M{"session_id": recording.SessionID},
		recording,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to save recording %s: %w", recording.SessionID, err)
	}
	return nil
}

// GetBySession retrieves the recording for a session
func (r *RecordingRepository) GetBySession(ctx context.Context, sessionID string) (*analytics.SessionRecording, error) {
	var recording analytics.SessionRecording
	err := r.collection.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&recording)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, analytics.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load recording %s: %w", sessionID, err)
	}
	return &recording, nil
}

// DeleteBefore removes recordings that started before cutoff
func (r *RecordingRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.collection.DeleteMany(ctx, bson.M{"start_time": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete recordings: %w", err)
	}
	return res.DeletedCount, nil
}
