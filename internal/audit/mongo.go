package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"propsync/internal/config"
	"propsync/internal/domain"
	"propsync/internal/models"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const connectTimeout = 10 * time.Second

// Collection is the subset of *mongo.Collection the sink writes through.
type Collection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
}

// MongoSink mirrors sync log entries into a MongoDB collection.
type MongoSink struct {
	coll   Collection
	logger zerolog.Logger
}

func NewMongoSink(coll Collection, logger *zerolog.Logger) *MongoSink {
	return &MongoSink{
		coll:   coll,
		logger: logger.With().Str("component", "audit_mongo").Logger(),
	}
}

// Connect opens the client and returns the configured collection. The
// caller owns the returned client.
func Connect(ctx context.Context, cfg config.AuditConfig) (*mongo.Client, *mongo.Collection, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("ping mongodb: %w", err)
	}
	return client, client.Database(cfg.MongoDB).Collection(cfg.Collection), nil
}

func (s *MongoSink) Record(ctx context.Context, entry *models.SyncLogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if _, err := s.coll.InsertOne(ctx, entry); err != nil {
		s.logger.Error().Err(err).
			Str("entity_type", entry.EntityType).
			Int64("local_id", entry.EntityID).
			Msg("Failed to mirror sync log entry")
		return fmt.Errorf("insert sync log entry: %w", err)
	}
	return nil
}

type fanout []domain.AuditLog

// Fanout records every entry in all sinks. The first sink is the primary
// one and its entry id is kept; errors of all sinks are joined.
func Fanout(sinks ...domain.AuditLog) domain.AuditLog {
	out := make(fanout, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (f fanout) Record(ctx context.Context, entry *models.SyncLogEntry) error {
	var errs []error
	for _, sink := range f {
		if err := sink.Record(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
