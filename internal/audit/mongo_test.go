package audit

import (
	"context"
	"errors"
	"testing"

	"propsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type fakeCollection struct {
	docs []interface{}
	err  error
}

func (f *fakeCollection) InsertOne(_ context.Context, doc interface{}, _ ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.docs = append(f.docs, doc)
	return &mongo.InsertOneResult{InsertedID: len(f.docs)}, nil
}

type recordingSink struct {
	entries []*models.SyncLogEntry
	err     error
}

func (r *recordingSink) Record(_ context.Context, e *models.SyncLogEntry) error {
	r.entries = append(r.entries, e)
	return r.err
}

func TestMongoSink_Record(t *testing.T) {
	logger := zerolog.Nop()
	coll := &fakeCollection{}
	sink := NewMongoSink(coll, &logger)

	entry := &models.SyncLogEntry{
		EntityType: models.EntityProperty,
		EntityID:   42,
		Action:     models.ActionCreate,
		Direction:  models.DirectionPush,
		Status:     models.LogSuccess,
	}
	require.NoError(t, sink.Record(context.Background(), entry))

	require.Len(t, coll.docs, 1)
	assert.Same(t, entry, coll.docs[0])
	assert.False(t, entry.CreatedAt.IsZero())
}

func TestMongoSink_RecordError(t *testing.T) {
	logger := zerolog.Nop()
	sink := NewMongoSink(&fakeCollection{err: errors.New("no primary")}, &logger)

	err := sink.Record(context.Background(), &models.SyncLogEntry{EntityType: models.EntityAgency})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no primary")
}

func TestFanout(t *testing.T) {
	primary := &recordingSink{}
	mirror := &recordingSink{err: errors.New("mirror down")}
	log := Fanout(primary, nil, mirror)

	entry := &models.SyncLogEntry{EntityType: models.EntityUser, EntityID: 3}
	err := log.Record(context.Background(), entry)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "mirror down")
	assert.Len(t, primary.entries, 1)
	assert.Len(t, mirror.entries, 1)
}

func TestFanout_AllHealthy(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	require.NoError(t, Fanout(a, b).Record(context.Background(), &models.SyncLogEntry{}))
	assert.Len(t, a.entries, 1)
	assert.Len(t, b.entries, 1)
}
