package mongodb

import (
	"context"
	"github.com/RyanW02/supplytrail/pkg/repository"
	"github.com/RyanW02/supplytrail/pkg/types/credentials"
	pkgerrors "github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const TimelineCollectionName = "credential_timeline"

type MongoTimelineRepository struct {
	logger     *zap.Logger
	collection *mongo.Collection
}

var (
	_ repository.TimelineRepository = (*MongoTimelineRepository)(nil)
	_ mongoCollection               = (*MongoTimelineRepository)(nil)
)

func NewMongoTimelineRepository(logger *zap.Logger, db *mongo.Database) *MongoTimelineRepository {
	return &MongoTimelineRepository{
		logger:     logger,
		collection: db.Collection(TimelineCollectionName),
	}
}

func (m *MongoTimelineRepository) InitSchema(ctx context.Context) error {
	_, err := m.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: KeyCredentialId, Value: 1}, {Key: "timestamp", Value: 1}},
		},
		{
			Keys: bson.M{KeyProductId: 1},
		},
	})

	return pkgerrors.Wrap(err, "failed to create timeline indexes")
}

func (m *MongoTimelineRepository) AddTimelineEntry(ctx context.Context, entry credentials.TimelineEntry) error {
	_, err := m.collection.InsertOne(ctx, entry)
	return pkgerrors.Wrapf(err, "failed to store timeline entry for credential %s", entry.CredentialID)
}

func (m *MongoTimelineRepository) GetTimeline(ctx context.Context, credentialID string) ([]credentials.TimelineEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})

	cursor, err := m.collection.Find(ctx, bson.D{{Key: KeyCredentialId, Value: credentialID}}, opts)
	if err != nil {
		return nil, err
	}

	entries := make([]credentials.TimelineEntry, 0)
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, err
	}

	for i := range entries {
		entries[i].Timestamp = entries[i].Timestamp.UTC()
	}

	return entries, nil
}
