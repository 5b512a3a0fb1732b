package mongodb

import (
	"context"
	"github.com/RyanW02/supplytrail/pkg/repository"
	pkgerrors "github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MongoRepository stores credentials and their timelines in two collections of a single database.
type MongoRepository struct {
	logger      *zap.Logger
	database    *mongo.Database
	credentials *MongoCredentialRepository
	timeline    *MongoTimelineRepository
}

var _ repository.Repository = (*MongoRepository)(nil)

type mongoCollection interface {
	InitSchema(ctx context.Context) error
}

// Connect dials the server at uri and checks that the primary is reachable before returning a repository over
// databaseName.
func Connect(ctx context.Context, logger *zap.Logger, uri, databaseName string) (*MongoRepository, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1))

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to connect to MongoDB")
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, pkgerrors.Wrap(err, "failed to ping MongoDB primary")
	}

	return NewMongoRepository(logger, client.Database(databaseName)), nil
}

func NewMongoRepository(logger *zap.Logger, db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		logger:      logger.With(zap.String("database", db.Name())),
		database:    db,
		credentials: NewMongoCredentialRepository(logger, db),
		timeline:    NewMongoTimelineRepository(logger, db),
	}
}

// InitSchema creates the indexes of every collection concurrently. The first failure cancels the rest.
func (m *MongoRepository) InitSchema(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	collections := map[string]mongoCollection{
		CredentialCollectionName: m.credentials,
		TimelineCollectionName:   m.timeline,
	}

	for name, col := range collections {
		name, col := name, col
		group.Go(func() error {
			if err := col.InitSchema(ctx); err != nil {
				return pkgerrors.Wrapf(err, "collection %s", name)
			}

			m.logger.Debug("Initialised collection schema", zap.String("collection", name))
			return nil
		})
	}

	return group.Wait()
}

func (m *MongoRepository) Credentials() repository.CredentialRepository {
	return m.credentials
}

func (m *MongoRepository) Timeline() repository.TimelineRepository {
	return m.timeline
}

// TestConnection pings the primary, since credentials are only ever written there.
func (m *MongoRepository) TestConnection(ctx context.Context) error {
	return m.database.Client().Ping(ctx, readpref.Primary())
}

// Close disconnects the underlying client, which is shared by every collection.
func (m *MongoRepository) Close(ctx context.Context) error {
	return m.database.Client().Disconnect(ctx)
}
