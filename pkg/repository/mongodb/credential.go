package mongodb

import (
	"context"
	"errors"
	"fmt"
	"github.com/RyanW02/supplytrail/pkg/errs"
	"github.com/RyanW02/supplytrail/pkg/repository"
	"github.com/RyanW02/supplytrail/pkg/types/credentials"
	pkgerrors "github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"time"
)

const (
	CredentialCollectionName = "credentials"

	KeyCredentialId   = "credential_id"
	KeyProductId      = "product_id"
	KeyIssuer         = "issuer"
	KeyIssuedAt       = "issued_at"
	KeyExpiresAt      = "expires_at"
	KeyStatus         = "status"
	KeyCredentialType = "credential_type"
)

type MongoCredentialRepository struct {
	logger     *zap.Logger
	collection *mongo.Collection
}

// Compile-time type validation
var (
	_ repository.CredentialRepository = (*MongoCredentialRepository)(nil)
	_ mongoCollection                 = (*MongoCredentialRepository)(nil)
)

func NewMongoCredentialRepository(logger *zap.Logger, db *mongo.Database) *MongoCredentialRepository {
	return &MongoCredentialRepository{
		logger:     logger,
		collection: db.Collection(CredentialCollectionName),
	}
}

func (m *MongoCredentialRepository) InitSchema(ctx context.Context) error {
	_, err := m.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: KeyCredentialId, Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: KeyProductId, Value: 1}, {Key: KeyIssuedAt, Value: -1}},
		},
		{
			Keys: bson.M{KeyIssuer: 1},
		},
		// Used by the expiry scan
		{
			Keys: bson.D{{Key: KeyStatus, Value: 1}, {Key: KeyExpiresAt, Value: 1}},
		},
	})

	return pkgerrors.Wrap(err, "failed to create credential indexes")
}

func (m *MongoCredentialRepository) Create(ctx context.Context, credential credentials.Credential) error {
	if _, err := m.collection.InsertOne(ctx, credential); err != nil {
		// Check for duplicate key error
		if mongo.IsDuplicateKeyError(err) {
			return repository.ErrCredentialAlreadyStored
		}

		return err
	}

	return nil
}

func (m *MongoCredentialRepository) FindByID(ctx context.Context, id string) (credentials.Credential, bool, error) {
	var credential credentials.Credential

	filter := bson.D{{Key: KeyCredentialId, Value: id}}
	if err := m.collection.FindOne(ctx, filter).Decode(&credential); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return credentials.Credential{}, false, nil
		}

		return credentials.Credential{}, false, err
	}

	return normalise(credential), true, nil
}

func (m *MongoCredentialRepository) Search(ctx context.Context, params repository.SearchParams) (repository.SearchResult, error) {
	params, err := params.Normalise()
	if err != nil {
		return repository.SearchResult{}, err
	}

	filter := buildFilter(params)

	total, err := m.collection.CountDocuments(ctx, filter)
	if err != nil {
		return repository.SearchResult{}, pkgerrors.Wrap(err, "failed to count credentials")
	}

	direction := -1
	if params.Order == repository.OrderAscending {
		direction = 1
	}

	sortKey := KeyIssuedAt
	if params.Sort == repository.SortExpiresAt {
		sortKey = KeyExpiresAt
	}

	opts := options.Find().
		SetSort(bson.D{{Key: sortKey, Value: direction}, {Key: KeyCredentialId, Value: 1}}).
		SetLimit(int64(params.Limit)).
		SetSkip(int64(params.Page * params.Limit))

	cursor, err := m.collection.Find(ctx, filter, opts)
	if err != nil {
		return repository.SearchResult{}, err
	}

	var items []credentials.Credential
	if err := cursor.All(ctx, &items); err != nil {
		return repository.SearchResult{}, err
	}

	for i := range items {
		items[i] = normalise(items[i])
	}

	return repository.NewSearchResult(items, int(total), params), nil
}

func (m *MongoCredentialRepository) UpdateStatus(ctx context.Context, id string, status credentials.Status) error {
	res, err := m.collection.UpdateOne(ctx, bson.D{{Key: KeyCredentialId, Value: id}}, bson.D{
		{Key: "$set", Value: bson.D{{Key: KeyStatus, Value: status}}},
	})
	if err != nil {
		return err
	}

	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: credential %s", errs.ErrNotFound, id)
	}

	return nil
}

func (m *MongoCredentialRepository) CountByProductID(ctx context.Context, productID string) (int, error) {
	count, err := m.collection.CountDocuments(ctx, bson.D{{Key: KeyProductId, Value: productID}})
	return int(count), err
}

func (m *MongoCredentialRepository) FindExpiringBefore(ctx context.Context, before time.Time, limit int) ([]credentials.Credential, error) {
	filter := bson.D{
		{Key: KeyStatus, Value: bson.M{"$in": bson.A{credentials.StatusIssued, credentials.StatusActive}}},
		{Key: KeyExpiresAt, Value: bson.M{"$ne": nil, "$lt": before}},
	}

	opts := options.Find().SetSort(bson.D{{Key: KeyExpiresAt, Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := m.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}

	var found []credentials.Credential
	if err := cursor.All(ctx, &found); err != nil {
		return nil, err
	}

	for i := range found {
		found[i] = normalise(found[i])
	}

	return found, nil
}

func buildFilter(params repository.SearchParams) bson.M {
	filter := bson.M{}

	if params.ProductID != nil {
		filter[KeyProductId] = *params.ProductID
	}

	if params.CredentialType != nil {
		filter[KeyCredentialType] = *params.CredentialType
	}

	if params.Status != nil {
		filter[KeyStatus] = *params.Status
	}

	if params.Issuer != nil {
		filter[KeyIssuer] = *params.Issuer
	}

	if params.IssuedAfter != nil || params.IssuedBefore != nil {
		issuedAt := bson.M{}
		if params.IssuedAfter != nil {
			issuedAt["$gte"] = *params.IssuedAfter
		}

		if params.IssuedBefore != nil {
			issuedAt["$lte"] = *params.IssuedBefore
		}

		filter[KeyIssuedAt] = issuedAt
	}

	return filter
}

// MongoDB stores times with millisecond precision in UTC; the decoded values are returned in UTC so that they
// compare equal to the values that were written, once truncated.
func normalise(credential credentials.Credential) credentials.Credential {
	credential.IssuedAt = credential.IssuedAt.UTC()

	if credential.ExpiresAt != nil {
		expiresAt := credential.ExpiresAt.UTC()
		credential.ExpiresAt = &expiresAt
	}

	if credential.Metadata.ValidatedAt != nil {
		validatedAt := credential.Metadata.ValidatedAt.UTC()
		credential.Metadata.ValidatedAt = &validatedAt
	}

	return credential
}
