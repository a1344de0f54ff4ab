package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"carcare/internal/models"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	usersCollection       = "users"
	diagnosticsCollection = "diagnostics"
)

// MongoStore keeps users and records as documents, one collection each.
type MongoStore struct {
	client      *mongo.Client
	users       *mongo.Collection
	diagnostics *mongo.Collection
}

// OpenMongo connects to uri, pings the primary and ensures indexes exist.
func OpenMongo(ctx context.Context, uri, dbName string) (*MongoStore, error) {
	if uri == "" {
		return nil, errors.New("mongo uri must be provided")
	}
	if dbName == "" {
		return nil, errors.New("mongo database name must be provided")
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	db := client.Database(dbName)
	s := &MongoStore{
		client:      client,
		users:       db.Collection(usersCollection),
		diagnostics: db.Collection(diagnosticsCollection),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	if _, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("create users index: %w", err)
	}
	if _, err := s.diagnostics.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}},
	}); err != nil {
		return fmt.Errorf("create diagnostics index: %w", err)
	}
	return nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) CreateRecord(ctx context.Context, rec *models.DiagnosticRecord) error {
	if rec.UserID == "" {
		return errors.New("record has no owner")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		// mongo keeps millisecond precision
		rec.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	}
	if rec.Indicators == nil {
		rec.Indicators = []models.Indicator{}
	}
	if _, err := s.diagnostics.InsertOne(ctx, rec); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert diagnostic record: %w", err)
	}
	return nil
}

func (s *MongoStore) ListRecordsByUser(ctx context.Context, userID string) ([]models.DiagnosticRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	cur, err := s.diagnostics.Find(ctx, bson.M{"userId": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find diagnostic records: %w", err)
	}
	records := []models.DiagnosticRecord{}
	if err := cur.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("decode diagnostic records: %w", err)
	}
	for i := range records {
		records[i].CreatedAt = records[i].CreatedAt.UTC()
	}
	return records, nil
}

func (s *MongoStore) CreateUser(ctx context.Context, u *models.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	}
	if _, err := s.users.InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *MongoStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findUser(ctx, bson.M{"email": email})
}

func (s *MongoStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return s.findUser(ctx, bson.M{"_id": id})
}

func (s *MongoStore) findUser(ctx context.Context, filter bson.M) (*models.User, error) {
	var u models.User
	err := s.users.FindOne(ctx, filter).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}

func (s *MongoStore) ListMechanics(ctx context.Context) ([]models.User, error) {
	opts := options.Find().SetSort(bson.D{{Key: "mechanicProfile.rating", Value: -1}, {Key: "name", Value: 1}})
	cur, err := s.users.Find(ctx, bson.M{"role": string(models.RoleMechanic)}, opts)
	if err != nil {
		return nil, fmt.Errorf("find mechanics: %w", err)
	}
	users := []models.User{}
	if err := cur.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("decode mechanics: %w", err)
	}
	return users, nil
}

var (
	_ Store = (*SQLStore)(nil)
	_ Store = (*MongoStore)(nil)
)
