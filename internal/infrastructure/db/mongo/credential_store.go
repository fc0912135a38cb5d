package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/opsdash/authgate/internal/core/domain"
)

const (
	usersCollection    = "users"
	countersCollection = "counters"
	usersCounterID     = "users"
)

// CredentialStore keeps users in MongoDB. Numeric ids come from a counters
// document so tokens carry the same integer ids as the SQL backend.
type CredentialStore struct {
	users    *mongo.Collection
	counters *mongo.Collection
}

func NewCredentialStore(db *mongo.Database) *CredentialStore {
	return &CredentialStore{
		users:    db.Collection(usersCollection),
		counters: db.Collection(countersCollection),
	}
}

type mongoUser struct {
	ID           int64     `bson:"_id"`
	Email        string    `bson:"email"`
	PasswordHash string    `bson:"password_hash"`
	PasswordSalt string    `bson:"password_salt"`
	Name         *string   `bson:"name,omitempty"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

func (u mongoUser) toDomain() *domain.UserCredential {
	return &domain.UserCredential{
		ID:           u.ID,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		PasswordSalt: u.PasswordSalt,
		Name:         u.Name,
		CreatedAt:    u.CreatedAt.UTC(),
	}
}

// EnsureIndexes creates the unique email index that arbitrates concurrent
// signups.
func (s *CredentialStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("email_unique"),
	})
	if err != nil {
		return fmt.Errorf("create users email index: %w", err)
	}
	return nil
}

func (s *CredentialStore) FindByEmail(ctx context.Context, email string) (*domain.UserCredential, error) {
	return s.findOne(ctx, bson.M{"email": email})
}

func (s *CredentialStore) FindByID(ctx context.Context, id int64) (*domain.UserCredential, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

func (s *CredentialStore) findOne(ctx context.Context, filter bson.M) (*domain.UserCredential, error) {
	var mu mongoUser
	if err := s.users.FindOne(ctx, filter).Decode(&mu); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return mu.toDomain(), nil
}

func (s *CredentialStore) Create(ctx context.Context, user *domain.UserCredential) (*domain.UserCredential, error) {
	id, err := s.nextID(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	doc := mongoUser{
		ID:           id,
		Email:        user.Email,
		PasswordHash: user.PasswordHash,
		PasswordSalt: user.PasswordSalt,
		Name:         user.Name,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, domain.ErrUserExists
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return doc.toDomain(), nil
}

func (s *CredentialStore) nextID(ctx context.Context) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": usersCounterID},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("allocate user id: %w", err)
	}
	return counter.Seq, nil
}
