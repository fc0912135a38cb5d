package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/opsdash/authgate/internal/core/domain"
)

const auditCollection = "auth_events"

// AuditRepository appends audit events to the auth_events collection.
type AuditRepository struct {
	coll *mongo.Collection
}

func NewAuditRepository(db *mongo.Database) *AuditRepository {
	return &AuditRepository{coll: db.Collection(auditCollection)}
}

func (r *AuditRepository) Record(ctx context.Context, ev domain.AuthEvent) error {
	if _, err := r.coll.InsertOne(ctx, ev); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// Redelivery of an event that already landed.
			return nil
		}
		return fmt.Errorf("insert audit event %s: %w", ev.ID, err)
	}
	return nil
}
