package ports

import (
	"context"

	"github.com/opsdash/authgate/internal/core/domain"
)

// AuditRecorder accepts audit events without blocking the caller.
type AuditRecorder interface {
	Enqueue(event domain.AuthEvent)
}

// AuditSink persists or forwards a single audit event.
type AuditSink interface {
	Record(ctx context.Context, event domain.AuthEvent) error
}

// AuditService processes dequeued audit events.
type AuditService interface {
	Process(ctx context.Context, event domain.AuthEvent) error
}
