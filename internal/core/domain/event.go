package domain

import "time"

// AuthEventType names an entry in the audit trail.
type AuthEventType string

const (
	EventUserRegistered     AuthEventType = "user.registered"
	EventLoginSucceeded     AuthEventType = "user.login_succeeded"
	EventLoginFailed        AuthEventType = "user.login_failed"
	EventRateLimited        AuthEventType = "auth.rate_limited"
	EventSessionRevoked     AuthEventType = "session.revoked"
	EventStaleTokenRejected AuthEventType = "token.user_missing"
)

// AuthEvent is emitted by the gateway after each decision it makes.
type AuthEvent struct {
	ID         string        `json:"id" bson:"_id"`
	Type       AuthEventType `json:"type" bson:"type"`
	UserID     int64         `json:"userId,omitempty" bson:"user_id,omitempty"`
	Email      string        `json:"email,omitempty" bson:"email,omitempty"`
	ClientAddr string        `json:"clientAddr,omitempty" bson:"client_addr,omitempty"`
	Reason     string        `json:"reason,omitempty" bson:"reason,omitempty"`
	At         time.Time     `json:"at" bson:"at"`
}
