package types

import "time"

// UserEventType names a user lifecycle transition.
type UserEventType string

const (
	UserRegistered UserEventType = "user.registered"
	UserUpdated    UserEventType = "user.updated"
	UserDeleted    UserEventType = "user.deleted"
)

// UserEvent is published after a user record is created, changed or removed.
type UserEvent struct {
	Type       UserEventType `json:"type"`
	UserID     string        `json:"user_id"`
	Username   string        `json:"username"`
	Role       Role          `json:"role"`
	OccurredAt time.Time     `json:"occurred_at"`
}
