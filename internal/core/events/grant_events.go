package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeGrantActivated = "grant.activated"
	EventTypeGrantRejected  = "grant.rejected"
	EventTypeGrantRevoked   = "grant.revoked"
	EventTypeGrantExpired   = "grant.expired"
)

// GrantSnapshot carries everything a notification needs, copied from the
// grant row at transition time so no lookups happen at send time.
type GrantSnapshot struct {
	GrantID         string     `json:"grant_id"`
	ClientID        string     `json:"client_id"`
	SubjectEmail    string     `json:"subject_email"`
	AccountID       string     `json:"account_id"`
	PropertyID      string     `json:"property_id"`
	PermissionLevel string     `json:"permission_level"`
	RequestedBy     string     `json:"requested_by"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	StatusReason    *string    `json:"status_reason,omitempty"`
}

type GrantActivatedEvent struct {
	BaseEvent
	Grant GrantSnapshot `json:"grant"`
	// AutoApproved distinguishes the welcome notification (creation path)
	// from the approved notification (manual review path).
	AutoApproved bool `json:"auto_approved"`
}

func NewGrantActivatedEvent(snapshot GrantSnapshot, autoApproved bool) *GrantActivatedEvent {
	return &GrantActivatedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeGrantActivated,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"grant_id":      snapshot.GrantID,
				"subject_email": snapshot.SubjectEmail,
				"auto_approved": autoApproved,
			},
		},
		Grant:        snapshot,
		AutoApproved: autoApproved,
	}
}

type GrantRejectedEvent struct {
	BaseEvent
	Grant GrantSnapshot `json:"grant"`
}

func NewGrantRejectedEvent(snapshot GrantSnapshot) *GrantRejectedEvent {
	return &GrantRejectedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeGrantRejected,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"grant_id":      snapshot.GrantID,
				"subject_email": snapshot.SubjectEmail,
			},
		},
		Grant: snapshot,
	}
}

type GrantRevokedEvent struct {
	BaseEvent
	Grant GrantSnapshot `json:"grant"`
}

func NewGrantRevokedEvent(snapshot GrantSnapshot) *GrantRevokedEvent {
	return &GrantRevokedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeGrantRevoked,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"grant_id":      snapshot.GrantID,
				"subject_email": snapshot.SubjectEmail,
			},
		},
		Grant: snapshot,
	}
}

type GrantExpiredEvent struct {
	BaseEvent
	Grant GrantSnapshot `json:"grant"`
}

func NewGrantExpiredEvent(snapshot GrantSnapshot) *GrantExpiredEvent {
	return &GrantExpiredEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeGrantExpired,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"grant_id":      snapshot.GrantID,
				"subject_email": snapshot.SubjectEmail,
			},
		},
		Grant: snapshot,
	}
}
