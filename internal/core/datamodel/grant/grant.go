package grant

import (
	"time"
)

// Grant is the persistence model for an access grant row.
//
// Invariants enforced at this layer:
//   - a partial unique index over (subject_email, account_id, property_id,
//     permission_level) where grant_status = 'active' backs the
//     one-active-grant rule;
//   - Version backs optimistic concurrency on every status transition;
//   - ExpiresAt and ExternalBindingRef are non-null exactly while the row is
//     active.
type Grant struct {
	ID                 string     `json:"id" gorm:"primaryKey"`
	ClientID           string     `json:"client_id" gorm:"column:client_id;not null"`
	SubjectEmail       string     `json:"subject_email" gorm:"column:subject_email;not null"`
	AccountID          string     `json:"account_id" gorm:"column:account_id;not null"`
	PropertyID         string     `json:"property_id" gorm:"column:property_id;not null"`
	PermissionLevel    string     `json:"permission_level" gorm:"column:permission_level;not null"`
	GrantStatus        string     `json:"grant_status" gorm:"column:grant_status;default:pending_approval"`
	RequestedDays      int        `json:"requested_days" gorm:"column:requested_days"`
	Justification      string     `json:"justification" gorm:"column:justification"`
	IdempotencyKey     *string    `json:"idempotency_key,omitempty" gorm:"column:idempotency_key"`
	RequestedBy        string     `json:"requested_by" gorm:"column:requested_by;not null"`
	ApprovedBy         *string    `json:"approved_by,omitempty" gorm:"column:approved_by"`
	StatusReason       *string    `json:"status_reason,omitempty" gorm:"column:status_reason"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty" gorm:"column:expires_at"`
	ExternalBindingRef *string    `json:"external_binding_ref,omitempty" gorm:"column:external_binding_ref"`
	LastNotifiedType   *string    `json:"last_notified_type,omitempty" gorm:"column:last_notified_type"`
	LastNotifiedAt     *time.Time `json:"last_notified_at,omitempty" gorm:"column:last_notified_at"`
	Version            int64      `json:"-" gorm:"column:version;default:1"`
	CreatedAt          time.Time  `json:"created_at" gorm:"column:created_at;default:now()"`
	UpdatedAt          time.Time  `json:"updated_at" gorm:"column:updated_at;default:now()"`
}

func (Grant) TableName() string {
	return "grants"
}
