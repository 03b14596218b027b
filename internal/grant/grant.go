package grant

import (
	"time"

	grantDatamodel "github.com/nandasafiqal/access-grant-management/internal/core/datamodel/grant"
)

type Grant struct {
	ID                 string     `json:"id"`
	ClientID           string     `json:"client_id"`
	SubjectEmail       string     `json:"subject_email"`
	AccountID          string     `json:"account_id"`
	PropertyID         string     `json:"property_id"`
	PermissionLevel    string     `json:"permission_level"`
	GrantStatus        string     `json:"grant_status"`
	RequestedDays      int        `json:"requested_days"`
	Justification      string     `json:"justification"`
	IdempotencyKey     *string    `json:"idempotency_key,omitempty"`
	RequestedBy        string     `json:"requested_by"`
	ApprovedBy         *string    `json:"approved_by,omitempty"`
	StatusReason       *string    `json:"status_reason,omitempty"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	ExternalBindingRef *string    `json:"external_binding_ref,omitempty"`
	LastNotifiedType   *string    `json:"last_notified_type,omitempty"`
	LastNotifiedAt     *time.Time `json:"last_notified_at,omitempty"`
	Version            int64      `json:"-"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Grant status constants. No transition ever targets pending_approval except
// creation; expired, revoked and rejected are terminal and retained for audit.
const (
	StatusPendingApproval = "pending_approval"
	StatusActive          = "active"
	StatusRejected        = "rejected"
	StatusExpired         = "expired"
	StatusRevoked         = "revoked"
)

// Permission levels, ordered weakest to strongest.
const (
	LevelViewer        = "viewer"
	LevelAnalyst       = "analyst"
	LevelEditor        = "editor"
	LevelAdministrator = "administrator"
)

var levelRank = map[string]int{
	LevelViewer:        1,
	LevelAnalyst:       2,
	LevelEditor:        3,
	LevelAdministrator: 4,
}

func ValidLevel(level string) bool {
	_, ok := levelRank[level]
	return ok
}

// Notification template types. The expiry_* sequence is ordered; a grant's
// last_notified_type only ever advances through it (extend resets it so the
// grant re-enters the countdown).
const (
	NotifyWelcome     = "welcome"
	NotifyApproved    = "approved"
	NotifyRejected    = "rejected"
	NotifyRevoked     = "revoked"
	NotifyExpiry30    = "expiry_30"
	NotifyExpiry7     = "expiry_7"
	NotifyExpiry1     = "expiry_1"
	NotifyExpiryToday = "expiry_today"
	NotifyExpired     = "expired"
)

var milestoneRank = map[string]int{
	NotifyExpiry30:    1,
	NotifyExpiry7:     2,
	NotifyExpiry1:     3,
	NotifyExpiryToday: 4,
	NotifyExpired:     5,
}

// MilestoneRank returns the position of a milestone in the expiry countdown
// sequence; nil (never notified) ranks below every milestone.
func MilestoneRank(milestone *string) int {
	if milestone == nil {
		return 0
	}
	return milestoneRank[*milestone]
}

// MilestoneAt computes the countdown milestone an active grant sits in at the
// given instant. The boolean is false while the grant is more than 30 days
// out and no milestone applies.
func MilestoneAt(expiresAt, now time.Time) (string, bool) {
	if !now.Before(expiresAt) {
		return NotifyExpired, true
	}
	daysRemaining := int(expiresAt.Sub(now) / (24 * time.Hour))
	switch {
	case daysRemaining > 30:
		return "", false
	case daysRemaining >= 8:
		return NotifyExpiry30, true
	case daysRemaining >= 2:
		return NotifyExpiry7, true
	case daysRemaining == 1:
		return NotifyExpiry1, true
	default:
		return NotifyExpiryToday, true
	}
}

// Clock supplies the current time; injected so expiry arithmetic is
// deterministic under test.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

func (g *Grant) CanBeApproved() bool {
	return g.GrantStatus == StatusPendingApproval
}

func (g *Grant) CanBeRejected() bool {
	return g.GrantStatus == StatusPendingApproval
}

func (g *Grant) IsActive() bool {
	return g.GrantStatus == StatusActive
}

// Activate moves the grant to active with the binding reference and expiry
// computed by the caller. ExpiresAt and ExternalBindingRef are set together
// with the status so the row never carries a binding that disagrees with it.
func (g *Grant) Activate(bindingRef string, expiresAt time.Time, approvedBy *string, now time.Time) {
	g.GrantStatus = StatusActive
	g.ExternalBindingRef = &bindingRef
	g.ExpiresAt = &expiresAt
	g.ApprovedBy = approvedBy
	g.UpdatedAt = now
}

func (g *Grant) Reject(reason string, now time.Time) {
	g.GrantStatus = StatusRejected
	g.StatusReason = &reason
	g.UpdatedAt = now
}

// Close moves an active grant to a terminal state (revoked or expired) after
// the external binding has been removed, clearing expiry and binding
// reference in the same update.
func (g *Grant) Close(status string, reason *string, now time.Time) {
	g.GrantStatus = status
	g.StatusReason = reason
	g.ExpiresAt = nil
	g.ExternalBindingRef = nil
	g.UpdatedAt = now
}

// ExtendExpiry pushes the expiry out by additionalDays from whichever is
// later, now or the current expiry, and resets the notification countdown.
func (g *Grant) ExtendExpiry(additionalDays int, now time.Time) {
	base := now
	if g.ExpiresAt != nil && g.ExpiresAt.After(now) {
		base = *g.ExpiresAt
	}
	newExpiry := base.AddDate(0, 0, additionalDays)
	g.ExpiresAt = &newExpiry
	g.LastNotifiedType = nil
	g.LastNotifiedAt = nil
	g.UpdatedAt = now
}

func NewGrant(id string, dto CreateGrantDTO, requestedBy string, now time.Time) *Grant {
	g := &Grant{
		ID:              id,
		ClientID:        dto.ClientID,
		SubjectEmail:    dto.SubjectEmail,
		AccountID:       dto.AccountID,
		PropertyID:      dto.PropertyID,
		PermissionLevel: dto.PermissionLevel,
		GrantStatus:     StatusPendingApproval,
		RequestedDays:   dto.DurationDays,
		Justification:   dto.Justification,
		RequestedBy:     requestedBy,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if dto.IdempotencyKey != "" {
		key := dto.IdempotencyKey
		g.IdempotencyKey = &key
	}
	return g
}

func ToDataModel(g *Grant) *grantDatamodel.Grant {
	return &grantDatamodel.Grant{
		ID:                 g.ID,
		ClientID:           g.ClientID,
		SubjectEmail:       g.SubjectEmail,
		AccountID:          g.AccountID,
		PropertyID:         g.PropertyID,
		PermissionLevel:    g.PermissionLevel,
		GrantStatus:        g.GrantStatus,
		RequestedDays:      g.RequestedDays,
		Justification:      g.Justification,
		IdempotencyKey:     g.IdempotencyKey,
		RequestedBy:        g.RequestedBy,
		ApprovedBy:         g.ApprovedBy,
		StatusReason:       g.StatusReason,
		ExpiresAt:          g.ExpiresAt,
		ExternalBindingRef: g.ExternalBindingRef,
		LastNotifiedType:   g.LastNotifiedType,
		LastNotifiedAt:     g.LastNotifiedAt,
		Version:            g.Version,
		CreatedAt:          g.CreatedAt,
		UpdatedAt:          g.UpdatedAt,
	}
}

func FromDataModel(g *grantDatamodel.Grant) *Grant {
	return &Grant{
		ID:                 g.ID,
		ClientID:           g.ClientID,
		SubjectEmail:       g.SubjectEmail,
		AccountID:          g.AccountID,
		PropertyID:         g.PropertyID,
		PermissionLevel:    g.PermissionLevel,
		GrantStatus:        g.GrantStatus,
		RequestedDays:      g.RequestedDays,
		Justification:      g.Justification,
		IdempotencyKey:     g.IdempotencyKey,
		RequestedBy:        g.RequestedBy,
		ApprovedBy:         g.ApprovedBy,
		StatusReason:       g.StatusReason,
		ExpiresAt:          g.ExpiresAt,
		ExternalBindingRef: g.ExternalBindingRef,
		LastNotifiedType:   g.LastNotifiedType,
		LastNotifiedAt:     g.LastNotifiedAt,
		Version:            g.Version,
		CreatedAt:          g.CreatedAt,
		UpdatedAt:          g.UpdatedAt,
	}
}

func FromDataModelSlice(grants []*grantDatamodel.Grant) []*Grant {
	result := make([]*Grant, len(grants))
	for i, g := range grants {
		result[i] = FromDataModel(g)
	}
	return result
}
