package audit

import (
	"encoding/json"
	"time"

	auditDatamodel "github.com/nandasafiqal/access-grant-management/internal/core/datamodel/audit"
)

// Audited actions.
const (
	ActionCreate  = "create"
	ActionApprove = "approve"
	ActionReject  = "reject"
	ActionExtend  = "extend"
	ActionRevoke  = "revoke"
	ActionExpire  = "expire"
)

// ActorSystem marks transitions driven by the scheduler rather than a person.
const ActorSystem = "system"

// Repository defines read access to the audit trail. Writes never go through
// it: entries are inserted by the grant repository inside the same
// transaction as the transition they describe.
type Repository interface {
	ListByGrantID(grantID string, limit, offset int) ([]*auditDatamodel.Entry, error)
}

// NewEntry builds an audit entry; detail is marshaled to JSON so free-form
// context survives as one column.
func NewEntry(grantID, actor, action, beforeStatus, afterStatus string, detail map[string]interface{}) *auditDatamodel.Entry {
	detailJSON := ""
	if len(detail) > 0 {
		if b, err := json.Marshal(detail); err == nil {
			detailJSON = string(b)
		}
	}
	return &auditDatamodel.Entry{
		GrantID:      grantID,
		Actor:        actor,
		Action:       action,
		BeforeStatus: beforeStatus,
		AfterStatus:  afterStatus,
		Detail:       detailJSON,
		CreatedAt:    time.Now(),
	}
}
