package policy

import "time"

// Policy is the per-permission-level policy row. Read-only at grant
// evaluation time; changing a row does not retroactively affect existing
// grants.
type Policy struct {
	PermissionLevel     string    `json:"permission_level" gorm:"primaryKey;column:permission_level"`
	DefaultDurationDays int       `json:"default_duration_days" gorm:"column:default_duration_days;not null"`
	AutoApprove         bool      `json:"auto_approve" gorm:"column:auto_approve;not null"`
	UpdatedAt           time.Time `json:"updated_at" gorm:"column:updated_at;default:now()"`
}

func (Policy) TableName() string {
	return "policies"
}
