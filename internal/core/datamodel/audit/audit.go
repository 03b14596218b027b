package audit

import "time"

// Entry is one immutable audit record. Rows are appended in the same database
// transaction as the grant transition they describe and are never updated or
// deleted.
type Entry struct {
	ID           int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	GrantID      string    `json:"grant_id" gorm:"column:grant_id;index;not null"`
	Actor        string    `json:"actor" gorm:"column:actor;not null"`
	Action       string    `json:"action" gorm:"column:action;not null"`
	BeforeStatus string    `json:"before_status" gorm:"column:before_status"`
	AfterStatus  string    `json:"after_status" gorm:"column:after_status;not null"`
	Detail       string    `json:"detail" gorm:"column:detail"`
	CreatedAt    time.Time `json:"created_at" gorm:"column:created_at;default:now()"`
}

func (Entry) TableName() string {
	return "audit_entries"
}
