package postgres

import (
	"github.com/nandasafiqal/access-grant-management/internal/audit"
	auditDatamodel "github.com/nandasafiqal/access-grant-management/internal/core/datamodel/audit"
	"gorm.io/gorm"
)

// AuditRepository implements the audit.Repository interface using GORM
type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) audit.Repository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) ListByGrantID(grantID string, limit, offset int) ([]*auditDatamodel.Entry, error) {
	var entries []*auditDatamodel.Entry
	err := r.db.Where("grant_id = ?", grantID).
		Order("id ASC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error
	return entries, err
}
