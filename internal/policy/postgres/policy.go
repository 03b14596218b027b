package postgres

import (
	"time"

	policyDatamodel "github.com/nandasafiqal/access-grant-management/internal/core/datamodel/policy"
	"github.com/nandasafiqal/access-grant-management/internal/policy"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PolicyRepository implements the policy.Repository interface using GORM
type PolicyRepository struct {
	db *gorm.DB
}

func NewPolicyRepository(db *gorm.DB) policy.Repository {
	return &PolicyRepository{db: db}
}

func (r *PolicyRepository) GetByLevel(level string) (*policyDatamodel.Policy, error) {
	var p policyDatamodel.Policy
	if err := r.db.Where("permission_level = ?", level).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PolicyRepository) Upsert(p *policyDatamodel.Policy) error {
	p.UpdatedAt = time.Now()
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "permission_level"}},
		DoUpdates: clause.AssignmentColumns([]string{"default_duration_days", "auto_approve", "updated_at"}),
	}).Create(p).Error
}

func (r *PolicyRepository) ListAll() ([]*policyDatamodel.Policy, error) {
	var policies []*policyDatamodel.Policy
	err := r.db.Order("permission_level ASC").Find(&policies).Error
	return policies, err
}
