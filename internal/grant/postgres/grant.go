package postgres

import (
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	internal "github.com/nandasafiqal/access-grant-management/internal"
	auditDatamodel "github.com/nandasafiqal/access-grant-management/internal/core/datamodel/audit"
	grantDatamodel "github.com/nandasafiqal/access-grant-management/internal/core/datamodel/grant"
	"github.com/nandasafiqal/access-grant-management/internal/grant"
	"gorm.io/gorm"
)

// GrantRepository implements the grant.Repository interface using GORM
type GrantRepository struct {
	db *gorm.DB
}

func NewGrantRepository(db *gorm.DB) grant.Repository {
	return &GrantRepository{db: db}
}

// Create inserts the grant and, when provided, its audit entry in one
// transaction. Unique index violations come back as the service's duplicate
// sentinels so the race windows left by its pre-checks are still closed here.
func (r *GrantRepository) Create(g *grantDatamodel.Grant, entry *auditDatamodel.Entry) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(g).Error; err != nil {
			return err
		}
		if entry != nil {
			entry.GrantID = g.ID
			if err := tx.Create(entry).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return translateDuplicate(err)
}

func (r *GrantRepository) GetByID(id string) (*grantDatamodel.Grant, error) {
	var g grantDatamodel.Grant
	err := r.db.Where("id = ?", id).First(&g).Error
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *GrantRepository) GetByIdempotencyKey(clientID, key string) (*grantDatamodel.Grant, error) {
	var g grantDatamodel.Grant
	err := r.db.Where("client_id = ? AND idempotency_key = ?", clientID, key).First(&g).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &g, nil
}

func (r *GrantRepository) FindActiveByTuple(subjectEmail, accountID, propertyID, level string) (*grantDatamodel.Grant, error) {
	var g grantDatamodel.Grant
	err := r.db.Where(
		"subject_email = ? AND account_id = ? AND property_id = ? AND permission_level = ? AND grant_status = ?",
		subjectEmail, accountID, propertyID, level, grant.StatusActive,
	).First(&g).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &g, nil
}

func (r *GrantRepository) ListByStatus(status string, limit, offset int) ([]*grantDatamodel.Grant, error) {
	var grants []*grantDatamodel.Grant
	err := r.db.Where("grant_status = ?", status).
		Order("created_at ASC"). // FIFO for approval queues
		Limit(limit).
		Offset(offset).
		Find(&grants).Error
	return grants, err
}

func (r *GrantRepository) ListBySubject(subjectEmail string, limit, offset int) ([]*grantDatamodel.Grant, error) {
	var grants []*grantDatamodel.Grant
	err := r.db.Where("subject_email = ?", subjectEmail).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&grants).Error
	return grants, err
}

func (r *GrantRepository) ListActive() ([]*grantDatamodel.Grant, error) {
	var grants []*grantDatamodel.Grant
	err := r.db.Where("grant_status = ?", grant.StatusActive).
		Order("expires_at ASC").
		Find(&grants).Error
	return grants, err
}

func (r *GrantRepository) ListExpiringWithin(before time.Time) ([]*grantDatamodel.Grant, error) {
	var grants []*grantDatamodel.Grant
	err := r.db.Where("grant_status = ? AND expires_at <= ?", grant.StatusActive, before).
		Order("expires_at ASC").
		Find(&grants).Error
	return grants, err
}

// Transition persists a state change optimistically: the update only lands if
// the row still holds the expected status and version, and the audit entry
// goes in the same transaction. Zero rows means someone else moved the grant
// first and the caller must reload.
func (r *GrantRepository) Transition(g *grantDatamodel.Grant, fromStatus string, entry *auditDatamodel.Entry) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&grantDatamodel.Grant{}).
			Where("id = ? AND grant_status = ? AND version = ?", g.ID, fromStatus, g.Version).
			Updates(map[string]interface{}{
				"grant_status":         g.GrantStatus,
				"approved_by":          g.ApprovedBy,
				"status_reason":        g.StatusReason,
				"expires_at":           g.ExpiresAt,
				"external_binding_ref": g.ExternalBindingRef,
				"last_notified_type":   g.LastNotifiedType,
				"last_notified_at":     g.LastNotifiedAt,
				"requested_days":       g.RequestedDays,
				"version":              g.Version + 1,
				"updated_at":           g.UpdatedAt,
			})
		if result.Error != nil {
			return translateDuplicate(result.Error)
		}
		if result.RowsAffected == 0 {
			return internal.ErrStaleGrant
		}
		if entry != nil {
			if err := tx.Create(entry).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// AdvanceMilestone moves the notification marker forward with a compare and
// swap on its previous value. A false return means another sweep advanced the
// marker first and this notification was already handled.
func (r *GrantRepository) AdvanceMilestone(grantID string, from *string, to string, at time.Time) (bool, error) {
	query := r.db.Model(&grantDatamodel.Grant{}).
		Where("id = ? AND grant_status = ?", grantID, grant.StatusActive)
	if from == nil {
		query = query.Where("last_notified_type IS NULL")
	} else {
		query = query.Where("last_notified_type = ?", *from)
	}

	result := query.Updates(map[string]interface{}{
		"last_notified_type": to,
		"last_notified_at":   at,
		"updated_at":         at,
	})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// translateDuplicate maps unique index violations onto the service's
// duplicate sentinels. Postgres reports SQLSTATE 23505 with the index name;
// the sqlite driver used in tests only gives us the message text.
func translateDuplicate(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		if strings.Contains(pgErr.ConstraintName, "idempotency") {
			return grant.ErrDuplicateIdempotencyKey
		}
		return grant.ErrDuplicateActiveGrant
	}

	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key value") {
		if strings.Contains(msg, "idempotency") {
			return grant.ErrDuplicateIdempotencyKey
		}
		return grant.ErrDuplicateActiveGrant
	}
	return err
}
