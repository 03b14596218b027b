package grant

import (
	errors "github.com/nandasafiqal/access-grant-management/internal"
	"github.com/nandasafiqal/access-grant-management/internal/core/common/validation"
)

// CreateGrantDTO is the request payload for requesting access. The edge layer
// has already checked shape; business constraints are re-checked here.
type CreateGrantDTO struct {
	ClientID        string `json:"client_id" validate:"required"`
	SubjectEmail    string `json:"subject_email" validate:"required,email"`
	AccountID       string `json:"account_id" validate:"required"`
	PropertyID      string `json:"property_id" validate:"required"`
	PermissionLevel string `json:"permission_level" validate:"required"`
	// DurationDays zero means "use the policy default for the level".
	DurationDays   int    `json:"duration_days,omitempty"`
	Justification  string `json:"justification" validate:"max=500"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

func (dto CreateGrantDTO) Validate() *errors.AppError {
	v := validation.NewValidator()
	v.Field("client_id", dto.ClientID).Required()
	v.Field("subject_email", dto.SubjectEmail).Required().Email()
	v.Field("account_id", dto.AccountID).Required()
	v.Field("property_id", dto.PropertyID).Required()
	v.Field("permission_level", dto.PermissionLevel).
		Required().
		OneOf([]string{LevelViewer, LevelAnalyst, LevelEditor, LevelAdministrator}, errors.ErrCodeInvalidLevel)
	if dto.DurationDays != 0 {
		v.Field("duration_days", dto.DurationDays).
			MinInt(1, errors.ErrCodeInvalidDuration).
			MaxInt(365, errors.ErrCodeInvalidDuration)
	}
	v.Field("justification", dto.Justification).MaxLength(500)
	return v.Validate()
}

type ApproveGrantDTO struct {
	Notes string `json:"notes,omitempty"`
}

type RejectGrantDTO struct {
	Reason string `json:"reason" validate:"required"`
}

func (dto RejectGrantDTO) Validate() *errors.AppError {
	v := validation.NewValidator()
	v.Field("reason", dto.Reason).Required().MaxLength(500)
	return v.Validate()
}

type ExtendGrantDTO struct {
	AdditionalDays int `json:"additional_days" validate:"required,min=1"`
}

func (dto ExtendGrantDTO) Validate() *errors.AppError {
	v := validation.NewValidator()
	v.Field("additional_days", dto.AdditionalDays).
		Required().
		MinInt(1, errors.ErrCodeInvalidDuration).
		MaxInt(365, errors.ErrCodeInvalidDuration)
	return v.Validate()
}

type RevokeGrantDTO struct {
	Reason string `json:"reason" validate:"required"`
}

func (dto RevokeGrantDTO) Validate() *errors.AppError {
	v := validation.NewValidator()
	v.Field("reason", dto.Reason).Required().MaxLength(500)
	return v.Validate()
}
