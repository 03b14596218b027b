package policy

import (
	"fmt"
	"log/slog"

	internal "github.com/nandasafiqal/access-grant-management/internal"
	policyDatamodel "github.com/nandasafiqal/access-grant-management/internal/core/datamodel/policy"
	"github.com/nandasafiqal/access-grant-management/internal/grant"
)

// Repository defines data access for per-level policy rows.
type Repository interface {
	GetByLevel(level string) (*policyDatamodel.Policy, error)
	Upsert(p *policyDatamodel.Policy) error
	ListAll() ([]*policyDatamodel.Policy, error)
}

// Defaults returns the seed policy table. Viewer and analyst activate without
// review; editor and administrator always go through manual approval.
func Defaults() []*policyDatamodel.Policy {
	return []*policyDatamodel.Policy{
		{PermissionLevel: grant.LevelViewer, DefaultDurationDays: 30, AutoApprove: true},
		{PermissionLevel: grant.LevelAnalyst, DefaultDurationDays: 60, AutoApprove: true},
		{PermissionLevel: grant.LevelEditor, DefaultDurationDays: 7, AutoApprove: false},
		{PermissionLevel: grant.LevelAdministrator, DefaultDurationDays: 7, AutoApprove: false},
	}
}

// Store answers policy questions for the lifecycle manager. Lookups miss the
// table only when a level was never seeded; that is a configuration error,
// not a fallback case.
type Store struct {
	repo   Repository
	logger *slog.Logger
}

func NewStore(repo Repository, logger *slog.Logger) *Store {
	return &Store{repo: repo, logger: logger}
}

func (s *Store) DefaultDurationDays(level string) (int, error) {
	p, err := s.repo.GetByLevel(level)
	if err != nil {
		s.logger.Error("policy lookup failed", "error", err, "permission_level", level)
		return 0, fmt.Errorf("no policy for permission level %q: %w", level, err)
	}
	return p.DefaultDurationDays, nil
}

func (s *Store) IsAutoApprovable(level string) (bool, error) {
	p, err := s.repo.GetByLevel(level)
	if err != nil {
		s.logger.Error("policy lookup failed", "error", err, "permission_level", level)
		return false, fmt.Errorf("no policy for permission level %q: %w", level, err)
	}
	return p.AutoApprove, nil
}

func (s *Store) List() ([]*policyDatamodel.Policy, error) {
	return s.repo.ListAll()
}

// Update rewrites the policy row for a level. Changes apply to future grant
// requests only; nothing already issued is touched.
func (s *Store) Update(level string, defaultDurationDays int, autoApprove bool) (*policyDatamodel.Policy, error) {
	if !grant.ValidLevel(level) {
		return nil, internal.NewValidationError("unknown permission level", internal.ErrCodeInvalidLevel)
	}
	if defaultDurationDays < 1 || defaultDurationDays > 365 {
		return nil, internal.NewValidationError("default duration must be between 1 and 365 days", internal.ErrCodeInvalidDuration)
	}

	p := &policyDatamodel.Policy{
		PermissionLevel:     level,
		DefaultDurationDays: defaultDurationDays,
		AutoApprove:         autoApprove,
	}
	if err := s.repo.Upsert(p); err != nil {
		s.logger.Error("policy update failed", "error", err, "permission_level", level)
		return nil, internal.NewInternalError("failed to update policy", err)
	}

	s.logger.Info("policy updated",
		"permission_level", level,
		"default_duration_days", defaultDurationDays,
		"auto_approve", autoApprove)
	return p, nil
}
