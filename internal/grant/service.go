package grant

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	internal "github.com/nandasafiqal/access-grant-management/internal"
	"github.com/nandasafiqal/access-grant-management/internal/audit"
	"github.com/nandasafiqal/access-grant-management/internal/auth"
	auditDatamodel "github.com/nandasafiqal/access-grant-management/internal/core/datamodel/audit"
	grantDatamodel "github.com/nandasafiqal/access-grant-management/internal/core/datamodel/grant"
	"github.com/nandasafiqal/access-grant-management/internal/core/events"
	"github.com/nandasafiqal/access-grant-management/internal/provider"
)

// Repository defines the data access methods for grants. Lookup methods that
// can legitimately miss (idempotency key, tuple) return nil, nil; GetByID
// returns an error the service maps to not-found.
type Repository interface {
	Create(g *grantDatamodel.Grant, entry *auditDatamodel.Entry) error
	GetByID(id string) (*grantDatamodel.Grant, error)
	GetByIdempotencyKey(clientID, key string) (*grantDatamodel.Grant, error)
	FindActiveByTuple(subjectEmail, accountID, propertyID, level string) (*grantDatamodel.Grant, error)
	ListByStatus(status string, limit, offset int) ([]*grantDatamodel.Grant, error)
	ListBySubject(subjectEmail string, limit, offset int) ([]*grantDatamodel.Grant, error)
	ListActive() ([]*grantDatamodel.Grant, error)
	ListExpiringWithin(before time.Time) ([]*grantDatamodel.Grant, error)
	Transition(g *grantDatamodel.Grant, fromStatus string, entry *auditDatamodel.Entry) error
	AdvanceMilestone(grantID string, from *string, to string, at time.Time) (bool, error)
}

// Sentinel errors the repository raises when the database rejects an insert
// on a unique index; the service turns them into replay or conflict answers.
var (
	ErrDuplicateActiveGrant    = errors.New("active grant already exists for subject, resource and level")
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
)

// ProviderGateway is the external authorization provider as the lifecycle
// manager sees it. Bind is idempotent on the key; Unbind succeeds on a
// reference the provider no longer knows.
type ProviderGateway interface {
	Bind(ctx context.Context, subjectEmail, accountID, propertyID, level, idempotencyKey string) (string, error)
	Unbind(ctx context.Context, bindingRef string) error
}

// PolicyStore answers approval-mode and duration questions per level.
type PolicyStore interface {
	DefaultDurationDays(level string) (int, error)
	IsAutoApprovable(level string) (bool, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
	PublishSync(ctx context.Context, event events.Event) error
}

// Service drives the grant state machine. Every transition is persisted
// optimistically (status and version guarded) with its audit entry in the same
// transaction, and provider work always happens before the local row moves so
// a provider failure leaves the grant in its pre-transition state.
type Service struct {
	repo        Repository
	gateway     ProviderGateway
	policies    PolicyStore
	auditRepo   audit.Repository
	permissions auth.PermissionChecker
	events      EventPublisher
	clock       Clock
	logger      *slog.Logger
}

func NewService(
	repo Repository,
	gateway ProviderGateway,
	policies PolicyStore,
	auditRepo audit.Repository,
	permissions auth.PermissionChecker,
	publisher EventPublisher,
	clock Clock,
	logger *slog.Logger,
) *Service {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Service{
		repo:        repo,
		gateway:     gateway,
		policies:    policies,
		auditRepo:   auditRepo,
		permissions: permissions,
		events:      publisher,
		clock:       clock,
		logger:      logger,
	}
}

// Snapshot copies the notification-relevant grant fields at transition time.
func Snapshot(g *Grant) events.GrantSnapshot {
	return events.GrantSnapshot{
		GrantID:         g.ID,
		ClientID:        g.ClientID,
		SubjectEmail:    g.SubjectEmail,
		AccountID:       g.AccountID,
		PropertyID:      g.PropertyID,
		PermissionLevel: g.PermissionLevel,
		RequestedBy:     g.RequestedBy,
		ExpiresAt:       g.ExpiresAt,
		StatusReason:    g.StatusReason,
	}
}

// CreateGrant requests access. Auto-approvable levels bind at the provider and
// activate in one call; the rest land in pending_approval. A repeated request
// with the same idempotency key returns the grant the first request produced.
func (s *Service) CreateGrant(ctx context.Context, actor *auth.Actor, dto CreateGrantDTO) (*Grant, error) {
	if err := dto.Validate(); err != nil {
		s.logger.Error("grant validation failed", "error", err, "subject", dto.SubjectEmail)
		return nil, err
	}

	if !s.permissions.CanRequestGrants(actor) || !s.permissions.CanAccessClient(actor, dto.ClientID) {
		s.logger.Warn("create grant denied: insufficient permissions",
			"actor", actor.Email, "client_id", dto.ClientID)
		return nil, internal.ErrUnauthorizedAccess
	}

	if dto.IdempotencyKey != "" {
		existing, err := s.repo.GetByIdempotencyKey(dto.ClientID, dto.IdempotencyKey)
		if err != nil {
			s.logger.Error("idempotency lookup failed", "error", err, "key", dto.IdempotencyKey)
			return nil, internal.NewInternalError("failed to check idempotency key", err)
		}
		if existing != nil {
			replayed := FromDataModel(existing)
			if replayed.GrantStatus == StatusPendingApproval {
				auto, policyErr := s.policies.IsAutoApprovable(replayed.PermissionLevel)
				if policyErr != nil {
					return nil, internal.NewInternalError("failed to resolve approval policy", policyErr)
				}
				if auto {
					// The original request persisted the row but lost the
					// provider before binding; this retry picks up where it
					// stopped.
					s.logger.Info("idempotent replay, resuming interrupted activation",
						"grant_id", replayed.ID, "key", dto.IdempotencyKey)
					return s.completeAutoApproval(ctx, actor, replayed)
				}
			}
			s.logger.Info("idempotent replay, returning existing grant",
				"grant_id", existing.ID, "key", dto.IdempotencyKey)
			return replayed, nil
		}
	}

	if conflictErr := s.checkActiveTuple(dto.SubjectEmail, dto.AccountID, dto.PropertyID, dto.PermissionLevel); conflictErr != nil {
		return nil, conflictErr
	}

	durationDays := dto.DurationDays
	if durationDays == 0 {
		d, err := s.policies.DefaultDurationDays(dto.PermissionLevel)
		if err != nil {
			return nil, internal.NewInternalError("failed to resolve grant duration policy", err)
		}
		durationDays = d
	}

	autoApprove, err := s.policies.IsAutoApprovable(dto.PermissionLevel)
	if err != nil {
		return nil, internal.NewInternalError("failed to resolve approval policy", err)
	}

	now := s.clock.Now()
	g := NewGrant(uuid.New().String(), dto, actor.Email, now)
	g.RequestedDays = durationDays

	if !autoApprove {
		entry := audit.NewEntry(g.ID, actor.Email, audit.ActionCreate, "", StatusPendingApproval,
			map[string]interface{}{"justification": dto.Justification, "requested_days": durationDays})
		if err := s.createWithDuplicateHandling(g, entry, dto); err != nil {
			return nil, err
		}

		s.logger.Info("grant created, awaiting approval",
			"grant_id", g.ID,
			"subject", g.SubjectEmail,
			"permission_level", g.PermissionLevel)
		return s.reload(g.ID)
	}

	// Auto-approve path: persist the pending row first so the provider call
	// has a stable grant id to use as its idempotency key.
	if err := s.createWithDuplicateHandling(g, nil, dto); err != nil {
		return nil, err
	}
	if g.GrantStatus != StatusPendingApproval {
		// Replayed a grant another request already carried forward.
		return s.reload(g.ID)
	}

	return s.completeAutoApproval(ctx, actor, g)
}

// completeAutoApproval binds a pending auto-approvable grant at the provider
// and moves it to active. The grant id doubles as the gateway idempotency key,
// so resuming a request whose bind previously failed replays the same binding
// instead of creating a second one.
func (s *Service) completeAutoApproval(ctx context.Context, actor *auth.Actor, g *Grant) (*Grant, error) {
	bindingRef, err := s.gateway.Bind(ctx, g.SubjectEmail, g.AccountID, g.PropertyID, g.PermissionLevel, g.ID)
	if err != nil {
		s.logger.Error("provider bind failed during auto-approval",
			"error", err, "grant_id", g.ID)
		return nil, s.mapProviderError("bind", err)
	}

	now := s.clock.Now()
	expiresAt := now.AddDate(0, 0, g.RequestedDays)
	g.Activate(bindingRef, expiresAt, nil, now)

	entry := audit.NewEntry(g.ID, actor.Email, audit.ActionCreate, "", StatusActive,
		map[string]interface{}{
			"justification":  g.Justification,
			"requested_days": g.RequestedDays,
			"auto_approved":  true,
			"binding_ref":    bindingRef,
		})
	if err := s.repo.Transition(ToDataModel(g), StatusPendingApproval, entry); err != nil {
		s.logger.Error("failed to activate auto-approved grant", "error", err, "grant_id", g.ID)
		return nil, s.mapRepoError(err)
	}

	s.logger.Info("grant auto-approved and activated",
		"grant_id", g.ID,
		"subject", g.SubjectEmail,
		"permission_level", g.PermissionLevel,
		"expires_at", expiresAt)

	activated, err := s.reload(g.ID)
	if err != nil {
		return nil, err
	}
	s.events.Publish(ctx, events.NewGrantActivatedEvent(Snapshot(activated), true))
	return activated, nil
}

// ApproveGrant activates a pending grant after manual review. The active
// tuple is re-checked because another grant for the same tuple may have
// activated while this one sat in the queue.
func (s *Service) ApproveGrant(ctx context.Context, actor *auth.Actor, grantID string, dto ApproveGrantDTO) (*Grant, error) {
	g, err := s.loadForReview(actor, grantID)
	if err != nil {
		return nil, err
	}

	if !g.CanBeApproved() {
		s.logger.Warn("cannot approve grant in current status",
			"grant_id", grantID, "current_status", g.GrantStatus)
		return nil, internal.ErrInvalidGrantStatus
	}

	if conflictErr := s.checkActiveTuple(g.SubjectEmail, g.AccountID, g.PropertyID, g.PermissionLevel); conflictErr != nil {
		return nil, conflictErr
	}

	bindingRef, err := s.gateway.Bind(ctx, g.SubjectEmail, g.AccountID, g.PropertyID, g.PermissionLevel, g.ID)
	if err != nil {
		s.logger.Error("provider bind failed during approval", "error", err, "grant_id", grantID)
		return nil, s.mapProviderError("bind", err)
	}

	now := s.clock.Now()
	expiresAt := now.AddDate(0, 0, g.RequestedDays)
	approver := actor.Email
	g.Activate(bindingRef, expiresAt, &approver, now)

	detail := map[string]interface{}{"binding_ref": bindingRef}
	if dto.Notes != "" {
		detail["notes"] = dto.Notes
	}
	entry := audit.NewEntry(g.ID, actor.Email, audit.ActionApprove, StatusPendingApproval, StatusActive, detail)
	if err := s.repo.Transition(ToDataModel(g), StatusPendingApproval, entry); err != nil {
		s.logger.Error("failed to persist approval", "error", err, "grant_id", grantID)
		return nil, s.mapRepoError(err)
	}

	s.logger.Info("grant approved",
		"grant_id", grantID,
		"approved_by", actor.Email,
		"expires_at", expiresAt)

	approved, err := s.reload(grantID)
	if err != nil {
		return nil, err
	}
	s.events.Publish(ctx, events.NewGrantActivatedEvent(Snapshot(approved), false))
	return approved, nil
}

// RejectGrant closes a pending grant without touching the provider; nothing
// was ever bound for it.
func (s *Service) RejectGrant(ctx context.Context, actor *auth.Actor, grantID string, dto RejectGrantDTO) (*Grant, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	g, err := s.loadForReview(actor, grantID)
	if err != nil {
		return nil, err
	}

	if !g.CanBeRejected() {
		s.logger.Warn("cannot reject grant in current status",
			"grant_id", grantID, "current_status", g.GrantStatus)
		return nil, internal.ErrInvalidGrantStatus
	}

	now := s.clock.Now()
	g.Reject(dto.Reason, now)

	entry := audit.NewEntry(g.ID, actor.Email, audit.ActionReject, StatusPendingApproval, StatusRejected,
		map[string]interface{}{"reason": dto.Reason})
	if err := s.repo.Transition(ToDataModel(g), StatusPendingApproval, entry); err != nil {
		s.logger.Error("failed to persist rejection", "error", err, "grant_id", grantID)
		return nil, s.mapRepoError(err)
	}

	s.logger.Info("grant rejected", "grant_id", grantID, "rejected_by", actor.Email, "reason", dto.Reason)

	rejected, err := s.reload(grantID)
	if err != nil {
		return nil, err
	}
	s.events.Publish(ctx, events.NewGrantRejectedEvent(Snapshot(rejected)))
	return rejected, nil
}

// ExtendGrant pushes an active grant's expiry out and resets its notification
// countdown. The provider binding is untouched; only the local schedule moves.
// Auto-approvable levels are self-service for the requester and the subject;
// the rest require approval authority.
func (s *Service) ExtendGrant(ctx context.Context, actor *auth.Actor, grantID string, dto ExtendGrantDTO) (*Grant, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	g, err := s.load(grantID)
	if err != nil {
		return nil, err
	}

	allowed, err := s.canExtend(actor, g)
	if err != nil {
		return nil, err
	}
	if !allowed {
		s.logger.Warn("extend grant denied: insufficient permissions",
			"actor", actor.Email, "grant_id", grantID)
		return nil, internal.ErrUnauthorizedAccess
	}

	if !g.IsActive() {
		s.logger.Warn("cannot extend grant in current status",
			"grant_id", grantID, "current_status", g.GrantStatus)
		return nil, internal.ErrInvalidGrantStatus
	}

	oldExpiry := *g.ExpiresAt
	now := s.clock.Now()
	g.ExtendExpiry(dto.AdditionalDays, now)

	entry := audit.NewEntry(g.ID, actor.Email, audit.ActionExtend, StatusActive, StatusActive,
		map[string]interface{}{
			"additional_days": dto.AdditionalDays,
			"old_expires_at":  oldExpiry,
			"new_expires_at":  *g.ExpiresAt,
		})
	if err := s.repo.Transition(ToDataModel(g), StatusActive, entry); err != nil {
		s.logger.Error("failed to persist extension", "error", err, "grant_id", grantID)
		return nil, s.mapRepoError(err)
	}

	s.logger.Info("grant extended",
		"grant_id", grantID,
		"additional_days", dto.AdditionalDays,
		"new_expires_at", *g.ExpiresAt)

	return s.reload(grantID)
}

// RevokeGrant removes the provider binding and closes the grant. The unbind
// runs first: if the provider is unreachable the grant stays active and the
// caller retries, so access is never recorded as removed while still bound.
func (s *Service) RevokeGrant(ctx context.Context, actor *auth.Actor, grantID string, dto RevokeGrantDTO) (*Grant, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	g, err := s.load(grantID)
	if err != nil {
		return nil, err
	}
	if !s.permissions.CanRevokeGrants(actor) || !s.permissions.CanAccessClient(actor, g.ClientID) {
		s.logger.Warn("revoke grant denied: insufficient permissions",
			"actor", actor.Email, "grant_id", grantID)
		return nil, internal.ErrUnauthorizedAccess
	}

	if !g.IsActive() {
		s.logger.Warn("cannot revoke grant in current status",
			"grant_id", grantID, "current_status", g.GrantStatus)
		return nil, internal.ErrInvalidGrantStatus
	}

	if err := s.gateway.Unbind(ctx, *g.ExternalBindingRef); err != nil {
		s.logger.Error("provider unbind failed during revocation", "error", err, "grant_id", grantID)
		return nil, s.mapProviderError("unbind", err)
	}

	now := s.clock.Now()
	reason := dto.Reason
	bindingRef := *g.ExternalBindingRef
	g.Close(StatusRevoked, &reason, now)

	entry := audit.NewEntry(g.ID, actor.Email, audit.ActionRevoke, StatusActive, StatusRevoked,
		map[string]interface{}{"reason": reason, "binding_ref": bindingRef})
	if err := s.repo.Transition(ToDataModel(g), StatusActive, entry); err != nil {
		s.logger.Error("failed to persist revocation", "error", err, "grant_id", grantID)
		return nil, s.mapRepoError(err)
	}

	s.logger.Info("grant revoked", "grant_id", grantID, "revoked_by", actor.Email, "reason", reason)

	revoked, err := s.reload(grantID)
	if err != nil {
		return nil, err
	}
	s.events.Publish(ctx, events.NewGrantRevokedEvent(Snapshot(revoked)))
	return revoked, nil
}

// ExpireGrant closes an active grant whose expiry has passed; driven by the
// scheduler, attributed to the system actor. A grant already out of active is
// treated as done so concurrent sweeps never double-report.
func (s *Service) ExpireGrant(ctx context.Context, grantID string) error {
	g, err := s.load(grantID)
	if err != nil {
		return err
	}

	if !g.IsActive() {
		s.logger.Debug("grant no longer active, skipping expiry", "grant_id", grantID, "status", g.GrantStatus)
		return nil
	}

	if err := s.gateway.Unbind(ctx, *g.ExternalBindingRef); err != nil {
		s.logger.Error("provider unbind failed during expiry", "error", err, "grant_id", grantID)
		return s.mapProviderError("unbind", err)
	}

	now := s.clock.Now()
	reason := "expired"
	bindingRef := *g.ExternalBindingRef
	g.Close(StatusExpired, &reason, now)
	// Land the countdown on its terminal milestone so the sweep that follows
	// this transition has nothing left to send.
	notified := NotifyExpired
	g.LastNotifiedType = &notified
	g.LastNotifiedAt = &now

	entry := audit.NewEntry(g.ID, audit.ActorSystem, audit.ActionExpire, StatusActive, StatusExpired,
		map[string]interface{}{"binding_ref": bindingRef})
	if err := s.repo.Transition(ToDataModel(g), StatusActive, entry); err != nil {
		if appErr, ok := internal.IsAppError(err); ok && appErr.Code == internal.ErrCodeStaleGrant {
			s.logger.Debug("grant transitioned concurrently, skipping expiry", "grant_id", grantID)
			return nil
		}
		s.logger.Error("failed to persist expiry", "error", err, "grant_id", grantID)
		return s.mapRepoError(err)
	}

	s.logger.Info("grant expired", "grant_id", grantID, "subject", g.SubjectEmail)

	// The countdown marker already sits on its terminal milestone, so the
	// sweep never retries this notification. Deliver it inline and surface a
	// handler failure in the logs instead of dropping it on a detached
	// goroutine.
	if err := s.events.PublishSync(ctx, events.NewGrantExpiredEvent(Snapshot(g))); err != nil {
		s.logger.Error("expired notification delivery failed", "error", err, "grant_id", grantID)
	}
	return nil
}

// GetGrantByID retrieves a grant with client scoping applied.
func (s *Service) GetGrantByID(actor *auth.Actor, grantID string) (*Grant, error) {
	g, err := s.load(grantID)
	if err != nil {
		return nil, err
	}
	if !s.permissions.CanAccessClient(actor, g.ClientID) {
		s.logger.Warn("unauthorized access to grant", "grant_id", grantID, "actor", actor.Email)
		return nil, internal.ErrUnauthorizedAccess
	}
	return g, nil
}

func (s *Service) ListGrantsByStatus(actor *auth.Actor, status string, limit, offset int) ([]*Grant, error) {
	if !s.permissions.CanViewAllGrants(actor) {
		return nil, internal.ErrUnauthorizedAccess
	}
	rows, err := s.repo.ListByStatus(status, limit, offset)
	if err != nil {
		s.logger.Error("failed to list grants", "error", err, "status", status)
		return nil, internal.NewInternalError("failed to list grants", err)
	}
	return s.filterByClient(actor, FromDataModelSlice(rows)), nil
}

func (s *Service) ListGrantsBySubject(actor *auth.Actor, subjectEmail string, limit, offset int) ([]*Grant, error) {
	if !s.permissions.CanViewAllGrants(actor) && actor.Email != subjectEmail {
		return nil, internal.ErrUnauthorizedAccess
	}
	rows, err := s.repo.ListBySubject(subjectEmail, limit, offset)
	if err != nil {
		s.logger.Error("failed to list grants for subject", "error", err, "subject", subjectEmail)
		return nil, internal.NewInternalError("failed to list grants", err)
	}
	return s.filterByClient(actor, FromDataModelSlice(rows)), nil
}

// ListExpiringGrants returns active grants whose expiry falls within the
// window, soonest first.
func (s *Service) ListExpiringGrants(actor *auth.Actor, withinDays int) ([]*Grant, error) {
	if !s.permissions.CanViewAllGrants(actor) {
		return nil, internal.ErrUnauthorizedAccess
	}
	before := s.clock.Now().AddDate(0, 0, withinDays)
	rows, err := s.repo.ListExpiringWithin(before)
	if err != nil {
		s.logger.Error("failed to list expiring grants", "error", err)
		return nil, internal.NewInternalError("failed to list expiring grants", err)
	}
	return s.filterByClient(actor, FromDataModelSlice(rows)), nil
}

// GetAuditTrail returns the grant's history oldest first.
func (s *Service) GetAuditTrail(actor *auth.Actor, grantID string, limit, offset int) ([]*auditDatamodel.Entry, error) {
	if _, err := s.GetGrantByID(actor, grantID); err != nil {
		return nil, err
	}
	entries, err := s.auditRepo.ListByGrantID(grantID, limit, offset)
	if err != nil {
		s.logger.Error("failed to load audit trail", "error", err, "grant_id", grantID)
		return nil, internal.NewInternalError("failed to load audit trail", err)
	}
	return entries, nil
}

func (s *Service) load(grantID string) (*Grant, error) {
	dm, err := s.repo.GetByID(grantID)
	if err != nil {
		s.logger.Error("failed to get grant", "error", err, "grant_id", grantID)
		return nil, internal.ErrGrantNotFound
	}
	return FromDataModel(dm), nil
}

func (s *Service) reload(grantID string) (*Grant, error) {
	dm, err := s.repo.GetByID(grantID)
	if err != nil {
		return nil, internal.NewInternalError("failed to reload grant", err)
	}
	return FromDataModel(dm), nil
}

func (s *Service) loadForReview(actor *auth.Actor, grantID string) (*Grant, error) {
	g, err := s.load(grantID)
	if err != nil {
		return nil, err
	}
	if !s.permissions.CanApproveGrants(actor) || !s.permissions.CanAccessClient(actor, g.ClientID) {
		s.logger.Warn("grant review denied: insufficient permissions",
			"actor", actor.Email, "grant_id", grantID)
		return nil, internal.ErrUnauthorizedAccess
	}
	return g, nil
}

// canExtend answers the extension guard. Approval authority always suffices;
// for auto-approvable levels the requester and the subject may extend their
// own grant. Client scoping applies either way.
func (s *Service) canExtend(actor *auth.Actor, g *Grant) (bool, error) {
	if actor == nil || !s.permissions.CanAccessClient(actor, g.ClientID) {
		return false, nil
	}
	if s.permissions.CanApproveGrants(actor) {
		return true, nil
	}
	auto, err := s.policies.IsAutoApprovable(g.PermissionLevel)
	if err != nil {
		return false, internal.NewInternalError("failed to resolve approval policy", err)
	}
	return auto && (actor.Email == g.RequestedBy || actor.Email == g.SubjectEmail), nil
}

func (s *Service) checkActiveTuple(subjectEmail, accountID, propertyID, level string) error {
	existing, err := s.repo.FindActiveByTuple(subjectEmail, accountID, propertyID, level)
	if err != nil {
		s.logger.Error("active tuple lookup failed", "error", err, "subject", subjectEmail)
		return internal.NewInternalError("failed to check for existing grant", err)
	}
	if existing != nil {
		s.logger.Warn("duplicate active grant",
			"existing_grant_id", existing.ID,
			"subject", subjectEmail,
			"account_id", accountID,
			"property_id", propertyID,
			"permission_level", level)
		return internal.NewGrantConflictError(existing.ID)
	}
	return nil
}

// createWithDuplicateHandling inserts the new grant and resolves the two race
// windows the pre-checks leave open: a concurrent request with the same
// idempotency key (replay the winner) and a concurrent activation of the same
// tuple (conflict naming the winner).
func (s *Service) createWithDuplicateHandling(g *Grant, entry *auditDatamodel.Entry, dto CreateGrantDTO) error {
	err := s.repo.Create(ToDataModel(g), entry)
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, ErrDuplicateIdempotencyKey):
		existing, lookupErr := s.repo.GetByIdempotencyKey(dto.ClientID, dto.IdempotencyKey)
		if lookupErr == nil && existing != nil {
			*g = *FromDataModel(existing)
			return nil
		}
		return internal.NewInternalError("failed to resolve idempotency conflict", err)
	case errors.Is(err, ErrDuplicateActiveGrant):
		if conflictErr := s.checkActiveTuple(dto.SubjectEmail, dto.AccountID, dto.PropertyID, dto.PermissionLevel); conflictErr != nil {
			return conflictErr
		}
		return internal.NewInternalError("failed to create grant", err)
	default:
		s.logger.Error("failed to create grant", "error", err, "subject", dto.SubjectEmail)
		return internal.NewInternalError("failed to create grant", err)
	}
}

// filterByClient drops grants the actor's client scope does not cover.
func (s *Service) filterByClient(actor *auth.Actor, grants []*Grant) []*Grant {
	filtered := make([]*Grant, 0, len(grants))
	for _, g := range grants {
		if s.permissions.CanAccessClient(actor, g.ClientID) {
			filtered = append(filtered, g)
		}
	}
	return filtered
}

func (s *Service) mapRepoError(err error) error {
	if appErr, ok := internal.IsAppError(err); ok {
		return appErr
	}
	return internal.NewInternalError("grant persistence failed", err)
}

// mapProviderError classifies gateway failures: permanent rejections must not
// be retried blindly, everything else already exhausted the client's retry
// budget and is safe to retry later with identical inputs.
func (s *Service) mapProviderError(step string, err error) error {
	if provider.IsPermanent(err) {
		return internal.NewPermanentSyncError(step, err)
	}
	return internal.NewExternalSyncError(step, err)
}
