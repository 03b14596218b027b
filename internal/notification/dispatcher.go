package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nandasafiqal/access-grant-management/internal/core/events"
	"github.com/nandasafiqal/access-grant-management/internal/grant"
)

// Sender is the injected transport capability (email, SMS). This package owns
// selection and deduplication of content, never delivery mechanics.
type Sender interface {
	Send(ctx context.Context, recipient, templateType string, fields map[string]string) error
}

// Dispatcher maps a (grant, template) pair to recipients and template fields
// and hands them to the sender. Fields come from the grant snapshot only, so
// a send-time failure can only ever be a transport failure.
type Dispatcher struct {
	sender Sender
	logger *slog.Logger
}

func NewDispatcher(sender Sender, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		sender: sender,
		logger: logger,
	}
}

// recipientsFor returns who receives each template type. The subject hears
// about everything that changes their access; the requester additionally
// hears the outcome of reviews they initiated.
func recipientsFor(templateType string, snap events.GrantSnapshot) []string {
	switch templateType {
	case grant.NotifyApproved, grant.NotifyRejected:
		if snap.RequestedBy != "" && snap.RequestedBy != snap.SubjectEmail {
			return []string{snap.SubjectEmail, snap.RequestedBy}
		}
		return []string{snap.SubjectEmail}
	default:
		return []string{snap.SubjectEmail}
	}
}

func fieldsFor(snap events.GrantSnapshot) map[string]string {
	fields := map[string]string{
		"grant_id":         snap.GrantID,
		"subject_email":    snap.SubjectEmail,
		"account_id":       snap.AccountID,
		"property_id":      snap.PropertyID,
		"permission_level": snap.PermissionLevel,
	}
	if snap.ExpiresAt != nil {
		fields["expires_at"] = snap.ExpiresAt.UTC().Format("2006-01-02")
	}
	if snap.StatusReason != nil {
		fields["reason"] = *snap.StatusReason
	}
	return fields
}

// NotifyMilestone sends a countdown notification for an active grant; the
// scheduler's entry point.
func (d *Dispatcher) NotifyMilestone(ctx context.Context, templateType string, g *grant.Grant) error {
	return d.Dispatch(ctx, templateType, grant.Snapshot(g))
}

// Dispatch sends one notification per recipient for the given template type.
// An error from any recipient propagates so the caller leaves its milestone
// marker untouched and the next sweep retries.
func (d *Dispatcher) Dispatch(ctx context.Context, templateType string, snap events.GrantSnapshot) error {
	fields := fieldsFor(snap)

	for _, recipient := range recipientsFor(templateType, snap) {
		if err := d.sender.Send(ctx, recipient, templateType, fields); err != nil {
			d.logger.Error("notification send failed",
				"error", err,
				"grant_id", snap.GrantID,
				"template", templateType,
				"recipient", recipient)
			return fmt.Errorf("send %s for grant %s: %w", templateType, snap.GrantID, err)
		}

		d.logger.Info("notification sent",
			"grant_id", snap.GrantID,
			"template", templateType,
			"recipient", recipient)
	}

	return nil
}
