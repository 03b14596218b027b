package scheduler

import (
	"context"
	"log/slog"

	"github.com/nandasafiqal/access-grant-management/internal/provider"
)

// BindingLister is the provider read surface the reconciler uses.
type BindingLister interface {
	ListBindings(ctx context.Context, accountID, propertyID string) ([]provider.Binding, error)
}

type resourceKey struct {
	accountID  string
	propertyID string
}

// Reconciler compares provider bindings against local active grants and logs
// the differences. It never mutates either side: drift is an operator signal,
// a binding the provider lost will surface again when the grant next
// transitions.
type Reconciler struct {
	store    GrantStore
	provider BindingLister
	logger   *slog.Logger
}

func NewReconciler(store GrantStore, provider BindingLister, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:    store,
		provider: provider,
		logger:   logger,
	}
}

// Reconcile walks every resource with at least one active grant and reports
// bindings without a grant (orphaned) and grants whose binding the provider
// no longer returns (missing).
func (r *Reconciler) Reconcile(ctx context.Context) error {
	rows, err := r.store.ListActive()
	if err != nil {
		r.logger.Error("reconcile aborted, cannot list active grants", "error", err)
		return err
	}

	byResource := make(map[resourceKey]map[string]string) // binding ref -> grant id
	for _, g := range rows {
		if g.ExternalBindingRef == nil {
			r.logger.Error("active grant without binding reference", "grant_id", g.ID)
			continue
		}
		key := resourceKey{accountID: g.AccountID, propertyID: g.PropertyID}
		if byResource[key] == nil {
			byResource[key] = make(map[string]string)
		}
		byResource[key][*g.ExternalBindingRef] = g.ID
	}

	orphaned, missing := 0, 0
	for key, refs := range byResource {
		bindings, err := r.provider.ListBindings(ctx, key.accountID, key.propertyID)
		if err != nil {
			r.logger.Error("failed to list provider bindings",
				"error", err,
				"account_id", key.accountID,
				"property_id", key.propertyID)
			continue
		}

		seen := make(map[string]bool, len(bindings))
		for _, b := range bindings {
			seen[b.ID] = true
			if _, ok := refs[b.ID]; !ok {
				orphaned++
				r.logger.Warn("provider binding has no active grant",
					"binding_ref", b.ID,
					"subject", b.SubjectEmail,
					"account_id", key.accountID,
					"property_id", key.propertyID)
			}
		}

		for ref, grantID := range refs {
			if !seen[ref] {
				missing++
				r.logger.Warn("active grant binding missing at provider",
					"grant_id", grantID,
					"binding_ref", ref,
					"account_id", key.accountID,
					"property_id", key.propertyID)
			}
		}
	}

	r.logger.Info("reconcile finished",
		"resources", len(byResource),
		"orphaned_bindings", orphaned,
		"missing_bindings", missing)
	return nil
}
