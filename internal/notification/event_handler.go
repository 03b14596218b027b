package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nandasafiqal/access-grant-management/internal/core/events"
	"github.com/nandasafiqal/access-grant-management/internal/grant"
)

// EventHandler turns grant lifecycle events into transition notifications.
// Milestone (countdown) notifications never come through here; the scheduler
// drives those against the dispatcher directly with its dedup marker.
type EventHandler struct {
	dispatcher *Dispatcher
	logger     *slog.Logger
}

func NewEventHandler(dispatcher *Dispatcher, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		dispatcher: dispatcher,
		logger:     logger,
	}
}

func (h *EventHandler) HandleGrantActivated(ctx context.Context, event events.Event) error {
	activated, ok := event.(*events.GrantActivatedEvent)
	if !ok {
		h.logger.Error("invalid event type for grant activated handler", "event_type", event.EventType())
		return fmt.Errorf("expected GrantActivatedEvent, got %T", event)
	}

	templateType := grant.NotifyApproved
	if activated.AutoApproved {
		templateType = grant.NotifyWelcome
	}

	return h.dispatcher.Dispatch(ctx, templateType, activated.Grant)
}

func (h *EventHandler) HandleGrantRejected(ctx context.Context, event events.Event) error {
	rejected, ok := event.(*events.GrantRejectedEvent)
	if !ok {
		h.logger.Error("invalid event type for grant rejected handler", "event_type", event.EventType())
		return fmt.Errorf("expected GrantRejectedEvent, got %T", event)
	}
	return h.dispatcher.Dispatch(ctx, grant.NotifyRejected, rejected.Grant)
}

func (h *EventHandler) HandleGrantRevoked(ctx context.Context, event events.Event) error {
	revoked, ok := event.(*events.GrantRevokedEvent)
	if !ok {
		h.logger.Error("invalid event type for grant revoked handler", "event_type", event.EventType())
		return fmt.Errorf("expected GrantRevokedEvent, got %T", event)
	}
	return h.dispatcher.Dispatch(ctx, grant.NotifyRevoked, revoked.Grant)
}

func (h *EventHandler) HandleGrantExpired(ctx context.Context, event events.Event) error {
	expired, ok := event.(*events.GrantExpiredEvent)
	if !ok {
		h.logger.Error("invalid event type for grant expired handler", "event_type", event.EventType())
		return fmt.Errorf("expected GrantExpiredEvent, got %T", event)
	}
	return h.dispatcher.Dispatch(ctx, grant.NotifyExpired, expired.Grant)
}

func (h *EventHandler) RegisterEventHandlers(eventBus *events.EventBus) {
	eventBus.Subscribe(events.EventTypeGrantActivated, h.HandleGrantActivated)
	eventBus.Subscribe(events.EventTypeGrantRejected, h.HandleGrantRejected)
	eventBus.Subscribe(events.EventTypeGrantRevoked, h.HandleGrantRevoked)
	eventBus.Subscribe(events.EventTypeGrantExpired, h.HandleGrantExpired)

	h.logger.Info("notification event handlers registered",
		"handlers", []string{
			events.EventTypeGrantActivated,
			events.EventTypeGrantRejected,
			events.EventTypeGrantRevoked,
			events.EventTypeGrantExpired,
		})
}
