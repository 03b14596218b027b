package events_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nandasafiqal/access-grant-management/internal/core/events"
)

func TestEvents(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Events Suite")
}

var _ = Describe("EventBus", func() {
	var (
		bus *events.EventBus
		ctx context.Context
	)

	newEvent := func(eventType string) events.Event {
		return events.BaseEvent{
			ID:        "evt-1",
			Type:      eventType,
			Timestamp: time.Now(),
		}
	}

	BeforeEach(func() {
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		bus = events.NewEventBus(logger)
		ctx = context.Background()
	})

	It("fans an event out to every subscribed handler", func() {
		var mu sync.Mutex
		var seen []string
		for _, name := range []string{"first", "second"} {
			n := name
			bus.Subscribe(events.EventTypeGrantExpired, func(ctx context.Context, e events.Event) error {
				mu.Lock()
				seen = append(seen, n)
				mu.Unlock()
				return nil
			})
		}

		Expect(bus.Publish(ctx, newEvent(events.EventTypeGrantExpired))).To(Succeed())

		Eventually(func() int {
			mu.Lock()
			defer mu.Unlock()
			return len(seen)
		}).Should(Equal(2))
	})

	It("ignores events nobody subscribed to", func() {
		Expect(bus.Publish(ctx, newEvent("grant.unknown"))).To(Succeed())
		Expect(bus.PublishSync(ctx, newEvent("grant.unknown"))).To(Succeed())
	})

	Describe("PublishSync", func() {
		It("runs handlers inline and surfaces the failure", func() {
			handlerErr := errors.New("smtp relay down")
			bus.Subscribe(events.EventTypeGrantExpired, func(ctx context.Context, e events.Event) error {
				return handlerErr
			})

			err := bus.PublishSync(ctx, newEvent(events.EventTypeGrantExpired))

			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, handlerErr)).To(BeTrue())
		})

		It("returns nil when every handler succeeds", func() {
			called := 0
			bus.Subscribe(events.EventTypeGrantActivated, func(ctx context.Context, e events.Event) error {
				called++
				return nil
			})

			Expect(bus.PublishSync(ctx, newEvent(events.EventTypeGrantActivated))).To(Succeed())
			Expect(called).To(Equal(1))
		})
	})
})
