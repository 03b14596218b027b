package scheduler_test

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

	grantDatamodel "github.com/nandasafiqal/access-grant-management/internal/core/datamodel/grant"
	"github.com/nandasafiqal/access-grant-management/internal/grant"
	"github.com/nandasafiqal/access-grant-management/internal/scheduler"
)

func TestScheduler(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Scheduler Suite")
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

// Mock grant store with in-memory milestone markers
type mockStore struct {
	grants       []*grantDatamodel.Grant
	listError    error
	advanceError error
	advanceDeny  bool
	advances     []string
}

func (m *mockStore) ListActive() ([]*grantDatamodel.Grant, error) {
	if m.listError != nil {
		return nil, m.listError
	}
	var out []*grantDatamodel.Grant
	for _, g := range m.grants {
		if g.GrantStatus == grant.StatusActive {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *mockStore) AdvanceMilestone(grantID string, from *string, to string, at time.Time) (bool, error) {
	if m.advanceError != nil {
		return false, m.advanceError
	}
	if m.advanceDeny {
		return false, nil
	}
	for _, g := range m.grants {
		if g.ID == grantID {
			g.LastNotifiedType = &to
			g.LastNotifiedAt = &at
			m.advances = append(m.advances, grantID+":"+to)
			return true, nil
		}
	}
	return false, nil
}

type mockLifecycle struct {
	expired     []string
	expireError error
	store       *mockStore
}

func (m *mockLifecycle) ExpireGrant(ctx context.Context, grantID string) error {
	if m.expireError != nil {
		return m.expireError
	}
	m.expired = append(m.expired, grantID)
	for _, g := range m.store.grants {
		if g.ID == grantID {
			g.GrantStatus = grant.StatusExpired
		}
	}
	return nil
}

type sentNotification struct {
	templateType string
	grantID      string
}

type mockNotifier struct {
	mu        sync.Mutex
	sent      []sentNotification
	sendError error
}

func (m *mockNotifier) NotifyMilestone(ctx context.Context, templateType string, g *grant.Grant) error {
	if m.sendError != nil {
		return m.sendError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentNotification{templateType: templateType, grantID: g.ID})
	return nil
}

func (m *mockNotifier) sentSoFar() []sentNotification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentNotification(nil), m.sent...)
}

var _ = Describe("Scheduler", func() {
	var (
		store     *mockStore
		lifecycle *mockLifecycle
		notifier  *mockNotifier
		clock     *fakeClock
		sched     *scheduler.Scheduler
		ctx       context.Context
	)

	activeGrant := func(id string, expiresIn time.Duration) *grantDatamodel.Grant {
		expiry := clock.now.Add(expiresIn)
		ref := "binding-" + id
		return &grantDatamodel.Grant{
			ID:                 id,
			ClientID:           "client-1",
			SubjectEmail:       id + "@corp.example",
			AccountID:          "acct-100",
			PropertyID:         "prop-200",
			PermissionLevel:    grant.LevelViewer,
			GrantStatus:        grant.StatusActive,
			ExternalBindingRef: &ref,
			ExpiresAt:          &expiry,
			Version:            1,
		}
	}

	days := func(n int) time.Duration {
		return time.Duration(n) * 24 * time.Hour
	}

	BeforeEach(func() {
		clock = &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
		store = &mockStore{}
		lifecycle = &mockLifecycle{store: store}
		notifier = &mockNotifier{}
		ctx = context.Background()

		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		sched = scheduler.New(store, lifecycle, notifier, clock, time.Hour, logger)
	})

	Describe("Sweep", func() {
		It("ignores grants more than thirty days out", func() {
			store.grants = []*grantDatamodel.Grant{activeGrant("grant-1", days(45))}

			stats := sched.Sweep(ctx)

			Expect(stats.Scanned).To(Equal(1))
			Expect(stats.Notified).To(Equal(0))
			Expect(notifier.sent).To(BeEmpty())
		})

		It("sends the countdown notification for the bucket the grant is in", func() {
			store.grants = []*grantDatamodel.Grant{
				activeGrant("grant-30", days(20)),
				activeGrant("grant-7", days(5)),
				activeGrant("grant-1", days(1)+time.Hour),
				activeGrant("grant-today", 6*time.Hour),
			}

			stats := sched.Sweep(ctx)

			Expect(stats.Notified).To(Equal(4))
			Expect(notifier.sent).To(ConsistOf(
				sentNotification{templateType: grant.NotifyExpiry30, grantID: "grant-30"},
				sentNotification{templateType: grant.NotifyExpiry7, grantID: "grant-7"},
				sentNotification{templateType: grant.NotifyExpiry1, grantID: "grant-1"},
				sentNotification{templateType: grant.NotifyExpiryToday, grantID: "grant-today"},
			))
		})

		It("does not repeat a milestone on the next sweep", func() {
			store.grants = []*grantDatamodel.Grant{activeGrant("grant-1", days(20))}

			sched.Sweep(ctx)
			stats := sched.Sweep(ctx)

			Expect(stats.Notified).To(Equal(0))
			Expect(notifier.sent).To(HaveLen(1))
		})

		It("advances to the next bucket as the expiry approaches", func() {
			store.grants = []*grantDatamodel.Grant{activeGrant("grant-1", days(20))}

			sched.Sweep(ctx)
			clock.now = clock.now.Add(days(16))
			stats := sched.Sweep(ctx)

			Expect(stats.Notified).To(Equal(1))
			Expect(notifier.sent[1].templateType).To(Equal(grant.NotifyExpiry7))
		})

		It("sends only the current bucket after skipping several", func() {
			// The grant was never notified while the sweeper was down; it is
			// now a day from expiry, so only the one-day notice goes out.
			store.grants = []*grantDatamodel.Grant{activeGrant("grant-1", days(1)+time.Hour)}

			stats := sched.Sweep(ctx)

			Expect(stats.Notified).To(Equal(1))
			Expect(notifier.sent).To(HaveLen(1))
			Expect(notifier.sent[0].templateType).To(Equal(grant.NotifyExpiry1))
		})

		It("never moves the marker backwards", func() {
			g := activeGrant("grant-1", days(20))
			already := grant.NotifyExpiry7
			g.LastNotifiedType = &already
			store.grants = []*grantDatamodel.Grant{g}

			stats := sched.Sweep(ctx)

			Expect(stats.Notified).To(Equal(0))
			Expect(notifier.sent).To(BeEmpty())
		})

		It("expires overdue grants through the lifecycle service", func() {
			store.grants = []*grantDatamodel.Grant{
				activeGrant("grant-due", -time.Hour),
				activeGrant("grant-live", days(20)),
			}

			stats := sched.Sweep(ctx)

			Expect(stats.Expired).To(Equal(1))
			Expect(lifecycle.expired).To(Equal([]string{"grant-due"}))
			Expect(stats.Notified).To(Equal(1))
		})

		It("leaves the marker untouched when the send fails, so the next sweep retries", func() {
			store.grants = []*grantDatamodel.Grant{activeGrant("grant-1", days(5))}
			notifier.sendError = errors.New("smtp down")

			stats := sched.Sweep(ctx)
			Expect(stats.Errors).To(Equal(1))
			Expect(store.advances).To(BeEmpty())

			notifier.sendError = nil
			stats = sched.Sweep(ctx)
			Expect(stats.Notified).To(Equal(1))
			Expect(notifier.sent[0].templateType).To(Equal(grant.NotifyExpiry7))
		})

		It("treats a lost marker race as already handled", func() {
			store.grants = []*grantDatamodel.Grant{activeGrant("grant-1", days(5))}
			store.advanceDeny = true

			stats := sched.Sweep(ctx)

			Expect(stats.Notified).To(Equal(0))
			Expect(stats.Errors).To(Equal(0))
			Expect(notifier.sent).To(HaveLen(1))
		})

		It("isolates failures to the grant that caused them", func() {
			broken := activeGrant("grant-broken", days(5))
			broken.ExpiresAt = nil
			store.grants = []*grantDatamodel.Grant{broken, activeGrant("grant-ok", days(5))}

			stats := sched.Sweep(ctx)

			Expect(stats.Errors).To(Equal(1))
			Expect(stats.Notified).To(Equal(1))
			Expect(notifier.sent[0].grantID).To(Equal("grant-ok"))
		})

		It("keeps sweeping when an expiry fails", func() {
			store.grants = []*grantDatamodel.Grant{
				activeGrant("grant-due", -time.Hour),
				activeGrant("grant-live", days(5)),
			}
			lifecycle.expireError = errors.New("provider down")

			stats := sched.Sweep(ctx)

			Expect(stats.Errors).To(Equal(1))
			Expect(stats.Expired).To(Equal(0))
			Expect(stats.Notified).To(Equal(1))
		})

		It("reports a listing failure without notifying anyone", func() {
			store.listError = errors.New("db down")

			stats := sched.Sweep(ctx)

			Expect(stats.Errors).To(Equal(1))
			Expect(stats.Scanned).To(Equal(0))
		})
	})

	Describe("Run", func() {
		It("sweeps immediately and stops when the context ends", func() {
			store.grants = []*grantDatamodel.Grant{activeGrant("grant-1", days(5))}
			runCtx, cancel := context.WithCancel(ctx)

			done := make(chan struct{})
			go func() {
				sched.Run(runCtx)
				close(done)
			}()

			Eventually(notifier.sentSoFar).Should(HaveLen(1))
			cancel()
			Eventually(done).Should(BeClosed())
		})
	})
})
