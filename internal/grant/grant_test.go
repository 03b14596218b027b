package grant_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nandasafiqal/access-grant-management/internal/grant"
)

var _ = Describe("Milestones", func() {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	days := func(n int) time.Duration {
		return time.Duration(n) * 24 * time.Hour
	}

	Describe("MilestoneAt", func() {
		It("reports no milestone beyond thirty days", func() {
			_, ok := grant.MilestoneAt(now.Add(days(31)), now)
			Expect(ok).To(BeFalse())
		})

		It("maps remaining time onto the countdown buckets", func() {
			cases := []struct {
				remaining time.Duration
				expected  string
			}{
				{days(30), grant.NotifyExpiry30},
				{days(8), grant.NotifyExpiry30},
				{days(7), grant.NotifyExpiry7},
				{days(2), grant.NotifyExpiry7},
				{days(1) + time.Hour, grant.NotifyExpiry1},
				{12 * time.Hour, grant.NotifyExpiryToday},
				{time.Minute, grant.NotifyExpiryToday},
			}
			for _, tc := range cases {
				milestone, ok := grant.MilestoneAt(now.Add(tc.remaining), now)
				Expect(ok).To(BeTrue())
				Expect(milestone).To(Equal(tc.expected), "remaining %s", tc.remaining)
			}
		})

		It("reports expired at and after the expiry instant", func() {
			milestone, ok := grant.MilestoneAt(now, now)
			Expect(ok).To(BeTrue())
			Expect(milestone).To(Equal(grant.NotifyExpired))

			milestone, _ = grant.MilestoneAt(now.Add(-days(2)), now)
			Expect(milestone).To(Equal(grant.NotifyExpired))
		})
	})

	Describe("MilestoneRank", func() {
		It("orders the countdown sequence with nil below everything", func() {
			thirty := grant.NotifyExpiry30
			seven := grant.NotifyExpiry7
			expired := grant.NotifyExpired

			Expect(grant.MilestoneRank(nil)).To(BeNumerically("<", grant.MilestoneRank(&thirty)))
			Expect(grant.MilestoneRank(&thirty)).To(BeNumerically("<", grant.MilestoneRank(&seven)))
			Expect(grant.MilestoneRank(&seven)).To(BeNumerically("<", grant.MilestoneRank(&expired)))
		})
	})
})

var _ = Describe("Grant transitions", func() {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	newActive := func() *grant.Grant {
		g := &grant.Grant{ID: "grant-1", GrantStatus: grant.StatusPendingApproval, Version: 1}
		approver := "approver@corp.example"
		g.Activate("binding-1", now.AddDate(0, 0, 30), &approver, now)
		return g
	}

	It("sets binding and expiry together on activation", func() {
		g := newActive()
		Expect(g.GrantStatus).To(Equal(grant.StatusActive))
		Expect(g.ExternalBindingRef).ToNot(BeNil())
		Expect(g.ExpiresAt).ToNot(BeNil())
	})

	It("clears binding and expiry together on close", func() {
		g := newActive()
		reason := "offboarding"
		g.Close(grant.StatusRevoked, &reason, now)

		Expect(g.GrantStatus).To(Equal(grant.StatusRevoked))
		Expect(g.ExternalBindingRef).To(BeNil())
		Expect(g.ExpiresAt).To(BeNil())
	})

	Describe("ExtendExpiry", func() {
		It("extends from the current expiry when it is in the future", func() {
			g := newActive()
			g.ExtendExpiry(14, now)
			Expect(*g.ExpiresAt).To(Equal(now.AddDate(0, 0, 44)))
		})

		It("extends from now when the expiry already passed", func() {
			g := newActive()
			past := now.AddDate(0, 0, -5)
			g.ExpiresAt = &past
			g.ExtendExpiry(14, now)
			Expect(*g.ExpiresAt).To(Equal(now.AddDate(0, 0, 14)))
		})

		It("resets the notification countdown", func() {
			g := newActive()
			milestone := grant.NotifyExpiry7
			g.LastNotifiedType = &milestone
			g.LastNotifiedAt = &now

			g.ExtendExpiry(14, now)
			Expect(g.LastNotifiedType).To(BeNil())
			Expect(g.LastNotifiedAt).To(BeNil())
		})
	})
})
