package postgres_test

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	internal "github.com/nandasafiqal/access-grant-management/internal"
	auditDatamodel "github.com/nandasafiqal/access-grant-management/internal/core/datamodel/audit"
	grantDatamodel "github.com/nandasafiqal/access-grant-management/internal/core/datamodel/grant"
	"github.com/nandasafiqal/access-grant-management/internal/grant"
	"github.com/nandasafiqal/access-grant-management/internal/grant/postgres"
)

func TestGrantRepository(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "GrantRepository Suite")
}

// SQLite-compatible schema for tests; the production schema lives in the
// goose migrations.
type SQLiteGrant struct {
	ID                 string `gorm:"primaryKey"`
	ClientID           string `gorm:"column:client_id"`
	SubjectEmail       string `gorm:"column:subject_email"`
	AccountID          string `gorm:"column:account_id"`
	PropertyID         string `gorm:"column:property_id"`
	PermissionLevel    string `gorm:"column:permission_level"`
	GrantStatus        string `gorm:"column:grant_status"`
	RequestedDays      int    `gorm:"column:requested_days"`
	Justification      string `gorm:"column:justification"`
	IdempotencyKey     *string
	RequestedBy        string  `gorm:"column:requested_by"`
	ApprovedBy         *string `gorm:"column:approved_by"`
	StatusReason       *string `gorm:"column:status_reason"`
	ExpiresAt          *time.Time
	ExternalBindingRef *string `gorm:"column:external_binding_ref"`
	LastNotifiedType   *string `gorm:"column:last_notified_type"`
	LastNotifiedAt     *time.Time
	Version            int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (SQLiteGrant) TableName() string {
	return "grants"
}

type SQLiteAuditEntry struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	GrantID      string `gorm:"column:grant_id;index"`
	Actor        string
	Action       string
	BeforeStatus string `gorm:"column:before_status"`
	AfterStatus  string `gorm:"column:after_status"`
	Detail       string
	CreatedAt    time.Time
}

func (SQLiteAuditEntry) TableName() string {
	return "audit_entries"
}

var _ = Describe("GrantRepository", func() {
	var (
		db   *gorm.DB
		repo grant.Repository
		now  time.Time
	)

	newGrantRow := func(id, status string, mutate func(*grantDatamodel.Grant)) *grantDatamodel.Grant {
		g := &grantDatamodel.Grant{
			ID:              id,
			ClientID:        "client-1",
			SubjectEmail:    "analyst@corp.example",
			AccountID:       "acct-100",
			PropertyID:      "prop-200",
			PermissionLevel: grant.LevelViewer,
			GrantStatus:     status,
			RequestedDays:   30,
			RequestedBy:     "requester@corp.example",
			Version:         1,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if status == grant.StatusActive {
			ref := "binding-" + id
			expiry := now.AddDate(0, 0, 30)
			g.ExternalBindingRef = &ref
			g.ExpiresAt = &expiry
		}
		if mutate != nil {
			mutate(g)
		}
		return g
	}

	BeforeEach(func() {
		var err error
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
		Expect(err).ToNot(HaveOccurred())

		err = db.AutoMigrate(&SQLiteGrant{}, &SQLiteAuditEntry{})
		Expect(err).ToNot(HaveOccurred())

		// AutoMigrate cannot express partial unique indexes, so the two that
		// back the duplicate sentinels are created by hand.
		Expect(db.Exec(`CREATE UNIQUE INDEX uniq_grants_active_tuple
			ON grants (subject_email, account_id, property_id, permission_level)
			WHERE grant_status = 'active'`).Error).ToNot(HaveOccurred())
		Expect(db.Exec(`CREATE UNIQUE INDEX uniq_grants_idempotency_key
			ON grants (client_id, idempotency_key)
			WHERE idempotency_key IS NOT NULL`).Error).ToNot(HaveOccurred())

		repo = postgres.NewGrantRepository(db)
		now = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	})

	AfterEach(func() {
		sqlDB, err := db.DB()
		Expect(err).ToNot(HaveOccurred())
		Expect(sqlDB.Close()).To(Succeed())
	})

	Describe("Create", func() {
		It("stores the grant together with its audit entry", func() {
			g := newGrantRow("grant-1", grant.StatusPendingApproval, nil)
			entry := &auditDatamodel.Entry{Actor: "requester@corp.example", Action: "create", AfterStatus: grant.StatusPendingApproval, CreatedAt: now}

			err := repo.Create(g, entry)
			Expect(err).ToNot(HaveOccurred())

			stored, err := repo.GetByID("grant-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(stored.GrantStatus).To(Equal(grant.StatusPendingApproval))
			Expect(stored.Version).To(Equal(int64(1)))

			var count int64
			Expect(db.Model(&SQLiteAuditEntry{}).Where("grant_id = ?", "grant-1").Count(&count).Error).ToNot(HaveOccurred())
			Expect(count).To(Equal(int64(1)))
		})

		It("reports a duplicate idempotency key with the sentinel", func() {
			key := "req-42"
			first := newGrantRow("grant-1", grant.StatusPendingApproval, func(g *grantDatamodel.Grant) {
				g.IdempotencyKey = &key
			})
			Expect(repo.Create(first, nil)).To(Succeed())

			second := newGrantRow("grant-2", grant.StatusPendingApproval, func(g *grantDatamodel.Grant) {
				g.IdempotencyKey = &key
			})
			err := repo.Create(second, nil)
			Expect(err).To(MatchError(grant.ErrDuplicateIdempotencyKey))
		})

		It("allows the same key under a different client", func() {
			key := "req-42"
			first := newGrantRow("grant-1", grant.StatusPendingApproval, func(g *grantDatamodel.Grant) {
				g.IdempotencyKey = &key
			})
			Expect(repo.Create(first, nil)).To(Succeed())

			second := newGrantRow("grant-2", grant.StatusPendingApproval, func(g *grantDatamodel.Grant) {
				g.ClientID = "client-2"
				g.IdempotencyKey = &key
			})
			Expect(repo.Create(second, nil)).To(Succeed())
		})

		It("reports a second active grant for the tuple with the sentinel", func() {
			Expect(repo.Create(newGrantRow("grant-1", grant.StatusActive, nil), nil)).To(Succeed())

			err := repo.Create(newGrantRow("grant-2", grant.StatusActive, nil), nil)
			Expect(err).To(MatchError(grant.ErrDuplicateActiveGrant))
		})

		It("lets historical rows repeat the tuple", func() {
			Expect(repo.Create(newGrantRow("grant-1", grant.StatusExpired, nil), nil)).To(Succeed())
			Expect(repo.Create(newGrantRow("grant-2", grant.StatusRevoked, nil), nil)).To(Succeed())
			Expect(repo.Create(newGrantRow("grant-3", grant.StatusActive, nil), nil)).To(Succeed())
		})
	})

	Describe("lookup methods", func() {
		It("returns nil without error on an idempotency key miss", func() {
			found, err := repo.GetByIdempotencyKey("client-1", "no-such-key")
			Expect(err).ToNot(HaveOccurred())
			Expect(found).To(BeNil())
		})

		It("matches only active rows on the tuple lookup", func() {
			Expect(repo.Create(newGrantRow("grant-old", grant.StatusExpired, nil), nil)).To(Succeed())
			found, err := repo.FindActiveByTuple("analyst@corp.example", "acct-100", "prop-200", grant.LevelViewer)
			Expect(err).ToNot(HaveOccurred())
			Expect(found).To(BeNil())

			Expect(repo.Create(newGrantRow("grant-new", grant.StatusActive, nil), nil)).To(Succeed())
			found, err = repo.FindActiveByTuple("analyst@corp.example", "acct-100", "prop-200", grant.LevelViewer)
			Expect(err).ToNot(HaveOccurred())
			Expect(found).ToNot(BeNil())
			Expect(found.ID).To(Equal("grant-new"))
		})
	})

	Describe("Transition", func() {
		var g *grantDatamodel.Grant

		BeforeEach(func() {
			g = newGrantRow("grant-1", grant.StatusPendingApproval, nil)
			Expect(repo.Create(g, nil)).To(Succeed())
		})

		It("applies the change and bumps the version", func() {
			ref := "binding-1"
			expiry := now.AddDate(0, 0, 30)
			g.GrantStatus = grant.StatusActive
			g.ExternalBindingRef = &ref
			g.ExpiresAt = &expiry

			entry := &auditDatamodel.Entry{GrantID: g.ID, Actor: "approver@corp.example", Action: "approve", BeforeStatus: grant.StatusPendingApproval, AfterStatus: grant.StatusActive, CreatedAt: now}
			err := repo.Transition(g, grant.StatusPendingApproval, entry)
			Expect(err).ToNot(HaveOccurred())

			stored, err := repo.GetByID(g.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(stored.GrantStatus).To(Equal(grant.StatusActive))
			Expect(stored.Version).To(Equal(int64(2)))
			Expect(*stored.ExternalBindingRef).To(Equal("binding-1"))

			var count int64
			Expect(db.Model(&SQLiteAuditEntry{}).Where("grant_id = ?", g.ID).Count(&count).Error).ToNot(HaveOccurred())
			Expect(count).To(Equal(int64(1)))
		})

		It("rejects a transition carrying a stale version", func() {
			g.Version = 99
			g.GrantStatus = grant.StatusRejected

			err := repo.Transition(g, grant.StatusPendingApproval, nil)
			Expect(err).To(MatchError(internal.ErrStaleGrant))
		})

		It("rejects a transition from the wrong status", func() {
			g.GrantStatus = grant.StatusRevoked

			err := repo.Transition(g, grant.StatusActive, nil)
			Expect(err).To(MatchError(internal.ErrStaleGrant))
		})

		It("leaves the row untouched when the guard fails", func() {
			g.Version = 99
			g.GrantStatus = grant.StatusRejected
			_ = repo.Transition(g, grant.StatusPendingApproval, nil)

			stored, err := repo.GetByID(g.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(stored.GrantStatus).To(Equal(grant.StatusPendingApproval))
			Expect(stored.Version).To(Equal(int64(1)))
		})
	})

	Describe("AdvanceMilestone", func() {
		BeforeEach(func() {
			Expect(repo.Create(newGrantRow("grant-1", grant.StatusActive, nil), nil)).To(Succeed())
		})

		It("advances from never-notified", func() {
			advanced, err := repo.AdvanceMilestone("grant-1", nil, grant.NotifyExpiry30, now)
			Expect(err).ToNot(HaveOccurred())
			Expect(advanced).To(BeTrue())

			stored, _ := repo.GetByID("grant-1")
			Expect(*stored.LastNotifiedType).To(Equal(grant.NotifyExpiry30))
			Expect(stored.LastNotifiedAt).ToNot(BeNil())
		})

		It("advances when the previous marker matches", func() {
			from := grant.NotifyExpiry30
			_, err := repo.AdvanceMilestone("grant-1", nil, from, now)
			Expect(err).ToNot(HaveOccurred())

			advanced, err := repo.AdvanceMilestone("grant-1", &from, grant.NotifyExpiry7, now)
			Expect(err).ToNot(HaveOccurred())
			Expect(advanced).To(BeTrue())
		})

		It("refuses when another sweep already moved the marker", func() {
			_, err := repo.AdvanceMilestone("grant-1", nil, grant.NotifyExpiry7, now)
			Expect(err).ToNot(HaveOccurred())

			advanced, err := repo.AdvanceMilestone("grant-1", nil, grant.NotifyExpiry30, now)
			Expect(err).ToNot(HaveOccurred())
			Expect(advanced).To(BeFalse())
		})

		It("refuses on a grant that is no longer active", func() {
			Expect(repo.Create(newGrantRow("grant-done", grant.StatusExpired, func(g *grantDatamodel.Grant) {
				g.SubjectEmail = "other@corp.example"
			}), nil)).To(Succeed())

			advanced, err := repo.AdvanceMilestone("grant-done", nil, grant.NotifyExpiry30, now)
			Expect(err).ToNot(HaveOccurred())
			Expect(advanced).To(BeFalse())
		})
	})

	Describe("ListExpiringWithin", func() {
		It("returns active grants inside the window, soonest first", func() {
			soon := now.AddDate(0, 0, 3)
			later := now.AddDate(0, 0, 20)
			far := now.AddDate(0, 0, 90)

			Expect(repo.Create(newGrantRow("grant-later", grant.StatusActive, func(g *grantDatamodel.Grant) {
				g.ExpiresAt = &later
			}), nil)).To(Succeed())
			Expect(repo.Create(newGrantRow("grant-soon", grant.StatusActive, func(g *grantDatamodel.Grant) {
				g.SubjectEmail = "second@corp.example"
				g.ExpiresAt = &soon
			}), nil)).To(Succeed())
			Expect(repo.Create(newGrantRow("grant-far", grant.StatusActive, func(g *grantDatamodel.Grant) {
				g.SubjectEmail = "third@corp.example"
				g.ExpiresAt = &far
			}), nil)).To(Succeed())

			rows, err := repo.ListExpiringWithin(now.AddDate(0, 0, 30))
			Expect(err).ToNot(HaveOccurred())
			Expect(rows).To(HaveLen(2))
			Expect(rows[0].ID).To(Equal("grant-soon"))
			Expect(rows[1].ID).To(Equal("grant-later"))
		})
	})
})
