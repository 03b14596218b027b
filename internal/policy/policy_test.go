package policy_test

import (
	"errors"
	"log/slog"
	"os"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	internal "github.com/nandasafiqal/access-grant-management/internal"
	policyDatamodel "github.com/nandasafiqal/access-grant-management/internal/core/datamodel/policy"
	"github.com/nandasafiqal/access-grant-management/internal/grant"
	"github.com/nandasafiqal/access-grant-management/internal/policy"
)

func TestPolicy(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Policy Suite")
}

type mockPolicyRepository struct {
	policies map[string]*policyDatamodel.Policy
	getError error
}

func newMockPolicyRepository() *mockPolicyRepository {
	m := &mockPolicyRepository{policies: make(map[string]*policyDatamodel.Policy)}
	for _, p := range policy.Defaults() {
		m.policies[p.PermissionLevel] = p
	}
	return m
}

func (m *mockPolicyRepository) GetByLevel(level string) (*policyDatamodel.Policy, error) {
	if m.getError != nil {
		return nil, m.getError
	}
	p, ok := m.policies[level]
	if !ok {
		return nil, errors.New("policy not found")
	}
	return p, nil
}

func (m *mockPolicyRepository) Upsert(p *policyDatamodel.Policy) error {
	m.policies[p.PermissionLevel] = p
	return nil
}

func (m *mockPolicyRepository) ListAll() ([]*policyDatamodel.Policy, error) {
	var out []*policyDatamodel.Policy
	for _, p := range m.policies {
		out = append(out, p)
	}
	return out, nil
}

var _ = Describe("Store", func() {
	var (
		repo  *mockPolicyRepository
		store *policy.Store
	)

	BeforeEach(func() {
		repo = newMockPolicyRepository()
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		store = policy.NewStore(repo, logger)
	})

	Describe("seeded defaults", func() {
		It("auto-approves the low levels only", func() {
			for level, want := range map[string]bool{
				grant.LevelViewer:        true,
				grant.LevelAnalyst:       true,
				grant.LevelEditor:        false,
				grant.LevelAdministrator: false,
			} {
				got, err := store.IsAutoApprovable(level)
				Expect(err).ToNot(HaveOccurred())
				Expect(got).To(Equal(want), level)
			}
		})

		It("answers the default duration per level", func() {
			days, err := store.DefaultDurationDays(grant.LevelAnalyst)
			Expect(err).ToNot(HaveOccurred())
			Expect(days).To(Equal(60))
		})
	})

	It("fails loudly for a level that was never seeded", func() {
		repo.getError = errors.New("policy not found")

		_, err := store.DefaultDurationDays("viewer")
		Expect(err).To(HaveOccurred())
	})

	Describe("Update", func() {
		It("rewrites the row for a valid level", func() {
			p, err := store.Update(grant.LevelViewer, 14, false)

			Expect(err).ToNot(HaveOccurred())
			Expect(p.DefaultDurationDays).To(Equal(14))
			Expect(p.AutoApprove).To(BeFalse())

			auto, err := store.IsAutoApprovable(grant.LevelViewer)
			Expect(err).ToNot(HaveOccurred())
			Expect(auto).To(BeFalse())
		})

		It("rejects an unknown level", func() {
			_, err := store.Update("superuser", 14, false)
			Expect(err).To(HaveOccurred())
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeInvalidLevel))
		})

		It("rejects an out-of-range duration", func() {
			_, err := store.Update(grant.LevelViewer, 0, true)
			Expect(err).To(HaveOccurred())

			_, err = store.Update(grant.LevelViewer, 366, true)
			Expect(err).To(HaveOccurred())
		})
	})
})
