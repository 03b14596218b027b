package provider_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nandasafiqal/access-grant-management/internal/provider"
)

func TestProviderClient(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "ProviderClient Suite")
}

var _ = Describe("Client", func() {
	var (
		server *httptest.Server
		ctx    context.Context
	)

	newClient := func(apiURL string) *provider.Client {
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		return provider.NewClient(provider.Config{
			APIURL:      apiURL,
			APIKey:      "test-key",
			MaxAttempts: 3,
			BackoffBase: time.Millisecond,
		}, logger)
	}

	BeforeEach(func() {
		ctx = context.Background()
	})

	AfterEach(func() {
		if server != nil {
			server.Close()
			server = nil
		}
	})

	Describe("Bind", func() {
		It("creates a binding and returns its id", func() {
			var gotMethod, gotPath, gotKey, gotAuth string
			server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotMethod = r.Method
				gotPath = r.URL.Path
				gotKey = r.Header.Get("Idempotency-Key")
				gotAuth = r.Header.Get("Authorization")
				w.WriteHeader(http.StatusCreated)
				w.Write([]byte(`{"data":{"id":"binding-abc"}}`))
			}))

			client := newClient(server.URL)
			ref, err := client.Bind(ctx, "analyst@corp.example", "acct-100", "prop-200", "viewer", "grant-1")

			Expect(err).ToNot(HaveOccurred())
			Expect(ref).To(Equal("binding-abc"))
			Expect(gotMethod).To(Equal(http.MethodPost))
			Expect(gotPath).To(Equal("/bindings"))
			Expect(gotKey).To(Equal("grant-1"))
			Expect(gotAuth).To(Equal("Bearer test-key"))
		})

		It("retries transient failures until the provider recovers", func() {
			var calls int32
			server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if atomic.AddInt32(&calls, 1) < 3 {
					w.WriteHeader(http.StatusServiceUnavailable)
					return
				}
				w.Write([]byte(`{"data":{"id":"binding-abc"}}`))
			}))

			client := newClient(server.URL)
			ref, err := client.Bind(ctx, "analyst@corp.example", "acct-100", "prop-200", "viewer", "grant-1")

			Expect(err).ToNot(HaveOccurred())
			Expect(ref).To(Equal("binding-abc"))
			Expect(atomic.LoadInt32(&calls)).To(Equal(int32(3)))
		})

		It("treats 429 as transient", func() {
			var calls int32
			server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if atomic.AddInt32(&calls, 1) == 1 {
					w.WriteHeader(http.StatusTooManyRequests)
					return
				}
				w.Write([]byte(`{"data":{"id":"binding-abc"}}`))
			}))

			client := newClient(server.URL)
			_, err := client.Bind(ctx, "analyst@corp.example", "acct-100", "prop-200", "viewer", "grant-1")

			Expect(err).ToNot(HaveOccurred())
			Expect(atomic.LoadInt32(&calls)).To(Equal(int32(2)))
		})

		It("does not retry a permanent rejection", func() {
			var calls int32
			server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`unknown property`))
			}))

			client := newClient(server.URL)
			_, err := client.Bind(ctx, "analyst@corp.example", "acct-100", "prop-200", "viewer", "grant-1")

			Expect(err).To(HaveOccurred())
			Expect(provider.IsPermanent(err)).To(BeTrue())
			Expect(atomic.LoadInt32(&calls)).To(Equal(int32(1)))
		})

		It("gives up after the attempt budget on a persistent outage", func() {
			var calls int32
			server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(http.StatusBadGateway)
			}))

			client := newClient(server.URL)
			_, err := client.Bind(ctx, "analyst@corp.example", "acct-100", "prop-200", "viewer", "grant-1")

			Expect(err).To(HaveOccurred())
			Expect(provider.IsPermanent(err)).To(BeFalse())
			Expect(atomic.LoadInt32(&calls)).To(Equal(int32(3)))
		})
	})

	Describe("Unbind", func() {
		It("deletes the binding by reference", func() {
			var gotMethod, gotPath string
			server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotMethod = r.Method
				gotPath = r.URL.Path
				w.WriteHeader(http.StatusNoContent)
			}))

			client := newClient(server.URL)
			Expect(client.Unbind(ctx, "binding-abc")).To(Succeed())
			Expect(gotMethod).To(Equal(http.MethodDelete))
			Expect(gotPath).To(Equal("/bindings/binding-abc"))
		})

		It("treats an unknown reference as already removed", func() {
			server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			}))

			client := newClient(server.URL)
			Expect(client.Unbind(ctx, "binding-gone")).To(Succeed())
		})

		It("surfaces a transient failure after exhausting retries", func() {
			var calls int32
			server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(http.StatusInternalServerError)
			}))

			client := newClient(server.URL)
			err := client.Unbind(ctx, "binding-abc")

			Expect(err).To(HaveOccurred())
			Expect(atomic.LoadInt32(&calls)).To(Equal(int32(3)))
		})
	})

	Describe("ListBindings", func() {
		It("returns the provider's bindings for a resource", func() {
			var gotAccount, gotProperty string
			server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotAccount = r.URL.Query().Get("account_id")
				gotProperty = r.URL.Query().Get("property_id")
				w.Write([]byte(`{"data":[{"id":"binding-1","subject_email":"a@corp.example"},{"id":"binding-2","subject_email":"b@corp.example"}]}`))
			}))

			client := newClient(server.URL)
			bindings, err := client.ListBindings(ctx, "acct-100", "prop-200")

			Expect(err).ToNot(HaveOccurred())
			Expect(bindings).To(HaveLen(2))
			Expect(bindings[0].ID).To(Equal("binding-1"))
			Expect(gotAccount).To(Equal("acct-100"))
			Expect(gotProperty).To(Equal("prop-200"))
		})
	})
})
