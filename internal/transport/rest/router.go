package rest

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
	"github.com/nandasafiqal/access-grant-management/internal/auth"
	"github.com/nandasafiqal/access-grant-management/internal/grant"
	"github.com/nandasafiqal/access-grant-management/internal/policy"
	"github.com/nandasafiqal/access-grant-management/internal/transport/middleware"
	"github.com/nandasafiqal/access-grant-management/internal/transport/swagger"
)

func RegisterAllRoutes(router *chi.Mux, db *sql.DB, validator *auth.TokenValidator, grantHandler *grant.Handler, policyHandler *policy.Handler, logger *slog.Logger) {
	healthHandler := NewHealthHandler(db)

	// Apply global middleware
	router.Use(middleware.CORS)
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))

	// Serve OpenAPI spec at root (outside API prefix)
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yml")
	})
	// Swagger UI route at root
	router.Handle("/swagger/*", swagger.Handler())

	// Mount API under /api/v1 to match OpenAPI basePath
	router.Route("/api/v1", func(r chi.Router) {
		// Health check route
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		// Protected routes that require authentication
		r.Group(func(pr chi.Router) {
			pr.Use(middleware.Authentication(validator, logger))

			if grantHandler != nil {
				pr.Route("/grants", func(gr chi.Router) {
					gr.Post("/", grantHandler.CreateGrant)            // POST /grants
					gr.Get("/", grantHandler.ListGrants)              // GET /grants?status=
					gr.Get("/expiring", grantHandler.ListExpiringGrants) // GET /grants/expiring
					gr.Get("/{id}", grantHandler.GetGrant)            // GET /grants/:id
					gr.Get("/{id}/audit", grantHandler.GetAuditTrail) // GET /grants/:id/audit

					gr.Patch("/{id}/approve", grantHandler.ApproveGrant) // PATCH /grants/:id/approve
					gr.Patch("/{id}/reject", grantHandler.RejectGrant)   // PATCH /grants/:id/reject
					gr.Patch("/{id}/extend", grantHandler.ExtendGrant)   // PATCH /grants/:id/extend
					gr.Patch("/{id}/revoke", grantHandler.RevokeGrant)   // PATCH /grants/:id/revoke
				})

				pr.Get("/subjects/{email}/grants", grantHandler.ListSubjectGrants)
			}

			if policyHandler != nil {
				pr.Route("/policies", func(plr chi.Router) {
					plr.Get("/", policyHandler.ListPolicies)
					plr.Put("/{level}", policyHandler.UpdatePolicy)
				})
			}
		})
	})
}
