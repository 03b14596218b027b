package cmd

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/nandasafiqal/access-grant-management/internal/auth"
	"github.com/nandasafiqal/access-grant-management/internal/policy"
	policyPostgres "github.com/nandasafiqal/access-grant-management/internal/policy/postgres"
	"github.com/nandasafiqal/access-grant-management/pkg/logger"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with default policies",
	Long:  `Seed the per-level approval policies and print development tokens for trying out the API.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(".")
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		logger.Init(os.Getenv("APP_ENV"))
		lg := logger.L()

		db, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}
		defer db.Close()

		gormDB, err := initGorm(db)
		if err != nil {
			log.Fatalf("failed to init gorm: %v", err)
		}

		if clearData {
			if err := gormDB.Exec("DELETE FROM policies").Error; err != nil {
				log.Fatalf("failed to clear policies: %v", err)
			}
			fmt.Println("Cleared existing policies")
		}

		repo := policyPostgres.NewPolicyRepository(gormDB)
		for _, p := range policy.Defaults() {
			if err := repo.Upsert(p); err != nil {
				log.Fatalf("failed to seed policy %s: %v", p.PermissionLevel, err)
			}
			fmt.Printf("Seeded policy: %s (duration %dd, auto_approve=%t)\n",
				p.PermissionLevel, p.DefaultDurationDays, p.AutoApprove)
		}

		lg.Info("policies seeded")

		// Development tokens so the API is usable right after seeding. The
		// admin can approve and revoke anywhere; the requester is scoped to
		// one client.
		tokens := []struct {
			name  string
			actor auth.Actor
		}{
			{
				name: "admin",
				actor: auth.Actor{
					Email:       "admin@example.com",
					Permissions: []string{auth.PermissionAdmin},
				},
			},
			{
				name: "requester",
				actor: auth.Actor{
					Email:       "requester@example.com",
					Permissions: []string{auth.PermissionRequestGrants},
					ClientIDs:   []string{"client-demo"},
				},
			},
		}

		for _, t := range tokens {
			token, err := auth.GenerateToken(cfg.Security.JWTSecret, t.actor, 24*time.Hour)
			if err != nil {
				log.Fatalf("failed to generate %s token: %v", t.name, err)
			}
			fmt.Printf("\n%s token (%s):\n%s\n", t.name, t.actor.Email, token)
		}
	},
}
