package main

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/vanguard-ops/console/internal/config"
	"github.com/vanguard-ops/console/internal/database"
	"github.com/vanguard-ops/console/internal/models"
	"github.com/vanguard-ops/console/internal/services"
)

// seed creates a demo community with one staff member per built-in role
// and prints a bearer token for each.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	if cfg.JWTSecret == "" {
		log.Fatal("VG_JWT_SECRET must be set to mint tokens")
	}

	db, err := database.Open(database.Options{Driver: cfg.DBDriver, Path: cfg.DatabasePath, DSN: cfg.DatabaseDSN})
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}
	fmt.Println("✓ Database migrated successfully")

	ctx := context.Background()
	community := models.Community{Name: "Demo Community"}
	if err := db.Where(models.Community{Name: community.Name}).FirstOrCreate(&community).Error; err != nil {
		log.Fatal("Failed to create community:", err)
	}

	audit := services.NewAuditService(db)
	roles, err := services.NewRoleService(db, audit).EnsureSystemRoles(ctx, community.ID)
	if err != nil {
		log.Fatal("Failed to create roles:", err)
	}
	fmt.Printf("✓ Community %s (%s)\n", community.Name, community.ID)

	tokens := services.NewTokenService(db, cfg.JWTSecret, cfg.SessionTTL)
	for _, builtin := range models.BuiltinRoles() {
		role := roles[builtin.Name]
		email := strings.ToLower(string(builtin.Name)) + "@demo.local"
		user := models.User{Email: email, Name: string(builtin.Name)}
		if err := db.Where(models.User{Email: email}).FirstOrCreate(&user).Error; err != nil {
			log.Fatalf("Failed to create user %s: %v", email, err)
		}
		membership := models.Membership{CommunityID: community.ID, UserID: user.ID, RoleID: role.ID}
		if err := db.Where(models.Membership{CommunityID: community.ID, UserID: user.ID}).
			Assign(models.Membership{RoleID: role.ID}).
			FirstOrCreate(&membership).Error; err != nil {
			log.Fatalf("Failed to create membership for %s: %v", email, err)
		}
		token, _, err := tokens.IssueSession(ctx, user.ID, community.ID, "127.0.0.1", "seed")
		if err != nil {
			log.Fatalf("Failed to issue token for %s: %v", email, err)
		}
		fmt.Printf("✓ %-9s %s\n  %s\n", builtin.Name, email, token)
	}
}
