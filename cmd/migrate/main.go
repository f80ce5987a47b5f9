package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"readiness/internal/pkg/ids"
	"readiness/internal/platform/auth"
	"readiness/internal/platform/config"
	"readiness/internal/platform/database"
	"readiness/internal/platform/models"
	"readiness/internal/platform/repositories"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	direction := flag.String("direction", "up", "Migration direction: up or down")
	steps := flag.Int("steps", 0, "Number of migrations to apply (0 means all)")
	orgID := flag.String("org-id", "", "Organization ID to seed after migrating")
	orgName := flag.String("org-name", "", "Organization display name")
	orgSlug := flag.String("org-slug", "", "Organization slug (defaults to the ID)")
	issueKey := flag.String("issue-key-permissions", "", "Comma separated permissions; issues an API key for -org-id and prints it")
	keyName := flag.String("key-name", "bootstrap", "Name of the issued API key")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	switch database.Direction(*direction) {
	case database.Up, database.Down:
	default:
		log.Fatal("Invalid direction: must be 'up' or 'down'")
	}
	if err := database.Migrate(db, database.Direction(*direction), *steps); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	fmt.Println("Migration completed successfully")

	if *orgID == "" {
		if *issueKey != "" {
			log.Fatal("--org-id flag required to issue an API key")
		}
		return
	}

	ctx := context.Background()
	org := &models.Organization{
		ID:        *orgID,
		Name:      *orgName,
		Slug:      *orgSlug,
		CreatedAt: time.Now().Unix(),
	}
	if org.Name == "" {
		org.Name = org.ID
	}
	if org.Slug == "" {
		org.Slug = org.ID
	}
	if err := repositories.NewOrganizationRepository(db).Upsert(ctx, org); err != nil {
		log.Fatalf("Failed to seed organization: %v", err)
	}
	fmt.Printf("Organization %s ready\n", org.ID)

	if *issueKey == "" {
		return
	}

	var perms []string
	for _, p := range strings.Split(*issueKey, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !auth.IsKnownPermission(p) {
			log.Fatalf("Unknown permission %q", p)
		}
		perms = append(perms, p)
	}
	if len(perms) == 0 {
		log.Fatal("No permissions given")
	}

	raw, hash, prefix, err := auth.GenerateAPIKey()
	if err != nil {
		log.Fatalf("Failed to generate API key: %v", err)
	}
	key := &models.APIKey{
		ID:             ids.NewAPIKeyID(),
		OrganizationID: org.ID,
		UserID:         "system",
		Name:           *keyName,
		KeyHash:        hash,
		KeyPrefix:      prefix,
		Permissions:    perms,
		CreatedAt:      time.Now().Unix(),
	}
	if err := repositories.NewAPIKeyRepository(db).Create(ctx, key); err != nil {
		log.Fatalf("Failed to store API key: %v", err)
	}

	fmt.Printf("API key %s (%s): %s\n", key.ID, strings.Join(perms, ","), raw)
	fmt.Println("Store this API key securely. It will not be shown again.")
}
