package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"curetrack/infrastructure/argon"
	"curetrack/infrastructure/rbac"
	"curetrack/infrastructure/session"
	"curetrack/infrastructure/sqlite"
)

func main() {
	username := flag.String("username", "admin", "user to create or update")
	role := flag.String("role", rbac.RoleAdmin, "role: admin or operator")
	flag.Parse()

	migrationsDir, err := resolveMigrationsDir()
	if err != nil {
		log.Fatalf("resolve migrations dir: %v", err)
	}

	defaultDBPath := filepath.Join(filepath.Dir(filepath.Dir(filepath.Dir(migrationsDir))), "curetrack.db")
	dbPath := getenv("SQLITE_PATH", defaultDBPath)

	db, err := sqlite.OpenDB(dbPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if err := sqlite.ApplyMigrations(context.Background(), db, migrationsDir); err != nil {
		log.Fatalf("apply migrations: %v", err)
	}

	password := os.Getenv("SEED_PASSWORD")
	if password == "" {
		log.Fatalf("SEED_PASSWORD must be set")
	}
	id, err := session.UpsertUser(context.Background(), db, argon.NewHasher(argon.DefaultParams), *username, *role, password)
	if err != nil {
		log.Fatalf("seed user: %v", err)
	}

	fmt.Printf("seeded %s user (username=%s id=%d)\n", *role, *username, id)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func resolveMigrationsDir() (string, error) {
	candidates := []string{
		filepath.Join("infrastructure", "sqlite", "migrations"),
		filepath.Join("..", "..", "infrastructure", "sqlite", "migrations"),
	}

	if _, file, _, ok := runtime.Caller(0); ok {
		candidates = append(candidates, filepath.Join(filepath.Dir(file), "..", "..", "infrastructure", "sqlite", "migrations"))
	}

	tried := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		absPath, err := filepath.Abs(candidate)
		if err != nil {
			continue
		}
		tried = append(tried, absPath)

		info, err := os.Stat(absPath)
		if err != nil {
			continue
		}
		if info.IsDir() {
			return absPath, nil
		}
	}

	return "", fmt.Errorf("migrations dir not found; tried: %s", strings.Join(tried, ", "))
}
