// Command migrate applies the outbox schema migrations under migrations/
// to the database named by DB_CONNECTION_STRING. It understands plain
// golang-migrate-style *.up.sql file naming but does not depend on the
// golang-migrate library itself — applying a handful of outbox DDL
// statements does not need its full migration-state machinery.
package main

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	dbURL := os.Getenv("DB_CONNECTION_STRING")
	if dbURL == "" {
		log.Fatal("DB_CONNECTION_STRING environment variable is required")
	}

	dir := os.Getenv("OUTBOX_MIGRATIONS_DIR")
	if dir == "" {
		dir = "migrations"
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		log.Fatalf("migrate: connect: %v", err)
	}
	defer pool.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Fatalf("migrate: read %s: %v", dir, err)
	}
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		sqlBytes, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			log.Fatalf("migrate: read %s: %v", name, err)
		}
		log.Printf("migrate: applying %s", name)
		if _, err := pool.Exec(ctx, string(sqlBytes)); err != nil {
			log.Fatalf("migrate: apply %s: %v", name, err)
		}
	}
	log.Println("migrate: done")
}
