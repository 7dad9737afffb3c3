package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stallfront/stallfront-backend/pkg/migrate"
)

func TestPayoutBatchesMigrationContainsSchemas(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_payout_batches_table.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no payout batches migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TYPE payout_batch_status_enum AS ENUM ('completed', 'partial', 'failed')",
		"CREATE TABLE IF NOT EXISTS payout_batches",
		"batch_id TEXT PRIMARY KEY",
		"results JSONB NOT NULL DEFAULT '[]'::jsonb",
		"DROP TABLE IF EXISTS payout_batches",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestMigrationsDirIsValid(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations dir: %v", err)
	}
}
