package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harborline/marketfleet-backend/pkg/migrate"
)

func TestMigrationDirValidates(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations dir: %v", err)
	}
}

func TestInitialSchemaContainsConstraints(t *testing.T) {
	content := readMigration(t, "*_initial_schema.sql")

	checks := []string{
		"CREATE TABLE inventory_items",
		"CHECK (available_qty >= 0)",
		"CHECK (reserved_qty >= 0)",
		"CREATE UNIQUE INDEX idx_orders_stripe_session_id",
		"CREATE UNIQUE INDEX idx_orders_stripe_payment_intent_id",
		"DROP TABLE orders",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestPayoutMigrationGuardsDoubleSpend(t *testing.T) {
	content := readMigration(t, "*_payments_and_payouts.sql")

	// One payout item per transaction is the double-payout guard.
	if !strings.Contains(content, "CREATE UNIQUE INDEX idx_payout_items_transaction_id") {
		t.Errorf("missing unique index on payout_items.transaction_id")
	}
}

func readMigration(t *testing.T, pattern string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", pattern))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no migration matching %q found", pattern)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}
