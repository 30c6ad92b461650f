package registry

import (
	"context"
	"fmt"
)

// Bootstrap creates the transactions table and its expected indexes when
// absent. Statements are issued one at a time; each is idempotent.
func (r *Registry) Bootstrap(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			transaction_id        TEXT PRIMARY KEY,
			order_id              TEXT NOT NULL,
			amount                NUMERIC(20,6) NOT NULL,
			order_type            TEXT NOT NULL,
			customer_uid          TEXT NOT NULL,
			status                TEXT NOT NULL,
			direction             TEXT NOT NULL,
			payment_method        TEXT NOT NULL,
			currency              TEXT NOT NULL,
			platform              TEXT NOT NULL,
			ip_address            TEXT,
			user_agent            TEXT,
			parent_transaction_id TEXT,
			dispute_id            TEXT,
			refund_reason         TEXT,
			refund_amount         NUMERIC(20,6),
			meta                  JSONB,
			owners                JSONB NOT NULL,
			owner_allocations     JSONB,
			products              JSONB,
			write_status          TEXT NOT NULL DEFAULT 'confirmed',
			is_deleted            BOOLEAN NOT NULL DEFAULT false,
			deleted_at            TIMESTAMPTZ,
			created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, r.table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%[1]s_created_at ON %[1]s (created_at DESC)", r.table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%[1]s_customer_uid ON %[1]s (customer_uid)", r.table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%[1]s_status ON %[1]s (status)", r.table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%[1]s_order_type ON %[1]s (order_type)", r.table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%[1]s_owners ON %[1]s USING GIN (owners)", r.table),
	}

	for _, stmt := range statements {
		if _, err := r.store.Query(ctx, stmt); err != nil {
			return err
		}
	}

	// updated_at tracks every UPDATE without relying on callers.
	trigger := []string{
		`CREATE OR REPLACE FUNCTION set_updated_at() RETURNS trigger AS $fn$
		BEGIN
			NEW.updated_at = NOW();
			RETURN NEW;
		END
		$fn$ LANGUAGE plpgsql`,
		fmt.Sprintf(`DROP TRIGGER IF EXISTS trg_%[1]s_updated_at ON %[1]s`, r.table),
		fmt.Sprintf(`CREATE TRIGGER trg_%[1]s_updated_at BEFORE UPDATE ON %[1]s
			FOR EACH ROW EXECUTE FUNCTION set_updated_at()`, r.table),
	}
	for _, stmt := range trigger {
		if _, err := r.store.Query(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
