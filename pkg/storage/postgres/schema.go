package postgres

import (
	"context"
	"fmt"
)

var schema = []struct {
	name  string
	query string
}{
	{"users", `
	CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		tier VARCHAR(20) NOT NULL DEFAULT 'free',
		role VARCHAR(20) NOT NULL DEFAULT 'user',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		password_hash TEXT,
		stripe_customer_id TEXT,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_users_stripe_customer_id ON users(stripe_customer_id);
	`},
	{"usage_counters", `
	CREATE TABLE IF NOT EXISTS usage_counters (
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		date DATE NOT NULL,
		daily_checks_used INTEGER NOT NULL DEFAULT 0 CHECK (daily_checks_used >= 0),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		PRIMARY KEY (user_id, date)
	);

	CREATE INDEX IF NOT EXISTS idx_usage_counters_date ON usage_counters(date);
	`},
	{"membership_audit", `
	CREATE TABLE IF NOT EXISTS membership_audit (
		id BIGSERIAL PRIMARY KEY,
		email TEXT NOT NULL,
		stripe_event_id TEXT UNIQUE,
		event_type VARCHAR(100),
		old_tier VARCHAR(20),
		new_tier VARCHAR(20) NOT NULL,
		stripe_customer_id TEXT,
		reason VARCHAR(50) NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_membership_audit_email ON membership_audit(email, created_at DESC);
	`},
	{"webhook_events", `
	CREATE TABLE IF NOT EXISTS webhook_events (
		stripe_event_id TEXT PRIMARY KEY,
		type VARCHAR(100) NOT NULL,
		payload JSONB NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'received',
		error TEXT,
		attempts INTEGER NOT NULL DEFAULT 1,
		received_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		processed_at TIMESTAMP WITH TIME ZONE
	);

	CREATE INDEX IF NOT EXISTS idx_webhook_events_status ON webhook_events(status);
	`},
	{"magic_links", `
	CREATE TABLE IF NOT EXISTS magic_links (
		token_hash TEXT PRIMARY KEY,
		email TEXT NOT NULL,
		purpose VARCHAR(20) NOT NULL,
		expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
		consumed_at TIMESTAMP WITH TIME ZONE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_magic_links_expires_at ON magic_links(expires_at);
	`},
	{"sessions", `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		email TEXT NOT NULL,
		expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);
	`},
}

// EnsureSchema creates any missing tables and indexes. It is safe to run on
// every start.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, table := range schema {
		if _, err := s.db.ExecContext(ctx, table.query); err != nil {
			return fmt.Errorf("failed to ensure %s table: %w", table.name, err)
		}
	}
	return nil
}
