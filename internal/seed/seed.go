// Package seed provisions a development tenant, agent, and API key,
// grounded on the teacher's own internal/seed.Run (idempotent
// tenant-existence check, slog progress lines, a fixed well-known dev
// credential).
package seed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/promptgate/internal/auth"
)

// DevAPIKey is the raw API key seeded for local development. Never use this
// value outside a local/dev database.
const DevAPIKey = "pg_dev_seed_key_do_not_use_in_production"

const devTenantName = "dev-tenant"

// Run provisions devTenantName with one agent and one active API key
// (DevAPIKey) if it doesn't already exist. It is safe to run repeatedly.
func Run(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	var existingID string
	err := pool.QueryRow(ctx, `SELECT id FROM tenants WHERE name = $1`, devTenantName).Scan(&existingID)
	if err == nil {
		logger.Info("seed: tenant already exists, skipping", "tenant", devTenantName, "tenant_id", existingID)
		return nil
	}
	if err != pgx.ErrNoRows {
		return fmt.Errorf("checking for existing seed tenant: %w", err)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning seed transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var tenantID string
	err = tx.QueryRow(ctx, `
		INSERT INTO tenants (name, provider_config, system_prompt, status)
		VALUES ($1, $2, $3, 'active')
		RETURNING id`,
		devTenantName,
		`{"provider":"openai"}`,
		"You are a helpful assistant.",
	).Scan(&tenantID)
	if err != nil {
		return fmt.Errorf("creating seed tenant: %w", err)
	}
	logger.Info("seed: created tenant", "tenant", devTenantName, "tenant_id", tenantID)

	var agentID string
	err = tx.QueryRow(ctx, `
		INSERT INTO agents (tenant_id, name, merge_policies, conversations_enabled, conversation_token_limit)
		VALUES ($1, $2, $3, true, 4000)
		RETURNING id`,
		tenantID,
		"default-agent",
		`{"system_prompt":"prepend","skills":"merge","mcp_endpoints":"merge"}`,
	).Scan(&agentID)
	if err != nil {
		return fmt.Errorf("creating seed agent: %w", err)
	}
	logger.Info("seed: created agent", "agent", "default-agent", "agent_id", agentID)

	keyHash := auth.HashKey(DevAPIKey)
	keyPrefix := DevAPIKey
	if len(keyPrefix) > 12 {
		keyPrefix = keyPrefix[:12]
	}

	var keyID string
	err = tx.QueryRow(ctx, `
		INSERT INTO api_keys (tenant_id, agent_id, key_hash, key_prefix, status)
		VALUES ($1, $2, $3, $4, 'active')
		RETURNING id`,
		tenantID, agentID, keyHash, keyPrefix,
	).Scan(&keyID)
	if err != nil {
		return fmt.Errorf("creating seed api key: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing seed transaction: %w", err)
	}

	logger.Info("seed: created api key", "api_key_id", keyID, "raw_key", DevAPIKey)
	return nil
}
