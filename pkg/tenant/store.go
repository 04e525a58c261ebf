package tenant

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides read access to tenants, agents, and API keys backed by the
// global connection pool. It is the read path for this entity set — the
// config resolver (C3) goes through it rather than querying pgx directly
// (the dev seeder in internal/seed writes these tables itself), mirroring the teacher's
// Store-per-package convention (see pkg/apikey/store.go).
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = fmt.Errorf("tenant: not found")

const apiKeyColumns = `id, tenant_id, agent_id, key_hash, key_prefix, status`

// GetApiKeyByHash looks up an active or revoked API key by its SHA-256 hash.
// Callers check Status themselves; this does not filter by status so a
// revoked key can still be distinguished from a nonexistent one.
func (s *Store) GetApiKeyByHash(ctx context.Context, hash string) (ApiKey, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = $1`, hash)

	var k ApiKey
	err := row.Scan(&k.ID, &k.TenantID, &k.AgentID, &k.KeyHash, &k.KeyPrefix, &k.Status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ApiKey{}, ErrNotFound
		}
		return ApiKey{}, fmt.Errorf("looking up api key: %w", err)
	}
	return k, nil
}

const agentColumns = `id, tenant_id, name, provider_config, system_prompt, skills, mcp_endpoints, merge_policies, conversations_enabled, conversation_token_limit, conversation_summary_model`

// GetAgent fetches an agent by ID.
func (s *Store) GetAgent(ctx context.Context, id uuid.UUID) (Agent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)
	return scanAgent(row)
}

func scanAgent(row pgx.Row) (Agent, error) {
	var (
		a                      Agent
		providerConfig         []byte
		systemPrompt           *string
		skills                 []byte
		mcpEndpoints           []byte
		mergePolicies          []byte
		summaryModel           *string
	)

	err := row.Scan(
		&a.ID, &a.TenantID, &a.Name,
		&providerConfig, &systemPrompt, &skills, &mcpEndpoints, &mergePolicies,
		&a.Config.ConversationsEnabled, &a.Config.ConversationTokenLimit, &summaryModel,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Agent{}, ErrNotFound
		}
		return Agent{}, fmt.Errorf("scanning agent: %w", err)
	}

	a.SystemPrompt = systemPrompt
	a.Config.ConversationSummaryModel = summaryModel

	if a.ProviderConfig, err = decodeProviderConfig(providerConfig); err != nil {
		return Agent{}, err
	}
	if a.Skills, err = decodeSkills(skills); err != nil {
		return Agent{}, err
	}
	if a.MCPEndpoints, err = decodeMCPEndpoints(mcpEndpoints); err != nil {
		return Agent{}, err
	}
	if a.MergePolicies, err = decodeMergePolicy(mergePolicies); err != nil {
		return Agent{}, err
	}

	return a, nil
}

const tenantColumns = `id, name, parent_id, provider_config, system_prompt, skills, mcp_endpoints, status`

// GetTenant fetches a tenant by ID.
func (s *Store) GetTenant(ctx context.Context, id uuid.UUID) (Tenant, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
	return scanTenant(row)
}

func scanTenant(row pgx.Row) (Tenant, error) {
	var (
		t              Tenant
		providerConfig []byte
		systemPrompt   *string
		skills         []byte
		mcpEndpoints   []byte
	)

	err := row.Scan(&t.ID, &t.Name, &t.ParentID, &providerConfig, &systemPrompt, &skills, &mcpEndpoints, &t.Status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Tenant{}, ErrNotFound
		}
		return Tenant{}, fmt.Errorf("scanning tenant: %w", err)
	}

	t.SystemPrompt = systemPrompt

	if t.ProviderConfig, err = decodeProviderConfig(providerConfig); err != nil {
		return Tenant{}, err
	}
	if t.Skills, err = decodeSkills(skills); err != nil {
		return Tenant{}, err
	}
	if t.MCPEndpoints, err = decodeMCPEndpoints(mcpEndpoints); err != nil {
		return Tenant{}, err
	}

	return t, nil
}

func decodeProviderConfig(raw []byte) (*ProviderConfig, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var pc ProviderConfig
	if err := json.Unmarshal(raw, &pc); err != nil {
		return nil, fmt.Errorf("decoding provider_config: %w", err)
	}
	pc.Raw = raw
	return &pc, nil
}

func decodeSkills(raw []byte) ([]Skill, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var rawSkills []json.RawMessage
	if err := json.Unmarshal(raw, &rawSkills); err != nil {
		return nil, fmt.Errorf("decoding skills: %w", err)
	}

	skills := make([]Skill, 0, len(rawSkills))
	for _, r := range rawSkills {
		var s Skill
		if err := json.Unmarshal(r, &s); err != nil {
			return nil, fmt.Errorf("decoding skill: %w", err)
		}
		s.Raw = r
		skills = append(skills, s)
	}
	return skills, nil
}

func decodeMCPEndpoints(raw []byte) ([]MCPEndpoint, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var endpoints []MCPEndpoint
	if err := json.Unmarshal(raw, &endpoints); err != nil {
		return nil, fmt.Errorf("decoding mcp_endpoints: %w", err)
	}
	return endpoints, nil
}

func decodeMergePolicy(raw []byte) (MergePolicy, error) {
	if len(raw) == 0 {
		return DefaultMergePolicy(), nil
	}
	var mp MergePolicy
	if err := json.Unmarshal(raw, &mp); err != nil {
		return MergePolicy{}, fmt.Errorf("decoding merge_policies: %w", err)
	}
	if mp.SystemPrompt == "" {
		mp.SystemPrompt = SystemPromptPrepend
	}
	if mp.Skills == "" {
		mp.Skills = ListMerge
	}
	if mp.MCPEndpoints == "" {
		mp.MCPEndpoints = ListMerge
	}
	return mp, nil
}
