// Package configresolver implements the on-cache-miss lookup and
// hierarchical merge that produces a tenant.Context from a hashed API key
// (C3).
package configresolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/wisbric/promptgate/pkg/tenant"
)

// MaxHops bounds the parent-chain walk (§4.3). Exceeding it terminates
// resolution with whatever has been gathered so far rather than an error.
const MaxHops = 10

// ErrInvalidKey is returned when key_hash matches no active API key.
var ErrInvalidKey = errors.New("configresolver: invalid key")

// ErrTenantInactive is returned when the owning tenant's status is not
// "active".
var ErrTenantInactive = errors.New("configresolver: tenant inactive")

// store is the subset of tenant.Store the resolver depends on.
type store interface {
	GetApiKeyByHash(ctx context.Context, hash string) (tenant.ApiKey, error)
	GetAgent(ctx context.Context, id uuid.UUID) (tenant.Agent, error)
	GetTenant(ctx context.Context, id uuid.UUID) (tenant.Tenant, error)
}

// Resolver resolves a hashed API key into a full tenant.Context.
type Resolver struct {
	store  store
	logger *slog.Logger
}

// New creates a Resolver backed by s.
func New(s store, logger *slog.Logger) *Resolver {
	return &Resolver{store: s, logger: logger}
}

// chainLink carries the fields one entity in the resolution chain
// contributes. Agent and Tenant values are adapted to this common shape so
// the merge loop below doesn't care which kind of entity it's looking at.
type chainLink struct {
	providerConfig *tenant.ProviderConfig
	systemPrompt   *string
	skills         []tenant.Skill
	mcpEndpoints   []tenant.MCPEndpoint
}

// Resolve looks up keyHash and produces its resolved tenant.Context.
func (r *Resolver) Resolve(ctx context.Context, keyHash string) (*tenant.Context, error) {
	apiKey, err := r.store.GetApiKeyByHash(ctx, keyHash)
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			return nil, ErrInvalidKey
		}
		return nil, fmt.Errorf("configresolver: looking up api key: %w", err)
	}
	if apiKey.Status != tenant.StatusActive {
		return nil, ErrInvalidKey
	}

	ag, err := r.store.GetAgent(ctx, apiKey.AgentID)
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			return nil, ErrInvalidKey
		}
		return nil, fmt.Errorf("configresolver: loading agent: %w", err)
	}

	root, err := r.store.GetTenant(ctx, ag.TenantID)
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			return nil, ErrInvalidKey
		}
		return nil, fmt.Errorf("configresolver: loading tenant: %w", err)
	}
	if root.Status != tenant.StatusActive {
		return nil, ErrTenantInactive
	}

	chain := []chainLink{
		{providerConfig: ag.ProviderConfig, systemPrompt: ag.SystemPrompt, skills: ag.Skills, mcpEndpoints: ag.MCPEndpoints},
		{providerConfig: root.ProviderConfig, systemPrompt: root.SystemPrompt, skills: root.Skills, mcpEndpoints: root.MCPEndpoints},
	}

	visited := map[uuid.UUID]bool{root.ID: true}
	current := root
	for hops := 0; current.ParentID != nil && hops < MaxHops; hops++ {
		parentID := *current.ParentID
		if visited[parentID] {
			r.logger.Warn("tenant parent chain cycle detected, terminating resolution",
				"tenant_id", root.ID, "cycle_at", parentID)
			break
		}

		parent, err := r.store.GetTenant(ctx, parentID)
		if err != nil {
			if errors.Is(err, tenant.ErrNotFound) {
				r.logger.Warn("tenant parent chain references missing tenant, terminating resolution",
					"tenant_id", root.ID, "missing_parent", parentID)
				break
			}
			return nil, fmt.Errorf("configresolver: loading parent tenant: %w", err)
		}

		chain = append(chain, chainLink{
			providerConfig: parent.ProviderConfig,
			systemPrompt:   parent.SystemPrompt,
			skills:         parent.Skills,
			mcpEndpoints:   parent.MCPEndpoints,
		})
		visited[parentID] = true
		current = parent
	}

	return &tenant.Context{
		AgentID:   ag.ID,
		TenantID:  ag.TenantID,
		AgentName: ag.Name,

		ResolvedProviderConfig: firstNonNilProviderConfig(chain),
		ResolvedSystemPrompt:   firstNonNilSystemPrompt(chain),
		ResolvedSkills:         mergeSkills(chain),
		ResolvedMCPEndpoints:   mergeMCPEndpoints(chain),

		MergePolicies: ag.MergePolicies,
		AgentConfig:   ag.Config,
	}, nil
}

func firstNonNilProviderConfig(chain []chainLink) *tenant.ProviderConfig {
	for _, link := range chain {
		if link.providerConfig != nil {
			return link.providerConfig
		}
	}
	return nil
}

func firstNonNilSystemPrompt(chain []chainLink) *string {
	for _, link := range chain {
		if link.systemPrompt != nil {
			return link.systemPrompt
		}
	}
	return nil
}

// mergeSkills unions skills across the chain, de-duplicated by Key();
// earlier entries (agent first) take precedence on collision.
func mergeSkills(chain []chainLink) []tenant.Skill {
	seen := make(map[string]bool)
	var out []tenant.Skill
	for _, link := range chain {
		for _, skill := range link.skills {
			key := skill.Key()
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, skill)
		}
	}
	return out
}

// mergeMCPEndpoints unions endpoints across the chain, de-duplicated by
// name; earlier wins.
func mergeMCPEndpoints(chain []chainLink) []tenant.MCPEndpoint {
	seen := make(map[string]bool)
	var out []tenant.MCPEndpoint
	for _, link := range chain {
		for _, ep := range link.mcpEndpoints {
			if seen[ep.Name] {
				continue
			}
			seen[ep.Name] = true
			out = append(out, ep)
		}
	}
	return out
}
