// Package tenant defines the gateway's core multi-tenant data model —
// Tenant, Agent, ApiKey, and their resolved composite, TenantContext — and
// the request-context plumbing that carries a TenantContext from the auth
// middleware (C4) through to the rest of the request pipeline.
package tenant

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// Status values for Tenant and ApiKey.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusRevoked  = "revoked"
)

// Merge policy modes (§3 MergePolicy).
const (
	SystemPromptPrepend   = "prepend"
	SystemPromptAppend    = "append"
	SystemPromptOverwrite = "overwrite"
	SystemPromptIgnore    = "ignore"

	ListMerge     = "merge"
	ListOverwrite = "overwrite"
	ListIgnore    = "ignore"
)

// Skill is a tool/function definition attached to a tenant or agent. The
// shape is intentionally an opaque JSON object save for the two fields the
// merge engine needs to identify it by.
type Skill struct {
	Name     string          `json:"name,omitempty"`
	Function *SkillFunction  `json:"function,omitempty"`
	Raw      json.RawMessage `json:"-"`
}

// SkillFunction mirrors the OpenAI tool-function shape's "name" field,
// which is the dedup key when a skill is declared function-call style.
type SkillFunction struct {
	Name string `json:"name"`
}

// Key returns the dedup identity of a skill: function.name if present,
// otherwise name (§4.3 "de-duplicated by function.name (or name)").
func (s Skill) Key() string {
	if s.Function != nil && s.Function.Name != "" {
		return s.Function.Name
	}
	return s.Name
}

// MCPEndpoint is a callable Model Context Protocol tool endpoint.
type MCPEndpoint struct {
	Name   string          `json:"name"`
	URL    string          `json:"url"`
	Schema json.RawMessage `json:"schema,omitempty"`
}

// MergePolicy controls how the agent-merge engine (C5) combines a resolved
// field with the outgoing request body. Defaults per §3: prepend/merge/merge.
type MergePolicy struct {
	SystemPrompt string `json:"system_prompt"`
	Skills       string `json:"skills"`
	MCPEndpoints string `json:"mcp_endpoints"`
}

// DefaultMergePolicy returns the spec-mandated defaults.
func DefaultMergePolicy() MergePolicy {
	return MergePolicy{
		SystemPrompt: SystemPromptPrepend,
		Skills:       ListMerge,
		MCPEndpoints: ListMerge,
	}
}

// ProviderConfig describes which upstream provider an agent/tenant targets
// and the credentials/endpoint needed to reach it. It is stored and
// resolved as an opaque JSON blob; only Provider is a field every adapter
// needs, so it is promoted to a typed member.
type ProviderConfig struct {
	Provider string          `json:"provider"` // "openai" | "azure" | "ollama"
	Raw      json.RawMessage `json:"-"`
}

// AgentConfig holds the conversation-related flags owned by an Agent (§3).
type AgentConfig struct {
	ConversationsEnabled  bool    `json:"conversations_enabled"`
	ConversationTokenLimit int    `json:"conversation_token_limit"`
	ConversationSummaryModel *string `json:"conversation_summary_model,omitempty"`
}

// DefaultAgentConfig returns the spec-mandated defaults (§4.3).
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		ConversationsEnabled:   false,
		ConversationTokenLimit: 4000,
	}
}

// Tenant is a node in the tenant forest (§3).
type Tenant struct {
	ID             uuid.UUID
	Name           string
	ParentID       *uuid.UUID
	ProviderConfig *ProviderConfig
	SystemPrompt   *string
	Skills         []Skill
	MCPEndpoints   []MCPEndpoint
	Status         string
}

// Agent is a named configuration inside a tenant that owns API keys (§3).
type Agent struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	Name           string
	ProviderConfig *ProviderConfig
	SystemPrompt   *string
	Skills         []Skill
	MCPEndpoints   []MCPEndpoint
	MergePolicies  MergePolicy
	Config         AgentConfig
}

// ApiKey is a caller credential bound to exactly one agent (§3). Only the
// SHA-256 hash of the raw key is ever persisted.
type ApiKey struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	AgentID   uuid.UUID
	KeyHash   string
	KeyPrefix string
	Status    string
}

// Context is the fully resolved, cacheable view of an authenticated
// request's configuration (§3 TenantContext). It is the value C2 caches
// and C3 produces.
type Context struct {
	AgentID      uuid.UUID
	TenantID     uuid.UUID
	AgentName    string

	ResolvedSystemPrompt   *string
	ResolvedSkills         []Skill
	ResolvedMCPEndpoints   []MCPEndpoint
	ResolvedProviderConfig *ProviderConfig

	MergePolicies MergePolicy
	AgentConfig   AgentConfig
}

type ctxKey string

const contextKey ctxKey = "tenant_context"

// NewContext stores a resolved TenantContext in the request context.
func NewContext(ctx context.Context, tc *Context) context.Context {
	return context.WithValue(ctx, contextKey, tc)
}

// FromContext extracts the resolved TenantContext. Returns nil if absent.
func FromContext(ctx context.Context) *Context {
	v, _ := ctx.Value(contextKey).(*Context)
	return v
}
