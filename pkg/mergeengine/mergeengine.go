// Package mergeengine applies a resolved tenant.Context's merge policies to
// an outgoing chat request body (C5). Apply never mutates its input.
package mergeengine

import (
	"encoding/json"

	"github.com/wisbric/promptgate/pkg/tenant"
)

// Apply returns a copy of body with the resolved system prompt and
// skills/tools merged in according to tc.MergePolicies. body must be a
// JSON object with an OpenAI-shaped "messages" array and optional "tools"
// array; any other top-level fields pass through unchanged.
func Apply(body []byte, tc *tenant.Context) ([]byte, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}

	out := make(map[string]json.RawMessage, len(doc))
	for k, v := range doc {
		out[k] = v
	}

	messages, err := applySystemPrompt(out["messages"], tc)
	if err != nil {
		return nil, err
	}
	if messages != nil {
		out["messages"] = messages
	}

	tools, err := applyTools(out["tools"], tc)
	if err != nil {
		return nil, err
	}
	if tools != nil {
		out["tools"] = tools
	}

	return json.Marshal(out)
}

// applySystemPrompt implements the system_prompt merge policy (§4.5). It
// returns nil if the field is absent/empty or the policy leaves messages
// untouched, signaling the caller to keep the original field as-is.
func applySystemPrompt(rawMessages json.RawMessage, tc *tenant.Context) (json.RawMessage, error) {
	if tc.ResolvedSystemPrompt == nil || *tc.ResolvedSystemPrompt == "" {
		return nil, nil
	}
	if tc.MergePolicies.SystemPrompt == tenant.SystemPromptIgnore {
		return nil, nil
	}

	var messages []json.RawMessage
	if len(rawMessages) > 0 {
		if err := json.Unmarshal(rawMessages, &messages); err != nil {
			return nil, err
		}
	}

	systemMsg, err := json.Marshal(map[string]string{
		"role":    "system",
		"content": *tc.ResolvedSystemPrompt,
	})
	if err != nil {
		return nil, err
	}

	switch tc.MergePolicies.SystemPrompt {
	case tenant.SystemPromptPrepend:
		messages = append([]json.RawMessage{systemMsg}, messages...)
	case tenant.SystemPromptAppend:
		messages = append(messages, systemMsg)
	case tenant.SystemPromptOverwrite:
		filtered := messages[:0:0]
		for _, m := range messages {
			if !isSystemMessage(m) {
				filtered = append(filtered, m)
			}
		}
		messages = append([]json.RawMessage{systemMsg}, filtered...)
	default:
		return nil, nil
	}

	return json.Marshal(messages)
}

func isSystemMessage(raw json.RawMessage) bool {
	var m struct {
		Role string `json:"role"`
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return false
	}
	return m.Role == "system"
}

// applyTools implements the skills/tools merge policy (§4.5). Returns nil
// if there is nothing to merge in or the policy leaves the field as-is.
func applyTools(rawTools json.RawMessage, tc *tenant.Context) (json.RawMessage, error) {
	if len(tc.ResolvedSkills) == 0 {
		return nil, nil
	}
	policy := tc.MergePolicies.Skills
	if policy == tenant.ListIgnore {
		return nil, nil
	}

	resolvedTools := make([]json.RawMessage, 0, len(tc.ResolvedSkills))
	for _, s := range tc.ResolvedSkills {
		raw := s.Raw
		if len(raw) == 0 {
			marshaled, err := json.Marshal(s)
			if err != nil {
				return nil, err
			}
			raw = marshaled
		}
		resolvedTools = append(resolvedTools, raw)
	}

	if policy == tenant.ListOverwrite {
		return json.Marshal(resolvedTools)
	}

	// merge: concatenate with resolved agent tools taking precedence,
	// de-duplicated by function.name (or name).
	var existing []json.RawMessage
	if len(rawTools) > 0 {
		if err := json.Unmarshal(rawTools, &existing); err != nil {
			return nil, err
		}
	}

	seen := make(map[string]bool, len(resolvedTools))
	for _, s := range tc.ResolvedSkills {
		seen[s.Key()] = true
	}

	merged := make([]json.RawMessage, 0, len(resolvedTools)+len(existing))
	merged = append(merged, resolvedTools...)
	for _, raw := range existing {
		key := toolKey(raw)
		if seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, raw)
	}

	return json.Marshal(merged)
}

// toolKey extracts the dedup key from a raw tool/function JSON object,
// mirroring tenant.Skill.Key().
func toolKey(raw json.RawMessage) string {
	var t struct {
		Name     string `json:"name"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(raw, &t); err != nil {
		return ""
	}
	if t.Function.Name != "" {
		return t.Function.Name
	}
	return t.Name
}
