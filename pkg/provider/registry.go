package provider

import (
	"encoding/json"
	"fmt"

	"github.com/wisbric/promptgate/pkg/tenant"
)

// New builds the Provider adapter named by cfg.Provider (§4.6). Selection
// is driven entirely by resolved_provider_config.provider.
func New(cfg *tenant.ProviderConfig) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("provider: no resolved provider_config")
	}

	raw := cfg.Raw
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}

	switch cfg.Provider {
	case "openai":
		return NewOpenAIAdapter(raw)
	case "azure":
		return NewAzureAdapter(raw)
	case "ollama":
		return NewOllamaAdapter(raw)
	default:
		return nil, fmt.Errorf("provider: unknown provider %q", cfg.Provider)
	}
}
