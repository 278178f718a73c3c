package embed

import (
	"strings"

	"github.com/chunkhound/chunkhound/internal/chunkerr"
)

// ProviderType names one of the supported HTTP embedding APIs (§4.5,
// DOMAIN STACK: openai, openai-compatible, tei, bge-in-icl).
type ProviderType string

const (
	ProviderOpenAI           ProviderType = "openai"
	ProviderOpenAICompatible ProviderType = "openai-compatible"
	ProviderTEI              ProviderType = "tei"
	ProviderBGEInICL         ProviderType = "bge-in-icl"
)

// bgeICLInstruction is prepended to every text embedded through the
// bge-in-icl provider; this is the in-context instruction BGE's ICL
// variants expect ahead of the content to embed.
const bgeICLInstruction = "Represent this text for retrieval: "

// ValidProviders lists the provider names ParseProvider accepts.
func ValidProviders() []string {
	return []string{
		string(ProviderOpenAI),
		string(ProviderOpenAICompatible),
		string(ProviderTEI),
		string(ProviderBGEInICL),
	}
}

// ParseProvider converts a config string to a ProviderType, defaulting
// to openai for anything unrecognized (mirrors the teacher's
// fail-open ParseProvider, which always has a usable default).
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(s) {
	case "openai":
		return ProviderOpenAI
	case "openai-compatible", "compatible":
		return ProviderOpenAICompatible
	case "tei":
		return ProviderTEI
	case "bge-in-icl", "bge":
		return ProviderBGEInICL
	default:
		return ProviderOpenAI
	}
}

// NewEmbedder builds an Embedder for provider using cfg. Unlike the
// teacher's NewEmbedder, there is no local-backend fallback chain:
// every provider here is a remote HTTP API, so a misconfigured
// endpoint is reported as a contract error rather than silently
// substituted.
func NewEmbedder(provider ProviderType, cfg HTTPConfig) (Embedder, error) {
	if cfg.BaseURL == "" {
		switch provider {
		case ProviderOpenAI:
			cfg.BaseURL = "https://api.openai.com/v1"
		default:
			return nil, chunkerr.Contract("ERR_EMBED_NO_BASE_URL", "base_url is required for provider "+string(provider))
		}
	}
	if cfg.Model == "" {
		return nil, chunkerr.Contract("ERR_EMBED_NO_MODEL", "model is required")
	}

	switch provider {
	case ProviderOpenAI, ProviderOpenAICompatible:
		if provider == ProviderOpenAI && cfg.APIKey == "" {
			return nil, chunkerr.Contract("ERR_EMBED_NO_API_KEY", "api_key is required for openai")
		}
		return newHTTPEmbedder(cfg, openAIWire{}), nil

	case ProviderTEI:
		return newHTTPEmbedder(cfg, teiWire{}), nil

	case ProviderBGEInICL:
		cfg.InstructionPrefix = bgeICLInstruction
		return newHTTPEmbedder(cfg, teiWire{}), nil

	default:
		return nil, chunkerr.Contract("ERR_EMBED_UNKNOWN_PROVIDER", "unknown embedding provider: "+string(provider))
	}
}
