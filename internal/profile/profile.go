package profile

import (
	"encoding/hex"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Profile is configuration to start the memvault server.
type Profile struct {
	// Embedding provider configuration (OpenAI-compatible protocol)
	AIEmbeddingModel      string
	AIEmbeddingAPIKey     string
	AIEmbeddingBaseURL    string
	AIEmbeddingDimensions int

	// Reranker configuration
	AIRerankModel   string
	AIRerankAPIKey  string
	AIRerankBaseURL string
	RerankEnabled   bool
	RerankTimeout   time.Duration

	// Summarization / entity extraction LLM configuration
	AILLMModel   string
	AILLMAPIKey  string
	AILLMBaseURL string

	// Tenant crypto material, hex-encoded 32-byte keys.
	// EncryptionKeys maps key version -> key; ActiveKeyVersion seals new data.
	EncryptionKeys   map[uint8]string
	ActiveKeyVersion uint8
	DerivationKey    string

	// Identity verification
	AuthMode       string // "introspect" or "jwt"
	AuthIntrospURL string
	AuthJWTSecret  string

	// Rate limiting
	RateLimitPerWindow int
	RateLimitWindow    time.Duration

	Mode    string
	Addr    string
	Port    int
	Version string

	// DSN is the application-role connection string. The role must not hold
	// BYPASSRLS; the row-security policy is the isolation boundary.
	DSN string
	// AdminDSN is used only for migrations. Never served to request paths.
	AdminDSN string
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	// Embedding configuration
	p.AIEmbeddingModel = getEnvOrDefault("MEMVAULT_AI_EMBEDDING_MODEL", "BAAI/bge-m3")
	p.AIEmbeddingAPIKey = getEnvOrDefault("MEMVAULT_AI_EMBEDDING_API_KEY", "")
	p.AIEmbeddingBaseURL = getEnvOrDefault("MEMVAULT_AI_EMBEDDING_BASE_URL", "https://api.siliconflow.cn/v1")
	p.AIEmbeddingDimensions = getEnvOrDefaultInt("MEMVAULT_AI_EMBEDDING_DIMENSIONS", 1024)

	// Reranker configuration
	p.AIRerankModel = getEnvOrDefault("MEMVAULT_AI_RERANK_MODEL", "BAAI/bge-reranker-v2-m3")
	p.AIRerankAPIKey = getEnvOrDefault("MEMVAULT_AI_RERANK_API_KEY", "")
	p.AIRerankBaseURL = getEnvOrDefault("MEMVAULT_AI_RERANK_BASE_URL", "https://api.siliconflow.cn/v1")
	p.RerankEnabled = getEnvOrDefault("MEMVAULT_AI_RERANK_ENABLED", "false") == "true"
	p.RerankTimeout = time.Duration(getEnvOrDefaultInt("MEMVAULT_AI_RERANK_TIMEOUT_MS", 250)) * time.Millisecond

	// Summarization LLM configuration
	p.AILLMModel = getEnvOrDefault("MEMVAULT_AI_LLM_MODEL", "Qwen/Qwen2.5-72B-Instruct")
	p.AILLMAPIKey = getEnvOrDefault("MEMVAULT_AI_LLM_API_KEY", "")
	p.AILLMBaseURL = getEnvOrDefault("MEMVAULT_AI_LLM_BASE_URL", "https://api.siliconflow.cn/v1")

	// Crypto material. Versioned keys use MEMVAULT_ENCRYPTION_KEY_<n>; the
	// single-key form MEMVAULT_ENCRYPTION_KEY loads as version 1.
	p.EncryptionKeys = map[uint8]string{}
	if key := os.Getenv("MEMVAULT_ENCRYPTION_KEY"); key != "" {
		p.EncryptionKeys[1] = key
		p.ActiveKeyVersion = 1
	}
	for v := 1; v <= 255; v++ {
		key := os.Getenv("MEMVAULT_ENCRYPTION_KEY_" + strconv.Itoa(v))
		if key == "" {
			continue
		}
		p.EncryptionKeys[uint8(v)] = key
		if uint8(v) > p.ActiveKeyVersion {
			p.ActiveKeyVersion = uint8(v)
		}
	}
	if v := getEnvOrDefaultInt("MEMVAULT_ACTIVE_KEY_VERSION", 0); v > 0 && v <= 255 {
		p.ActiveKeyVersion = uint8(v)
	}
	p.DerivationKey = getEnvOrDefault("MEMVAULT_TENANT_DERIVATION_KEY", "")

	// Identity verification
	p.AuthMode = getEnvOrDefault("MEMVAULT_AUTH_MODE", "jwt")
	p.AuthIntrospURL = getEnvOrDefault("MEMVAULT_AUTH_INTROSPECT_URL", "")
	p.AuthJWTSecret = getEnvOrDefault("MEMVAULT_AUTH_JWT_SECRET", "")

	// Rate limiting
	p.RateLimitPerWindow = getEnvOrDefaultInt("MEMVAULT_RATE_LIMIT_PER_MINUTE", 60)
	p.RateLimitWindow = time.Minute
}

// checkKey validates a hex-encoded 32-byte key.
func checkKey(name, key string) error {
	raw, err := hex.DecodeString(key)
	if err != nil {
		return errors.Wrapf(err, "%s is not valid hex", name)
	}
	if len(raw) != 32 {
		return errors.Errorf("%s must decode to 32 bytes, got %d", name, len(raw))
	}
	return nil
}

// Validate checks the profile and fails closed: in prod mode, missing or
// malformed security material aborts startup instead of defaulting.
func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.DSN == "" && p.Mode == "prod" {
		return errors.New("dsn required in prod mode")
	}

	if len(p.EncryptionKeys) == 0 && p.Mode == "prod" {
		return errors.New("encryption key required in prod mode")
	}
	for v, key := range p.EncryptionKeys {
		if err := checkKey("encryption key v"+strconv.Itoa(int(v)), key); err != nil {
			return err
		}
	}
	if len(p.EncryptionKeys) > 0 {
		if _, ok := p.EncryptionKeys[p.ActiveKeyVersion]; !ok {
			return errors.Errorf("active key version %d has no configured key", p.ActiveKeyVersion)
		}
	}

	if p.DerivationKey == "" {
		if p.Mode == "prod" {
			return errors.New("tenant derivation key required in prod mode")
		}
	} else if err := checkKey("tenant derivation key", p.DerivationKey); err != nil {
		return err
	}

	switch p.AuthMode {
	case "jwt":
		if p.AuthJWTSecret == "" && p.Mode == "prod" {
			return errors.New("auth jwt secret required in prod mode")
		}
	case "introspect":
		if p.AuthIntrospURL == "" {
			return errors.New("auth introspection url required in introspect mode")
		}
	default:
		return errors.Errorf("unknown auth mode: %s", p.AuthMode)
	}

	if p.RateLimitPerWindow <= 0 {
		return errors.Errorf("rate limit must be positive, got %d", p.RateLimitPerWindow)
	}
	if p.RerankTimeout <= 0 {
		return errors.Errorf("rerank timeout must be positive, got %s", p.RerankTimeout)
	}

	return nil
}

// EncryptionKeyBytes decodes the configured keys. Validate must have passed.
func (p *Profile) EncryptionKeyBytes() map[uint8][]byte {
	keys := make(map[uint8][]byte, len(p.EncryptionKeys))
	for v, key := range p.EncryptionKeys {
		raw, _ := hex.DecodeString(key)
		keys[v] = raw
	}
	return keys
}

// DerivationKeyBytes decodes the tenant derivation key. Validate must have passed.
func (p *Profile) DerivationKeyBytes() []byte {
	raw, _ := hex.DecodeString(p.DerivationKey)
	return raw
}
