package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/nyai-sathi/voice-chat/backend/internal/model/speech"
)

// Config aggregates every setting of the service.
type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Query   QueryConfig
	AI      AIConfig
	Voice   VoiceConfig
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	storage, err := loadStorageConfig()
	if err != nil {
		return nil, err
	}

	query, err := loadQueryConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	voice, err := loadVoiceConfig()
	if err != nil {
		return nil, err
	}

	if query.Backend == BackendArk && !ai.Enabled() {
		return nil, fmt.Errorf("QUERY_BACKEND=ark requires ARK_API_KEY + Model or an AK/SK pair")
	}

	return &Config{Server: server, Storage: storage, Query: query, AI: ai, Voice: voice}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
	// AllowedOrigins lists the browser origins accepted by CORS; "*" allows any.
	AllowedOrigins []string
}

func loadServerConfig() (ServerConfig, error) {
	origins := splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*"))

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" as is.
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Storage backends.
const (
	StorageFile   = "file"
	StorageMemory = "memory"
)

// StorageConfig selects where local storage items are kept.
type StorageConfig struct {
	Backend string
	DataDir string
}

func loadStorageConfig() (StorageConfig, error) {
	backend := strings.ToLower(getEnvOrDefault("STORAGE_BACKEND", StorageFile))
	if backend != StorageFile && backend != StorageMemory {
		return StorageConfig{}, fmt.Errorf("invalid STORAGE_BACKEND value %q", backend)
	}
	return StorageConfig{
		Backend: backend,
		DataDir: getEnvOrDefault("DATA_DIR", ".nyai-sathi"),
	}, nil
}

// Query backends.
const (
	BackendHTTP = "http"
	BackendArk  = "ark"
)

// QueryConfig describes how user questions are answered.
type QueryConfig struct {
	Backend      string
	BaseURL      string
	Timeout      time.Duration
	HistoryLimit int
}

func loadQueryConfig() (QueryConfig, error) {
	backend := strings.ToLower(getEnvOrDefault("QUERY_BACKEND", BackendHTTP))
	if backend != BackendHTTP && backend != BackendArk {
		return QueryConfig{}, fmt.Errorf("invalid QUERY_BACKEND value %q", backend)
	}

	timeout := 60
	if override, err := parseOptionalIntEnv("QUERY_TIMEOUT"); err != nil {
		return QueryConfig{}, err
	} else if override != nil {
		if *override <= 0 {
			return QueryConfig{}, fmt.Errorf("QUERY_TIMEOUT must be positive, got %d", *override)
		}
		timeout = *override
	}

	historyLimit := 0
	if override, err := parseOptionalIntEnv("QUERY_HISTORY_LIMIT"); err != nil {
		return QueryConfig{}, err
	} else if override != nil && *override > 0 {
		historyLimit = *override
	}

	return QueryConfig{
		Backend:      backend,
		BaseURL:      strings.TrimRight(getEnvOrDefault("QUERY_API_URL", "http://localhost:8000/api/v1"), "/"),
		Timeout:      time.Duration(timeout) * time.Second,
		HistoryLimit: historyLimit,
	}, nil
}

// AIConfig describes the Ark chat model used when QUERY_BACKEND=ark.
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled reports whether the required credentials are present.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel creates a chat model from the configuration.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("missing Ark credentials or model: provide ARK_API_KEY + Model or an AK/SK pair")
	}
	return ark.NewChatModel(ctx, c.chatModelConfig())
}

// chatModelConfig maps the settings onto the Ark client. An empty BaseURL or
// Region leaves the client's own endpoint in place.
func (c AIConfig) chatModelConfig() *ark.ChatModelConfig {
	return &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: toFloat32(c.Temperature),
		TopP:        toFloat32(c.TopP),
	}
}

func toFloat32(v *float64) *float32 {
	if v == nil {
		return nil
	}
	f := float32(*v)
	return &f
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("Model")),
		BaseURL:     strings.TrimRight(strings.TrimSpace(os.Getenv("ARK_BASE_URL")), "/"),
		Region:      strings.TrimSpace(os.Getenv("ARK_REGION")),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

// VoiceConfig overrides the recognition profile picked for each client.
// Nil fields keep the profile's own value.
type VoiceConfig struct {
	Enabled    bool
	Language   string
	Pitch      float32
	Debounce   *time.Duration
	Watchdog   *time.Duration
	CloseDelay *time.Duration
	ChunkWords *int
}

// Apply returns profile with the configured overrides.
func (c VoiceConfig) Apply(profile speech.RecognitionProfile) speech.RecognitionProfile {
	if c.Language != "" {
		profile.Language = c.Language
	}
	if c.Debounce != nil {
		profile.DebounceDelay = *c.Debounce
	}
	if c.Watchdog != nil {
		profile.WatchdogInterval = *c.Watchdog
	}
	if c.CloseDelay != nil {
		profile.CloseDelay = *c.CloseDelay
	}
	if c.ChunkWords != nil {
		profile.ChunkWords = *c.ChunkWords
	}
	return profile
}

func loadVoiceConfig() (VoiceConfig, error) {
	enabled, err := parseBoolEnv("VOICE_ENABLED", true)
	if err != nil {
		return VoiceConfig{}, err
	}

	cfg := VoiceConfig{
		Enabled:  enabled,
		Language: getEnvOrDefault("VOICE_LANGUAGE", "en-IN"),
		Pitch:    1.0,
	}

	pitch, err := parseOptionalFloat32Env("VOICE_PITCH")
	if err != nil {
		return VoiceConfig{}, err
	}
	if pitch != nil {
		cfg.Pitch = *pitch
	}

	durations := []struct {
		key    string
		target **time.Duration
	}{
		{"VOICE_DEBOUNCE_MS", &cfg.Debounce},
		{"VOICE_WATCHDOG_MS", &cfg.Watchdog},
		{"VOICE_CLOSE_DELAY_MS", &cfg.CloseDelay},
	}
	for _, d := range durations {
		ms, err := parseOptionalIntEnv(d.key)
		if err != nil {
			return VoiceConfig{}, err
		}
		if ms == nil {
			continue
		}
		if *ms <= 0 {
			return VoiceConfig{}, fmt.Errorf("%s must be positive, got %d", d.key, *ms)
		}
		value := time.Duration(*ms) * time.Millisecond
		*d.target = &value
	}

	chunkWords, err := parseOptionalIntEnv("VOICE_CHUNK_WORDS")
	if err != nil {
		return VoiceConfig{}, err
	}
	if chunkWords != nil {
		if *chunkWords <= 0 {
			return VoiceConfig{}, fmt.Errorf("VOICE_CHUNK_WORDS must be positive, got %d", *chunkWords)
		}
		cfg.ChunkWords = chunkWords
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalFloat32Env(key string) (*float32, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	result := float32(val)
	return &result, nil
}
