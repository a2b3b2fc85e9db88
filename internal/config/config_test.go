package config

import (
	"context"
	"testing"
	"time"

	"github.com/nyai-sathi/voice-chat/backend/internal/model/speech"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "STORAGE_BACKEND", "DATA_DIR", "QUERY_BACKEND", "QUERY_API_URL", "QUERY_TIMEOUT",
		"QUERY_HISTORY_LIMIT", "VOICE_ENABLED", "VOICE_LANGUAGE", "VOICE_DEBOUNCE_MS",
		"VOICE_WATCHDOG_MS", "VOICE_CLOSE_DELAY_MS", "VOICE_CHUNK_WORDS", "VOICE_PITCH",
		"CORS_ALLOWED_ORIGINS",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Fatalf("unexpected addr %q", cfg.Server.Addr)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "*" {
		t.Fatalf("unexpected origins %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Storage.Backend != StorageFile || cfg.Storage.DataDir != ".nyai-sathi" {
		t.Fatalf("unexpected storage config %+v", cfg.Storage)
	}
	if cfg.Query.Backend != BackendHTTP || cfg.Query.BaseURL != "http://localhost:8000/api/v1" {
		t.Fatalf("unexpected query config %+v", cfg.Query)
	}
	if cfg.Query.Timeout != 60*time.Second || cfg.Query.HistoryLimit != 0 {
		t.Fatalf("unexpected query limits %+v", cfg.Query)
	}
	if !cfg.Voice.Enabled || cfg.Voice.Language != "en-IN" || cfg.Voice.Pitch != 1.0 {
		t.Fatalf("unexpected voice config %+v", cfg.Voice)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "127.0.0.1:9000")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://localhost:5173, https://nyai.example.com")
	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("QUERY_API_URL", "https://legal.example.com/api/v1/")
	t.Setenv("QUERY_TIMEOUT", "15")
	t.Setenv("QUERY_HISTORY_LIMIT", "8")
	t.Setenv("QUERY_BACKEND", "")
	t.Setenv("VOICE_DEBOUNCE_MS", "2000")
	t.Setenv("VOICE_CHUNK_WORDS", "50")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Addr != "127.0.0.1:9000" {
		t.Fatalf("unexpected addr %q", cfg.Server.Addr)
	}
	if len(cfg.Server.AllowedOrigins) != 2 || cfg.Server.AllowedOrigins[1] != "https://nyai.example.com" {
		t.Fatalf("unexpected origins %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Storage.Backend != StorageMemory {
		t.Fatalf("unexpected backend %q", cfg.Storage.Backend)
	}
	if cfg.Query.BaseURL != "https://legal.example.com/api/v1" {
		t.Fatalf("trailing slash not trimmed: %q", cfg.Query.BaseURL)
	}
	if cfg.Query.Timeout != 15*time.Second || cfg.Query.HistoryLimit != 8 {
		t.Fatalf("unexpected query config %+v", cfg.Query)
	}

	profile := cfg.Voice.Apply(speech.DesktopProfile())
	if profile.DebounceDelay != 2*time.Second || profile.ChunkWords != 50 {
		t.Fatalf("overrides not applied: %+v", profile)
	}
	if profile.WatchdogInterval != 20*time.Second {
		t.Fatalf("unset override changed watchdog: %v", profile.WatchdogInterval)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"PORT", "80 80"},
		{"STORAGE_BACKEND", "s3"},
		{"QUERY_BACKEND", "grpc"},
		{"QUERY_TIMEOUT", "0"},
		{"QUERY_TIMEOUT", "soon"},
		{"VOICE_ENABLED", "maybe"},
		{"VOICE_WATCHDOG_MS", "-5"},
		{"VOICE_CHUNK_WORDS", "0"},
		{"VOICE_PITCH", "high"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestLoadArkBackendRequiresCredentials(t *testing.T) {
	t.Setenv("QUERY_BACKEND", "ark")
	t.Setenv("ARK_API_KEY", "")
	t.Setenv("ARK_ACCESS_KEY", "")
	t.Setenv("ARK_SECRET_KEY", "")
	t.Setenv("Model", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when ark backend has no credentials")
	}

	t.Setenv("ARK_API_KEY", "key")
	t.Setenv("Model", "ep-123")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !cfg.AI.Enabled() {
		t.Fatal("expected AI config to be enabled")
	}
}

func TestLoadArkSettings(t *testing.T) {
	for _, key := range []string{"ARK_BASE_URL", "ARK_REGION", "ARK_TEMPERATURE", "ARK_TOP_P", "ARK_MAX_TOKENS"} {
		t.Setenv(key, "")
	}
	t.Setenv("ARK_ACCESS_KEY", "ak")
	t.Setenv("ARK_SECRET_KEY", "sk")
	t.Setenv("ARK_API_KEY", "")
	t.Setenv("Model", "ep-legal")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	arkCfg := cfg.AI.chatModelConfig()
	if arkCfg.BaseURL != "" || arkCfg.Region != "" {
		t.Fatalf("unset endpoint should defer to the client, got %q %q", arkCfg.BaseURL, arkCfg.Region)
	}
	if arkCfg.Temperature != nil || arkCfg.TopP != nil || arkCfg.MaxTokens != nil {
		t.Fatalf("unset sampling settings should stay nil: %+v", arkCfg)
	}
	if arkCfg.AccessKey != "ak" || arkCfg.SecretKey != "sk" || arkCfg.Model != "ep-legal" {
		t.Fatalf("credentials not carried: %+v", arkCfg)
	}

	t.Setenv("ARK_BASE_URL", "https://ark.ap-southeast.bytepluses.com/api/v3/")
	t.Setenv("ARK_REGION", "ap-southeast-1")
	t.Setenv("ARK_TEMPERATURE", "0.25")
	t.Setenv("ARK_TOP_P", "0.9")
	t.Setenv("ARK_MAX_TOKENS", "1024")

	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	arkCfg = cfg.AI.chatModelConfig()
	if arkCfg.BaseURL != "https://ark.ap-southeast.bytepluses.com/api/v3" {
		t.Fatalf("unexpected base url %q", arkCfg.BaseURL)
	}
	if arkCfg.Region != "ap-southeast-1" {
		t.Fatalf("unexpected region %q", arkCfg.Region)
	}
	if arkCfg.Temperature == nil || *arkCfg.Temperature != float32(0.25) {
		t.Fatalf("unexpected temperature %v", arkCfg.Temperature)
	}
	if arkCfg.TopP == nil || *arkCfg.TopP != float32(0.9) {
		t.Fatalf("unexpected top_p %v", arkCfg.TopP)
	}
	if arkCfg.MaxTokens == nil || *arkCfg.MaxTokens != 1024 {
		t.Fatalf("unexpected max tokens %v", arkCfg.MaxTokens)
	}
}

func TestLoadRejectsInvalidArkSettings(t *testing.T) {
	for _, kv := range [][2]string{{"ARK_TEMPERATURE", "warm"}, {"ARK_TOP_P", "most"}, {"ARK_MAX_TOKENS", "1.5"}} {
		t.Run(kv[0], func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", kv[0], kv[1])
			}
		})
	}
}

func TestNewChatModelRequiresCredentials(t *testing.T) {
	if _, err := (AIConfig{Model: "ep-legal"}).NewChatModel(context.Background()); err == nil {
		t.Fatal("expected error without credentials")
	}
}
