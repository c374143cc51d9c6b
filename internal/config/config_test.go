package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "client.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("API_BASE_URL", "")

	cfg := Load()

	if cfg.ReconnectBaseDelay != 3*time.Second {
		t.Fatalf("expected 3s reconnect base delay, got %v", cfg.ReconnectBaseDelay)
	}
	if cfg.MaxReconnectAttempts != 5 {
		t.Fatalf("expected 5 reconnect attempts, got %d", cfg.MaxReconnectAttempts)
	}
	if cfg.HeartbeatInterval != 30*time.Second {
		t.Fatalf("expected 30s heartbeat, got %v", cfg.HeartbeatInterval)
	}
	if cfg.TypingTTL != 3*time.Second {
		t.Fatalf("expected 3s typing ttl, got %v", cfg.TypingTTL)
	}
	if cfg.WSPath != "/chat/ws" {
		t.Fatalf("unexpected ws path %q", cfg.WSPath)
	}
	if cfg.TokenStore != TokenStoreFile {
		t.Fatalf("expected file token store by default, got %q", cfg.TokenStore)
	}
}

func TestLoadYAMLThenEnvOverride(t *testing.T) {
	path := writeConfig(t, `
api_base_url: https://api.rentafacil.example/api/v1/
ws_reconnect_base_delay_ms: 1500
history_limit: 20
token_store: redis
redis:
  url: redis://cache:6379/2
  namespace: mobile
`)
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("CHAT_HISTORY_LIMIT", "80")
	t.Setenv("CHAT_TYPING_TTL", "5s")
	t.Setenv("WS_HEARTBEAT_INTERVAL", "250")

	cfg := Load()

	if cfg.APIBaseURL != "https://api.rentafacil.example/api/v1" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.APIBaseURL)
	}
	if cfg.ReconnectBaseDelay != 1500*time.Millisecond {
		t.Fatalf("expected yaml reconnect delay, got %v", cfg.ReconnectBaseDelay)
	}
	if cfg.HistoryLimit != 80 {
		t.Fatalf("expected env history limit 80, got %d", cfg.HistoryLimit)
	}
	if cfg.TypingTTL != 5*time.Second {
		t.Fatalf("expected env typing ttl 5s, got %v", cfg.TypingTTL)
	}
	if cfg.HeartbeatInterval != 250*time.Millisecond {
		t.Fatalf("expected bare number as ms, got %v", cfg.HeartbeatInterval)
	}
	if cfg.TokenStore != TokenStoreRedis || cfg.Redis.URL != "redis://cache:6379/2" || cfg.Redis.Namespace != "mobile" {
		t.Fatalf("unexpected redis settings: store=%q %+v", cfg.TokenStore, cfg.Redis)
	}
}

func TestInvalidYAMLFallsBackToDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", writeConfig(t, "history_limit: [oops"))

	cfg := Load()

	if cfg.HistoryLimit != 50 {
		t.Fatalf("expected default history limit, got %d", cfg.HistoryLimit)
	}
}

func TestLoadEnvFromParentDir(t *testing.T) {
	root := t.TempDir()
	body := "# comment\nRENTCHAT_TEST_QUOTED=\"wss://example.test\"\nRENTCHAT_TEST_PRESET=from-file\n"
	if err := os.WriteFile(filepath.Join(root, ".env"), []byte(body), 0o600); err != nil {
		t.Fatalf("write .env failed: %v", err)
	}
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	t.Setenv("RENTCHAT_TEST_PRESET", "from-env")
	t.Setenv("RENTCHAT_TEST_QUOTED", "")
	os.Unsetenv("RENTCHAT_TEST_QUOTED")

	loadEnvFrom(nested)

	if got := os.Getenv("RENTCHAT_TEST_QUOTED"); got != "wss://example.test" {
		t.Fatalf("quoted value: %q", got)
	}
	if got := os.Getenv("RENTCHAT_TEST_PRESET"); got != "from-env" {
		t.Fatalf(".env overrode the environment: %q", got)
	}
}
