package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rentafacil/rentchat/internal/logger"
	"gopkg.in/yaml.v3"
)

// loadEnv читает .env только вне production (в контейнере/prod конфиг только из env).
func loadEnv() {
	if os.Getenv("APP_ENV") == "production" {
		return
	}
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	loadEnvFrom(dir)
}

// loadEnvFrom ищет .env в dir и до четырёх родительских каталогов.
// Уже заданные переменные окружения не перезаписываются.
func loadEnvFrom(dir string) {
	for i := 0; i < 5; i++ {
		path := filepath.Join(dir, ".env")
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err != nil {
				logger.Warnf("config: ошибка чтения %s: %v", path, err)
			}
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}

const (
	TokenStoreFile   = "file"
	TokenStoreMemory = "memory"
	TokenStoreRedis  = "redis"
)

// RedisConfig — Redis для хранения токена (token_store: redis).
type RedisConfig struct {
	URL       string `yaml:"url"`
	Namespace string `yaml:"namespace"`
}

// DevConfig — встроенный тестовый бэкенд (флаг -dev, services/devapi).
type DevConfig struct {
	Addr      string        `yaml:"addr"`
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"-"`
}

// Config содержит настройки клиента чата.
// Приоритет: переменные окружения > YAML-файл > значения по умолчанию.
type Config struct {
	// REST API бэкенда; из него же строится URL WebSocket (http→ws, https→wss).
	APIBaseURL  string
	HTTPTimeout time.Duration

	// WebSocket
	WSPath               string
	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int
	HeartbeatInterval    time.Duration
	WSWriteTimeout       time.Duration
	WSMaxMessageSize     int64

	// Чат
	HistoryLimit int
	TypingTTL    time.Duration

	// Хранилище токена: file | memory | redis
	TokenStore string
	TokenFile  string
	Redis      RedisConfig

	LogLevel    string
	MetricsAddr string

	Dev DevConfig
}

// yamlConfig — промежуточная структура для парсинга YAML (длительности в миллисекундах/секундах).
type yamlConfig struct {
	APIBaseURL           string      `yaml:"api_base_url"`
	HTTPTimeoutSec       int         `yaml:"http_timeout"`
	WSPath               string      `yaml:"ws_path"`
	ReconnectBaseDelayMS int         `yaml:"ws_reconnect_base_delay_ms"`
	MaxReconnectAttempts int         `yaml:"ws_max_reconnect_attempts"`
	HeartbeatIntervalMS  int         `yaml:"ws_heartbeat_interval_ms"`
	WSWriteTimeoutSec    int         `yaml:"ws_write_timeout"`
	WSMaxMessageSize     int         `yaml:"ws_max_message_size"`
	HistoryLimit         int         `yaml:"history_limit"`
	TypingTTLMS          int         `yaml:"typing_ttl_ms"`
	TokenStore           string      `yaml:"token_store"`
	TokenFile            string      `yaml:"token_file"`
	Redis                RedisConfig `yaml:"redis"`
	LogLevel             string      `yaml:"log_level"`
	MetricsAddr          string      `yaml:"metrics_addr"`
	Dev                  DevConfig   `yaml:"dev"`
	DevTokenTTLMin       int         `yaml:"dev_token_ttl_minutes"`
}

func defaults() yamlConfig {
	return yamlConfig{
		APIBaseURL:           "http://localhost:8000/api/v1",
		HTTPTimeoutSec:       15,
		WSPath:               "/chat/ws",
		ReconnectBaseDelayMS: 3000,
		MaxReconnectAttempts: 5,
		HeartbeatIntervalMS:  30000,
		WSWriteTimeoutSec:    10,
		WSMaxMessageSize:     64 * 1024,
		HistoryLimit:         50,
		TypingTTLMS:          3000,
		TokenStore:           TokenStoreFile,
		TokenFile:            defaultTokenFile(),
		Redis:                RedisConfig{URL: "redis://localhost:6379"},
		LogLevel:             "info",
		Dev:                  DevConfig{Addr: "127.0.0.1:8000", JWTSecret: "dev-secret-change-me"},
		DevTokenTTLMin:       24 * 60,
	}
}

func defaultTokenFile() string {
	base, err := os.UserConfigDir()
	if err != nil || base == "" {
		return filepath.Join(".", ".rentchat", "token.yaml")
	}
	return filepath.Join(base, "rentchat", "token.yaml")
}

// Load загружает конфигурацию.
// Сначала подгружаются переменные из .env (если есть), затем YAML и env (env имеет приоритет).
func Load() *Config {
	loadEnv()
	yc := defaults()

	paths := []string{os.Getenv("CONFIG_PATH"), "config/client.yaml"}
	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, &yc); err != nil {
			logger.Errorf("config: ошибка парсинга %s: %v (используются значения по умолчанию)", path, err)
			yc = defaults()
		} else {
			logger.Infof("config: загружен %s", path)
		}
		break
	}

	cfg := &Config{
		APIBaseURL:           strings.TrimSuffix(envStr("API_BASE_URL", yc.APIBaseURL), "/"),
		HTTPTimeout:          time.Duration(envInt("HTTP_TIMEOUT", yc.HTTPTimeoutSec)) * time.Second,
		WSPath:               envStr("WS_PATH", yc.WSPath),
		ReconnectBaseDelay:   envDuration("WS_RECONNECT_BASE_DELAY", time.Duration(yc.ReconnectBaseDelayMS)*time.Millisecond),
		MaxReconnectAttempts: envInt("WS_MAX_RECONNECT_ATTEMPTS", yc.MaxReconnectAttempts),
		HeartbeatInterval:    envDuration("WS_HEARTBEAT_INTERVAL", time.Duration(yc.HeartbeatIntervalMS)*time.Millisecond),
		WSWriteTimeout:       time.Duration(envInt("WS_WRITE_TIMEOUT", yc.WSWriteTimeoutSec)) * time.Second,
		WSMaxMessageSize:     int64(envInt("WS_MAX_MESSAGE_SIZE", yc.WSMaxMessageSize)),
		HistoryLimit:         envInt("CHAT_HISTORY_LIMIT", yc.HistoryLimit),
		TypingTTL:            envDuration("CHAT_TYPING_TTL", time.Duration(yc.TypingTTLMS)*time.Millisecond),
		TokenStore:           envStr("TOKEN_STORE", yc.TokenStore),
		TokenFile:            envStr("TOKEN_FILE", yc.TokenFile),
		Redis: RedisConfig{
			URL:       envStr("REDIS_URL", yc.Redis.URL),
			Namespace: envStr("REDIS_NAMESPACE", yc.Redis.Namespace),
		},
		LogLevel:    envStr("LOG_LEVEL", yc.LogLevel),
		MetricsAddr: envStr("METRICS_ADDR", yc.MetricsAddr),
		Dev: DevConfig{
			Addr:      envStr("DEV_ADDR", yc.Dev.Addr),
			JWTSecret: envStr("DEV_JWT_SECRET", yc.Dev.JWTSecret),
			TokenTTL:  time.Duration(envInt("DEV_TOKEN_TTL_MINUTES", yc.DevTokenTTLMin)) * time.Minute,
		},
	}

	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 5
	}
	if os.Getenv("APP_ENV") == "production" && !strings.HasPrefix(cfg.APIBaseURL, "https://") {
		logger.Warnf("config: в production API_BASE_URL должен быть https (сейчас %s)", cfg.APIBaseURL)
	}
	return cfg
}

// envStr возвращает значение переменной окружения или fallback.
func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt возвращает числовое значение переменной окружения или fallback.
func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// envDuration принимает "3s"/"500ms"; число без единиц трактуется как миллисекунды.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Millisecond
	}
	return fallback
}
