// Package config は環境変数と任意の設定ファイルからアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileEnvVar は設定ファイルのパスを指定する環境変数名。
const FileEnvVar = "CONTENTFORGE_CONFIG"

// ストアの種類。
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

// 生成プロバイダの種類。
const (
	ProviderOpenRouter = "openrouter"
	ProviderAnthropic  = "anthropic"
)

// Config はアプリケーション全体の設定を保持する。
// 起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Store
	StoreDriver string
	DatabaseURL string
	SQLitePath  string

	// Server
	ServerPort        string
	BaseURL           string
	CORSAllowedOrigin string

	// Rate Limit (req/min)
	RateLimitGeneral int
	RateLimitCreate  int

	// Dispatch
	DispatchWorkers   int
	DispatchQueueSize int

	// Background jobs
	SweepInterval   time.Duration
	SweepInServe    bool
	StatusRetention time.Duration

	// Pipeline
	AutoRequestApproval      bool
	TranscriptTimeout        time.Duration
	MetadataTimeout          time.Duration
	GenerationTimeout        time.Duration
	GenerationMaxAttempts    int
	GenerationInitialBackoff time.Duration
	StallAfter               time.Duration

	// Generator
	GeneratorProvider string
	OpenRouterAPIKey  string
	OpenRouterModel   string
	OpenRouterBaseURL string
	AnthropicAPIKey   string
	AnthropicModel    string

	// Collaborators
	DeepgramAPIKey string
	ResendAPIKey   string
	MailFrom       string
	FallbackHandle string
}

// source は環境変数を優先し、設定ファイルの値を既定値として参照する。
type source struct {
	file map[string]string
}

func (s source) get(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return s.file[key]
}

// Load は環境変数（および CONTENTFORGE_CONFIG で指定されたYAMLファイル）からConfigを読み込む。
// 必須項目が未設定の場合はまとめてエラーを返す。
func Load() (*Config, error) {
	src := source{}
	if path := os.Getenv(FileEnvVar); path != "" {
		file, err := readFile(path)
		if err != nil {
			return nil, err
		}
		src.file = file
	}

	cfg := &Config{}
	var missing []string

	cfg.StoreDriver = strings.ToLower(src.getString("STORE_DRIVER", StorePostgres))
	switch cfg.StoreDriver {
	case StorePostgres, StoreSQLite, StoreMemory:
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER: %q (allowed: postgres, sqlite, memory)", cfg.StoreDriver)
	}

	cfg.DatabaseURL = src.get("DATABASE_URL")
	if cfg.StoreDriver == StorePostgres && cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.BaseURL = strings.TrimRight(src.get("BASE_URL"), "/")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.GeneratorProvider = strings.ToLower(src.getString("GENERATOR_PROVIDER", ProviderOpenRouter))
	switch cfg.GeneratorProvider {
	case ProviderOpenRouter, ProviderAnthropic:
	default:
		return nil, fmt.Errorf("unsupported GENERATOR_PROVIDER: %q (allowed: openrouter, anthropic)", cfg.GeneratorProvider)
	}

	// Optional fields with defaults
	cfg.SQLitePath = src.getString("SQLITE_PATH", "contentforge.db")
	cfg.ServerPort = src.getString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = src.getString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.RateLimitGeneral = src.getInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitCreate = src.getInt("RATE_LIMIT_CREATE", 10)
	cfg.DispatchWorkers = src.getInt("DISPATCH_WORKERS", 4)
	cfg.DispatchQueueSize = src.getInt("DISPATCH_QUEUE_SIZE", 100)
	cfg.SweepInterval = src.getDuration("SWEEP_INTERVAL", 10*time.Minute)
	cfg.SweepInServe = src.getBool("SWEEP_IN_SERVE", true)
	cfg.StatusRetention = src.getDuration("STATUS_RETENTION", 7*24*time.Hour)
	cfg.AutoRequestApproval = src.getBool("AUTO_REQUEST_APPROVAL", true)
	cfg.TranscriptTimeout = src.getDuration("TRANSCRIPT_TIMEOUT", 45*time.Second)
	cfg.MetadataTimeout = src.getDuration("METADATA_TIMEOUT", 10*time.Second)
	cfg.GenerationTimeout = src.getDuration("GENERATION_TIMEOUT", 60*time.Second)
	cfg.GenerationMaxAttempts = src.getInt("GENERATION_MAX_ATTEMPTS", 3)
	cfg.GenerationInitialBackoff = src.getDuration("GENERATION_INITIAL_BACKOFF", 2*time.Second)
	cfg.StallAfter = src.getDuration("PIPELINE_STALL_AFTER", 15*time.Minute)
	cfg.OpenRouterAPIKey = src.get("OPENROUTER_API_KEY")
	cfg.OpenRouterModel = src.get("OPENROUTER_MODEL")
	cfg.OpenRouterBaseURL = src.get("OPENROUTER_BASE_URL")
	cfg.AnthropicAPIKey = src.get("ANTHROPIC_API_KEY")
	cfg.AnthropicModel = src.get("ANTHROPIC_MODEL")
	cfg.DeepgramAPIKey = src.get("DEEPGRAM_API_KEY")
	cfg.ResendAPIKey = src.get("RESEND_API_KEY")
	cfg.MailFrom = src.get("MAIL_FROM")
	cfg.FallbackHandle = src.get("FALLBACK_HANDLE")

	return cfg, nil
}

// readFile はフラットな `ENV_NAME: value` 形式のYAMLファイルを読み込む。
func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	values := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		values[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return values, nil
}

func (s source) getString(key, defaultVal string) string {
	if v := s.get(key); v != "" {
		return v
	}
	return defaultVal
}

func (s source) getInt(key string, defaultVal int) int {
	v := s.get(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil || i <= 0 {
		return defaultVal
	}
	return i
}

func (s source) getBool(key string, defaultVal bool) bool {
	v := s.get(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

// getDuration はtime.ParseDurationの形式に加えて日数（例: 7d）を受け付ける。
func (s source) getDuration(key string, defaultVal time.Duration) time.Duration {
	v := s.get(key)
	if v == "" {
		return defaultVal
	}
	if days, ok := strings.CutSuffix(v, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return defaultVal
		}
		return time.Duration(n) * 24 * time.Hour
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
