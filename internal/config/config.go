package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port string
	Env  string

	// Store selects the thread/message backend. Resolution order:
	// THREAD_STORE_PG_DSN -> postgres, THREAD_STORE_SQLITE_PATH -> sqlite,
	// otherwise in-memory (discarded at shutdown).
	PostgresDSN string
	SQLitePath  string

	LLM     LLMConfig
	Tools   ToolsConfig
	Run     RunConfig
	Archive ArchiveConfig
}

type LLMConfig struct {
	// Provider is "gemini", "groq" or "fake".
	Provider     string
	GeminiModel  string
	GroqModel    string
	GroqAPIKey   string
	RouterBudget time.Duration
}

type ToolsConfig struct {
	Timeout    time.Duration
	SemgrepBin string
	BanditBin  string
}

type RunConfig struct {
	// Budget bounds one pipeline run wall-clock; past it the orchestrator
	// forces a hard-failure terminal transition.
	Budget        time.Duration
	MaxFiles      int
	MaxTotalBytes int
	HistoryLimit  int
}

type ArchiveConfig struct {
	Enabled   bool
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	port := flag.String("port", ":8080", "server port")
	flag.Parse()

	if envPort := os.Getenv("PORT"); envPort != "" {
		if strings.HasPrefix(envPort, ":") {
			*port = envPort
		} else {
			*port = ":" + envPort
		}
	}

	env := strings.TrimSpace(os.Getenv("APP_ENV"))
	if env == "" {
		env = "local"
	}

	return &Config{
		Port:        *port,
		Env:         env,
		PostgresDSN: strings.TrimSpace(os.Getenv("THREAD_STORE_PG_DSN")),
		SQLitePath:  strings.TrimSpace(os.Getenv("THREAD_STORE_SQLITE_PATH")),
		LLM: LLMConfig{
			Provider:     firstNonEmpty(strings.ToLower(strings.TrimSpace(os.Getenv("LLM_PROVIDER"))), defaultProvider()),
			GeminiModel:  firstNonEmpty(strings.TrimSpace(os.Getenv("GEMINI_MODEL")), "gemini-2.0-flash"),
			GroqModel:    firstNonEmpty(strings.TrimSpace(os.Getenv("GROQ_MODEL")), "llama-3.3-70b-versatile"),
			GroqAPIKey:   strings.TrimSpace(os.Getenv("GROQ_API_KEY")),
			RouterBudget: envDuration("ROUTER_TIMEOUT", 8*time.Second),
		},
		Tools: ToolsConfig{
			Timeout:    envDuration("TOOL_TIMEOUT", 20*time.Second),
			SemgrepBin: firstNonEmpty(strings.TrimSpace(os.Getenv("SEMGREP_BIN")), "semgrep"),
			BanditBin:  firstNonEmpty(strings.TrimSpace(os.Getenv("BANDIT_BIN")), "bandit"),
		},
		Run: RunConfig{
			Budget:        envDuration("RUN_BUDGET", 120*time.Second),
			MaxFiles:      envInt("MAX_FILES", 200),
			MaxTotalBytes: envInt("MAX_TOTAL_BYTES", 2<<20),
			HistoryLimit:  envInt("CHAT_HISTORY_LIMIT", 20),
		},
		Archive: loadArchiveConfig(env),
	}, nil
}

func defaultProvider() string {
	if strings.TrimSpace(os.Getenv("GEMINI_API_KEY")) != "" {
		return "gemini"
	}
	if strings.TrimSpace(os.Getenv("GROQ_API_KEY")) != "" {
		return "groq"
	}
	return "fake"
}

func loadArchiveConfig(env string) ArchiveConfig {
	endpoint := resolveArchiveEndpoint(env)
	return ArchiveConfig{
		Enabled:   endpoint != "",
		Endpoint:  endpoint,
		Region:    firstNonEmpty(strings.TrimSpace(os.Getenv("REPORT_S3_REGION")), "us-east-1"),
		AccessKey: firstNonEmpty(strings.TrimSpace(os.Getenv("REPORT_S3_ACCESS_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_USER"))),
		SecretKey: firstNonEmpty(strings.TrimSpace(os.Getenv("REPORT_S3_SECRET_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_PASSWORD"))),
		Bucket:    firstNonEmpty(strings.TrimSpace(os.Getenv("REPORT_S3_BUCKET")), "code-review-reports"),
		UseSSL:    resolveArchiveUseSSL(env),
	}
}

func resolveArchiveEndpoint(env string) string {
	if strings.EqualFold(strings.TrimSpace(env), "local") {
		return strings.TrimSpace(os.Getenv("REPORT_MINIO_ENDPOINT"))
	}
	return strings.TrimSpace(os.Getenv("REPORT_S3_ENDPOINT"))
}

func resolveArchiveUseSSL(env string) bool {
	if strings.EqualFold(strings.TrimSpace(env), "local") {
		return false
	}
	raw := strings.TrimSpace(os.Getenv("REPORT_S3_USE_SSL"))
	if raw == "" {
		return true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func envInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	if n, err := strconv.Atoi(raw); err == nil && n > 0 {
		return n
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
