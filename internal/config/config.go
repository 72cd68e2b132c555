package config

import (
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// AI backends
const (
	BackendGemini  = "gemini"
	BackendOllama  = "ollama"
	BackendPattern = "pattern"
)

type Config struct {
	Port        string
	DBPath      string
	UploadsPath string
	// Operators maps bearer tokens to operator names.
	Operators map[string]string

	AIBackend           string
	GeminiAPIKey        string
	GeminiModelText     string
	GeminiModelPhoto    string
	OllamaURL           string
	OllamaModel         string
	AIRequestsPerMinute int

	MaxUploadMB        int
	Retention          time.Duration
	Timezone           string
	VocabularyFile     string
	RateLimitPerMinute int

	LogLevel  string
	LogFormat string

	ConfigFile string
}

// Load reads .env files, an optional YAML file named by SOF_CONFIG, and
// SOF_-prefixed environment variables, in increasing precedence.
func Load() (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetEnvPrefix("SOF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", file, err)
		}
	}

	operators, err := parseTokens(v.GetString("api_tokens"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:        v.GetString("port"),
		DBPath:      v.GetString("db_path"),
		UploadsPath: v.GetString("uploads_path"),
		Operators:   operators,

		AIBackend:           strings.ToLower(v.GetString("ai_backend")),
		GeminiAPIKey:        v.GetString("gemini_api_key"),
		GeminiModelText:     v.GetString("gemini_model_text"),
		GeminiModelPhoto:    v.GetString("gemini_model_photo"),
		OllamaURL:           v.GetString("ollama_url"),
		OllamaModel:         v.GetString("ollama_model"),
		AIRequestsPerMinute: v.GetInt("ai_requests_per_minute"),

		MaxUploadMB:        v.GetInt("max_upload_mb"),
		Retention:          v.GetDuration("retention"),
		Timezone:           v.GetString("timezone"),
		VocabularyFile:     v.GetString("vocabulary_file"),
		RateLimitPerMinute: v.GetInt("rate_limit_per_minute"),

		LogLevel:  v.GetString("log_level"),
		LogFormat: v.GetString("log_format"),

		ConfigFile: v.ConfigFileUsed(),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8081")
	v.SetDefault("ai_backend", BackendGemini)
	v.SetDefault("gemini_model_text", "gemini-2.5-flash")
	v.SetDefault("gemini_model_photo", "gemini-2.5-pro")
	v.SetDefault("ai_requests_per_minute", 30)
	v.SetDefault("max_upload_mb", 20)
	v.SetDefault("retention", 24*time.Hour)
	v.SetDefault("timezone", "UTC")
	v.SetDefault("rate_limit_per_minute", 60)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "auto")
}

func (c *Config) validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("SOF_DB_PATH is required")
	}
	if c.UploadsPath == "" {
		return fmt.Errorf("SOF_UPLOADS_PATH is required")
	}
	if len(c.Operators) == 0 {
		return fmt.Errorf("SOF_API_TOKENS needs at least one name:token pair")
	}

	switch c.AIBackend {
	case BackendGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("SOF_GEMINI_API_KEY is required for the gemini backend")
		}
	case BackendOllama:
		if c.OllamaURL == "" || c.OllamaModel == "" {
			return fmt.Errorf("SOF_OLLAMA_URL and SOF_OLLAMA_MODEL are required for the ollama backend")
		}
	case BackendPattern:
	default:
		return fmt.Errorf("SOF_AI_BACKEND must be gemini, ollama or pattern, got %q", c.AIBackend)
	}

	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("SOF_MAX_UPLOAD_MB must be positive")
	}
	if c.Retention <= 0 {
		return fmt.Errorf("SOF_RETENTION must be positive")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("SOF_TIMEZONE: %w", err)
	}
	return nil
}

// OperatorFromToken returns the operator a bearer token belongs to.
func (c *Config) OperatorFromToken(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	for known, operator := range c.Operators {
		if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
			return operator, true
		}
	}
	return "", false
}

// MaxUploadBytes is the upload size limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// Location returns the configured timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// parseTokens reads "name:token,name:token".
func parseTokens(s string) (map[string]string, error) {
	operators := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, token, ok := strings.Cut(pair, ":")
		name, token = strings.TrimSpace(name), strings.TrimSpace(token)
		if !ok || name == "" || token == "" {
			return nil, fmt.Errorf("SOF_API_TOKENS entry %q is not name:token", pair)
		}
		if _, dup := operators[token]; dup {
			return nil, fmt.Errorf("SOF_API_TOKENS reuses a token for %s", name)
		}
		operators[token] = name
	}
	return operators, nil
}

// loadEnvFiles loads .env then .env.local. Existing variables win.
func loadEnvFiles() {
	for _, envFile := range []string{".env", ".env.local"} {
		_ = godotenv.Load(envFile)
	}
}
