package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config location, relative to the working directory.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port              string   `yaml:"port"`
	LogLevel          string   `yaml:"logLevel"`
	DatabaseURL       string   `yaml:"databaseURL"`
	CORSOrigins       []string `yaml:"corsOrigins"`
	TrustedProxyCIDRs []string `yaml:"trustedProxyCidrs"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	// Blob storage: MinIO when minioEndpoint is set, otherwise the local data dir.
	MinioEndpoint      string `yaml:"minioEndpoint"`
	MinioAccessKey     string `yaml:"minioAccessKey"`
	MinioSecretKey     string `yaml:"minioSecretKey"`
	MinioBucket        string `yaml:"minioBucket"`
	MinioUseSSL        bool   `yaml:"minioUseSSL"`
	MinioURLExpiry     string `yaml:"minioUrlExpiry"`
	DataDir            string `yaml:"dataDir"`
	PublicMediaBaseURL string `yaml:"publicMediaBaseURL"`

	AuthJWKSURL string `yaml:"authJwksURL"`
	JWTIssuer   string `yaml:"jwtIssuer"`
	JWTAudience string `yaml:"jwtAudience"`
	JWTLeeway   string `yaml:"jwtLeeway"`

	AIProvider        string `yaml:"aiProvider"`
	AIBaseURL         string `yaml:"aiBaseURL"`
	AIAPIKey          string `yaml:"aiApiKey"`
	TextModel         string `yaml:"textModel"`
	ImageModel        string `yaml:"imageModel"`
	SpeechModel       string `yaml:"speechModel"`
	ReasoningEffort   string `yaml:"reasoningEffort"`
	GenerationTimeout string `yaml:"generationTimeout"`
	ImageSize         string `yaml:"imageSize"`
	DefaultVoice      string `yaml:"defaultVoice"`
	ThumbnailMaxSize  int    `yaml:"thumbnailMaxSize"`

	MinStoryLines  int `yaml:"minStoryLines"`
	AnonSigninLine int `yaml:"anonSigninLine"`
	LineMinChars   int `yaml:"lineMinChars"`
	LineMinWords   int `yaml:"lineMinWords"`

	ListCacheTTL               string `yaml:"listCacheTTL"`
	GenerateRateLimitPerMinute int    `yaml:"generateRateLimitPerMinute"`
}

// Load reads config from path (defaults to config.yaml) and applies env overrides.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	setString(&cfg.Port, "TALETINKER_PORT")
	setString(&cfg.LogLevel, "TALETINKER_LOG_LEVEL")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	if v := os.Getenv("TALETINKER_CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitCSV(v)
	}
	if v := os.Getenv("TALETINKER_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}

	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.RedisPassword, "REDIS_PASSWORD")

	setString(&cfg.MinioEndpoint, "MINIO_ENDPOINT")
	setString(&cfg.MinioAccessKey, "MINIO_ACCESS_KEY")
	setString(&cfg.MinioSecretKey, "MINIO_SECRET_KEY")
	setString(&cfg.MinioBucket, "MINIO_BUCKET")
	setBool(&cfg.MinioUseSSL, "MINIO_USE_SSL")
	setString(&cfg.MinioURLExpiry, "MINIO_URL_EXPIRY")
	setString(&cfg.DataDir, "TALETINKER_DATA_DIR")
	setString(&cfg.PublicMediaBaseURL, "TALETINKER_PUBLIC_MEDIA_BASE_URL")

	setString(&cfg.AuthJWKSURL, "TALETINKER_AUTH_JWKS_URL")
	setString(&cfg.JWTIssuer, "JWT_ISSUER")
	setString(&cfg.JWTAudience, "JWT_AUDIENCE")
	setString(&cfg.JWTLeeway, "JWT_LEEWAY")

	setString(&cfg.AIProvider, "AI_PROVIDER")
	setString(&cfg.AIBaseURL, "AI_BASE_URL")
	setString(&cfg.AIAPIKey, "AI_API_KEY")
	setString(&cfg.TextModel, "AI_TEXT_MODEL")
	setString(&cfg.ImageModel, "AI_IMAGE_MODEL")
	setString(&cfg.SpeechModel, "AI_SPEECH_MODEL")
	setString(&cfg.ReasoningEffort, "AI_REASONING_EFFORT")
	setString(&cfg.GenerationTimeout, "AI_GENERATION_TIMEOUT")

	setInt(&cfg.MinStoryLines, "TALETINKER_MIN_STORY_LINES")
	setInt(&cfg.AnonSigninLine, "TALETINKER_ANON_SIGNIN_LINE")
	setString(&cfg.ListCacheTTL, "TALETINKER_LIST_CACHE_TTL")
	setInt(&cfg.GenerateRateLimitPerMinute, "TALETINKER_GENERATE_RATE_LIMIT_PER_MINUTE")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = b
		}
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or TALETINKER_PORT)")
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for the list cache and rate limiting")
	}
	if strings.TrimSpace(cfg.AuthJWKSURL) == "" {
		return errors.New("config: authJwksURL is required (set in config.yaml or TALETINKER_AUTH_JWKS_URL)")
	}
	if cfg.MinioEndpoint != "" {
		if cfg.MinioBucket == "" {
			return errors.New("config: minioBucket is required when minioEndpoint is set")
		}
		if cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" {
			return errors.New("config: minio credentials are required when minioEndpoint is set")
		}
	} else if strings.TrimSpace(cfg.DataDir) == "" {
		return errors.New("config: dataDir is required when minioEndpoint is not set")
	}
	if strings.TrimSpace(cfg.TextModel) == "" {
		return errors.New("config: textModel is required (set in config.yaml or AI_TEXT_MODEL)")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.AIProvider)) {
	case "", "openai", "gemini", "ollama":
	default:
		return fmt.Errorf("config: unsupported aiProvider %q", cfg.AIProvider)
	}
	for name, raw := range map[string]string{
		"generationTimeout": cfg.GenerationTimeout,
		"listCacheTTL":      cfg.ListCacheTTL,
		"jwtLeeway":         cfg.JWTLeeway,
		"minioUrlExpiry":    cfg.MinioURLExpiry,
	} {
		if _, err := ParseDuration(raw); err != nil {
			return fmt.Errorf("config: invalid %s: %w", name, err)
		}
	}
	if cfg.MinStoryLines < 0 || cfg.AnonSigninLine < 0 || cfg.LineMinChars < 0 || cfg.LineMinWords < 0 {
		return errors.New("config: story line settings must be >= 0")
	}
	if cfg.ThumbnailMaxSize < 0 {
		return errors.New("config: thumbnailMaxSize must be >= 0")
	}
	if cfg.GenerateRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// ParseDuration parses an optional duration string; empty means zero.
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if dur < 0 {
		return 0, fmt.Errorf("duration %q must not be negative", raw)
	}
	return dur, nil
}
