package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

// Template store backends.
const (
	StoreAuto      = "auto"
	StoreSupabase  = "supabase"
	StorePostgres  = "postgres"
	StoreFirestore = "firestore"
	StoreNone      = "none"
)

// Vision providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderVertex    = "vertex"
)

// DatabaseConfig holds PostgreSQL database connection settings.
type DatabaseConfig struct {
	Host               string
	Port               string
	User               string
	Password           string
	Name               string
	SSLMode            string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetimeSec int
}

// MinIOConfig holds object storage settings for the optional result archive.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Enabled reports whether the archive has an endpoint to talk to.
func (c MinIOConfig) Enabled() bool {
	return c.Endpoint != ""
}

// AnthropicConfig holds settings for the Anthropic Messages API.
type AnthropicConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	Version   string
	MaxTokens int
}

// VertexConfig holds settings for Gemini on Vertex AI.
type VertexConfig struct {
	ProjectID string
	Region    string
	Model     string
}

// VisionConfig selects and configures the image-understanding provider.
type VisionConfig struct {
	Provider   string
	TimeoutSec int
	Anthropic  AnthropicConfig
	Vertex     VertexConfig
}

// TemplateStoreConfig selects and configures the template cache backend.
type TemplateStoreConfig struct {
	Backend             string
	SupabaseURL         string
	SupabaseKey         string
	FirestoreProjectID  string
	FirestoreCollection string
}

// AppConfig is the centralized configuration struct for the application.
// It is populated from environment variables. Sensitive values are not hardcoded.
type AppConfig struct {
	AppHost        string
	Port           string
	BodyLimitMB    int
	CORSOrigins    string
	ParallelStages bool
	Vision         VisionConfig
	Templates      TemplateStoreConfig
	Database       DatabaseConfig
	MinIO          MinIOConfig
}

// Load reads configuration from environment variables.
// A .env file can be auto-loaded by importing: _ "github.com/joho/godotenv/autoload"
// Real environment variables take precedence.
func Load() *AppConfig {
	return &AppConfig{
		AppHost:        getEnv("APP_HOST", "localhost:8080"),
		Port:           getEnv("PORT", "8080"),
		BodyLimitMB:    getEnvInt("BODY_LIMIT_MB", 50),
		CORSOrigins:    getEnv("CORS_ALLOW_ORIGINS", "*"),
		ParallelStages: getEnvBool("PIPELINE_PARALLEL_STAGES", false),
		Vision: VisionConfig{
			Provider:   strings.ToLower(getEnv("VISION_PROVIDER", ProviderAnthropic)),
			TimeoutSec: getEnvInt("VISION_TIMEOUT_SEC", 120),
			Anthropic: AnthropicConfig{
				APIKey:    getEnv("ANTHROPIC_API_KEY", ""),
				BaseURL:   getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
				Model:     getEnv("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
				Version:   getEnv("ANTHROPIC_VERSION", "2023-06-01"),
				MaxTokens: getEnvInt("ANTHROPIC_MAX_TOKENS", 4096),
			},
			Vertex: VertexConfig{
				ProjectID: getEnv("VERTEX_PROJECT_ID", ""),
				Region:    getEnv("VERTEX_REGION", "us-central1"),
				Model:     getEnv("VERTEX_MODEL", "gemini-1.5-pro"),
			},
		},
		Templates: TemplateStoreConfig{
			Backend:             strings.ToLower(getEnv("TEMPLATE_STORE", StoreAuto)),
			SupabaseURL:         getEnv("SUPABASE_URL", ""),
			SupabaseKey:         getEnv("SUPABASE_KEY", ""),
			FirestoreProjectID:  getEnv("FIRESTORE_PROJECT_ID", ""),
			FirestoreCollection: getEnv("FIRESTORE_COLLECTION", "illustration_templates"),
		},
		Database: DatabaseConfig{
			Host:               getEnv("DB_HOST", ""),
			Port:               getEnv("DB_PORT", "5432"),
			User:               getEnv("DB_USER", ""),
			Password:           getEnv("DB_PASSWORD", ""),
			Name:               getEnv("DB_NAME", ""),
			SSLMode:            getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetimeSec: getEnvInt("DB_CONN_MAX_LIFETIME_SEC", 300),
		},
		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", ""),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
		},
	}
}

// VisionError reports why the configured vision provider cannot be built.
// A nil return means extraction requests can be served.
func (c *AppConfig) VisionError() error {
	switch c.Vision.Provider {
	case ProviderAnthropic:
		if c.Vision.Anthropic.APIKey == "" {
			return errors.New("ANTHROPIC_API_KEY is not configured")
		}
	case ProviderVertex:
		if c.Vision.Vertex.ProjectID == "" {
			return errors.New("VERTEX_PROJECT_ID is not configured")
		}
	default:
		return errors.New("unsupported VISION_PROVIDER: " + c.Vision.Provider)
	}
	return nil
}

// TemplateBackend resolves "auto" to a concrete backend. Supabase wins when
// both its URL and key are present, then PostgreSQL when DB_HOST is set.
func (c *AppConfig) TemplateBackend() string {
	switch c.Templates.Backend {
	case StoreSupabase, StorePostgres, StoreFirestore, StoreNone:
		return c.Templates.Backend
	}
	if c.Templates.SupabaseURL != "" && c.Templates.SupabaseKey != "" {
		return StoreSupabase
	}
	if c.Database.Host != "" {
		return StorePostgres
	}
	return StoreNone
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}
