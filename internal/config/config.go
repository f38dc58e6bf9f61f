package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	// Empty keeps templates in memory for the life of the process.
	DatabaseURL string `env:"DATABASE_URL"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":4000"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"120s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	// PublicURL prefixes locally served snippet links; empty = relative.
	PublicURL string `env:"PUBLIC_URL"`

	AuthToken string `env:"AUTH_TOKEN"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv    string `env:"APP_ENV" envDefault:"production"`

	// CORSOrigins restricts browser origins; empty allows all.
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:","`

	UploadDir   string `env:"UPLOAD_DIR" envDefault:"./uploads"`
	MaxUploadMB int    `env:"MAX_UPLOAD_MB" envDefault:"20"`

	TemplateCatalogFile string `env:"TEMPLATE_CATALOG_FILE"`

	TesseractPath string `env:"TESSERACT_PATH" envDefault:"tesseract"`
	TesseractLang string `env:"TESSERACT_LANG" envDefault:"eng"`

	GeminiAPIKey string `env:"GEMINI_API_KEY"`
	GeminiModel  string `env:"GEMINI_MODEL" envDefault:"gemini-1.5-flash"`
	GeminiURL    string `env:"GEMINI_URL"`

	ITunesSearchURL   string `env:"ITUNES_SEARCH_URL" envDefault:"https://itunes.apple.com/search"`
	ITunesSearchLimit int    `env:"ITUNES_SEARCH_LIMIT" envDefault:"25"`
	DefaultLanguage   string `env:"DEFAULT_LANGUAGE" envDefault:"en-US"`

	FFmpegPath       string        `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	SnippetDuration  time.Duration `env:"SNIPPET_DURATION" envDefault:"10s"`
	SnippetLead      time.Duration `env:"SNIPPET_LEAD" envDefault:"2s"`
	SnippetDir       string        `env:"SNIPPET_DIR" envDefault:"./snippets"`
	SnippetRetention time.Duration `env:"SNIPPET_RETENTION" envDefault:"24h"`
	MaxAudioMB       int           `env:"MAX_AUDIO_MB" envDefault:"1024"`

	STTProvider     string `env:"STT_PROVIDER" envDefault:"google"`
	GoogleSTTAPIKey string `env:"GOOGLE_STT_API_KEY"`
	GoogleSTTURL    string `env:"GOOGLE_STT_URL"`
	GoogleSTTModel  string `env:"GOOGLE_STT_MODEL"`
	WhisperURL      string `env:"WHISPER_URL"`
	WhisperModel    string `env:"WHISPER_MODEL" envDefault:"whisper-1"`
	WhisperAPIKey   string `env:"WHISPER_API_KEY"`

	Timeouts Timeouts

	S3 S3Config

	MQTTBrokerURL string `env:"MQTT_BROKER_URL"`
	MQTTClientID  string `env:"MQTT_CLIENT_ID" envDefault:"podshot"`
	MQTTTopic     string `env:"MQTT_TOPIC" envDefault:"podshot/results"`
	MQTTUsername  string `env:"MQTT_USERNAME"`
	MQTTPassword  string `env:"MQTT_PASSWORD"`
}

// Timeouts bound each pipeline stage; Request bounds the whole run.
type Timeouts struct {
	OCR        time.Duration `env:"OCR_TIMEOUT" envDefault:"15s"`
	Vision     time.Duration `env:"VISION_TIMEOUT" envDefault:"30s"`
	Catalog    time.Duration `env:"CATALOG_TIMEOUT" envDefault:"10s"`
	Feed       time.Duration `env:"FEED_TIMEOUT" envDefault:"15s"`
	Download   time.Duration `env:"DOWNLOAD_TIMEOUT" envDefault:"120s"`
	Extract    time.Duration `env:"EXTRACT_TIMEOUT" envDefault:"60s"`
	Transcribe time.Duration `env:"TRANSCRIBE_TIMEOUT" envDefault:"60s"`
	Request    time.Duration `env:"REQUEST_TIMEOUT" envDefault:"5m"`
}

// S3Config configures snippet object storage.
type S3Config struct {
	Bucket        string        `env:"S3_BUCKET"`
	Endpoint      string        `env:"S3_ENDPOINT"`
	Region        string        `env:"S3_REGION" envDefault:"us-east-1"`
	AccessKey     string        `env:"S3_ACCESS_KEY"`
	SecretKey     string        `env:"S3_SECRET_KEY"`
	Prefix        string        `env:"S3_PREFIX"`
	PresignExpiry time.Duration `env:"S3_PRESIGN_EXPIRY" envDefault:"1h"`
	// LocalCache keeps a local copy and serves it; S3 becomes the backup.
	LocalCache bool `env:"S3_LOCAL_CACHE" envDefault:"false"`
}

// Enabled reports whether S3 storage is configured.
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// IsDevelopment reports whether error responses may carry stack traces.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.AppEnv, "development")
}

// Validate checks values env tags cannot express.
func (c *Config) Validate() error {
	switch c.STTProvider {
	case "google", "whisper", "none":
	default:
		return fmt.Errorf("STT_PROVIDER must be google, whisper or none, got %q", c.STTProvider)
	}
	if c.STTProvider == "whisper" && c.WhisperURL == "" {
		return fmt.Errorf("STT_PROVIDER=whisper requires WHISPER_URL")
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("MAX_UPLOAD_MB must be positive, got %d", c.MaxUploadMB)
	}
	if c.SnippetDuration <= 0 {
		return fmt.Errorf("SNIPPET_DURATION must be positive, got %s", c.SnippetDuration)
	}
	if c.SnippetLead < 0 {
		return fmt.Errorf("SNIPPET_LEAD must not be negative, got %s", c.SnippetLead)
	}
	return nil
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	DatabaseURL string
	SnippetDir  string
	CatalogFile string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.SnippetDir != "" {
		cfg.SnippetDir = overrides.SnippetDir
	}
	if overrides.CatalogFile != "" {
		cfg.TemplateCatalogFile = overrides.CatalogFile
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
