package config

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"golang.org/x/text/language"
)

type Config struct {
	// WebServer Configuration
	WebServerPort      int    `mapstructure:"WEBSERVER_PORT"`
	WebhookVerifyToken string `mapstructure:"WEBHOOK_VERIFY_TOKEN"`
	APIJWTSecret       string `mapstructure:"API_JWT_SECRET"`

	// Database Configuration
	DatabaseDSN     string `mapstructure:"DATABASE_DSN" validate:"required"`
	DatabaseRetries int    `mapstructure:"DATABASE_RETRIES" validate:"gte=1"`

	// Scraper Configuration
	Apify ApifyConfig `mapstructure:",squash"`

	// Object storage
	Storage StorageConfig `mapstructure:",squash"`

	// LLM-backed analysis
	Analysis AnalysisConfig `mapstructure:",squash"`

	// Pipeline behaviour
	Pipeline PipelineConfig `mapstructure:",squash"`

	// Local working files
	DownloadDir      string `mapstructure:"DOWNLOAD_DIR" validate:"required"`
	YTDLPPath        string `mapstructure:"YTDLP_PATH"`
	YTDLPCookiesPath string `mapstructure:"YTDLP_COOKIES_PATH"`

	ReprocessPollInterval time.Duration `mapstructure:"REPROCESS_POLL_INTERVAL" validate:"gt=0"`
	ReprocessMaxAttempts  int           `mapstructure:"REPROCESS_MAX_ATTEMPTS" validate:"gte=1"`
	ReprocessBatchSize    int           `mapstructure:"REPROCESS_BATCH_SIZE" validate:"gte=1"`
}

type ApifyConfig struct {
	APIToken     string        `mapstructure:"APIFY_API_TOKEN" validate:"required"`
	BaseURL      string        `mapstructure:"APIFY_BASE_URL" validate:"required,url"`
	PollInterval time.Duration `mapstructure:"APIFY_POLL_INTERVAL" validate:"gt=0"`
	RunTimeout   time.Duration `mapstructure:"APIFY_RUN_TIMEOUT" validate:"gt=0"`
}

type StorageConfig struct {
	Backend    string `mapstructure:"STORAGE_BACKEND" validate:"oneof=supabase filesystem"`
	URL        string `mapstructure:"STORAGE_URL" validate:"required_if=Backend supabase"`
	ServiceKey string `mapstructure:"STORAGE_SERVICE_KEY" validate:"required_if=Backend supabase"`
	Bucket     string `mapstructure:"STORAGE_BUCKET" validate:"required"`
	Root       string `mapstructure:"STORAGE_ROOT" validate:"required_if=Backend filesystem"`
}

type AnalysisConfig struct {
	BaseURL         string `mapstructure:"LLM_BASE_URL" validate:"required,url"`
	APIKey          string `mapstructure:"LLM_API_KEY" validate:"required"`
	Model           string `mapstructure:"LLM_MODEL" validate:"required"`
	VisionModel     string `mapstructure:"VISION_MODEL" validate:"required"`
	TranscribeModel string `mapstructure:"TRANSCRIBE_MODEL" validate:"required"`
	Language        string `mapstructure:"ANALYSIS_LANGUAGE" validate:"required"`
}

type PipelineConfig struct {
	MaxAttempts         int           `mapstructure:"PIPELINE_MAX_ATTEMPTS" validate:"gte=1"`
	BackoffBase         time.Duration `mapstructure:"PIPELINE_BACKOFF_BASE" validate:"gt=0"`
	FingerprintInterval time.Duration `mapstructure:"FINGERPRINT_INTERVAL" validate:"gt=0"`
	DedupMaxDistance    int           `mapstructure:"DEDUP_MAX_DISTANCE" validate:"gte=0,lte=64"`
	DedupMinFrames      int           `mapstructure:"DEDUP_MIN_FRAMES" validate:"gte=1"`
	DedupQueryLimit     int           `mapstructure:"DEDUP_QUERY_LIMIT" validate:"gte=1"`
}

// use reflect to bind environment variables based on mapstructure tags
func bindEnv(c Config) {
	val := reflect.ValueOf(c)
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := typ.Field(i)
		fieldVal := val.Field(i)
		tag := field.Tag.Get("mapstructure")

		// Nested groups are squashed into the flat env namespace.
		if field.Type.Kind() == reflect.Struct && strings.HasPrefix(tag, ",") {
			nestedTyp := fieldVal.Type()
			for j := 0; j < fieldVal.NumField(); j++ {
				nestedField := nestedTyp.Field(j)
				nestedTag := nestedField.Tag.Get("mapstructure")
				if nestedTag != "" {
					viper.BindEnv(nestedTag)
				}
			}
			continue
		}

		if tag != "" {
			viper.BindEnv(tag)
		}
	}
}

func setDefaults() {
	viper.SetDefault("WEBSERVER_PORT", 8080)
	viper.SetDefault("DATABASE_RETRIES", 10)
	viper.SetDefault("DOWNLOAD_DIR", "/tmp/reelwatch")
	viper.SetDefault("REPROCESS_POLL_INTERVAL", 30*time.Second)
	viper.SetDefault("REPROCESS_MAX_ATTEMPTS", 3)
	viper.SetDefault("REPROCESS_BATCH_SIZE", 10)

	viper.SetDefault("APIFY_BASE_URL", "https://api.apify.com")
	viper.SetDefault("APIFY_POLL_INTERVAL", 3*time.Second)
	viper.SetDefault("APIFY_RUN_TIMEOUT", 120*time.Second)

	viper.SetDefault("STORAGE_BACKEND", "supabase")
	viper.SetDefault("STORAGE_BUCKET", "reels")

	viper.SetDefault("LLM_BASE_URL", "https://api.openai.com/v1")
	viper.SetDefault("LLM_MODEL", "gpt-4o-mini")
	viper.SetDefault("VISION_MODEL", "gpt-4o")
	viper.SetDefault("TRANSCRIBE_MODEL", "whisper-1")
	viper.SetDefault("ANALYSIS_LANGUAGE", "ar")

	viper.SetDefault("PIPELINE_MAX_ATTEMPTS", 3)
	viper.SetDefault("PIPELINE_BACKOFF_BASE", time.Second)
	viper.SetDefault("FINGERPRINT_INTERVAL", 2*time.Second)
	viper.SetDefault("DEDUP_MAX_DISTANCE", 5)
	viper.SetDefault("DEDUP_MIN_FRAMES", 3)
	viper.SetDefault("DEDUP_QUERY_LIMIT", 100)
}

func LoadConfig(ctx context.Context) (*Config, error) {
	bindEnv(Config{})
	viper.AutomaticEnv()
	setDefaults()

	cfg := Config{}
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	tag, err := language.Parse(cfg.Analysis.Language)
	if err != nil {
		return nil, fmt.Errorf("validate config: ANALYSIS_LANGUAGE: %w", err)
	}
	cfg.Analysis.Language = tag.String()

	slog.Info("Loaded configuration",
		"port", cfg.WebServerPort,
		"storage_backend", cfg.Storage.Backend,
		"bucket", cfg.Storage.Bucket,
		"download_dir", cfg.DownloadDir,
		"llm_model", cfg.Analysis.Model,
		"max_attempts", cfg.Pipeline.MaxAttempts,
	)

	return &cfg, nil
}
