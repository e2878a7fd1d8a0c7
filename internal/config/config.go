package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"invoice-recon/internal/core"
)

// Config holds every runtime setting read from the environment.
type Config struct {
	Environment    string
	LogLevel       string
	DatabaseURL    string
	ServerPort     string
	AllowedOrigins string
	MaxUploadBytes int64
	JWTSecret      string

	RedisAddress string

	OpenAIKey   string
	OpenAIModel string

	StorageBackend  string
	GCSBucket       string
	LocalStorageDir string
	SignedURLTTL    time.Duration

	OCR OCRConfig

	ParseConfidenceFloor float64
	MatchScoreFloor      float64
	VarianceTolerance    float64

	ProcessorWorkers    int
	ProcessorQueueSize  int
	ProcessorJobTimeout time.Duration
}

// OCRConfig configures the tesseract worker process and its language assets.
type OCRConfig struct {
	TesseractPath string
	PdftoppmPath  string
	Language      string
	TessdataURL   string
	CacheDir      string
	Timeout       time.Duration
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment:    getEnv("APP_ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		AllowedOrigins: os.Getenv("ALLOWED_ORIGINS"),
		MaxUploadBytes: int64(getEnvAsInt("MAX_UPLOAD_BYTES", 20<<20)),
		JWTSecret:      os.Getenv("AUTH_JWT_SECRET"),

		RedisAddress: os.Getenv("REDIS_ADDRESS"),

		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		OpenAIModel: getEnv("OPENAI_MODEL", "gpt-4o"),

		StorageBackend:  getEnv("STORAGE_BACKEND", "local"),
		GCSBucket:       os.Getenv("GCS_BUCKET"),
		LocalStorageDir: getEnv("LOCAL_STORAGE_DIR", "./data/invoices"),
		SignedURLTTL:    getEnvAsDuration("SIGNED_URL_TTL", 15*time.Minute),

		OCR: OCRConfig{
			TesseractPath: getEnv("TESSERACT_PATH", "tesseract"),
			PdftoppmPath:  getEnv("PDFTOPPM_PATH", "pdftoppm"),
			Language:      getEnv("OCR_LANGUAGE", "eng"),
			TessdataURL:   getEnv("TESSDATA_URL", "https://github.com/tesseract-ocr/tessdata_fast/raw/main"),
			CacheDir:      getEnv("OCR_CACHE_DIR", "./data/tessdata"),
			Timeout:       getEnvAsDuration("OCR_TIMEOUT", 30*time.Second),
		},

		ParseConfidenceFloor: getEnvAsFloat("PARSE_CONFIDENCE_FLOOR", 0.60),
		MatchScoreFloor:      getEnvAsFloat("MATCH_SCORE_FLOOR", 0.50),
		VarianceTolerance:    getEnvAsFloat("VARIANCE_TOLERANCE", 0.05),

		ProcessorWorkers:    getEnvAsInt("PROCESSOR_WORKERS", 4),
		ProcessorQueueSize:  getEnvAsInt("PROCESSOR_QUEUE_SIZE", 100),
		ProcessorJobTimeout: getEnvAsDuration("PROCESSOR_JOB_TIMEOUT", 2*time.Minute),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable not set")
	}
	switch strings.ToLower(c.StorageBackend) {
	case "local":
	case "gcs":
		if c.GCSBucket == "" {
			return fmt.Errorf("GCS_BUCKET is required when STORAGE_BACKEND=gcs")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q (want gcs or local)", c.StorageBackend)
	}
	for name, v := range map[string]float64{
		"PARSE_CONFIDENCE_FLOOR": c.ParseConfidenceFloor,
		"MATCH_SCORE_FLOOR":      c.MatchScoreFloor,
		"VARIANCE_TOLERANCE":     c.VarianceTolerance,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", name, v)
		}
	}
	return nil
}

// Thresholds returns the production cut-offs with the configured floors applied.
func (c *Config) Thresholds() core.Thresholds {
	th := core.DefaultThresholds
	th.ParseConfidenceFloor = c.ParseConfidenceFloor
	th.MatchScoreFloor = c.MatchScoreFloor
	th.VarianceTolerance = c.VarianceTolerance
	return th
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return v
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}
