package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	APIAddr           string `yaml:"api_addr"`
	TemporalAddress   string `yaml:"temporal_address"`
	TemporalTaskQueue string `yaml:"temporal_task_queue"`
	DatabaseURL       string `yaml:"database_url"`
	DataInRoot        string `yaml:"data_in"`
	DataOutRoot       string `yaml:"data_out"`

	BlobBackend    string `yaml:"blob_backend"`
	MinioEndpoint  string `yaml:"minio_endpoint"`
	MinioAccessKey string `yaml:"minio_access_key"`
	MinioSecretKey string `yaml:"minio_secret_key"`
	MinioBucket    string `yaml:"minio_bucket"`
	MinioUseSSL    bool   `yaml:"minio_use_ssl"`

	OCRProviders     string  `yaml:"ocr_providers"`
	OCRBaseURL       string  `yaml:"ocr_base_url"`
	OCRTimeoutSecs   int     `yaml:"ocr_timeout_seconds"`
	OCRMinConfidence float64 `yaml:"ocr_min_confidence"`

	PipelineWorkers  int  `yaml:"pipeline_workers"`
	MaxPageDimension int  `yaml:"max_page_dimension"`
	DropLowConfident bool `yaml:"drop_low_confidence"`

	Runner             string `yaml:"runner"`
	ProcessorBin       string `yaml:"processor_bin"`
	ProcessTimeoutSecs int    `yaml:"process_timeout_seconds"`

	KafkaBrokers string `yaml:"kafka_brokers"`
	KafkaTopic   string `yaml:"kafka_topic"`

	MaxUploadBytes     int64  `yaml:"max_upload_bytes"`
	CORSAllowedOrigins string `yaml:"cors_allowed_origins"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	CalendarSlotMinutes int    `yaml:"calendar_slot_minutes"`
	CalendarDayStart    string `yaml:"calendar_day_start"`
	CalendarDayEnd      string `yaml:"calendar_day_end"`
}

// Defaults shared with components that fill in a zero Config.
const (
	DefaultProcessTimeoutSecs = 300
	DefaultMaxUploadBytes     = 20 << 20
)

func defaults() Config {
	return Config{
		APIAddr:             ":8080",
		TemporalAddress:     "localhost:7233",
		TemporalTaskQueue:   "timetable",
		DatabaseURL:         "sqlite://./data/timetable.db",
		DataInRoot:          "./data/in",
		DataOutRoot:         "./data/out",
		BlobBackend:         "fs",
		MinioBucket:         "timetables",
		OCRProviders:        "none",
		OCRBaseURL:          "http://localhost:8868",
		OCRTimeoutSecs:      60,
		OCRMinConfidence:    0.5,
		PipelineWorkers:     1,
		MaxPageDimension:    3000,
		Runner:              "exec",
		ProcessorBin:        "processor",
		ProcessTimeoutSecs:  DefaultProcessTimeoutSecs,
		KafkaTopic:          "timetable.sources",
		MaxUploadBytes:      DefaultMaxUploadBytes,
		CORSAllowedOrigins:  "http://localhost:3000",
		LogLevel:            "info",
		LogFormat:           "text",
		CalendarSlotMinutes: 30,
		CalendarDayStart:    "08:00",
		CalendarDayEnd:      "16:00",
	}
}

// Load resolves configuration from defaults, then the optional YAML file named
// by TIMETABLE_CONFIG_FILE, then TIMETABLE_* environment variables.
func Load() (Config, error) {
	cfg := defaults()
	if path := os.Getenv("TIMETABLE_CONFIG_FILE"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.APIAddr = getenv("TIMETABLE_API_ADDR", cfg.APIAddr)
	cfg.TemporalAddress = getenv("TIMETABLE_TEMPORAL_ADDRESS", cfg.TemporalAddress)
	cfg.TemporalTaskQueue = getenv("TIMETABLE_TEMPORAL_TASK_QUEUE", cfg.TemporalTaskQueue)
	cfg.DatabaseURL = getenv("TIMETABLE_DATABASE_URL", cfg.DatabaseURL)
	cfg.DataInRoot = getenv("TIMETABLE_DATA_IN", cfg.DataInRoot)
	cfg.DataOutRoot = getenv("TIMETABLE_DATA_OUT", cfg.DataOutRoot)
	cfg.BlobBackend = getenv("TIMETABLE_BLOB_BACKEND", cfg.BlobBackend)
	cfg.MinioEndpoint = getenv("TIMETABLE_MINIO_ENDPOINT", cfg.MinioEndpoint)
	cfg.MinioAccessKey = getenv("TIMETABLE_MINIO_ACCESS_KEY", cfg.MinioAccessKey)
	cfg.MinioSecretKey = getenv("TIMETABLE_MINIO_SECRET_KEY", cfg.MinioSecretKey)
	cfg.MinioBucket = getenv("TIMETABLE_MINIO_BUCKET", cfg.MinioBucket)
	cfg.MinioUseSSL = getenvBool("TIMETABLE_MINIO_USE_SSL", cfg.MinioUseSSL)
	cfg.OCRProviders = getenv("TIMETABLE_OCR_PROVIDERS", cfg.OCRProviders)
	cfg.OCRBaseURL = getenv("TIMETABLE_OCR_BASE_URL", cfg.OCRBaseURL)
	cfg.OCRTimeoutSecs = getenvInt("TIMETABLE_OCR_TIMEOUT_SECONDS", cfg.OCRTimeoutSecs)
	cfg.OCRMinConfidence = getenvFloat("TIMETABLE_OCR_MIN_CONFIDENCE", cfg.OCRMinConfidence)
	cfg.PipelineWorkers = getenvInt("TIMETABLE_PIPELINE_WORKERS", cfg.PipelineWorkers)
	cfg.MaxPageDimension = getenvInt("TIMETABLE_MAX_PAGE_DIMENSION", cfg.MaxPageDimension)
	cfg.DropLowConfident = getenvBool("TIMETABLE_DROP_LOW_CONFIDENCE", cfg.DropLowConfident)
	cfg.Runner = getenv("TIMETABLE_RUNNER", cfg.Runner)
	cfg.ProcessorBin = getenv("TIMETABLE_PROCESSOR_BIN", cfg.ProcessorBin)
	cfg.ProcessTimeoutSecs = getenvInt("TIMETABLE_PROCESS_TIMEOUT_SECONDS", cfg.ProcessTimeoutSecs)
	cfg.KafkaBrokers = getenv("TIMETABLE_KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaTopic = getenv("TIMETABLE_KAFKA_TOPIC", cfg.KafkaTopic)
	cfg.MaxUploadBytes = int64(getenvInt("TIMETABLE_MAX_UPLOAD_BYTES", int(cfg.MaxUploadBytes)))
	cfg.CORSAllowedOrigins = getenv("TIMETABLE_CORS_ALLOWED_ORIGINS", cfg.CORSAllowedOrigins)
	cfg.LogLevel = getenv("TIMETABLE_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getenv("TIMETABLE_LOG_FORMAT", cfg.LogFormat)
	cfg.CalendarSlotMinutes = getenvInt("TIMETABLE_CALENDAR_SLOT_MINUTES", cfg.CalendarSlotMinutes)
	cfg.CalendarDayStart = getenv("TIMETABLE_CALENDAR_DAY_START", cfg.CalendarDayStart)
	cfg.CalendarDayEnd = getenv("TIMETABLE_CALENDAR_DAY_END", cfg.CalendarDayEnd)
	return cfg, nil
}

func (c Config) ProcessTimeout() time.Duration {
	return time.Duration(c.ProcessTimeoutSecs) * time.Second
}

func (c Config) OCRTimeout() time.Duration {
	return time.Duration(c.OCRTimeoutSecs) * time.Second
}

func (c Config) KafkaBrokerList() []string {
	return splitAndTrim(c.KafkaBrokers)
}

// CORSConfig is an explicit origin allow-list. An empty list allows no
// cross-origin callers.
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

func (c Config) CORS() CORSConfig {
	return CORSConfig{
		AllowedOrigins: splitAndTrim(c.CORSAllowedOrigins),
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
	}
}

func (c CORSConfig) Allows(origin string) bool {
	for _, o := range c.AllowedOrigins {
		if strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func getenv(k, fallback string) string {
	v := os.Getenv(k)
	if v == "" {
		return fallback
	}
	return v
}

func getenvInt(k string, fallback int) int {
	v := os.Getenv(k)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvFloat(k string, fallback float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getenvBool(k string, fallback bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
