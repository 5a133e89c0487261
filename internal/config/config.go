package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates the settings of the generation service.
type Config struct {
	Server   ServerConfig
	Pipeline PipelineConfig
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	pipeline, err := loadPipelineConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, Pipeline: pipeline}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
	MaxUploadBytes int64
}

var defaultOrigins = []string{
	"http://localhost:5173",
	"http://localhost:3000",
}

func loadServerConfig() (ServerConfig, error) {
	addr, err := parseAddr(os.Getenv("PORT"))
	if err != nil {
		return ServerConfig{}, err
	}

	maxUpload := 10
	if override, err := parseOptionalIntEnv("MAX_UPLOAD_MB"); err != nil {
		return ServerConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return ServerConfig{}, fmt.Errorf("invalid MAX_UPLOAD_MB value %d: must be positive", *override)
		}
		maxUpload = *override
	}

	origins := defaultOrigins
	if raw := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS")); raw != "" {
		origins = splitList(raw)
	}

	return ServerConfig{
		Addr:           addr,
		AllowedOrigins: origins,
		MaxUploadBytes: int64(maxUpload) << 20,
	}, nil
}

// parseAddr accepts "8000", ":8000" or "127.0.0.1:8000".
func parseAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8000"
	}

	if strings.Contains(port, ":") {
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}
	if _, err := strconv.Atoi(port); err != nil {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}

// PipelineConfig describes the generation parameters.
type PipelineConfig struct {
	Name           string
	Steps          int
	GuidanceScale  float64
	DefaultPrompt  string
	NegativePrompt string
	Preload        bool
	StepDelay      time.Duration
}

const (
	DefaultPrompt         = "high quality, detailed, realistic"
	DefaultNegativePrompt = "low quality, blurry, distorted, deformed, ugly, bad anatomy"
)

func loadPipelineConfig() (PipelineConfig, error) {
	steps := 20
	if override, err := parseOptionalIntEnv("PIPELINE_STEPS"); err != nil {
		return PipelineConfig{}, err
	} else if override != nil {
		if *override < 1 {
			steps = 1
		} else {
			steps = *override
		}
	}

	guidance := 7.5
	if override, err := parseOptionalFloatEnv("PIPELINE_GUIDANCE_SCALE"); err != nil {
		return PipelineConfig{}, err
	} else if override != nil {
		guidance = *override
	}

	preload, err := parseBoolEnv("PIPELINE_PRELOAD", false)
	if err != nil {
		return PipelineConfig{}, err
	}

	var delay time.Duration
	if ms, err := parseOptionalIntEnv("PIPELINE_STEP_DELAY_MS"); err != nil {
		return PipelineConfig{}, err
	} else if ms != nil && *ms > 0 {
		delay = time.Duration(*ms) * time.Millisecond
	}

	return PipelineConfig{
		Name:           getEnvOrDefault("PIPELINE", "preview"),
		Steps:          steps,
		GuidanceScale:  guidance,
		DefaultPrompt:  getEnvOrDefault("PIPELINE_DEFAULT_PROMPT", DefaultPrompt),
		NegativePrompt: getEnvOrDefault("PIPELINE_NEGATIVE_PROMPT", DefaultNegativePrompt),
		Preload:        preload,
		StepDelay:      delay,
	}, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
