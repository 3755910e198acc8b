package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the HAL voice reply service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	// FrontEndURL is the only browser origin allowed by CORS and the websocket upgrader.
	FrontEndURL   string
	PublicBaseURL string
	OutputDir     string
	PersonaFile   string

	LLMMode       string
	LLMServerURL  string
	LLMTimeout    time.Duration
	LLMWarmup     bool
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	TTSProvider     string
	TTSWorkerPython string
	TTSWorkerScript string
	TTSDevice       string
	TTSHTTPURL      string

	VoiceModelPath string
	ModelName      string
	CheckpointPath string
	ModelCfgPath   string
	VocabPath      string
	RefAudioPath   string
	RefText        string

	LogLevel   string
	LogFile    string
	LogNoColor bool
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	apiBase := strings.TrimRight(envOrDefault("NEXT_PUBLIC_API_BASE_URL", "http://localhost:8080"), "/")
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8000"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "hal"),
		FrontEndURL:      firstNonEmpty(os.Getenv("NEXT_PUBLIC_FRONTEND_URL"), os.Getenv("FRONT_END_URL"), "http://localhost:3000"),
		PublicBaseURL:    strings.TrimRight(stringsTrimSpace("PUBLIC_BASE_URL"), "/"),
		OutputDir:        envOrDefault("OUTPUT_DIR", "outputs"),
		PersonaFile:      stringsTrimSpace("PERSONA_FILE"),
		LLMMode:          strings.ToLower(envOrDefault("LLM_MODE", "local")),
		LLMServerURL:     envOrDefault("LLM_SERVER_URL", apiBase+"/completions"),
		LLMTimeout:       20 * time.Second,
		LLMWarmup:        true,
		OpenAIAPIKey:     stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIModel:      envOrDefault("OPENAI_MODEL", "gpt-3.5-turbo"),
		OpenAIBaseURL:    stringsTrimSpace("OPENAI_BASE_URL"),
		TTSProvider:      strings.ToLower(envOrDefault("TTS_PROVIDER", "worker")),
		TTSWorkerPython:  envOrDefault("TTS_WORKER_PYTHON", "python3"),
		TTSWorkerScript:  envOrDefault("TTS_WORKER_SCRIPT", "scripts/f5_worker.py"),
		TTSDevice:        envOrDefault("TTS_DEVICE", "cuda"),
		TTSHTTPURL:       strings.TrimRight(stringsTrimSpace("TTS_HTTP_URL"), "/"),
		VoiceModelPath:   envOrDefault("VOICE_MODEL_PATH", "models/voice_clone.pth"),
		ModelName:        envOrDefault("MODEL_NAME", "E2TTS_Base"),
		CheckpointPath:   envOrDefault("CHECKPOINT_PATH", "voice-model/model_50_pruned.safetensors"),
		ModelCfgPath:     envOrDefault("MODEL_CFG_PATH", "voice-model/E2TTS_Base.yaml"),
		VocabPath:        stringsTrimSpace("VOCAB_PATH"),
		RefAudioPath:     envOrDefault("REF_AUDIO_PATH", "voice-model/samples/5.wav"),
		RefText:          envOrDefault("REF_TEXT", "None whatsoever, Frank. The 9000 series has a perfect operational record."),
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		LogFile:          stringsTrimSpace("LOG_FILE"),
		ShutdownTimeout:  15 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMTimeout, err = durationFromEnv("LLM_TIMEOUT", cfg.LLMTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMWarmup, err = boolFromEnv("LLM_WARMUP", cfg.LLMWarmup)
	if err != nil {
		return Config{}, err
	}
	cfg.LogNoColor, err = boolFromEnv("LOG_NO_COLOR", cfg.LogNoColor)
	if err != nil {
		return Config{}, err
	}

	if cfg.LLMTimeout <= 0 || cfg.LLMTimeout > 60*time.Second {
		return Config{}, fmt.Errorf("LLM_TIMEOUT must be in (0s,60s]")
	}
	if cfg.ShutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("APP_SHUTDOWN_TIMEOUT must be positive")
	}
	if strings.TrimSpace(cfg.OutputDir) == "" {
		return Config{}, fmt.Errorf("OUTPUT_DIR must not be empty")
	}
	switch cfg.TTSProvider {
	case "worker", "http", "mock":
	default:
		return Config{}, fmt.Errorf("invalid TTS_PROVIDER: %q (expected worker|http|mock)", cfg.TTSProvider)
	}
	if cfg.TTSProvider == "http" && cfg.TTSHTTPURL == "" {
		return Config{}, fmt.Errorf("TTS_HTTP_URL is required when TTS_PROVIDER=http")
	}
	// An unknown LLM_MODE is reported per request, not here.

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err == nil {
		return b, nil
	}
	switch v {
	case "yes", "y", "on":
		return true, nil
	case "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
