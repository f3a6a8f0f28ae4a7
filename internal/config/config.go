package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config stores runtime configuration for the dual-stream transcriber.
type Config struct {
	Backend BackendConfig
	Mic     CaptureConfig
	System  CaptureConfig
	Stream  StreamConfig
	Tuning  TuningConfig
	Log     LogConfig
	Metrics MetricsConfig
}

type BackendConfig struct {
	Endpoint       string
	AccessToken    string
	ConnectTimeout time.Duration
}

type CaptureConfig struct {
	RecorderCommand string
	InputFormat     string
	InputDevice     string
	SampleRate      int
	Channels        int
}

type StreamConfig struct {
	TargetSampleRate int
	FrameSamples     int
	FrameQueueDepth  int
	ReadChunkBytes   int
}

type LogConfig struct {
	Level  string
	Format string
}

type MetricsConfig struct {
	Enabled    bool
	ListenAddr string
}

// TuningConfig is the optional YAML overlay for knobs that rarely change per
// deployment but matter when they do. Every section validates independently.
type TuningConfig struct {
	Backoff  BackoffTuning  `yaml:"backoff"`
	Dedupe   DedupeTuning   `yaml:"dedupe"`
	Analysis AnalysisTuning `yaml:"analysis"`
}

type BackoffTuning struct {
	BaseDelayMS         int `yaml:"base_delay_ms"`
	MaxDelayMS          int `yaml:"max_delay_ms"`
	MaxJitterMS         int `yaml:"max_jitter_ms"`
	FloorDelayMS        int `yaml:"floor_delay_ms"`
	FloorAfterFailures  int `yaml:"floor_after_failures"`
	ColdStartDelayMS    int `yaml:"cold_start_delay_ms"`
	MaxAttempts         int `yaml:"max_attempts"`
	HeartbeatIntervalMS int `yaml:"heartbeat_interval_ms"`
	StaleAfterMS        int `yaml:"stale_after_ms"`
}

type DedupeTuning struct {
	WindowLines int    `yaml:"window_lines"`
	Strictness  string `yaml:"strictness"`
}

type AnalysisTuning struct {
	Framework  string   `yaml:"framework"`
	Questions  []string `yaml:"questions"`
	MaxTurns   int      `yaml:"max_turns"`
	ScoreEvery int      `yaml:"score_every"`
}

// Load resolves configuration from environment variables, sensible defaults
// and the optional tuning file named by CALLSCRIBE_TUNING_FILE.
func Load() (Config, error) {
	cfg := Config{
		Backend: BackendConfig{
			Endpoint:       envOrDefault("CALLSCRIBE_BACKEND_URL", "wss://api.deepgram.com/v1/listen"),
			AccessToken:    strings.TrimSpace(os.Getenv("CALLSCRIBE_ACCESS_TOKEN")),
			ConnectTimeout: time.Duration(envOrDefaultInt("CALLSCRIBE_CONNECT_TIMEOUT_MS", 30000)) * time.Millisecond,
		},
		Mic: CaptureConfig{
			RecorderCommand: envOrDefault("CALLSCRIBE_FFMPEG_COMMAND", "ffmpeg"),
			InputFormat:     envOrDefault("CALLSCRIBE_AUDIO_INPUT_FORMAT", "pulse"),
			InputDevice:     envOrDefault("CALLSCRIBE_MIC_DEVICE", "default"),
			SampleRate:      envOrDefaultInt("CALLSCRIBE_CAPTURE_SAMPLE_RATE", 48000),
			Channels:        envOrDefaultInt("CALLSCRIBE_CHANNELS", 1),
		},
		System: CaptureConfig{
			RecorderCommand: envOrDefault("CALLSCRIBE_FFMPEG_COMMAND", "ffmpeg"),
			InputFormat:     envOrDefault("CALLSCRIBE_AUDIO_INPUT_FORMAT", "pulse"),
			InputDevice:     envOrDefault("CALLSCRIBE_SYSTEM_DEVICE", "@DEFAULT_MONITOR@"),
			SampleRate:      envOrDefaultInt("CALLSCRIBE_CAPTURE_SAMPLE_RATE", 48000),
			Channels:        envOrDefaultInt("CALLSCRIBE_CHANNELS", 1),
		},
		Stream: StreamConfig{
			TargetSampleRate: envOrDefaultInt("CALLSCRIBE_TARGET_SAMPLE_RATE", 16000),
			FrameSamples:     envOrDefaultInt("CALLSCRIBE_FRAME_SAMPLES", 128),
			FrameQueueDepth:  envOrDefaultInt("CALLSCRIBE_FRAME_QUEUE_DEPTH", 64),
			ReadChunkBytes:   envOrDefaultInt("CALLSCRIBE_AUDIO_CHUNK_SIZE", 4096),
		},
		Log: LogConfig{
			Level:  envOrDefault("CALLSCRIBE_LOG_LEVEL", "info"),
			Format: envOrDefault("CALLSCRIBE_LOG_FORMAT", "text"),
		},
		Metrics: MetricsConfig{
			Enabled:    envOrDefaultBool("CALLSCRIBE_METRICS_ENABLED", true),
			ListenAddr: envOrDefault("CALLSCRIBE_METRICS_ADDR", ":9190"),
		},
	}

	if cfg.Mic.SampleRate <= 0 {
		cfg.Mic.SampleRate = 48000
	}
	if cfg.System.SampleRate <= 0 {
		cfg.System.SampleRate = 48000
	}
	if cfg.Stream.TargetSampleRate <= 0 {
		cfg.Stream.TargetSampleRate = 16000
	}
	if cfg.Stream.ReadChunkBytes < 256 {
		cfg.Stream.ReadChunkBytes = 4096
	}

	tuningPath := strings.TrimSpace(os.Getenv("CALLSCRIBE_TUNING_FILE"))
	if tuningPath != "" {
		tuning, err := loadTuning(tuningPath)
		if err != nil {
			return Config{}, err
		}
		cfg.Tuning = tuning
	}
	if err := cfg.Tuning.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadTuning(path string) (TuningConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return TuningConfig{}, fmt.Errorf("read tuning file %s: %w", path, err)
	}
	var tuning TuningConfig
	if err := yaml.Unmarshal(raw, &tuning); err != nil {
		return TuningConfig{}, fmt.Errorf("parse tuning file %s: %w", path, err)
	}
	return tuning, nil
}

// Validate checks every tuning section. Zero values mean "use the default"
// and always pass.
func (t TuningConfig) Validate() error {
	if err := t.Backoff.Validate(); err != nil {
		return fmt.Errorf("backoff: %w", err)
	}
	if err := t.Dedupe.Validate(); err != nil {
		return fmt.Errorf("dedupe: %w", err)
	}
	if err := t.Analysis.Validate(); err != nil {
		return fmt.Errorf("analysis: %w", err)
	}
	return nil
}

func (b BackoffTuning) Validate() error {
	for name, v := range map[string]int{
		"base_delay_ms":         b.BaseDelayMS,
		"max_delay_ms":          b.MaxDelayMS,
		"max_jitter_ms":         b.MaxJitterMS,
		"floor_delay_ms":        b.FloorDelayMS,
		"floor_after_failures":  b.FloorAfterFailures,
		"cold_start_delay_ms":   b.ColdStartDelayMS,
		"max_attempts":          b.MaxAttempts,
		"heartbeat_interval_ms": b.HeartbeatIntervalMS,
		"stale_after_ms":        b.StaleAfterMS,
	} {
		if v < 0 {
			return fmt.Errorf("%s must not be negative, got %d", name, v)
		}
	}
	if b.MaxDelayMS > 0 && b.BaseDelayMS > b.MaxDelayMS {
		return fmt.Errorf("base_delay_ms %d exceeds max_delay_ms %d", b.BaseDelayMS, b.MaxDelayMS)
	}
	return nil
}

func (d DedupeTuning) Validate() error {
	if d.WindowLines < 0 {
		return fmt.Errorf("window_lines must not be negative, got %d", d.WindowLines)
	}
	switch d.Strictness {
	case "", "exact", "inclusive":
		return nil
	default:
		return fmt.Errorf("strictness must be exact or inclusive, got %q", d.Strictness)
	}
}

func (a AnalysisTuning) Validate() error {
	if a.MaxTurns < 0 {
		return fmt.Errorf("max_turns must not be negative, got %d", a.MaxTurns)
	}
	if a.ScoreEvery < 0 {
		return fmt.Errorf("score_every must not be negative, got %d", a.ScoreEvery)
	}
	return nil
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
