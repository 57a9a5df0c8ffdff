package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all server and pipeline configuration
type Config struct {
	Port            int
	RedisURL        string
	RedisPassword   string
	MaxSessions     int
	SessionTimeout  time.Duration
	GeminiAPIKey    string
	GeminiModel     string
	GeminiVoice     string
	AllowedOrigins  []string
	KeepAlivePeriod time.Duration

	// Voice pipeline tunables. Defaults were tuned against real rooms;
	// treat them as a starting point, not law.
	SilenceThreshold float64       // normalized RMS below which a frame counts as silence
	MinSpeechTime    time.Duration // continuous voice before SpeechStart fires
	MaxSilenceTime   time.Duration // continuous silence before SpeechEnd fires
	VADPollInterval  time.Duration // how often the detector samples the level source
	TurnGuardDelay   time.Duration // grace between local SpeechEnd and upstream turn-complete
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	config := &Config{
		Port:             8080,
		RedisURL:         "localhost:6379",
		RedisPassword:    "",
		MaxSessions:      100,
		SessionTimeout:   30 * time.Minute,
		GeminiModel:      "models/gemini-2.5-flash-native-audio-preview-12-2025",
		GeminiVoice:      "Aoede",
		AllowedOrigins:   []string{"*"},
		KeepAlivePeriod:  30 * time.Second,
		SilenceThreshold: 0.01,
		MinSpeechTime:    300 * time.Millisecond,
		MaxSilenceTime:   1500 * time.Millisecond,
		VADPollInterval:  50 * time.Millisecond,
		TurnGuardDelay:   500 * time.Millisecond,
	}

	// Required: GEMINI_API_KEY
	config.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	if config.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}

	// Optional: PORT
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		config.Port = p
	}

	// Optional: REDIS_URL
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		config.RedisURL = redisURL
	}

	// Optional: REDIS_PASSWORD
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		config.RedisPassword = redisPassword
	}

	// Optional: MAX_SESSIONS
	if maxSessions := os.Getenv("MAX_SESSIONS"); maxSessions != "" {
		m, err := strconv.Atoi(maxSessions)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_SESSIONS: %w", err)
		}
		config.MaxSessions = m
	}

	// Optional: SESSION_TIMEOUT (in minutes)
	if timeout := os.Getenv("SESSION_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid SESSION_TIMEOUT: %w", err)
		}
		config.SessionTimeout = time.Duration(t) * time.Minute
	}

	// Optional: GEMINI_MODEL
	if model := os.Getenv("GEMINI_MODEL"); model != "" {
		config.GeminiModel = model
	}

	// Optional: GEMINI_VOICE
	if voice := os.Getenv("GEMINI_VOICE"); voice != "" {
		config.GeminiVoice = voice
	}

	// Optional: ALLOWED_ORIGINS (comma-separated)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = strings.Split(origins, ",")
	}

	// Optional: KEEPALIVE_PERIOD (in seconds)
	if keepalive := os.Getenv("KEEPALIVE_PERIOD"); keepalive != "" {
		k, err := strconv.Atoi(keepalive)
		if err != nil {
			return nil, fmt.Errorf("invalid KEEPALIVE_PERIOD: %w", err)
		}
		config.KeepAlivePeriod = time.Duration(k) * time.Second
	}

	// Optional: VAD_SILENCE_THRESHOLD (normalized RMS, 0..1)
	if threshold := os.Getenv("VAD_SILENCE_THRESHOLD"); threshold != "" {
		f, err := strconv.ParseFloat(threshold, 64)
		if err != nil || f < 0 || f > 1 {
			return nil, fmt.Errorf("invalid VAD_SILENCE_THRESHOLD: must be a number in [0,1]")
		}
		config.SilenceThreshold = f
	}

	// Optional: VAD_MIN_SPEECH_MS
	if minSpeech := os.Getenv("VAD_MIN_SPEECH_MS"); minSpeech != "" {
		ms, err := strconv.Atoi(minSpeech)
		if err != nil {
			return nil, fmt.Errorf("invalid VAD_MIN_SPEECH_MS: %w", err)
		}
		config.MinSpeechTime = time.Duration(ms) * time.Millisecond
	}

	// Optional: VAD_MAX_SILENCE_MS
	if maxSilence := os.Getenv("VAD_MAX_SILENCE_MS"); maxSilence != "" {
		ms, err := strconv.Atoi(maxSilence)
		if err != nil {
			return nil, fmt.Errorf("invalid VAD_MAX_SILENCE_MS: %w", err)
		}
		config.MaxSilenceTime = time.Duration(ms) * time.Millisecond
	}

	// Optional: VAD_POLL_INTERVAL_MS
	if poll := os.Getenv("VAD_POLL_INTERVAL_MS"); poll != "" {
		ms, err := strconv.Atoi(poll)
		if err != nil {
			return nil, fmt.Errorf("invalid VAD_POLL_INTERVAL_MS: %w", err)
		}
		config.VADPollInterval = time.Duration(ms) * time.Millisecond
	}

	// Optional: TURN_GUARD_DELAY_MS
	if guard := os.Getenv("TURN_GUARD_DELAY_MS"); guard != "" {
		ms, err := strconv.Atoi(guard)
		if err != nil {
			return nil, fmt.Errorf("invalid TURN_GUARD_DELAY_MS: %w", err)
		}
		config.TurnGuardDelay = time.Duration(ms) * time.Millisecond
	}

	return config, nil
}
