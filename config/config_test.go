package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 100, cfg.MaxSessions)
	assert.Equal(t, 30*time.Minute, cfg.SessionTimeout)
	assert.Equal(t, "test-key", cfg.GeminiAPIKey)
	assert.Equal(t, "Aoede", cfg.GeminiVoice)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)

	assert.Equal(t, 0.01, cfg.SilenceThreshold)
	assert.Equal(t, 300*time.Millisecond, cfg.MinSpeechTime)
	assert.Equal(t, 1500*time.Millisecond, cfg.MaxSilenceTime)
	assert.Equal(t, 50*time.Millisecond, cfg.VADPollInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.TurnGuardDelay)
}

func TestLoadConfigRequiresAPIKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GEMINI_API_KEY")
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("PORT", "9090")
	t.Setenv("MAX_SESSIONS", "5")
	t.Setenv("SESSION_TIMEOUT", "10")
	t.Setenv("GEMINI_VOICE", "Puck")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("VAD_SILENCE_THRESHOLD", "0.05")
	t.Setenv("VAD_MIN_SPEECH_MS", "200")
	t.Setenv("VAD_MAX_SILENCE_MS", "1000")
	t.Setenv("VAD_POLL_INTERVAL_MS", "20")
	t.Setenv("TURN_GUARD_DELAY_MS", "250")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 5, cfg.MaxSessions)
	assert.Equal(t, 10*time.Minute, cfg.SessionTimeout)
	assert.Equal(t, "Puck", cfg.GeminiVoice)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 0.05, cfg.SilenceThreshold)
	assert.Equal(t, 200*time.Millisecond, cfg.MinSpeechTime)
	assert.Equal(t, 1000*time.Millisecond, cfg.MaxSilenceTime)
	assert.Equal(t, 20*time.Millisecond, cfg.VADPollInterval)
	assert.Equal(t, 250*time.Millisecond, cfg.TurnGuardDelay)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"PORT":                  "not-a-number",
		"MAX_SESSIONS":          "many",
		"SESSION_TIMEOUT":       "soon",
		"VAD_SILENCE_THRESHOLD": "1.5",
		"VAD_MIN_SPEECH_MS":     "fast",
		"TURN_GUARD_DELAY_MS":   "0.5s",
	}

	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv("GEMINI_API_KEY", "test-key")
			t.Setenv(key, value)

			_, err := LoadConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}
