package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("AI_PROVIDER", "")
	t.Setenv("ARK_TEMPERATURE", "")
	t.Setenv("STREAM_BUFFER", "")
	t.Setenv("GENERATION_TIMEOUT", "")
	t.Setenv("SHUTDOWN_GRACE", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Server.Addr)
	require.Equal(t, 10*time.Second, cfg.Server.ShutdownGrace)
	require.Equal(t, ProviderArk, cfg.AI.Provider)
	require.NotNil(t, cfg.AI.Temperature)
	require.InDelta(t, 0.8, *cfg.AI.Temperature, 1e-9)
	require.True(t, cfg.AI.StreamResponse)
	require.Equal(t, 0, cfg.Stream.Buffer)
	require.Equal(t, 2*time.Minute, cfg.Stream.GenerationTimeout)
	require.Equal(t, "gpt-4o-mini", cfg.AI.OpenAI.Model)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "127.0.0.1:9000")
	t.Setenv("AI_PROVIDER", "OpenAI")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("STREAM_BUFFER", "4")
	t.Setenv("GENERATION_TIMEOUT", "30s")
	t.Setenv("SHUTDOWN_GRACE", "3s")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	require.Equal(t, 3*time.Second, cfg.Server.ShutdownGrace)
	require.Equal(t, ProviderOpenAI, cfg.AI.Provider)
	require.True(t, cfg.AI.Enabled())
	require.Equal(t, 4, cfg.Stream.Buffer)
	require.Equal(t, 30*time.Second, cfg.Stream.GenerationTimeout)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"PORT":               "80 80",
		"AI_PROVIDER":        "bard",
		"ARK_TEMPERATURE":    "warm",
		"STREAM_BUFFER":      "-1",
		"GENERATION_TIMEOUT": "soon",
		"SHUTDOWN_GRACE":     "later",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestArkEnabledRequiresCredentials(t *testing.T) {
	cfg := AIConfig{Provider: ProviderArk, Model: "ep-1"}
	require.False(t, cfg.Enabled())

	cfg.APIKey = "key"
	require.True(t, cfg.Enabled())
}

func TestLoadClientConfig(t *testing.T) {
	t.Setenv("MEMCHAT_SERVER", "")
	t.Setenv("MEMCHAT_STORE", "")
	cfg := LoadClientConfig()
	require.Equal(t, "http://localhost:8080", cfg.ServerURL)
	require.Equal(t, "memory", cfg.StoreDSN)

	t.Setenv("MEMCHAT_STORE", "/tmp/memchat.db")
	t.Setenv("MEMCHAT_SESSION", "tab-7")
	cfg = LoadClientConfig()
	require.Equal(t, "/tmp/memchat.db", cfg.StoreDSN)
	require.Equal(t, "tab-7", cfg.SessionID)
}
