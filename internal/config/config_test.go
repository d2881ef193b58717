package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TIMETABLE_CONFIG_FILE", "")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.APIAddr)
	require.Equal(t, 30, cfg.CalendarSlotMinutes)
	require.Equal(t, 5*time.Minute, cfg.ProcessTimeout())
	require.Equal(t, []string{"http://localhost:3000"}, cfg.CORS().AllowedOrigins)
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "timetable.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api_addr: \":9090\"\nrunner: temporal\nocr_min_confidence: 0.7\n"), 0o600))

	t.Setenv("TIMETABLE_CONFIG_FILE", path)
	t.Setenv("TIMETABLE_RUNNER", "inprocess")
	t.Setenv("TIMETABLE_KAFKA_BROKERS", " a:9092, ,b:9092 ")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.APIAddr)
	require.Equal(t, "inprocess", cfg.Runner)
	require.InDelta(t, 0.7, cfg.OCRMinConfidence, 1e-9)
	require.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokerList())
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api_addr: [unclosed"), 0o600))
	t.Setenv("TIMETABLE_CONFIG_FILE", path)
	_, err := Load()
	require.Error(t, err)
}

func TestCORSAllowList(t *testing.T) {
	c := CORSConfig{AllowedOrigins: []string{"https://school.example"}}
	require.True(t, c.Allows("https://school.example"))
	require.False(t, c.Allows("https://evil.example"))
	require.False(t, CORSConfig{}.Allows("https://school.example"))
}
