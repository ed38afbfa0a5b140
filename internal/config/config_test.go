package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWritesDefaultsOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "eventlane.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadNormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eventlane.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server_id: guild
channel_id: races
tick_interval: 90s
log_level: loud
calendars:
  - id: f1
    url: https://example.com/f1.ics
  - id: club
    url: https://example.com/club.ics
    channel_id: club-night
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.TickInterval)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 48, cfg.EventCreateLeadHours)
	assert.Equal(t, 1440, cfg.ArchiveDelayMinutes)
	assert.Equal(t, "eventlane", cfg.NATS.SubjectPrefix)
	require.Len(t, cfg.Calendars, 2)
	assert.Equal(t, "races", cfg.Calendars[0].ChannelID)
	assert.Equal(t, "guild", cfg.Calendars[1].ServerID)
	assert.Equal(t, "club-night", cfg.Calendars[1].ChannelID)
	assert.NoError(t, cfg.Validate())
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eventlane.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: [unterminated"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eventlane.yaml")
	cfg := DefaultConfig()
	cfg.AutoArchive = true
	cfg.BasicAuth = &BasicAuthConfig{Username: "admin", Password: "pw"}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".eventlane-config-*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timezone = "Mars/Olympus"
	cfg.RefreshCron = "every so often"
	cfg.ThreadCreateLeadHours = 72
	cfg.Calendars = []CalendarConfig{
		{ID: "a", URL: "https://x", ServerID: "s", ChannelID: "c"},
		{ID: "a"},
	}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"timezone", "refresh", "thread_create_lead_hours", "duplicate id", "url is empty", "no server_id"} {
		assert.ErrorContains(t, err, want)
	}
	assert.Equal(t, time.UTC, cfg.Location())
}

func TestResolvePath(t *testing.T) {
	t.Setenv(EnvPath, "/etc/eventlane.yaml")
	assert.Equal(t, "flag.yaml", ResolvePath("flag.yaml"))
	assert.Equal(t, "/etc/eventlane.yaml", ResolvePath(""))

	t.Setenv(EnvPath, "")
	assert.Equal(t, DefaultPath, ResolvePath(""))
}
