package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/knolsched/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load(nil)
	require.NoError(t, err)
	assert.Empty(t, c.Import)
	c.Import = nil
	assert.Equal(t, &Config{
		DB:           "knolsched.db",
		Addr:         ":8080",
		LogLevel:     "info",
		LogFormat:    "text",
		RolloverHour: 4,
		CollapseTime: 1200,
		NewSpread:    "distribute",
		BuryPolicy:   "answer",
		ReposDir:     "repos",
	}, c)
}

func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knolsched.yaml")
	yaml := "db: file.db\naddr: \":9000\"\nrollover-hour: 6\nnew-spread: last\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Run("file overrides defaults", func(t *testing.T) {
		c, err := Load([]string{"--config", path})
		require.NoError(t, err)
		assert.Equal(t, "file.db", c.DB)
		assert.Equal(t, ":9000", c.Addr)
		assert.Equal(t, 6, c.RolloverHour)
		assert.Equal(t, "last", c.NewSpread)
		assert.Equal(t, "info", c.LogLevel)
	})

	t.Run("environment overrides the file", func(t *testing.T) {
		t.Setenv("KNOLSCHED_ROLLOVER_HOUR", "2")
		t.Setenv("KNOLSCHED_DAY_LEARN_FIRST", "true")
		c, err := Load([]string{"--config", path})
		require.NoError(t, err)
		assert.Equal(t, 2, c.RolloverHour)
		assert.True(t, c.DayLearnFirst)
		assert.Equal(t, "file.db", c.DB)
	})

	t.Run("flags override everything", func(t *testing.T) {
		t.Setenv("KNOLSCHED_DB", "env.db")
		c, err := Load([]string{"--config", path, "--db", "flag.db", "--bury-policy", "fetch", "--import", "notes,https://github.com/a/b.git"})
		require.NoError(t, err)
		assert.Equal(t, "flag.db", c.DB)
		assert.Equal(t, "fetch", c.BuryPolicy)
		assert.Equal(t, []string{"notes", "https://github.com/a/b.git"}, c.Import)
	})
}

func TestLoadRejectsInvalid(t *testing.T) {
	testCases := []struct {
		name string
		args []string
	}{
		{name: "rollover hour", args: []string{"--rollover-hour", "24"}},
		{name: "spread", args: []string{"--new-spread", "sideways"}},
		{name: "bury policy", args: []string{"--bury-policy", "never"}},
		{name: "log level", args: []string{"--log-level", "loud"}},
		{name: "time zone", args: []string{"--timezone", "Mars/Olympus_Mons"}},
		{name: "empty db", args: []string{"--db", ""}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(tc.args)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestSchedulerOptions(t *testing.T) {
	c, err := Load([]string{"--new-spread", "first", "--bury-policy", "fetch", "--collapse-time", "600", "--timezone", "UTC", "--rollover-hour", "3"})
	require.NoError(t, err)

	opts, err := c.SchedulerOptions()
	require.NoError(t, err)
	assert.Equal(t, domain.NewCardsFirst, opts.NewSpread)
	assert.True(t, opts.BuryOnFetch)
	assert.Equal(t, 10*time.Minute, opts.CollapseTime)
	assert.Equal(t, time.UTC, opts.Location)
	assert.Equal(t, 3, opts.RolloverHour)
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	c := &Config{LogLevel: "warn", LogFormat: "json"}
	log := c.Logger(&buf)
	log.Info("hidden")
	log.Warn("shown", "card", 7)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.HasPrefix(out, "{"))
	assert.Contains(t, out, `"card":7`)
}
