package deckconf

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"negative new limit", func(c *Config) { c.New.PerDay = -1 }},
		{"negative review limit", func(c *Config) { c.Rev.PerDay = -5 }},
		{"factor below floor", func(c *Config) { c.New.InitialFactor = 1200 }},
		{"zero step", func(c *Config) { c.New.Delays = []float64{1, 0} }},
		{"single graduating interval", func(c *Config) { c.New.Ints = []int{1} }},
		{"lapse multiplier above one", func(c *Config) { c.Lapse.Mult = 1.5 }},
		{"zero max interval", func(c *Config) { c.Rev.MaxIvl = 0 }},
		{"unknown leech action", func(c *Config) { c.Lapse.LeechAction = 7 }},
		{"missing name", func(c *Config) { c.Name = "" }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			tc.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig), "expected ErrInvalidConfig, got %v", err)
		})
	}
}

func TestBlend(t *testing.T) {
	home := Default()
	home.New.Delays = []float64{2, 20}
	home.Lapse.LeechFails = 4
	home.Rev.PerDay = 50

	e := Blend(home, Overrides{Resched: false})

	assert.True(t, e.Filtered)
	assert.False(t, e.Resched)
	assert.True(t, e.Previewing())
	assert.Equal(t, DefaultPreviewDelay, e.PreviewDelay)

	zero := 0
	assert.Zero(t, Blend(home, Overrides{PreviewDelay: &zero}).PreviewDelay, "zero is a delay, not a missing one")
	five := 5
	assert.Equal(t, 5, Blend(home, Overrides{PreviewDelay: &five}).PreviewDelay)
	assert.Equal(t, []float64{2, 20}, e.New.Delays)
	assert.Equal(t, 4, e.Lapse.LeechFails)
	assert.Equal(t, DynReportLimit, e.New.PerDay)
	assert.Equal(t, DynReportLimit, e.Rev.PerDay)

	// The blend must not alias the home configuration.
	e.New.Delays[0] = 99
	assert.Equal(t, 2.0, home.New.Delays[0])

	normal := ForDeck(home)
	assert.False(t, normal.Filtered)
	assert.True(t, normal.Resched)
	assert.False(t, normal.Previewing())
	assert.Equal(t, 50, normal.Rev.PerDay)
}
