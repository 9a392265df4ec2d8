package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c := DefaultCatalog()

	require.NotEmpty(t, c.Levels)
	require.NotEmpty(t, c.Forecasts)
	assert.Equal(t, []int{0, 6, 12, 18}, c.Publication.Hours)
	assert.Equal(t, 3*time.Hour, c.Publication.AvailabilityDelay)

	t.Run("returns an independent copy", func(t *testing.T) {
		c.Levels[0].ID = "mutated"
		assert.NotEqual(t, "mutated", DefaultCatalog().Levels[0].ID)
	})
}

func TestParseCatalog(t *testing.T) {
	valid := `
levels:
  - {id: surface, selector: lev_10_m_above_ground}
forecasts:
  - {id: f000, hours: 0}
publication:
  hours: [0, 12]
  availability_delay: 4h
`
	t.Run("valid", func(t *testing.T) {
		c, err := ParseCatalog([]byte(valid))
		require.NoError(t, err)
		assert.Equal(t, "lev_10_m_above_ground", c.Levels[0].Selector)
		assert.Equal(t, 4*time.Hour, c.Publication.AvailabilityDelay)
	})

	cases := map[string]string{
		"malformed yaml":    "levels: [",
		"no levels":         "forecasts: [{id: f000, hours: 0}]\npublication: {hours: [0]}",
		"missing selector":  "levels: [{id: x}]\nforecasts: [{id: f000, hours: 0}]\npublication: {hours: [0]}",
		"duplicate level":   "levels: [{id: x, selector: a}, {id: x, selector: b}]\nforecasts: [{id: f000, hours: 0}]\npublication: {hours: [0]}",
		"id code mismatch":  "levels: [{id: x, selector: a}]\nforecasts: [{id: f6, hours: 6}]\npublication: {hours: [0]}",
		"unordered hours":   "levels: [{id: x, selector: a}]\nforecasts: [{id: f000, hours: 0}]\npublication: {hours: [12, 6]}",
		"hour out of range": "levels: [{id: x, selector: a}]\nforecasts: [{id: f000, hours: 0}]\npublication: {hours: [24]}",
		"no publication":    "levels: [{id: x, selector: a}]\nforecasts: [{id: f000, hours: 0}]",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestForecastCode(t *testing.T) {
	assert.Equal(t, "f000", ForecastOffset{Hours: 0}.Code())
	assert.Equal(t, "f006", ForecastOffset{Hours: 6}.Code())
	assert.Equal(t, "f120", ForecastOffset{Hours: 120}.Code())
}

func TestSelect(t *testing.T) {
	c := DefaultCatalog()

	t.Run("preserves requested order", func(t *testing.T) {
		sel, err := c.Select([]string{"500mb", "surface"}, []string{"f006", "f000"})
		require.NoError(t, err)
		assert.Equal(t, []string{"500mb", "surface"}, sel.LevelIDs())
		assert.Equal(t, []string{"f006", "f000"}, sel.ForecastIDs())
	})

	t.Run("branches are the full cross product", func(t *testing.T) {
		sel, err := c.Select([]string{"surface", "500mb"}, []string{"f000", "f006"})
		require.NoError(t, err)

		var keys []string
		for _, b := range sel.Branches() {
			keys = append(keys, b.Key())
		}
		assert.Equal(t, []string{"surface/f000", "surface/f006", "500mb/f000", "500mb/f006"}, keys)
		assert.Equal(t, "500mb_f006", sel.Branches()[3].FileStem())
	})

	t.Run("unknown level", func(t *testing.T) {
		_, err := c.Select([]string{"900mb"}, []string{"f000"})
		assert.ErrorIs(t, err, ErrUnknownLevel)
	})

	t.Run("unknown forecast", func(t *testing.T) {
		_, err := c.Select([]string{"surface"}, []string{"f999"})
		assert.ErrorIs(t, err, ErrUnknownForecast)
	})

	t.Run("duplicates rejected", func(t *testing.T) {
		_, err := c.Select([]string{"surface", "surface"}, []string{"f000"})
		assert.Error(t, err)
	})

	t.Run("empty rejected", func(t *testing.T) {
		_, err := c.Select(nil, []string{"f000"})
		assert.Error(t, err)
	})

	t.Run("lookup", func(t *testing.T) {
		sel, err := c.Select([]string{"surface"}, []string{"f000"})
		require.NoError(t, err)

		l, ok := sel.Level("surface")
		assert.True(t, ok)
		assert.Equal(t, "lev_10_m_above_ground", l.Selector)
		_, ok = sel.Level("500mb")
		assert.False(t, ok)
		_, ok = sel.Forecast("f000")
		assert.True(t, ok)
	})
}
