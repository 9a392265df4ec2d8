package domain

import (
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// LevelSpec is a vertical level the service can build tiles for.
type LevelSpec struct {
	ID       string `yaml:"id" json:"id"`
	Label    string `yaml:"label" json:"label"`
	Selector string `yaml:"selector" json:"selector"` // NOMADS query flag, e.g. lev_500_mb
}

// ForecastOffset is a lead time relative to the run time.
type ForecastOffset struct {
	ID    string `yaml:"id" json:"id"`
	Label string `yaml:"label" json:"label"`
	Hours int    `yaml:"hours" json:"hours"`
}

// Code returns the fixed width upstream code, "f006" for six hours.
func (f ForecastOffset) Code() string {
	return fmt.Sprintf("f%03d", f.Hours)
}

// PublicationSchedule describes when upstream runs start and how long their
// files take to appear.
type PublicationSchedule struct {
	Hours             []int         `yaml:"hours"`
	AvailabilityDelay time.Duration `yaml:"availability_delay"`
}

// Catalog is the full compiled-in set of levels and forecasts.
type Catalog struct {
	Levels      []LevelSpec         `yaml:"levels"`
	Forecasts   []ForecastOffset    `yaml:"forecasts"`
	Publication PublicationSchedule `yaml:"publication"`
}

var defaultCatalog = sync.OnceValues(func() (Catalog, error) {
	return ParseCatalog(catalogYAML)
})

// DefaultCatalog returns the embedded catalog. It panics if the embedded file
// is invalid, which the package tests rule out.
func DefaultCatalog() Catalog {
	c, err := defaultCatalog()
	if err != nil {
		panic(fmt.Sprintf("embedded catalog: %v", err))
	}
	return c.clone()
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("decode catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return Catalog{}, err
	}
	return c, nil
}

func (c Catalog) validate() error {
	if len(c.Levels) == 0 {
		return errors.New("catalog has no levels")
	}
	if len(c.Forecasts) == 0 {
		return errors.New("catalog has no forecasts")
	}

	seen := make(map[string]bool)
	for _, l := range c.Levels {
		if l.ID == "" || l.Selector == "" {
			return fmt.Errorf("level %q: id and selector are required", l.ID)
		}
		if seen[l.ID] {
			return fmt.Errorf("duplicate level %q", l.ID)
		}
		seen[l.ID] = true
	}

	clear(seen)
	for _, f := range c.Forecasts {
		if f.Hours < 0 || f.Hours > 999 {
			return fmt.Errorf("forecast %q: hours out of range", f.ID)
		}
		if f.ID != f.Code() {
			return fmt.Errorf("forecast %q: id must equal code %q", f.ID, f.Code())
		}
		if seen[f.ID] {
			return fmt.Errorf("duplicate forecast %q", f.ID)
		}
		seen[f.ID] = true
	}

	p := c.Publication
	if len(p.Hours) == 0 {
		return errors.New("publication hours are required")
	}
	for i, h := range p.Hours {
		if h < 0 || h > 23 {
			return fmt.Errorf("publication hour %d out of range", h)
		}
		if i > 0 && h <= p.Hours[i-1] {
			return errors.New("publication hours must be strictly ascending")
		}
	}
	if p.AvailabilityDelay < 0 {
		return errors.New("availability delay must not be negative")
	}
	return nil
}

func (c Catalog) clone() Catalog {
	return Catalog{
		Levels:    slices.Clone(c.Levels),
		Forecasts: slices.Clone(c.Forecasts),
		Publication: PublicationSchedule{
			Hours:             slices.Clone(c.Publication.Hours),
			AvailabilityDelay: c.Publication.AvailabilityDelay,
		},
	}
}

// Select picks the configured subset, preserving the requested order.
func (c Catalog) Select(levelIDs, forecastIDs []string) (Selection, error) {
	if len(levelIDs) == 0 || len(forecastIDs) == 0 {
		return Selection{}, errors.New("at least one level and one forecast are required")
	}

	var sel Selection
	for _, id := range levelIDs {
		i := slices.IndexFunc(c.Levels, func(l LevelSpec) bool { return l.ID == id })
		if i < 0 {
			return Selection{}, fmt.Errorf("%w: %q", ErrUnknownLevel, id)
		}
		if _, dup := sel.Level(id); dup {
			return Selection{}, fmt.Errorf("level %q listed twice", id)
		}
		sel.Levels = append(sel.Levels, c.Levels[i])
	}
	for _, id := range forecastIDs {
		i := slices.IndexFunc(c.Forecasts, func(f ForecastOffset) bool { return f.ID == id })
		if i < 0 {
			return Selection{}, fmt.Errorf("%w: %q", ErrUnknownForecast, id)
		}
		if _, dup := sel.Forecast(id); dup {
			return Selection{}, fmt.Errorf("forecast %q listed twice", id)
		}
		sel.Forecasts = append(sel.Forecasts, c.Forecasts[i])
	}
	return sel, nil
}

// Selection is the set of levels and forecasts one deployment builds.
type Selection struct {
	Levels    []LevelSpec
	Forecasts []ForecastOffset
}

// Level looks up a selected level by ID.
func (s Selection) Level(id string) (LevelSpec, bool) {
	for _, l := range s.Levels {
		if l.ID == id {
			return l, true
		}
	}
	return LevelSpec{}, false
}

// Forecast looks up a selected forecast by ID.
func (s Selection) Forecast(id string) (ForecastOffset, bool) {
	for _, f := range s.Forecasts {
		if f.ID == id {
			return f, true
		}
	}
	return ForecastOffset{}, false
}

func (s Selection) LevelIDs() []string {
	ids := make([]string, len(s.Levels))
	for i, l := range s.Levels {
		ids[i] = l.ID
	}
	return ids
}

func (s Selection) ForecastIDs() []string {
	ids := make([]string, len(s.Forecasts))
	for i, f := range s.Forecasts {
		ids[i] = f.ID
	}
	return ids
}

// Branches returns every (level, forecast) pair, levels outermost.
func (s Selection) Branches() []Branch {
	out := make([]Branch, 0, len(s.Levels)*len(s.Forecasts))
	for _, l := range s.Levels {
		for _, f := range s.Forecasts {
			out = append(out, Branch{Level: l, Forecast: f})
		}
	}
	return out
}

// Branch is one (level, forecast) subtree of the tile tree.
type Branch struct {
	Level    LevelSpec
	Forecast ForecastOffset
}

// Key is the branch path fragment, "500mb/f006".
func (b Branch) Key() string {
	return b.Level.ID + "/" + b.Forecast.ID
}

// FileStem names scratch files for this branch, "500mb_f006".
func (b Branch) FileStem() string {
	return b.Level.ID + "_" + b.Forecast.ID
}
