package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"

	"github.com/couchcryptid/wind-tile-service/internal/domain"
)

// Config holds all service settings, populated from environment variables.
// Every setting has a default.
type Config struct {
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080" validate:"required"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn warning error"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"json" validate:"oneof=json text"`
	ShutdownTimeout time.Duration `env:"-"`

	// Storage.
	DataDir    string `env:"DATA_DIR" envDefault:"./data" validate:"required"`
	ScratchDir string `env:"SCRATCH_DIR" envDefault:"./scratch" validate:"required"`

	// What to build.
	Levels        []string `env:"LEVELS" envDefault:"surface,850mb,500mb,250mb" envSeparator:"," validate:"required,min=1"`
	Forecasts     []string `env:"FORECASTS" envDefault:"f000,f006" envSeparator:"," validate:"required,min=1"`
	MaxZoom       int      `env:"MAX_ZOOM" envDefault:"2" validate:"gte=0,lte=8"`
	TileMaxPoints int      `env:"TILE_MAX_POINTS" envDefault:"128" validate:"gte=1"`
	BuildWorkers  int      `env:"BUILD_WORKERS" envDefault:"0" validate:"gte=0"`

	// Scheduling.
	UpdateSchedule string `env:"UPDATE_SCHEDULE" envDefault:"30 3,9,15,21 * * *" validate:"required"`
	UpdateOnStart  bool   `env:"UPDATE_ON_START" envDefault:"true"`

	// Upstream.
	NOMADSBaseURL         string        `env:"NOMADS_BASE_URL" envDefault:"https://nomads.ncep.noaa.gov/cgi-bin" validate:"url"`
	GFSResolution         string        `env:"GFS_RESOLUTION" envDefault:"1p00" validate:"oneof=0p25 0p50 1p00"`
	FetchTimeout          time.Duration `env:"FETCH_TIMEOUT" envDefault:"2m" validate:"gt=0"`
	FetchDelay            time.Duration `env:"FETCH_DELAY" envDefault:"2s" validate:"gte=0"`
	FetchConcurrency      int           `env:"FETCH_CONCURRENCY" envDefault:"1" validate:"gte=1,lte=8"`
	FetchBreakerThreshold uint32        `env:"FETCH_BREAKER_THRESHOLD" envDefault:"3" validate:"gte=1"`
	FetchBreakerCooldown  time.Duration `env:"FETCH_BREAKER_COOLDOWN" envDefault:"5m" validate:"gt=0"`

	// Converter.
	Grib2JSONPath  string        `env:"GRIB2JSON_PATH" envDefault:"grib2json" validate:"required"`
	ConvertTimeout time.Duration `env:"CONVERT_TIMEOUT" envDefault:"2m" validate:"gt=0"`

	// Serving.
	TileCacheMaxAge  time.Duration `env:"TILE_CACHE_MAX_AGE" envDefault:"1h" validate:"gte=0"`
	TileCacheEntries int           `env:"TILE_CACHE_ENTRIES" envDefault:"512" validate:"gte=0"`

	// Optional integrations.
	HistoryEnabled bool     `env:"HISTORY_ENABLED" envDefault:"true"`
	KafkaBrokers   []string `env:"-"`
	KafkaTopic     string   `env:"KAFKA_TOPIC" envDefault:"wind-tiles-published" validate:"required"`
	OTELEndpoint   string   `env:"OTEL_ENDPOINT" validate:"omitempty,url"`

	// Selection is the resolved subset of the level/forecast catalog.
	Selection domain.Selection `env:"-"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their environment variable.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("env"); name != "" && name != "-" {
			return name
		}
		return f.Name
	})
	return v
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, envError(err)
	}

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}
	cfg.ShutdownTimeout = shutdownTimeout

	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		cfg.KafkaBrokers = sharedcfg.ParseBrokers(raw)
	}

	if err := validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return nil, fmt.Errorf("invalid %s: %q fails %q", fe.Field(), fmt.Sprint(fe.Value()), fe.Tag())
		}
		return nil, err
	}

	if err := checkDirs(cfg.DataDir, cfg.ScratchDir); err != nil {
		return nil, err
	}

	if _, err := cron.ParseStandard(cfg.UpdateSchedule); err != nil {
		return nil, fmt.Errorf("invalid UPDATE_SCHEDULE: %w", err)
	}

	sel, err := domain.DefaultCatalog().Select(cfg.Levels, cfg.Forecasts)
	if err != nil {
		return nil, fmt.Errorf("invalid LEVELS/FORECASTS: %w", err)
	}
	cfg.Selection = sel

	return cfg, nil
}

// checkDirs rejects a scratch dir that overlaps the data root. Scratch is
// emptied after every cycle, so any overlap would delete published tiles.
func checkDirs(dataDir, scratchDir string) error {
	data, err := filepath.Abs(dataDir)
	if err != nil {
		return fmt.Errorf("invalid DATA_DIR: %w", err)
	}
	scratch, err := filepath.Abs(scratchDir)
	if err != nil {
		return fmt.Errorf("invalid SCRATCH_DIR: %w", err)
	}
	if within(data, scratch) || within(scratch, data) {
		return fmt.Errorf("invalid SCRATCH_DIR: %q overlaps DATA_DIR %q", scratchDir, dataDir)
	}
	return nil
}

// within reports whether path is dir or lies below it.
func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// envError names the variable behind a parse failure; env reports struct
// field names only.
func envError(err error) error {
	t := reflect.TypeFor[Config]()
	for i := range t.NumField() {
		f := t.Field(i)
		name := f.Tag.Get("env")
		if name != "" && name != "-" && strings.Contains(err.Error(), strconv.Quote(f.Name)) {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	return fmt.Errorf("parse env: %w", err)
}

// Workers returns the build pool size, defaulting to one per CPU.
func (c *Config) Workers() int {
	if c.BuildWorkers > 0 {
		return c.BuildWorkers
	}
	return runtime.NumCPU()
}

// KafkaEnabled reports whether release notifications are configured.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}
