// Package http serves tiles, service status, and the manual update trigger.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/wind-tile-service/internal/adapter/tilestore"
	"github.com/couchcryptid/wind-tile-service/internal/domain"
	"github.com/couchcryptid/wind-tile-service/internal/observability"
)

// TileStore reads the published release.
type TileStore interface {
	Current() (domain.Release, error)
	Tile(ctx context.Context, key domain.TileKey) (tilestore.Tile, error)
	CheckReadiness(ctx context.Context) error
}

// CycleRunner runs one update cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context, trigger domain.Trigger) domain.CycleResult
}

// Schedule reports when the next scheduled cycle runs.
type Schedule interface {
	Next(now time.Time) time.Time
	Expression() string
}

// HistoryLister returns recent cycles, newest first.
type HistoryLister interface {
	ListCycles(ctx context.Context, limit int) ([]domain.CycleRecord, error)
}

// Options are the static values the server reports and validates against.
type Options struct {
	Addr        string
	Selection   domain.Selection
	MaxZoom     int
	CacheMaxAge time.Duration
}

// Deps are the server's collaborators. History is optional.
type Deps struct {
	Tiles    TileStore
	Runner   CycleRunner
	Schedule Schedule
	History  HistoryLister
	Clock    clockwork.Clock
	Metrics  *observability.Metrics
}

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// Server exposes the tile API plus health, readiness, and metrics endpoints.
type Server struct {
	httpServer *http.Server
	opts       Options
	deps       Deps
	logger     *slog.Logger
}

// NewServer creates the HTTP server and registers every route.
func NewServer(opts Options, deps Deps, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         opts.Addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		opts:   opts,
		deps:   deps,
		logger: logger,
	}

	mux.HandleFunc("GET /data/levels", s.handleLevels)
	mux.HandleFunc("GET /data/{level}/{forecast}/{z}/{x}/{y}", s.handleTile)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /update", s.handleUpdate)
	mux.HandleFunc("GET /updates", s.handleUpdates)

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(deps.Tiles))
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type levelsResponse struct {
	Levels    []domain.LevelSpec      `json:"levels"`
	Forecasts []domain.ForecastOffset `json:"forecasts"`
	MaxZoom   int                     `json:"maxZoom"`
}

func (s *Server) handleLevels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, levelsResponse{
		Levels:    s.opts.Selection.Levels,
		Forecasts: s.opts.Selection.Forecasts,
		MaxZoom:   s.opts.MaxZoom,
	})
}

func (s *Server) handleTile(w http.ResponseWriter, r *http.Request) {
	key, err := s.parseTileKey(r)
	if err != nil {
		s.tileError(w, http.StatusBadRequest, err.Error())
		return
	}

	tile, err := s.deps.Tiles.Tile(r.Context(), key)
	switch {
	case errors.Is(err, domain.ErrNoData), errors.Is(err, domain.ErrTileNotFound):
		s.tileError(w, http.StatusNotFound, "tile not yet generated")
		return
	case err != nil:
		s.logger.Error("tile read failed", "tile", key.String(), "error", err)
		s.tileError(w, http.StatusInternalServerError, "tile read failed")
		return
	}

	etag := strconv.Quote(tile.ReleaseID + "/" + key.String())
	h := w.Header()
	h.Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(s.opts.CacheMaxAge.Seconds())))
	h.Set("ETag", etag)
	h.Set("X-Release-Id", tile.ReleaseID)
	if r.Header.Get("If-None-Match") == etag {
		s.deps.Metrics.TileRequests.WithLabelValues(strconv.Itoa(http.StatusNotModified)).Inc()
		w.WriteHeader(http.StatusNotModified)
		return
	}

	s.deps.Metrics.TileRequests.WithLabelValues(strconv.Itoa(http.StatusOK)).Inc()
	h.Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(tile.Data)
}

// parseTileKey validates the request against the configured selection before
// anything touches the filesystem.
func (s *Server) parseTileKey(r *http.Request) (domain.TileKey, error) {
	level, forecast := r.PathValue("level"), r.PathValue("forecast")
	if _, ok := s.opts.Selection.Level(level); !ok {
		return domain.TileKey{}, fmt.Errorf("%w: %q", domain.ErrUnknownLevel, level)
	}
	if _, ok := s.opts.Selection.Forecast(forecast); !ok {
		return domain.TileKey{}, fmt.Errorf("%w: %q", domain.ErrUnknownForecast, forecast)
	}

	var coords [3]int
	for i, name := range []string{"z", "x", "y"} {
		raw := strings.TrimSuffix(r.PathValue(name), ".json")
		n, err := strconv.Atoi(raw)
		if err != nil {
			return domain.TileKey{}, fmt.Errorf("invalid %s coordinate %q", name, raw)
		}
		coords[i] = n
	}
	key := domain.TileKey{Level: level, Forecast: forecast, Zoom: coords[0], X: coords[1], Y: coords[2]}
	if !key.Valid(s.opts.MaxZoom) {
		return domain.TileKey{}, fmt.Errorf("tile %d/%d/%d out of range for max zoom %d", key.Zoom, key.X, key.Y, s.opts.MaxZoom)
	}
	return key, nil
}

func (s *Server) tileError(w http.ResponseWriter, status int, msg string) {
	s.deps.Metrics.TileRequests.WithLabelValues(strconv.Itoa(status)).Inc()
	writeJSON(w, status, map[string]string{"error": msg})
}

type healthResponse struct {
	Status       string       `json:"status"`
	ReleaseID    string       `json:"releaseId,omitempty"`
	RunTime      *time.Time   `json:"runTime"`
	LastUpdate   *time.Time   `json:"lastUpdate"`
	DataAgeHours *float64     `json:"dataAgeHours"`
	NextUpdate   time.Time    `json:"nextUpdate"`
	Data         healthData   `json:"data"`
	Config       healthConfig `json:"config"`
}

type healthData struct {
	ExpectedLevels     []string `json:"expectedLevels"`
	AvailableLevels    []string `json:"availableLevels"`
	ExpectedForecasts  []string `json:"expectedForecasts"`
	AvailableForecasts []string `json:"availableForecasts"`
}

type healthConfig struct {
	MaxZoomLevel   int    `json:"maxZoomLevel"`
	UpdateSchedule string `json:"updateSchedule"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	now := s.deps.Clock.Now()
	resp := healthResponse{
		Status:     "no_data",
		NextUpdate: s.deps.Schedule.Next(now),
		Data: healthData{
			ExpectedLevels:     s.opts.Selection.LevelIDs(),
			AvailableLevels:    []string{},
			ExpectedForecasts:  s.opts.Selection.ForecastIDs(),
			AvailableForecasts: []string{},
		},
		Config: healthConfig{
			MaxZoomLevel:   s.opts.MaxZoom,
			UpdateSchedule: s.deps.Schedule.Expression(),
		},
	}

	rel, err := s.deps.Tiles.Current()
	if err != nil {
		if !errors.Is(err, domain.ErrNoData) {
			s.logger.Error("resolve current release failed", "error", err)
		}
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	m := rel.Manifest
	updated := m.PublishedAt
	if updated.IsZero() {
		updated = m.GeneratedAt
	}
	age := math.Round(now.Sub(updated).Hours()*100) / 100
	resp.Status = "healthy"
	resp.ReleaseID = rel.ID
	resp.LastUpdate = &updated
	resp.DataAgeHours = &age
	if !m.RunTime.IsZero() {
		resp.RunTime = &m.RunTime
	}
	if m.Levels != nil {
		resp.Data.AvailableLevels = m.Levels
	}
	if m.Forecasts != nil {
		resp.Data.AvailableForecasts = m.Forecasts
	}
	writeJSON(w, http.StatusOK, resp)
}

type updateResponse struct {
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	CycleID    string    `json:"cycleId,omitempty"`
	ReleaseID  string    `json:"releaseId,omitempty"`
	RunTime    time.Time `json:"runTime,omitzero"`
	Levels     []string  `json:"levels,omitempty"`
	Forecasts  []string  `json:"forecasts,omitempty"`
	TotalFiles int       `json:"totalFiles,omitempty"`
	Duration   string    `json:"duration,omitempty"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	// A cycle outlasts the server-wide write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	// The cycle runs to completion even if the caller hangs up.
	res := s.deps.Runner.RunCycle(context.WithoutCancel(r.Context()), domain.TriggerManual)
	switch {
	case errors.Is(res.Err, domain.ErrCycleInProgress):
		writeJSON(w, http.StatusConflict, updateResponse{Error: res.Err.Error()})
	case res.Err != nil:
		writeJSON(w, http.StatusInternalServerError, updateResponse{
			Error:    res.Err.Error(),
			CycleID:  res.CycleID,
			Duration: res.Duration.Round(time.Millisecond).String(),
		})
	default:
		writeJSON(w, http.StatusOK, updateResponse{
			Success:    true,
			CycleID:    res.CycleID,
			ReleaseID:  res.ReleaseID,
			RunTime:    res.RunTime.Time,
			Levels:     res.Levels,
			Forecasts:  res.Forecasts,
			TotalFiles: res.TotalFiles,
			Duration:   res.Duration.Round(time.Millisecond).String(),
		})
	}
}

func (s *Server) handleUpdates(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "cycle history is disabled"})
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	records, err := s.deps.History.ListCycles(r.Context(), limit)
	if err != nil {
		s.logger.Error("list cycle history failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "history unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updates": records})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
