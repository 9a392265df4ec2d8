// Package nomads downloads GFS GRIB2 subsets from the NOAA NOMADS grib filter.
package nomads

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/wind-tile-service/internal/domain"
	"github.com/sony/gobreaker"
)

// gribMagic opens every GRIB message. NOMADS answers some missing-file
// requests with 200 and an HTML page, so the status alone is not enough.
var gribMagic = []byte("GRIB")

var errNotGRIB = errors.New("response is not a GRIB message")

// Client implements the pipeline fetcher against NOMADS.
type Client struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

// NewClient creates a NOMADS client. timeout bounds each download including
// the body; tripAfter consecutive failures open the breaker for cooldown.
func NewClient(timeout time.Duration, tripAfter uint32, cooldown time.Duration, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "nomads",
			MaxRequests: 1,
			Timeout:     cooldown,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= tripAfter
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("upstream circuit state changed", "breaker", name, "from", from.String(), "to", to.String())
			},
		}),
		logger: logger,
	}
}

// Fetch streams src into dest. The body is written to a sibling ".part" file
// and renamed on success, so on error dest is untouched and nothing is left
// behind.
func (c *Client) Fetch(ctx context.Context, src domain.SourceDescriptor, dest string) (domain.FetchedFile, error) {
	branch := src.Branch.Key()
	fail := func(status int, err error) error {
		return &domain.TransportError{Branch: branch, URL: src.URL, StatusCode: status, Err: err}
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return nil, fail(resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(body)))
		}
		// A 200 without a GRIB body is an upstream failure and counts
		// against the breaker.
		body := bufio.NewReader(resp.Body)
		head, err := body.Peek(len(gribMagic))
		if err != nil && !errors.Is(err, io.EOF) {
			resp.Body.Close()
			return nil, fmt.Errorf("read body: %w", err)
		}
		if !bytes.Equal(head, gribMagic) {
			resp.Body.Close()
			return nil, fail(resp.StatusCode, errNotGRIB)
		}
		return download{body: body, closer: resp.Body}, nil
	})
	if err != nil {
		var te *domain.TransportError
		if errors.As(err, &te) {
			return domain.FetchedFile{}, err
		}
		return domain.FetchedFile{}, fail(0, err)
	}

	dl := result.(download)
	defer dl.closer.Close()

	size, err := writeAtomic(dest, dl.body)
	if err != nil {
		return domain.FetchedFile{}, fail(0, err)
	}

	c.logger.Debug("source file downloaded", "level", src.Branch.Level.ID, "forecast", src.Branch.Forecast.ID, "bytes", size)
	return domain.FetchedFile{Source: src, Path: dest, Size: size}, nil
}

// download is a response whose body has passed the GRIB check.
type download struct {
	body   io.Reader
	closer io.Closer
}

func writeAtomic(dest string, body io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("create scratch dir: %w", err)
	}
	part := dest + ".part"
	f, err := os.Create(part)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", part, err)
	}

	size, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(part, dest)
	}
	if err != nil {
		_ = os.Remove(part)
		return 0, fmt.Errorf("write %s: %w", dest, err)
	}
	return size, nil
}
