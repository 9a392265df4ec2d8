// Package grib2json runs the external grib2json tool to turn GRIB2 files into
// the JSON record format the tile builder reads.
package grib2json

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/couchcryptid/wind-tile-service/internal/domain"
)

// stderrLimit bounds how much converter diagnostics are kept per run.
const stderrLimit = 4 << 10

// Converter implements the pipeline converter with a subprocess per file.
type Converter struct {
	path    string
	timeout time.Duration
	logger  *slog.Logger
}

// NewConverter returns a converter invoking the binary at path. timeout bounds
// each run; zero means no limit beyond ctx.
func NewConverter(path string, timeout time.Duration, logger *slog.Logger) *Converter {
	return &Converter{path: path, timeout: timeout, logger: logger}
}

// Args are the command line flags for one conversion: data values included,
// compact output, and only the wind parameters (category 2, U and V).
func Args(input, output string) []string {
	return []string{"--data", "--output", output, "--names", "--compact", "--fc", "2", "--fp", "wind", input}
}

// Convert runs the converter on in and writes the result to out. Any failure
// removes out and returns a *domain.ConversionError carrying the tail of the
// converter's stderr. Failures are never retried.
func (c *Converter) Convert(ctx context.Context, in domain.FetchedFile, out string) (domain.IntermediateFile, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	branch := in.Source.Branch
	stderr := &tailBuffer{limit: stderrLimit}
	cmd := exec.CommandContext(ctx, c.path, Args(in.Path, out)...)
	cmd.Stderr = stderr
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	err := cmd.Run()
	if err == nil {
		info, statErr := os.Stat(out)
		switch {
		case statErr != nil:
			err = fmt.Errorf("no output produced: %w", statErr)
		case info.Size() == 0:
			err = errors.New("empty output produced")
		}
	}
	if err != nil {
		_ = os.Remove(out)
		convErr := &domain.ConversionError{
			Branch: branch.Key(),
			Input:  in.Path,
			Stderr: stderr.String(),
			Err:    err,
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			convErr.ExitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			convErr.Err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return domain.IntermediateFile{}, convErr
	}

	c.logger.Debug("source file converted",
		"level", branch.Level.ID,
		"forecast", branch.Forecast.ID,
		"duration", time.Since(start),
	)
	return domain.IntermediateFile{Branch: branch, Path: out}, nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	return strings.TrimSpace(string(b.buf))
}
