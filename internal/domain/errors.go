package domain

import (
	"errors"
	"fmt"
)

// Cycle failure taxonomy. Any of the first four aborts the whole update cycle.
var (
	ErrTransport        = errors.New("transport error")
	ErrConversionFailed = errors.New("conversion failed")
	ErrIncomplete       = errors.New("incomplete tile set")
	ErrSwapFailed       = errors.New("swap failed")

	ErrCycleInProgress = errors.New("update cycle already in progress")
)

// Lookup errors used by the tile server.
var (
	ErrNoData          = errors.New("no published data")
	ErrTileNotFound    = errors.New("tile not found")
	ErrUnknownLevel    = errors.New("unknown level")
	ErrUnknownForecast = errors.New("unknown forecast")
)

// TransportError describes a failed download. StatusCode is zero when the
// request never produced a response (DNS, timeout, reset).
type TransportError struct {
	Branch     string
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: upstream returned status %d", e.Branch, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.Branch, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// ConversionError describes a converter run that failed to spawn or exited
// non-zero. Stderr holds the tail of the converter's diagnostic output.
type ConversionError struct {
	Branch   string
	Input    string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ConversionError) Error() string {
	msg := fmt.Sprintf("convert %s: %v", e.Branch, e.Err)
	if e.ExitCode > 0 {
		msg = fmt.Sprintf("convert %s: exit status %d", e.Branch, e.ExitCode)
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ConversionError) Unwrap() error { return e.Err }

func (e *ConversionError) Is(target error) bool { return target == ErrConversionFailed }
