package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCycleResultRecord(t *testing.T) {
	start := time.Date(2024, 10, 15, 9, 30, 0, 0, time.UTC)
	res := CycleResult{
		CycleID:    "c1",
		Trigger:    TriggerScheduled,
		RunTime:    RunTime{time.Date(2024, 10, 15, 6, 0, 0, 0, time.UTC)},
		StartedAt:  start,
		Duration:   90 * time.Second,
		TotalFiles: 4,
		Tiles:      20,
		ReleaseID:  "r1",
	}

	t.Run("success", func(t *testing.T) {
		rec := res.Record()
		assert.True(t, res.Success())
		assert.Equal(t, OutcomeSuccess, rec.Outcome)
		assert.Equal(t, start.Add(90*time.Second), rec.FinishedAt)
		assert.Equal(t, res.RunTime.Time, rec.RunTime)
		assert.Empty(t, rec.Error)
	})

	t.Run("failure", func(t *testing.T) {
		failed := res
		failed.Err = errors.New("boom")
		rec := failed.Record()
		assert.False(t, failed.Success())
		assert.Equal(t, OutcomeFailed, rec.Outcome)
		assert.Equal(t, "boom", rec.Error)
	})
}

func TestManifestHasBranch(t *testing.T) {
	m := Manifest{Levels: []string{"surface"}, Forecasts: []string{"f000", "f006"}}
	assert.True(t, m.HasBranch("surface", "f006"))
	assert.False(t, m.HasBranch("500mb", "f000"))
	assert.False(t, m.HasBranch("surface", "f012"))
}

func TestErrorTaxonomy(t *testing.T) {
	t.Run("transport with status", func(t *testing.T) {
		err := &TransportError{Branch: "surface/f000", StatusCode: 500}
		assert.ErrorIs(t, err, ErrTransport)
		assert.Contains(t, err.Error(), "500")
	})

	t.Run("transport without status", func(t *testing.T) {
		cause := errors.New("connection reset")
		err := &TransportError{Branch: "surface/f000", Err: cause}
		assert.ErrorIs(t, err, ErrTransport)
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "connection reset")
	})

	t.Run("conversion", func(t *testing.T) {
		err := &ConversionError{Branch: "surface/f000", ExitCode: 2, Stderr: "bad grib"}
		assert.ErrorIs(t, err, ErrConversionFailed)
		assert.NotErrorIs(t, err, ErrTransport)
		assert.Equal(t, "convert surface/f000: exit status 2: bad grib", err.Error())
	})
}
