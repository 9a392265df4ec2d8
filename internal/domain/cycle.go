package domain

import (
	"slices"
	"time"
)

// Trigger records what started an update cycle.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
	TriggerStartup   Trigger = "startup"
)

// FetchedFile is a downloaded source file in the scratch area.
type FetchedFile struct {
	Source SourceDescriptor
	Path   string
	Size   int64
}

// IntermediateFile is converter output for one branch.
type IntermediateFile struct {
	Branch Branch
	Path   string
}

// BuildRequest describes one staging tree to build.
type BuildRequest struct {
	ReleaseID string
	CycleID   string
	RunTime   RunTime
	Selection Selection
	Inputs    []IntermediateFile
}

// Manifest describes a published tile tree. It is written next to tiles/ and
// is the authoritative record of what a release contains.
type Manifest struct {
	ReleaseID   string    `json:"releaseId"`
	CycleID     string    `json:"cycleId"`
	RunTime     time.Time `json:"runTime"`
	GeneratedAt time.Time `json:"generatedAt"`
	PublishedAt time.Time `json:"publishedAt,omitzero"`
	Levels      []string  `json:"levels"`
	Forecasts   []string  `json:"forecasts"`
	MaxZoom     int       `json:"maxZoom"`
	TileCount   int       `json:"tileCount"`
	MaxPoints   int       `json:"maxPoints"`
}

// HasBranch reports whether the release covers (level, forecast).
func (m Manifest) HasBranch(level, forecast string) bool {
	return slices.Contains(m.Levels, level) && slices.Contains(m.Forecasts, forecast)
}

// Release is a published tile tree as seen through the current pointer.
type Release struct {
	ID       string
	Dir      string
	Manifest Manifest
}

// CycleResult summarises one update cycle.
type CycleResult struct {
	CycleID    string
	Trigger    Trigger
	RunTime    RunTime
	StartedAt  time.Time
	Duration   time.Duration
	Levels     []string
	Forecasts  []string
	TotalFiles int
	Tiles      int
	ReleaseID  string
	Err        error
}

// Success reports whether the cycle published a new release.
func (r CycleResult) Success() bool {
	return r.Err == nil
}

// Cycle outcomes as stored in history.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

// CycleRecord is the persisted history row for one cycle.
type CycleRecord struct {
	ID         string    `json:"id"`
	Trigger    Trigger   `json:"trigger"`
	RunTime    time.Time `json:"runTime"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	Files      int       `json:"files"`
	Tiles      int       `json:"tiles"`
	ReleaseID  string    `json:"releaseId,omitempty"`
}

// Record converts the result into its history row.
func (r CycleResult) Record() CycleRecord {
	rec := CycleRecord{
		ID:         r.CycleID,
		Trigger:    r.Trigger,
		RunTime:    r.RunTime.Time,
		StartedAt:  r.StartedAt,
		FinishedAt: r.StartedAt.Add(r.Duration),
		Outcome:    OutcomeSuccess,
		Files:      r.TotalFiles,
		Tiles:      r.Tiles,
		ReleaseID:  r.ReleaseID,
	}
	if r.Err != nil {
		rec.Outcome = OutcomeFailed
		rec.Error = r.Err.Error()
	}
	return rec
}
