package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResolveRunTime(t *testing.T) {
	sched := PublicationSchedule{Hours: []int{0, 6, 12, 18}, AvailabilityDelay: 3 * time.Hour}
	at := func(day, hour, minute int) time.Time {
		return time.Date(2024, 10, day, hour, minute, 0, 0, time.UTC)
	}

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"just after availability", at(15, 9, 0), at(15, 6, 0)},
		{"late in window", at(15, 14, 59), at(15, 6, 0)},
		{"next window", at(15, 15, 0), at(15, 12, 0)},
		{"late evening", at(15, 23, 30), at(15, 18, 0)},
		{"early morning rolls back a day", at(15, 1, 0), at(14, 18, 0)},
		{"midnight rolls back a day", at(15, 0, 0), at(14, 18, 0)},
		{"month boundary", time.Date(2024, 11, 1, 2, 0, 0, 0, time.UTC), at(31, 18, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveRunTime(tt.now, sched).Time)
		})
	}

	t.Run("stable within a window", func(t *testing.T) {
		a := ResolveRunTime(at(15, 9, 1), sched)
		b := ResolveRunTime(at(15, 14, 58), sched)
		assert.Equal(t, a, b)
	})

	t.Run("advances by six hours across a boundary", func(t *testing.T) {
		a := ResolveRunTime(at(15, 14, 59), sched)
		b := ResolveRunTime(at(15, 15, 0), sched)
		assert.Equal(t, 6*time.Hour, b.Sub(a.Time))
	})

	t.Run("non UTC input", func(t *testing.T) {
		loc := time.FixedZone("EST", -5*3600)
		now := time.Date(2024, 10, 15, 4, 0, 0, 0, loc) // 09:00 UTC
		assert.Equal(t, at(15, 6, 0), ResolveRunTime(now, sched).Time)
	})

	t.Run("no publication hours truncates", func(t *testing.T) {
		got := ResolveRunTime(at(15, 9, 45), PublicationSchedule{})
		assert.Equal(t, at(15, 9, 0), got.Time)
	})
}

func TestRunTimeFormat(t *testing.T) {
	r := RunTime{time.Date(2024, 10, 15, 6, 0, 0, 0, time.UTC)}
	assert.Equal(t, "20241015", r.Date())
	assert.Equal(t, "06", r.Cycle())
	assert.Equal(t, "20241015/06z", r.String())
}
