package domain

import "time"

// RunTime identifies one upstream model run: a UTC timestamp on a
// publication hour.
type RunTime struct {
	time.Time
}

// Date returns the run date as used in upstream paths, "20241015".
func (r RunTime) Date() string {
	return r.UTC().Format("20060102")
}

// Cycle returns the two digit run hour, "06".
func (r RunTime) Cycle() string {
	return r.UTC().Format("15")
}

// String renders the run as "20241015/06z".
func (r RunTime) String() string {
	return r.Date() + "/" + r.Cycle() + "z"
}

// ResolveRunTime returns the latest run expected to be available at now.
// The availability delay is subtracted first, so early-morning calls resolve
// to the previous day's last run.
func ResolveRunTime(now time.Time, sched PublicationSchedule) RunTime {
	t := now.UTC().Add(-sched.AvailabilityDelay)
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)

	if len(sched.Hours) == 0 {
		return RunTime{day.Add(time.Duration(t.Hour()) * time.Hour)}
	}

	hour := -1
	for _, h := range sched.Hours {
		if h <= t.Hour() {
			hour = h
		}
	}
	if hour < 0 {
		day = day.AddDate(0, 0, -1)
		hour = sched.Hours[len(sched.Hours)-1]
	}
	return RunTime{day.Add(time.Duration(hour) * time.Hour)}
}
