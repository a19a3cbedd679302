// Package domain holds the core types shared across the backfill
// pipeline: work units, stages, outcomes, failure records and the
// error taxonomy.
//
// A work unit is one calendar date of price data. Units are fully
// independent of each other; the only ordering that matters is the
// stage sequence within a single unit.
package domain

import (
	"fmt"
	"time"
)

// UnitLayout is the canonical date format for unit ids.
const UnitLayout = "2006-01-02"

// Unit identifies one work unit: a single price date (YYYY-MM-DD).
type Unit string

// ParseUnit validates a date string and returns it as a Unit.
func ParseUnit(s string) (Unit, error) {
	t, err := time.Parse(UnitLayout, s)
	if err != nil {
		return "", fmt.Errorf("invalid unit date %q: %w", s, err)
	}
	// Normalize (rejects e.g. 2024-2-8).
	if t.Format(UnitLayout) != s {
		return "", fmt.Errorf("invalid unit date %q: want YYYY-MM-DD", s)
	}
	return Unit(s), nil
}

// Time returns the unit's date at midnight UTC.
func (u Unit) Time() time.Time {
	t, _ := time.Parse(UnitLayout, string(u))
	return t
}

// String implements fmt.Stringer.
func (u Unit) String() string { return string(u) }

// UnitRange materializes the ordered unit sequence from start to end
// inclusive. With skipWeekends set, Saturdays and Sundays are omitted.
func UnitRange(start, end Unit, skipWeekends bool) []Unit {
	var units []Unit
	for t := start.Time(); !t.After(end.Time()); t = t.AddDate(0, 0, 1) {
		if skipWeekends {
			if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
				continue
			}
		}
		units = append(units, Unit(t.Format(UnitLayout)))
	}
	return units
}

// UnitStatus is the outcome of a unit within a run.
type UnitStatus string

const (
	UnitPending    UnitStatus = "pending"
	UnitInProgress UnitStatus = "in_progress"
	UnitCompleted  UnitStatus = "completed"
	UnitFailed     UnitStatus = "failed"
)

// Stage is one of the four ordered pipeline steps applied to a unit.
type Stage string

const (
	StageDownload  Stage = "download"
	StageExtract   Stage = "extract"
	StageTransform Stage = "transform"
	StagePublish   Stage = "publish"
)

// Stages returns the pipeline stages in execution order.
func Stages() []Stage {
	return []Stage{StageDownload, StageExtract, StageTransform, StagePublish}
}

// UnitResult is what the pipeline reports back for one unit.
type UnitResult struct {
	Unit        Unit
	Success     bool
	RecordCount int64
	Duration    time.Duration

	// FailedStage and Err are set only when Success is false.
	FailedStage Stage
	Err         error
}
