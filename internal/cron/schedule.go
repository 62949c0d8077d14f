package cron

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Five-field expressions (minute hour dom month dow) plus @descriptors.
var cronParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// parseSchedule validates a cron expression and returns its schedule.
func parseSchedule(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("schedule is required")
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return schedule, nil
}

// ValidateExpr reports whether an expression parses.
func ValidateExpr(expr string) error {
	_, err := parseSchedule(expr)
	return err
}

// NextAfter returns the first fire time of an expression after t, for
// previewing schedules without registering a job.
func NextAfter(expr string, t time.Time) (time.Time, error) {
	schedule, err := parseSchedule(expr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(t), nil
}
