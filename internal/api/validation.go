package api

import (
	"fmt"
	"time"
)

// Validate checks that BackfillRequest has all required fields.
func (r *BackfillRequest) Validate() error {
	if r.Region == "" {
		return fmt.Errorf("region is required")
	}
	if r.Start.IsZero() {
		return fmt.Errorf("start is required")
	}
	if r.End.IsZero() {
		return fmt.Errorf("end is required")
	}
	if !r.Start.Before(r.End) {
		return fmt.Errorf("start must precede end")
	}
	return nil
}

// parseWindow parses the start/end query params of a history request.
// Both are required RFC3339 timestamps and start must precede end.
func parseWindow(startRaw, endRaw string) (time.Time, time.Time, error) {
	if startRaw == "" || endRaw == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("start and end are required")
	}
	start, err := time.Parse(time.RFC3339, startRaw)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, endRaw)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end: %w", err)
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("start must precede end")
	}
	return start, end, nil
}
