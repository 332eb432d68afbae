package connectors

import "time"

// RunOptions controls one connector run. Nil dates fall back to the
// resolution rules in resolveWindow; UpdateCursor=false runs a backfill
// without moving the high-water mark.
type RunOptions struct {
	StartDate    *time.Time
	EndDate      *time.Time
	UpdateCursor bool
}

// RunStats summarizes one run.
type RunStats struct {
	DocumentsIndexed int
	DocumentsSkipped int
	Failures         int
}

// resolveWindow turns run options and the stored cursor into a concrete
// window:
//
//  1. Both dates supplied: used verbatim.
//  2. Missing end: now.
//  3. Missing start: last_indexed_at when present and not in the
//     future, clamped to the lookback horizon; otherwise the horizon.
func resolveWindow(opts RunOptions, lastIndexedAt *time.Time, lookbackDays int, now time.Time) Window {
	if opts.StartDate != nil && opts.EndDate != nil {
		return Window{Start: *opts.StartDate, End: *opts.EndDate}
	}

	end := now
	if opts.EndDate != nil {
		end = *opts.EndDate
	}

	horizon := now.AddDate(0, 0, -lookbackDays)
	start := horizon
	if opts.StartDate != nil {
		start = *opts.StartDate
	} else if lastIndexedAt != nil && !lastIndexedAt.After(now) {
		start = *lastIndexedAt
		if start.Before(horizon) {
			start = horizon
		}
	}

	return Window{Start: start, End: end}
}
