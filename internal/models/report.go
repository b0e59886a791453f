package models

import (
	"time"

	"github.com/google/uuid"
)

// Columns is the header of every tabular report.
var Columns = []string{"Origin", "Destination", "Distance (km)", "Travel Time (h)", "Travel Time (min)"}

// Report is the finalized table of one run.
type Report struct {
	RunID       uuid.UUID      // RunID identifies the run in logs and storage.
	Group       string         // Group is the region the origins were selected from.
	Destination string         // Destination is the central place of the run.
	StartedAt   time.Time      // StartedAt is when dispatching began.
	FinishedAt  time.Time      // FinishedAt is when the last task completed.
	Rows        []LookupResult // Rows holds one result per dispatched origin, in input order.
}

// Resolved returns the number of rows with travel data.
func (r *Report) Resolved() int {
	count := 0
	for _, row := range r.Rows {
		if row.HasRoute() {
			count++
		}
	}
	return count
}

// Unresolved returns the number of rows without travel data.
func (r *Report) Unresolved() int {
	return len(r.Rows) - r.Resolved()
}
