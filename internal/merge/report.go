package merge

import (
	"github.com/Lllllllleong/docmergeflow/internal/models"
)

// Report summarises a completed batch next to its archive.
type Report struct {
	Records   int
	Primary   int
	Secondary int
	// Failures holds one entry per record whose secondary format is missing.
	Failures []*models.ConversionError
	// Collisions lists archive names written by more than one record.
	Collisions []string
	// UnmappedTokens are template tokens no configured field supplies. They
	// stay verbatim in every output.
	UnmappedTokens []string
	// Entries lists archive entry names in archive order.
	Entries []string
	// Combined is the archive name of the combined PDF, empty when none was
	// added. It differs from the requested name when a record output took it.
	Combined string
}

// FailedRecords returns the keys of records whose conversion failed.
func (r Report) FailedRecords() []string {
	keys := make([]string, len(r.Failures))
	for i, f := range r.Failures {
		keys[i] = f.Record
	}
	return keys
}

// RecordFailures converts the failures into their JSON response form.
func (r Report) RecordFailures() []models.RecordFailure {
	if len(r.Failures) == 0 {
		return nil
	}
	out := make([]models.RecordFailure, len(r.Failures))
	for i, f := range r.Failures {
		out[i] = models.RecordFailure{Record: f.Record, Error: f.Err.Error()}
	}
	return out
}
