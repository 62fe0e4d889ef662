package models

import "time"

// Job statuses written to Firestore over the lifetime of a merge.
const (
	StatusQueued              = "QUEUED"
	StatusRendering           = "RENDERING"
	StatusCompleted           = "COMPLETED"
	StatusCompletedWithErrors = "COMPLETED_WITH_ERRORS"
	StatusFailed              = "FAILED"
)

// MergeJob represents the main record for a mail merge job in Firestore.
// It tracks the overall status, progress and output location of one batch.
type MergeJob struct {
	JobID              string    `firestore:"jobId,omitempty"`
	InputHash          string    `firestore:"inputHash,omitempty"`
	RosterURI          string    `firestore:"rosterUri,omitempty"`
	TemplateURI        string    `firestore:"templateUri,omitempty"`
	Renderer           string    `firestore:"renderer,omitempty"`
	Status             string    `firestore:"status,omitempty"`
	ErrorDetails       string    `firestore:"errorDetails,omitempty"`
	RecordCount        int       `firestore:"recordCount,omitempty"`
	Processed          int       `firestore:"processed,omitempty"`
	ArchiveURI         string    `firestore:"archiveUri,omitempty"`
	ConversionFailures []string  `firestore:"conversionFailures,omitempty"`
	CreatedAt          time.Time `firestore:"createdAt,omitempty"`
	CompletedAt        time.Time `firestore:"completedAt,omitempty"`
}

// Artifact is one named payload destined for the output archive.
type Artifact struct {
	Name   string
	Format string
	Data   []byte
}
