package models

// These structs define the JSON payloads accepted and returned by the
// mail merge functions, and the manifest format picked up from GCS.

// MergeRequest is the input for the mail-merge function. The same shape is
// used for manifest objects dropped into the manifest bucket.
type MergeRequest struct {
	RosterURI   string `json:"rosterUri"`
	TemplateURI string `json:"templateUri"`
	Renderer    string `json:"renderer,omitempty"`
	Nest        bool   `json:"nest,omitempty"`
	Collisions  string `json:"collisions,omitempty"`
	Combine     bool   `json:"combine,omitempty"`
	Strict      bool   `json:"strict,omitempty"`
	Sheet       string `json:"sheet,omitempty"`
}

// RecordFailure names one record whose secondary format could not be produced.
type RecordFailure struct {
	Record string `json:"record"`
	Error  string `json:"error"`
}

// MergeResponse is the output of the mail-merge function.
type MergeResponse struct {
	Status      string          `json:"status"`
	JobID       string          `json:"jobId"`
	ArchiveURI  string          `json:"archiveUri"`
	RecordCount int             `json:"recordCount"`
	Failures    []RecordFailure `json:"failures,omitempty"`
	Collisions  []string        `json:"collisions,omitempty"`
}
