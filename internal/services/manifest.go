package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Lllllllleong/docmergeflow/internal/gcp"
	"github.com/Lllllllleong/docmergeflow/internal/models"
)

// GCSEvent is the payload of a storage object finalize event.
type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// ProcessManifest runs the merge described by a manifest object. Objects
// that are not manifests are skipped.
func (f *MergerFunction) ProcessManifest(ctx context.Context, e GCSEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	if !IsManifest(e.Name) {
		logCtx.Info("Object is not a merge manifest. Skipping.")
		return nil
	}

	data, err := gcp.ReadObject(ctx, f.storageClient, e.Bucket, e.Name)
	if err != nil {
		logCtx.Error("Failed to download manifest", "error", err)
		return err
	}
	req, err := ParseManifest(e.Name, data)
	if err != nil {
		// A malformed manifest will never succeed; retrying the event is pointless.
		logCtx.Error("Invalid manifest. Skipping.", "error", err)
		return nil
	}

	res, err := f.Process(ctx, req)
	if err != nil {
		return eventResult(logCtx, err)
	}
	logCtx.Info("Manifest processed.", "jobId", res.JobID, "status", res.Status, "archiveUri", res.ArchiveURI)
	return nil
}

// eventResult decides whether a failed manifest job is returned to the event
// source for redelivery. Input errors fail the same way on every attempt and
// are only logged; the job is already marked FAILED.
func eventResult(logCtx *slog.Logger, err error) error {
	if models.IsInputError(err) {
		logCtx.Warn("Manifest inputs can never succeed; not retrying.", "error", err)
		return nil
	}
	return err
}

// IsManifest reports whether a GCS object name is a merge manifest.
func IsManifest(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".json")
}

// ErrNotManifest is returned by ParseManifest for objects that are not merge
// manifests.
var ErrNotManifest = errors.New("object is not a merge manifest")

// ParseManifest decodes a manifest object into a MergeRequest.
func ParseManifest(name string, data []byte) (*models.MergeRequest, error) {
	if !IsManifest(name) {
		return nil, ErrNotManifest
	}
	var req models.MergeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &models.InvalidRequestError{Reason: fmt.Sprintf("manifest %s: %v", name, err)}
	}
	if req.RosterURI == "" || req.TemplateURI == "" {
		return nil, &models.InvalidRequestError{Reason: fmt.Sprintf("manifest %s must set rosterUri and templateUri", name)}
	}
	return &req, nil
}
