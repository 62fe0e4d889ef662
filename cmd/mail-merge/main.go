package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/docmergeflow/internal/models"
	"github.com/Lllllllleong/docmergeflow/internal/services"
)

var (
	mergerInstance *services.MergerFunction
	once           sync.Once
	initErr        error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// "HandleMailMerge" is the entry point name configured in GCP.
	functions.HTTP("HandleMailMerge", handleMailMerge)
}

// main is required by the Go Functions Framework.
func main() {}

// handleMailMerge accepts either a multipart upload, answered with the ZIP
// itself, or a JSON MergeRequest naming GCS inputs, answered with a
// MergeResponse once the archive is stored.
func handleMailMerge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	once.Do(func() {
		mergerInstance, initErr = services.NewMerger(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: Merger initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		handleUpload(w, r)
	case "application/json":
		handleJob(w, r)
	default:
		http.Error(w, "Unsupported Media Type: send multipart/form-data or application/json", http.StatusUnsupportedMediaType)
	}
}

func handleUpload(w http.ResponseWriter, r *http.Request) {
	req, rosterFile, templateFile, err := services.ParseUploadForm(r)
	if err != nil {
		slog.Warn("Could not parse upload form", "error", err)
		http.Error(w, err.Error(), services.StatusCode(err))
		return
	}

	artifact, report, err := mergerInstance.MergeUpload(r.Context(), req, rosterFile, templateFile)
	if err != nil {
		// The specific error is already logged inside MergeUpload.
		http.Error(w, err.Error(), services.StatusCode(err))
		return
	}

	if err := services.WriteArchive(w, artifact, report); err != nil {
		slog.Error("Failed to write archive response", "error", err, "records", report.Records)
	}
}

func handleJob(w http.ResponseWriter, r *http.Request) {
	var req models.MergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}

	res, err := mergerInstance.Process(r.Context(), &req)
	if err != nil {
		http.Error(w, err.Error(), services.StatusCode(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to write response", "error", err, "jobId", res.JobID)
		http.Error(w, "Internal Server Error: failed to encode response", http.StatusInternalServerError)
	}
}
