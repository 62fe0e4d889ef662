package services

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/Lllllllleong/docmergeflow/internal/merge"
	"github.com/Lllllllleong/docmergeflow/internal/models"
)

// MaxUploadMemory bounds the multipart form held in memory; larger parts
// spill to temporary files.
const MaxUploadMemory = 32 << 20

// ParseUploadForm reads a multipart mail merge request: files "roster" and
// "template" plus optional option fields.
func ParseUploadForm(r *http.Request) (*models.MergeRequest, Upload, Upload, error) {
	if err := r.ParseMultipartForm(MaxUploadMemory); err != nil {
		return nil, Upload{}, Upload{}, &models.InvalidRequestError{Reason: fmt.Sprintf("could not parse multipart form: %v", err)}
	}

	rosterFile, err := formFile(r, "roster")
	if err != nil {
		return nil, Upload{}, Upload{}, err
	}
	templateFile, err := formFile(r, "template")
	if err != nil {
		return nil, Upload{}, Upload{}, err
	}

	req := &models.MergeRequest{
		Renderer:   strings.TrimSpace(r.FormValue("renderer")),
		Collisions: strings.TrimSpace(r.FormValue("collisions")),
		Sheet:      r.FormValue("sheet"),
	}
	for name, dst := range map[string]*bool{"nest": &req.Nest, "combine": &req.Combine, "strict": &req.Strict} {
		if *dst, err = formBool(r, name); err != nil {
			return nil, Upload{}, Upload{}, err
		}
	}
	return req, rosterFile, templateFile, nil
}

func formFile(r *http.Request, field string) (Upload, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return Upload{}, &models.InvalidRequestError{Reason: fmt.Sprintf("missing %q file", field)}
		}
		return Upload{}, fmt.Errorf("failed to open %q upload: %w", field, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return Upload{}, fmt.Errorf("failed to read %q upload: %w", field, err)
	}
	return Upload{Name: header.Filename, Data: data}, nil
}

func formBool(r *http.Request, field string) (bool, error) {
	v := strings.TrimSpace(r.FormValue(field))
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, &models.InvalidRequestError{Reason: fmt.Sprintf("field %q must be a boolean, got %q", field, v)}
	}
	return b, nil
}

// WriteArchive sends a finished archive as a download. Records whose
// secondary format failed are listed in X-Conversion-Failures.
func WriteArchive(w http.ResponseWriter, artifact *models.Artifact, report *merge.Report) error {
	h := w.Header()
	h.Set("Content-Type", artifact.Format)
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", artifact.Name))
	h.Set("Content-Length", strconv.Itoa(len(artifact.Data)))
	h.Set("X-Record-Count", strconv.Itoa(report.Records))
	if failed := report.FailedRecords(); len(failed) > 0 {
		h.Set("X-Conversion-Failures", strings.Join(failed, ","))
	}
	if len(report.Collisions) > 0 {
		h.Set("X-Name-Collisions", strings.Join(report.Collisions, ","))
	}
	w.WriteHeader(http.StatusOK)
	_, err := w.Write(artifact.Data)
	return err
}

// StatusCode maps a merge error to an HTTP status.
func StatusCode(err error) int {
	if models.IsInputError(err) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
