package services

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	executions "cloud.google.com/go/workflows/executions/apiv1"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/docmergeflow/internal/archive"
	"github.com/Lllllllleong/docmergeflow/internal/config"
	"github.com/Lllllllleong/docmergeflow/internal/gcp"
	"github.com/Lllllllleong/docmergeflow/internal/merge"
	"github.com/Lllllllleong/docmergeflow/internal/models"
	"github.com/Lllllllleong/docmergeflow/internal/render"
	"github.com/Lllllllleong/docmergeflow/internal/roster"
)

const (
	// ArchiveName is the file name of every delivered archive.
	ArchiveName = "Personalized_Documents.zip"
	// CombinedPDFName is the archive entry joining all PDFs when requested.
	CombinedPDFName = "All_Documents.pdf"
)

type MergeConfig struct {
	ProjectID        string
	OutputBucket     string
	CollectionName   string
	Renderer         string
	SofficePath      string
	ConvertTimeout   time.Duration
	FieldsConfig     string
	NotifyWorkflowID string
	WorkflowLocation string
}

// LoadMergeConfig reads the function configuration from the environment.
func LoadMergeConfig() (MergeConfig, error) {
	timeout, err := gcp.GetEnvDuration("CONVERT_TIMEOUT", render.DefaultTimeout)
	if err != nil {
		return MergeConfig{}, err
	}
	cfg := MergeConfig{
		ProjectID:        gcp.GetEnv("PROJECT_ID", ""),
		OutputBucket:     gcp.GetEnv("OUTPUT_BUCKET", ""),
		CollectionName:   gcp.GetEnv("FIRESTORE_COLLECTION", "merge_jobs"),
		Renderer:         gcp.GetEnv("RENDERER", render.KindNone),
		SofficePath:      gcp.GetEnv("SOFFICE_PATH", render.DefaultBinary),
		ConvertTimeout:   timeout,
		FieldsConfig:     gcp.GetEnv("FIELDS_CONFIG", ""),
		NotifyWorkflowID: gcp.GetEnv("NOTIFY_WORKFLOW_ID", ""),
		WorkflowLocation: gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
	}
	if cfg.ProjectID == "" {
		return MergeConfig{}, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	if cfg.OutputBucket == "" {
		return MergeConfig{}, fmt.Errorf("OUTPUT_BUCKET environment variable must be set")
	}
	if _, err := render.FromName(cfg.Renderer, render.Options{}); err != nil {
		return MergeConfig{}, fmt.Errorf("invalid RENDERER: %w", err)
	}
	return cfg, nil
}

// MergerFunction runs mail merges for the hosted functions and the CLI.
// The cloud clients are nil for a local merger; only MergeUpload works then.
type MergerFunction struct {
	storageClient    *storage.Client
	firestoreClient  *firestore.Client
	executionsClient *executions.Client
	config           MergeConfig
	fields           config.FieldSet
}

// Upload is an input file received directly rather than through GCS.
type Upload struct {
	Name string
	Data []byte
}

// NewMerger loads the environment configuration and connects the cloud clients.
func NewMerger(ctx context.Context) (*MergerFunction, error) {
	cfg, err := LoadMergeConfig()
	if err != nil {
		return nil, err
	}
	fields, err := config.LoadFieldSet(cfg.FieldsConfig)
	if err != nil {
		return nil, err
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}

	f := &MergerFunction{
		firestoreClient: firestoreClient,
		storageClient:   storageClient,
		config:          cfg,
		fields:          fields,
	}
	if cfg.NotifyWorkflowID != "" {
		f.executionsClient, err = executions.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
		}
	}
	slog.Info("Mail merge logic initialized.",
		"renderer", cfg.Renderer,
		"outputBucket", cfg.OutputBucket,
		"notifyWorkflowId", cfg.NotifyWorkflowID)
	return f, nil
}

// NewLocalMerger returns a merger without cloud clients.
func NewLocalMerger(cfg MergeConfig, fields config.FieldSet) *MergerFunction {
	if cfg.SofficePath == "" {
		cfg.SofficePath = render.DefaultBinary
	}
	if cfg.ConvertTimeout == 0 {
		cfg.ConvertTimeout = render.DefaultTimeout
	}
	if len(fields.Fields) == 0 {
		fields = config.DefaultFieldSet()
	}
	return &MergerFunction{config: cfg, fields: fields}
}

// MergeUpload merges uploaded inputs in memory and returns the archive.
func (f *MergerFunction) MergeUpload(ctx context.Context, req *models.MergeRequest, rosterFile, templateFile Upload) (*models.Artifact, *merge.Report, error) {
	logCtx := slog.With("roster", rosterFile.Name, "template", templateFile.Name)
	logCtx.Info("Processing uploaded mail merge.")

	if len(rosterFile.Data) == 0 {
		return nil, nil, &models.InvalidRequestError{Reason: "roster file is empty or missing"}
	}
	if len(templateFile.Data) == 0 {
		return nil, nil, &models.InvalidRequestError{Reason: "template file is empty or missing"}
	}

	res, err := f.run(ctx, logCtx, req, rosterFile, templateFile, nil)
	if err != nil {
		logCtx.Error("Mail merge failed.", "error", err)
		return nil, nil, err
	}
	artifact := &models.Artifact{Name: ArchiveName, Format: archive.ContentType, Data: res.Archive}
	return artifact, &res.Report, nil
}

// Process runs a tracked merge of GCS inputs. The job is recorded in
// Firestore and the archive lands in the output bucket. A request whose
// inputs and options match an earlier completed job returns that job.
func (f *MergerFunction) Process(ctx context.Context, req *models.MergeRequest) (*models.MergeResponse, error) {
	logCtx := slog.With("rosterUri", req.RosterURI, "templateUri", req.TemplateURI)
	logCtx.Info("Processing mail merge request.")

	rosterFile, templateFile, err := f.download(ctx, req)
	if err != nil {
		logCtx.Error("Failed to download inputs", "error", err)
		return nil, err
	}

	inputHash, err := calculateInputHash(req, rosterFile.Data, templateFile.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate input hash: %w", err)
	}
	logCtx = logCtx.With("inputHash", inputHash)

	existing, err := f.findCompleted(ctx, inputHash)
	if err != nil {
		logCtx.Error("Failed to check for duplicate", "error", err)
		return nil, err
	}
	if existing != nil {
		logCtx.Info("Identical merge already completed. Returning existing archive.", "existingJobId", existing.JobID)
		return &models.MergeResponse{
			Status:      existing.Status,
			JobID:       existing.JobID,
			ArchiveURI:  existing.ArchiveURI,
			RecordCount: existing.RecordCount,
		}, nil
	}

	docRef, err := f.createJob(ctx, req, inputHash)
	if err != nil {
		logCtx.Error("Failed to create job document", "error", err)
		return nil, err
	}
	logCtx = logCtx.With("jobId", docRef.ID)
	logCtx.Info("Created job document in Firestore.")

	if err := f.updateStatus(ctx, docRef, models.StatusRendering, ""); err != nil {
		return nil, f.handleError(ctx, logCtx, docRef, "failed to update status to RENDERING", err)
	}

	progress := f.progressUpdater(ctx, logCtx, docRef)
	res, err := f.run(ctx, logCtx, req, rosterFile, templateFile, progress)
	if err != nil {
		return nil, f.handleError(ctx, logCtx, docRef, "mail merge failed", err)
	}

	objectName := docRef.ID + "/" + ArchiveName
	if err := f.uploadArchive(ctx, objectName, res.Archive); err != nil {
		return nil, f.handleError(ctx, logCtx, docRef, "failed to upload archive", err)
	}
	archiveURI := gcp.GCSURI(f.config.OutputBucket, objectName)

	status := models.StatusCompleted
	if len(res.Report.Failures) > 0 {
		status = models.StatusCompletedWithErrors
	}
	updates := []firestore.Update{
		{Path: "status", Value: status},
		{Path: "recordCount", Value: res.Report.Records},
		{Path: "processed", Value: res.Report.Records},
		{Path: "archiveUri", Value: archiveURI},
		{Path: "conversionFailures", Value: res.Report.FailedRecords()},
		{Path: "completedAt", Value: time.Now()},
	}
	if _, err := docRef.Update(ctx, updates); err != nil {
		return nil, f.handleError(ctx, logCtx, docRef, "failed to record job completion", err)
	}
	logCtx.Info("Mail merge complete.", "status", status, "archiveUri", archiveURI)

	if f.executionsClient != nil {
		f.notify(ctx, logCtx, docRef.ID, status, archiveURI)
	}

	return &models.MergeResponse{
		Status:      status,
		JobID:       docRef.ID,
		ArchiveURI:  archiveURI,
		RecordCount: res.Report.Records,
		Failures:    res.Report.RecordFailures(),
		Collisions:  res.Report.Collisions,
	}, nil
}

// run loads the roster and executes the pipeline.
func (f *MergerFunction) run(ctx context.Context, logCtx *slog.Logger, req *models.MergeRequest, rosterFile, templateFile Upload, progress func(done, total int)) (*merge.Result, error) {
	opts, rosterOpts, err := f.pipelineOptions(req)
	if err != nil {
		return nil, err
	}
	opts.TemplateName = templateFile.Name
	opts.Progress = progress
	opts.Logger = logCtx

	records, err := roster.Load(rosterFile.Name, rosterFile.Data, rosterOpts)
	if err != nil {
		return nil, err
	}
	logCtx.Info("Roster loaded.", "records", len(records))

	return merge.Run(ctx, records, templateFile.Data, opts)
}

// pipelineOptions resolves per-request options against the function config.
func (f *MergerFunction) pipelineOptions(req *models.MergeRequest) (merge.Options, roster.Options, error) {
	kind := f.config.Renderer
	if req.Renderer != "" {
		kind = req.Renderer
	}
	renderer, err := render.FromName(kind, render.Options{
		Binary:  f.config.SofficePath,
		Timeout: f.config.ConvertTimeout,
	})
	if err != nil {
		return merge.Options{}, roster.Options{}, &models.InvalidRequestError{Reason: err.Error()}
	}

	policy, err := merge.ParseCollisionPolicy(req.Collisions)
	if err != nil {
		return merge.Options{}, roster.Options{}, &models.InvalidRequestError{Reason: err.Error()}
	}

	opts := merge.Options{
		Fields:       f.fields,
		Renderer:     renderer,
		NestByRecord: req.Nest,
		Collisions:   policy,
	}
	if req.Combine && renderer != nil {
		opts.CombinedPDF = CombinedPDFName
	}

	rosterOpts := roster.Options{
		KeyField:           f.fields.KeyField,
		DropInvalidRecords: !req.Strict,
		Sheet:              req.Sheet,
	}
	return opts, rosterOpts, nil
}

// download fetches the roster and template concurrently.
func (f *MergerFunction) download(ctx context.Context, req *models.MergeRequest) (Upload, Upload, error) {
	var rosterFile, templateFile Upload
	eg, gctx := errgroup.WithContext(ctx)

	fetch := func(uri string, dst *Upload) error {
		bucket, object, err := gcp.ParseGCSURI(uri)
		if err != nil {
			return &models.InvalidRequestError{Reason: err.Error()}
		}
		data, err := gcp.ReadObject(gctx, f.storageClient, bucket, object)
		if err != nil {
			return err
		}
		*dst = Upload{Name: object, Data: data}
		return nil
	}
	eg.Go(func() error { return fetch(req.RosterURI, &rosterFile) })
	eg.Go(func() error { return fetch(req.TemplateURI, &templateFile) })

	if err := eg.Wait(); err != nil {
		return Upload{}, Upload{}, err
	}
	return rosterFile, templateFile, nil
}

func (f *MergerFunction) findCompleted(ctx context.Context, inputHash string) (*models.MergeJob, error) {
	snap, err := gcp.FindOne(ctx, f.firestoreClient, f.config.CollectionName, "inputHash", inputHash)
	if err != nil || snap == nil {
		return nil, err
	}
	var job models.MergeJob
	if err := snap.DataTo(&job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", snap.Ref.ID, err)
	}
	if job.Status != models.StatusCompleted && job.Status != models.StatusCompletedWithErrors {
		return nil, nil
	}
	job.JobID = snap.Ref.ID
	return &job, nil
}

func (f *MergerFunction) createJob(ctx context.Context, req *models.MergeRequest, inputHash string) (*firestore.DocumentRef, error) {
	jobID := uuid.NewString()
	renderer := req.Renderer
	if renderer == "" {
		renderer = f.config.Renderer
	}
	job := models.MergeJob{
		JobID:       jobID,
		InputHash:   inputHash,
		RosterURI:   req.RosterURI,
		TemplateURI: req.TemplateURI,
		Renderer:    renderer,
		Status:      models.StatusQueued,
		CreatedAt:   time.Now(),
	}
	docRef := f.firestoreClient.Collection(f.config.CollectionName).Doc(jobID)
	if _, err := docRef.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job document: %w", err)
	}
	return docRef, nil
}

// progressUpdater writes the processed count to the job document roughly
// every tenth of the batch. Failed writes are logged and ignored.
func (f *MergerFunction) progressUpdater(ctx context.Context, logCtx *slog.Logger, docRef *firestore.DocumentRef) func(done, total int) {
	return func(done, total int) {
		if !shouldReportProgress(done, total) {
			return
		}
		updates := []firestore.Update{
			{Path: "processed", Value: done},
			{Path: "recordCount", Value: total},
		}
		if _, err := docRef.Update(ctx, updates); err != nil {
			logCtx.Warn("Failed to update job progress.", "processed", done, "error", err)
		}
	}
}

func shouldReportProgress(done, total int) bool {
	step := total / 10
	if step < 1 {
		step = 1
	}
	return done == total || done%step == 0
}

// uploadArchive writes the archive with retries and exponential backoff.
func (f *MergerFunction) uploadArchive(ctx context.Context, objectName string, data []byte) error {
	const maxRetries = 4
	var backoff = 1 * time.Second
	var lastErr error

	bucket := f.storageClient.Bucket(f.config.OutputBucket)
	for i := 0; i < maxRetries; i++ {
		err := func() error {
			writeCtx, cancel := context.WithTimeout(ctx, time.Second*50)
			defer cancel()
			return gcp.SaveToGCSAtomically(writeCtx, bucket, objectName, archive.ContentType, data)
		}()
		if err == nil {
			return nil
		}

		lastErr = err
		slog.Warn(
			"Upload failed, will retry.",
			"gcsObject", objectName,
			"attempt", i+1,
			"maxRetries", maxRetries,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			slog.Error("Context cancelled during backoff. Aborting retries.", "gcsObject", objectName, "error", ctx.Err())
			return ctx.Err()
		}
	}
	slog.Error("Upload failed after all retries.", "gcsObject", objectName, "error", lastErr)
	return fmt.Errorf("upload for %s failed after all retries: %w", objectName, lastErr)
}

// notify hands the finished job to the notification workflow. The archive is
// already stored, so a failure here does not fail the job.
func (f *MergerFunction) notify(ctx context.Context, logCtx *slog.Logger, jobID, status, archiveURI string) {
	parent := gcp.WorkflowParent(f.config.ProjectID, f.config.WorkflowLocation, f.config.NotifyWorkflowID)
	payload := map[string]interface{}{
		"jobId":      jobID,
		"status":     status,
		"archiveUri": archiveURI,
	}
	execution, err := gcp.StartWorkflow(ctx, f.executionsClient, parent, payload)
	if err != nil {
		logCtx.Error("Failed to trigger notification workflow.", "workflow", parent, "error", err)
		return
	}
	logCtx.Info("Notification workflow triggered.", "execution", execution)
}

func (f *MergerFunction) handleError(ctx context.Context, logCtx *slog.Logger, docRef *firestore.DocumentRef, message string, originalErr error) error {
	fullError := fmt.Sprintf("%s: %v", message, originalErr)
	logCtx.Error(message, "error", originalErr)
	if err := f.updateStatus(ctx, docRef, models.StatusFailed, fullError); err != nil {
		logCtx.Error("CRITICAL: Failed to update Firestore status to FAILED after a processing error.", "updateError", err)
	}
	return fmt.Errorf("%s: %w", message, originalErr)
}

func (f *MergerFunction) updateStatus(ctx context.Context, docRef *firestore.DocumentRef, status, errDetails string) error {
	updates := []firestore.Update{
		{Path: "status", Value: status},
	}
	if errDetails != "" {
		updates = append(updates, firestore.Update{Path: "errorDetails", Value: errDetails})
	}
	_, err := docRef.Update(ctx, updates)
	return err
}

// calculateInputHash fingerprints the inputs and every option that changes
// the output.
func calculateInputHash(req *models.MergeRequest, rosterData, templateData []byte) (string, error) {
	opts := *req
	opts.RosterURI, opts.TemplateURI = "", ""
	optsJSON, err := json.Marshal(opts)
	if err != nil {
		return "", err
	}

	hash := sha256.New()
	for _, part := range [][]byte{rosterData, templateData, optsJSON} {
		var size [8]byte
		binary.BigEndian.PutUint64(size[:], uint64(len(part)))
		hash.Write(size[:])
		hash.Write(part)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
