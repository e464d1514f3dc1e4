package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/enrollflow/internal/classifier"
	"github.com/timmy/enrollflow/internal/domain"
	"github.com/timmy/enrollflow/internal/logger"
	"github.com/timmy/enrollflow/internal/runner"
)

// JobRunner runs one worker to completion or timeout.
type JobRunner interface {
	Run(ctx context.Context, spec runner.JobSpec, onLine runner.LineFunc) (*runner.Result, error)
}

// OutcomeClassifier turns worker output into an Outcome.
type OutcomeClassifier interface {
	Classify(in classifier.Input) domain.Outcome
}

// Uploader attaches artifacts to a CRM record.
type Uploader interface {
	Upload(ctx context.Context, task domain.UploadTask) (*domain.UploadResult, error)
}

// ArtifactArchiver copies run artifacts to durable storage.
type ArtifactArchiver interface {
	Store(ctx context.Context, correlationID string, files map[string]string) (domain.ArtifactMap, error)
}

// Artifact names used in the archived artifacts map.
const (
	ArtifactApproval    = "approval"
	ArtifactPaymentSlip = "payment_slip"
)

// EnrollmentRequest is one inbound enrollment submission.
type EnrollmentRequest struct {
	Category    domain.Category
	Applicant   domain.Applicant
	Extras      map[string]string
	CRMRecordID string
}

// EnrollmentResponse is the caller-facing result of a run. Business failures
// are data: Success is false and Stage names the failure.
type EnrollmentResponse struct {
	Success       bool                 `json:"success"`
	LogID         uint                 `json:"log_id,omitempty"`
	CorrelationID string               `json:"correlation_id"`
	Category      domain.Category      `json:"category"`
	Outcome       domain.OutcomeKind   `json:"outcome,omitempty"`
	Stage         domain.ErrorStage    `json:"stage,omitempty"`
	Message       string               `json:"message"`
	Result        *domain.Success      `json:"result,omitempty"`
	Requested     string               `json:"requested_campus,omitempty"`
	ExitCode      *int                 `json:"exit_code,omitempty"`
	TimedOut      bool                 `json:"timed_out,omitempty"`
	Artifacts     domain.ArtifactMap   `json:"artifacts,omitempty"`
	Upload        *domain.UploadResult `json:"upload,omitempty"`
	DurationMs    int64                `json:"duration_ms"`
}

// Accepted is returned by Start before the worker finishes.
type Accepted struct {
	Accepted      bool   `json:"accepted"`
	LogID         uint   `json:"log_id,omitempty"`
	CorrelationID string `json:"correlation_id"`
}

// OrchestratorOptions groups dependencies for EnrollmentOrchestrator.
// Uploader and Archiver are optional.
type OrchestratorOptions struct {
	Store            *ExecutionLogStore
	Runner           JobRunner
	Classifier       OutcomeClassifier
	Uploader         Uploader
	Archiver         ArtifactArchiver
	Tracker          *Tracker
	AppendBuffer     int
	ApprovalField    string
	PaymentSlipField string
}

// EnrollmentOrchestrator drives one enrollment from request to finalized log.
type EnrollmentOrchestrator struct {
	store            *ExecutionLogStore
	runner           JobRunner
	classifier       OutcomeClassifier
	uploader         Uploader
	archiver         ArtifactArchiver
	tracker          *Tracker
	appendBuffer     int
	approvalField    string
	paymentSlipField string

	newID func() string
	now   func() time.Time
	wg    sync.WaitGroup
}

// NewEnrollmentOrchestrator creates an orchestrator.
func NewEnrollmentOrchestrator(opts OrchestratorOptions) (*EnrollmentOrchestrator, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Runner == nil {
		return nil, errors.New("runner is required")
	}
	if opts.Classifier == nil {
		opts.Classifier = classifier.New(classifier.DefaultWindow)
	}
	if opts.Tracker == nil {
		opts.Tracker = NewTracker()
	}
	if opts.ApprovalField == "" {
		opts.ApprovalField = ArtifactApproval
	}
	if opts.PaymentSlipField == "" {
		opts.PaymentSlipField = ArtifactPaymentSlip
	}
	return &EnrollmentOrchestrator{
		store:            opts.Store,
		runner:           opts.Runner,
		classifier:       opts.Classifier,
		uploader:         opts.Uploader,
		archiver:         opts.Archiver,
		tracker:          opts.Tracker,
		appendBuffer:     opts.AppendBuffer,
		approvalField:    opts.ApprovalField,
		paymentSlipField: opts.PaymentSlipField,
		newID:            func() string { return uuid.New().String() },
		now:              time.Now,
	}, nil
}

// Tracker returns the execution tracker backing GET /status.
func (o *EnrollmentOrchestrator) Tracker() *Tracker {
	return o.tracker
}

type enrollmentRun struct {
	req           EnrollmentRequest
	correlationID string
	logID         uint
	startedAt     time.Time
}

// validate normalizes req in place. Validation failures never reach the
// store or the runner.
func (o *EnrollmentOrchestrator) validate(req *EnrollmentRequest) error {
	if _, err := domain.ParseCategory(string(req.Category)); err != nil {
		return err
	}
	req.Applicant.Normalize()
	return req.Applicant.Validate(req.Category, req.Extras)
}

// open creates the log row and registers the run. A store failure leaves
// logID at NoLog and the run continues. The returned context ignores the
// caller's cancellation: once a row exists it must be finalized even if a
// sync caller hangs up before the worker resolves.
func (o *EnrollmentOrchestrator) open(ctx context.Context, req EnrollmentRequest) (context.Context, *enrollmentRun) {
	ctx = context.WithoutCancel(ctx)
	run := &enrollmentRun{
		req:           req,
		correlationID: o.newID(),
		startedAt:     o.now(),
	}
	ctx = logger.SetCorrelationID(ctx, run.correlationID)
	ctx = logger.WithField(ctx, logger.FieldCategory, string(req.Category))

	logID, err := o.store.Create(ctx, req.Applicant, req.Category, run.correlationID)
	bestEffort(ctx, "create", err)
	run.logID = logID
	if logID != NoLog {
		ctx = logger.SetLogID(ctx, logID)
	}

	if others := o.tracker.Begin(run.correlationID, logID, req.Category, req.Applicant.NationalID, run.startedAt); others > 0 {
		logger.CtxWarn(ctx, "Applicant already has %d run(s) in flight; starting another", others)
	}
	return ctx, run
}

// Run executes an enrollment synchronously. It returns a *domain.ValidationError
// for malformed requests and an error wrapping runner.ErrSpawn, together with
// a response, when the worker could not be started. Every other outcome is
// returned as a response with a nil error.
func (o *EnrollmentOrchestrator) Run(ctx context.Context, req EnrollmentRequest) (*EnrollmentResponse, error) {
	if err := o.validate(&req); err != nil {
		return nil, err
	}
	ctx, run := o.open(ctx, req)
	return o.execute(ctx, run)
}

// Start validates req, opens its log row and runs it in the background.
func (o *EnrollmentOrchestrator) Start(ctx context.Context, req EnrollmentRequest) (*Accepted, error) {
	if err := o.validate(&req); err != nil {
		return nil, err
	}
	ctx, run := o.open(ctx, req)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if _, err := o.execute(ctx, run); err != nil {
			logger.CtxError(ctx, "Background enrollment failed: %v", err)
		}
	}()

	return &Accepted{Accepted: true, LogID: run.logID, CorrelationID: run.correlationID}, nil
}

// Wait blocks until every background run started by Start has finished or
// ctx is done.
func (o *EnrollmentOrchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *EnrollmentOrchestrator) execute(ctx context.Context, run *enrollmentRun) (*EnrollmentResponse, error) {
	resp := &EnrollmentResponse{
		LogID:         run.logID,
		CorrelationID: run.correlationID,
		Category:      run.req.Category,
	}
	defer func() {
		resp.DurationMs = o.now().Sub(run.startedAt).Milliseconds()
		o.tracker.End(run.correlationID, run.req.Applicant.NationalID, resp, o.now())
	}()

	bestEffort(ctx, "mark in progress", o.store.MarkInProgress(ctx, run.logID, "worker starting"))

	spec := runner.JobSpec{
		Category:      run.req.Category,
		CorrelationID: run.correlationID,
		Params:        workerParams(run.req),
	}
	appender := newOutputAppender(ctx, o.store, run.logID, o.appendBuffer)
	result, err := o.runner.Run(ctx, spec, func(line string) {
		logger.CtxDebug(ctx, "worker: %s", line)
		appender.Push(line)
	})
	appender.Close()

	if err != nil {
		resp.Stage = domain.StageProcessSpawnFailed
		resp.Message = err.Error()
		bestEffort(ctx, "finalize", o.store.FinalizeError(ctx, run.logID, &domain.FailureResult{
			Stage:   domain.StageProcessSpawnFailed,
			Message: err.Error(),
		}))
		logger.With(logger.Fields{logger.FieldStage: resp.Stage}).Error(ctx, "Worker could not be started: %v", err)
		return resp, err
	}

	outcome := o.classifier.Classify(classifier.Input{
		ExitCode:        result.ExitCode,
		Output:          result.Stdout,
		RequestedCampus: run.req.Applicant.Campus,
		TimedOut:        result.TimedOut,
	})
	resp.Outcome = outcome.Kind()
	resp.Stage = outcome.Stage()
	resp.Message = outcome.Message()

	switch out := outcome.(type) {
	case domain.Success:
		o.finishSuccess(ctx, run, out, resp)
	default:
		switch v := out.(type) {
		case domain.CampusNotFound:
			resp.Requested = v.Requested
		case domain.ProcessFailed:
			code := v.ExitCode
			resp.ExitCode = &code
			resp.TimedOut = v.TimedOut
		}
		bestEffort(ctx, "finalize", o.store.FinalizeError(ctx, run.logID, &domain.FailureResult{
			Stage:   out.Stage(),
			Message: out.Message(),
		}))
		logger.With(logger.Fields{
			logger.FieldStage:    out.Stage(),
			logger.FieldExitCode: result.ExitCode,
		}).WithDuration(result.Duration.Milliseconds()).Warn(ctx, "Enrollment failed: %s", out.Message())
	}
	return resp, nil
}

func (o *EnrollmentOrchestrator) finishSuccess(ctx context.Context, run *enrollmentRun, out domain.Success, resp *EnrollmentResponse) {
	resp.Success = true
	resp.Result = &out

	files := map[string]string{
		ArtifactApproval:    out.ApprovalArtifactPath,
		ArtifactPaymentSlip: out.PaymentSlipArtifactPath,
	}
	if o.archiver != nil && out.HasArtifacts() {
		stored, err := o.archiver.Store(ctx, run.correlationID, files)
		if err != nil {
			logger.CtxWarn(ctx, "Artifact archival incomplete: %v", err)
		}
		if len(stored) > 0 {
			resp.Artifacts = stored
		}
	}

	result := &domain.SuccessResult{
		EnrollmentNumber:         out.EnrollmentNumber,
		ExternalEnrollmentNumber: out.ExternalEnrollmentNumber,
		CampaignCode:             out.CampaignCode,
		CampaignName:             out.CampaignName,
		TuitionFee:               out.Financials.TuitionFee,
		MonthlyFee:               out.Financials.MonthlyFee,
		InstallmentCount:         out.Financials.InstallmentCount,
		ApprovalArtifactPath:     out.ApprovalArtifactPath,
		PaymentSlipArtifactPath:  out.PaymentSlipArtifactPath,
		Artifacts:                resp.Artifacts,
		Note:                     fallbackNote(out),
	}
	bestEffort(ctx, "finalize", o.store.FinalizeSuccess(ctx, run.logID, result))
	logger.With(logger.Fields{logger.FieldStatus: string(domain.StatusSuccess)}).
		WithDuration(o.now().Sub(run.startedAt).Milliseconds()).
		Info(ctx, "Enrollment finalized: enrollment=%s campaign=%s", out.EnrollmentNumber, out.CampaignCode)

	if o.uploader == nil || run.req.CRMRecordID == "" || !out.HasArtifacts() {
		return
	}
	resp.Upload = o.upload(ctx, run, out)
}

// upload runs after finalization; its result never changes the enrollment status.
func (o *EnrollmentOrchestrator) upload(ctx context.Context, run *enrollmentRun, out domain.Success) *domain.UploadResult {
	task := domain.UploadTask{
		RecordID:   run.req.CRMRecordID,
		NationalID: run.req.Applicant.NationalID,
	}
	if out.ApprovalArtifactPath != "" {
		task.Fields = append(task.Fields, domain.FieldUpload{FieldName: o.approvalField, LocalPath: out.ApprovalArtifactPath})
	}
	if out.PaymentSlipArtifactPath != "" {
		task.Fields = append(task.Fields, domain.FieldUpload{FieldName: o.paymentSlipField, LocalPath: out.PaymentSlipArtifactPath})
	}

	ctx = logger.WithField(ctx, logger.FieldCRMRecord, task.RecordID)
	result, err := o.uploader.Upload(ctx, task)
	if err != nil {
		logger.With(logger.Fields{logger.FieldStage: domain.StageUploadFailed}).Warn(ctx, "CRM upload failed: %v", err)
		bestEffort(ctx, "append", o.store.AppendOutput(ctx, run.logID,
			fmt.Sprintf("%s: %v", domain.StageUploadFailed, err)))
		if result == nil {
			result = &domain.UploadResult{RecordID: task.RecordID}
		}
		return result
	}

	var notes []string
	for _, f := range result.Fields {
		if f.Succeeded {
			notes = append(notes, fmt.Sprintf("upload %s: attached (%s)", f.FieldName, f.TierAttempted))
		} else {
			notes = append(notes, fmt.Sprintf("%s %s: %s", domain.StageUploadFailed, f.FieldName, f.Error))
		}
	}
	bestEffort(ctx, "append", o.store.AppendOutput(ctx, run.logID, strings.Join(notes, "\n")))
	return result
}

func fallbackNote(out domain.Success) string {
	var notes []string
	if out.CampusFallback {
		notes = append(notes, "alternate campus used: "+out.CampusUsed)
	}
	if out.CategoryFallback {
		notes = append(notes, "alternate category used: "+out.CategoryUsed)
	}
	return strings.Join(notes, "\n")
}

// workerParams builds the environment map handed to the worker. Values are
// never interpolated into a command line.
func workerParams(req EnrollmentRequest) map[string]string {
	a := req.Applicant
	params := map[string]string{
		"APPLICANT_NAME":           a.Name,
		"APPLICANT_NATIONAL_ID":    a.NationalID,
		"APPLICANT_EMAIL":          a.Email,
		"APPLICANT_PHONE":          a.Phone,
		"APPLICANT_BIRTH_DATE":     a.BirthDate,
		"APPLICANT_COURSE":         a.Course,
		"APPLICANT_PROGRAM_LENGTH": a.ProgramLength,
		"APPLICANT_CAMPUS":         a.Campus,
		"APPLICANT_MODALITY":       a.Modality,
		"CRM_RECORD_ID":            req.CRMRecordID,
	}

	keys := make([]string, 0, len(req.Extras))
	for k := range req.Extras {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if name := envName(k); name != "" {
			params["EXTRA_"+name] = strings.TrimSpace(req.Extras[k])
		}
	}

	for k, v := range params {
		if v == "" {
			delete(params, k)
		}
	}
	return params
}

// envName upper-cases key and replaces anything outside [A-Z0-9] with '_'.
func envName(key string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(key)) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
