package crm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timmy/enrollflow/internal/artifact"
	"github.com/timmy/enrollflow/internal/config"
	"github.com/timmy/enrollflow/internal/domain"
	"github.com/timmy/enrollflow/internal/logger"
)

// Coordinator attaches local artifacts to CRM fields, escalating through
// fresh upload, replace-in-place and delete-then-upload per field.
type Coordinator struct {
	driver       Driver
	artifactsDir string
	fieldKinds   map[string]artifact.Kind
}

// NewCoordinator creates a Coordinator. fieldKinds maps a field name to the
// content kind it accepts; fields without an entry skip content inspection.
func NewCoordinator(driver Driver, artifactsDir string, fieldKinds map[string]artifact.Kind) *Coordinator {
	if fieldKinds == nil {
		fieldKinds = map[string]artifact.Kind{}
	}
	return &Coordinator{driver: driver, artifactsDir: artifactsDir, fieldKinds: fieldKinds}
}

// NewCoordinatorFromConfig wires field kinds from CRM configuration.
func NewCoordinatorFromConfig(driver Driver, cfg *config.CRMConfig) *Coordinator {
	return NewCoordinator(driver, cfg.ArtifactsDir, map[string]artifact.Kind{
		cfg.ApprovalField:    artifact.KindImage,
		cfg.PaymentSlipField: artifact.KindPDF,
	})
}

// Validate checks every field of task without touching the CRM.
// It returns the first failure.
func (c *Coordinator) Validate(task domain.UploadTask) error {
	if task.RecordID == "" {
		return errors.New("record id is required")
	}
	if len(task.Fields) == 0 {
		return errors.New("at least one file is required")
	}
	for _, f := range task.Fields {
		if _, err := c.check(task.NationalID, f); err != nil {
			return fmt.Errorf("%s: %w", f.FieldName, err)
		}
	}
	return nil
}

func (c *Coordinator) check(nationalID string, f domain.FieldUpload) (string, error) {
	path, err := artifact.Check(c.artifactsDir, f.LocalPath, nationalID)
	if err != nil {
		return "", err
	}
	if kind, ok := c.fieldKinds[f.FieldName]; ok {
		if _, err := artifact.InspectAs(path, kind); err != nil {
			return "", err
		}
	}
	return path, nil
}

// Upload runs task. A field that fails validation is not attempted; a field
// that exhausts every tier is reported as failed. Neither aborts the
// remaining fields. The error is non-nil only when the record could not be
// opened at all.
func (c *Coordinator) Upload(ctx context.Context, task domain.UploadTask) (*domain.UploadResult, error) {
	ctx = logger.WithField(logger.SetComponent(ctx, "crm_upload"), logger.FieldCRMRecord, task.RecordID)
	start := time.Now()
	result := &domain.UploadResult{RecordID: task.RecordID}

	type pending struct {
		field domain.FieldUpload
		path  string
		idx   int
	}
	var todo []pending
	for _, f := range task.Fields {
		result.Fields = append(result.Fields, domain.FieldResult{FieldName: f.FieldName, LocalPath: f.LocalPath})
		path, err := c.check(task.NationalID, f)
		if err != nil {
			result.Fields[len(result.Fields)-1].Error = err.Error()
			logger.CtxWarn(ctx, "Skipping field %s: %v", f.FieldName, err)
			continue
		}
		todo = append(todo, pending{field: f, path: path, idx: len(result.Fields) - 1})
	}
	if len(todo) == 0 {
		return result, nil
	}

	session, err := c.driver.Open(ctx, task.RecordID)
	if err != nil {
		return result, fmt.Errorf("failed to open crm record %s: %w", task.RecordID, err)
	}
	defer func() {
		if err := session.Close(ctx); err != nil {
			logger.CtxWarn(ctx, "Failed to close crm session: %v", err)
		}
	}()

	for _, p := range todo {
		fr := &result.Fields[p.idx]
		fr.TierAttempted, err = c.attach(ctx, session, p.field.FieldName, p.path)
		if err != nil {
			fr.Error = err.Error()
			logger.With(logger.Fields{
				logger.FieldTier:  fr.TierAttempted.String(),
				logger.FieldStage: domain.StageUploadFailed,
			}).Warn(ctx, "Field %s not attached: %v", p.field.FieldName, err)
			continue
		}
		fr.Succeeded = true
		logger.With(logger.Fields{
			logger.FieldTier: fr.TierAttempted.String(),
		}).Info(ctx, "Field %s attached", p.field.FieldName)
	}

	ok := 0
	for _, f := range result.Fields {
		if f.Succeeded {
			ok++
		}
	}
	logger.With(nil).
		WithCount(int64(ok)).
		WithDuration(time.Since(start).Milliseconds()).
		Info(ctx, "Upload finished: %d/%d fields attached", ok, len(result.Fields))
	return result, nil
}

// attach returns the highest tier it reached.
func (c *Coordinator) attach(ctx context.Context, s Session, field, path string) (domain.UploadTier, error) {
	err := s.TriggerUpload(ctx, field)
	if err == nil {
		return domain.TierFresh, s.SupplyFile(ctx, path)
	}
	if !errors.Is(err, ErrDialogNotShown) {
		return domain.TierFresh, err
	}
	logger.CtxDebug(ctx, "No dialog on fresh upload of %s, trying replace", field)

	err = s.TriggerReplace(ctx, field)
	if err == nil {
		return domain.TierReplace, s.SupplyFile(ctx, path)
	}
	if !errors.Is(err, ErrDialogNotShown) {
		return domain.TierReplace, err
	}
	logger.CtxDebug(ctx, "No dialog on replace of %s, deleting existing file", field)

	if err := s.DeleteExisting(ctx, field); err != nil {
		return domain.TierDeleteThenUpload, fmt.Errorf("delete existing attachment: %w", err)
	}
	empty, err := s.IsEmpty(ctx, field)
	if err != nil {
		return domain.TierDeleteThenUpload, err
	}
	if !empty {
		return domain.TierDeleteThenUpload, ErrFieldNotEmpty
	}
	// one retry of the fresh upload
	if err := s.TriggerUpload(ctx, field); err != nil {
		return domain.TierDeleteThenUpload, err
	}
	return domain.TierDeleteThenUpload, s.SupplyFile(ctx, path)
}
