// Package crm attaches enrollment artifacts to CRM records through a
// UI-automation driver. The CRM exposes no typed upload API; every action is
// a simulated interaction on the record page.
package crm

import (
	"context"
	"errors"
)

var (
	// ErrDialogNotShown means the file-selection dialog did not open within the wait.
	ErrDialogNotShown = errors.New("file dialog did not appear")

	// ErrFieldNotEmpty means a delete was confirmed but the field still holds a file.
	ErrFieldNotEmpty = errors.New("field still holds an attachment after delete")

	// ErrRecordNotFound means the driver could not open the CRM record.
	ErrRecordNotFound = errors.New("crm record not found")
)

// Driver opens interactive sessions on CRM records.
type Driver interface {
	Open(ctx context.Context, recordID string) (Session, error)
}

// Session is one open record page. Methods act on a named attachment field.
type Session interface {
	// TriggerUpload clicks the field's upload control and waits for a file
	// dialog. It returns ErrDialogNotShown when none appears.
	TriggerUpload(ctx context.Context, field string) error

	// TriggerReplace opens the existing attachment's context menu and
	// invokes replace. It returns ErrDialogNotShown when no dialog appears.
	TriggerReplace(ctx context.Context, field string) error

	// DeleteExisting opens the attachment's context menu, invokes delete and
	// confirms when a confirmation control is shown.
	DeleteExisting(ctx context.Context, field string) error

	// IsEmpty reports whether the field currently holds no attachment.
	IsEmpty(ctx context.Context, field string) (bool, error)

	// SupplyFile hands a local file to the open dialog and waits for the
	// attachment to settle.
	SupplyFile(ctx context.Context, localPath string) error

	Close(ctx context.Context) error
}
