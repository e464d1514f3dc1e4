package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields, propagated through the call chain via context.
const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldLogID is the execution log row ID
	FieldLogID = "log_id"

	// FieldCorrelationID is the opaque per-run ID handed to the worker
	FieldCorrelationID = "correlation_id"

	// FieldCategory is the enrollment category
	FieldCategory = "category"

	// FieldComponent is the component/module name
	FieldComponent = "component"

	// FieldStage is the error stage of a failed run
	FieldStage = "stage"

	// FieldCRMRecord is the CRM record receiving artifacts
	FieldCRMRecord = "crm_record"
)

// Metric fields, attached per entry for aggregation and alerting.
const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field
	FieldCount = "count"

	// FieldSize is the data size in bytes
	FieldSize = "size"

	// FieldStatus is the operation status
	FieldStatus = "status"

	// FieldExitCode is the worker process exit code
	FieldExitCode = "exit_code"

	// FieldTier is the upload tier that was attempted
	FieldTier = "tier"
)
