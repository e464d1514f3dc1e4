package domain

// UploadTier is one escalating strategy for attaching a file to a CRM field.
type UploadTier int

const (
	TierNone UploadTier = iota
	TierFresh
	TierReplace
	TierDeleteThenUpload
)

func (t UploadTier) String() string {
	switch t {
	case TierFresh:
		return "fresh"
	case TierReplace:
		return "replace"
	case TierDeleteThenUpload:
		return "delete_then_upload"
	default:
		return "none"
	}
}

// MarshalText renders the tier by name in JSON.
func (t UploadTier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// FieldUpload pairs a CRM field with the local file destined for it.
type FieldUpload struct {
	FieldName string `json:"field_name"`
	LocalPath string `json:"local_path"`
}

// UploadTask describes one attachment run against a CRM record.
type UploadTask struct {
	RecordID   string        `json:"record_id"`
	NationalID string        `json:"national_id"`
	Fields     []FieldUpload `json:"fields"`
}

// FieldResult is the per-field attempt state after the coordinator finishes.
type FieldResult struct {
	FieldName     string     `json:"field_name"`
	LocalPath     string     `json:"local_path"`
	TierAttempted UploadTier `json:"tier_attempted"`
	Succeeded     bool       `json:"succeeded"`
	Error         string     `json:"error,omitempty"`
}

// UploadResult is the aggregate of one UploadTask.
type UploadResult struct {
	RecordID string        `json:"record_id"`
	Fields   []FieldResult `json:"fields"`
}

// Complete reports whether every field succeeded.
func (r *UploadResult) Complete() bool {
	for _, f := range r.Fields {
		if !f.Succeeded {
			return false
		}
	}
	return len(r.Fields) > 0
}

// Partial reports whether some but not all fields succeeded.
func (r *UploadResult) Partial() bool {
	ok := 0
	for _, f := range r.Fields {
		if f.Succeeded {
			ok++
		}
	}
	return ok > 0 && ok < len(r.Fields)
}
