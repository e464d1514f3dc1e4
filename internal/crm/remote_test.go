package crm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/enrollflow/internal/domain"
)

// fakeSidecar mimics the browser-automation sidecar. The "approval" field is
// occupied, so fresh uploads never show a dialog but replace does.
type fakeSidecar struct {
	mu       sync.Mutex
	requests []string
	files    map[string]string
	waits    []int64
}

func (f *fakeSidecar) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)

	if r.Header.Get("Authorization") != "Bearer secret" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/sessions":
		var body openRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.RecordID == "missing" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":"record not found"}`)
			return
		}
		_, _ = io.WriteString(w, `{"session_id":"s1"}`)

	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/upload"):
		var body actionRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.waits = append(f.waits, body.WaitMs)
		dialog := !strings.Contains(r.URL.Path, "/approval/")
		_ = json.NewEncoder(w).Encode(actionResponse{Dialog: dialog})

	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/replace"):
		_ = json.NewEncoder(w).Encode(actionResponse{Dialog: true})

	case r.Method == http.MethodPost && r.URL.Path == "/sessions/s1/dialog/file":
		file, header, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"no file"}`)
			return
		}
		data, _ := io.ReadAll(file)
		f.files[header.Filename] = string(data)
		_, _ = io.WriteString(w, `{}`)

	case r.Method == http.MethodDelete && r.URL.Path == "/sessions/s1":
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `{"error":"dialog_not_shown"}`)
	}
}

func TestRemoteDriver_WithCoordinator(t *testing.T) {
	sidecar := &fakeSidecar{files: map[string]string{}}
	srv := httptest.NewServer(sidecar)
	defer srv.Close()

	dir := t.TempDir()
	approval := filepath.Join(dir, "aprovacao-12345678901.pdf")
	slip := filepath.Join(dir, "boleto-12345678901.pdf")
	require.NoError(t, os.WriteFile(approval, []byte("%PDF-1.4 A"), 0o644))
	require.NoError(t, os.WriteFile(slip, []byte("%PDF-1.4 B"), 0o644))

	driver := NewRemoteDriver(&RemoteConfig{
		BaseURL:    srv.URL + "/",
		APIKey:     "secret",
		Timeout:    5 * time.Second,
		DialogWait: 2 * time.Second,
	})
	c := NewCoordinator(driver, dir, nil)

	res, err := c.Upload(context.Background(), domain.UploadTask{
		RecordID:   "lead-7",
		NationalID: "12345678901",
		Fields: []domain.FieldUpload{
			{FieldName: "approval", LocalPath: approval},
			{FieldName: "slip", LocalPath: slip},
		},
	})
	require.NoError(t, err)
	assert.True(t, res.Complete())
	assert.Equal(t, domain.TierReplace, res.Fields[0].TierAttempted)
	assert.Equal(t, domain.TierFresh, res.Fields[1].TierAttempted)

	sidecar.mu.Lock()
	defer sidecar.mu.Unlock()
	assert.Equal(t, "%PDF-1.4 A", sidecar.files["aprovacao-12345678901.pdf"])
	assert.Equal(t, "%PDF-1.4 B", sidecar.files["boleto-12345678901.pdf"])
	assert.Contains(t, sidecar.waits, int64(2000))
	assert.Equal(t, "DELETE /sessions/s1", sidecar.requests[len(sidecar.requests)-1])
}

func TestRemoteDriver_Errors(t *testing.T) {
	sidecar := &fakeSidecar{files: map[string]string{}}
	srv := httptest.NewServer(sidecar)
	defer srv.Close()

	driver := NewRemoteDriver(&RemoteConfig{BaseURL: srv.URL, APIKey: "secret"})
	_, err := driver.Open(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRecordNotFound)

	session, err := driver.Open(context.Background(), "lead-1")
	require.NoError(t, err)

	// unknown route answers 409 dialog_not_shown
	err = session.DeleteExisting(context.Background(), "approval")
	assert.ErrorIs(t, err, ErrDialogNotShown)

	unauth := NewRemoteDriver(&RemoteConfig{BaseURL: srv.URL})
	_, err = unauth.Open(context.Background(), "lead-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 401")
}
