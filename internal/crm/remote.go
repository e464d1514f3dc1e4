package crm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/enrollflow/internal/config"
)

// RemoteDriver talks to a browser-automation sidecar that holds the logged-in
// CRM browser. The sidecar performs the clicks; this side decides what to click.
type RemoteDriver struct {
	client     *resty.Client
	dialogWait time.Duration
}

// RemoteConfig holds configuration for RemoteDriver.
type RemoteConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	DialogWait time.Duration
}

// RemoteConfigFrom maps CRM configuration onto RemoteConfig.
func RemoteConfigFrom(cfg *config.CRMConfig) *RemoteConfig {
	return &RemoteConfig{
		BaseURL:    cfg.DriverURL,
		APIKey:     cfg.APIKey,
		Timeout:    cfg.Timeout,
		DialogWait: cfg.DialogWait,
	}
}

// NewRemoteDriver creates a RemoteDriver.
func NewRemoteDriver(cfg *RemoteConfig) *RemoteDriver {
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/"))
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client.SetTimeout(timeout)

	wait := cfg.DialogWait
	if wait <= 0 {
		wait = 8 * time.Second
	}
	return &RemoteDriver{client: client, dialogWait: wait}
}

type openRequest struct {
	RecordID string `json:"record_id"`
}

type openResponse struct {
	SessionID string `json:"session_id"`
}

type actionRequest struct {
	WaitMs int64 `json:"wait_ms"`
}

type actionResponse struct {
	Dialog bool `json:"dialog"`
	Empty  bool `json:"empty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Open starts a session on recordID.
func (d *RemoteDriver) Open(ctx context.Context, recordID string) (Session, error) {
	var resp openResponse
	var apiErr errorResponse
	httpResp, err := d.client.R().
		SetContext(ctx).
		SetBody(openRequest{RecordID: recordID}).
		SetResult(&resp).
		SetError(&apiErr).
		Post("/sessions")
	if err != nil {
		return nil, fmt.Errorf("failed to call crm driver: %w", err)
	}
	if httpResp.StatusCode() == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, recordID)
	}
	if err := statusError("open session", httpResp, apiErr); err != nil {
		return nil, err
	}
	if resp.SessionID == "" {
		return nil, fmt.Errorf("crm driver returned no session id")
	}
	return &remoteSession{driver: d, id: resp.SessionID}, nil
}

type remoteSession struct {
	driver *RemoteDriver
	id     string
}

func (s *remoteSession) fieldPath(field, action string) string {
	p := "/sessions/" + url.PathEscape(s.id) + "/fields/" + url.PathEscape(field)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (s *remoteSession) act(ctx context.Context, field, action string) (*actionResponse, error) {
	var resp actionResponse
	var apiErr errorResponse
	httpResp, err := s.driver.client.R().
		SetContext(ctx).
		SetBody(actionRequest{WaitMs: s.driver.dialogWait.Milliseconds()}).
		SetResult(&resp).
		SetError(&apiErr).
		Post(s.fieldPath(field, action))
	if err != nil {
		return nil, fmt.Errorf("failed to call crm driver: %w", err)
	}
	if err := statusError(action+" "+field, httpResp, apiErr); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (s *remoteSession) TriggerUpload(ctx context.Context, field string) error {
	resp, err := s.act(ctx, field, "upload")
	if err != nil {
		return err
	}
	if !resp.Dialog {
		return ErrDialogNotShown
	}
	return nil
}

func (s *remoteSession) TriggerReplace(ctx context.Context, field string) error {
	resp, err := s.act(ctx, field, "replace")
	if err != nil {
		return err
	}
	if !resp.Dialog {
		return ErrDialogNotShown
	}
	return nil
}

func (s *remoteSession) DeleteExisting(ctx context.Context, field string) error {
	_, err := s.act(ctx, field, "delete")
	return err
}

func (s *remoteSession) IsEmpty(ctx context.Context, field string) (bool, error) {
	var resp actionResponse
	var apiErr errorResponse
	httpResp, err := s.driver.client.R().
		SetContext(ctx).
		SetResult(&resp).
		SetError(&apiErr).
		Get(s.fieldPath(field, ""))
	if err != nil {
		return false, fmt.Errorf("failed to call crm driver: %w", err)
	}
	if err := statusError("inspect "+field, httpResp, apiErr); err != nil {
		return false, err
	}
	return resp.Empty, nil
}

// SupplyFile streams the file to the sidecar, which feeds it to the open dialog.
func (s *remoteSession) SupplyFile(ctx context.Context, localPath string) error {
	var apiErr errorResponse
	httpResp, err := s.driver.client.R().
		SetContext(ctx).
		SetFile("file", localPath).
		SetError(&apiErr).
		Post("/sessions/" + url.PathEscape(s.id) + "/dialog/file")
	if err != nil {
		return fmt.Errorf("failed to supply file: %w", err)
	}
	return statusError("supply file", httpResp, apiErr)
}

func (s *remoteSession) Close(ctx context.Context) error {
	httpResp, err := s.driver.client.R().
		SetContext(ctx).
		Delete("/sessions/" + url.PathEscape(s.id))
	if err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	if httpResp.StatusCode() == http.StatusNotFound {
		return nil
	}
	return statusError("close session", httpResp, errorResponse{})
}

func statusError(op string, resp *resty.Response, apiErr errorResponse) error {
	code := resp.StatusCode()
	if code >= 200 && code < 300 {
		return nil
	}
	if code == http.StatusConflict && apiErr.Error == "dialog_not_shown" {
		return ErrDialogNotShown
	}
	msg := apiErr.Error
	if msg == "" {
		msg = string(resp.Body())
	}
	return fmt.Errorf("crm driver %s returned HTTP %d: %s", op, code, msg)
}
