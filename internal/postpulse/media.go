package postpulse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

var (
	// ErrImportFailed is returned when the API reports a failed media import.
	ErrImportFailed = errors.New("media import failed")
	// ErrImportTimeout is returned when an import is still pending after
	// the last poll attempt.
	ErrImportTimeout = errors.New("media import timed out")
)

// Import states reported by the API.
const (
	ImportStateCompleted = "COMPLETED"
	ImportStateFailed    = "FAILED"
)

// ImportStatus is the state of a media import job.
type ImportStatus struct {
	ID    string          `json:"-"`
	State string          `json:"state"`
	Key   string          `json:"key,omitempty"`
	Path  string          `json:"path,omitempty"`
	Raw   json.RawMessage `json:"-"`
}

// MediaPath returns the reference to use in SchedulePost.
func (s *ImportStatus) MediaPath() string {
	switch {
	case s.Key != "":
		return s.Key
	case s.Path != "":
		return s.Path
	default:
		return s.ID
	}
}

// idString decodes an id that the API may send as a number or a string.
func idString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// ImportMedia starts importing the file at mediaURL and returns the job id.
func (c *Client) ImportMedia(ctx context.Context, mediaURL string) (string, error) {
	var out struct {
		ID json.RawMessage `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/media/upload/import", map[string]string{"url": mediaURL}, &out); err != nil {
		return "", err
	}
	id := idString(out.ID)
	if id == "" || id == "null" {
		return "", errors.New("postpulse: import response without id")
	}
	return id, nil
}

// ImportStatus fetches the state of an import job.
func (c *Client) ImportStatus(ctx context.Context, importID string) (*ImportStatus, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/v1/media/upload/import/"+url.PathEscape(importID), nil, &raw); err != nil {
		return nil, err
	}

	var doc struct {
		ImportStatus
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode import status: %w", err)
	}
	status := doc.ImportStatus
	status.ID = idString(doc.ID)
	if status.ID == "" || status.ID == "null" {
		status.ID = importID
	}
	status.Raw = raw
	return &status, nil
}

// UploadMedia imports mediaURL and waits for the import to finish. It
// returns the media path for SchedulePost.
func (c *Client) UploadMedia(ctx context.Context, mediaURL string, p *Poller) (string, error) {
	id, err := c.ImportMedia(ctx, mediaURL)
	if err != nil {
		return "", err
	}
	c.log.Debug("Media import %s started for %s", id, mediaURL)

	if p == nil {
		p = &Poller{}
	}
	status, err := p.Wait(ctx, func(ctx context.Context) (*ImportStatus, error) {
		return c.ImportStatus(ctx, id)
	})
	if err != nil {
		return "", err
	}
	return status.MediaPath(), nil
}

// Default poll settings.
const (
	DefaultPollInterval    = 2 * time.Second
	DefaultPollMaxAttempts = 20
)
