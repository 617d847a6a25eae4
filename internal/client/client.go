package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"traceapi/internal/api"
)

// APIError is a non-2xx response from the daemon.
type APIError struct {
	StatusCode int
	Message    string
	State      string
	Progress   *int
}

func (e *APIError) Error() string {
	if e.State != "" {
		return fmt.Sprintf("%s (HTTP %d, state %s)", e.Message, e.StatusCode, e.State)
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.StatusCode)
}

// IsNotFound reports whether err is a 404 from the daemon.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client provides HTTP access to the daemon.
type Client struct {
	base *url.URL
	http *http.Client
}

// New returns a client for the daemon listening on bind (host:port or URL).
func New(bind string) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, errors.New("daemon address is empty")
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, fmt.Errorf("parse daemon address: %w", err)
	}
	return &Client{base: base, http: &http.Client{Timeout: 30 * time.Second}}, nil
}

// Status retrieves the daemon status.
func (c *Client) Status(ctx context.Context) (*api.DaemonStatus, error) {
	var out api.DaemonStatus
	if err := c.call(ctx, http.MethodGet, "/api/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FindMixes runs a mix query.
func (c *Client) FindMixes(ctx context.Context, req api.MixFindRequest) ([]api.Mix, error) {
	var out api.ListResponse[api.Mix]
	if err := c.call(ctx, http.MethodPost, "/mix/find", req, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// Mix returns one mix.
func (c *Client) Mix(ctx context.Context, id int64) (*api.Mix, error) {
	var out api.Mix
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/mix/%d/detail", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateMix creates a mix.
func (c *Client) CreateMix(ctx context.Context, req api.MixCreateRequest) (*api.Mix, error) {
	var out api.Mix
	if err := c.call(ctx, http.MethodPost, "/mix/create", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteMix removes a mix.
func (c *Client) DeleteMix(ctx context.Context, id int64) error {
	return c.call(ctx, http.MethodDelete, fmt.Sprintf("/mix/%d/delete", id), nil, nil)
}

// Generate triggers generation of a mix.
func (c *Client) Generate(ctx context.Context, id int64) (*api.Generation, error) {
	var out api.Generation
	if err := c.call(ctx, http.MethodPost, fmt.Sprintf("/mix/%d/generate", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GenerationStatus polls the current generation of a mix.
func (c *Client) GenerationStatus(ctx context.Context, id int64) (*api.Generation, error) {
	var out api.Generation
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/mix/%d/generate/status", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DownloadMix copies the generated capture of a mix into w.
func (c *Client) DownloadMix(ctx context.Context, id int64, w io.Writer) (int64, error) {
	return c.download(ctx, fmt.Sprintf("/mix/%d/download", id), w)
}

// AnnotatedUnits lists annotated units, newest first.
func (c *Client) AnnotatedUnits(ctx context.Context, page, limit int) ([]api.AnnotatedUnit, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("limit", strconv.Itoa(limit))
	var out api.ListResponse[api.AnnotatedUnit]
	if err := c.call(ctx, http.MethodGet, "/annotated_unit/find?"+query.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// AnnotatedUnit returns one annotated unit.
func (c *Client) AnnotatedUnit(ctx context.Context, id int64) (*api.AnnotatedUnit, error) {
	var out api.AnnotatedUnit
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/annotated_unit/%d/detail", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteAnnotatedUnit removes an unreferenced annotated unit.
func (c *Client) DeleteAnnotatedUnit(ctx context.Context, id int64) error {
	return c.call(ctx, http.MethodDelete, fmt.Sprintf("/annotated_unit/%d/delete", id), nil, nil)
}

// DownloadAnnotatedUnit copies the normalized capture of an annotated unit into w.
func (c *Client) DownloadAnnotatedUnit(ctx context.Context, id int64, w io.Writer) (int64, error) {
	return c.download(ctx, fmt.Sprintf("/annotated_unit/%d/download", id), w)
}

// UploadUnit streams a capture to the daemon.
func (c *Client) UploadUnit(ctx context.Context, body io.Reader, format, annotation string) (*api.Unit, error) {
	query := url.Values{}
	query.Set("format", format)
	if annotation != "" {
		query.Set("annotation", annotation)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/unit/upload?"+query.Encode(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	var out api.Unit
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AnnotateUnit creates an annotated unit from an uploaded unit.
func (c *Client) AnnotateUnit(ctx context.Context, req api.AnnotatedUnitCreateRequest) (*api.AnnotatedUnit, error) {
	var out api.AnnotatedUnit
	if err := c.call(ctx, http.MethodPost, "/annotated_unit/create", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) call(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("build url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.ResolveReference(ref).String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set(api.RequestIDHeader, uuid.NewString())
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) download(ctx context.Context, path string, w io.Writer) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, err
	}
	// Large captures outlive the default request timeout.
	streaming := *c.http
	streaming.Timeout = 0
	resp, err := streaming.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, decodeError(resp)
	}
	return io.Copy(w, resp.Body)
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var body api.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.State = body.State
		apiErr.Progress = body.Progress
	}
	return apiErr
}
