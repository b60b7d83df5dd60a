// Package apiclient is the HTTP and websocket client for the daemon API used
// by the lectern CLI.
package apiclient

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

	"lectern/internal/api"
	"lectern/internal/config"
	"lectern/internal/queue"
	"lectern/internal/services"
	"lectern/internal/stage"
	"lectern/internal/workflow"
)

// Client provides access to the daemon API.
type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// New returns a client for the API at base, either "host:port" or a full
// http URL.
func New(base string, opts ...Option) (*Client, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return nil, errors.New("api address is required")
	}
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse api address: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported api scheme %q", parsed.Scheme)
	}
	parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	c := &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FromConfig returns a client for the configured bind address and token.
func FromConfig(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	return New(cfg.Paths.APIBind, append([]Option{WithToken(cfg.Paths.APIToken)}, opts...)...)
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Error is a non-2xx API response. It matches services.ErrNotFound and
// services.ErrValidation through errors.Is for 404 and 400 responses.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api returned %d", e.Status)
	}
	return e.Message
}

// Is reports whether target is the marker matching the response status.
func (e *Error) Is(target error) bool {
	switch e.Status {
	case http.StatusNotFound:
		return target == services.ErrNotFound
	case http.StatusBadRequest:
		return target == services.ErrValidation
	}
	return false
}

// Status fetches daemon status.
func (c *Client) Status(ctx context.Context) (*api.DaemonStatus, error) {
	return call[api.DaemonStatus](ctx, c, http.MethodGet, "/api/status", nil)
}

// Courses lists every course with its summary.
func (c *Client) Courses(ctx context.Context) ([]api.Course, error) {
	var out api.CourseListResponse
	if err := c.do(ctx, http.MethodGet, "/api/courses", nil, &out); err != nil {
		return nil, err
	}
	return out.Courses, nil
}

// Course returns a course with its lectures.
func (c *Client) Course(ctx context.Context, id int64) (*api.Course, error) {
	return call[api.Course](ctx, c, http.MethodGet, "/api/courses/"+itoa(id), nil)
}

// CreateCourse registers a course.
func (c *Client) CreateCourse(ctx context.Context, req api.CreateCourseRequest) (*api.Course, error) {
	return call[api.Course](ctx, c, http.MethodPost, "/api/courses", req)
}

// RenameCourse changes a course title.
func (c *Client) RenameCourse(ctx context.Context, id int64, req api.UpdateCourseRequest) (*api.Course, error) {
	return call[api.Course](ctx, c, http.MethodPatch, "/api/courses/"+itoa(id), req)
}

// DeleteCourse removes a course with all of its lectures.
func (c *Client) DeleteCourse(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, "/api/courses/"+itoa(id), nil, nil)
}

// AddLecture registers a lecture under courseID.
func (c *Client) AddLecture(ctx context.Context, courseID int64, req api.AddLectureRequest) (*api.Lecture, error) {
	return call[api.Lecture](ctx, c, http.MethodPost, "/api/courses/"+itoa(courseID)+"/lectures", req)
}

// Lecture returns a lecture snapshot.
func (c *Client) Lecture(ctx context.Context, id int64) (*api.Lecture, error) {
	return call[api.Lecture](ctx, c, http.MethodGet, "/api/lectures/"+itoa(id), nil)
}

// DeleteLecture removes a lecture and its artifacts.
func (c *Client) DeleteLecture(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, "/api/lectures/"+itoa(id), nil, nil)
}

// Transcript fetches the stored transcript.
func (c *Client) Transcript(ctx context.Context, id int64) (*queue.Transcript, error) {
	return call[queue.Transcript](ctx, c, http.MethodGet, "/api/lectures/"+itoa(id)+"/transcript", nil)
}

// Notes fetches the stored notes.
func (c *Client) Notes(ctx context.Context, id int64) (*queue.Notes, error) {
	return call[queue.Notes](ctx, c, http.MethodGet, "/api/lectures/"+itoa(id)+"/notes", nil)
}

// Frames fetches the stored frame list.
func (c *Client) Frames(ctx context.Context, id int64) (*queue.Frames, error) {
	return call[queue.Frames](ctx, c, http.MethodGet, "/api/lectures/"+itoa(id)+"/frames", nil)
}

// Pipeline submits a pipeline request.
func (c *Client) Pipeline(ctx context.Context, req workflow.PipelineRequest) (*api.PipelineResponse, error) {
	return call[api.PipelineResponse](ctx, c, http.MethodPost, "/api/pipeline", req)
}

// Bulk runs one stage for a set of lectures.
func (c *Client) Bulk(ctx context.Context, name stage.Name, req api.BulkRequest) (*api.PipelineResponse, error) {
	return call[api.PipelineResponse](ctx, c, http.MethodPost, "/api/bulk/"+url.PathEscape(string(name)), req)
}

// Retry re-runs an errored stage.
func (c *Client) Retry(ctx context.Context, lectureID int64, name stage.Name) (*api.PipelineResponse, error) {
	return call[api.PipelineResponse](ctx, c, http.MethodPost, "/api/lectures/"+itoa(lectureID)+"/retry", api.RetryRequest{Stage: string(name)})
}

// Queue lists lectures with queued or active stages.
func (c *Client) Queue(ctx context.Context) ([]api.Lecture, error) {
	var out api.LectureListResponse
	if err := c.do(ctx, http.MethodGet, "/api/queue", nil, &out); err != nil {
		return nil, err
	}
	return out.Lectures, nil
}

// Summary fetches global and per-course progress.
func (c *Client) Summary(ctx context.Context, recompute bool) (*api.SummaryReport, error) {
	path := "/api/summary"
	if recompute {
		path += "?recompute=1"
	}
	return call[api.SummaryReport](ctx, c, http.MethodGet, path, nil)
}

// Storage fetches disk usage.
func (c *Client) Storage(ctx context.Context) (*api.StorageStats, error) {
	return call[api.StorageStats](ctx, c, http.MethodGet, "/api/storage", nil)
}

// LogQuery selects daemon log lines. Offset -1 asks for the last Limit
// lines; Wait long-polls for new lines after Offset.
type LogQuery struct {
	Offset int64
	Limit  int
	Wait   time.Duration
}

// Logs reads the daemon log.
func (c *Client) Logs(ctx context.Context, q LogQuery) (*api.LogsResponse, error) {
	values := url.Values{}
	values.Set("offset", strconv.FormatInt(q.Offset, 10))
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Wait > 0 {
		values.Set("wait", q.Wait.String())
	}
	return call[api.LogsResponse](ctx, c, http.MethodGet, "/api/logs?"+values.Encode(), nil)
}

func call[T any](ctx context.Context, c *Client, method, path string, body any) (*T, error) {
	var out T
	if err := c.do(ctx, method, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connect to daemon at %s: %w", c.baseURL.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr api.ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &apiErr) != nil || apiErr.Error == "" {
			apiErr.Error = strings.TrimSpace(string(data))
		}
		return &Error{Status: resp.StatusCode, Message: apiErr.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) authorize(header http.Header) {
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
