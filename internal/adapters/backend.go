package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/babblebear/internal/babble"
	"github.com/ZanzyTHEbar/babblebear/internal/config"
	apperrors "github.com/ZanzyTHEbar/babblebear/internal/errors"
	"github.com/ZanzyTHEbar/babblebear/internal/resilience"
)

// ServiceName identifies the analysis backend in breakers, health and logs.
const ServiceName = "babble-backend"

const maxErrorBody = 512

// CallObserver is notified once per backend round trip.
type CallObserver interface {
	ObserveBackendCall(method, endpoint string, statusCode int, duration time.Duration, success bool)
}

// Options wires shared infrastructure into the client. Zero values get private defaults.
type Options struct {
	Breakers *resilience.CircuitBreakerRegistry
	Health   *resilience.HealthRegistry
	Pool     *resilience.ConnectionPool
	Retry    *resilience.RetryPolicy
	Observer CallObserver
}

// BackendClient talks to the analysis backend REST API.
type BackendClient struct {
	baseURL  *url.URL
	token    string
	timeout  time.Duration
	pool     *resilience.ConnectionPool
	breaker  *resilience.CircuitBreaker
	health   *resilience.HealthRegistry
	retry    resilience.RetryConfig
	observer CallObserver
}

// NewBackendClient creates a client for cfg.BaseURL authenticating with token.
func NewBackendClient(cfg config.BackendConfig, token string, opts Options) (*BackendClient, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing backend url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("backend url %q must be absolute", cfg.BaseURL)
	}
	if strings.TrimSpace(token) == "" {
		return nil, config.ErrNoToken
	}

	breakers := opts.Breakers
	if breakers == nil {
		breakers = resilience.NewCircuitBreakerRegistry()
	}
	pool := opts.Pool
	if pool == nil {
		pool = resilience.NewConnectionPool(resilience.PoolConfig{Timeout: cfg.Timeout})
	}
	policy := resilience.StandardRetryPolicy
	if opts.Retry != nil {
		policy = *opts.Retry
	}
	if cfg.RetryAttempts > 0 {
		policy = policy.WithAttempts(cfg.RetryAttempts)
	}

	if opts.Health != nil {
		if _, registered := opts.Health.ServiceHealth(ServiceName); !registered {
			opts.Health.Register(ServiceName, nil)
		}
	}

	return &BackendClient{
		baseURL: base,
		token:   strings.TrimSpace(token),
		timeout: cfg.Timeout,
		pool:    pool,
		breaker: breakers.GetOrCreate(ServiceName, resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.FailureThreshold,
			RecoveryTimeout:  cfg.RecoveryTimeout,
			SuccessThreshold: cfg.SuccessThreshold,
		}),
		health:   opts.Health,
		retry:    policy.Config,
		observer: opts.Observer,
	}, nil
}

// StatusError is a non-2xx backend response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
	RetryAfter string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: backend returned %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: backend returned %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// HTTPStatusCode lets the retry predicate judge the status.
func (e *StatusError) HTTPStatusCode() int {
	return e.StatusCode
}

type decodeError struct {
	path string
	err  error
}

func (e *decodeError) Error() string { return fmt.Sprintf("decoding %s response: %v", e.path, e.err) }
func (e *decodeError) Unwrap() error { return e.err }

// call describes one logical backend operation.
type call struct {
	method     string
	path       string
	resource   string
	id         string
	payload    any
	idempotent bool
}

// ListChildren returns every child profile of the account.
func (c *BackendClient) ListChildren(ctx context.Context) ([]babble.Child, error) {
	var children []babble.Child
	err := c.do(ctx, call{method: http.MethodGet, path: "/children", resource: "children", idempotent: true}, &children)
	return children, err
}

// GetChild returns one child profile.
func (c *BackendClient) GetChild(ctx context.Context, childID string) (*babble.Child, error) {
	var child babble.Child
	err := c.do(ctx, call{
		method:     http.MethodGet,
		path:       "/children/" + url.PathEscape(childID),
		resource:   "child",
		id:         childID,
		idempotent: true,
	}, &child)
	if err != nil {
		return nil, err
	}
	return &child, nil
}

// CreateChild creates a child profile.
func (c *BackendClient) CreateChild(ctx context.Context, in babble.ChildInput) (*babble.Child, error) {
	var child babble.Child
	if err := c.do(ctx, call{method: http.MethodPost, path: "/children", resource: "children", payload: in}, &child); err != nil {
		return nil, err
	}
	return &child, nil
}

// UpdateChild replaces the writable fields of a child profile.
func (c *BackendClient) UpdateChild(ctx context.Context, childID string, in babble.ChildInput) (*babble.Child, error) {
	var child babble.Child
	err := c.do(ctx, call{
		method:   http.MethodPut,
		path:     "/children/" + url.PathEscape(childID),
		resource: "child",
		id:       childID,
		payload:  in,
	}, &child)
	if err != nil {
		return nil, err
	}
	return &child, nil
}

// ListRecordings returns all recordings of the account.
func (c *BackendClient) ListRecordings(ctx context.Context) ([]babble.Recording, error) {
	var recordings []babble.Recording
	err := c.do(ctx, call{method: http.MethodGet, path: "/recordings", resource: "recordings", idempotent: true}, &recordings)
	return recordings, err
}

// ListChildRecordings returns the recordings of one child.
func (c *BackendClient) ListChildRecordings(ctx context.Context, childID string) ([]babble.Recording, error) {
	var recordings []babble.Recording
	err := c.do(ctx, call{
		method:     http.MethodGet,
		path:       "/children/" + url.PathEscape(childID) + "/recordings",
		resource:   "child",
		id:         childID,
		idempotent: true,
	}, &recordings)
	return recordings, err
}

// NewRecording is the body of CreateRecording.
type NewRecording struct {
	ChildID     string `json:"child_id"`
	SessionName string `json:"session_name"`
	Notes       string `json:"notes,omitempty"`
}

// CreateRecording opens a recording session that audio can be uploaded to.
func (c *BackendClient) CreateRecording(ctx context.Context, in NewRecording) (*babble.Recording, error) {
	var recording babble.Recording
	if err := c.do(ctx, call{method: http.MethodPost, path: "/recordings", resource: "child", id: in.ChildID, payload: in}, &recording); err != nil {
		return nil, err
	}
	return &recording, nil
}

// UploadRecording streams audio as the multipart field "file". It is never
// retried because the reader can only be consumed once.
func (c *BackendClient) UploadRecording(ctx context.Context, recordingID string, audio io.Reader, filename, contentType string) error {
	if filename == "" {
		filename = "recording.wav"
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	path := "/recordings/" + url.PathEscape(recordingID) + "/upload"
	attempt := func() error {
		pr, pw := io.Pipe()
		defer pr.Close()
		mw := multipart.NewWriter(pw)

		go func() {
			header := make(textproto.MIMEHeader)
			header.Set("Content-Disposition",
				fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(filename)))
			header.Set("Content-Type", contentType)

			part, err := mw.CreatePart(header)
			if err == nil {
				_, err = io.Copy(part, audio)
			}
			if err == nil {
				err = mw.Close()
			}
			pw.CloseWithError(err)
		}()

		return c.roundTrip(ctx, http.MethodPost, path, pr, mw.FormDataContentType(), nil)
	}

	err := c.breaker.Call(attempt, resilience.DefaultRetryable)
	c.recordHealth(err)
	return c.classify(call{method: http.MethodPost, path: path, resource: "recording", id: recordingID}, err)
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// AnalyzeRecording asks the backend to analyze an uploaded recording.
func (c *BackendClient) AnalyzeRecording(ctx context.Context, recordingID string) error {
	return c.do(ctx, call{
		method:   http.MethodPost,
		path:     "/recordings/" + url.PathEscape(recordingID) + "/analyze",
		resource: "recording",
		id:       recordingID,
	}, nil)
}

// ListAssessments returns a child's assessments, newest first.
func (c *BackendClient) ListAssessments(ctx context.Context, childID string) ([]babble.Assessment, error) {
	var assessments []babble.Assessment
	err := c.do(ctx, call{
		method:     http.MethodGet,
		path:       "/children/" + url.PathEscape(childID) + "/autism-assessments",
		resource:   "child",
		id:         childID,
		idempotent: true,
	}, &assessments)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(assessments)
	return assessments, nil
}

// GenerateAssessment asks the backend to assess a child from its analyzed recordings.
func (c *BackendClient) GenerateAssessment(ctx context.Context, childID string) (*babble.Assessment, error) {
	var assessment babble.Assessment
	err := c.do(ctx, call{
		method:   http.MethodPost,
		path:     "/children/" + url.PathEscape(childID) + "/autism-assessment",
		resource: "child",
		id:       childID,
	}, &assessment)
	if err != nil {
		return nil, err
	}
	return &assessment, nil
}

// LatestAssessment returns the newest assessment, or nil when the child has none.
func (c *BackendClient) LatestAssessment(ctx context.Context, childID string) (*babble.Assessment, error) {
	assessments, err := c.ListAssessments(ctx, childID)
	if err != nil {
		return nil, err
	}
	if len(assessments) == 0 {
		return nil, nil
	}
	latest := assessments[0]
	return &latest, nil
}

// Ping checks that the backend answers an authenticated request.
func (c *BackendClient) Ping(ctx context.Context) error {
	return c.roundTrip(ctx, http.MethodGet, "/children", nil, "", nil)
}

// PoolStats exposes the transport counters.
func (c *BackendClient) PoolStats() resilience.PoolStats {
	return c.pool.Stats()
}

// Close releases idle connections.
func (c *BackendClient) Close() error {
	return c.pool.Close()
}

// sortNewestFirst orders by assessment_date when every date parses and
// keeps the backend order otherwise.
func sortNewestFirst(assessments []babble.Assessment) {
	dates := make([]time.Time, len(assessments))
	for i, a := range assessments {
		t, ok := parseBackendTime(a.AssessmentDate)
		if !ok {
			return
		}
		dates[i] = t
	}
	sort.SliceStable(assessments, func(i, j int) bool {
		return dates[i].After(dates[j])
	})
}

// the backend emits RFC3339 with and without a zone suffix
func parseBackendTime(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (c *BackendClient) do(ctx context.Context, op call, out any) error {
	var body []byte
	if op.payload != nil {
		var err error
		if body, err = json.Marshal(op.payload); err != nil {
			return apperrors.NewInternalError("encoding backend request", err)
		}
	}

	attempt := func() error {
		return c.breaker.Call(func() error {
			var reader io.Reader
			contentType := ""
			if body != nil {
				reader = bytes.NewReader(body)
				contentType = "application/json"
			}
			return c.roundTrip(ctx, op.method, op.path, reader, contentType, out)
		}, resilience.DefaultRetryable)
	}

	var err error
	if op.idempotent {
		err = resilience.Retry(ctx, c.retry, attempt)
	} else {
		err = attempt()
	}

	c.recordHealth(err)
	return c.classify(op, err)
}

func (c *BackendClient) roundTrip(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	endpoint := c.baseURL.String() + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("building %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set(RequestIDHeader, RequestIDFromContext(ctx))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.pool.Do(req)
	if err != nil {
		c.observe(method, path, 0, time.Since(start), false)
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	duration := time.Since(start)
	if err != nil {
		c.observe(method, path, resp.StatusCode, duration, false)
		return fmt.Errorf("reading %s %s response: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.observe(method, path, resp.StatusCode, duration, false)
		text := strings.TrimSpace(string(data))
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       text,
			RetryAfter: resp.Header.Get("Retry-After"),
		}
	}

	c.observe(method, path, resp.StatusCode, duration, true)
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &decodeError{path: path, err: err}
	}
	return nil
}

func (c *BackendClient) observe(method, path string, status int, d time.Duration, success bool) {
	if c.observer != nil {
		c.observer.ObserveBackendCall(method, path, status, d, success)
	}
}

// recordHealth counts transport failures and 5xx answers against the
// backend. Rejected calls and 4xx answers say nothing about its health.
func (c *BackendClient) recordHealth(err error) {
	if c.health == nil || errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, context.Canceled) {
		return
	}
	if err != nil && resilience.DefaultRetryable(err) {
		c.health.RecordError(ServiceName, err)
		return
	}
	c.health.RecordSuccess(ServiceName)
}

// classify maps backend failures onto the application error categories.
func (c *BackendClient) classify(op call, err error) error {
	if err == nil {
		return nil
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch code := statusErr.StatusCode; {
		case code == http.StatusNotFound:
			return apperrors.NewNotFoundError(op.resource, op.id)
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return apperrors.NewUpstreamAuthError(ServiceName, statusErr)
		case code == http.StatusTooManyRequests:
			retryAfter := statusErr.RetryAfter
			if retryAfter == "" {
				retryAfter = "60"
			}
			return apperrors.NewRateLimitError(retryAfter)
		case code >= 500:
			return apperrors.NewExternalAPIError(ServiceName, statusErr)
		default:
			return apperrors.NewValidationError("backend rejected the request", statusErr.Body)
		}
	}

	if errors.Is(err, resilience.ErrCircuitOpen) {
		return apperrors.NewNetworkError("analysis backend is temporarily unavailable", err)
	}

	var decodeErr *decodeError
	if errors.As(err, &decodeErr) {
		return apperrors.NewExternalAPIError(ServiceName, decodeErr)
	}

	return apperrors.ToAppError(fmt.Errorf("%s %s: %w", op.method, op.path, err))
}
