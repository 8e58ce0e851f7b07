// Package client talks to the scrape service: it submits jobs and follows
// their progress streams.
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
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/vision2struct/internal/scrape"
)

// DefaultBaseURL is used when no server address is configured.
const DefaultBaseURL = "http://localhost:5000"

const maxErrorBody = 4 << 10

// JobRequest is the submission body. Limit is sent exactly as entered.
type JobRequest struct {
	Keyword string `json:"keyword"`
	Limit   string `json:"limit"`
}

// Client is an HTTP client for the scrape service.
type Client struct {
	baseURL    *url.URL
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithAPIKey sends key as X-API-Key on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the default client. It must not set a Timeout,
// since progress streams stay open for the whole job.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a client for baseURL, or DefaultBaseURL when empty.
func New(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must be http or https", baseURL)
	}
	c := &Client{baseURL: u, httpClient: &http.Client{}, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the server address in use.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

func (c *Client) endpoint(segments ...string) string {
	return c.baseURL.JoinPath(segments...).String()
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	return req, nil
}

// Submit posts the job and returns its handle.
func (c *Client) Submit(ctx context.Context, jr JobRequest) (scrape.JobHandle, error) {
	body, err := json.Marshal(jr)
	if err != nil {
		return scrape.JobHandle{}, &TransportError{Kind: KindSubmit, Err: fmt.Errorf("marshal request: %w", err)}
	}
	req, err := c.newRequest(ctx, http.MethodPost, c.endpoint("scrape"), bytes.NewReader(body))
	if err != nil {
		return scrape.JobHandle{}, &TransportError{Kind: KindSubmit, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	var handle scrape.JobHandle
	if err := c.doJSON(req, KindSubmit, &handle); err != nil {
		return scrape.JobHandle{}, err
	}
	if handle.JobID == "" {
		return scrape.JobHandle{}, &TransportError{Kind: KindSubmit, Err: errors.New("response carried no job_id")}
	}
	c.logger.Debug("job submitted", zap.String("job_id", handle.JobID))
	return handle, nil
}

// Job fetches the job's current state.
func (c *Client) Job(ctx context.Context, jobID string) (scrape.Job, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.endpoint("jobs", jobID), nil)
	if err != nil {
		return scrape.Job{}, &TransportError{Kind: KindQuery, Err: err}
	}
	var out struct {
		Job scrape.Job `json:"job"`
	}
	if err := c.doJSON(req, KindQuery, &out); err != nil {
		return scrape.Job{}, err
	}
	return out.Job, nil
}

// Cancel asks the server to stop the job.
func (c *Client) Cancel(ctx context.Context, jobID string) (scrape.JobHandle, error) {
	req, err := c.newRequest(ctx, http.MethodPost, c.endpoint("jobs", jobID, "cancel"), nil)
	if err != nil {
		return scrape.JobHandle{}, &TransportError{Kind: KindQuery, Err: err}
	}
	var handle scrape.JobHandle
	if err := c.doJSON(req, KindQuery, &handle); err != nil {
		return scrape.JobHandle{}, err
	}
	return handle, nil
}

func (c *Client) doJSON(req *http.Request, kind Kind, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Kind: kind, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(kind, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{Kind: kind, StatusCode: 0, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func statusError(kind Kind, resp *http.Response) *TransportError {
	te := &TransportError{Kind: kind, StatusCode: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		te.Message = payload.Message
	}
	return te
}

// Subscription is an open progress stream.
type Subscription struct {
	events chan scrape.ProgressEvent
	cancel context.CancelFunc
	body   io.Closer

	mu     sync.Mutex
	err    error
	closed bool
	once   sync.Once
}

// Subscribe opens the job's progress stream. Events are delivered in order
// until the server closes the stream, the stream breaks, ctx ends, or
// Close is called.
func (c *Client) Subscribe(ctx context.Context, handle scrape.JobHandle) (*Subscription, error) {
	if handle.JobID == "" {
		return nil, &TransportError{Kind: KindStream, Err: errors.New("job handle has no id")}
	}
	streamCtx, cancel := context.WithCancel(ctx)
	req, err := c.newRequest(streamCtx, http.MethodGet, c.endpoint("progress", handle.JobID), nil)
	if err != nil {
		cancel()
		return nil, &TransportError{Kind: KindStream, Err: err}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, &TransportError{Kind: KindStream, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close() //nolint:errcheck // read-only body
		cancel()
		return nil, statusError(KindStream, resp)
	}

	sub := &Subscription{
		events: make(chan scrape.ProgressEvent),
		cancel: cancel,
		body:   resp.Body,
	}
	go sub.read(streamCtx, NewSSEReader(resp.Body), c.logger.With(zap.String("job_id", handle.JobID)))
	return sub, nil
}

// Events yields decoded progress events and is closed when the stream ends.
func (s *Subscription) Events() <-chan scrape.ProgressEvent {
	return s.events
}

// Err reports why the stream ended: nil on a clean close by the server or
// Close, a *TransportError of kind KindStream otherwise. It is only
// meaningful after Events is closed.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the stream. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.cancel()
		_ = s.body.Close()
	})
}

func (s *Subscription) read(ctx context.Context, reader *SSEReader, logger *zap.Logger) {
	defer close(s.events)
	defer s.body.Close() //nolint:errcheck // read-only body
	for {
		msg, err := reader.Next()
		if err != nil {
			s.finish(err)
			return
		}
		if msg.Event == "heartbeat" {
			continue
		}
		var evt scrape.ProgressEvent
		if err := json.Unmarshal([]byte(msg.Data), &evt); err != nil {
			logger.Warn("skipping malformed progress event", zap.String("data", msg.Data), zap.Error(err))
			continue
		}
		select {
		case s.events <- evt:
		case <-ctx.Done():
			s.finish(ctx.Err())
			return
		}
	}
}

func (s *Subscription) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || errors.Is(err, io.EOF) {
		return
	}
	s.err = &TransportError{Kind: KindStream, Err: err}
}
