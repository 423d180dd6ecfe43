package backend

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
	"time"

	"github.com/raysh454/capwatch/internal/logging"
	"github.com/raysh454/capwatch/internal/model"
)

// Client is the net/http implementation of JobAPI.
type Client struct {
	baseURL *url.URL
	token   string
	client  *http.Client
	logger  logging.Logger
}

var _ JobAPI = (*Client)(nil)

// NewClient builds a Client. If httpClient is nil one is created with the
// configured request timeout (30s when unset).
func NewClient(cfg Config, logger logging.Logger, httpClient *http.Client) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("backend base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base URL must be http or https, got %q", base.Scheme)
	}
	if logger == nil {
		logger = logging.Nop{}
	}
	if httpClient == nil {
		timeout := cfg.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	componentLogger := logger.With(logging.Field{Key: "component", Value: "backend-client"})
	componentLogger.Debug("created backend client",
		logging.Field{Key: "base_url", Value: base.String()},
		logging.Field{Key: "timeout", Value: httpClient.Timeout.String()})

	return &Client{
		baseURL: base,
		token:   cfg.APIToken,
		client:  httpClient,
		logger:  componentLogger,
	}, nil
}

func (c *Client) CreateJob(ctx context.Context, req model.CreateJobRequest) (*model.Job, error) {
	var job model.Job
	if err := c.do(ctx, http.MethodPost, "/capability-jobs", req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *Client) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	var job model.Job
	if err := c.do(ctx, http.MethodGet, "/capability-jobs/"+url.PathEscape(jobID), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *Client) ListFindings(ctx context.Context, jobID string) ([]model.Finding, error) {
	var fs []model.Finding
	if err := c.do(ctx, http.MethodGet, "/capability-jobs/"+url.PathEscape(jobID)+"/findings", nil, &fs); err != nil {
		return nil, err
	}
	return fs, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var bodyReader io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	u := c.baseURL.String() + path
	httpReq, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	c.logger.Debug("sending backend request",
		logging.Field{Key: "method", Value: method},
		logging.Field{Key: "url", Value: u})

	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.logger.Warn("backend request failed",
			logging.Field{Key: "method", Value: method},
			logging.Field{Key: "url", Value: u},
			logging.Field{Key: "error", Value: err.Error()})
		return fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &payload) == nil {
			apiErr.Message = payload.Error
		}
		c.logger.Warn("backend returned error status",
			logging.Field{Key: "method", Value: method},
			logging.Field{Key: "url", Value: u},
			logging.Field{Key: "status", Value: resp.StatusCode})
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
