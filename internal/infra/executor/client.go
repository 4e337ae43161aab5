// Package executor is the REST client of the Argo-compatible workflow executor.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/openctemio/qualitygate/pkg/domain/execution"
	"github.com/openctemio/qualitygate/pkg/logger"
)

// Config configures the executor client.
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	RetryCount int
	// RateLimit is requests per second; zero disables throttling.
	RateLimit float64
	RateBurst int
}

// Client talks to the executor server.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	logger  *logger.Logger
}

// New creates a new executor client.
func New(cfg Config, log *logger.Logger) *Client {
	if log == nil {
		log = logger.NewNop()
	}
	log = log.With("component", "executor-client")

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	httpClient := resty.New().
		SetLogger(restyLogger{log: log}).
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Accept", "application/json").
		AddRetryCondition(retryable)
	if cfg.Token != "" {
		httpClient.SetAuthToken(cfg.Token)
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		http:    httpClient,
		limiter: rate.NewLimiter(limit, burst),
		logger:  log,
	}
}

// retryable retries transport errors and 5xx answers of idempotent requests.
// A submission is never retried: the executor may have created the job
// before the failure reached us.
func retryable(resp *resty.Response, err error) bool {
	if resp == nil || resp.Request == nil || resp.Request.Method == http.MethodPost {
		return false
	}
	return err != nil || resp.StatusCode() >= http.StatusInternalServerError
}

type submitRequest struct {
	Namespace string          `json:"namespace"`
	Workflow  json.RawMessage `json:"workflow"`
}

// SubmitJob submits a job and returns the status the executor reports for it.
func (c *Client) SubmitJob(ctx context.Context, spec execution.JobSpec) (*execution.WorkflowStatus, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/workflows/"+url.PathEscape(spec.Namespace), func(r *resty.Request) {
		r.SetHeader("Content-Type", "application/json").
			SetBody(submitRequest{Namespace: spec.Namespace, Workflow: spec.Workflow})
	})
	if err != nil {
		return nil, err
	}
	status, err := decodeStatus(resp)
	if err != nil {
		return nil, err
	}
	c.logger.Info("job submitted",
		"job_name", status.Metadata.Name,
		"job_namespace", status.Metadata.Namespace,
	)
	return status, nil
}

// GetLiveStatus returns the status of a job known to the live API, or nil
// when the executor does not know it.
func (c *Client) GetLiveStatus(ctx context.Context, name, namespace string) (*execution.WorkflowStatus, error) {
	path := fmt.Sprintf("/api/v1/workflows/%s/%s", url.PathEscape(namespace), url.PathEscape(name))
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		if IsHTTPStatus(err, http.StatusNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return decodeStatus(resp)
}

// GetArchivedStatus returns the status of an archived job, or nil when the
// archive does not hold it.
func (c *Client) GetArchivedStatus(ctx context.Context, id string) (*execution.WorkflowStatus, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/v1/archived-workflows/"+url.PathEscape(id), nil)
	if err != nil {
		if IsHTTPStatus(err, http.StatusNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return decodeStatus(resp)
}

// GetLogs returns the raw log stream of one container of a job. The boolean
// is false when the executor has no logs for it.
func (c *Client) GetLogs(ctx context.Context, name, namespace string, container execution.Container) (string, bool, error) {
	if !container.IsValid() {
		return "", false, fmt.Errorf("%w: %q", ErrUnknownContainer, container)
	}

	path := fmt.Sprintf("/api/v1/workflows/%s/%s/log", url.PathEscape(namespace), url.PathEscape(name))
	resp, err := c.do(ctx, http.MethodGet, path, func(r *resty.Request) {
		r.SetQueryParam("logOptions.container", container.String())
	})
	if err != nil {
		if IsHTTPStatus(err, http.StatusNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return string(resp.Body()), true, nil
}

func (c *Client) do(ctx context.Context, method, path string, prepare func(*resty.Request)) (*resty.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoResponse, err)
	}

	req := c.http.R().SetContext(ctx)
	if prepare != nil {
		prepare(req)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrNoResponse, method, path, err)
	}
	if resp.IsError() || resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		body := string(resp.Body())
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, &HTTPError{
			Method:     method,
			URL:        resp.Request.URL,
			StatusCode: resp.StatusCode(),
			Body:       body,
		}
	}
	return resp, nil
}

func decodeStatus(resp *resty.Response) (*execution.WorkflowStatus, error) {
	var status execution.WorkflowStatus
	if err := json.Unmarshal(resp.Body(), &status); err != nil {
		return nil, fmt.Errorf("executor: decode status from %s: %w", resp.Request.URL, err)
	}
	return &status, nil
}

// restyLogger forwards resty's messages to the structured logger.
type restyLogger struct {
	log *logger.Logger
}

func (l restyLogger) Errorf(format string, v ...any) { l.log.Error(fmt.Sprintf(format, v...)) }
func (l restyLogger) Warnf(format string, v ...any)  { l.log.Warn(fmt.Sprintf(format, v...)) }
func (l restyLogger) Debugf(format string, v ...any) { l.log.Debug(fmt.Sprintf(format, v...)) }
