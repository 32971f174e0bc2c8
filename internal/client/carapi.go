// Package client provides the upstream HTTP client for the car-data API.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"

	"carlisting-api/internal/config"
	"carlisting-api/internal/metrics"
	"carlisting-api/internal/model"
)

const userAgent = "carlisting-api/1.0"

// maxLoggedBody bounds the upstream body included in diagnostic logs.
const maxLoggedBody = 2048

// resource is one upstream collection.
type resource struct {
	name string
	path string
}

var (
	resourceMakes  = resource{name: "makes", path: "/makes"}
	resourceModels = resource{name: "models", path: "/models"}
	resourceYears  = resource{name: "years", path: "/years"}
)

// CarAPIClient sends authenticated read-only requests to the car-data API.
type CarAPIClient struct {
	http    *resty.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewCarAPIClient creates a CarAPIClient with connection pooling and timeouts.
// It refuses to build without an API key. The metrics parameter is optional;
// pass nil to disable upstream metrics recording.
func NewCarAPIClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*CarAPIClient, error) {
	key := strings.TrimSpace(cfg.CarAPI.APIKey)
	if key == "" {
		return nil, config.ErrMissingAPIKey
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	logger = logger.With("component", "carapi_client")

	rc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.Upstream.BaseURL, "/")).
		SetTransport(transport).
		SetTimeout(time.Duration(cfg.Upstream.TimeoutSeconds)*time.Second).
		SetAuthToken(key).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", userAgent).
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal).
		SetLogger(restyLogger{logger})

	return &CarAPIClient{
		http:    rc,
		logger:  logger,
		metrics: m,
	}, nil
}

// ListMakes fetches one page of vehicle makes.
func (c *CarAPIClient) ListMakes(ctx context.Context, page, limit int) (model.Payload, error) {
	return c.fetch(ctx, resourceMakes, map[string]string{
		"page":  strconv.Itoa(page),
		"limit": strconv.Itoa(limit),
	})
}

// ListModels fetches the models of carMake.
func (c *CarAPIClient) ListModels(ctx context.Context, carMake string) (model.Payload, error) {
	if carMake == "" {
		return nil, ErrMissingMake
	}
	return c.fetch(ctx, resourceModels, map[string]string{
		"make": carMake,
	})
}

// ListYears fetches the model years available for carMake and carModel.
func (c *CarAPIClient) ListYears(ctx context.Context, carMake, carModel string) (model.Payload, error) {
	if carMake == "" {
		return nil, ErrMissingMake
	}
	if carModel == "" {
		return nil, ErrMissingModel
	}
	return c.fetch(ctx, resourceYears, map[string]string{
		"make":  carMake,
		"model": carModel,
	})
}

// fetch performs a GET and translates every failure into *UpstreamError
// after logging the diagnostic detail.
func (c *CarAPIClient) fetch(ctx context.Context, res resource, query map[string]string) (model.Payload, error) {
	c.logger.Debug("upstream request", "resource", res.name, "query", query)

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(query).
		Get(res.path)
	duration := time.Since(start).Seconds()

	if err != nil {
		c.observe(res, "error", duration)
		c.logger.Error("car API request failed",
			"resource", res.name,
			"err", err,
		)
		return nil, &UpstreamError{Resource: res.name, Err: err}
	}

	status := resp.StatusCode()
	c.observe(res, strconv.Itoa(status), duration)

	if !resp.IsSuccess() {
		c.logger.Error("car API returned an error status",
			"resource", res.name,
			"status", status,
			"body", truncate(resp.String(), maxLoggedBody),
		)
		return nil, &UpstreamError{
			Resource:   res.name,
			StatusCode: status,
			Err:        fmt.Errorf("status %d", status),
		}
	}

	body := resp.Body()
	if !json.Valid(body) {
		c.logger.Error("car API returned invalid JSON",
			"resource", res.name,
			"status", status,
			"body", truncate(string(body), maxLoggedBody),
		)
		return nil, &UpstreamError{
			Resource:   res.name,
			StatusCode: status,
			Err:        fmt.Errorf("invalid JSON body"),
		}
	}

	return model.Payload(body), nil
}

func (c *CarAPIClient) observe(res resource, status string, seconds float64) {
	if c.metrics == nil {
		return
	}
	c.metrics.UpstreamDuration.WithLabelValues(res.name).Observe(seconds)
	c.metrics.UpstreamResponses.WithLabelValues(res.name, status).Inc()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// restyLogger routes resty's internal messages through slog.
type restyLogger struct {
	l *slog.Logger
}

func (r restyLogger) Errorf(format string, v ...interface{}) {
	r.l.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (r restyLogger) Warnf(format string, v ...interface{}) {
	r.l.Warn(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (r restyLogger) Debugf(format string, v ...interface{}) {
	r.l.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
