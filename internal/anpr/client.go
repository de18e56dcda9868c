package anpr

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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	processPath      = "process"
	processBatchPath = "process-batch"
	healthPath       = "health"

	maxResponseBytes  = 8 << 20
	maxErrorBodyBytes = 64 << 10
)

const tracerName = "github.com/example/parking-anpr/internal/anpr"

// Config holds the fixed connection settings of a Client.
type Config struct {
	BaseURL        string
	ProcessTimeout time.Duration
	HealthTimeout  time.Duration
	// HTTPClient overrides the instrumented default client when set.
	HTTPClient *http.Client
}

// Client talks to the remote plate recognition service over HTTP/JSON.
// It keeps no state between calls and is safe for concurrent use.
type Client struct {
	baseURL        string
	processTimeout time.Duration
	healthTimeout  time.Duration
	httpClient     *http.Client
	tracer         trace.Tracer
	logger         *zap.Logger
}

// NewClient validates cfg and returns a ready client.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("anpr: invalid base url %q: %w", base, err)
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("anpr: base url %q must be an absolute http(s) url", base)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:        strings.TrimRight(base, "/"),
		processTimeout: cfg.ProcessTimeout,
		healthTimeout:  cfg.HealthTimeout,
		httpClient:     httpClient,
		tracer:         otel.Tracer(tracerName),
		logger:         logger.Named("anpr_client"),
	}, nil
}

// BaseURL returns the configured service root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Process submits one base64 image to the recognition endpoint. Exactly one
// request is sent; failures are returned as *TransportError,
// *ServiceHTTPError, *ServiceLogicalError or *MalformedResponseError.
func (c *Client) Process(ctx context.Context, imageBase64 string) (*Result, error) {
	if imageBase64 == "" {
		return nil, ErrEmptyImage
	}

	ctx, span := c.tracer.Start(ctx, "anpr.process", trace.WithAttributes(
		attribute.Int("anpr.image_length", len(imageBase64)),
	))
	defer span.End()

	result, err := c.submit(ctx, processPath, processRequest{Image: imageBase64})
	finishSpan(span, result, err)
	return result, err
}

// ProcessBatch submits several images in a single request. The service
// flattens detections from all images into one sequence.
func (c *Client) ProcessBatch(ctx context.Context, imagesBase64 []string) (*Result, error) {
	if len(imagesBase64) == 0 {
		return nil, ErrEmptyImage
	}
	for _, image := range imagesBase64 {
		if image == "" {
			return nil, ErrEmptyImage
		}
	}

	ctx, span := c.tracer.Start(ctx, "anpr.process_batch", trace.WithAttributes(
		attribute.Int("anpr.image_count", len(imagesBase64)),
	))
	defer span.End()

	result, err := c.submit(ctx, processBatchPath, batchRequest{Images: imagesBase64})
	finishSpan(span, result, err)
	return result, err
}

// Health fetches the service health report. A non-2xx status, a transport
// failure or an unparsable body are returned as errors.
func (c *Client) Health(ctx context.Context) (*HealthReport, error) {
	ctx, span := c.tracer.Start(ctx, "anpr.health")
	defer span.End()

	ctx, cancel := withOptionalTimeout(ctx, c.healthTimeout)
	defer cancel()

	endpoint := c.endpoint(healthPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		wrapped := &TransportError{Endpoint: endpoint, Err: err}
		span.RecordError(wrapped)
		return nil, wrapped
	}
	defer resp.Body.Close()

	if !isSuccessStatus(resp.StatusCode) {
		httpErr := &ServiceHTTPError{StatusCode: resp.StatusCode, Body: readErrorBody(resp.Body)}
		span.RecordError(httpErr)
		return nil, httpErr
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		wrapped := &TransportError{Endpoint: endpoint, Err: err}
		span.RecordError(wrapped)
		return nil, wrapped
	}

	var report HealthReport
	if err := json.Unmarshal(body, &report); err != nil {
		malformed := &MalformedResponseError{Reason: "health body is not valid JSON", Err: err}
		span.RecordError(malformed)
		return nil, malformed
	}
	report.HTTPStatus = resp.StatusCode
	span.SetAttributes(attribute.String("anpr.health_status", report.Status))
	return &report, nil
}

// Healthy reports whether the service explicitly declares itself healthy.
// Every failure collapses to false; it never returns an error.
func (c *Client) Healthy(ctx context.Context) bool {
	report, err := c.Health(ctx)
	if err != nil {
		c.logger.Debug("anpr health check failed", zap.Error(err), zap.Stringer("kind", Kind(err)))
		return false
	}
	if report.Status != HealthyStatus {
		c.logger.Debug("anpr service not healthy", zap.String("status", report.Status))
		return false
	}
	return true
}

func (c *Client) submit(ctx context.Context, path string, payload any) (*Result, error) {
	ctx, cancel := withOptionalTimeout(ctx, c.processTimeout)
	defer cancel()

	endpoint := c.endpoint(path)
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("anpr: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("anpr: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("submitting image for recognition", zap.String("endpoint", endpoint), zap.Int("body_bytes", len(encoded)))
	started := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("anpr service unreachable", zap.String("endpoint", endpoint), zap.Error(err))
		return nil, &TransportError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if !isSuccessStatus(resp.StatusCode) {
		httpErr := &ServiceHTTPError{StatusCode: resp.StatusCode, Body: readErrorBody(resp.Body)}
		c.logger.Warn("anpr service returned error status", zap.Int("status", resp.StatusCode))
		return nil, httpErr
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.logger.Error("failed to read anpr response", zap.String("endpoint", endpoint), zap.Error(err))
		return nil, &TransportError{Endpoint: endpoint, Err: err}
	}

	result, err := decodeProcessResponse(body)
	if err != nil {
		var logical *ServiceLogicalError
		if errors.As(err, &logical) {
			c.logger.Warn("anpr service reported failure", zap.String("message", logical.Message))
		} else {
			c.logger.Error("anpr response did not match contract", zap.Error(err))
		}
		return nil, err
	}

	c.logger.Debug("anpr recognition complete",
		zap.Int("detections", len(result.Detections)),
		zap.Int("count", result.Count),
		zap.Duration("latency", time.Since(started)),
	)
	return result, nil
}

func decodeProcessResponse(body []byte) (*Result, error) {
	var wire wireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &MalformedResponseError{Reason: "body is not valid JSON", Err: err}
	}
	if wire.Success == nil {
		return nil, &MalformedResponseError{Reason: "missing success field"}
	}
	if !*wire.Success {
		message := wire.Error
		if strings.TrimSpace(message) == "" {
			message = DefaultFailureMessage
		}
		return nil, &ServiceLogicalError{Message: message}
	}
	if wire.Detections == nil {
		return nil, &MalformedResponseError{Reason: "missing detections field"}
	}
	if wire.Count == nil {
		return nil, &MalformedResponseError{Reason: "missing count field"}
	}

	detections := make([]Detection, 0, len(*wire.Detections))
	for i, d := range *wire.Detections {
		if d.Registration == nil {
			return nil, &MalformedResponseError{Reason: fmt.Sprintf("detection %d: missing registration", i)}
		}
		if d.Confidence == nil {
			return nil, &MalformedResponseError{Reason: fmt.Sprintf("detection %d: missing confidence", i)}
		}
		if len(d.BBox) != 4 {
			return nil, &MalformedResponseError{Reason: fmt.Sprintf("detection %d: bbox has %d values, want 4", i, len(d.BBox))}
		}
		var coords [4]float64
		for j, v := range d.BBox {
			if v == nil {
				return nil, &MalformedResponseError{Reason: fmt.Sprintf("detection %d: bbox value %d is null", i, j)}
			}
			coords[j] = *v
		}
		detections = append(detections, Detection{
			Registration: *d.Registration,
			Confidence:   *d.Confidence,
			BoundingBox: BoundingBox{
				Left:   coords[0],
				Top:    coords[1],
				Right:  coords[2],
				Bottom: coords[3],
			},
		})
	}

	return &Result{Detections: detections, Count: *wire.Count}, nil
}

func (c *Client) endpoint(path string) string {
	return c.baseURL + "/" + path
}

// readErrorBody never fails; an unreadable body degrades to "".
func readErrorBody(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodyBytes))
	if err != nil {
		return ""
	}
	return string(body)
}

func isSuccessStatus(code int) bool {
	return code >= 200 && code < 300
}

func withOptionalTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

func finishSpan(span trace.Span, result *Result, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, Kind(err).String())
		return
	}
	span.SetAttributes(attribute.Int("anpr.detections", len(result.Detections)))
}
