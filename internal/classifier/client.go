// Package classifier talks to the external image classification endpoint.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"recycloai/internal/config"
	"recycloai/internal/metrics"
)

var (
	// ErrTimeout means the endpoint did not answer in time
	ErrTimeout = errors.New("classification timed out")
	// ErrRejected means the endpoint refused the image (4xx)
	ErrRejected = errors.New("classification rejected the image")
	// ErrUnavailable means the endpoint failed or could not be reached
	ErrUnavailable = errors.New("classification service unavailable")
	// ErrBadResponse means the endpoint answered in an unrecognized format
	ErrBadResponse = errors.New("unrecognized classification response")
)

// Prediction is the classifier's answer for one image
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Classifier classifies waste images
type Classifier interface {
	Classify(ctx context.Context, filename string, image []byte) (*Prediction, error)
}

// Client posts images as multipart form data and retries transient failures
type Client struct {
	url        string
	httpClient *http.Client
	maxRetries int
	logger     *zap.Logger

	// initialInterval seeds the exponential backoff between attempts
	initialInterval time.Duration
}

// New creates a classification client
func New(cfg config.ClassifierConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		url:             cfg.URL,
		httpClient:      &http.Client{Timeout: timeout},
		maxRetries:      cfg.MaxRetries,
		logger:          logger,
		initialInterval: 250 * time.Millisecond,
	}
}

type predictionResponse struct {
	PredictedLabel string   `json:"predicted_label"`
	PredictedClass string   `json:"predicted_class"`
	Confidence     *float64 `json:"confidence"`
}

// Classify sends the image under the multipart field "file". Network errors
// and 5xx answers are retried with exponential backoff; 4xx answers and
// malformed bodies are not.
func (c *Client) Classify(ctx context.Context, filename string, image []byte) (*Prediction, error) {
	start := time.Now()
	var prediction *Prediction

	operation := func() error {
		p, err := c.classifyOnce(ctx, filename, image)
		if err != nil {
			return err
		}
		prediction = p
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(c.maxRetries, 0))), ctx)

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("Classification attempt failed, retrying",
			zap.Error(err),
			zap.Duration("retry_in", wait),
		)
	}

	err := backoff.RetryNotify(operation, policy, notify)
	result := "ok"
	if err != nil {
		result = resultLabel(err)
	}
	metrics.ClassifierDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ErrTimeout) {
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %v", ErrTimeout, ctxErr)
			}
			return nil, ctxErr
		}
		return nil, err
	}
	return prediction, nil
}

func (c *Client) classifyOnce(ctx context.Context, filename string, image []byte) (*Prediction, error) {
	body, contentType, err := multipartBody(filename, image)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to build request body: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, backoff.Permanent(fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, truncate(string(raw), 200)))
	}

	p, err := decodePrediction(raw)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	return p, nil
}

func decodePrediction(raw []byte) (*Prediction, error) {
	var body predictionResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}

	label := strings.TrimSpace(body.PredictedLabel)
	if label == "" {
		label = strings.TrimSpace(body.PredictedClass)
	}
	if label == "" {
		return nil, fmt.Errorf("%w: missing predicted label", ErrBadResponse)
	}

	var confidence float64
	if body.Confidence != nil {
		confidence = *body.Confidence
	}
	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("%w: confidence %v outside [0,1]", ErrBadResponse, confidence)
	}

	return &Prediction{Label: label, Confidence: confidence}, nil
}

func multipartBody(filename string, image []byte) (*bytes.Buffer, string, error) {
	if filename == "" {
		filename = "upload"
	}
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(image); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrRejected):
		return "rejected"
	case errors.Is(err, ErrBadResponse):
		return "bad_response"
	default:
		return "unavailable"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
