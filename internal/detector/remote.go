package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/ofo-tools/treecrown/internal/errors"
	"github.com/ofo-tools/treecrown/internal/httpclient"
	"github.com/ofo-tools/treecrown/internal/logger"
	"github.com/ofo-tools/treecrown/internal/raster"
)

const (
	apiKeyHeader = "X-API-Key"

	// maxResponseBytes caps the decoded JSON body.
	maxResponseBytes = 16 << 20
)

// RemoteDetector posts patches to an HTTP inference service.
//
// The service receives the patch as a PNG in the multipart field "file" and
// answers with {"detections": [{"xmin": .., "ymin": .., "xmax": .., "ymax": ..,
// "score": .., "label": ..}]} in patch pixel coordinates. "label" may be a
// string or a class index into the configured labels.
type RemoteDetector struct {
	url     string
	apiKey  string
	labels  []string
	timeout time.Duration
	client  *httpclient.Client
	limiter *rate.Limiter
}

type remoteDetection struct {
	XMin  float64         `json:"xmin"`
	YMin  float64         `json:"ymin"`
	XMax  float64         `json:"xmax"`
	YMax  float64         `json:"ymax"`
	Score float32         `json:"score"`
	Label json.RawMessage `json:"label"`
}

type remoteResponse struct {
	Detections []remoteDetection `json:"detections"`
}

// NewRemote creates an HTTP detector. RateLimit is requests per second,
// 0 disables throttling.
func NewRemote(cfg RemoteConfig) (*RemoteDetector, error) {
	if cfg.URL == "" {
		return nil, errors.Newf("remote detector URL is empty").
			Category(errors.CategoryModelInit).
			Build()
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := max(cfg.Burst, 1)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = httpclient.DefaultTimeout
	}

	client := httpclient.New(&httpclient.Config{
		DefaultTimeout: timeout,
		Transport:      cfg.Transport,
	})
	client.SetAfterResponseHook(func(req *http.Request, resp *http.Response, err error) {
		if err != nil {
			GetLogger().Debug("inference request failed",
				logger.String("url", req.URL.Redacted()),
				logger.Error(err))
			return
		}
		GetLogger().Trace("inference response",
			logger.String("url", req.URL.Redacted()),
			logger.Int("status", resp.StatusCode))
	})

	return &RemoteDetector{
		url:     cfg.URL,
		apiKey:  cfg.APIKey,
		labels:  cfg.Labels,
		timeout: timeout,
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
	}, nil
}

// Name identifies the backend and endpoint.
func (d *RemoteDetector) Name() string {
	return "remote:" + d.url
}

// Predict sends one patch to the service.
func (d *RemoteDetector) Predict(ctx context.Context, patch *raster.Image) ([]Box, error) {
	if err := checkPatch(patch); err != nil {
		return nil, inferenceError(err, "remote")
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, contentType, err := encodePatch(patch)
	if err != nil {
		return nil, inferenceError(err, "remote")
	}

	reqCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, d.url, body)
	if err != nil {
		return nil, inferenceError(err, "remote")
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if d.apiKey != "" {
		req.Header.Set(apiKeyHeader, d.apiKey)
	}

	resp, err := d.client.Do(reqCtx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.New(err).
			Category(errors.CategoryInference).
			Context("backend", "remote").
			Context("timeout", d.timeout.String()).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.Newf("inference failed with status: %d", resp.StatusCode).
			Category(errors.CategoryInference).
			Context("backend", "remote").
			Context("status", resp.StatusCode).
			Context("body", string(bytes.TrimSpace(snippet))).
			Build()
	}

	var result remoteResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&result); err != nil {
		return nil, inferenceError(fmt.Errorf("decode response: %w", err), "remote")
	}

	out := make([]Box, 0, len(result.Detections))
	for _, det := range result.Detections {
		box := clampBox(Box{
			XMin:  det.XMin,
			YMin:  det.YMin,
			XMax:  det.XMax,
			YMax:  det.YMax,
			Score: det.Score,
			Label: d.resolveLabel(det.Label),
		}, patch.Width, patch.Height)
		if box.Area() > 0 {
			out = append(out, box)
		}
	}
	return out, nil
}

func (d *RemoteDetector) resolveLabel(raw json.RawMessage) string {
	if len(raw) == 0 {
		return labelFor(d.labels, 0)
	}
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		return name
	}
	var class float64
	if err := json.Unmarshal(raw, &class); err == nil {
		return labelFor(d.labels, int(class))
	}
	return string(raw)
}

// Close releases idle connections.
func (d *RemoteDetector) Close() error {
	d.client.Close()
	return nil
}

func encodePatch(patch *raster.Image) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "patch.png")
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if err := png.Encode(part, patch.ToRGBA()); err != nil {
		return nil, "", fmt.Errorf("encode patch: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}
