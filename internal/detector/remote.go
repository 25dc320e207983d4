package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"
)

// RemoteDetector posts the image to an HTTP inference service and decodes
// its predictions.
type RemoteDetector struct {
	name   string
	url    string
	client *http.Client
}

// NewRemoteDetector creates a detector backed by the service at url.
func NewRemoteDetector(name, url string, timeout time.Duration) (*RemoteDetector, error) {
	if url == "" {
		return nil, errors.New("inference URL cannot be empty")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RemoteDetector{name: name, url: url, client: &http.Client{Timeout: timeout}}, nil
}

// Name returns the model family name.
func (d *RemoteDetector) Name() string { return d.name }

// Close releases idle connections.
func (d *RemoteDetector) Close() error {
	d.client.CloseIdleConnections()
	return nil
}

type remoteResponse struct {
	Predictions []Detection `json:"predictions"`
	Detections  []Detection `json:"detections"`
}

// Detect encodes img as PNG, uploads it as the multipart "file" field along
// with the confidence threshold and filters the returned predictions.
func (d *RemoteDetector) Detect(ctx context.Context, img image.Image, confidence float64) ([]Detection, error) {
	if img == nil {
		return nil, errors.New("input image is nil")
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "image.png")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if err := png.Encode(part, img); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	if err := writer.WriteField("confidence", strconv.FormatFloat(confidence, 'f', -1, 64)); err != nil {
		return nil, fmt.Errorf("write confidence: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s inference failed with status %d: %s", d.name, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var result remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	preds := result.Predictions
	if preds == nil {
		preds = result.Detections
	}

	out := make([]Detection, 0, len(preds))
	for _, p := range preds {
		if p.Confidence >= confidence {
			out = append(out, p)
		}
	}
	return out, nil
}
