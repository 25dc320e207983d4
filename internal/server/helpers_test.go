package server

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/pedigree/internal/logging"
	"github.com/MeKo-Tech/pedigree/internal/pipeline"
	"github.com/MeKo-Tech/pedigree/internal/testutil"
)

// nameByWidth answers with a name keyed on the composite width; only Mary's
// label in the sample diagram is wider than 60 pixels.
func nameByWidth(_ context.Context, _ int, img image.Image) (string, error) {
	if img.Bounds().Dx() > 60 {
		return `{"Name": "Mary Doe", "Disease": "diabetes"}`, nil
	}
	return `{"Name": "John Doe", "Age": "45"}`, nil
}

func newStubPipeline(t *testing.T, d testutil.Diagram) *pipeline.Pipeline {
	t.Helper()
	p, err := pipeline.NewBuilder().
		WithNodeDetector(&testutil.StubDetector{ModelName: "nodes", Detections: d.NodeDetections()}).
		WithTextDetector(&testutil.StubDetector{ModelName: "text", Detections: d.TextDetections()}).
		WithRecognizer(&testutil.StubRecognizer{Respond: nameByWidth}).
		WithLogger(logging.Discard()).
		Build()
	require.NoError(t, err)
	return p
}

func newTestServer(t *testing.T, p Processor, cfg Config) *Server {
	t.Helper()
	if cfg.SaveDir == "" {
		cfg.SaveDir = t.TempDir()
	}
	s, err := NewServer(cfg, p, logging.Discard())
	require.NoError(t, err)
	s.newID = func() string { return "img-1" }
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// fakeProcessor returns a fixed result or error.
type fakeProcessor struct {
	res    *pipeline.Result
	err    error
	closed bool
}

func (f *fakeProcessor) Process(context.Context, string, string, ...pipeline.ProcessOption) (*pipeline.Result, error) {
	return f.res, f.err
}

func (f *fakeProcessor) Close() error {
	f.closed = true
	return nil
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func createMultipartFormRequest(t *testing.T, field, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if field != "" {
		fw, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.WriteField("apply_orientation_correction", "false"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/image-info/", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}
