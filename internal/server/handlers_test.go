package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/pedigree/internal/pipeline"
	"github.com/MeKo-Tech/pedigree/internal/testutil"
)

func TestNewServer(t *testing.T) {
	_, err := NewServer(Config{}, nil, nil)
	assert.Error(t, err)

	fp := &fakeProcessor{}
	s, err := NewServer(Config{RateLimit: RateLimitConfig{Enabled: true, RequestsPerMinute: 10}}, fp, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(50), s.maxUploadMB)
	assert.NotNil(t, s.rateLimiter)
	require.NoError(t, s.Close())
	assert.True(t, fp.closed)
}

func TestHealthHandler(t *testing.T) {
	s := newTestServer(t, &fakeProcessor{}, Config{})
	mux := http.NewServeMux()
	s.SetupRoutes(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestImageInfoHandler_Success(t *testing.T) {
	d := testutil.SampleDiagram()
	saveDir := t.TempDir()
	s := newTestServer(t, newStubPipeline(t, d), Config{SaveDir: saveDir})
	mux := http.NewServeMux()
	s.SetupRoutes(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, createMultipartFormRequest(t, "file", "family.png", encodePNG(t, d.Render())))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp ImageInfoResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "img-1", resp.ImageID)
	assert.Equal(t, ImageSize{Width: d.Width, Height: d.Height}, resp.ModelAPIResponse.Image)
	require.Len(t, resp.ModelAPIResponse.Predictions, 3)
	assert.Equal(t, "John Doe", *resp.ModelAPIResponse.Predictions[0].DisplayName)
	assert.Equal(t, "Mary Doe", *resp.ModelAPIResponse.Predictions[1].DisplayName)
	assert.Nil(t, resp.ModelAPIResponse.Predictions[2].DisplayName)
	assert.NotNil(t, resp.Warnings)
	assert.Empty(t, resp.Warnings)

	// Raw JSON keeps the schema: warnings is an array, not null.
	var raw map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	assert.Equal(t, []any{}, raw["warnings"])

	assert.FileExists(t, filepath.Join(saveDir, "family.png"))
}

func TestImageInfoHandler_Errors(t *testing.T) {
	pngData := encodePNG(t, testutil.CreateTestImage(20, 20, color.White))
	tests := []struct {
		name   string
		proc   *fakeProcessor
		req    func(t *testing.T) *http.Request
		status int
	}{
		{
			name:   "wrong method",
			proc:   &fakeProcessor{},
			req:    func(*testing.T) *http.Request { return httptest.NewRequest(http.MethodGet, "/image-info/", nil) },
			status: http.StatusMethodNotAllowed,
		},
		{
			name:   "not multipart",
			proc:   &fakeProcessor{},
			req:    func(*testing.T) *http.Request { return httptest.NewRequest(http.MethodPost, "/image-info/", nil) },
			status: http.StatusBadRequest,
		},
		{
			name:   "missing file",
			proc:   &fakeProcessor{},
			req:    func(t *testing.T) *http.Request { return createMultipartFormRequest(t, "", "", nil) },
			status: http.StatusBadRequest,
		},
		{
			name: "not an image",
			proc: &fakeProcessor{},
			req: func(t *testing.T) *http.Request {
				return createMultipartFormRequest(t, "file", "a.png", []byte("definitely not a png"))
			},
			status: http.StatusUnprocessableEntity,
		},
		{
			name: "no symbols",
			proc: &fakeProcessor{err: fmt.Errorf("scan: %w", pipeline.ErrNoNodes)},
			req: func(t *testing.T) *http.Request {
				return createMultipartFormRequest(t, "file", "a.png", pngData)
			},
			status: http.StatusUnprocessableEntity,
		},
		{
			name: "detector failure",
			proc: &fakeProcessor{err: fmt.Errorf("%w: model crashed", pipeline.ErrDetection)},
			req: func(t *testing.T) *http.Request {
				return createMultipartFormRequest(t, "file", "a.png", pngData)
			},
			status: http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.proc, Config{})
			w := httptest.NewRecorder()
			s.imageInfoHandler(w, tt.req(t))
			assert.Equal(t, tt.status, w.Code)
			if tt.status != http.StatusMethodNotAllowed {
				var resp ErrorResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.NotEmpty(t, resp.Error)
			}
		})
	}
}

func TestImageInfoHandler_TooLarge(t *testing.T) {
	s := newTestServer(t, &fakeProcessor{}, Config{MaxUploadMB: 1})
	big := make([]byte, 2*1024*1024)
	w := httptest.NewRecorder()
	s.imageInfoHandler(w, createMultipartFormRequest(t, "file", "big.png", big))
	assert.Contains(t, []int{http.StatusRequestEntityTooLarge, http.StatusBadRequest}, w.Code)
}

func TestUploadPath(t *testing.T) {
	s := &Server{saveDir: "/data/uploads"}
	tests := []struct {
		filename string
		want     string
	}{
		{"family.png", "/data/uploads/family.png"},
		{"../../etc/passwd", "/data/uploads/passwd"},
		{`C:\scans\tree.jpg`, "/data/uploads/tree.jpg"},
		{"", "/data/uploads/id.png"},
		{"..", "/data/uploads/id.png"},
	}
	for _, tt := range tests {
		assert.Equal(t, filepath.FromSlash(tt.want), s.uploadPath("id", tt.filename), tt.filename)
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(pipeline.ErrNoNodes))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(fmt.Errorf("x: %w", pipeline.ErrImageLoad)))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}

func TestDownloadLogHandler(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(logFile, []byte(`{"msg":"hello"}`+"\n"), 0o600))

	s := newTestServer(t, &fakeProcessor{}, Config{LogFile: logFile})
	w := httptest.NewRecorder()
	s.downloadLogHandler(w, httptest.NewRequest(http.MethodGet, "/download-log", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), `filename="app.log"`)
	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "hello")

	s = newTestServer(t, &fakeProcessor{}, Config{LogFile: filepath.Join(t.TempDir(), "missing.log")})
	w = httptest.NewRecorder()
	s.downloadLogHandler(w, httptest.NewRequest(http.MethodGet, "/download-log", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, &fakeProcessor{}, Config{})
	mux := http.NewServeMux()
	s.SetupRoutes(mux)

	mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pedigree_http_requests_total")
}

func TestRateLimitedRoute(t *testing.T) {
	s := newTestServer(t, &fakeProcessor{}, Config{RateLimit: RateLimitConfig{Enabled: true, RequestsPerMinute: 1, Burst: 1}})
	mux := http.NewServeMux()
	s.SetupRoutes(mux)

	send := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := createMultipartFormRequest(t, "", "", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.9")
		mux.ServeHTTP(w, req)
		return w
	}
	assert.Equal(t, http.StatusBadRequest, send().Code)

	w := send()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))
}
