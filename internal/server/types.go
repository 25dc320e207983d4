package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MeKo-Tech/pedigree/internal/pipeline"
)

// Processor is the part of the pipeline the server needs.
type Processor interface {
	Process(ctx context.Context, imageID, path string, opts ...pipeline.ProcessOption) (*pipeline.Result, error)
	Close() error
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	pipeline    Processor
	logger      *slog.Logger
	corsOrigin  string
	maxUploadMB int64
	saveDir     string
	logFile     string
	rateLimiter *RateLimiter
	newID       func() string
}

// Config holds server configuration.
type Config struct {
	CORSOrigin  string
	MaxUploadMB int64
	SaveDir     string
	LogFile     string
	RateLimit   RateLimitConfig
}

// RateLimitConfig holds per-client rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	Burst             int
}

// NewServer creates a server around an already built pipeline. The server
// takes ownership of p.
func NewServer(config Config, p Processor, logger *slog.Logger) (*Server, error) {
	if p == nil {
		return nil, errors.New("pipeline is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxUploadMB <= 0 {
		config.MaxUploadMB = 50
	}

	s := &Server{
		pipeline:    p,
		logger:      logger,
		corsOrigin:  config.CORSOrigin,
		maxUploadMB: config.MaxUploadMB,
		saveDir:     config.SaveDir,
		logFile:     config.LogFile,
		newID:       newImageID,
	}
	if config.RateLimit.Enabled {
		s.rateLimiter = NewRateLimiter(config.RateLimit.RequestsPerMinute, config.RateLimit.Burst)
	}
	return s, nil
}

// Close releases server resources.
func (s *Server) Close() error {
	if s.pipeline != nil {
		return s.pipeline.Close()
	}
	return nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/image-info/", s.corsMiddleware(s.rateLimitMiddleware(s.imageInfoHandler)))
	mux.HandleFunc("/download-log", s.corsMiddleware(s.downloadLogHandler))
	mux.HandleFunc("/ws/image-info", s.rateLimitMiddleware(s.imageInfoWebSocketHandler))
	mux.Handle("/metrics", promhttp.Handler())
}

// Response types for API endpoints.
type HealthResponse struct {
	Status string `json:"status"`
}

// ImageSize is the pixel size of a processed diagram.
type ImageSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ModelAPIResponse carries the recognized family members.
type ModelAPIResponse struct {
	Predictions []pipeline.PedigreeNode `json:"predictions"`
	Image       ImageSize               `json:"image"`
}

// ImageInfoResponse is returned by /image-info/ and the final websocket message.
type ImageInfoResponse struct {
	ModelAPIResponse ModelAPIResponse       `json:"model_api_response"`
	ImageID          string                 `json:"image_id"`
	Warnings         []pipeline.NodeWarning `json:"warnings"`
	Timing           pipeline.Timing        `json:"timing"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func newImageInfoResponse(res *pipeline.Result) ImageInfoResponse {
	tree := res.Tree
	warnings := res.Warnings
	if warnings == nil {
		warnings = []pipeline.NodeWarning{}
	}
	return ImageInfoResponse{
		ModelAPIResponse: ModelAPIResponse{
			Predictions: tree.Nodes,
			Image:       ImageSize{Width: tree.Width, Height: tree.Height},
		},
		ImageID:  tree.ImageID,
		Warnings: warnings,
		Timing:   res.Timing,
	}
}
