package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/pedigree/internal/pipeline"
	"github.com/MeKo-Tech/pedigree/internal/utils"
)

func newImageID() string {
	return uuid.NewString()
}

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// imageInfoHandler runs the pipeline on an uploaded diagram.
func (s *Server) imageInfoHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := s.maxUploadMB * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeErrorResponse(w, "File too large", http.StatusRequestEntityTooLarge)
		} else {
			s.writeErrorResponse(w, "Failed to parse form data", http.StatusBadRequest)
		}
		imageRequestsTotal.WithLabelValues("http", "error").Inc()
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeErrorResponse(w, "No image file provided", http.StatusBadRequest)
		imageRequestsTotal.WithLabelValues("http", "error").Inc()
		return
	}
	defer func() { _ = file.Close() }()
	uploadSizeBytes.Observe(float64(header.Size))

	// apply_orientation_correction is accepted for compatibility and ignored.
	data, err := io.ReadAll(file)
	if err != nil {
		s.writeErrorResponse(w, "Failed to read image data", http.StatusBadRequest)
		imageRequestsTotal.WithLabelValues("http", "error").Inc()
		return
	}

	res, err := s.processUpload(r.Context(), header.Filename, data, nil)
	if err != nil {
		var re *requestError
		errors.As(err, &re)
		s.writeErrorResponse(w, re.message, re.status)
		imageRequestsTotal.WithLabelValues("http", "error").Inc()
		return
	}
	imageRequestsTotal.WithLabelValues("http", "success").Inc()
	s.writeJSON(w, http.StatusOK, newImageInfoResponse(res))
}

// requestError is a failure that maps to an HTTP status.
type requestError struct {
	status  int
	message string
	err     error
}

func (e *requestError) Error() string {
	if e.err == nil {
		return e.message
	}
	return e.message + ": " + e.err.Error()
}

func (e *requestError) Unwrap() error { return e.err }

// processUpload decodes data, stores its grayscale rendition under the save
// directory and runs the pipeline on it. Errors are *requestError.
func (s *Server) processUpload(
	ctx context.Context,
	filename string,
	data []byte,
	progress pipeline.ProgressCallback,
) (*pipeline.Result, error) {
	img, _, err := utils.DecodeImageBytes(data)
	if err != nil {
		return nil, &requestError{status: http.StatusUnprocessableEntity, message: "Invalid image format", err: err}
	}
	gray := utils.ToGrayscale(img)

	id := s.newID()
	logger := s.logger.With("image_id", id)
	path := s.uploadPath(id, filename)
	if err := utils.SaveImage(path, gray); err != nil {
		logger.Error("Failed to save upload", "path", path, "error", err)
		return nil, &requestError{status: http.StatusInternalServerError, message: "Failed to store image", err: err}
	}
	logger.Info("Image received", "path", path, "width", gray.Bounds().Dx(), "height", gray.Bounds().Dy())

	opts := []pipeline.ProcessOption{pipeline.WithImage(gray)}
	if progress != nil {
		opts = append(opts, pipeline.WithProgress(progress))
	}
	res, err := s.pipeline.Process(ctx, id, path, opts...)
	if err != nil {
		logger.Error("Processing failed", "error", err)
		return nil, &requestError{status: statusFor(err), message: "Processing failed: " + err.Error(), err: err}
	}
	nodesPerImage.Observe(float64(len(res.Tree.Nodes)))
	return res, nil
}

// uploadPath keeps the client's base file name; uploads without a usable
// name are stored under the image id.
func (s *Server) uploadPath(id, filename string) string {
	name := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	if name == "." || name == "/" || name == "" || strings.HasPrefix(name, "..") {
		name = id + ".png"
	}
	return filepath.Join(s.saveDir, name)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrNoNodes), errors.Is(err, pipeline.ErrImageLoad):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// downloadLogHandler streams the application log file.
func (s *Server) downloadLogHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.logFile == "" {
		s.writeErrorResponse(w, "Log file not configured", http.StatusNotFound)
		return
	}
	f, err := os.Open(s.logFile)
	if err != nil {
		s.writeErrorResponse(w, "Log file not found", http.StatusNotFound)
		return
	}
	defer func() { _ = f.Close() }()

	fi, err := f.Stat()
	if err != nil {
		s.writeErrorResponse(w, "Log file not readable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="app.log"`)
	http.ServeContent(w, r, "app.log", fi.ModTime(), f)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

// writeErrorResponse writes a JSON error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, statusCode, ErrorResponse{Error: message})
}
