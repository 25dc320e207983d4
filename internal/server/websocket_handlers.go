package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/pedigree/internal/pipeline"
)

// WebSocket upgrader with reasonable defaults.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS is enforced by the deployment's reverse proxy
		return true
	},
}

// WebSocketImageRequest is a diagram sent over the websocket. Image is the
// encoded file, base64 in JSON.
type WebSocketImageRequest struct {
	Type     string `json:"type"` // "image"
	Image    []byte `json:"image"`
	Filename string `json:"filename,omitempty"`
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// WebSocketResponse is a message sent to the client.
type WebSocketResponse struct {
	Type      string             `json:"type"`   // "progress", "result" or "error"
	Status    string             `json:"status"` // "processing", "completed", "error"
	Progress  float64            `json:"progress,omitempty"`
	Node      *WebSocketNodeInfo `json:"node,omitempty"`
	Result    *ImageInfoResponse `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
	ErrorType string             `json:"error_type,omitempty"`
	RequestID string             `json:"request_id,omitempty"`
}

// WebSocketNodeInfo reports the recognition outcome of one node.
type WebSocketNodeInfo struct {
	Index     int    `json:"index"`
	Outcome   string `json:"outcome"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
}

// lockedWriter serializes writes from the progress callback and the handler.
type lockedWriter struct {
	mu   sync.Mutex
	conn WebSocketConnWriter
}

func (l *lockedWriter) WriteMessage(messageType int, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn.WriteMessage(messageType, data)
}

// imageInfoWebSocketHandler handles websocket connections that stream
// per-node recognition progress.
func (s *Server) imageInfoWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	s.logger.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)
	s.handleWebSocketConnection(r.Context(), conn)
}

// handleWebSocketConnection processes messages from a WebSocket connection.
func (s *Server) handleWebSocketConnection(ctx context.Context, conn *websocket.Conn) {
	// Set read deadline to prevent hanging connections
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	out := &lockedWriter{conn: conn}
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error("WebSocket error", "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()

		if messageType == websocket.TextMessage {
			s.handleWebSocketMessage(ctx, out, data)
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		}
	}
}

// handleWebSocketMessage processes one image request.
func (s *Server) handleWebSocketMessage(ctx context.Context, conn WebSocketConnWriter, data []byte) {
	var req WebSocketImageRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendWebSocketError(conn, "", "invalid_request", "Failed to parse request: "+err.Error())
		return
	}
	if req.Type != "" && req.Type != "image" {
		s.sendWebSocketError(conn, "", "invalid_request", "Unsupported request type: "+req.Type)
		return
	}
	if len(req.Image) == 0 {
		s.sendWebSocketError(conn, "", "invalid_request", "No image data provided")
		return
	}

	requestID := s.newID()
	s.sendWebSocketResponse(conn, WebSocketResponse{
		Type:      "progress",
		Status:    "processing",
		RequestID: requestID,
	})

	progress := pipeline.ProgressFunc(func(u pipeline.NodeUpdate) {
		p := 0.0
		if u.Total > 0 {
			p = float64(u.Completed) / float64(u.Total)
		}
		s.sendWebSocketResponse(conn, WebSocketResponse{
			Type:     "progress",
			Status:   "processing",
			Progress: p,
			Node: &WebSocketNodeInfo{
				Index:     u.NodeIndex,
				Outcome:   u.Outcome,
				Completed: u.Completed,
				Total:     u.Total,
			},
			RequestID: requestID,
		})
	})

	res, err := s.processUpload(ctx, req.Filename, req.Image, progress)
	if err != nil {
		imageRequestsTotal.WithLabelValues("websocket", "error").Inc()
		var re *requestError
		msg := err.Error()
		if errors.As(err, &re) {
			msg = re.message
		}
		s.sendWebSocketError(conn, requestID, "processing_error", msg)
		return
	}
	imageRequestsTotal.WithLabelValues("websocket", "success").Inc()

	body := newImageInfoResponse(res)
	s.sendWebSocketResponse(conn, WebSocketResponse{
		Type:      "result",
		Status:    "completed",
		Progress:  1.0,
		Result:    &body,
		RequestID: requestID,
	})
}

// sendWebSocketResponse sends a response message over WebSocket.
func (s *Server) sendWebSocketResponse(conn WebSocketConnWriter, response WebSocketResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		s.logger.Error("Failed to marshal WebSocket response", "error", err)
		return
	}

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Error("Failed to send WebSocket message", "error", err)
		return
	}

	websocketMessagesTotal.WithLabelValues("sent").Inc()
}

// sendWebSocketError sends an error message over WebSocket.
func (s *Server) sendWebSocketError(conn WebSocketConnWriter, requestID, errorType, message string) {
	s.sendWebSocketResponse(conn, WebSocketResponse{
		Type:      "error",
		Status:    "error",
		Error:     message,
		ErrorType: errorType,
		RequestID: requestID,
	})
}
