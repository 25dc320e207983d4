package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/pedigree/internal/pipeline"
	"github.com/MeKo-Tech/pedigree/internal/testutil"
)

// mockWebSocketConn records written messages.
type mockWebSocketConn struct {
	sentMessages []sentMessage
}

type sentMessage struct {
	messageType int
	data        []byte
}

func (m *mockWebSocketConn) WriteMessage(messageType int, data []byte) error {
	m.sentMessages = append(m.sentMessages, sentMessage{messageType: messageType, data: data})
	return nil
}

func (m *mockWebSocketConn) responses(t *testing.T) []WebSocketResponse {
	t.Helper()
	out := make([]WebSocketResponse, 0, len(m.sentMessages))
	for _, msg := range m.sentMessages {
		assert.Equal(t, websocket.TextMessage, msg.messageType)
		var r WebSocketResponse
		require.NoError(t, json.Unmarshal(msg.data, &r))
		out = append(out, r)
	}
	return out
}

func TestServer_SendWebSocketResponse(t *testing.T) {
	mockConn := &mockWebSocketConn{}
	server := newTestServer(t, &fakeProcessor{}, Config{})

	response := WebSocketResponse{
		Type:      "progress",
		Status:    "processing",
		Progress:  0.5,
		Node:      &WebSocketNodeInfo{Index: 2, Outcome: pipeline.OutcomeSuccess, Completed: 1, Total: 2},
		RequestID: "test-request-id",
	}
	server.sendWebSocketResponse(mockConn, response)

	got := mockConn.responses(t)
	require.Len(t, got, 1)
	assert.Equal(t, response, got[0])
}

func TestServer_SendWebSocketError(t *testing.T) {
	mockConn := &mockWebSocketConn{}
	server := newTestServer(t, &fakeProcessor{}, Config{})

	server.sendWebSocketError(mockConn, "req-7", "test_error", "Test error message")

	got := mockConn.responses(t)
	require.Len(t, got, 1)
	assert.Equal(t, "error", got[0].Type)
	assert.Equal(t, "error", got[0].Status)
	assert.Equal(t, "Test error message", got[0].Error)
	assert.Equal(t, "test_error", got[0].ErrorType)
	assert.Equal(t, "req-7", got[0].RequestID)
}

func TestServer_HandleWebSocketMessage_InvalidRequests(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantMsg string
	}{
		{"not json", "{broken", "Failed to parse request"},
		{"wrong type", `{"type":"pdf","image":"AAAA"}`, "Unsupported request type: pdf"},
		{"no image", `{"type":"image"}`, "No image data provided"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockConn := &mockWebSocketConn{}
			server := newTestServer(t, &fakeProcessor{}, Config{})

			server.handleWebSocketMessage(t.Context(), mockConn, []byte(tt.payload))

			got := mockConn.responses(t)
			require.Len(t, got, 1)
			assert.Equal(t, "error", got[0].Type)
			assert.Equal(t, "invalid_request", got[0].ErrorType)
			assert.Contains(t, got[0].Error, tt.wantMsg)
			assert.Empty(t, got[0].RequestID)
		})
	}
}

func TestServer_HandleWebSocketMessage_UndecodableImage(t *testing.T) {
	mockConn := &mockWebSocketConn{}
	server := newTestServer(t, &fakeProcessor{}, Config{})

	payload, err := json.Marshal(WebSocketImageRequest{Type: "image", Image: []byte("not an image")})
	require.NoError(t, err)
	server.handleWebSocketMessage(t.Context(), mockConn, payload)

	got := mockConn.responses(t)
	require.Len(t, got, 2)
	assert.Equal(t, "progress", got[0].Type)
	assert.Equal(t, "img-1", got[0].RequestID)
	assert.Equal(t, "error", got[1].Type)
	assert.Equal(t, "processing_error", got[1].ErrorType)
	assert.Equal(t, "img-1", got[1].RequestID)
}

func TestImageInfoWebSocket_EndToEnd(t *testing.T) {
	d := testutil.SampleDiagram()
	s := newTestServer(t, newStubPipeline(t, d), Config{})
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/image-info"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	require.NoError(t, conn.WriteJSON(WebSocketImageRequest{
		Type:     "image",
		Image:    encodePNG(t, d.Render()),
		Filename: "family.png",
	}))

	var (
		nodeUpdates []WebSocketNodeInfo
		final       WebSocketResponse
	)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	for {
		var msg WebSocketResponse
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type != "progress" {
			final = msg
			break
		}
		assert.Equal(t, "processing", msg.Status)
		if msg.Node != nil {
			nodeUpdates = append(nodeUpdates, *msg.Node)
		}
	}

	require.Equal(t, "result", final.Type, final.Error)
	assert.Equal(t, "completed", final.Status)
	require.NotNil(t, final.Result)
	assert.Equal(t, "img-1", final.Result.ImageID)
	assert.Len(t, final.Result.ModelAPIResponse.Predictions, 3)

	// Two of the three symbols carry a label.
	require.Len(t, nodeUpdates, 2)
	assert.Equal(t, 2, nodeUpdates[1].Completed)
	for _, u := range nodeUpdates {
		assert.Equal(t, 2, u.Total)
		assert.Equal(t, pipeline.OutcomeSuccess, u.Outcome)
	}
}

func TestWebSocketUpgrader(t *testing.T) {
	t.Run("check origin allows any origin", func(t *testing.T) {
		for _, origin := range []string{"http://example.com", "https://another-domain.com"} {
			allowed := upgrader.CheckOrigin(&http.Request{Header: http.Header{"Origin": []string{origin}}})
			assert.True(t, allowed, origin)
		}
	})

	t.Run("buffer sizes", func(t *testing.T) {
		assert.Equal(t, 1024, upgrader.ReadBufferSize)
		assert.Equal(t, 1024, upgrader.WriteBufferSize)
	})
}
