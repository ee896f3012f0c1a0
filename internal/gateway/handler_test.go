package gateway

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/reallychenchi/Mapijing/internal/dialogue"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	h := NewHandler(dialogue.Config{}, testLogger())
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	return srv, wsURL
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

// TestInterruptEmitsImmediateTTSEnd covers the interrupt message's effect
// per the client protocol: setting the flag produces an empty tts_end
// without waiting on anything upstream.
func TestInterruptEmitsImmediateTTSEnd(t *testing.T) {
	srv, url := newTestServer(t)
	defer srv.Close()

	conn := dial(t, url)
	defer conn.Close()

	if err := conn.WriteJSON(clientEnvelope{Type: "interrupt", Data: json.RawMessage("{}")}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	var env serverEnvelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if env.Type != "tts_end" {
		t.Fatalf("expected tts_end, got %q", env.Type)
	}
	data, ok := env.Data.(map[string]any)
	if !ok || data["full_text"] != "" {
		t.Fatalf("expected empty full_text, got %v", env.Data)
	}
}

// TestUnknownMessageTypeYieldsErrorEnvelope covers the default dispatch
// branch for an unrecognized client message type.
func TestUnknownMessageTypeYieldsErrorEnvelope(t *testing.T) {
	srv, url := newTestServer(t)
	defer srv.Close()

	conn := dial(t, url)
	defer conn.Close()

	if err := conn.WriteJSON(clientEnvelope{Type: "bogus", Data: json.RawMessage("{}")}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	var env serverEnvelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if env.Type != "error" {
		t.Fatalf("expected error envelope, got %q", env.Type)
	}
	data, ok := env.Data.(map[string]any)
	if !ok || !strings.Contains(data["message"].(string), "bogus") {
		t.Fatalf("expected message to mention the unknown type, got %v", env.Data)
	}
}

// TestInvalidJSONYieldsUnknownError covers §6.1's invalid-frame behavior:
// malformed JSON produces an error envelope mentioning "Invalid JSON"
// without dropping the connection.
func TestInvalidJSONYieldsUnknownError(t *testing.T) {
	srv, url := newTestServer(t)
	defer srv.Close()

	conn := dial(t, url)
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not valid json")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	var env serverEnvelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if env.Type != "error" {
		t.Fatalf("expected error envelope, got %q", env.Type)
	}
	data, ok := env.Data.(map[string]any)
	if !ok || !strings.Contains(data["message"].(string), "Invalid JSON") {
		t.Fatalf("expected message to mention Invalid JSON, got %v", env.Data)
	}

	// The connection must still be usable afterward.
	if err := conn.WriteJSON(clientEnvelope{Type: "interrupt", Data: json.RawMessage("{}")}); err != nil {
		t.Fatalf("write after invalid JSON failed: %v", err)
	}
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read after invalid JSON failed: %v", err)
	}
	if env.Type != "tts_end" {
		t.Fatalf("expected tts_end after recovering from invalid JSON, got %q", env.Type)
	}
}
