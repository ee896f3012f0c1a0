package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	apperrors "github.com/reallychenchi/Mapijing/internal/errors"
)

// Handler exposes the staged pipeline as its own WebSocket companion
// endpoint, for operators who run discrete ASR/LLM/TTS services instead
// of the combined dialogue endpoint C4 drives. Unlike internal/gateway,
// there is no upstream session to bootstrap: every text_query is answered
// directly by a fresh Pipeline.Run call.
type Handler struct {
	newPipeline func(ctx context.Context) (*Pipeline, error)
	log         *logrus.Entry
	upgrader    websocket.Upgrader
}

// NewHandler builds a Handler that mints one Pipeline per accepted
// connection via newPipeline.
func NewHandler(newPipeline func(ctx context.Context) (*Pipeline, error), log *logrus.Entry) *Handler {
	return &Handler{
		newPipeline: newPipeline,
		log:         log,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterRoutes mounts the staged pipeline's WebSocket endpoint on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/pipeline", h.handleWebSocket)
}

type clientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type serverEnvelope struct {
	Type      string `json:"type"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("pipeline: websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx := r.Context()
	p, err := h.newPipeline(ctx)
	if err != nil {
		h.log.WithError(err).Warn("pipeline: failed to build pipeline for connection")
		env := apperrors.NewEnvelope(apperrors.FromException(err, apperrors.CodeLLM, "pipeline unavailable"))
		_ = conn.WriteJSON(serverEnvelope{Type: env.Type, Data: env.Data, Timestamp: time.Now().UnixMilli()})
		return
	}

	var writeMu sync.Mutex
	send := func(msgType string, data any) {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.WriteJSON(serverEnvelope{Type: msgType, Data: data, Timestamp: time.Now().UnixMilli()})
	}

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if _, ok := err.(*json.SyntaxError); ok {
				send("error", map[string]any{"code": apperrors.CodeUnknown, "message": "Invalid JSON: " + err.Error()})
				continue
			}
			return
		}

		switch msg.Type {
		case "text_query":
			var data struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(msg.Data, &data); err != nil || data.Text == "" {
				continue
			}
			h.runTurn(ctx, p, data.Text, send)

		case "interrupt":
			p.Interrupt()

		default:
			send("error", map[string]any{"code": apperrors.CodeUnknown, "message": "unsupported message type: " + msg.Type})
		}
	}
}

func (h *Handler) runTurn(ctx context.Context, p *Pipeline, text string, send func(string, any)) {
	err := p.Run(ctx, text, func(chunk TTSChunk) error {
		send("tts_chunk", map[string]any{
			"text": chunk.Text, "audio": chunk.Audio, "seq": chunk.Seq, "is_final": chunk.IsFinal,
		})
		return nil
	}, func(label string) {
		send("emotion", map[string]any{"emotion": label})
	})
	if err != nil {
		h.log.WithError(err).Warn("pipeline: turn failed")
		appErr := apperrors.FromException(err, apperrors.CodeLLM, "failed to process turn")
		send("error", map[string]any{"code": appErr.Code, "message": appErr.Message})
		return
	}
	send("tts_end", map[string]any{"full_text": ""})
}
