// Package gateway exposes the realtime dialogue session to a browser over a
// single client-facing WebSocket, translating between the small JSON
// envelope protocol described for the frontend and the normalized event
// stream produced by internal/dialogue.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/reallychenchi/Mapijing/internal/dialogue"
	apperrors "github.com/reallychenchi/Mapijing/internal/errors"
	"github.com/reallychenchi/Mapijing/internal/metrics"
)

// Handler owns the WebSocket upgrade and per-connection dialogue wiring. It
// holds no per-client state itself: every accepted connection builds its
// own dialogue.Service and connection struct, so concurrent clients never
// share mutable state.
type Handler struct {
	dialogueCfg dialogue.Config
	log         *logrus.Entry
	upgrader    websocket.Upgrader
	active      sync.WaitGroup
}

// NewHandler builds a Handler that mints one dialogue.Service per accepted
// connection using cfg as the template.
func NewHandler(cfg dialogue.Config, log *logrus.Entry) *Handler {
	return &Handler{
		dialogueCfg: cfg,
		log:         log,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterRoutes mounts the gateway's WebSocket endpoint on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

// Wait blocks until every connection accepted before the call returns has
// torn down. The caller is expected to have already stopped the HTTP
// server from accepting new upgrades before calling this.
func (h *Handler) Wait() {
	h.active.Wait()
}

type clientEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type serverEnvelope struct {
	Type      string `json:"type"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

// connection is the per-client state the forwarder and reader goroutines
// share: the socket (writes serialized behind writeMu, since gorilla's
// Conn forbids concurrent writers), the dialogue session, and the running
// tallies the forwarder resets at turn boundaries.
type connection struct {
	conn   *websocket.Conn
	dialog *dialogue.Service
	log    *logrus.Entry

	writeMu sync.Mutex

	mu            sync.Mutex
	ttsSeq        int
	fullChatText  strings.Builder
	turnStart     time.Time
	turnAwaitsTTS bool
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("gateway: websocket upgrade failed")
		return
	}
	defer conn.Close()

	h.active.Add(1)
	defer h.active.Done()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &connection{
		conn:   conn,
		dialog: dialogue.New(h.dialogueCfg, h.log),
		log:    h.log,
	}
	metrics.SessionsActive.Inc()
	defer metrics.SessionsActive.Dec()
	defer c.teardown()

	go c.pingLoop(ctx)

	for {
		var msg clientEnvelope
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.WithError(err).Debug("gateway: client read error")
			}
			if _, ok := err.(*json.SyntaxError); ok {
				c.sendError(apperrors.CodeUnknown, "Invalid JSON: "+err.Error())
				continue
			}
			return
		}
		c.handleClientMessage(ctx, msg)
	}
}

func (c *connection) handleClientMessage(ctx context.Context, msg clientEnvelope) {
	switch msg.Type {
	case "start_session":
		var data struct {
			InputMod string `json:"input_mod"`
		}
		_ = json.Unmarshal(msg.Data, &data)
		c.startSession(ctx, data.InputMod)

	case "audio_data":
		var data struct {
			Audio string `json:"audio"`
		}
		if err := json.Unmarshal(msg.Data, &data); err != nil || data.Audio == "" {
			return
		}
		if err := c.dialog.SendAudio(data.Audio); err != nil {
			c.sendError(apperrors.CodeNetwork, err.Error())
		}

	case "text_query":
		var data struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(msg.Data, &data); err != nil || data.Text == "" {
			return
		}
		if err := c.dialog.SendText(data.Text); err != nil {
			c.sendError(apperrors.CodeNetwork, err.Error())
		}

	case "say_hello":
		var data struct {
			Content string `json:"content"`
		}
		_ = json.Unmarshal(msg.Data, &data)
		if err := c.dialog.SayHello(data.Content); err != nil {
			c.sendError(apperrors.CodeNetwork, err.Error())
		}

	case "interrupt":
		c.dialog.Interrupt()
		c.mu.Lock()
		c.ttsSeq = 0
		c.fullChatText.Reset()
		c.mu.Unlock()
		c.sendEnvelope("tts_end", map[string]any{"full_text": ""})

	case "finish_session":
		if err := c.dialog.FinishSession(); err != nil {
			c.sendError(apperrors.CodeNetwork, err.Error())
		}

	default:
		c.sendError(apperrors.CodeUnknown, "unsupported message type: "+msg.Type)
	}
}

// startSession connects to the upstream dialogue service and blocks until
// SessionStarted arrives (or the attempt fails), then hands the connection
// off to the forwarder. This ordering — connect, start, only then begin
// draining the translated event stream — matches the sequencing the
// dialogue service's raw-queue bootstrap relies on.
func (c *connection) startSession(ctx context.Context, inputMod string) {
	if err := c.dialog.Connect(ctx); err != nil {
		c.sendError(apperrors.CodeNetwork, "failed to connect to dialogue service")
		return
	}
	if err := c.dialog.StartSession(ctx, inputMod); err != nil {
		c.sendError(apperrors.CodeNetwork, "failed to start dialogue session")
		return
	}

	metrics.SessionsTotal.Inc()
	c.sendEnvelope("session_started", map[string]any{"session_id": c.dialog.SessionID()})
	go c.forward(ctx)
}

// forward consumes the dialogue service's normalized event stream and
// relays each one to the client, attaching the ascending tts_chunk sequence
// number and accumulating the turn's assistant text for tts_end.full_text.
func (c *connection) forward(ctx context.Context) {
	for ev := range c.dialog.ReceiveResponses(ctx) {
		switch ev.Type {
		case "asr_started":
			c.mu.Lock()
			c.ttsSeq = 0
			c.fullChatText.Reset()
			c.mu.Unlock()

		case "asr_result":
			c.sendEnvelope("asr_result", ev.Data)

		case "asr_ended":
			c.mu.Lock()
			c.turnStart = time.Now()
			c.turnAwaitsTTS = true
			c.mu.Unlock()
			c.sendEnvelope("asr_end", map[string]any{"text": ""})

		case "chat_text":
			text, _ := ev.Data["text"].(string)
			c.mu.Lock()
			c.fullChatText.WriteString(text)
			c.mu.Unlock()
			c.sendEnvelope("chat_text", map[string]any{"text": text})

		case "chat_ended":
			// bookkeeping only; nothing to relay to the client.

		case "tts_start":
			// bookkeeping only; nothing to relay to the client.

		case "tts_chunk":
			audio, _ := ev.Data["audio"].(string)
			if audio == "" {
				continue
			}
			c.mu.Lock()
			seq := c.ttsSeq
			c.ttsSeq++
			if c.turnAwaitsTTS {
				metrics.TurnLatency.Observe(time.Since(c.turnStart).Seconds())
				c.turnAwaitsTTS = false
			}
			c.mu.Unlock()
			c.sendEnvelope("tts_chunk", map[string]any{
				"text": "", "audio": audio, "seq": seq, "is_final": false,
			})

		case "tts_ended":
			c.mu.Lock()
			full := c.fullChatText.String()
			c.ttsSeq = 0
			c.fullChatText.Reset()
			c.mu.Unlock()
			c.sendEnvelope("tts_end", map[string]any{"full_text": full})

		case "emotion":
			c.sendEnvelope("emotion", ev.Data)

		case "error":
			message, _ := ev.Data["message"].(string)
			if fatal, _ := ev.Data["is_fatal"].(bool); fatal {
				c.sendError(apperrors.CodeUnknown, message)
				return
			}
			c.log.WithField("message", message).Warn("gateway: non-fatal dialogue error")
		}
	}
}

func (c *connection) sendEnvelope(msgType string, data any) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	env := serverEnvelope{Type: msgType, Data: data, Timestamp: time.Now().UnixMilli()}
	if err := c.conn.WriteJSON(env); err != nil {
		c.log.WithError(err).Debug("gateway: write failed")
	}
}

func (c *connection) sendError(code apperrors.Code, message string) {
	appErr := &apperrors.AppError{Code: code, Message: message}
	env := apperrors.NewEnvelope(appErr)
	c.sendEnvelope(env.Type, env.Data)
}

func (c *connection) teardown() {
	if err := c.dialog.Close(); err != nil {
		c.log.WithError(err).Debug("gateway: dialogue close failed")
	}
}

// pingLoop keeps the browser-facing connection's intermediaries (proxies,
// load balancers) from timing it out. This is independent of the upstream
// dialogue link, which must never receive a WebSocket ping.
func (c *connection) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
