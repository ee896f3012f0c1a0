// Package dialogue presents the realtime dialogue session as a single
// stream of normalized events, decoupled from the upstream wire protocol.
// It owns one upstream.Client plus two bounded queues (decoded frames and
// session/transport errors) and translates frames into the small event
// vocabulary the gateway forwards to the browser.
package dialogue

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/reallychenchi/Mapijing/internal/metrics"
	"github.com/reallychenchi/Mapijing/internal/upstream"
	"github.com/reallychenchi/Mapijing/internal/wire"
)

const (
	defaultResponseQueueCapacity = 256
	defaultErrorQueueCapacity    = 32
	startSessionTimeout          = 10 * time.Second
	defaultHelloGreeting         = "你好，我是小马，有什么可以帮助你的吗？"
)

// Config carries the dialogue-level tunables layered on top of the
// upstream handshake identity.
type Config struct {
	AppID      string
	AccessKey  string
	ResourceID string
	AppKey     string
	BaseURL    string

	Model             string
	Speaker           string
	OutputAudioFormat string
	OutputSampleRate  int

	BotName       string
	SystemRole    string
	SpeakingStyle string
	Location      map[string]string

	EndSmoothWindowMs  int
	RecvTimeoutSeconds int
	StrictAudit        bool

	ResponseQueueCapacity int
	ErrorQueueCapacity    int
}

func (c *Config) applyDefaults() {
	if c.Model == "" {
		c.Model = "O"
	}
	if c.Speaker == "" {
		c.Speaker = "zh_female_vv_jupiter_bigtts"
	}
	if c.OutputAudioFormat == "" {
		c.OutputAudioFormat = "pcm"
	}
	if c.OutputSampleRate == 0 {
		c.OutputSampleRate = 24000
	}
	if c.BotName == "" {
		c.BotName = "小马"
	}
	if c.SystemRole == "" {
		c.SystemRole = "你是一个友善、温暖的AI助手，名叫小马。你善于倾听，能够给予用户情感支持和陪伴。"
	}
	if c.SpeakingStyle == "" {
		c.SpeakingStyle = "你的说话风格简洁明了，语速适中，语调自然，充满关怀。"
	}
	if c.Location == nil {
		c.Location = map[string]string{"city": "北京", "country": "中国"}
	}
	if c.EndSmoothWindowMs == 0 {
		c.EndSmoothWindowMs = 1500
	}
	if c.RecvTimeoutSeconds == 0 {
		c.RecvTimeoutSeconds = 30
	}
	if c.ResponseQueueCapacity <= 0 {
		c.ResponseQueueCapacity = defaultResponseQueueCapacity
	}
	if c.ErrorQueueCapacity <= 0 {
		c.ErrorQueueCapacity = defaultErrorQueueCapacity
	}
}

func (c Config) startSessionPayload(inputMod string) map[string]any {
	return map[string]any{
		"asr": map[string]any{
			"extra": map[string]any{"end_smooth_window_ms": c.EndSmoothWindowMs},
		},
		"tts": map[string]any{
			"speaker": c.Speaker,
			"audio_config": map[string]any{
				"channel":     1,
				"format":      c.OutputAudioFormat,
				"sample_rate": c.OutputSampleRate,
			},
		},
		"dialog": map[string]any{
			"bot_name":       c.BotName,
			"system_role":    c.SystemRole,
			"speaking_style": c.SpeakingStyle,
			"location":       c.Location,
			"extra": map[string]any{
				"strict_audit": c.StrictAudit,
				"recv_timeout": c.RecvTimeoutSeconds,
				"input_mod":    inputMod,
				"model":        c.Model,
			},
		},
	}
}

// Event is a normalized, transport-agnostic dialogue event.
type Event struct {
	Type string
	Data map[string]any
}

type queuedError struct {
	Message string
	Fatal   bool
}

// Service is the per-connection dialogue session.
type Service struct {
	cfg    Config
	log    *logrus.Entry
	client *upstream.Client

	sessionID string

	mu             sync.RWMutex
	sessionStarted bool
	interrupted    bool

	responseQueue chan *wire.Frame
	errorQueue    chan queuedError
}

// New builds an unconnected Service.
func New(cfg Config, log *logrus.Entry) *Service {
	cfg.applyDefaults()
	return &Service{
		cfg:           cfg,
		log:           log,
		responseQueue: make(chan *wire.Frame, cfg.ResponseQueueCapacity),
		errorQueue:    make(chan queuedError, cfg.ErrorQueueCapacity),
	}
}

// SessionID returns the session id generated by Connect.
func (s *Service) SessionID() string { return s.sessionID }

// IsSessionStarted reports whether SessionStarted has been observed.
func (s *Service) IsSessionStarted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionStarted
}

// Connect dials the upstream client, generates a fresh session id, and
// starts the background frame pump.
func (s *Service) Connect(ctx context.Context) error {
	s.sessionID = uuid.NewString()
	s.client = upstream.New(upstream.Config{
		AppID:      s.cfg.AppID,
		AccessKey:  s.cfg.AccessKey,
		ResourceID: s.cfg.ResourceID,
		AppKey:     s.cfg.AppKey,
		BaseURL:    s.cfg.BaseURL,
	}, s.log)

	if err := s.client.Connect(ctx); err != nil {
		return err
	}
	go s.pump()
	return nil
}

// pump drains the upstream client's raw frame/error channels and routes
// each frame into either the response queue or the error queue.
func (s *Service) pump() {
	frames := s.client.Frames()
	errs := s.client.Errors()
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				s.pushError(queuedError{Message: "upstream connection closed", Fatal: true})
				return
			}
			s.route(f)
		case err, ok := <-errs:
			if !ok {
				continue
			}
			s.pushError(queuedError{Message: err.Error(), Fatal: true})
			return
		}
	}
}

// route classifies a decoded frame: session/transport errors go to the
// error queue (never dropped), everything else goes to the response queue
// (dropped with a logged warning when full).
func (s *Service) route(f *wire.Frame) {
	switch {
	case f.HasEvent && f.EventID == wire.EventSessionFailed:
		s.mu.Lock()
		s.sessionStarted = false
		s.mu.Unlock()
		s.pushError(queuedError{Message: extractErrorField(f, "Session failed"), Fatal: true})
	case f.HasEvent && f.EventID == wire.EventSessionFinished:
		s.mu.Lock()
		s.sessionStarted = false
		s.mu.Unlock()
		s.enqueueResponse(f)
	case f.IsError():
		s.pushError(queuedError{Message: extractErrorField(f, "Unknown error"), Fatal: false})
	case f.HasEvent && f.EventID == wire.EventDialogCommonError:
		s.pushError(queuedError{Message: extractDialogCommonError(f), Fatal: false})
	default:
		s.enqueueResponse(f)
	}
}

func (s *Service) enqueueResponse(f *wire.Frame) {
	select {
	case s.responseQueue <- f:
	default:
		metrics.UpstreamFramesDropped.Inc()
		s.log.WithField("event", f.EventID).Warn("dialogue: response queue full, dropping frame")
	}
}

// pushError delivers e, blocking if the queue is momentarily full rather
// than dropping — session failures and dialog errors are never discarded.
func (s *Service) pushError(e queuedError) {
	select {
	case s.errorQueue <- e:
	default:
		s.log.Warn("dialogue: error queue full, blocking until delivered")
		s.errorQueue <- e
	}
}

// StartSession sends StartSession and blocks on the raw response queue,
// discarding any bootstrap frame that is not SessionStarted, until either
// SessionStarted arrives or a single cumulative deadline elapses.
func (s *Service) StartSession(ctx context.Context, inputMod string) error {
	if inputMod == "" {
		inputMod = "audio"
	}
	if err := s.client.SendEvent(wire.EventStartSession, s.sessionID, s.cfg.startSessionPayload(inputMod)); err != nil {
		return fmt.Errorf("dialogue: send StartSession: %w", err)
	}

	deadline := time.NewTimer(startSessionTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("dialogue: timed out waiting for SessionStarted")
		case f := <-s.responseQueue:
			if f.HasEvent && f.EventID == wire.EventSessionStarted {
				s.mu.Lock()
				s.sessionStarted = true
				s.mu.Unlock()
				return nil
			}
			// bootstrap frame received before SessionStarted: discard it.
		}
	}
}

// SendAudio base64-decodes and forwards audio. A no-op, not an error, when
// the session isn't ready yet.
func (s *Service) SendAudio(base64Audio string) error {
	if !s.IsSessionStarted() {
		s.log.Warn("dialogue: cannot send audio, session not ready")
		return nil
	}
	audio, err := base64.StdEncoding.DecodeString(base64Audio)
	if err != nil {
		return fmt.Errorf("dialogue: decode audio: %w", err)
	}
	return s.client.SendAudio(wire.EventTaskRequest, s.sessionID, audio)
}

// SendText forwards a text query.
func (s *Service) SendText(text string) error {
	if !s.IsSessionStarted() {
		s.log.Warn("dialogue: cannot send text, session not ready")
		return nil
	}
	return s.client.SendEvent(wire.EventChatTextQuery, s.sessionID, map[string]string{"content": text})
}

// SayHello sends a greeting, defaulting to defaultHelloGreeting when content
// is empty.
func (s *Service) SayHello(content string) error {
	if !s.IsSessionStarted() {
		s.log.Warn("dialogue: cannot say hello, session not ready")
		return nil
	}
	if content == "" {
		content = defaultHelloGreeting
	}
	return s.client.SendEvent(wire.EventSayHello, s.sessionID, map[string]string{"content": content})
}

// Interrupt drops every normalized event until the next turn begins.
func (s *Service) Interrupt() {
	s.mu.Lock()
	s.interrupted = true
	s.mu.Unlock()
}

// FinishSession ends the dialogue session but keeps the WebSocket open.
func (s *Service) FinishSession() error {
	if s.client == nil {
		return nil
	}
	err := s.client.SendEvent(wire.EventFinishSession, s.sessionID, map[string]any{})
	s.mu.Lock()
	s.sessionStarted = false
	s.mu.Unlock()
	return err
}

// Close gracefully tears down the session and the underlying connection.
func (s *Service) Close() error {
	if s.client == nil {
		return nil
	}
	if err := s.FinishSession(); err != nil {
		s.log.WithError(err).Warn("dialogue: FinishSession failed during close")
	}
	if err := s.client.SendEvent(wire.EventFinishConnection, "", map[string]any{}); err != nil {
		s.log.WithError(err).Warn("dialogue: FinishConnection failed during close")
	}
	return s.client.Close()
}

// ReceiveResponses starts the translation loop and returns the channel of
// normalized events. It closes the channel when ctx is done, a fatal error
// is observed, or the upstream closes.
func (s *Service) ReceiveResponses(ctx context.Context) <-chan Event {
	out := make(chan Event, s.cfg.ResponseQueueCapacity)
	s.mu.Lock()
	s.interrupted = false
	s.mu.Unlock()
	go s.receiveLoop(ctx, out)
	return out
}

func (s *Service) receiveLoop(ctx context.Context, out chan<- Event) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case qe := <-s.errorQueue:
			select {
			case out <- Event{Type: "error", Data: map[string]any{"message": qe.Message, "is_fatal": qe.Fatal}}:
			case <-ctx.Done():
				return
			}
			if qe.Fatal {
				return
			}
		case f := <-s.responseQueue:
			s.handleFrame(f, out, ctx)
		}
	}
}

// handleFrame clears the interrupt flag the moment a new turn's leading
// event arrives, then either drops or translates and forwards the frame.
func (s *Service) handleFrame(f *wire.Frame, out chan<- Event, ctx context.Context) {
	if f.HasEvent && (f.EventID == wire.EventASRInfo || f.EventID == wire.EventChatTextQueryConfirmed) {
		s.mu.Lock()
		s.interrupted = false
		s.mu.Unlock()
	}

	s.mu.RLock()
	interrupted := s.interrupted
	s.mu.RUnlock()
	if interrupted {
		return
	}

	ev, ok := convert(f)
	if !ok {
		return
	}
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}

// convert pattern-matches a decoded frame into the normalized vocabulary.
// EventChatRAGText is a supplemented variant of EventChatResponse, carrying
// an extra rag:true data field.
func convert(f *wire.Frame) (Event, bool) {
	if !f.HasEvent {
		return Event{}, false
	}

	switch f.EventID {
	case wire.EventASRInfo:
		var p struct {
			QuestionID string `json:"question_id"`
		}
		_ = f.DecodeJSON(&p)
		return Event{Type: "asr_started", Data: map[string]any{"question_id": p.QuestionID}}, true

	case wire.EventASRResponse:
		var p struct {
			Results []struct {
				Text      string `json:"text"`
				IsInterim bool   `json:"is_interim"`
			} `json:"results"`
		}
		if err := f.DecodeJSON(&p); err != nil {
			return Event{}, false
		}
		for _, r := range p.Results {
			if r.Text == "" {
				continue
			}
			return Event{Type: "asr_result", Data: map[string]any{"text": r.Text, "is_final": !r.IsInterim}}, true
		}
		return Event{}, false

	case wire.EventASREnded:
		return Event{Type: "asr_ended", Data: map[string]any{}}, true

	case wire.EventChatResponse, wire.EventChatRAGText:
		var p struct {
			Content    string `json:"content"`
			QuestionID string `json:"question_id"`
			ReplyID    string `json:"reply_id"`
		}
		if err := f.DecodeJSON(&p); err != nil || p.Content == "" {
			return Event{}, false
		}
		data := map[string]any{"text": p.Content, "question_id": p.QuestionID, "reply_id": p.ReplyID}
		if f.EventID == wire.EventChatRAGText {
			data["rag"] = true
		}
		return Event{Type: "chat_text", Data: data}, true

	case wire.EventChatEnded:
		return Event{Type: "chat_ended", Data: decodeObjectOrEmpty(f)}, true

	case wire.EventTTSSentenceStart:
		var p struct {
			TTSType string `json:"tts_type"`
			Text    string `json:"text"`
		}
		if err := f.DecodeJSON(&p); err != nil {
			return Event{}, false
		}
		if p.TTSType == "" {
			p.TTSType = "default"
		}
		return Event{Type: "tts_start", Data: map[string]any{"tts_type": p.TTSType, "text": p.Text}}, true

	case wire.EventTTSResponse:
		if f.Header.MessageType != wire.ServerAck {
			return Event{}, false
		}
		return Event{Type: "tts_chunk", Data: map[string]any{"audio": base64.StdEncoding.EncodeToString(f.Payload)}}, true

	case wire.EventTTSEnded:
		return Event{Type: "tts_ended", Data: decodeObjectOrEmpty(f)}, true

	default:
		return Event{}, false
	}
}

func decodeObjectOrEmpty(f *wire.Frame) map[string]any {
	var p map[string]any
	if err := f.DecodeJSON(&p); err != nil || p == nil {
		return map[string]any{}
	}
	return p
}

func extractErrorField(f *wire.Frame, fallback string) string {
	var p struct {
		Error string `json:"error"`
	}
	if err := f.DecodeJSON(&p); err == nil && p.Error != "" {
		return p.Error
	}
	return fallback
}

func extractDialogCommonError(f *wire.Frame) string {
	var p struct {
		StatusCode any    `json:"status_code"`
		Message    string `json:"message"`
	}
	if err := f.DecodeJSON(&p); err != nil {
		return "Dialog error"
	}
	status := "unknown"
	if p.StatusCode != nil {
		status = fmt.Sprintf("%v", p.StatusCode)
	}
	message := p.Message
	if message == "" {
		message = "Dialog error"
	}
	return fmt.Sprintf("%s: %s", status, message)
}
