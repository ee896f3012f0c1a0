// Package upstream holds the raw WebSocket connection to the realtime
// dialogue endpoint: handshake, frame send/receive, and nothing else. It
// has no notion of session state or event translation; internal/dialogue
// builds that on top of it.
package upstream

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/reallychenchi/Mapijing/internal/wire"
)

// Config carries the handshake identity and endpoint for the upstream
// dialogue service.
type Config struct {
	AppID      string
	AccessKey  string
	ResourceID string
	AppKey     string
	BaseURL    string
}

// DefaultResourceID and DefaultAppKey are fixed values the upstream vendor
// assigns to the realtime dialogue endpoint.
const (
	DefaultResourceID = "volc.speech.dialog"
	DefaultAppKey     = "PlgvMymc7f3tQnJ6"
	DefaultBaseURL    = "wss://openspeech.bytedance.com/api/v3/realtime/dialogue"
)

// Client is a single outbound WebSocket connection to the dialogue
// endpoint. It is not safe for concurrent Send* calls from multiple
// goroutines; callers should serialize sends (the gateway does, per
// connection).
type Client struct {
	cfg      Config
	dialer   *websocket.Dialer
	log      *logrus.Entry
	connID   string
	conn     *websocket.Conn
	logID    string
	frames   chan *wire.Frame
	recvErrs chan error
}

// New builds an unconnected Client.
func New(cfg Config, log *logrus.Entry) *Client {
	if cfg.ResourceID == "" {
		cfg.ResourceID = DefaultResourceID
	}
	if cfg.AppKey == "" {
		cfg.AppKey = DefaultAppKey
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	return &Client{
		cfg:      cfg,
		dialer:   &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
		log:      log,
		connID:   uuid.NewString(),
		frames:   make(chan *wire.Frame, 64),
		recvErrs: make(chan error, 1),
	}
}

// LogID returns the upstream's diagnostic X-Tt-Logid header, captured at
// connect time. Empty until Connect succeeds.
func (c *Client) LogID() string { return c.logID }

// Frames returns the channel of frames parsed off the wire. It is closed
// when the receive loop exits.
func (c *Client) Frames() <-chan *wire.Frame { return c.frames }

// Errors returns the channel the receive loop reports its terminal error
// on, if any. It receives at most one value.
func (c *Client) Errors() <-chan error { return c.recvErrs }

// Connect dials the upstream endpoint, sends StartConnection, and starts
// the background receive loop. The upstream does not support ping/pong,
// so no keepalive goroutine is started here.
func (c *Client) Connect(ctx context.Context) error {
	headers := http.Header{}
	headers.Set("X-Api-App-ID", c.cfg.AppID)
	headers.Set("X-Api-Access-Key", c.cfg.AccessKey)
	headers.Set("X-Api-Resource-Id", c.cfg.ResourceID)
	headers.Set("X-Api-App-Key", c.cfg.AppKey)
	headers.Set("X-Api-Connect-Id", c.connID)

	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.BaseURL, headers)
	if err != nil {
		return fmt.Errorf("upstream: dial failed: %w", err)
	}
	c.conn = conn
	if resp != nil {
		c.logID = resp.Header.Get("X-Tt-Logid")
	}
	c.log.WithFields(logrus.Fields{"connect_id": c.connID, "logid": c.logID}).Info("upstream connected")

	if err := c.SendEvent(wire.EventStartConnection, "", map[string]any{}); err != nil {
		conn.Close()
		return fmt.Errorf("upstream: StartConnection failed: %w", err)
	}

	go c.receiveLoop()
	return nil
}

// SendEvent sends a JSON event frame.
func (c *Client) SendEvent(eventID wire.EventID, sessionID string, payload any) error {
	if c.conn == nil {
		return fmt.Errorf("upstream: not connected")
	}
	frame, err := wire.BuildEventFrame(eventID, sessionID, payload)
	if err != nil {
		return fmt.Errorf("upstream: build event frame: %w", err)
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// SendAudio sends a raw audio frame for the given (session-level) event.
func (c *Client) SendAudio(eventID wire.EventID, sessionID string, audio []byte) error {
	if c.conn == nil {
		return fmt.Errorf("upstream: not connected")
	}
	frame, err := wire.BuildAudioFrame(eventID, sessionID, audio)
	if err != nil {
		return fmt.Errorf("upstream: build audio frame: %w", err)
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// Close tears down the connection. Safe to call more than once.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) receiveLoop() {
	defer close(c.frames)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.recvErrs <- fmt.Errorf("upstream: read failed: %w", err)
			return
		}
		frame, err := wire.ParseFrame(data)
		if err != nil {
			c.log.WithError(err).Warn("upstream: dropping unparseable frame")
			continue
		}
		c.frames <- frame
	}
}
