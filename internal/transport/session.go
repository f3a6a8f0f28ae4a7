package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/agentic-k/call-card-ai-assistant-sub000/internal/domain"
)

const closeStreamMessage = `{"type":"CloseStream"}`

// SessionConfig describes one connection to the transcription backend.
type SessionConfig struct {
	Endpoint       string
	AccessToken    string
	ConnectTimeout time.Duration
}

// Hooks receive what a live session observes. All callbacks may fire from the
// session's read goroutine.
type Hooks struct {
	// OnTraffic fires for every frame sent or message received; the
	// reconnection controller uses it as its heartbeat clock.
	OnTraffic func()
	// OnTranscript carries a non-empty transcript with its final flag.
	OnTranscript func(text string, isFinal bool)
	// OnClosed fires exactly once, when the session is no longer usable.
	OnClosed func(policy ClosePolicy, code int, reason string)
}

// Conn is the surface the reconnection controller needs from a live session.
type Conn interface {
	Send(frame []byte)
	Shutdown()
	Abort()
}

// ValidateEndpoint rejects anything but ws:// and wss:// before a dial is attempted.
func ValidateEndpoint(endpoint string) error {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return domain.WrapError(domain.ErrConfiguration, "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err))
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return domain.NewError(domain.ErrConfiguration, "", fmt.Sprintf("endpoint scheme %q is not ws or wss", u.Scheme))
	}
	if u.Host == "" {
		return domain.NewError(domain.ErrConfiguration, "", "endpoint has no host")
	}
	return nil
}

// Session owns exactly one live socket to the backend. Authentication rides in
// the connection sub-protocol, binary frames go out, JSON results come in.
type Session struct {
	id    string
	conn  *websocket.Conn
	hooks Hooks
	log   *slog.Logger

	writeMu      sync.Mutex
	dispatchOnce sync.Once
	shutdownOnce sync.Once
}

// Dial opens and authenticates a new session. The handshake must complete
// within cfg.ConnectTimeout or the attempt fails.
func Dial(ctx context.Context, cfg SessionConfig, hooks Hooks, log *slog.Logger) (*Session, error) {
	if err := ValidateEndpoint(cfg.Endpoint); err != nil {
		return nil, err
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: timeout,
		Subprotocols:     []string{"jwt-" + cfg.AccessToken},
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, _, err := dialer.DialContext(dialCtx, cfg.Endpoint, nil)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTransient, "", fmt.Errorf("connect %s: %w", cfg.Endpoint, err))
	}

	id := uuid.NewString()
	s := &Session{
		id:    id,
		conn:  conn,
		hooks: hooks,
		log:   log.With("session_id", shortID(id)),
	}
	s.Handle(Opened{})
	go s.readLoop()
	return s, nil
}

// ID identifies this connection attempt in logs.
func (s *Session) ID() string { return s.id }

// Handle is the single entry point for socket events.
func (s *Session) Handle(event Event) {
	switch ev := event.(type) {
	case Opened:
		s.log.Debug("session opened")
		s.bumpTraffic()
	case Message:
		s.handleMessage(ev.Payload)
	case Closed:
		s.dispatchClosed(ClassifyClose(ev.Code), ev.Code, ev.Reason)
	case NetError:
		s.dispatchClosed(CloseRetry, 0, ev.Err.Error())
	}
}

// Send transmits one binary audio frame. Failures never propagate to the
// producer; they route into the closed path so audio production continues.
func (s *Session) Send(frame []byte) {
	s.writeMu.Lock()
	err := s.conn.WriteMessage(websocket.BinaryMessage, frame)
	s.writeMu.Unlock()
	if err != nil {
		s.Handle(NetError{Err: fmt.Errorf("send frame: %w", err)})
		return
	}
	s.bumpTraffic()
}

// Shutdown performs the polite stop: a CloseStream control message, the
// normal-closure handshake, then the socket teardown. Idempotent.
func (s *Session) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.WriteMessage(websocket.TextMessage, []byte(closeStreamMessage))
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream stopped"))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
}

// Abort hard-closes the socket. The read loop then surfaces a retryable
// failure, which is exactly what heartbeat staleness wants.
func (s *Session) Abort() {
	_ = s.conn.Close()
}

func (s *Session) readLoop() {
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				s.Handle(Closed{Code: ce.Code, Reason: ce.Text})
			} else {
				s.Handle(NetError{Err: err})
			}
			return
		}
		s.Handle(Message{Payload: payload})
	}
}

// serverMessage is the backend result shape. The final flag may arrive as a
// boolean or be inferred from a type string containing "final".
type serverMessage struct {
	Type        string `json:"type"`
	MessageType string `json:"message_type"`
	IsFinal     *bool  `json:"is_final"`

	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (s *Session) handleMessage(payload []byte) {
	s.bumpTraffic()

	var msg serverMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		s.log.Debug("discarding unparseable message", "error", err)
		return
	}

	if strings.EqualFold(msg.Type, "pong") {
		return
	}

	text := extractTranscript(msg)
	if text == "" {
		return
	}
	if s.hooks.OnTranscript != nil {
		s.hooks.OnTranscript(text, isFinalMessage(msg))
	}
}

func (s *Session) dispatchClosed(policy ClosePolicy, code int, reason string) {
	s.dispatchOnce.Do(func() {
		s.log.Debug("session closed", "code", code, "reason", reason)
		_ = s.conn.Close()
		if s.hooks.OnClosed != nil {
			s.hooks.OnClosed(policy, code, reason)
		}
	})
}

func (s *Session) bumpTraffic() {
	if s.hooks.OnTraffic != nil {
		s.hooks.OnTraffic()
	}
}

func extractTranscript(msg serverMessage) string {
	if len(msg.Channel.Alternatives) == 0 {
		return ""
	}
	return strings.TrimSpace(msg.Channel.Alternatives[0].Transcript)
}

// isFinalMessage resolves the final flag: an explicit is_final boolean wins,
// then a type or message_type whose lowercase form contains "final".
func isFinalMessage(msg serverMessage) bool {
	if msg.IsFinal != nil {
		return *msg.IsFinal
	}
	if strings.Contains(strings.ToLower(msg.Type), "final") {
		return true
	}
	return strings.Contains(strings.ToLower(msg.MessageType), "final")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
