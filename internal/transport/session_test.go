package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentic-k/call-card-ai-assistant-sub000/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockBackend is an httptest websocket server that negotiates the client's
// requested sub-protocol and hands the upgraded connection to the scenario.
func mockBackend(t *testing.T, scenario func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var header http.Header
		if protos := websocket.Subprotocols(r); len(protos) > 0 {
			header = http.Header{"Sec-WebSocket-Protocol": {protos[0]}}
		}
		conn, err := upgrader.Upgrade(w, r, header)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		scenario(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

type transcriptRecorder struct {
	mu      sync.Mutex
	entries []struct {
		text  string
		final bool
	}
	closed chan struct{}
	policy ClosePolicy
	code   int
}

func newTranscriptRecorder() *transcriptRecorder {
	return &transcriptRecorder{closed: make(chan struct{})}
}

func (r *transcriptRecorder) hooks() Hooks {
	return Hooks{
		OnTranscript: func(text string, isFinal bool) {
			r.mu.Lock()
			r.entries = append(r.entries, struct {
				text  string
				final bool
			}{text, isFinal})
			r.mu.Unlock()
		},
		OnClosed: func(policy ClosePolicy, code int, _ string) {
			r.policy = policy
			r.code = code
			close(r.closed)
		},
	}
}

func (r *transcriptRecorder) snapshot() []struct {
	text  string
	final bool
} {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]struct {
		text  string
		final bool
	}, len(r.entries))
	copy(out, r.entries)
	return out
}

func TestValidateEndpoint(t *testing.T) {
	t.Parallel()

	if err := ValidateEndpoint("wss://backend.example.com/listen"); err != nil {
		t.Fatalf("unexpected error for wss: %v", err)
	}
	if err := ValidateEndpoint("ws://localhost:8080/listen"); err != nil {
		t.Fatalf("unexpected error for ws: %v", err)
	}

	for _, bad := range []string{"https://backend.example.com", "ftp://x", "not a url at all", "ws://"} {
		err := ValidateEndpoint(bad)
		if err == nil {
			t.Fatalf("expected rejection for %q", bad)
		}
		if domain.KindOf(err) != domain.ErrConfiguration {
			t.Fatalf("expected configuration error for %q, got %v", bad, err)
		}
	}
}

func TestDialRejectsBadSchemeBeforeConnecting(t *testing.T) {
	t.Parallel()

	_, err := Dial(context.Background(), SessionConfig{Endpoint: "https://backend.example.com"}, Hooks{}, testLogger())
	if domain.KindOf(err) != domain.ErrConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestDialNegotiatesJWTSubprotocol(t *testing.T) {
	t.Parallel()

	got := make(chan string, 1)
	srv := mockBackend(t, func(conn *websocket.Conn, r *http.Request) {
		protos := websocket.Subprotocols(r)
		if len(protos) > 0 {
			got <- protos[0]
		} else {
			got <- ""
		}
		conn.Close()
	})

	rec := newTranscriptRecorder()
	sess, err := Dial(context.Background(), SessionConfig{Endpoint: wsURL(srv), AccessToken: "secret-token"}, rec.hooks(), testLogger())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer sess.Shutdown()

	select {
	case proto := <-got:
		if proto != "jwt-secret-token" {
			t.Fatalf("expected jwt-secret-token sub-protocol, got %q", proto)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("backend never saw the handshake")
	}
}

func TestSessionDeliversFinalTranscript(t *testing.T) {
	t.Parallel()

	srv := mockBackend(t, func(conn *websocket.Conn, _ *http.Request) {
		msg := `{"channel":{"alternatives":[{"transcript":"test"}]},"is_final":true}`
		_ = conn.WriteMessage(websocket.TextMessage, []byte(msg))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(1000, ""))
		conn.Close()
	})

	rec := newTranscriptRecorder()
	_, err := Dial(context.Background(), SessionConfig{Endpoint: wsURL(srv), AccessToken: "t"}, rec.hooks(), testLogger())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	select {
	case <-rec.closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("session never closed")
	}

	entries := rec.snapshot()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one transcript, got %d", len(entries))
	}
	if entries[0].text != "test" || !entries[0].final {
		t.Fatalf("unexpected transcript: %+v", entries[0])
	}
	if rec.policy != CloseNoRetry || rec.code != 1000 {
		t.Fatalf("expected normal closure, got policy %d code %d", rec.policy, rec.code)
	}
}

func TestSessionIgnoresPongAndEmptyTranscripts(t *testing.T) {
	t.Parallel()

	srv := mockBackend(t, func(conn *websocket.Conn, _ *http.Request) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"channel":{"alternatives":[{"transcript":"  "}]},"is_final":true}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(1000, ""))
		conn.Close()
	})

	rec := newTranscriptRecorder()
	_, err := Dial(context.Background(), SessionConfig{Endpoint: wsURL(srv), AccessToken: "t"}, rec.hooks(), testLogger())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	select {
	case <-rec.closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("session never closed")
	}
	if entries := rec.snapshot(); len(entries) != 0 {
		t.Fatalf("expected no transcripts, got %v", entries)
	}
}

func TestSessionShutdownSendsCloseStream(t *testing.T) {
	t.Parallel()

	received := make(chan string, 4)
	srv := mockBackend(t, func(conn *websocket.Conn, _ *http.Request) {
		for {
			kind, payload, err := conn.ReadMessage()
			if err != nil {
				close(received)
				return
			}
			if kind == websocket.TextMessage {
				received <- string(payload)
			}
		}
	})

	rec := newTranscriptRecorder()
	sess, err := Dial(context.Background(), SessionConfig{Endpoint: wsURL(srv), AccessToken: "t"}, rec.hooks(), testLogger())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	sess.Shutdown()
	sess.Shutdown() // idempotent

	select {
	case msg := <-received:
		if msg != `{"type":"CloseStream"}` {
			t.Fatalf("expected CloseStream control message, got %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("backend never received CloseStream")
	}
}

func TestSessionSendFailureRoutesToClosedPath(t *testing.T) {
	t.Parallel()

	srv := mockBackend(t, func(conn *websocket.Conn, _ *http.Request) {
		conn.Close()
	})

	rec := newTranscriptRecorder()
	sess, err := Dial(context.Background(), SessionConfig{Endpoint: wsURL(srv), AccessToken: "t"}, rec.hooks(), testLogger())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	// Keep sending until the broken pipe surfaces; Send must never panic or
	// return an error to the producer.
	deadline := time.After(2 * time.Second)
	for {
		sess.Send([]byte{0, 0})
		select {
		case <-rec.closed:
			return
		case <-deadline:
			t.Fatalf("send failure never reached the closed path")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestIsFinalMessagePriority(t *testing.T) {
	t.Parallel()

	boolTrue, boolFalse := true, false

	cases := []struct {
		name string
		msg  serverMessage
		want bool
	}{
		{"explicit true", serverMessage{IsFinal: &boolTrue}, true},
		{"explicit false wins over type", serverMessage{IsFinal: &boolFalse, Type: "FinalTranscript"}, false},
		{"type contains final", serverMessage{Type: "FinalTranscript"}, true},
		{"message_type contains final", serverMessage{MessageType: "final_result"}, true},
		{"interim", serverMessage{Type: "PartialTranscript"}, false},
		{"nothing", serverMessage{}, false},
	}
	for _, tc := range cases {
		if got := isFinalMessage(tc.msg); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestDialFailureIsTransient(t *testing.T) {
	t.Parallel()

	_, err := Dial(context.Background(), SessionConfig{
		Endpoint:       "ws://127.0.0.1:1", // nothing listens here
		AccessToken:    "t",
		ConnectTimeout: 200 * time.Millisecond,
	}, Hooks{}, testLogger())
	if err == nil {
		t.Fatalf("expected dial failure")
	}
	if domain.KindOf(err) != domain.ErrTransient {
		t.Fatalf("expected transient classification, got %v", err)
	}
	var pe *domain.PipelineError
	if !errors.As(err, &pe) {
		t.Fatalf("expected a classified error, got %T", err)
	}
}
