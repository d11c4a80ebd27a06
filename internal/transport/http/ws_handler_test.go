package http

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"training-portal/internal/app"
)

type wsMessage struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

func (f *portalFixture) dialExam(t *testing.T, moduleID, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	u := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/exams/" + moduleID + "/ws"
	if token != "" {
		u += "?token=" + token
	}
	return websocket.DefaultDialer.Dial(u, nil)
}

func readNext(conn *websocket.Conn, t *testing.T) wsMessage {
	t.Helper()
	var msg wsMessage
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

// readUntil skips messages until match accepts one.
func readUntil(conn *websocket.Conn, t *testing.T, match func(wsMessage) bool) wsMessage {
	t.Helper()
	for i := 0; i < 20; i++ {
		msg := readNext(conn, t)
		if match(msg) {
			return msg
		}
	}
	t.Fatalf("expected message not received")
	return wsMessage{}
}

func snapshotIn(state app.ExamState) func(wsMessage) bool {
	return func(m wsMessage) bool {
		return m.Type == msgSnapshot && m.Payload["state"] == string(state)
	}
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": typ, "payload": payload}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

func TestExamStreamPassFlow(t *testing.T) {
	f := newPortalFixture(t, Options{})
	token := f.signup(t, "ada@example.com")

	conn, _, err := f.dialExam(t, "sec", token)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	first := readNext(conn, t)
	if first.Type != msgSnapshot || first.Payload["state"] != string(app.StateInProgress) {
		t.Fatalf("expected in-progress snapshot first, got %+v", first)
	}
	if first.Payload["questionCount"].(float64) != 2 {
		t.Fatalf("unexpected question count %v", first.Payload["questionCount"])
	}

	send(t, conn, "answer", map[string]any{"questionIndex": 0, "answer": "b"})
	send(t, conn, "next", nil)
	send(t, conn, "answer", map[string]any{"questionIndex": 1, "answer": "b"})
	readUntil(conn, t, func(m wsMessage) bool {
		return m.Type == msgSnapshot && m.Payload["answeredCount"].(float64) == 2
	})

	send(t, conn, "submit", nil)
	readUntil(conn, t, snapshotIn(app.StateConfirmingSubmit))
	send(t, conn, "confirm", nil)
	passed := readUntil(conn, t, snapshotIn(app.StatePassed))
	if passed.Payload["result"].(map[string]any)["score"].(float64) != 100 {
		t.Fatalf("unexpected result %v", passed.Payload["result"])
	}

	send(t, conn, "certificate", nil)
	cert := readUntil(conn, t, func(m wsMessage) bool { return m.Type != msgSnapshot })
	if cert.Type != msgCertificate || cert.Payload["learnerName"] != "Ada Lovelace" {
		t.Fatalf("expected certificate, got %+v", cert)
	}
}

func TestExamStreamReportsGateErrors(t *testing.T) {
	f := newPortalFixture(t, Options{})
	token := f.signup(t, "ada@example.com")

	conn, _, err := f.dialExam(t, "sec", token)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	readNext(conn, t)

	send(t, conn, "submit", nil)
	msg := readNext(conn, t)
	if msg.Type != msgError || !strings.Contains(msg.Payload["message"].(string), "last question") {
		t.Fatalf("expected last-question error, got %+v", msg)
	}

	send(t, conn, "answer", map[string]any{"answer": "b"})
	msg = readNext(conn, t)
	if msg.Type != msgError || msg.Payload["fields"] == nil {
		t.Fatalf("expected validation error, got %+v", msg)
	}

	send(t, conn, "dance", nil)
	msg = readNext(conn, t)
	if msg.Type != msgError || msg.Payload["message"] != "unsupported message type" {
		t.Fatalf("expected unsupported type error, got %+v", msg)
	}
}

func TestExamStreamEndsOnSignOut(t *testing.T) {
	f := newPortalFixture(t, Options{})
	token := f.signup(t, "ada@example.com")

	conn, _, err := f.dialExam(t, "sec", token)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	readNext(conn, t)

	if resp, _ := f.do(t, http.MethodPost, "/api/logout", token, nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout status %d", resp.StatusCode)
	}
	msg := readUntil(conn, t, func(m wsMessage) bool { return m.Type != msgSnapshot })
	if msg.Type != msgSignedOut {
		t.Fatalf("expected signedOut, got %+v", msg)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected the stream to close after sign-out")
	}
}

func TestExamStreamClosesSessionOnDisconnect(t *testing.T) {
	f := newPortalFixture(t, Options{})
	token := f.signup(t, "ada@example.com")

	conn, _, err := f.dialExam(t, "sec", token)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	readNext(conn, t)
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, _ := f.do(t, http.MethodGet, "/api/exams/sec", token, nil)
		if resp.StatusCode == http.StatusNotFound {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected session to be closed, still %d", resp.StatusCode)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestExamStreamRequiresToken(t *testing.T) {
	f := newPortalFixture(t, Options{})
	_, resp, err := f.dialExam(t, "sec", "")
	if err == nil {
		t.Fatalf("expected dial to fail without a token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 handshake response, got %v", resp)
	}
}

func TestExamStreamUnknownQuiz(t *testing.T) {
	f := newPortalFixture(t, Options{})
	token := f.signup(t, "ada@example.com")

	conn, _, err := f.dialExam(t, "unknown", token)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	msg := readNext(conn, t)
	if msg.Type != msgError || msg.Payload["redirect"] != "/" {
		t.Fatalf("expected error with redirect home, got %+v", msg)
	}
}

type brokenConn struct {
	mu     sync.Mutex
	writes int
	closed bool
}

func (c *brokenConn) SetWriteDeadline(time.Time) error { return nil }

func (c *brokenConn) WriteJSON(any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes++
	return errors.New("i/o timeout")
}

func (c *brokenConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func TestWriteFailureReleasesSenders(t *testing.T) {
	conn := &brokenConn{}
	send := make(chan outboundMessage[any], 1)
	closing := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		writePump(conn, send, zap.NewNop())
	}()

	replies := make(chan int, 1)
	go func() {
		queued := 0
		for i := 0; i < 40; i++ {
			if !deliver(send, outboundMessage[any]{Type: msgError}, closing, writerDone) {
				break
			}
			queued++
		}
		replies <- queued
	}()

	select {
	case queued := <-replies:
		if queued >= 40 {
			t.Fatalf("expected delivery to stop after the writer failed, queued %d", queued)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("sender blocked after the writer stopped")
	}
	<-writerDone

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.writes != 1 || !conn.closed {
		t.Fatalf("expected one failed write and a closed conn, got writes=%d closed=%v", conn.writes, conn.closed)
	}
}

func TestDeliverStopsWhenClosing(t *testing.T) {
	send := make(chan outboundMessage[any])
	closing := make(chan struct{})
	close(closing)
	if deliver(send, outboundMessage[any]{Type: msgSnapshot}, closing, make(chan struct{})) {
		t.Fatalf("expected deliver to give up once the stream is closing")
	}
}
