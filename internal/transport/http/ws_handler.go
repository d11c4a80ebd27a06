package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"training-portal/internal/domain"
)

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message  string            `json:"message"`
	Redirect string            `json:"redirect,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
}

const writeWait = 10 * time.Second

// Outbound message types.
const (
	msgSnapshot    = "snapshot"
	msgCertificate = "certificate"
	msgError       = "error"
	msgSignedOut   = "signedOut"
	msgClosed      = "closed"
)

// serveExamWS upgrades to a websocket that starts (or resumes) the exam and streams
// every snapshot, including timer ticks. The session is closed when the socket ends,
// and the socket ends when the learner signs out elsewhere.
func (h *Handler) serveExamWS(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r)
	moduleID := r.PathValue("moduleId")
	log := h.log.With(zap.String("user_id", id.UserID), zap.String("module_id", moduleID))

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	// server timeouts survive the hijack; the stream manages its own deadlines
	_ = conn.SetReadDeadline(time.Time{})

	if _, err := h.exams.Start(r.Context(), id.UserID, moduleID); err != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: msgError, Payload: wsError(err)})
		return
	}
	defer h.exams.Close(r.Context(), id.UserID, moduleID)

	updates, cancel, err := h.exams.Subscribe(r.Context(), id.UserID, moduleID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: msgError, Payload: wsError(err)})
		return
	}
	defer cancel()

	authEvents, cancelAuth := h.auth.Subscribe(id.UserID)
	defer cancelAuth()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		writePump(conn, send, log)
	}()

	// end unblocks the read loop so the connection winds down.
	end := func(msg outboundMessage[any]) {
		deliver(send, msg, closeSignals, writerDone)
		_ = conn.SetReadDeadline(time.Now())
	}

	go func() {
		defer close(updatesDone)
		for {
			select {
			case snap, ok := <-updates:
				if !ok {
					end(outboundMessage[any]{Type: msgClosed, Payload: struct{}{}})
					return
				}
				if !deliver(send, outboundMessage[any]{Type: msgSnapshot, Payload: snap}, closeSignals, writerDone) {
					return
				}
			case ev, ok := <-authEvents:
				if ok && ev.SignedIn {
					continue
				}
				end(outboundMessage[any]{Type: msgSignedOut, Payload: ev})
				return
			case <-closeSignals:
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if reply, ok := h.dispatchExam(r, id.UserID, moduleID, inbound); ok {
			if !deliver(send, reply, closeSignals, writerDone) {
				break
			}
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	log.Debug("exam stream ended")
}

type jsonWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteJSON(v any) error
	Close() error
}

// writePump writes queued messages until send closes. A failed write closes the
// connection so the read loop stops too.
func writePump(conn jsonWriter, send <-chan outboundMessage[any], log *zap.Logger) {
	for msg := range send {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			log.Debug("ws write failed", zap.Error(err))
			_ = conn.Close()
			return
		}
	}
}

// deliver queues msg for the writer. It reports false once the stream is closing
// or the writer has stopped.
func deliver(send chan<- outboundMessage[any], msg outboundMessage[any], closing, writerDone <-chan struct{}) bool {
	select {
	case send <- msg:
		return true
	case <-closing:
		return false
	case <-writerDone:
		return false
	}
}

// dispatchExam applies one inbound command. Successful state changes reach the client
// through the snapshot stream, so only errors and certificates produce a reply.
func (h *Handler) dispatchExam(r *http.Request, userID, moduleID string, in inboundMessage) (outboundMessage[any], bool) {
	ctx := r.Context()
	var err error
	switch in.Type {
	case "answer":
		var p answerRequest
		if fields, ok := h.decodePayload(in.Payload, &p); !ok {
			return outboundMessage[any]{Type: msgError, Payload: errorPayload{Message: "invalid answer payload", Fields: fields}}, true
		}
		_, err = h.exams.Answer(ctx, userID, moduleID, *p.QuestionIndex, p.Answer)
	case "jump":
		var p jumpRequest
		if fields, ok := h.decodePayload(in.Payload, &p); !ok {
			return outboundMessage[any]{Type: msgError, Payload: errorPayload{Message: "invalid jump payload", Fields: fields}}, true
		}
		_, err = h.exams.Jump(ctx, userID, moduleID, *p.Index)
	case "previous":
		_, err = h.exams.Previous(ctx, userID, moduleID)
	case "next":
		_, err = h.exams.Next(ctx, userID, moduleID)
	case "submit":
		_, err = h.exams.RequestSubmit(ctx, userID, moduleID)
	case "confirm":
		_, err = h.exams.ConfirmSubmit(ctx, userID, moduleID)
	case "cancel":
		_, err = h.exams.CancelSubmit(ctx, userID, moduleID)
	case "retry":
		_, err = h.exams.Retry(ctx, userID, moduleID)
	case "certificate":
		var cert domain.Certificate
		cert, err = h.exams.Certificate(ctx, userID, moduleID)
		if err == nil {
			return outboundMessage[any]{Type: msgCertificate, Payload: cert}, true
		}
	default:
		return outboundMessage[any]{Type: msgError, Payload: errorPayload{Message: "unsupported message type"}}, true
	}
	if err != nil {
		return outboundMessage[any]{Type: msgError, Payload: wsError(err)}, true
	}
	return outboundMessage[any]{}, false
}

func (h *Handler) decodePayload(raw json.RawMessage, dst any) (map[string]string, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return nil, false
	}
	if fields := h.validate.Struct(dst); len(fields) > 0 {
		return fields, false
	}
	return nil, true
}

func wsError(err error) errorPayload {
	if errors.Is(err, domain.ErrSessionNotFound) {
		return errorPayload{Message: err.Error(), Redirect: "/"}
	}
	_, resp := statusFor(err)
	return errorPayload{Message: resp.Error, Redirect: resp.Redirect}
}

