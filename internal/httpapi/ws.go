package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lmittmann/tint"

	"github.com/antoniostano/hal/internal/protocol"
)

const (
	wsIdleTimeout  = 5 * time.Minute
	wsWriteTimeout = 10 * time.Second
)

// handleGenerateWS answers each {"text"} frame with a reply or error frame.
// Frames on one connection are handled in order.
func (s *Server) handleGenerateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx := r.Context()
	conn.SetReadLimit(maxRequestBody)
	_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
	slog.Debug("Generate websocket connected", "remote", r.RemoteAddr)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("Generate websocket closed", tint.Err(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		s.countWS("inbound", "generate")

		out := s.replyFrame(r, data)
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(out); err != nil {
			return
		}
		s.countWS("outbound", string(out.Type))
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Server) replyFrame(r *http.Request, data []byte) protocol.Frame {
	text, err := protocol.ParseGenerate(data)
	switch {
	case errors.Is(err, protocol.ErrMissingText):
		return s.errorFrame(&badRequest{code: "missing_text", detail: "Missing 'text' field"})
	case errors.Is(err, protocol.ErrUnsupportedType):
		return s.errorFrame(&badRequest{code: "unsupported_type", detail: err.Error()})
	case err != nil:
		return s.errorFrame(&badRequest{code: "invalid_json", detail: "Invalid JSON: " + errors.Unwrap(err).Error()})
	}

	reply, err := s.replier.Reply(r.Context(), text)
	if err != nil {
		return s.errorFrame(err)
	}
	s.metrics.CountRequest("generate_ws", "ok")
	return protocol.ReplyFrame(reply.Text, s.audioURL(r, reply.Artifact.Filename))
}

func (s *Server) errorFrame(err error) protocol.Frame {
	_, code, detail := classifyError(err)
	s.metrics.CountRequest("generate_ws", code)
	return protocol.ErrorFrame(code, detail)
}

func (s *Server) countWS(direction, typ string) {
	if s.metrics == nil {
		return
	}
	s.metrics.WSMessages.WithLabelValues(direction, typ).Inc()
}
