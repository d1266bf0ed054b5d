package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/leadbot/internal/protocol"
	"github.com/ent0n29/leadbot/internal/session"
)

const (
	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// handleChatWS runs one chat session over a websocket. Frames are handled in
// order, so a reply is always written before the next message is read.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	issued := false
	if sessionID == "" {
		sessionID = session.NewID()
		issued = true
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.sessionEvent("ws_connected")
	defer s.sessionEvent("ws_disconnected")

	ctx := r.Context()
	write := func(msg any, t protocol.MessageType) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			return false
		}
		s.countWS("outbound", t)
		return true
	}

	if issued {
		if !write(protocol.SystemEvent{
			Type:      protocol.TypeSystemEvent,
			SessionID: sessionID,
			Code:      protocol.EventSessionStarted,
		}, protocol.TypeSystemEvent) {
			return
		}
	}

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			code := protocol.CodeInvalidRequest
			if errors.Is(err, protocol.ErrUnsupportedType) {
				code = protocol.CodeUnsupportedFrame
			}
			if !write(errorEvent(sessionID, code, false, err.Error()), protocol.TypeErrorEvent) {
				return
			}
			continue
		}

		var out any
		var outType protocol.MessageType
		switch m := parsed.(type) {
		case protocol.UserMessage:
			s.countWS("inbound", m.Type)
			res, err := s.chat.HandleMessage(ctx, sessionID, m.Message)
			if err != nil {
				status, code, reply := classifyTurnError(err)
				if status >= http.StatusInternalServerError {
					s.logger.Warn("ws turn failed", zap.String("session_id", sessionID), zap.String("code", code), zap.Error(err))
				}
				out, outType = errorEvent(sessionID, code, code == protocol.CodeGenerationFailed, reply), protocol.TypeErrorEvent
				break
			}
			body := toSendMessageResponse(res)
			out, outType = protocol.AssistantReply{
				Type:      protocol.TypeAssistantReply,
				SessionID: sessionID,
				Response:  body.Response,
				UserInfo:  body.UserInfo,
				Intent:    body.Intent,
				Step:      body.Step,
				Ended:     body.Ended,
			}, protocol.TypeAssistantReply
		case protocol.ClientControl:
			s.countWS("inbound", m.Type)
			if err := s.chat.Reset(ctx, sessionID); err != nil {
				out, outType = errorEvent(sessionID, protocol.CodeInternal, true, "reset failed"), protocol.TypeErrorEvent
				break
			}
			// A reset conversation continues under a fresh key.
			sessionID = session.NewID()
			out, outType = protocol.SystemEvent{
				Type:      protocol.TypeSystemEvent,
				SessionID: sessionID,
				Code:      protocol.EventConversationReset,
			}, protocol.TypeSystemEvent
		}
		if !write(out, outType) {
			return
		}
	}
}

func errorEvent(sessionID, code string, retryable bool, detail string) protocol.ErrorEvent {
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      code,
		Retryable: retryable,
		Detail:    detail,
	}
}

func (s *Server) countWS(direction string, t protocol.MessageType) {
	if s.metrics == nil {
		return
	}
	s.metrics.WSMessages.WithLabelValues(direction, string(t)).Inc()
}

func (s *Server) sessionEvent(event string) {
	if s.metrics == nil {
		return
	}
	s.metrics.SessionEvents.WithLabelValues(event).Inc()
}
