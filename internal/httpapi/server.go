package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/leadbot/internal/chat"
	"github.com/ent0n29/leadbot/internal/config"
	"github.com/ent0n29/leadbot/internal/conversation"
	"github.com/ent0n29/leadbot/internal/observability"
	"github.com/ent0n29/leadbot/internal/protocol"
	"github.com/ent0n29/leadbot/internal/session"
	"github.com/ent0n29/leadbot/internal/store"
)

// SessionCookie carries the opaque session id between browser requests.
const SessionCookie = "leadbot_session"

const (
	failureReply = "Lo siento, hubo un error al procesar tu mensaje. Por favor, intenta de nuevo."
	endedReply   = "La conversación ha terminado. Reinicia la conversación para empezar de nuevo."
)

// ChatService is the controller surface the transport drives.
type ChatService interface {
	HandleMessage(ctx context.Context, sessionID, message string) (chat.Result, error)
	Reset(ctx context.Context, sessionID string) error
	History(ctx context.Context, email string) (store.User, []store.ConversationRecord, error)
}

type Server struct {
	cfg      config.Config
	chat     ChatService
	metrics  *observability.Metrics
	logger   *zap.Logger
	upgrader websocket.Upgrader
	static   http.Handler
}

func New(cfg config.Config, chatService ChatService, metrics *observability.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:     cfg,
		chat:    chatService,
		metrics: metrics,
		logger:  logger,
		static:  newStaticHandler(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may open the chat socket unless explicitly allowed.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/", s.static.ServeHTTP)
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/send_message", s.handleSendMessage)
	r.Post("/reset_conversation", s.handleResetConversation)
	r.Get("/v1/chat/ws", s.handleChatWS)
	r.Get("/v1/perf/steps", s.handlePerfSteps)

	// Lead history exposes personal data and exists only behind an admin token.
	if s.cfg.AdminToken != "" {
		r.With(s.requireAdmin).Get("/v1/users/{email}/conversations", s.handleUserConversations)
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"session_store":   s.cfg.SessionStore,
		"textgen_mode":    s.cfg.TextGenMode,
		"persistence":     persistenceMode(s.cfg.DatabaseURL),
		"max_turns":       s.cfg.MaxAssistantTurns,
		"session_ttl_sec": int64(s.cfg.SessionTTL / time.Second),
	})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req protocol.SendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, protocol.CodeInvalidRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, protocol.CodeInvalidRequest, protocol.ErrEmptyMessage.Error())
		return
	}

	sessionID := s.sessionFromCookie(w, r)
	res, err := s.chat.HandleMessage(r.Context(), sessionID, req.Message)
	if err != nil {
		status, code, reply := classifyTurnError(err)
		if status >= http.StatusInternalServerError {
			s.logger.Warn("send_message failed", zap.String("session_id", sessionID), zap.String("code", code), zap.Error(err))
		}
		body := toSendMessageResponse(res)
		body.SessionID = sessionID
		body.Response = reply
		body.Error = code
		respondJSON(w, status, body)
		return
	}
	respondJSON(w, http.StatusOK, toSendMessageResponse(res))
}

func (s *Server) handleResetConversation(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(SessionCookie); err == nil && strings.TrimSpace(c.Value) != "" {
		if err := s.chat.Reset(r.Context(), c.Value); err != nil {
			s.logger.Warn("reset failed", zap.String("session_id", c.Value), zap.Error(err))
			respondError(w, http.StatusInternalServerError, protocol.CodeInternal, "reset failed")
			return
		}
	}
	sessionID := session.NewID()
	s.setSessionCookie(w, sessionID)
	respondJSON(w, http.StatusOK, protocol.ResetResponse{Status: "success", SessionID: sessionID})
}

func (s *Server) handleUserConversations(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(chi.URLParam(r, "email"))
	if email == "" {
		respondError(w, http.StatusBadRequest, protocol.CodeInvalidRequest, "missing email")
		return
	}
	user, records, err := s.chat.History(r.Context(), email)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "user_not_found", "no user with that email")
		return
	}
	if err != nil {
		s.logger.Warn("history lookup failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, protocol.CodeInternal, "history lookup failed")
		return
	}
	if records == nil {
		records = []store.ConversationRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user":          user,
		"conversations": records,
	})
}

// requireAdmin accepts only requests carrying "Authorization: Bearer <AdminToken>".
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	want := []byte("Bearer " + s.cfg.AdminToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(strings.TrimSpace(r.Header.Get("Authorization")))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="leadbot"`)
			respondError(w, http.StatusUnauthorized, protocol.CodeUnauthorized, "admin token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// sessionFromCookie returns the caller's session id, issuing one when absent.
func (s *Server) sessionFromCookie(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && strings.TrimSpace(c.Value) != "" {
		return c.Value
	}
	id := session.NewID()
	s.setSessionCookie(w, id)
	return id
}

func (s *Server) setSessionCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int(s.cfg.SessionTTL / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// classifyTurnError maps a controller error to status, error code and the reply shown to the user.
func classifyTurnError(err error) (int, string, string) {
	switch {
	case errors.Is(err, conversation.ErrConversationEnded):
		return http.StatusConflict, protocol.CodeConversationEnded, endedReply
	case errors.Is(err, chat.ErrInvalidSession):
		return http.StatusBadRequest, protocol.CodeInvalidRequest, failureReply
	case errors.Is(err, conversation.ErrGeneration):
		return http.StatusBadGateway, protocol.CodeGenerationFailed, failureReply
	default:
		return http.StatusInternalServerError, protocol.CodeInternal, failureReply
	}
}

func toSendMessageResponse(res chat.Result) protocol.SendMessageResponse {
	return protocol.SendMessageResponse{
		Response:  res.Response,
		SessionID: res.SessionID,
		UserInfo:  protocol.UserInfo{Name: res.UserInfo.Name, Email: res.UserInfo.Email},
		Intent:    string(res.Intent),
		Step:      string(res.Step),
		Ended:     res.Ended,
	}
}

func persistenceMode(databaseURL string) string {
	if strings.TrimSpace(databaseURL) == "" {
		return "in-memory"
	}
	return "postgres"
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 64<<10))
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
