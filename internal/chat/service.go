// Package chat runs one user turn end to end: lock the session, advance the
// conversation, save the snapshot, and persist identified leads.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/leadbot/internal/conversation"
	"github.com/ent0n29/leadbot/internal/intent"
	"github.com/ent0n29/leadbot/internal/observability"
	"github.com/ent0n29/leadbot/internal/policy"
	"github.com/ent0n29/leadbot/internal/session"
	"github.com/ent0n29/leadbot/internal/store"
	"github.com/ent0n29/leadbot/internal/textgen"
)

// NotClassified is recorded for turns persisted before any intent was assigned.
const NotClassified = "not_classified"

const previewRunes = 80

var ErrInvalidSession = errors.New("session id is required")

// Engine advances a conversation by one user message.
type Engine interface {
	Advance(ctx context.Context, s conversation.State, message string) (conversation.State, string, error)
}

// Result is what the transport renders for a processed turn.
type Result struct {
	Response  string
	SessionID string
	UserInfo  conversation.UserInfo
	Intent    intent.Label
	Step      conversation.Step
	Ended     bool
}

type Service struct {
	engine   Engine
	sessions session.Store
	locker   session.Locker
	gateway  store.Gateway
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewService wires the controller. gateway and metrics may be nil.
func NewService(engine Engine, sessions session.Store, locker session.Locker, gateway store.Gateway, metrics *observability.Metrics, logger *zap.Logger) *Service {
	if locker == nil {
		locker = session.NewKeyLocker()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		engine:   engine,
		sessions: sessions,
		locker:   locker,
		gateway:  gateway,
		metrics:  metrics,
		logger:   logger,
	}
}

// HandleMessage processes one user message for sessionID. A failed turn leaves
// the stored snapshot untouched.
func (s *Service) HandleMessage(ctx context.Context, sessionID, message string) (Result, error) {
	start := time.Now()
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Result{}, ErrInvalidSession
	}

	unlock, err := s.locker.Lock(ctx, sessionID)
	if err != nil {
		return Result{SessionID: sessionID}, fmt.Errorf("lock session: %w", err)
	}
	defer unlock()

	fresh := false
	state, err := s.sessions.Load(ctx, sessionID)
	switch {
	case errors.Is(err, session.ErrNotFound):
		state = conversation.NewState()
		fresh = true
	case err != nil:
		return Result{SessionID: sessionID}, fmt.Errorf("load session: %w", err)
	}

	log := s.logger.With(zap.String("session_id", sessionID))

	next, reply, err := s.engine.Advance(ctx, state, message)
	if err != nil {
		if errors.Is(err, conversation.ErrConversationEnded) {
			s.observeTurn(start, "ended")
			log.Info("message after conversation end")
			return resultFor(sessionID, "", state), err
		}
		s.observeTurn(start, "error")
		log.Warn("turn failed",
			zap.String("step", string(state.CurrentStep)),
			zap.String("kind", textgen.Kind(err)),
			zap.Error(err),
		)
		return Result{SessionID: sessionID}, err
	}

	if err := s.sessions.Save(ctx, sessionID, next); err != nil {
		s.observeTurn(start, "error")
		return Result{SessionID: sessionID}, fmt.Errorf("save session: %w", err)
	}
	if fresh {
		s.sessionEvent("created")
	}

	if state.UserInfo.Complete() && next.Intent != "" && s.metrics != nil {
		s.metrics.Intents.WithLabelValues(string(next.Intent)).Inc()
	}
	s.persist(ctx, log, sessionID, message, reply, next)

	if next.Ended() {
		s.sessionEvent("ended")
		s.metrics.ObserveIndicator("conversation_end")
	}
	s.observeTurn(start, "ok")

	log.Info("turn processed",
		zap.String("from", string(state.CurrentStep)),
		zap.String("to", string(next.CurrentStep)),
		zap.String("intent", string(next.Intent)),
		zap.String("message", policy.Preview(message, previewRunes, next.UserInfo.Name)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return resultFor(sessionID, reply, next), nil
}

// persist stores the turn once the user is identified. Failures are logged
// and counted; the user still gets the reply.
func (s *Service) persist(ctx context.Context, log *zap.Logger, sessionID, message, reply string, st conversation.State) {
	if s.gateway == nil || !st.UserInfo.Complete() {
		return
	}

	user, err := s.gateway.UpsertUserByEmail(ctx, st.UserInfo.Name, st.UserInfo.Email)
	if err != nil {
		s.persistenceError("upsert_user")
		log.Warn("upsert user failed", zap.Error(err))
		return
	}

	label := string(st.Intent)
	if label == "" {
		label = NotClassified
	}
	err = s.gateway.AppendConversationRecord(ctx, store.ConversationRecord{
		UserID:    user.ID,
		SessionID: sessionID,
		Message:   message,
		Response:  reply,
		Intent:    label,
	})
	if err != nil {
		s.persistenceError("append_conversation")
		log.Warn("append conversation failed", zap.String("user_id", user.ID), zap.Error(err))
	}
}

// Reset forgets the conversation held under sessionID.
func (s *Service) Reset(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	unlock, err := s.locker.Lock(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("lock session: %w", err)
	}
	defer unlock()

	existed, err := s.sessions.Delete(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	if existed {
		s.sessionEvent("reset")
	}
	s.logger.Info("conversation reset", zap.String("session_id", sessionID), zap.Bool("existed", existed))
	return nil
}

// History returns the persisted user for email with their records, oldest first.
func (s *Service) History(ctx context.Context, email string) (store.User, []store.ConversationRecord, error) {
	if s.gateway == nil {
		return store.User{}, nil, store.ErrNotFound
	}
	user, err := s.gateway.UserByEmail(ctx, email)
	if err != nil {
		return store.User{}, nil, err
	}
	records, err := s.gateway.ConversationsByUser(ctx, user.ID)
	if err != nil {
		return store.User{}, nil, err
	}
	return user, records, nil
}

func resultFor(sessionID, reply string, st conversation.State) Result {
	return Result{
		Response:  reply,
		SessionID: sessionID,
		UserInfo:  st.UserInfo,
		Intent:    st.Intent,
		Step:      st.CurrentStep,
		Ended:     st.Ended(),
	}
}

func (s *Service) observeTurn(start time.Time, outcome string) {
	s.metrics.ObserveTurn(time.Since(start), outcome)
}

func (s *Service) sessionEvent(event string) {
	if s.metrics == nil {
		return
	}
	s.metrics.SessionEvents.WithLabelValues(event).Inc()
	// Only stored snapshots move the gauge. The memory store's expire hook
	// resyncs it with the real count.
	switch event {
	case "created":
		s.metrics.ActiveSessions.Inc()
	case "reset":
		s.metrics.ActiveSessions.Dec()
	}
}

func (s *Service) persistenceError(op string) {
	if s.metrics == nil {
		return
	}
	s.metrics.PersistenceErrors.WithLabelValues(op).Inc()
}
