package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/marketplace-chat/internal/domain"
	apperrors "github.com/spec-kit/marketplace-chat/pkg/util"
)

// AppendRequest describes one persistence attempt of an optimistic send.
type AppendRequest struct {
	ConversationID string
	SenderID       string
	SenderRole     domain.ParticipantRole
	Content        string
	Attachment     *domain.AttachmentRef
	ClientKey      string
}

// Store is the persistent-store boundary the session suspends on. Append,
// List, and MarkRead are the only suspending operations of the core.
type Store interface {
	Append(ctx context.Context, req AppendRequest) (domain.Message, error)
	List(ctx context.Context, conversationID string) ([]domain.Message, error)
	MarkRead(ctx context.Context, conversationID, readerID string) error
}

// SessionConfig bundles the collaborators of a client session.
type SessionConfig struct {
	SelfID      string
	Role        domain.ParticipantRole
	Store       Store
	Realtime    Subscriber
	Logger      *zap.Logger
	SendTimeout time.Duration
}

// Session owns one client surface's view of the currently open
// conversation: the visible timeline, the pending optimistic set, and the
// single realtime subscription. All state mutation is serialized through
// one mutex, and a monotonically increasing generation counter discards
// stale in-flight callbacks from torn-down subscriptions.
type Session struct {
	store       Store
	realtime    Subscriber
	logger      *zap.Logger
	selfID      string
	role        domain.ParticipantRole
	sendTimeout time.Duration

	mu             sync.Mutex
	generation     uint64
	conversationID string
	state          ConnState
	sub            Handle
	timeline       *Timeline
}

// NewSession creates a disconnected session for one participant.
func NewSession(cfg SessionConfig) *Session {
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		store:       cfg.Store,
		realtime:    cfg.Realtime,
		logger:      logger,
		selfID:      cfg.SelfID,
		role:        cfg.Role,
		sendTimeout: timeout,
		state:       StateDisconnected,
	}
}

// Open switches the session to a conversation: it tears down any prior
// subscription, subscribes, then performs the authoritative list() that
// closes the pre-subscription gap, merging by id. Opening marks the
// conversation read.
func (s *Session) Open(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return apperrors.NewValidationError("conversation id required", nil)
	}

	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.releaseLocked()
	s.conversationID = conversationID
	s.timeline = NewTimeline()
	s.state = StateConnecting
	s.mu.Unlock()

	sub, err := s.realtime.Subscribe(ctx, conversationID, func(in Inbound) {
		s.onInsert(gen, in)
	})
	if err != nil {
		s.disconnectIfCurrent(gen)
		return apperrors.NewUpstream("subscribe failed", err)
	}

	msgs, err := s.store.List(ctx, conversationID)
	if err != nil {
		sub.Close()
		s.disconnectIfCurrent(gen)
		return apperrors.NewUpstream("history fetch failed", err)
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		sub.Close()
		return nil
	}
	s.sub = sub
	for i := range msgs {
		s.timeline.Apply(InboundFromMessage(&msgs[i]))
	}
	s.state = StateConnected
	s.mu.Unlock()

	if err := s.store.MarkRead(ctx, conversationID, s.selfID); err != nil {
		s.logger.Warn("mark read on open",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
	}
	return nil
}

// Close tears the current conversation down: the subscription is released
// and the generation advances so stale callbacks are discarded.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.releaseLocked()
	s.conversationID = ""
	s.timeline = nil
	s.state = StateDisconnected
}

// Send echoes the message locally in call order before any suspension, then
// persists asynchronously. The returned temp id identifies the optimistic
// entry. Sends are accepted even while disconnected; the underlying append
// fails fast on its timeout instead of hanging.
func (s *Session) Send(content string, attachment *domain.AttachmentRef) (string, error) {
	s.mu.Lock()
	if s.conversationID == "" || s.timeline == nil {
		s.mu.Unlock()
		return "", apperrors.NewValidationError("no open conversation", nil)
	}
	probe := domain.Message{Content: content, Attachment: attachment}
	if !probe.HasBody() {
		s.mu.Unlock()
		return "", apperrors.NewValidationError("content or attachment required", nil)
	}

	entry := &Entry{
		TempID:     uuid.NewString(),
		ClientKey:  uuid.NewString(),
		SenderID:   s.selfID,
		SenderRole: s.role,
		Content:    content,
		Attachment: attachment,
		Status:     StatusSending,
		CreatedAt:  time.Now(),
	}
	s.timeline.Echo(entry)
	gen := s.generation
	conversationID := s.conversationID
	s.mu.Unlock()

	go s.persist(gen, conversationID, entry.TempID, entry.ClientKey, content, attachment)
	return entry.TempID, nil
}

// Retry discards a failed entry and re-sends its content under a fresh temp
// id. The original client key is reused so a send that actually committed
// server-side after the client gave up collapses onto one row.
func (s *Session) Retry(tempID string) (string, error) {
	s.mu.Lock()
	if s.timeline == nil {
		s.mu.Unlock()
		return "", apperrors.NewValidationError("no open conversation", nil)
	}
	failed, ok := s.timeline.TakeFailed(tempID)
	if !ok {
		s.mu.Unlock()
		return "", apperrors.NewNotFound("failed message", map[string]any{"temp_id": tempID})
	}

	entry := &Entry{
		TempID:     uuid.NewString(),
		ClientKey:  failed.ClientKey,
		SenderID:   s.selfID,
		SenderRole: s.role,
		Content:    failed.Content,
		Attachment: failed.Attachment,
		Status:     StatusSending,
		CreatedAt:  time.Now(),
	}
	s.timeline.Echo(entry)
	gen := s.generation
	conversationID := s.conversationID
	s.mu.Unlock()

	go s.persist(gen, conversationID, entry.TempID, entry.ClientKey, failed.Content, failed.Attachment)
	return entry.TempID, nil
}

// MarkRead re-runs read bookkeeping for the open conversation, e.g. when
// the surface regains focus.
func (s *Session) MarkRead(ctx context.Context) error {
	s.mu.Lock()
	conversationID := s.conversationID
	s.mu.Unlock()
	if conversationID == "" {
		return apperrors.NewValidationError("no open conversation", nil)
	}
	return s.store.MarkRead(ctx, conversationID, s.selfID)
}

// Entries snapshots the visible list in render order.
func (s *Session) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timeline == nil {
		return nil
	}
	return s.timeline.Entries()
}

// State reports the connection state.
func (s *Session) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ConversationID reports the currently open conversation, if any.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

func (s *Session) persist(gen uint64, conversationID, tempID, clientKey, content string, attachment *domain.AttachmentRef) {
	ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
	defer cancel()

	msg, err := s.store.Append(ctx, AppendRequest{
		ConversationID: conversationID,
		SenderID:       s.selfID,
		SenderRole:     s.role,
		Content:        content,
		Attachment:     attachment,
		ClientKey:      clientKey,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		// conversation was switched mid-flight; the entry is gone
		return
	}
	if err != nil {
		if s.timeline.MarkFailed(tempID) {
			s.logger.Warn("send failed",
				zap.String("conversation_id", conversationID),
				zap.String("temp_id", tempID),
				zap.Error(err))
		}
		return
	}
	s.timeline.MarkSent(tempID, msg.ID, msg.CreatedAt)
}

func (s *Session) onInsert(gen uint64, in Inbound) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation || s.timeline == nil {
		return
	}
	s.timeline.Apply(in)
}

func (s *Session) disconnectIfCurrent(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation == gen {
		s.state = StateDisconnected
	}
}

func (s *Session) releaseLocked() {
	if s.sub != nil {
		s.sub.Close()
		s.sub = nil
	}
}
