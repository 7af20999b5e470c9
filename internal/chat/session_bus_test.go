package chat

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/marketplace-chat/internal/config"
	"github.com/spec-kit/marketplace-chat/internal/domain"
	"github.com/spec-kit/marketplace-chat/internal/events"
	"github.com/spec-kit/marketplace-chat/internal/repository"
	"github.com/spec-kit/marketplace-chat/internal/service"
)

// memConversationRepo is an in-memory ConversationRepository for end-to-end
// session wiring.
type memConversationRepo struct {
	mu   sync.Mutex
	rows map[string]*domain.Conversation
}

func newMemConversationRepo() *memConversationRepo {
	return &memConversationRepo{rows: make(map[string]*domain.Conversation)}
}

func (r *memConversationRepo) add(id string, conversation domain.Conversation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conversation.ID = id
	if conversation.Status == "" {
		conversation.Status = domain.ConversationActive
	}
	now := time.Now()
	conversation.LastMessageAt = now
	conversation.CreatedAt = now
	conversation.UpdatedAt = now
	r.rows[id] = &conversation
}

func (r *memConversationRepo) Create(ctx context.Context, conversation *domain.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conversation.ID = uuid.NewString()
	now := time.Now()
	conversation.LastMessageAt = now
	conversation.CreatedAt = now
	conversation.UpdatedAt = now
	copied := *conversation
	r.rows[conversation.ID] = &copied
	return nil
}

func (r *memConversationRepo) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conversation, ok := r.rows[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *conversation
	return &copied, nil
}

func (r *memConversationRepo) FindActive(ctx context.Context, key repository.ConversationKey) (*domain.Conversation, error) {
	return nil, pgx.ErrNoRows
}

func (r *memConversationRepo) ListByParticipant(ctx context.Context, participantID string) ([]domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.Conversation
	for _, conversation := range r.rows {
		if conversation.HasParticipant(participantID) {
			result = append(result, *conversation)
		}
	}
	return result, nil
}

func (r *memConversationRepo) SetStatus(ctx context.Context, id string, status domain.ConversationStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conversation, ok := r.rows[id]
	if !ok {
		return pgx.ErrNoRows
	}
	conversation.Status = status
	return nil
}

// memMessageRepo is an in-memory MessageRepository.
type memMessageRepo struct {
	mu   sync.Mutex
	seq  int
	rows []*domain.Message
}

func (r *memMessageRepo) Append(ctx context.Context, msg *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg.ClientKey != nil {
		for _, existing := range r.rows {
			if existing.ConversationID == msg.ConversationID &&
				existing.ClientKey != nil && *existing.ClientKey == *msg.ClientKey {
				*msg = *existing
				return nil
			}
		}
	}
	r.seq++
	msg.ID = fmt.Sprintf("m-%d", r.seq)
	msg.CreatedAt = time.Now()
	copied := *msg
	r.rows = append(r.rows, &copied)
	return nil
}

func (r *memMessageRepo) ListByConversation(ctx context.Context, conversationID string) ([]domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.Message
	for _, msg := range r.rows {
		if msg.ConversationID == conversationID {
			result = append(result, *msg)
		}
	}
	return result, nil
}

func (r *memMessageRepo) GetByClientKey(ctx context.Context, conversationID, clientKey string) (*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, msg := range r.rows {
		if msg.ConversationID == conversationID && msg.ClientKey != nil && *msg.ClientKey == clientKey {
			copied := *msg
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *memMessageRepo) MarkRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var flipped int64
	for _, msg := range r.rows {
		if msg.ConversationID == conversationID && msg.SenderID != readerID && !msg.IsRead {
			msg.IsRead = true
			flipped++
		}
	}
	return flipped, nil
}

func (r *memMessageRepo) UnreadCount(ctx context.Context, conversationID, participantID string) (int64, error) {
	return 0, nil
}

func (r *memMessageRepo) UnreadCounts(ctx context.Context, participantID string) (map[string]int64, error) {
	return map[string]int64{}, nil
}

func (r *memMessageRepo) UnreadTotal(ctx context.Context, participantID string) (int64, error) {
	return 0, nil
}

type memProfileRepo struct{}

func (memProfileRepo) Ensure(ctx context.Context, profile *domain.Profile) error { return nil }
func (memProfileRepo) GetByID(ctx context.Context, userID string) (*domain.Profile, error) {
	return nil, pgx.ErrNoRows
}

// busFixture wires the full in-process stack: repositories → services →
// serviceStore → Session, with the realtime path going through the bus and
// its subscriber rather than a stub.
type busFixture struct {
	conversations *memConversationRepo
	messages      *memMessageRepo
	messageSvc    *service.MessageService
	bus           events.Bus
	session       *Session
}

func newBusFixture(t *testing.T) *busFixture {
	t.Helper()
	conversations := newMemConversationRepo()
	conversations.add("conv-1", domain.Conversation{
		Type:        domain.ConversationBuyerSeller,
		InitiatorID: "buyer-1",
		ResponderID: "seller-1",
	})
	conversations.add("conv-2", domain.Conversation{
		Type:        domain.ConversationBuyerAdmin,
		InitiatorID: "buyer-1",
		ResponderID: "admin-1",
	})

	messages := &memMessageRepo{}
	bus := events.NewMemoryBus(16)
	messageSvc := service.NewMessageService(service.MessageDependencies{
		ConversationRepo: conversations,
		MessageRepo:      messages,
		ProfileRepo:      memProfileRepo{},
		Bus:              bus,
		Logger:           zap.NewNop(),
	})
	receiptSvc := service.NewReadReceiptService(conversations, messages, nil)

	chatCfg := config.ChatConfig{SendTimeoutSeconds: 2}
	session := NewSession(SessionConfig{
		SelfID:      "buyer-1",
		Role:        domain.RoleBuyer,
		Store:       NewServiceStore("buyer-1", domain.RoleBuyer, messageSvc, receiptSvc),
		Realtime:    NewBusSubscriber(bus, zap.NewNop()),
		Logger:      zap.NewNop(),
		SendTimeout: chatCfg.SendTimeout(),
	})
	return &busFixture{
		conversations: conversations,
		messages:      messages,
		messageSvc:    messageSvc,
		bus:           bus,
		session:       session,
	}
}

func publishCommit(t *testing.T, bus events.Bus, conversationID string, payload events.MessageCommittedPayload) {
	t.Helper()
	data, err := events.Encode(events.Event{
		ID:             uuid.NewString(),
		Type:           events.EventMessageCommitted,
		ConversationID: conversationID,
		Timestamp:      time.Now().UTC(),
		Payload:        payload,
	})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), events.TopicForConversation(conversationID), data))
}

func TestSessionSendDeliveredOverBus(t *testing.T) {
	f := newBusFixture(t)
	require.NoError(t, f.session.Open(context.Background(), "conv-1"))
	require.Equal(t, StateConnected, f.session.State())

	tempID, err := f.session.Send("is this still available?", nil)
	require.NoError(t, err)

	// the append commits, fans out over the bus, and the subscriber's
	// decode resolves the pending entry by client key
	require.Eventually(t, func() bool {
		entries := f.session.Entries()
		return len(entries) == 1 && entries[0].Status == StatusDelivered
	}, 2*time.Second, 10*time.Millisecond)

	entries := f.session.Entries()
	assert.Equal(t, tempID, entries[0].TempID)
	assert.NotEmpty(t, entries[0].MessageID)
	assert.Equal(t, "is this still available?", entries[0].Content)

	f.session.Close()
}

func TestSessionReceivesPeerCommitOverBus(t *testing.T) {
	f := newBusFixture(t)
	require.NoError(t, f.session.Open(context.Background(), "conv-1"))

	_, err := f.messageSvc.Append(context.Background(), service.AppendInput{
		ConversationID: "conv-1",
		SenderID:       "seller-1",
		SenderRole:     domain.RoleSeller,
		Content:        "yes, still available",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		entries := f.session.Entries()
		return len(entries) == 1 && entries[0].SenderID == "seller-1" &&
			entries[0].Status == StatusDelivered
	}, 2*time.Second, 10*time.Millisecond)

	f.session.Close()
}

func TestSessionMergesDuplicateBusDelivery(t *testing.T) {
	f := newBusFixture(t)
	require.NoError(t, f.session.Open(context.Background(), "conv-1"))

	commit := events.MessageCommittedPayload{
		MessageID:  "m-dup",
		SenderID:   "seller-1",
		SenderRole: domain.RoleSeller,
		Content:    "hello",
		CreatedAt:  time.Now(),
	}
	publishCommit(t, f.bus, "conv-1", commit)
	publishCommit(t, f.bus, "conv-1", commit)

	follow := events.MessageCommittedPayload{
		MessageID:  "m-next",
		SenderID:   "seller-1",
		SenderRole: domain.RoleSeller,
		Content:    "anyone there?",
		CreatedAt:  time.Now(),
	}
	publishCommit(t, f.bus, "conv-1", follow)

	// the follow-up lands after both duplicates on the same channel, so
	// once it is visible the duplicate has provably merged into one entry
	require.Eventually(t, func() bool {
		entries := f.session.Entries()
		return len(entries) == 2 && entries[1].MessageID == "m-next"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "m-dup", f.session.Entries()[0].MessageID)

	f.session.Close()
}

func TestSessionSwitchStopsOldTopicDelivery(t *testing.T) {
	f := newBusFixture(t)
	require.NoError(t, f.session.Open(context.Background(), "conv-1"))
	require.NoError(t, f.session.Open(context.Background(), "conv-2"))

	publishCommit(t, f.bus, "conv-1", events.MessageCommittedPayload{
		MessageID:  "m-old",
		SenderID:   "seller-1",
		SenderRole: domain.RoleSeller,
		Content:    "left behind",
		CreatedAt:  time.Now(),
	})
	publishCommit(t, f.bus, "conv-2", events.MessageCommittedPayload{
		MessageID:  "m-new",
		SenderID:   "admin-1",
		SenderRole: domain.RoleAdmin,
		Content:    "dispute opened",
		CreatedAt:  time.Now(),
	})

	require.Eventually(t, func() bool {
		entries := f.session.Entries()
		return len(entries) == 1 && entries[0].MessageID == "m-new"
	}, 2*time.Second, 10*time.Millisecond)

	for _, entry := range f.session.Entries() {
		assert.NotEqual(t, "m-old", entry.MessageID)
	}

	f.session.Close()
}
