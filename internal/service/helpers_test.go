package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/spec-kit/marketplace-chat/internal/domain"
	"github.com/spec-kit/marketplace-chat/internal/repository"
)

func uniqueViolation() error {
	return &pgconn.PgError{Code: "23505"}
}

// fakeConversationRepo is an in-memory ConversationRepository. Setting
// raceWinner makes the first FindActive miss and the first Create fail with
// a unique violation, simulating a concurrent client winning the insert.
type fakeConversationRepo struct {
	mu         sync.Mutex
	seq        int
	rows       map[string]*domain.Conversation
	raceWinner *domain.Conversation
}

func newFakeConversationRepo() *fakeConversationRepo {
	return &fakeConversationRepo{rows: make(map[string]*domain.Conversation)}
}

func (r *fakeConversationRepo) add(conversation *domain.Conversation) *domain.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	if conversation.ID == "" {
		conversation.ID = fmt.Sprintf("conv-%d", r.seq)
	}
	if conversation.Status == "" {
		conversation.Status = domain.ConversationActive
	}
	now := time.Now()
	conversation.LastMessageAt = now
	conversation.CreatedAt = now
	conversation.UpdatedAt = now
	r.rows[conversation.ID] = conversation
	return conversation
}

func (r *fakeConversationRepo) Create(ctx context.Context, conversation *domain.Conversation) error {
	r.mu.Lock()
	if r.raceWinner != nil {
		winner := r.raceWinner
		r.raceWinner = nil
		r.mu.Unlock()
		r.add(winner)
		return uniqueViolation()
	}
	r.mu.Unlock()
	r.add(conversation)
	return nil
}

func (r *fakeConversationRepo) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conversation, ok := r.rows[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *conversation
	return &copied, nil
}

func (r *fakeConversationRepo) FindActive(ctx context.Context, key repository.ConversationKey) (*domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, conversation := range r.rows {
		if conversation.Status != domain.ConversationActive {
			continue
		}
		if conversation.Type != key.Type || conversation.InitiatorID != key.InitiatorID || conversation.ResponderID != key.ResponderID {
			continue
		}
		if !sameContext(conversation.ContextRef, key.ContextRef) {
			continue
		}
		copied := *conversation
		return &copied, nil
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeConversationRepo) ListByParticipant(ctx context.Context, participantID string) ([]domain.Conversation, error) {
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

func (r *fakeConversationRepo) SetStatus(ctx context.Context, id string, status domain.ConversationStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conversation, ok := r.rows[id]
	if !ok {
		return pgx.ErrNoRows
	}
	conversation.Status = status
	return nil
}

// touchLastMessage mirrors the recency bump the real message repository
// performs inline in its append transaction.
func (r *fakeConversationRepo) touchLastMessage(id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conversation, ok := r.rows[id]
	if !ok {
		return pgx.ErrNoRows
	}
	if at.After(conversation.LastMessageAt) {
		conversation.LastMessageAt = at
	}
	return nil
}

// fakeMessageRepo is an in-memory MessageRepository sharing the
// conversation table for participant joins.
type fakeMessageRepo struct {
	mu            sync.Mutex
	seq           int
	rows          []*domain.Message
	conversations *fakeConversationRepo
}

func newFakeMessageRepo(conversations *fakeConversationRepo) *fakeMessageRepo {
	return &fakeMessageRepo{conversations: conversations}
}

func (r *fakeMessageRepo) Append(ctx context.Context, msg *domain.Message) error {
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
	msg.ID = fmt.Sprintf("msg-%d", r.seq)
	msg.CreatedAt = time.Now()
	copied := *msg
	r.rows = append(r.rows, &copied)
	_ = r.conversations.touchLastMessage(msg.ConversationID, msg.CreatedAt)
	return nil
}

func (r *fakeMessageRepo) ListByConversation(ctx context.Context, conversationID string) ([]domain.Message, error) {
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

func (r *fakeMessageRepo) GetByClientKey(ctx context.Context, conversationID, clientKey string) (*domain.Message, error) {
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

func (r *fakeMessageRepo) MarkRead(ctx context.Context, conversationID, readerID string) (int64, error) {
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

func (r *fakeMessageRepo) UnreadCount(ctx context.Context, conversationID, participantID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, msg := range r.rows {
		if msg.ConversationID == conversationID && msg.SenderID != participantID && !msg.IsRead {
			count++
		}
	}
	return count, nil
}

func (r *fakeMessageRepo) UnreadCounts(ctx context.Context, participantID string) (map[string]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make(map[string]int64)
	for _, msg := range r.rows {
		conversation, ok := r.conversations.rows[msg.ConversationID]
		if !ok || !conversation.HasParticipant(participantID) {
			continue
		}
		if msg.SenderID != participantID && !msg.IsRead {
			result[msg.ConversationID]++
		}
	}
	return result, nil
}

func (r *fakeMessageRepo) UnreadTotal(ctx context.Context, participantID string) (int64, error) {
	counts, err := r.UnreadCounts(ctx, participantID)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, count := range counts {
		total += count
	}
	return total, nil
}

// fakeProfileRepo records identity upserts.
type fakeProfileRepo struct {
	mu      sync.Mutex
	ensured []string
}

func (r *fakeProfileRepo) Ensure(ctx context.Context, profile *domain.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensured = append(r.ensured, profile.UserID)
	return nil
}

func (r *fakeProfileRepo) GetByID(ctx context.Context, userID string) (*domain.Profile, error) {
	return nil, pgx.ErrNoRows
}

// sameContext mimics `context_ref IS NOT DISTINCT FROM $4`: NULL matches
// only NULL, and is distinct from the empty string.
func sameContext(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
