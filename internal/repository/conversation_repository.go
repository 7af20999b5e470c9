package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/marketplace-chat/internal/domain"
)

// ConversationKey is the discriminator tuple identifying at most one active
// conversation.
type ConversationKey struct {
	Type        domain.ConversationType
	InitiatorID string
	ResponderID string
	ContextRef  *string
}

// ConversationRepository encapsulates conversation persistence.
type ConversationRepository interface {
	Create(ctx context.Context, conversation *domain.Conversation) error
	GetByID(ctx context.Context, id string) (*domain.Conversation, error)
	FindActive(ctx context.Context, key ConversationKey) (*domain.Conversation, error)
	ListByParticipant(ctx context.Context, participantID string) ([]domain.Conversation, error)
	SetStatus(ctx context.Context, id string, status domain.ConversationStatus) error
}

type conversationRepository struct {
	pool *pgxpool.Pool
}

// NewConversationRepository instantiates repository.
func NewConversationRepository(pool *pgxpool.Pool) ConversationRepository {
	return &conversationRepository{pool: pool}
}

const conversationColumns = `id, type, initiator_id, responder_id, context_ref, status, last_message_at, created_at, updated_at`

func (r *conversationRepository) Create(ctx context.Context, conversation *domain.Conversation) error {
	const query = `
        INSERT INTO conversations (type, initiator_id, responder_id, context_ref, status)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id, last_message_at, created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		conversation.Type,
		conversation.InitiatorID,
		conversation.ResponderID,
		conversation.ContextRef,
		conversation.Status,
	).Scan(
		&conversation.ID,
		&conversation.LastMessageAt,
		&conversation.CreatedAt,
		&conversation.UpdatedAt,
	)
}

func (r *conversationRepository) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	const query = `SELECT ` + conversationColumns + ` FROM conversations WHERE id=$1`
	return r.fetchSingle(ctx, query, id)
}

func (r *conversationRepository) FindActive(ctx context.Context, key ConversationKey) (*domain.Conversation, error) {
	const query = `
        SELECT ` + conversationColumns + `
        FROM conversations
        WHERE type=$1 AND initiator_id=$2 AND responder_id=$3
          AND context_ref IS NOT DISTINCT FROM $4 AND status='ACTIVE'`
	return r.fetchSingle(ctx, query, key.Type, key.InitiatorID, key.ResponderID, key.ContextRef)
}

func (r *conversationRepository) ListByParticipant(ctx context.Context, participantID string) ([]domain.Conversation, error) {
	const query = `
        SELECT ` + conversationColumns + `
        FROM conversations
        WHERE initiator_id=$1 OR responder_id=$1
        ORDER BY last_message_at DESC, created_at DESC`
	rows, err := r.pool.Query(ctx, query, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Conversation
	for rows.Next() {
		var conversation domain.Conversation
		if err := scanConversation(rows, &conversation); err != nil {
			return nil, err
		}
		result = append(result, conversation)
	}
	return result, rows.Err()
}

func (r *conversationRepository) SetStatus(ctx context.Context, id string, status domain.ConversationStatus) error {
	const query = `UPDATE conversations SET status=$1, updated_at=NOW() WHERE id=$2`
	cmd, err := r.pool.Exec(ctx, query, status, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *conversationRepository) fetchSingle(ctx context.Context, query string, args ...any) (*domain.Conversation, error) {
	var conversation domain.Conversation
	row := r.pool.QueryRow(ctx, query, args...)
	if err := scanConversation(row, &conversation); err != nil {
		return nil, err
	}
	return &conversation, nil
}

func scanConversation(row pgx.Row, conversation *domain.Conversation) error {
	return row.Scan(
		&conversation.ID,
		&conversation.Type,
		&conversation.InitiatorID,
		&conversation.ResponderID,
		&conversation.ContextRef,
		&conversation.Status,
		&conversation.LastMessageAt,
		&conversation.CreatedAt,
		&conversation.UpdatedAt,
	)
}
