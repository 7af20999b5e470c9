package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/marketplace-chat/internal/domain"
)

// MessageRepository manages the append-only message log per conversation.
type MessageRepository interface {
	// Append inserts the message and advances the conversation's
	// last_message_at inside one transaction. When the message carries a
	// client key that was already committed for the conversation, the
	// existing row is adopted instead of inserting a duplicate.
	Append(ctx context.Context, msg *domain.Message) error
	ListByConversation(ctx context.Context, conversationID string) ([]domain.Message, error)
	GetByClientKey(ctx context.Context, conversationID, clientKey string) (*domain.Message, error)
	// MarkRead flips is_read on every unread message in the conversation
	// not authored by readerID. Idempotent; returns the number of rows
	// flipped.
	MarkRead(ctx context.Context, conversationID, readerID string) (int64, error)
	UnreadCount(ctx context.Context, conversationID, participantID string) (int64, error)
	UnreadCounts(ctx context.Context, participantID string) (map[string]int64, error)
	UnreadTotal(ctx context.Context, participantID string) (int64, error)
}

type messageRepository struct {
	pool *pgxpool.Pool
}

// NewMessageRepository builds repository.
func NewMessageRepository(pool *pgxpool.Pool) MessageRepository {
	return &messageRepository{pool: pool}
}

const messageColumns = `id, conversation_id, sender_id, sender_role, content,
               attachment_storage_key, attachment_file_name, attachment_mime_type, attachment_size_bytes,
               client_key, is_read, created_at`

func (r *messageRepository) Append(ctx context.Context, msg *domain.Message) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const insert = `
        INSERT INTO messages (conversation_id, sender_id, sender_role, content,
            attachment_storage_key, attachment_file_name, attachment_mime_type, attachment_size_bytes, client_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        RETURNING id, created_at`

	var storageKey, fileName, mimeType *string
	var sizeBytes *int64
	if att := msg.Attachment; att != nil {
		storageKey = &att.StorageKey
		fileName = &att.FileName
		mimeType = &att.MimeType
		sizeBytes = &att.SizeBytes
	}

	err = tx.QueryRow(ctx, insert,
		msg.ConversationID,
		msg.SenderID,
		msg.SenderRole,
		msg.Content,
		storageKey,
		fileName,
		mimeType,
		sizeBytes,
		msg.ClientKey,
	).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		if IsUniqueViolation(err) && msg.ClientKey != nil {
			existing, fetchErr := r.GetByClientKey(ctx, msg.ConversationID, *msg.ClientKey)
			if fetchErr != nil {
				return err
			}
			*msg = *existing
			return nil
		}
		return err
	}

	const touch = `
        UPDATE conversations
        SET last_message_at = GREATEST(last_message_at, $1), updated_at=NOW()
        WHERE id=$2`
	if _, err := tx.Exec(ctx, touch, msg.CreatedAt, msg.ConversationID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *messageRepository) ListByConversation(ctx context.Context, conversationID string) ([]domain.Message, error) {
	const query = `
        SELECT ` + messageColumns + `
        FROM messages WHERE conversation_id=$1
        ORDER BY created_at ASC, id ASC`
	rows, err := r.pool.Query(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Message
	for rows.Next() {
		var msg domain.Message
		if err := scanMessage(rows, &msg); err != nil {
			return nil, err
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}

func (r *messageRepository) GetByClientKey(ctx context.Context, conversationID, clientKey string) (*domain.Message, error) {
	const query = `
        SELECT ` + messageColumns + `
        FROM messages WHERE conversation_id=$1 AND client_key=$2`
	var msg domain.Message
	if err := scanMessage(r.pool.QueryRow(ctx, query, conversationID, clientKey), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepository) MarkRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	const query = `
        UPDATE messages SET is_read=TRUE
        WHERE conversation_id=$1 AND sender_id<>$2 AND is_read=FALSE`
	cmd, err := r.pool.Exec(ctx, query, conversationID, readerID)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *messageRepository) UnreadCount(ctx context.Context, conversationID, participantID string) (int64, error) {
	const query = `
        SELECT COUNT(*) FROM messages
        WHERE conversation_id=$1 AND sender_id<>$2 AND is_read=FALSE`
	var count int64
	err := r.pool.QueryRow(ctx, query, conversationID, participantID).Scan(&count)
	return count, err
}

func (r *messageRepository) UnreadCounts(ctx context.Context, participantID string) (map[string]int64, error) {
	const query = `
        SELECT m.conversation_id, COUNT(*)
        FROM messages m
        JOIN conversations c ON c.id = m.conversation_id
        WHERE (c.initiator_id=$1 OR c.responder_id=$1)
          AND m.sender_id<>$1 AND m.is_read=FALSE
        GROUP BY m.conversation_id`
	rows, err := r.pool.Query(ctx, query, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]int64)
	for rows.Next() {
		var conversationID string
		var count int64
		if err := rows.Scan(&conversationID, &count); err != nil {
			return nil, err
		}
		result[conversationID] = count
	}
	return result, rows.Err()
}

func (r *messageRepository) UnreadTotal(ctx context.Context, participantID string) (int64, error) {
	const query = `
        SELECT COUNT(*)
        FROM messages m
        JOIN conversations c ON c.id = m.conversation_id
        WHERE (c.initiator_id=$1 OR c.responder_id=$1)
          AND m.sender_id<>$1 AND m.is_read=FALSE`
	var count int64
	err := r.pool.QueryRow(ctx, query, participantID).Scan(&count)
	return count, err
}

func scanMessage(row pgx.Row, msg *domain.Message) error {
	var storageKey, fileName, mimeType *string
	var sizeBytes *int64
	if err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.SenderID,
		&msg.SenderRole,
		&msg.Content,
		&storageKey,
		&fileName,
		&mimeType,
		&sizeBytes,
		&msg.ClientKey,
		&msg.IsRead,
		&msg.CreatedAt,
	); err != nil {
		return err
	}
	if storageKey != nil {
		msg.Attachment = &domain.AttachmentRef{
			StorageKey: *storageKey,
			FileName:   deref(fileName),
			MimeType:   deref(mimeType),
		}
		if sizeBytes != nil {
			msg.Attachment.SizeBytes = *sizeBytes
		}
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
