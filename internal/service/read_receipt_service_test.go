package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/marketplace-chat/internal/domain"
	"github.com/spec-kit/marketplace-chat/internal/events"
	apperrors "github.com/spec-kit/marketplace-chat/pkg/util"
)

type receiptFixture struct {
	conversations *fakeConversationRepo
	messages      *fakeMessageRepo
	dispatcher    events.Dispatcher
	svc           *ReadReceiptService
	conversation  *domain.Conversation
}

func newReceiptFixture(t *testing.T) *receiptFixture {
	t.Helper()
	conversations := newFakeConversationRepo()
	conversation := conversations.add(&domain.Conversation{
		Type:        domain.ConversationBuyerSeller,
		InitiatorID: "buyer-1",
		ResponderID: "seller-1",
	})
	messages := newFakeMessageRepo(conversations)
	dispatcher := events.NewInMemoryDispatcher()
	return &receiptFixture{
		conversations: conversations,
		messages:      messages,
		dispatcher:    dispatcher,
		svc:           NewReadReceiptService(conversations, messages, dispatcher),
		conversation:  conversation,
	}
}

func (f *receiptFixture) seed(t *testing.T, senderID string, senderRole domain.ParticipantRole, contents ...string) {
	t.Helper()
	for _, content := range contents {
		msg := &domain.Message{
			ConversationID: f.conversation.ID,
			SenderID:       senderID,
			SenderRole:     senderRole,
			Content:        content,
		}
		require.NoError(t, f.messages.Append(context.Background(), msg))
	}
}

func TestMarkReadFlipsOnlyPeerMessages(t *testing.T) {
	f := newReceiptFixture(t)
	f.seed(t, "seller-1", domain.RoleSeller, "hi", "still there?")
	f.seed(t, "buyer-1", domain.RoleBuyer, "yes")

	var readEvents []events.Event
	f.dispatcher.Subscribe(events.EventMessagesRead, func(ctx context.Context, event events.Event) error {
		readEvents = append(readEvents, event)
		return nil
	})

	flipped, err := f.svc.MarkRead(context.Background(), "buyer-1", domain.RoleBuyer, f.conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), flipped)

	// the buyer's own message stays unread from the seller's side
	count, err := f.svc.UnreadCount(context.Background(), "seller-1", f.conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	if assert.Len(t, readEvents, 1) {
		payload, ok := readEvents[0].Payload.(events.MessagesReadPayload)
		require.True(t, ok)
		assert.Equal(t, "buyer-1", payload.ReaderID)
		assert.Equal(t, int64(2), payload.Count)
	}
}

func TestMarkReadIsIdempotent(t *testing.T) {
	f := newReceiptFixture(t)
	f.seed(t, "seller-1", domain.RoleSeller, "hi")

	var readEvents int
	f.dispatcher.Subscribe(events.EventMessagesRead, func(ctx context.Context, event events.Event) error {
		readEvents++
		return nil
	})

	flipped, err := f.svc.MarkRead(context.Background(), "buyer-1", domain.RoleBuyer, f.conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), flipped)

	flipped, err = f.svc.MarkRead(context.Background(), "buyer-1", domain.RoleBuyer, f.conversation.ID)
	require.NoError(t, err)
	assert.Zero(t, flipped)
	assert.Equal(t, 1, readEvents)
}

func TestMarkReadDeniesNonParticipant(t *testing.T) {
	f := newReceiptFixture(t)

	_, err := f.svc.MarkRead(context.Background(), "stranger", domain.RoleBuyer, f.conversation.ID)
	assert.True(t, apperrors.IsCode(err, "FORBIDDEN"))

	_, err = f.svc.MarkRead(context.Background(), "buyer-1", domain.RoleBuyer, "missing")
	assert.True(t, apperrors.IsCode(err, "NOT_FOUND"))
}

func TestUnreadRecomputedAfterNewMessage(t *testing.T) {
	f := newReceiptFixture(t)
	f.seed(t, "seller-1", domain.RoleSeller, "one", "two")

	_, err := f.svc.MarkRead(context.Background(), "buyer-1", domain.RoleBuyer, f.conversation.ID)
	require.NoError(t, err)

	// a message landing after the flip counts again; no drift from the race
	f.seed(t, "seller-1", domain.RoleSeller, "three")

	count, err := f.svc.UnreadCount(context.Background(), "buyer-1", f.conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestUnreadAggregatesAcrossConversations(t *testing.T) {
	f := newReceiptFixture(t)
	f.seed(t, "seller-1", domain.RoleSeller, "one", "two")

	other := f.conversations.add(&domain.Conversation{
		Type:        domain.ConversationBuyerAdmin,
		InitiatorID: "buyer-1",
		ResponderID: "admin-1",
	})
	require.NoError(t, f.messages.Append(context.Background(), &domain.Message{
		ConversationID: other.ID,
		SenderID:       "admin-1",
		SenderRole:     domain.RoleAdmin,
		Content:        "dispute update",
	}))

	counts, err := f.svc.UnreadByConversation(context.Background(), "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[f.conversation.ID])
	assert.Equal(t, int64(1), counts[other.ID])

	total, err := f.svc.TotalUnread(context.Background(), "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
}
