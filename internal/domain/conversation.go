package domain

import "time"

// ConversationType enumerates the surfaces a conversation can belong to.
type ConversationType string

const (
	ConversationBuyerSeller ConversationType = "BUYER_SELLER"
	ConversationBuyerAdmin  ConversationType = "BUYER_ADMIN"
	ConversationSellerAdmin ConversationType = "SELLER_ADMIN"
)

// Valid reports whether the conversation type is known.
func (t ConversationType) Valid() bool {
	switch t {
	case ConversationBuyerSeller, ConversationBuyerAdmin, ConversationSellerAdmin:
		return true
	}
	return false
}

// Sides returns the roles expected of the initiator and responder for the
// conversation type.
func (t ConversationType) Sides() (initiator, responder ParticipantRole) {
	switch t {
	case ConversationBuyerSeller:
		return RoleBuyer, RoleSeller
	case ConversationBuyerAdmin:
		return RoleBuyer, RoleAdmin
	case ConversationSellerAdmin:
		return RoleSeller, RoleAdmin
	}
	return "", ""
}

// ConversationStatus enumerates lifecycle states for conversations.
type ConversationStatus string

const (
	ConversationActive   ConversationStatus = "ACTIVE"
	ConversationClosed   ConversationStatus = "CLOSED"
	ConversationArchived ConversationStatus = "ARCHIVED"
)

// Conversation is the aggregate for a message thread between two
// participants, optionally anchored to a product, order, or support subject.
// At most one ACTIVE conversation exists per (type, participants, context)
// tuple; the storage layer enforces this with a partial unique index.
type Conversation struct {
	ID            string
	Type          ConversationType
	InitiatorID   string
	ResponderID   string
	ContextRef    *string
	Status        ConversationStatus
	LastMessageAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasParticipant reports whether the given user is one of the two sides.
func (c *Conversation) HasParticipant(userID string) bool {
	return c.InitiatorID == userID || c.ResponderID == userID
}

// PeerOf returns the other side of the conversation for the given user.
func (c *Conversation) PeerOf(userID string) string {
	if c.InitiatorID == userID {
		return c.ResponderID
	}
	return c.InitiatorID
}
