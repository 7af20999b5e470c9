package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/marketplace-chat/internal/domain"
	"github.com/spec-kit/marketplace-chat/internal/events"
	"github.com/spec-kit/marketplace-chat/internal/repository"
	apperrors "github.com/spec-kit/marketplace-chat/pkg/util"
)

// ConversationService is the registry resolving or creating a conversation
// for a (type, participants, context) tuple.
type ConversationService struct {
	conversations repository.ConversationRepository
	profiles      repository.ProfileRepository
	dispatcher    events.Dispatcher
}

// ConversationDependencies bundles repositories for the registry.
type ConversationDependencies struct {
	ConversationRepo repository.ConversationRepository
	ProfileRepo      repository.ProfileRepository
	Dispatcher       events.Dispatcher
}

// OpenConversationInput describes the discriminator tuple from the caller's
// point of view.
type OpenConversationInput struct {
	Type       domain.ConversationType
	PeerID     string
	ContextRef *string
}

// NewConversationService constructs the service.
func NewConversationService(deps ConversationDependencies) *ConversationService {
	return &ConversationService{
		conversations: deps.ConversationRepo,
		profiles:      deps.ProfileRepo,
		dispatcher:    deps.Dispatcher,
	}
}

// GetOrCreate resolves the active conversation for the tuple, creating one on
// miss. Concurrent calls can race past the existence check; the partial
// unique index is the authoritative guard, and a unique violation means
// another client won the race, so the winner's row is fetched and adopted.
func (s *ConversationService) GetOrCreate(ctx context.Context, actorID string, actorRole domain.ParticipantRole, input OpenConversationInput) (*domain.Conversation, error) {
	if !input.Type.Valid() {
		return nil, apperrors.NewValidationError("unknown conversation type", map[string]any{"type": input.Type})
	}
	if input.PeerID == "" || input.PeerID == actorID {
		return nil, apperrors.NewValidationError("peer_id required", nil)
	}
	if !domain.CapabilitiesFor(actorRole).MayOpen(input.Type) {
		return nil, apperrors.NewForbidden("role may not open this conversation type")
	}

	initiatorID, responderID, err := orientParticipants(input.Type, actorID, actorRole, input.PeerID)
	if err != nil {
		return nil, err
	}

	// An empty context is no context. The storage index collapses the two
	// (COALESCE), so the lookup must too or a conflict would never resolve.
	contextRef := input.ContextRef
	if contextRef != nil && *contextRef == "" {
		contextRef = nil
	}

	initiatorRole, responderRole := input.Type.Sides()
	if err := s.ensureProfiles(ctx,
		domain.Profile{UserID: initiatorID, Role: initiatorRole},
		domain.Profile{UserID: responderID, Role: responderRole},
	); err != nil {
		return nil, apperrors.NewUpstream("identity provider unavailable", err)
	}

	key := repository.ConversationKey{
		Type:        input.Type,
		InitiatorID: initiatorID,
		ResponderID: responderID,
		ContextRef:  contextRef,
	}

	existing, err := s.conversations.FindActive(ctx, key)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NewUpstream("conversation lookup failed", err)
	}

	conversation := &domain.Conversation{
		Type:        input.Type,
		InitiatorID: initiatorID,
		ResponderID: responderID,
		ContextRef:  contextRef,
		Status:      domain.ConversationActive,
	}
	if err := s.conversations.Create(ctx, conversation); err != nil {
		if repository.IsUniqueViolation(err) {
			// lost the creation race; the winner's row is the conversation
			winner, findErr := s.conversations.FindActive(ctx, key)
			if findErr != nil {
				return nil, apperrors.NewUpstream("conversation lookup failed", findErr)
			}
			return winner, nil
		}
		return nil, apperrors.NewUpstream("conversation create failed", err)
	}

	s.publishEvent(ctx, events.Event{
		Type:           events.EventConversationCreated,
		ConversationID: conversation.ID,
		Actor:          events.Actor{UserID: actorID, Role: actorRole},
		Payload: events.ConversationCreatedPayload{
			Type:        conversation.Type,
			InitiatorID: conversation.InitiatorID,
			ResponderID: conversation.ResponderID,
			ContextRef:  conversation.ContextRef,
		},
	})
	return conversation, nil
}

// Get loads a conversation the participant belongs to.
func (s *ConversationService) Get(ctx context.Context, participantID, conversationID string) (*domain.Conversation, error) {
	conversation, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("conversation", nil)
		}
		return nil, apperrors.NewUpstream("conversation lookup failed", err)
	}
	if !conversation.HasParticipant(participantID) {
		return nil, apperrors.NewForbidden("not a participant")
	}
	return conversation, nil
}

// ListForParticipant returns the participant's conversations ordered by
// recency.
func (s *ConversationService) ListForParticipant(ctx context.Context, participantID string) ([]domain.Conversation, error) {
	conversations, err := s.conversations.ListByParticipant(ctx, participantID)
	if err != nil {
		return nil, apperrors.NewUpstream("conversation list failed", err)
	}
	return conversations, nil
}

// Close transitions an active conversation to CLOSED. Only roles carrying
// the close capability may do this; closing an already-closed conversation
// is a no-op.
func (s *ConversationService) Close(ctx context.Context, actorID string, actorRole domain.ParticipantRole, conversationID string) (*domain.Conversation, error) {
	if !domain.CapabilitiesFor(actorRole).CanClose {
		return nil, apperrors.NewForbidden("role may not close conversations")
	}
	conversation, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("conversation", nil)
		}
		return nil, apperrors.NewUpstream("conversation lookup failed", err)
	}
	if conversation.Status != domain.ConversationActive {
		return conversation, nil
	}
	if err := s.conversations.SetStatus(ctx, conversationID, domain.ConversationClosed); err != nil {
		return nil, apperrors.NewUpstream("conversation close failed", err)
	}
	conversation.Status = domain.ConversationClosed

	s.publishEvent(ctx, events.Event{
		Type:           events.EventConversationClosed,
		ConversationID: conversation.ID,
		Actor:          events.Actor{UserID: actorID, Role: actorRole},
		Payload:        events.ConversationClosedPayload{ClosedBy: actorID},
	})
	return conversation, nil
}

func (s *ConversationService) ensureProfiles(ctx context.Context, profiles ...domain.Profile) error {
	for i := range profiles {
		if err := s.profiles.Ensure(ctx, &profiles[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *ConversationService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	event.ID = uuid.NewString()
	event.Timestamp = time.Now().UTC()
	_ = s.dispatcher.Publish(ctx, event)
}

// orientParticipants maps the acting user onto the side of the tuple its
// role occupies for the conversation type.
func orientParticipants(t domain.ConversationType, actorID string, actorRole domain.ParticipantRole, peerID string) (initiatorID, responderID string, err error) {
	initiatorRole, responderRole := t.Sides()
	switch actorRole {
	case initiatorRole:
		return actorID, peerID, nil
	case responderRole:
		return peerID, actorID, nil
	default:
		return "", "", apperrors.NewForbidden("role has no side in this conversation type")
	}
}
