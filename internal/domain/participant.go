package domain

import "time"

// ParticipantRole enumerates marketplace actor roles.
type ParticipantRole string

const (
	RoleBuyer  ParticipantRole = "BUYER"
	RoleSeller ParticipantRole = "SELLER"
	RoleAdmin  ParticipantRole = "ADMIN"
)

// Valid reports whether the role is one of the known variants.
func (r ParticipantRole) Valid() bool {
	switch r {
	case RoleBuyer, RoleSeller, RoleAdmin:
		return true
	}
	return false
}

// RoleCapabilities describes what a role may do with conversations.
type RoleCapabilities struct {
	CanClose   bool
	CanArchive bool
	OpensTypes []ConversationType
}

var roleCapabilities = map[ParticipantRole]RoleCapabilities{
	RoleBuyer: {
		OpensTypes: []ConversationType{ConversationBuyerSeller, ConversationBuyerAdmin},
	},
	RoleSeller: {
		OpensTypes: []ConversationType{ConversationSellerAdmin},
	},
	RoleAdmin: {
		CanClose:   true,
		CanArchive: true,
		OpensTypes: []ConversationType{ConversationBuyerAdmin, ConversationSellerAdmin},
	},
}

// CapabilitiesFor returns the capability set for a role. Unknown roles get
// the zero value (no capabilities).
func CapabilitiesFor(role ParticipantRole) RoleCapabilities {
	return roleCapabilities[role]
}

// MayOpen reports whether the role is allowed to initiate the given
// conversation type.
func (c RoleCapabilities) MayOpen(t ConversationType) bool {
	for _, allowed := range c.OpensTypes {
		if allowed == t {
			return true
		}
	}
	return false
}

// Profile is the identity-provider surface for a marketplace participant.
type Profile struct {
	UserID      string
	DisplayName string
	Role        ParticipantRole
	CreatedAt   time.Time
}
