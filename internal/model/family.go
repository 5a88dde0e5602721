package model

import "time"

const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

const (
	InvitationPending  = "pending"
	InvitationAccepted = "accepted"
	InvitationRevoked  = "revoked"
)

type FamilyAccount struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type FamilyMember struct {
	FamilyID  string    `json:"family_id"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// FamilyInvitation is an email invitation to join a family account. Token is
// only populated on the server side; it never leaves the backend except in
// the invitation email.
type FamilyInvitation struct {
	ID        string    `json:"id"`
	FamilyID  string    `json:"family_id"`
	Email     string    `json:"email"`
	Token     string    `json:"-"`
	Status    string    `json:"status"`
	InvitedBy string    `json:"invited_by"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}
