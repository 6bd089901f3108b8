package models

type UserRole string

const (
	RoleAdmin       UserRole = "admin"
	RoleOrganizer   UserRole = "organizer"
	RoleParticipant UserRole = "participant"
)

// Participant is the read-only projection of a platform user.
type Participant struct {
	ID          int    `json:"id" db:"id"`
	DisplayName string `json:"display_name" db:"display_name"`
}
