package domain

// Entity types known to the directory.
const (
	EntityOrganization = "organization"
	EntityStudent      = "student"
	EntityTeacher      = "teacher"
	EntityFunder       = "funder"
	EntityTraining     = "training"
	EntityClassSession = "class_session"
	EntityDocument     = "document"
)

// Entity is a directory record for a subject or target referenced by a
// token scope.
type Entity struct {
	Type           string `json:"type" yaml:"type"`
	ID             string `json:"id" yaml:"id"`
	OrganizationID string `json:"organization_id" yaml:"organization_id"`
	Name           string `json:"name,omitempty" yaml:"name,omitempty"`
	// Address is the notification address (email, webhook target).
	Address string `json:"address,omitempty" yaml:"address,omitempty"`
}

// Recipient returns the notification recipient for e.
func (e *Entity) Recipient(rt RecipientType) Recipient {
	return Recipient{
		SubjectType:   e.Type,
		SubjectID:     e.ID,
		Name:          e.Name,
		Address:       e.Address,
		RecipientType: rt,
	}
}

// RecipientTypeFor maps a subject entity type to its recipient type.
func RecipientTypeFor(entityType string) RecipientType {
	switch entityType {
	case EntityStudent:
		return RecipientStudent
	case EntityFunder:
		return RecipientFunder
	case EntityTeacher:
		return RecipientTeacher
	}
	return RecipientOther
}
