package model

import "github.com/google/uuid"

// User is a clinician identified by the bearer token subject.
type User struct {
	Base
	Email string `json:"email" db:"email"`
	Name  string `json:"name" db:"name"`
}

// UserIdentity is what the auth middleware learns from a verified token.
type UserIdentity struct {
	ID    uuid.UUID
	Email string
	Name  string
}
