package store

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrUnknownTable       = errors.New("unknown table")
	ErrUnknownColumn      = errors.New("unknown column")
	ErrInvalidValue       = errors.New("invalid column value")
	ErrMissingHome        = errors.New("home_id is required")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAlreadyInFamily    = errors.New("user already belongs to a family account")
	ErrNotInFamily        = errors.New("user does not belong to a family account")
	ErrCannotRemoveOwner  = errors.New("the family owner cannot be removed")
	ErrInvitationInvalid  = errors.New("invitation is invalid or expired")
)

type scanner interface {
	Scan(...any) error
}

func nullString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
