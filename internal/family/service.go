// Package family wraps the family account procedures in typed calls.
package family

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dukerupert/orderlyflow/internal/backend"
	"github.com/dukerupert/orderlyflow/internal/model"
)

var (
	ErrEmptyName    = errors.New("family: name is required")
	ErrInvalidEmail = errors.New("family: invalid email address")
	ErrEmptyToken   = errors.New("family: invitation token is required")
	ErrEmptyUserID  = errors.New("family: user id is required")
)

var validate = validator.New()

type Service struct {
	procs backend.Procedures
}

func NewService(procs backend.Procedures) *Service {
	return &Service{procs: procs}
}

// CreateAccount makes the caller the owner of a new family account.
func (s *Service) CreateAccount(ctx context.Context, name string) (*model.FamilyAccount, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyName
	}
	var acct model.FamilyAccount
	if err := s.procs.Call(ctx, backend.ProcCreateFamilyAccount, map[string]string{"name": name}, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

// Invite emails an invitation to join the caller's family. Only the owner
// may invite.
func (s *Service) Invite(ctx context.Context, email string) (*model.FamilyInvitation, error) {
	email = strings.TrimSpace(email)
	if err := validate.Var(email, "required,email"); err != nil {
		return nil, ErrInvalidEmail
	}
	var inv model.FamilyInvitation
	if err := s.procs.Call(ctx, backend.ProcInviteFamilyMember, map[string]string{"email": email}, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *Service) Accept(ctx context.Context, token string) (*model.FamilyMember, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrEmptyToken
	}
	var m model.FamilyMember
	if err := s.procs.Call(ctx, backend.ProcAcceptFamilyInvitation, map[string]string{"token": token}, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Service) RemoveMember(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrEmptyUserID
	}
	return s.procs.Call(ctx, backend.ProcRemoveFamilyMember, map[string]string{"user_id": userID}, nil)
}
