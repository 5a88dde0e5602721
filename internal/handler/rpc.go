package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/orderlyflow/internal/auth"
	"github.com/dukerupert/orderlyflow/internal/backend"
	"github.com/dukerupert/orderlyflow/internal/store"
)

// InvitationSender delivers an invitation token to the invitee.
type InvitationSender interface {
	SendInvitation(ctx context.Context, toEmail, token, familyName, inviterName string) error
}

// FeedRevalidator drops realtime subscribers that allowed rejects.
type FeedRevalidator interface {
	Revalidate(allowed func(userID, homeID string) bool) int
}

// RPCHandler serves the family account procedures.
type RPCHandler struct {
	families *store.FamilyStore
	users    *store.UserStore
	homes    *store.HomeStore
	feeds    FeedRevalidator
	mailer   InvitationSender
	logger   *slog.Logger
}

func NewRPCHandler(fs *store.FamilyStore, us *store.UserStore, hs *store.HomeStore, feeds FeedRevalidator, mailer InvitationSender, logger *slog.Logger) *RPCHandler {
	return &RPCHandler{families: fs, users: us, homes: hs, feeds: feeds, mailer: mailer, logger: logger}
}

func (h *RPCHandler) Call(w http.ResponseWriter, r *http.Request) {
	switch name := r.PathValue("name"); name {
	case backend.ProcCreateFamilyAccount:
		h.createFamilyAccount(w, r)
	case backend.ProcInviteFamilyMember:
		h.inviteFamilyMember(w, r)
	case backend.ProcAcceptFamilyInvitation:
		h.acceptFamilyInvitation(w, r)
	case backend.ProcRemoveFamilyMember:
		h.removeFamilyMember(w, r)
	default:
		writeError(w, http.StatusNotFound, "unknown procedure "+name)
	}
}

func (h *RPCHandler) createFamilyAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name" validate:"required,max=100"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	acct, err := h.families.CreateAccount(auth.UserID(r.Context()), name)
	if err != nil {
		writeStoreError(w, h.logger, err, "failed to create family account")
		return
	}
	h.logger.Info("family account created", "family_id", acct.ID, "owner_id", acct.OwnerID)
	writeJSON(w, http.StatusOK, acct)
}

func (h *RPCHandler) inviteFamilyMember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email" validate:"required,email"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	userID := auth.UserID(r.Context())
	inv, err := h.families.Invite(userID, req.Email)
	if err != nil {
		writeStoreError(w, h.logger, err, "failed to invite family member")
		return
	}

	// The invitation stands even when the email cannot be sent.
	if err := h.sendInvitation(r.Context(), userID, inv.FamilyID, inv.Email, inv.Token); err != nil {
		h.logger.Warn("invitation email not sent", "invitation_id", inv.ID, "error", err)
	}
	writeJSON(w, http.StatusOK, inv)
}

func (h *RPCHandler) sendInvitation(ctx context.Context, inviterID, familyID, to, token string) error {
	if h.mailer == nil {
		return nil
	}
	acct, err := h.families.GetAccount(familyID)
	if err != nil {
		return err
	}
	var familyName, inviterName string
	if acct != nil {
		familyName = acct.Name
	}
	if u, err := h.users.GetByID(inviterID); err == nil && u != nil {
		inviterName = u.Name
	}
	return h.mailer.SendInvitation(ctx, to, token, familyName, inviterName)
}

func (h *RPCHandler) acceptFamilyInvitation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token" validate:"required"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	m, err := h.families.AcceptInvitation(auth.UserID(r.Context()), strings.TrimSpace(req.Token))
	if err != nil {
		writeStoreError(w, h.logger, err, "failed to accept invitation")
		return
	}
	h.logger.Info("family invitation accepted", "family_id", m.FamilyID, "user_id", m.UserID)
	writeJSON(w, http.StatusOK, m)
}

func (h *RPCHandler) removeFamilyMember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id" validate:"required"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.families.RemoveMember(auth.UserID(r.Context()), req.UserID); err != nil {
		writeStoreError(w, h.logger, err, "failed to remove family member")
		return
	}
	h.revokeFeeds(req.UserID)
	writeJSON(w, http.StatusOK, map[string]bool{"removed": true})
}

// revokeFeeds closes the removed member's subscriptions to homes they can
// no longer reach. A failed access check closes the subscription.
func (h *RPCHandler) revokeFeeds(userID string) {
	if h.feeds == nil {
		return
	}
	n := h.feeds.Revalidate(func(subscriber, homeID string) bool {
		if subscriber != userID {
			return true
		}
		ok, err := h.homes.CanAccess(subscriber, homeID)
		if err != nil {
			h.logger.Error("failed to recheck home access", "user_id", subscriber, "home_id", homeID, "error", err)
			return false
		}
		return ok
	})
	if n > 0 {
		h.logger.Info("closed realtime subscriptions of removed member", "user_id", userID, "count", n)
	}
}
