package store

import (
	"errors"
	"testing"
	"time"

	"github.com/dukerupert/orderlyflow/internal/model"
)

type familyFixture struct {
	families *FamilyStore
	users    *UserStore
	owner    *model.User
	invitee  *model.User
}

func setupFamilyTestDB(t *testing.T) *familyFixture {
	t.Helper()
	db := setupTestDB(t)
	users := NewUserStore(db)
	owner, err := users.Create("owner@example.com", "Owner", "pw123456")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	invitee, err := users.Create("invitee@example.com", "Invitee", "pw123456")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return &familyFixture{families: NewFamilyStore(db), users: users, owner: owner, invitee: invitee}
}

func TestFamilyCreateAccount(t *testing.T) {
	f := setupFamilyTestDB(t)

	acct, err := f.families.CreateAccount(f.owner.ID, "Smiths")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if acct.OwnerID != f.owner.ID || acct.Name != "Smiths" {
		t.Errorf("account = %+v", acct)
	}

	m, err := f.families.MemberOf(f.owner.ID)
	if err != nil {
		t.Fatalf("member of: %v", err)
	}
	if m == nil || m.Role != model.RoleOwner || m.FamilyID != acct.ID {
		t.Errorf("membership = %+v", m)
	}

	if _, err := f.families.CreateAccount(f.owner.ID, "Again"); !errors.Is(err, ErrAlreadyInFamily) {
		t.Errorf("err = %v, want ErrAlreadyInFamily", err)
	}
}

func TestFamilyInviteRules(t *testing.T) {
	f := setupFamilyTestDB(t)

	if _, err := f.families.Invite(f.owner.ID, "x@example.com"); !errors.Is(err, ErrNotInFamily) {
		t.Errorf("invite without family err = %v, want ErrNotInFamily", err)
	}

	if _, err := f.families.CreateAccount(f.owner.ID, "Smiths"); err != nil {
		t.Fatalf("create account: %v", err)
	}

	first, err := f.families.Invite(f.owner.ID, "Invitee@Example.com")
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if first.Email != "invitee@example.com" || first.Status != model.InvitationPending {
		t.Errorf("invitation = %+v", first)
	}
	if len(first.Token) != 64 {
		t.Errorf("token length = %d, want 64", len(first.Token))
	}
	if d := first.ExpiresAt.Sub(first.CreatedAt); d != InvitationTTL {
		t.Errorf("expiry window = %v, want %v", d, InvitationTTL)
	}

	second, err := f.families.Invite(f.owner.ID, "invitee@example.com")
	if err != nil {
		t.Fatalf("re-invite: %v", err)
	}
	if _, err := f.families.AcceptInvitation(f.invitee.ID, first.Token); !errors.Is(err, ErrInvitationInvalid) {
		t.Errorf("revoked token err = %v, want ErrInvitationInvalid", err)
	}
	if _, err := f.families.AcceptInvitation(f.invitee.ID, second.Token); err != nil {
		t.Fatalf("accept: %v", err)
	}

	// members cannot invite; members cannot be re-invited
	if _, err := f.families.Invite(f.invitee.ID, "z@example.com"); !errors.Is(err, ErrForbidden) {
		t.Errorf("member invite err = %v, want ErrForbidden", err)
	}
	if _, err := f.families.Invite(f.owner.ID, "invitee@example.com"); !errors.Is(err, ErrAlreadyInFamily) {
		t.Errorf("invite existing member err = %v, want ErrAlreadyInFamily", err)
	}
}

func TestFamilyAcceptInvitation(t *testing.T) {
	f := setupFamilyTestDB(t)
	if _, err := f.families.CreateAccount(f.owner.ID, "Smiths"); err != nil {
		t.Fatalf("create account: %v", err)
	}
	stranger, err := f.users.Create("stranger@example.com", "Stranger", "pw123456")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	inv, err := f.families.Invite(f.owner.ID, f.invitee.Email)
	if err != nil {
		t.Fatalf("invite: %v", err)
	}

	if _, err := f.families.AcceptInvitation(stranger.ID, inv.Token); !errors.Is(err, ErrInvitationInvalid) {
		t.Errorf("wrong recipient err = %v, want ErrInvitationInvalid", err)
	}
	if _, err := f.families.AcceptInvitation(f.invitee.ID, "bogus"); !errors.Is(err, ErrInvitationInvalid) {
		t.Errorf("bogus token err = %v, want ErrInvitationInvalid", err)
	}

	m, err := f.families.AcceptInvitation(f.invitee.ID, inv.Token)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if m.Role != model.RoleMember || m.UserID != f.invitee.ID {
		t.Errorf("member = %+v", m)
	}

	if _, err := f.families.AcceptInvitation(f.invitee.ID, inv.Token); !errors.Is(err, ErrInvitationInvalid) {
		t.Errorf("reused token err = %v, want ErrInvitationInvalid", err)
	}

	members, err := f.families.Members(m.FamilyID)
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	if len(members) != 2 || members[0].UserID != f.owner.ID {
		t.Errorf("members = %+v", members)
	}
}

func TestFamilyAcceptExpiredInvitation(t *testing.T) {
	f := setupFamilyTestDB(t)
	if _, err := f.families.CreateAccount(f.owner.ID, "Smiths"); err != nil {
		t.Fatalf("create account: %v", err)
	}
	inv, err := f.families.Invite(f.owner.ID, f.invitee.Email)
	if err != nil {
		t.Fatalf("invite: %v", err)
	}

	f.families.now = func() time.Time { return time.Now().Add(InvitationTTL + time.Hour) }
	if _, err := f.families.AcceptInvitation(f.invitee.ID, inv.Token); !errors.Is(err, ErrInvitationInvalid) {
		t.Errorf("expired token err = %v, want ErrInvitationInvalid", err)
	}
}

func TestFamilyRemoveMember(t *testing.T) {
	f := setupFamilyTestDB(t)
	if _, err := f.families.CreateAccount(f.owner.ID, "Smiths"); err != nil {
		t.Fatalf("create account: %v", err)
	}
	inv, _ := f.families.Invite(f.owner.ID, f.invitee.Email)
	if _, err := f.families.AcceptInvitation(f.invitee.ID, inv.Token); err != nil {
		t.Fatalf("accept: %v", err)
	}

	if err := f.families.RemoveMember(f.invitee.ID, f.owner.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("member removing owner err = %v, want ErrForbidden", err)
	}
	if err := f.families.RemoveMember(f.owner.ID, f.owner.ID); !errors.Is(err, ErrCannotRemoveOwner) {
		t.Errorf("owner self-removal err = %v, want ErrCannotRemoveOwner", err)
	}
	if err := f.families.RemoveMember(f.owner.ID, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown member err = %v, want ErrNotFound", err)
	}
	if err := f.families.RemoveMember(f.owner.ID, f.invitee.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}

	m, err := f.families.MemberOf(f.invitee.ID)
	if err != nil {
		t.Fatalf("member of: %v", err)
	}
	if m != nil {
		t.Errorf("expected no membership, got %+v", m)
	}
}
