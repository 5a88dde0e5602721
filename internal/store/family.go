package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/orderlyflow/internal/database"
	"github.com/dukerupert/orderlyflow/internal/model"
)

// InvitationTTL is how long an invitation token stays valid.
const InvitationTTL = 7 * 24 * time.Hour

// FamilyStore implements the family account procedures. A user belongs to
// at most one family account.
type FamilyStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewFamilyStore(db *sql.DB) *FamilyStore {
	return &FamilyStore{db: db, now: time.Now}
}

func scanFamilyAccount(sc scanner) (*model.FamilyAccount, error) {
	var a model.FamilyAccount
	var created, updated string
	err := sc.Scan(&a.ID, &a.Name, &a.OwnerID, &created, &updated)
	if err != nil {
		return nil, err
	}
	if a.CreatedAt, err = database.ParseTime(created); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = database.ParseTime(updated); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanFamilyMember(sc scanner) (*model.FamilyMember, error) {
	var m model.FamilyMember
	var created string
	err := sc.Scan(&m.FamilyID, &m.UserID, &m.Role, &created)
	if err != nil {
		return nil, err
	}
	if m.CreatedAt, err = database.ParseTime(created); err != nil {
		return nil, err
	}
	return &m, nil
}

func scanInvitation(sc scanner) (*model.FamilyInvitation, error) {
	var inv model.FamilyInvitation
	var expires, created string
	err := sc.Scan(&inv.ID, &inv.FamilyID, &inv.Email, &inv.Token, &inv.Status, &inv.InvitedBy, &expires, &created)
	if err != nil {
		return nil, err
	}
	if inv.ExpiresAt, err = database.ParseTime(expires); err != nil {
		return nil, err
	}
	if inv.CreatedAt, err = database.ParseTime(created); err != nil {
		return nil, err
	}
	return &inv, nil
}

const familyAccountCols = `id, name, owner_id, created_at, updated_at`
const familyMemberCols = `family_id, user_id, role, created_at`
const invitationCols = `id, family_id, email, token, status, invited_by, expires_at, created_at`

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func memberOf(q rowQuerier, userID string) (*model.FamilyMember, error) {
	m, err := scanFamilyMember(q.QueryRow(`SELECT `+familyMemberCols+` FROM family_members WHERE user_id = ?`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get family membership: %w", err)
	}
	return m, nil
}

// MemberOf returns userID's membership, or nil if the user has no family.
func (s *FamilyStore) MemberOf(userID string) (*model.FamilyMember, error) {
	return memberOf(s.db, userID)
}

func (s *FamilyStore) GetAccount(id string) (*model.FamilyAccount, error) {
	a, err := scanFamilyAccount(s.db.QueryRow(`SELECT `+familyAccountCols+` FROM family_accounts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get family account: %w", err)
	}
	return a, nil
}

func (s *FamilyStore) Members(familyID string) ([]model.FamilyMember, error) {
	rows, err := s.db.Query(
		`SELECT `+familyMemberCols+` FROM family_members WHERE family_id = ? ORDER BY created_at, rowid`,
		familyID,
	)
	if err != nil {
		return nil, fmt.Errorf("query family members: %w", err)
	}
	defer rows.Close()

	members := []model.FamilyMember{}
	for rows.Next() {
		m, err := scanFamilyMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan family member: %w", err)
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

// CreateAccount creates a family account owned by userID.
func (s *FamilyStore) CreateAccount(userID, name string) (*model.FamilyAccount, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	existing, err := memberOf(tx, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrAlreadyInFamily
	}

	id := uuid.NewString()
	now := database.FormatTime(s.now())
	if _, err := tx.Exec(
		`INSERT INTO family_accounts (id, name, owner_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, name, userID, now, now,
	); err != nil {
		return nil, fmt.Errorf("insert family account: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO family_members (family_id, user_id, role, created_at) VALUES (?, ?, ?, ?)`,
		id, userID, model.RoleOwner, now,
	); err != nil {
		return nil, fmt.Errorf("insert family owner: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetAccount(id)
}

// Invite creates a pending invitation for email into the caller's family.
// Only the owner may invite. Any earlier pending invitation for the same
// email is revoked first.
func (s *FamilyStore) Invite(userID, email string) (*model.FamilyInvitation, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	m, err := memberOf(tx, userID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrNotInFamily
	}
	if m.Role != model.RoleOwner {
		return nil, ErrForbidden
	}

	var already int
	err = tx.QueryRow(
		`SELECT COUNT(*) FROM family_members fm JOIN users u ON u.id = fm.user_id WHERE u.email = ?`,
		email,
	).Scan(&already)
	if err != nil {
		return nil, fmt.Errorf("check invitee membership: %w", err)
	}
	if already > 0 {
		return nil, ErrAlreadyInFamily
	}

	if _, err := tx.Exec(
		`UPDATE family_invitations SET status = ? WHERE family_id = ? AND email = ? AND status = ?`,
		model.InvitationRevoked, m.FamilyID, email, model.InvitationPending,
	); err != nil {
		return nil, fmt.Errorf("revoke previous invitations: %w", err)
	}

	token, err := generateToken()
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	now := s.now()
	if _, err := tx.Exec(
		`INSERT INTO family_invitations (id, family_id, email, token, status, invited_by, expires_at, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, m.FamilyID, email, token, model.InvitationPending, userID,
		database.FormatTime(now.Add(InvitationTTL)), database.FormatTime(now),
	); err != nil {
		return nil, fmt.Errorf("insert invitation: %w", err)
	}

	inv, err := scanInvitation(tx.QueryRow(`SELECT `+invitationCols+` FROM family_invitations WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("get invitation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return inv, nil
}

// AcceptInvitation joins userID to the family named by token. The
// invitation must be pending, unexpired and addressed to the user's email.
func (s *FamilyStore) AcceptInvitation(userID, token string) (*model.FamilyMember, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	inv, err := scanInvitation(tx.QueryRow(`SELECT `+invitationCols+` FROM family_invitations WHERE token = ?`, token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvitationInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("get invitation: %w", err)
	}

	var email string
	if err := tx.QueryRow(`SELECT email FROM users WHERE id = ?`, userID).Scan(&email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user email: %w", err)
	}

	now := s.now()
	if inv.Status != model.InvitationPending || !now.Before(inv.ExpiresAt) || !strings.EqualFold(inv.Email, email) {
		return nil, ErrInvitationInvalid
	}

	existing, err := memberOf(tx, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrAlreadyInFamily
	}

	if _, err := tx.Exec(
		`INSERT INTO family_members (family_id, user_id, role, created_at) VALUES (?, ?, ?, ?)`,
		inv.FamilyID, userID, model.RoleMember, database.FormatTime(now),
	); err != nil {
		return nil, fmt.Errorf("insert family member: %w", err)
	}
	if _, err := tx.Exec(
		`UPDATE family_invitations SET status = ? WHERE id = ?`,
		model.InvitationAccepted, inv.ID,
	); err != nil {
		return nil, fmt.Errorf("mark invitation accepted: %w", err)
	}

	m, err := memberOf(tx, userID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return m, nil
}

// RemoveMember removes memberUserID from the caller's family. Only the
// owner may remove members and the owner cannot be removed.
func (s *FamilyStore) RemoveMember(userID, memberUserID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	caller, err := memberOf(tx, userID)
	if err != nil {
		return err
	}
	if caller == nil {
		return ErrNotInFamily
	}
	if caller.Role != model.RoleOwner {
		return ErrForbidden
	}
	if memberUserID == userID {
		return ErrCannotRemoveOwner
	}

	res, err := tx.Exec(
		`DELETE FROM family_members WHERE family_id = ? AND user_id = ?`,
		caller.FamilyID, memberUserID,
	)
	if err != nil {
		return fmt.Errorf("delete family member: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}
