package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/dukerupert/orderlyflow/internal/database"
	"github.com/dukerupert/orderlyflow/internal/model"
)

// HomeStore manages homes. A home is visible to its owner and, when the
// owner belongs to a family account, to every member of that family.
type HomeStore struct {
	db *sql.DB
}

func NewHomeStore(db *sql.DB) *HomeStore {
	return &HomeStore{db: db}
}

func scanHome(sc scanner) (*model.Home, error) {
	var h model.Home
	var address sql.NullString
	var created, updated string
	err := sc.Scan(&h.ID, &h.Name, &address, &h.OwnerID, &created, &updated)
	if err != nil {
		return nil, err
	}
	if address.Valid {
		h.Address = &address.String
	}
	if h.CreatedAt, err = database.ParseTime(created); err != nil {
		return nil, err
	}
	if h.UpdatedAt, err = database.ParseTime(updated); err != nil {
		return nil, err
	}
	return &h, nil
}

const homeCols = `id, name, address, owner_id, created_at, updated_at`

// visibleOwners selects the user ids whose homes user ? may see.
const visibleOwners = `SELECT m2.user_id FROM family_members m1
	JOIN family_members m2 ON m2.family_id = m1.family_id
	WHERE m1.user_id = ?`

func (s *HomeStore) Create(ownerID, name string, address *string) (*model.Home, error) {
	id := uuid.NewString()
	now := database.Now()
	_, err := s.db.Exec(
		`INSERT INTO homes (id, name, address, owner_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, name, nullString(address), ownerID, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert home: %w", err)
	}
	return s.GetByID(id)
}

func (s *HomeStore) GetByID(id string) (*model.Home, error) {
	row := s.db.QueryRow(`SELECT `+homeCols+` FROM homes WHERE id = ?`, id)
	h, err := scanHome(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get home: %w", err)
	}
	return h, nil
}

// ListForUser returns the homes userID can see, newest first.
func (s *HomeStore) ListForUser(userID string) ([]model.Home, error) {
	rows, err := s.db.Query(
		`SELECT `+homeCols+` FROM homes WHERE owner_id = ? OR owner_id IN (`+visibleOwners+`)
		ORDER BY created_at DESC, rowid DESC`,
		userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query homes: %w", err)
	}
	defer rows.Close()

	homes := []model.Home{}
	for rows.Next() {
		h, err := scanHome(rows)
		if err != nil {
			return nil, fmt.Errorf("scan home: %w", err)
		}
		homes = append(homes, *h)
	}
	return homes, rows.Err()
}

// CanAccess reports whether userID may read and write homeID's rows.
func (s *HomeStore) CanAccess(userID, homeID string) (bool, error) {
	var one int
	err := s.db.QueryRow(
		`SELECT 1 FROM homes WHERE id = ? AND (owner_id = ? OR owner_id IN (`+visibleOwners+`))`,
		homeID, userID, userID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check home access: %w", err)
	}
	return true, nil
}
