package store

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/orderlyflow/internal/database"
	"github.com/dukerupert/orderlyflow/internal/model"
)

// Publisher receives a change event after every committed write.
type Publisher interface {
	Publish(ev model.ChangeEvent)
}

// editable lists the client-writable columns of each entity table. id,
// home_id, created_at and updated_at are managed by the store.
var editable = map[string][]string{
	model.TableAppliances: {"name", "brand", "model", "purchase_date", "warranty_expiration", "manual_url", "room", "purchased_store", "notes"},
	model.TableFilters:    {"name", "room", "location", "type", "brand", "model", "size", "last_replaced", "replacement_frequency", "notes"},
	model.TableMaterials:  {"name", "room", "type", "brand", "source", "purchase_date", "notes"},
	model.TablePaints:     {"name", "room", "brand", "color_code", "color_hex", "notes"},
	model.TableWarranties: {"item_name", "room", "warranty_start_date", "warranty_end_date", "provider", "notes"},
}

var managed = map[string]bool{"id": true, "home_id": true, "created_at": true, "updated_at": true}

// Tables returns the entity table names in sorted order.
func Tables() []string {
	names := make([]string, 0, len(editable))
	for t := range editable {
		names = append(names, t)
	}
	sort.Strings(names)
	return names
}

// IsTable reports whether name is an entity table.
func IsTable(name string) bool {
	_, ok := editable[name]
	return ok
}

// TableStore is row-level CRUD over the home-scoped entity tables.
type TableStore struct {
	db  *sql.DB
	pub Publisher
	now func() time.Time
}

func NewTableStore(db *sql.DB, pub Publisher) *TableStore {
	return &TableStore{db: db, pub: pub, now: time.Now}
}

func selectCols(table string) string {
	return "id, home_id, " + strings.Join(editable[table], ", ") + ", created_at, updated_at"
}

func scanRow(sc scanner, table string) (model.Row, error) {
	cols := append(append([]string{"id", "home_id"}, editable[table]...), "created_at", "updated_at")
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := sc.Scan(ptrs...); err != nil {
		return nil, err
	}
	row := make(model.Row, len(cols))
	for i, c := range cols {
		if b, ok := vals[i].([]byte); ok {
			row[c] = string(b)
			continue
		}
		row[c] = vals[i]
	}
	return row, nil
}

// integer lists the INTEGER columns; every other editable column is TEXT.
var integer = map[string]bool{
	model.TableFilters + ".replacement_frequency": true,
}

// checkValue type-checks v against the column's affinity and returns the
// value to bind. INTEGER columns take whole numbers, TEXT columns strings;
// both take nil.
func checkValue(table, col string, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if integer[table+"."+col] {
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int64:
			return n, nil
		case float64:
			if n == math.Trunc(n) && n >= math.MinInt64 && n < math.MaxInt64 {
				return int64(n), nil
			}
		}
		return nil, fmt.Errorf("%w: %s.%s must be a whole number", ErrInvalidValue, table, col)
	}
	if str, ok := v.(string); ok {
		return str, nil
	}
	return nil, fmt.Errorf("%w: %s.%s must be a string", ErrInvalidValue, table, col)
}

// writable splits data into the editable columns and their values. Managed
// columns are dropped; anything else is ErrUnknownColumn.
func writable(table string, data model.Row) ([]string, []any, error) {
	allowed := make(map[string]bool, len(editable[table]))
	for _, c := range editable[table] {
		allowed[c] = true
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		if managed[k] {
			continue
		}
		if !allowed[k] {
			return nil, nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, table, k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	vals := make([]any, 0, len(keys))
	for _, k := range keys {
		v, err := checkValue(table, k, data[k])
		if err != nil {
			return nil, nil, err
		}
		vals = append(vals, v)
	}
	return keys, vals, nil
}

type rowQuerier interface {
	QueryRow(query string, args ...any) *sql.Row
}

func getRow(q rowQuerier, table, id string) (model.Row, error) {
	row := q.QueryRow(`SELECT `+selectCols(table)+` FROM `+table+` WHERE id = ?`, id)
	r, err := scanRow(row, table)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s row: %w", table, err)
	}
	return r, nil
}

// Select returns homeID's rows of table, newest first.
func (s *TableStore) Select(table, homeID string) ([]model.Row, error) {
	if !IsTable(table) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	rows, err := s.db.Query(
		`SELECT `+selectCols(table)+` FROM `+table+` WHERE home_id = ? ORDER BY created_at DESC, rowid DESC`,
		homeID,
	)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	out := []model.Row{}
	for rows.Next() {
		r, err := scanRow(rows, table)
		if err != nil {
			return nil, fmt.Errorf("scan %s row: %w", table, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Get returns one row by id, or nil if it does not exist.
func (s *TableStore) Get(table, id string) (model.Row, error) {
	if !IsTable(table) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	return getRow(s.db, table, id)
}

// Insert adds a row for data["home_id"]. The store assigns id and
// timestamps; client-supplied values for them are ignored.
func (s *TableStore) Insert(table string, data model.Row) (model.Row, error) {
	if !IsTable(table) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	homeID := data.String("home_id")
	if homeID == "" {
		return nil, ErrMissingHome
	}
	cols, vals, err := writable(table, data)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	now := database.FormatTime(s.now())
	cols = append([]string{"id", "home_id"}, cols...)
	cols = append(cols, "created_at", "updated_at")
	vals = append([]any{id, homeID}, vals...)
	vals = append(vals, now, now)

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	_, err = s.db.Exec(
		`INSERT INTO `+table+` (`+strings.Join(cols, ", ")+`) VALUES (`+placeholders+`)`,
		vals...,
	)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}

	row, err := getRow(s.db, table, id)
	if err != nil {
		return nil, err
	}
	s.publish(table, model.EventInsert, row, nil)
	return row, nil
}

// Update applies a partial update. Managed columns, including home_id,
// cannot be changed and are silently dropped.
func (s *TableStore) Update(table, id string, fields model.Row) (model.Row, error) {
	if !IsTable(table) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	cols, vals, err := writable(table, fields)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	old, err := getRow(tx, table, id)
	if err != nil {
		return nil, err
	}
	if old == nil {
		return nil, ErrNotFound
	}

	sets := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		sets = append(sets, c+" = ?")
	}
	sets = append(sets, "updated_at = ?")
	vals = append(vals, database.FormatTime(s.now()), id)

	if _, err := tx.Exec(`UPDATE `+table+` SET `+strings.Join(sets, ", ")+` WHERE id = ?`, vals...); err != nil {
		return nil, fmt.Errorf("update %s: %w", table, err)
	}
	updated, err := getRow(tx, table, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	s.publish(table, model.EventUpdate, updated, old)
	return updated, nil
}

// Delete removes the row with id and publishes it as the event's old row.
func (s *TableStore) Delete(table, id string) error {
	if !IsTable(table) {
		return fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	old, err := getRow(tx, table, id)
	if err != nil {
		return err
	}
	if old == nil {
		return ErrNotFound
	}
	if _, err := tx.Exec(`DELETE FROM `+table+` WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.publish(table, model.EventDelete, nil, old)
	return nil
}

func (s *TableStore) publish(table string, event model.EventType, newRow, oldRow model.Row) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(model.ChangeEvent{
		Table:           table,
		EventType:       event,
		New:             newRow,
		Old:             oldRow,
		CommitTimestamp: s.now().UTC(),
	})
}
