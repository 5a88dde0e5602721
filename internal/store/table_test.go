package store

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/orderlyflow/internal/model"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.ChangeEvent
}

func (p *recordingPublisher) Publish(ev model.ChangeEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) Events() []model.ChangeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.ChangeEvent(nil), p.events...)
}

type tableFixture struct {
	tables *TableStore
	pub    *recordingPublisher
	home   *model.Home
	other  *model.Home
}

func setupTableTestDB(t *testing.T) *tableFixture {
	t.Helper()
	db := setupTestDB(t)

	u, err := NewUserStore(db).Create("owner@example.com", "Owner", "pw123456")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	homes := NewHomeStore(db)
	h1, err := homes.Create(u.ID, "Main St", nil)
	if err != nil {
		t.Fatalf("create home: %v", err)
	}
	h2, err := homes.Create(u.ID, "Lake House", nil)
	if err != nil {
		t.Fatalf("create home: %v", err)
	}

	pub := &recordingPublisher{}
	ts := NewTableStore(db, pub)
	tick := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ts.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	return &tableFixture{tables: ts, pub: pub, home: h1, other: h2}
}

func TestTableInsertAssignsManagedColumns(t *testing.T) {
	f := setupTableTestDB(t)

	row, err := f.tables.Insert(model.TableAppliances, model.Row{
		"id":      "client-chosen",
		"home_id": f.home.ID,
		"name":    "Fridge",
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if id := row.String("id"); id == "" || id == "client-chosen" {
		t.Errorf("id = %q, want a store-assigned id", id)
	}
	if row.String("home_id") != f.home.ID {
		t.Errorf("home_id = %q, want %q", row.String("home_id"), f.home.ID)
	}
	if row.String("created_at") == "" {
		t.Error("expected created_at to be set")
	}
	if row["brand"] != nil {
		t.Errorf("brand = %v, want nil", row["brand"])
	}

	events := f.pub.Events()
	if len(events) != 1 {
		t.Fatalf("published %d events, want 1", len(events))
	}
	if events[0].EventType != model.EventInsert || events[0].Table != model.TableAppliances {
		t.Errorf("event = %s %s", events[0].EventType, events[0].Table)
	}
	if events[0].Old != nil {
		t.Errorf("insert event old = %v, want nil", events[0].Old)
	}
	if events[0].RowID() != row.String("id") {
		t.Errorf("event row id = %q, want %q", events[0].RowID(), row.String("id"))
	}
}

func TestTableInsertRequiresHome(t *testing.T) {
	f := setupTableTestDB(t)

	_, err := f.tables.Insert(model.TableAppliances, model.Row{"name": "Fridge"})
	if !errors.Is(err, ErrMissingHome) {
		t.Fatalf("err = %v, want ErrMissingHome", err)
	}
}

func TestTableRejectsUnknownColumnAndTable(t *testing.T) {
	f := setupTableTestDB(t)

	_, err := f.tables.Insert(model.TableAppliances, model.Row{"home_id": f.home.ID, "color_hex": "#fff"})
	if !errors.Is(err, ErrUnknownColumn) {
		t.Errorf("err = %v, want ErrUnknownColumn", err)
	}
	_, err = f.tables.Insert("users", model.Row{"home_id": f.home.ID})
	if !errors.Is(err, ErrUnknownTable) {
		t.Errorf("err = %v, want ErrUnknownTable", err)
	}
	_, err = f.tables.Insert("notes", model.Row{"home_id": f.home.ID})
	if !errors.Is(err, ErrUnknownTable) {
		t.Errorf("err = %v, want ErrUnknownTable", err)
	}
	_, err = f.tables.Insert(model.TablePaints, model.Row{"home_id": f.home.ID, "name": map[string]any{"x": 1}})
	if !errors.Is(err, ErrInvalidValue) {
		t.Errorf("err = %v, want ErrInvalidValue", err)
	}
	if n := len(f.pub.Events()); n != 0 {
		t.Errorf("published %d events on rejected writes, want 0", n)
	}
}

func TestTableRejectsValuesOfTheWrongType(t *testing.T) {
	f := setupTableTestDB(t)

	tests := []struct {
		name  string
		table string
		row   model.Row
	}{
		{"string in integer column", model.TableFilters, model.Row{"replacement_frequency": "monthly"}},
		{"fraction in integer column", model.TableFilters, model.Row{"replacement_frequency": 2.5}},
		{"bool in integer column", model.TableFilters, model.Row{"replacement_frequency": true}},
		{"number in text column", model.TableFilters, model.Row{"room": float64(3)}},
		{"bool in text column", model.TableAppliances, model.Row{"name": false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := tt.row.Clone()
			row["home_id"] = f.home.ID
			if _, err := f.tables.Insert(tt.table, row); !errors.Is(err, ErrInvalidValue) {
				t.Errorf("insert err = %v, want ErrInvalidValue", err)
			}
		})
	}

	existing, err := f.tables.Insert(model.TableFilters, model.Row{"home_id": f.home.ID, "replacement_frequency": float64(3), "room": nil})
	if err != nil {
		t.Fatalf("insert valid row: %v", err)
	}
	if existing["replacement_frequency"] != int64(3) {
		t.Errorf("replacement_frequency = %#v, want int64(3)", existing["replacement_frequency"])
	}
	if _, err := f.tables.Update(model.TableFilters, existing.String("id"), model.Row{"replacement_frequency": "quarterly"}); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("update err = %v, want ErrInvalidValue", err)
	}

	rows, err := f.tables.Select(model.TableFilters, f.home.ID)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("got %d rows, want only the valid one", len(rows))
	}
	for _, r := range rows {
		if _, err := model.DecodeRow[model.Filter](r); err != nil {
			t.Errorf("stored row does not decode: %v", err)
		}
	}
}

func TestTableSelectNewestFirstAndScopedToHome(t *testing.T) {
	f := setupTableTestDB(t)

	for _, name := range []string{"first", "second", "third"} {
		if _, err := f.tables.Insert(model.TableMaterials, model.Row{"home_id": f.home.ID, "name": name}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if _, err := f.tables.Insert(model.TableMaterials, model.Row{"home_id": f.other.ID, "name": "elsewhere"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	rows, err := f.tables.Select(model.TableMaterials, f.home.ID)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("len = %d, want 3", len(rows))
	}
	want := []string{"third", "second", "first"}
	for i, r := range rows {
		if r.String("name") != want[i] {
			t.Errorf("rows[%d].name = %q, want %q", i, r.String("name"), want[i])
		}
	}

	empty, err := f.tables.Select(model.TableMaterials, "no-such-home")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("select for unknown home = %v, want empty non-nil", empty)
	}
}

func TestTableUpdateKeepsHomeAndPublishesOld(t *testing.T) {
	f := setupTableTestDB(t)

	row, err := f.tables.Insert(model.TableFilters, model.Row{"home_id": f.home.ID, "name": "HVAC", "replacement_frequency": float64(3)})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	id := row.String("id")

	updated, err := f.tables.Update(model.TableFilters, id, model.Row{
		"home_id":               f.other.ID,
		"room":                  "Hallway",
		"replacement_frequency": float64(6),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.String("home_id") != f.home.ID {
		t.Errorf("home_id = %q, want unchanged %q", updated.String("home_id"), f.home.ID)
	}
	if updated.String("room") != "Hallway" || updated.String("name") != "HVAC" {
		t.Errorf("updated = %v", updated)
	}
	if updated["replacement_frequency"] != int64(6) {
		t.Errorf("replacement_frequency = %#v, want int64(6)", updated["replacement_frequency"])
	}
	if updated.String("updated_at") <= row.String("updated_at") {
		t.Errorf("updated_at %q not after %q", updated.String("updated_at"), row.String("updated_at"))
	}

	events := f.pub.Events()
	if len(events) != 2 {
		t.Fatalf("published %d events, want 2", len(events))
	}
	ev := events[1]
	if ev.EventType != model.EventUpdate {
		t.Fatalf("event = %s, want UPDATE", ev.EventType)
	}
	if ev.Old.String("room") != "" || ev.New.String("room") != "Hallway" {
		t.Errorf("old room %q new room %q", ev.Old.String("room"), ev.New.String("room"))
	}
}

func TestTableUpdateDeleteNotFound(t *testing.T) {
	f := setupTableTestDB(t)

	if _, err := f.tables.Update(model.TableWarranties, "missing", model.Row{"provider": "Acme"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("update err = %v, want ErrNotFound", err)
	}
	if err := f.tables.Delete(model.TableWarranties, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("delete err = %v, want ErrNotFound", err)
	}
}

func TestTableDeletePublishesOldRow(t *testing.T) {
	f := setupTableTestDB(t)

	row, err := f.tables.Insert(model.TableWarranties, model.Row{"home_id": f.home.ID, "item_name": "Roof"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := f.tables.Delete(model.TableWarranties, row.String("id")); err != nil {
		t.Fatalf("delete: %v", err)
	}

	got, err := f.tables.Get(model.TableWarranties, row.String("id"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Errorf("expected row to be gone, got %v", got)
	}

	events := f.pub.Events()
	ev := events[len(events)-1]
	if ev.EventType != model.EventDelete || ev.New != nil {
		t.Fatalf("event = %s new=%v", ev.EventType, ev.New)
	}
	if ev.HomeID() != f.home.ID || ev.RowID() != row.String("id") {
		t.Errorf("old row = %v", ev.Old)
	}
}

func TestTablesSorted(t *testing.T) {
	got := Tables()
	want := []string{"appliances", "filters", "materials", "paints", "warranties"}
	if len(got) != len(want) {
		t.Fatalf("Tables() = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Tables()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
