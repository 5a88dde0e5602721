package livestore

import (
	"context"
	"fmt"
	"sort"

	"github.com/dukerupert/orderlyflow/internal/backend"
	"github.com/dukerupert/orderlyflow/internal/model"
)

// NormalizeFilterRow fills room from the legacy location column when room
// is missing or null. The row passed in is not modified.
func NormalizeFilterRow(row model.Row) model.Row {
	out := row.Clone()
	if out == nil {
		return out
	}
	if room, ok := out["room"]; ok && room != nil {
		return out
	}
	if loc, ok := out["location"]; ok && loc != nil {
		out["room"] = loc
	} else {
		out["room"] = nil
	}
	return out
}

func NewAppliances(be Backend, opts ...Option) *Store[model.Appliance] {
	return New[model.Appliance](be, Config{Table: model.TableAppliances}, opts...)
}

func NewFilters(be Backend, opts ...Option) *Store[model.Filter] {
	return New[model.Filter](be, Config{Table: model.TableFilters, Normalize: NormalizeFilterRow}, opts...)
}

func NewMaterials(be Backend, opts ...Option) *Store[model.Material] {
	return New[model.Material](be, Config{Table: model.TableMaterials}, opts...)
}

func NewPaints(be Backend, opts ...Option) *Store[model.PaintColor] {
	return New[model.PaintColor](be, Config{Table: model.TablePaints}, opts...)
}

func NewWarranties(be Backend, opts ...Option) *Store[model.Warranty] {
	return New[model.Warranty](be, Config{Table: model.TableWarranties}, opts...)
}

// Live is the type-independent surface shared by every Store.
type Live interface {
	Table() string
	Fetch(ctx context.Context, homeID string) error
	Create(ctx context.Context, homeID string, data model.Row) error
	Update(ctx context.Context, homeID, id string, fields model.Row) error
	Delete(ctx context.Context, homeID, id string) error
	Watch(ctx context.Context, homeID string) (backend.Subscription, error)
	Count(homeID string) int
	Loading(homeID string) bool
	OnChange(fn func(homeID string)) func()
}

// Stores bundles one live store per entity table.
type Stores struct {
	Appliances *Store[model.Appliance]
	Filters    *Store[model.Filter]
	Materials  *Store[model.Material]
	Paints     *Store[model.PaintColor]
	Warranties *Store[model.Warranty]
}

func NewStores(be Backend, opts ...Option) *Stores {
	return &Stores{
		Appliances: NewAppliances(be, opts...),
		Filters:    NewFilters(be, opts...),
		Materials:  NewMaterials(be, opts...),
		Paints:     NewPaints(be, opts...),
		Warranties: NewWarranties(be, opts...),
	}
}

func (s *Stores) all() []Live {
	return []Live{s.Appliances, s.Filters, s.Materials, s.Paints, s.Warranties}
}

// ByTable returns the store mirroring table.
func (s *Stores) ByTable(table string) (Live, error) {
	for _, l := range s.all() {
		if l.Table() == table {
			return l, nil
		}
	}
	return nil, fmt.Errorf("livestore: unknown table %q", table)
}

// Tables lists the mirrored tables in sorted order.
func (s *Stores) Tables() []string {
	var names []string
	for _, l := range s.all() {
		names = append(names, l.Table())
	}
	sort.Strings(names)
	return names
}

// FetchAll fetches homeID into every store. Fetch never fails on backend
// errors, so the only error is an empty home id.
func (s *Stores) FetchAll(ctx context.Context, homeID string) error {
	for _, l := range s.all() {
		if err := l.Fetch(ctx, homeID); err != nil {
			return err
		}
	}
	return nil
}
