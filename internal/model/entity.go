package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Table names of the home-scoped entity tables.
const (
	TableAppliances = "appliances"
	TableFilters    = "filters"
	TableMaterials  = "materials"
	TablePaints     = "paints"
	TableWarranties = "warranties"
)

// Row is a raw table row as the backend returns it, keyed by column name.
type Row map[string]any

// String returns the column value as a string, or "" when absent or not a string.
func (r Row) String(col string) string {
	if r == nil {
		return ""
	}
	s, _ := r[col].(string)
	return s
}

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// RowOf converts a struct with json tags into a Row.
func RowOf(v any) (Row, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal row: %w", err)
	}
	var row Row
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("unmarshal row: %w", err)
	}
	return row, nil
}

// DecodeRow converts a raw Row into a typed value through its json tags.
func DecodeRow[T any](row Row) (T, error) {
	var v T
	data, err := json.Marshal(row)
	if err != nil {
		return v, fmt.Errorf("marshal row: %w", err)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode row: %w", err)
	}
	return v, nil
}

// Entity is implemented by every home-scoped record.
type Entity interface {
	EntityID() string
	OwnerHomeID() string
}

type Appliance struct {
	ID                 string    `json:"id"`
	HomeID             string    `json:"home_id"`
	Name               *string   `json:"name"`
	Brand              *string   `json:"brand"`
	Model              *string   `json:"model"`
	PurchaseDate       *string   `json:"purchase_date"`
	WarrantyExpiration *string   `json:"warranty_expiration"`
	ManualURL          *string   `json:"manual_url"`
	Room               *string   `json:"room"`
	PurchasedStore     *string   `json:"purchased_store"`
	Notes              *string   `json:"notes"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (a Appliance) EntityID() string    { return a.ID }
func (a Appliance) OwnerHomeID() string { return a.HomeID }

// Filter is an air/water filter. Rows written before the room rename carry
// the value in a legacy "location" column instead.
type Filter struct {
	ID                   string    `json:"id"`
	HomeID               string    `json:"home_id"`
	Name                 *string   `json:"name"`
	Room                 *string   `json:"room"`
	Type                 *string   `json:"type"`
	Brand                *string   `json:"brand"`
	Model                *string   `json:"model"`
	Size                 *string   `json:"size"`
	LastReplaced         *string   `json:"last_replaced"`
	ReplacementFrequency *int      `json:"replacement_frequency"`
	Notes                *string   `json:"notes"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

func (f Filter) EntityID() string    { return f.ID }
func (f Filter) OwnerHomeID() string { return f.HomeID }

type Material struct {
	ID           string    `json:"id"`
	HomeID       string    `json:"home_id"`
	Name         *string   `json:"name"`
	Room         *string   `json:"room"`
	Type         *string   `json:"type"`
	Brand        *string   `json:"brand"`
	Source       *string   `json:"source"`
	PurchaseDate *string   `json:"purchase_date"`
	Notes        *string   `json:"notes"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (m Material) EntityID() string    { return m.ID }
func (m Material) OwnerHomeID() string { return m.HomeID }

type PaintColor struct {
	ID        string    `json:"id"`
	HomeID    string    `json:"home_id"`
	Name      *string   `json:"name"`
	Room      *string   `json:"room"`
	Brand     *string   `json:"brand"`
	ColorCode *string   `json:"color_code"`
	ColorHex  *string   `json:"color_hex"`
	Notes     *string   `json:"notes"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p PaintColor) EntityID() string    { return p.ID }
func (p PaintColor) OwnerHomeID() string { return p.HomeID }

type Warranty struct {
	ID                string    `json:"id"`
	HomeID            string    `json:"home_id"`
	ItemName          *string   `json:"item_name"`
	Room              *string   `json:"room"`
	WarrantyStartDate *string   `json:"warranty_start_date"`
	WarrantyEndDate   *string   `json:"warranty_end_date"`
	Provider          *string   `json:"provider"`
	Notes             *string   `json:"notes"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (w Warranty) EntityID() string    { return w.ID }
func (w Warranty) OwnerHomeID() string { return w.HomeID }
