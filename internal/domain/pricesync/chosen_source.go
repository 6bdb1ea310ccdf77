package pricesync

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// SourceKind is the tag of a ChosenSource.
type SourceKind string

const (
	SourceLocal  SourceKind = "local"
	SourceERP    SourceKind = "erp"
	SourceMerged SourceKind = "merged"
	SourceCustom SourceKind = "custom"
)

// IsValid returns true if the kind is known
func (k SourceKind) IsValid() bool {
	switch k {
	case SourceLocal, SourceERP, SourceMerged, SourceCustom:
		return true
	}
	return false
}

// ResolvedValues holds the field values a resolution writes back to the
// local entity. Nil fields are left untouched.
type ResolvedValues struct {
	Price       *decimal.Decimal `json:"price,omitempty"`
	Stock       *int64           `json:"stock,omitempty"`
	Name        *string          `json:"name,omitempty"`
	Description *string          `json:"description,omitempty"`
	OrderStatus *string          `json:"order_status,omitempty"`
}

// IsEmpty reports whether no field is set
func (v ResolvedValues) IsEmpty() bool {
	return v.Price == nil && v.Stock == nil && v.Name == nil && v.Description == nil && v.OrderStatus == nil
}

// ChosenSource is the closed set of resolution outcomes. A custom choice
// always carries its payload; the other kinds carry none.
type ChosenSource struct {
	kind   SourceKind
	custom *ResolvedValues
}

// ChooseLocal keeps the local value
func ChooseLocal() ChosenSource { return ChosenSource{kind: SourceLocal} }

// ChooseERP takes the ERP value
func ChooseERP() ChosenSource { return ChosenSource{kind: SourceERP} }

// ChooseMerged marks a field-by-field merge of both sides
func ChooseMerged() ChosenSource { return ChosenSource{kind: SourceMerged} }

// ChooseCustom takes operator-supplied values
func ChooseCustom(values ResolvedValues) (ChosenSource, error) {
	if values.IsEmpty() {
		return ChosenSource{}, ErrCustomDataRequired
	}
	if values.Price != nil && !values.Price.IsPositive() {
		return ChosenSource{}, ErrInvalidChosenSource
	}
	if values.Stock != nil && *values.Stock < 0 {
		return ChosenSource{}, ErrInvalidChosenSource
	}
	v := values
	return ChosenSource{kind: SourceCustom, custom: &v}, nil
}

// ParseChosenSource builds a ChosenSource from its wire form
func ParseChosenSource(kind string, custom *ResolvedValues) (ChosenSource, error) {
	switch SourceKind(kind) {
	case SourceLocal:
		return ChooseLocal(), nil
	case SourceERP:
		return ChooseERP(), nil
	case SourceMerged:
		return ChooseMerged(), nil
	case SourceCustom:
		if custom == nil {
			return ChosenSource{}, ErrCustomDataRequired
		}
		return ChooseCustom(*custom)
	}
	return ChosenSource{}, ErrInvalidChosenSource
}

// Kind returns the tag
func (c ChosenSource) Kind() SourceKind { return c.kind }

// IsZero reports whether no source was chosen
func (c ChosenSource) IsZero() bool { return c.kind == "" }

// Custom returns the operator payload for custom choices
func (c ChosenSource) Custom() (ResolvedValues, bool) {
	if c.kind != SourceCustom || c.custom == nil {
		return ResolvedValues{}, false
	}
	return *c.custom, true
}

func (c ChosenSource) String() string { return string(c.kind) }

type chosenSourceJSON struct {
	Kind   SourceKind      `json:"kind"`
	Custom *ResolvedValues `json:"custom,omitempty"`
}

// MarshalJSON implements json.Marshaler
func (c ChosenSource) MarshalJSON() ([]byte, error) {
	return json.Marshal(chosenSourceJSON{Kind: c.kind, Custom: c.custom})
}

// UnmarshalJSON implements json.Unmarshaler
func (c *ChosenSource) UnmarshalJSON(data []byte) error {
	var raw chosenSourceJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Kind == "" {
		*c = ChosenSource{}
		return nil
	}
	parsed, err := ParseChosenSource(string(raw.Kind), raw.Custom)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
