package models

import (
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// LocalLinePrefix marks line ids that only exist in local storage.
const LocalLinePrefix = "local_"

type CartMode string

const (
	ModeUninitialized CartMode = "uninitialized"
	ModeLocal         CartMode = "local"
	ModeRemote        CartMode = "remote"
)

type (
	LineID    string
	ProductID string
)

func (id LineID) IsLocal() bool {
	return strings.HasPrefix(string(id), LocalLinePrefix)
}

func (id LineID) String() string {
	return string(id)
}

func (id ProductID) String() string {
	return string(id)
}

// VariantSelection is an opaque set of dimension -> value pairs chosen for a product.
type VariantSelection map[string]any

// Key returns a canonical encoding; two selections with the same pairs share a key.
// encoding sorts map keys, so insertion order does not matter.
func (v VariantSelection) Key() string {
	if len(v) == 0 {
		return ""
	}
	data, err := json.Marshal(map[string]any(v))
	if err != nil {
		return ""
	}
	return string(data)
}

func (v VariantSelection) Equal(o VariantSelection) bool {
	return v.Key() == o.Key()
}

type ProductDisplay struct {
	Name     string `json:"name"`
	ImageURL string `json:"image_url"`
	Code     string `json:"code"`
	// DefaultVariant is shown when the line itself carries no selection.
	DefaultVariant VariantSelection `json:"default_variant,omitempty"`
}

type CartLine struct {
	LineID    LineID           `json:"line_id"`
	ProductID ProductID        `json:"product_id"`
	Quantity  int              `json:"quantity"`
	UnitPrice decimal.Decimal  `json:"unit_price"`
	Variant   VariantSelection `json:"variant_data,omitempty"`
	Display   *ProductDisplay  `json:"display,omitempty"`
}

func (l CartLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

func (l CartLine) SameItem(productID ProductID, variant VariantSelection) bool {
	return l.ProductID == productID && l.Variant.Equal(variant)
}

// LocalEntry is a line persisted for an anonymous (or demoted) session.
type LocalEntry struct {
	ProductID ProductID        `json:"product_id"`
	Quantity  int              `json:"quantity"`
	UnitPrice decimal.Decimal  `json:"price"`
	Variant   VariantSelection `json:"variant_data,omitempty"`
	AddedAt   time.Time        `json:"added_at"`
}

// MarshalJSON writes the price as a JSON number with two decimals.
func (e LocalEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ProductID ProductID        `json:"product_id"`
		Quantity  int              `json:"quantity"`
		UnitPrice json.Number      `json:"price"`
		Variant   VariantSelection `json:"variant_data,omitempty"`
		AddedAt   time.Time        `json:"added_at"`
	}{
		ProductID: e.ProductID,
		Quantity:  e.Quantity,
		UnitPrice: json.Number(e.UnitPrice.StringFixed(2)),
		Variant:   e.Variant,
		AddedAt:   e.AddedAt,
	})
}

// LineID is stable for a (product, variant) pair so clients can address local lines.
func (e LocalEntry) LineID() LineID {
	return LocalLineID(e.ProductID, e.Variant)
}

func (e LocalEntry) ToLine() CartLine {
	return CartLine{
		LineID:    e.LineID(),
		ProductID: e.ProductID,
		Quantity:  e.Quantity,
		UnitPrice: e.UnitPrice,
		Variant:   e.Variant,
	}
}

func LocalLineID(productID ProductID, variant VariantSelection) LineID {
	sum := xxhash.Sum64String(string(productID) + "|" + variant.Key())
	return LineID(LocalLinePrefix + strconv.FormatUint(sum, 36))
}

// AddLineInput is the payload accepted by the add endpoint of the shop backend.
type AddLineInput struct {
	ProductID ProductID        `json:"product_id"`
	Quantity  int              `json:"quantity"`
	UnitPrice decimal.Decimal  `json:"price"`
	Variant   VariantSelection `json:"variant_data"`
}

// MarshalJSON sends the price as a JSON number.
func (in AddLineInput) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ProductID ProductID        `json:"product_id"`
		Quantity  int              `json:"quantity"`
		UnitPrice json.Number      `json:"price"`
		Variant   VariantSelection `json:"variant_data"`
	}{
		ProductID: in.ProductID,
		Quantity:  in.Quantity,
		UnitPrice: json.Number(in.UnitPrice.String()),
		Variant:   in.Variant,
	})
}

type Identity struct {
	UserID string `json:"user_id"`
}

type ActiveCart struct {
	ID string `json:"id"`
}

type ProductVariant struct {
	Attributes VariantSelection `json:"attributes"`
	Stock      int              `json:"stock"`
}

type Product struct {
	ID       ProductID        `json:"id"`
	Name     string           `json:"nombre"`
	ImageURL string           `json:"imagen_url"`
	Code     string           `json:"codigo"`
	Variants []ProductVariant `json:"variants"`
}

// DefaultVariant picks the first variant with stock, falling back to the first one.
func (p *Product) DefaultVariant() *ProductVariant {
	if len(p.Variants) == 0 {
		return nil
	}
	for i := range p.Variants {
		if p.Variants[i].Stock > 0 {
			return &p.Variants[i]
		}
	}
	return &p.Variants[0]
}
