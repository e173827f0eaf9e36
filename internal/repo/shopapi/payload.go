package shopapi

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/nguyentranbao-ct/storefront-cart/internal/models"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// parseLines normalizes the backend's cart line payload. Field names differ
// between backend versions (cantidad/quantity, precio_unitario/price,
// id_producto/product_id), so each field is read from the first name present.
func parseLines(body []byte) ([]models.CartLine, error) {
	root := gjson.ParseBytes(body)
	items := root
	if !root.IsArray() {
		items = root.Get("items")
	}
	if !items.IsArray() {
		return nil, fmt.Errorf("cart_lines: %w: unexpected payload", models.ErrTransient)
	}

	lines := make([]models.CartLine, 0, len(items.Array()))
	for _, item := range items.Array() {
		line, ok := parseLine(item)
		if !ok {
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func parseLine(item gjson.Result) (models.CartLine, bool) {
	line := models.CartLine{
		LineID:    models.LineID(firstOf(item, "id", "_id").String()),
		ProductID: models.ProductID(firstOf(item, "id_producto", "product_id").String()),
		Quantity:  int(firstOf(item, "cantidad", "quantity").Int()),
		UnitPrice: parseDecimal(firstOf(item, "precio_unitario", "price")),
		Variant:   parseVariant(item.Get("variant_data")),
	}
	if line.LineID == "" || line.ProductID == "" || line.Quantity <= 0 {
		return models.CartLine{}, false
	}
	if name := item.Get("product_name").String(); name != "" {
		line.Display = &models.ProductDisplay{
			Name:     name,
			ImageURL: item.Get("product_image").String(),
			Code:     item.Get("product_codigo").String(),
		}
	}
	return line, true
}

func parseProduct(productID models.ProductID, body []byte) *models.Product {
	root := gjson.ParseBytes(body)
	product := &models.Product{
		ID:       productID,
		Name:     root.Get("nombre").String(),
		ImageURL: root.Get("imagen_url").String(),
		Code:     root.Get("codigo").String(),
	}
	for _, v := range root.Get("variants").Array() {
		attrs := models.VariantSelection{}
		for _, dim := range []string{"color", "tipo"} {
			if val := v.Get(dim); val.Exists() && val.Type != gjson.Null {
				attrs[dim] = val.Value()
			}
		}
		product.Variants = append(product.Variants, models.ProductVariant{
			Attributes: attrs,
			Stock:      int(v.Get("stock").Int()),
		})
	}
	return product
}

func parseVariant(v gjson.Result) models.VariantSelection {
	if !v.IsObject() {
		// some backends persist variant_data as a JSON encoded string
		if v.Type == gjson.String && gjson.Valid(v.String()) {
			v = gjson.Parse(v.String())
		}
		if !v.IsObject() {
			return nil
		}
	}
	var out models.VariantSelection
	if err := json.Unmarshal([]byte(v.Raw), &out); err != nil || len(out) == 0 {
		return nil
	}
	return out
}

func parseDecimal(v gjson.Result) decimal.Decimal {
	if !v.Exists() {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}

func firstOf(v gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if r := v.Get(p); r.Exists() && r.Type != gjson.Null {
			return r
		}
	}
	return gjson.Result{}
}
