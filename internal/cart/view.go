package cart

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/nguyentranbao-ct/storefront-cart/internal/models"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

//go:embed variant_labels.yaml
var variantLabelsData []byte

type variantLabelTable struct {
	Labels map[string]string `yaml:"labels"`
	Hidden []string          `yaml:"hidden"`
}

var variantLabels = mustLoadVariantLabels()

func mustLoadVariantLabels() variantLabelTable {
	var table variantLabelTable
	if err := yaml.Unmarshal(variantLabelsData, &table); err != nil {
		panic(fmt.Errorf("unmarshal variant labels: %w", err))
	}
	return table
}

func (t variantLabelTable) isHidden(key string) bool {
	for _, h := range t.Hidden {
		if h == key {
			return true
		}
	}
	return false
}

func (t variantLabelTable) label(key string) string {
	if l, ok := t.Labels[key]; ok {
		return l
	}
	r, size := utf8.DecodeRuneInString(key)
	if r == utf8.RuneError {
		return key
	}
	return string(unicode.ToUpper(r)) + key[size:]
}

// View is the rendered state of a cart. It is a plain value: producing it has
// no side effects and the same lines always produce the same View.
type View struct {
	Mode      models.CartMode `json:"mode"`
	Lines     []LineView      `json:"lines"`
	Total     string          `json:"total"`
	ItemCount int             `json:"item_count"`
	Empty     bool            `json:"empty"`
}

type LineView struct {
	LineID    models.LineID    `json:"line_id"`
	ProductID models.ProductID `json:"product_id"`
	Name      string           `json:"name"`
	ImageURL  string           `json:"image_url"`
	Code      string           `json:"code,omitempty"`
	Quantity  int              `json:"quantity"`
	UnitPrice string           `json:"unit_price"`
	Subtotal  string           `json:"subtotal"`
	Variant   []VariantLabel   `json:"variant,omitempty"`
	Local     bool             `json:"local"`
}

type VariantLabel struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

func formatPrice(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// Render builds the View for lines. Lines with a non-positive quantity are never shown.
func Render(mode models.CartMode, lines []models.CartLine, placeholderImage string) View {
	view := View{
		Mode:  mode,
		Lines: make([]LineView, 0, len(lines)),
	}
	total := decimal.Zero
	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		view.Lines = append(view.Lines, renderLine(line, placeholderImage))
		view.ItemCount += line.Quantity
		total = total.Add(line.Subtotal())
	}
	view.Total = formatPrice(total)
	view.Empty = len(view.Lines) == 0
	return view
}

func renderLine(line models.CartLine, placeholderImage string) LineView {
	lv := LineView{
		LineID:    line.LineID,
		ProductID: line.ProductID,
		Name:      fmt.Sprintf("Producto %s", line.ProductID),
		ImageURL:  placeholderImage,
		Quantity:  line.Quantity,
		UnitPrice: formatPrice(line.UnitPrice),
		Subtotal:  formatPrice(line.Subtotal()),
		Local:     line.LineID.IsLocal(),
	}

	variant := line.Variant
	if d := line.Display; d != nil {
		if d.Name != "" {
			lv.Name = d.Name
		}
		if d.ImageURL != "" {
			lv.ImageURL = d.ImageURL
		}
		lv.Code = d.Code
		if len(variant) == 0 {
			variant = d.DefaultVariant
		}
	}
	lv.Variant = variantView(variant)
	return lv
}

func variantView(v models.VariantSelection) []VariantLabel {
	if len(v) == 0 {
		return nil
	}
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]VariantLabel, 0, len(keys))
	for _, k := range keys {
		if variantLabels.isHidden(strings.ToLower(k)) {
			continue
		}
		value := strings.TrimSpace(cast.ToString(v[k]))
		if value == "" {
			continue
		}
		out = append(out, VariantLabel{
			Label: variantLabels.label(strings.ToLower(k)),
			Value: value,
		})
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
