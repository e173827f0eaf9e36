package render

import (
	"bytes"
	_ "embed"
	"errors"
	"strings"

	"github.com/nguyentranbao-ct/storefront-cart/internal/cart"
	"github.com/nguyentranbao-ct/storefront-cart/internal/config"
	"github.com/nguyentranbao-ct/storefront-cart/internal/models"
	"github.com/nguyentranbao-ct/storefront-cart/pkg/tmplx"
	"github.com/shopspring/decimal"
)

//go:embed cart_fragment.html
var cartFragmentText string

type fragmentData struct {
	cart.View
	Placeholder   string
	LoginRequired bool
}

// Fragment renders a cart View as the HTML block shown by the storefront.
type Fragment struct {
	tmpl        *tmplx.Template
	placeholder string
}

func NewFragment(conf *config.Config) (*Fragment, error) {
	return newFragment(conf.Cart.PlaceholderImage)
}

func newFragment(placeholder string) (*Fragment, error) {
	sample := fragmentData{
		View: cart.Render(models.ModeLocal, []models.CartLine{{
			LineID:    "local_sample",
			ProductID: "sample",
			Quantity:  1,
			UnitPrice: decimal.NewFromInt(1),
		}}, placeholder),
		Placeholder: placeholder,
	}
	tmpl, err := tmplx.Parse("cart_fragment", cartFragmentText,
		tmplx.WithValidate(sample, func(b *bytes.Buffer) error {
			if !strings.Contains(b.String(), `data-item-id="local_sample"`) {
				return errors.New("cart fragment does not render lines")
			}
			return nil
		}))
	if err != nil {
		return nil, err
	}
	return &Fragment{tmpl: tmpl, placeholder: placeholder}, nil
}

// Render writes view as HTML. loginRequired adds the notice shown after the
// backend rejected the visitor's credential.
func (f *Fragment) Render(view cart.View, loginRequired bool) ([]byte, error) {
	buf, err := f.tmpl.Render(fragmentData{
		View:          view,
		Placeholder:   f.placeholder,
		LoginRequired: loginRequired,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
