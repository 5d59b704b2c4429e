// Package catalog holds the product price catalogue: the static mapping
// from product id to credits-per-unit that defines the billing contract
// (C1). Prices are fixed-point (numerator/denominator) so that sub-unit
// prices like ReliAPI's 0.1 credit/request are exact.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/kiku-jw/kikuai-gateway/internal/money"
)

// ErrProductNotFound is returned when a product id is unknown.
var ErrProductNotFound = errors.New("catalog: product not found")

// Product is a static catalogue entry. Its id is immutable once referenced
// by any Transaction or UsageLog.
type Product struct {
	ID                 string `yaml:"id"`
	Name               string `yaml:"name"`
	UnitLabel          string `yaml:"unit_label"`
	CreditsNumerator   int64  `yaml:"credits_numerator"`
	CreditsDenominator int64  `yaml:"credits_denominator"`
	Active             bool   `yaml:"active"`
}

// PriceForUnits returns the currency cost of consuming the given number of
// units of this product, quantized with banker's rounding at the boundary.
func (p Product) PriceForUnits(units int64) (money.Currency, error) {
	den := p.CreditsDenominator
	if den == 0 {
		den = 1
	}
	return money.FractionalCreditsToCurrency(p.CreditsNumerator, den, units)
}

// CreditsPerUnitDisplay renders the per-unit price for API responses, e.g.
// "50 credits" or "0.1 credits".
func (p Product) CreditsPerUnitDisplay() string {
	den := p.CreditsDenominator
	if den == 0 {
		den = 1
	}
	return money.FormatFractionalCredits(p.CreditsNumerator, den)
}

// Catalogue is the read side of the product repository: most deployments
// only need lookups, so the gateway pipeline and payment engine depend on
// this narrow interface rather than the full CRUD Repository.
type Catalogue interface {
	Get(ctx context.Context, id string) (Product, error)
	List(ctx context.Context) ([]Product, error)
}

// Repository is the full read/write product catalogue, used by
// administrative tooling to seed or re-price products.
type Repository interface {
	Catalogue
	Upsert(ctx context.Context, p Product) error
	Deactivate(ctx context.Context, id string) error
}

// StaticRepository is an in-memory catalogue loaded once at startup from a
// YAML file, mirroring the teacher's YAML-backed product repository.
// Re-pricing a product does not retroactively affect past transactions,
// since Transaction rows store their own amount, not a reference to the
// live catalogue entry.
type StaticRepository struct {
	mu       sync.RWMutex
	products map[string]Product
}

// NewStaticRepository builds a catalogue from an in-memory product list,
// typically the Default() baseline or a config-loaded override.
func NewStaticRepository(products []Product) *StaticRepository {
	m := make(map[string]Product, len(products))
	for _, p := range products {
		m[p.ID] = p
	}
	return &StaticRepository{products: m}
}

// LoadYAML reads a product list from a YAML file of the form:
//
//	products:
//	  - id: chart2csv
//	    name: Chart2CSV extraction
//	    credits_numerator: 50
//	    credits_denominator: 1
//	    active: true
func LoadYAML(path string) (*StaticRepository, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	var doc struct {
		Products []Product `yaml:"products"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}
	return NewStaticRepository(doc.Products), nil
}

func (r *StaticRepository) Get(_ context.Context, id string) (Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.products[id]
	if !ok || !p.Active {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (r *StaticRepository) List(_ context.Context) ([]Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Product, 0, len(r.products))
	for _, p := range r.products {
		if p.Active {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *StaticRepository) Upsert(_ context.Context, p Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[p.ID] = p
	return nil
}

func (r *StaticRepository) Deactivate(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return ErrProductNotFound
	}
	p.Active = false
	r.products[id] = p
	return nil
}

// Default returns the baseline catalogue from the spec's pricing table:
// chart2csv $0.05/extraction, masker $0.001/request, patas $0.005/100
// messages, reliapi $0.0001/request (0.1 credit, the one fractional price).
func Default() []Product {
	return []Product{
		{ID: "chart2csv", Name: "Chart2CSV extraction", UnitLabel: "extraction", CreditsNumerator: 50, CreditsDenominator: 1, Active: true},
		{ID: "masker", Name: "PII redaction", UnitLabel: "request", CreditsNumerator: 1, CreditsDenominator: 1, Active: true},
		{ID: "patas", Name: "Spam analysis", UnitLabel: "message", CreditsNumerator: 5, CreditsDenominator: 100, Active: true},
		{ID: "reliapi", Name: "LLM proxy", UnitLabel: "request", CreditsNumerator: 1, CreditsDenominator: 10, Active: true},
	}
}
