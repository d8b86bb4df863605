package closing

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// EntranceType is a billable service with a fixed unit price.
type EntranceType struct {
	Key       string          `yaml:"key"`
	Label     string          `yaml:"label"`
	UnitPrice decimal.Decimal `yaml:"-"`
	RawPrice  string          `yaml:"unit_price"`
}

// FixedExitType is a known expense category. CashReducing exits take money
// out of the drawer; the others are revenue collected electronically.
type FixedExitType struct {
	Key          string `yaml:"key"`
	Label        string `yaml:"label"`
	CashReducing bool   `yaml:"cash_reducing"`
}

// Catalog is the price table and fixed-exit classification used by the calculator.
type Catalog struct {
	entrances          map[string]EntranceType
	fixedExits         map[string]FixedExitType
	operatorNameStores map[string]struct{}
}

type catalogFile struct {
	Entrances            []EntranceType  `yaml:"entrances"`
	FixedExits           []FixedExitType `yaml:"fixed_exits"`
	OperatorNameRequired []string        `yaml:"operator_name_required"`
}

// NewCatalog builds a catalog from its parts.
func NewCatalog(entrances []EntranceType, fixedExits []FixedExitType, operatorNameStores []string) (Catalog, error) {
	c := Catalog{
		entrances:          make(map[string]EntranceType, len(entrances)),
		fixedExits:         make(map[string]FixedExitType, len(fixedExits)),
		operatorNameStores: make(map[string]struct{}, len(operatorNameStores)),
	}
	for _, e := range entrances {
		e.Key = strings.TrimSpace(e.Key)
		if e.Key == "" {
			return Catalog{}, fmt.Errorf("closing: catalog entrance without key")
		}
		if e.RawPrice != "" {
			price, err := decimal.NewFromString(e.RawPrice)
			if err != nil {
				return Catalog{}, fmt.Errorf("closing: catalog entrance %s: invalid unit price %q", e.Key, e.RawPrice)
			}
			e.UnitPrice = price
		}
		if e.UnitPrice.IsNegative() {
			return Catalog{}, fmt.Errorf("closing: catalog entrance %s: negative unit price", e.Key)
		}
		if _, dup := c.entrances[e.Key]; dup {
			return Catalog{}, fmt.Errorf("closing: catalog entrance %s declared twice", e.Key)
		}
		c.entrances[e.Key] = e
	}
	for _, f := range fixedExits {
		f.Key = strings.TrimSpace(f.Key)
		if f.Key == "" {
			return Catalog{}, fmt.Errorf("closing: catalog fixed exit without key")
		}
		if _, dup := c.fixedExits[f.Key]; dup {
			return Catalog{}, fmt.Errorf("closing: catalog fixed exit %s declared twice", f.Key)
		}
		c.fixedExits[f.Key] = f
	}
	for _, s := range operatorNameStores {
		c.operatorNameStores[strings.TrimSpace(s)] = struct{}{}
	}
	return c, nil
}

// LoadCatalog reads a catalog from YAML.
func LoadCatalog(path string) (Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("closing: read catalog %s: %w", path, err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return Catalog{}, fmt.Errorf("closing: parse catalog %s: %w", path, err)
	}
	return NewCatalog(file.Entrances, file.FixedExits, file.OperatorNameRequired)
}

// DefaultCatalog is the inspection price table used when no file is configured.
// Closings of the centro store must name the operator.
func DefaultCatalog() Catalog {
	price := decimal.RequireFromString
	c, err := NewCatalog(
		[]EntranceType{
			{Key: "carro", Label: "Carro", UnitPrice: price("120.00")},
			{Key: "moto", Label: "Moto", UnitPrice: price("100.00")},
			{Key: "caminhonete", Label: "Caminhonete", UnitPrice: price("150.00")},
			{Key: "caminhao", Label: "Caminhão", UnitPrice: price("180.00")},
			{Key: "cautelar", Label: "Vistoria cautelar", UnitPrice: price("250.00")},
			{Key: "revistoria", Label: "Revistoria", UnitPrice: price("60.00")},
		},
		[]FixedExitType{
			{Key: "cartao", Label: "Cartão"},
			{Key: "pix", Label: "Pix"},
			{Key: "deposito", Label: "Depósito"},
			{Key: "almoco", Label: "Almoço", CashReducing: true},
			{Key: "retirada", Label: "Retirada", CashReducing: true},
			{Key: "vale", Label: "Vale", CashReducing: true},
		},
		[]string{"centro"},
	)
	if err != nil {
		panic(err)
	}
	return c
}

// Entrance returns the entrance type for key.
func (c Catalog) Entrance(key string) (EntranceType, bool) {
	e, ok := c.entrances[key]
	return e, ok
}

// FixedExit returns the fixed exit type for key.
func (c Catalog) FixedExit(key string) (FixedExitType, bool) {
	f, ok := c.fixedExits[key]
	return f, ok
}

// UnitPrice returns the price for an entrance key, zero when unknown.
func (c Catalog) UnitPrice(key string) decimal.Decimal {
	return c.entrances[key].UnitPrice
}

// IsCashReducing reports whether a fixed exit takes cash out of the drawer.
func (c Catalog) IsCashReducing(key string) bool {
	return c.fixedExits[key].CashReducing
}

// RequiresOperatorName reports whether closings of storeID must name the operator.
func (c Catalog) RequiresOperatorName(storeID string) bool {
	_, ok := c.operatorNameStores[storeID]
	return ok
}

// EntranceKeys lists entrance keys, sorted.
func (c Catalog) EntranceKeys() []string {
	return sortedKeys(c.entrances)
}

// FixedExitKeys lists fixed exit keys, sorted.
func (c Catalog) FixedExitKeys() []string {
	return sortedKeys(c.fixedExits)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
