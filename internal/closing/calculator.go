package closing

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fechamento/internal/money"
)

// Calculator derives the balance of a closing. It is the only place the
// balance formula lives; creation, edit, reads and aggregation all use it.
type Calculator struct {
	catalog Catalog
}

// NewCalculator binds a calculator to a catalog.
func NewCalculator(catalog Catalog) Calculator {
	return Calculator{catalog: catalog}
}

// Catalog returns the catalog the calculator prices with.
func (c Calculator) Catalog() Catalog {
	return c.catalog
}

// Calculate is pure. Negative amounts count as zero and every amount is
// rounded to cents before summing, so the balance identity holds exactly.
func (c Calculator) Calculate(items LineItems) Totals {
	var t Totals
	for key, qty := range items.Entrances {
		if qty <= 0 {
			continue
		}
		t.EntranceRevenue = t.EntranceRevenue.Add(amount(c.catalog.UnitPrice(key)).Mul(decimal.NewFromInt(int64(qty))))
	}
	for _, p := range items.ReceivedPayments {
		t.ReceivedPaymentsTotal = t.ReceivedPaymentsTotal.Add(amount(p.Amount))
	}
	for key, value := range items.FixedExits {
		if c.catalog.IsCashReducing(key) {
			t.CashReducingFixedExits = t.CashReducingFixedExits.Add(amount(value))
		} else {
			t.NonCashElectronicInflow = t.NonCashElectronicInflow.Add(amount(value))
		}
	}
	for _, v := range items.VariableExits {
		t.VariableExitsTotal = t.VariableExitsTotal.Add(amount(v.Amount))
	}
	for _, r := range items.NewReceivables {
		t.NewReceivablesTotal = t.NewReceivablesTotal.Add(amount(r.Amount))
	}

	t.GrossEntrances = t.EntranceRevenue.Add(t.ReceivedPaymentsTotal)
	t.TotalExits = t.CashReducingFixedExits.Add(t.VariableExitsTotal).Add(t.NewReceivablesTotal)
	t.FinalCashBalance = t.GrossEntrances.
		Sub(t.NonCashElectronicInflow).
		Sub(t.CashReducingFixedExits).
		Sub(t.NewReceivablesTotal)
	return t
}

func amount(d decimal.Decimal) decimal.Decimal {
	return money.Round(money.Clamp(d))
}
