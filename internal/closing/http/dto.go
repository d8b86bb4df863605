package closinghttp

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fechamento/internal/closing"
	"github.com/odyssey-erp/fechamento/internal/money"
	"github.com/odyssey-erp/fechamento/internal/shared"
)

type variableExitRequest struct {
	Name   string        `json:"name" validate:"required,max=120"`
	Amount money.Lenient `json:"amount"`
}

type newReceivableRequest struct {
	ClientName string        `json:"client_name" validate:"required,max=120"`
	Plate      string        `json:"plate" validate:"required,max=16"`
	Amount     money.Lenient `json:"amount"`
}

type receivedPaymentRequest struct {
	ReceivableID string        `json:"receivable_id" validate:"required,max=64"`
	ClientName   string        `json:"client_name" validate:"max=120"`
	Amount       money.Lenient `json:"amount"`
}

type createRequest struct {
	Date             string                   `json:"date" validate:"required"`
	OperatorName     string                   `json:"operator_name" validate:"max=120"`
	Entrances        map[string]money.Lenient `json:"entrances"`
	FixedExits       map[string]money.Lenient `json:"fixed_exits"`
	VariableExits    []variableExitRequest    `json:"variable_exits" validate:"dive"`
	NewReceivables   []newReceivableRequest   `json:"new_receivables" validate:"dive"`
	ReceivedPayments []receivedPaymentRequest `json:"received_payments" validate:"dive"`
}

type updateRequest struct {
	OperatorName  string                   `json:"operator_name" validate:"max=120"`
	Entrances     map[string]money.Lenient `json:"entrances"`
	FixedExits    map[string]money.Lenient `json:"fixed_exits"`
	VariableExits []variableExitRequest    `json:"variable_exits" validate:"dive"`
}

func (req createRequest) input() closing.CreateInput {
	in := closing.CreateInput{
		Date:          req.Date,
		OperatorName:  req.OperatorName,
		Entrances:     quantities(req.Entrances),
		FixedExits:    amounts(req.FixedExits),
		VariableExits: variableExits(req.VariableExits),
	}
	for _, nr := range req.NewReceivables {
		in.NewReceivables = append(in.NewReceivables, closing.NewReceivable{
			ClientName: nr.ClientName,
			Plate:      nr.Plate,
			Amount:     nr.Amount.Decimal(),
		})
	}
	for _, p := range req.ReceivedPayments {
		in.ReceivedPayments = append(in.ReceivedPayments, closing.ReceivedPayment{
			ReceivableID: p.ReceivableID,
			ClientName:   p.ClientName,
			Amount:       p.Amount.Decimal(),
		})
	}
	return in
}

func (req updateRequest) input() closing.UpdateInput {
	return closing.UpdateInput{
		OperatorName:  req.OperatorName,
		Entrances:     quantities(req.Entrances),
		FixedExits:    amounts(req.FixedExits),
		VariableExits: variableExits(req.VariableExits),
	}
}

func quantities(in map[string]money.Lenient) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v.Quantity()
	}
	return out
}

func amounts(in map[string]money.Lenient) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(in))
	for k, v := range in {
		out[k] = v.Decimal()
	}
	return out
}

func variableExits(in []variableExitRequest) []closing.VariableExit {
	out := make([]closing.VariableExit, 0, len(in))
	for _, v := range in {
		out = append(out, closing.VariableExit{Name: v.Name, Amount: v.Amount.Decimal()})
	}
	return out
}

// amountView renders a decimal both machine readable and as shown to operators.
type amountView struct {
	Value     string `json:"value"`
	Formatted string `json:"formatted"`
}

func amountOf(d decimal.Decimal) amountView {
	return amountView{Value: money.Round(d).StringFixed(money.Scale), Formatted: money.Format(d)}
}

type totalsView struct {
	EntranceRevenue         amountView `json:"entrance_revenue"`
	ReceivedPaymentsTotal   amountView `json:"received_payments_total"`
	GrossEntrances          amountView `json:"gross_entrances"`
	NonCashElectronicInflow amountView `json:"non_cash_electronic_inflow"`
	CashReducingFixedExits  amountView `json:"cash_reducing_fixed_exits"`
	VariableExitsTotal      amountView `json:"variable_exits_total"`
	NewReceivablesTotal     amountView `json:"new_receivables_total"`
	TotalExits              amountView `json:"total_exits"`
	FinalCashBalance        amountView `json:"final_cash_balance"`
}

func totalsOf(t closing.Totals) totalsView {
	return totalsView{
		EntranceRevenue:         amountOf(t.EntranceRevenue),
		ReceivedPaymentsTotal:   amountOf(t.ReceivedPaymentsTotal),
		GrossEntrances:          amountOf(t.GrossEntrances),
		NonCashElectronicInflow: amountOf(t.NonCashElectronicInflow),
		CashReducingFixedExits:  amountOf(t.CashReducingFixedExits),
		VariableExitsTotal:      amountOf(t.VariableExitsTotal),
		NewReceivablesTotal:     amountOf(t.NewReceivablesTotal),
		TotalExits:              amountOf(t.TotalExits),
		FinalCashBalance:        amountOf(t.FinalCashBalance),
	}
}

type entranceView struct {
	Type     string `json:"type"`
	Quantity int    `json:"quantity"`
}

type fixedExitView struct {
	Type   string     `json:"type"`
	Amount amountView `json:"amount"`
}

type variableExitView struct {
	Name   string     `json:"name"`
	Amount amountView `json:"amount"`
}

type newReceivableView struct {
	ReceivableID string     `json:"receivable_id,omitempty"`
	ClientName   string     `json:"client_name"`
	Plate        string     `json:"plate"`
	Amount       amountView `json:"amount"`
}

type receivedPaymentView struct {
	ReceivableID string     `json:"receivable_id"`
	ClientName   string     `json:"client_name"`
	Amount       amountView `json:"amount"`
}

type closingView struct {
	ID               string                `json:"id"`
	Date             string                `json:"date"`
	StoreID          string                `json:"store_id"`
	OwnerID          string                `json:"owner_id"`
	OperatorName     string                `json:"operator_name,omitempty"`
	Entrances        []entranceView        `json:"entrances"`
	FixedExits       []fixedExitView       `json:"fixed_exits"`
	VariableExits    []variableExitView    `json:"variable_exits"`
	NewReceivables   []newReceivableView   `json:"new_receivables"`
	ReceivedPayments []receivedPaymentView `json:"received_payments"`
	Totals           totalsView            `json:"totals"`
	Editable         bool                  `json:"editable"`
	CreatedAt        time.Time             `json:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

func closingOf(c closing.Closing, totals closing.Totals, editable bool) closingView {
	out := closingView{
		ID:               c.ID,
		Date:             closing.FormatDate(c.Date),
		StoreID:          c.StoreID,
		OwnerID:          c.OwnerID,
		OperatorName:     c.OperatorName,
		Entrances:        make([]entranceView, 0, len(c.Items.Entrances)),
		FixedExits:       make([]fixedExitView, 0, len(c.Items.FixedExits)),
		VariableExits:    make([]variableExitView, 0, len(c.Items.VariableExits)),
		NewReceivables:   make([]newReceivableView, 0, len(c.Items.NewReceivables)),
		ReceivedPayments: make([]receivedPaymentView, 0, len(c.Items.ReceivedPayments)),
		Totals:           totalsOf(totals),
		Editable:         editable,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
	for _, k := range sortedKeys(c.Items.Entrances) {
		out.Entrances = append(out.Entrances, entranceView{Type: k, Quantity: c.Items.Entrances[k]})
	}
	for _, k := range sortedKeys(c.Items.FixedExits) {
		out.FixedExits = append(out.FixedExits, fixedExitView{Type: k, Amount: amountOf(c.Items.FixedExits[k])})
	}
	for _, v := range c.Items.VariableExits {
		out.VariableExits = append(out.VariableExits, variableExitView{Name: v.Name, Amount: amountOf(v.Amount)})
	}
	for _, nr := range c.Items.NewReceivables {
		out.NewReceivables = append(out.NewReceivables, newReceivableView{
			ReceivableID: nr.ReceivableID,
			ClientName:   nr.ClientName,
			Plate:        nr.Plate,
			Amount:       amountOf(nr.Amount),
		})
	}
	for _, p := range c.Items.ReceivedPayments {
		out.ReceivedPayments = append(out.ReceivedPayments, receivedPaymentView{
			ReceivableID: p.ReceivableID,
			ClientName:   p.ClientName,
			Amount:       amountOf(p.Amount),
		})
	}
	return out
}

func viewOf(v closing.View) closingView {
	return closingOf(v.Closing, v.Totals, v.Editable)
}

type historyView struct {
	Items      []closingView     `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

type storeOverviewView struct {
	StoreID  string        `json:"store_id"`
	Closings []closingView `json:"closings"`
	Totals   totalsView    `json:"totals"`
}

type overviewView struct {
	Date       string              `json:"date"`
	Stores     []storeOverviewView `json:"stores"`
	GrandTotal totalsView          `json:"grand_total"`
}

func overviewOf(ov closing.Overview, calc closing.Calculator) overviewView {
	out := overviewView{
		Date:       closing.FormatDate(ov.Date),
		Stores:     make([]storeOverviewView, 0, len(ov.Stores)),
		GrandTotal: totalsOf(ov.GrandTotal),
	}
	for _, so := range ov.Stores {
		sv := storeOverviewView{StoreID: so.StoreID, Closings: make([]closingView, 0, len(so.Closings)), Totals: totalsOf(so.Totals)}
		for _, c := range so.Closings {
			sv.Closings = append(sv.Closings, closingOf(c, calc.Calculate(c.Items), false))
		}
		out.Stores = append(out.Stores, sv)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
