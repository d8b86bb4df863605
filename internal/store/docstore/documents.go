package docstore

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fechamento/internal/closing"
	"github.com/odyssey-erp/fechamento/internal/receivable"
)

type closingDoc struct {
	ID               string                     `json:"id"`
	Date             string                     `json:"date"`
	StoreID          string                     `json:"store_id"`
	OwnerID          string                     `json:"owner_id"`
	OperatorName     string                     `json:"operator_name,omitempty"`
	Entrances        map[string]int             `json:"entrances"`
	FixedExits       map[string]decimal.Decimal `json:"fixed_exits"`
	VariableExits    []variableExitDoc          `json:"variable_exits"`
	NewReceivables   []newReceivableDoc         `json:"new_receivables"`
	ReceivedPayments []receivedPaymentDoc       `json:"received_payments"`
	Totals           totalsDoc                  `json:"totals"`
	CreatedAt        time.Time                  `json:"created_at"`
	UpdatedAt        time.Time                  `json:"updated_at"`
}

type variableExitDoc struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

type newReceivableDoc struct {
	ReceivableID string          `json:"receivable_id"`
	ClientName   string          `json:"client_name"`
	Plate        string          `json:"plate"`
	Amount       decimal.Decimal `json:"amount"`
}

type receivedPaymentDoc struct {
	ReceivableID string          `json:"receivable_id"`
	ClientName   string          `json:"client_name"`
	Amount       decimal.Decimal `json:"amount"`
}

type totalsDoc struct {
	EntranceRevenue         decimal.Decimal `json:"entrance_revenue"`
	ReceivedPaymentsTotal   decimal.Decimal `json:"received_payments_total"`
	GrossEntrances          decimal.Decimal `json:"gross_entrances"`
	NonCashElectronicInflow decimal.Decimal `json:"non_cash_electronic_inflow"`
	CashReducingFixedExits  decimal.Decimal `json:"cash_reducing_fixed_exits"`
	VariableExitsTotal      decimal.Decimal `json:"variable_exits_total"`
	NewReceivablesTotal     decimal.Decimal `json:"new_receivables_total"`
	TotalExits              decimal.Decimal `json:"total_exits"`
	FinalCashBalance        decimal.Decimal `json:"final_cash_balance"`
}

type receivableDoc struct {
	ID                 string           `json:"id"`
	ClientName         string           `json:"client_name"`
	Plate              string           `json:"plate"`
	Amount             decimal.Decimal  `json:"amount"`
	DebitDate          string           `json:"debit_date"`
	StoreID            string           `json:"store_id"`
	OwnerID            string           `json:"owner_id"`
	Status             string           `json:"status"`
	OriginClosingID    string           `json:"origin_closing_id"`
	PaymentDate        *time.Time       `json:"payment_date,omitempty"`
	ClearanceDate      *time.Time       `json:"clearance_date,omitempty"`
	CollectedAmount    *decimal.Decimal `json:"collected_amount,omitempty"`
	CollectedClosingID string           `json:"collected_closing_id,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
}

func toClosingDoc(c closing.Closing) closingDoc {
	doc := closingDoc{
		ID:           c.ID,
		Date:         closing.FormatDate(c.Date),
		StoreID:      c.StoreID,
		OwnerID:      c.OwnerID,
		OperatorName: c.OperatorName,
		Entrances:    c.Items.Entrances,
		FixedExits:   c.Items.FixedExits,
		Totals:       totalsDoc(c.Totals),
		CreatedAt:    c.CreatedAt.UTC(),
		UpdatedAt:    c.UpdatedAt.UTC(),
	}
	for _, v := range c.Items.VariableExits {
		doc.VariableExits = append(doc.VariableExits, variableExitDoc(v))
	}
	for _, nr := range c.Items.NewReceivables {
		doc.NewReceivables = append(doc.NewReceivables, newReceivableDoc(nr))
	}
	for _, p := range c.Items.ReceivedPayments {
		doc.ReceivedPayments = append(doc.ReceivedPayments, receivedPaymentDoc(p))
	}
	return doc
}

func (d closingDoc) toDomain() (closing.Closing, error) {
	date, err := closing.ParseDate(d.Date)
	if err != nil {
		return closing.Closing{}, err
	}
	c := closing.Closing{
		ID:           d.ID,
		Date:         date,
		StoreID:      d.StoreID,
		OwnerID:      d.OwnerID,
		OperatorName: d.OperatorName,
		Items: closing.LineItems{
			Entrances:  d.Entrances,
			FixedExits: d.FixedExits,
		},
		Totals:    closing.Totals(d.Totals),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	for _, v := range d.VariableExits {
		c.Items.VariableExits = append(c.Items.VariableExits, closing.VariableExit(v))
	}
	for _, nr := range d.NewReceivables {
		c.Items.NewReceivables = append(c.Items.NewReceivables, closing.NewReceivable(nr))
	}
	for _, p := range d.ReceivedPayments {
		c.Items.ReceivedPayments = append(c.Items.ReceivedPayments, closing.ReceivedPayment(p))
	}
	return c, nil
}

func toReceivableDoc(r receivable.Receivable) receivableDoc {
	return receivableDoc{
		ID:                 r.ID,
		ClientName:         r.ClientName,
		Plate:              r.Plate,
		Amount:             r.Amount,
		DebitDate:          closing.FormatDate(r.DebitDate),
		StoreID:            r.StoreID,
		OwnerID:            r.OwnerID,
		Status:             string(r.Status),
		OriginClosingID:    r.OriginClosingID,
		PaymentDate:        r.PaymentDate,
		ClearanceDate:      r.ClearanceDate,
		CollectedAmount:    r.CollectedAmount,
		CollectedClosingID: r.CollectedClosingID,
		CreatedAt:          r.CreatedAt.UTC(),
	}
}

func (d receivableDoc) toDomain() (receivable.Receivable, error) {
	debit, err := closing.ParseDate(d.DebitDate)
	if err != nil {
		return receivable.Receivable{}, err
	}
	return receivable.Receivable{
		ID:                 d.ID,
		ClientName:         d.ClientName,
		Plate:              d.Plate,
		Amount:             d.Amount,
		DebitDate:          debit,
		StoreID:            d.StoreID,
		OwnerID:            d.OwnerID,
		Status:             receivable.Status(d.Status),
		OriginClosingID:    d.OriginClosingID,
		PaymentDate:        d.PaymentDate,
		ClearanceDate:      d.ClearanceDate,
		CollectedAmount:    d.CollectedAmount,
		CollectedClosingID: d.CollectedClosingID,
		CreatedAt:          d.CreatedAt,
	}, nil
}
