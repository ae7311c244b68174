package binance

import (
	"time"

	"github.com/shopspring/decimal"

	"signaltrader/internal/domain"
)

// orderResponse covers the order payloads of both the spot and futures APIs.
type orderResponse struct {
	Symbol             string `json:"symbol"`
	OrderID            int64  `json:"orderId"`
	OrderListID        *int64 `json:"orderListId"`
	ClientOrderID      string `json:"clientOrderId"`
	Price              string `json:"price"`
	AvgPrice           string `json:"avgPrice"`
	OrigQty            string `json:"origQty"`
	ExecutedQty        string `json:"executedQty"`
	CumulativeQuoteQty string `json:"cummulativeQuoteQty"`
	CumQuote           string `json:"cumQuote"`
	Status             string `json:"status"`
	Type               string `json:"type"`
	Side               string `json:"side"`
	ReduceOnly         bool   `json:"reduceOnly"`
	TransactTime       int64  `json:"transactTime"`
	UpdateTime         int64  `json:"updateTime"`
}

func (r *orderResponse) toOrder() *domain.Order {
	quote := parseDecimal(r.CumulativeQuoteQty)
	if quote.IsZero() {
		quote = parseDecimal(r.CumQuote)
	}

	price := parseDecimal(r.Price)
	if avg := parseDecimal(r.AvgPrice); avg.IsPositive() {
		price = avg
	}

	updated := r.UpdateTime
	if updated == 0 {
		updated = r.TransactTime
	}

	return &domain.Order{
		Symbol:           r.Symbol,
		Side:             domain.OrderSide(r.Side),
		Type:             domain.OrderType(r.Type),
		Status:           domain.OrderStatus(r.Status),
		OrderID:          r.OrderID,
		GroupID:          listID(r.OrderListID),
		Quantity:         parseDecimal(r.OrigQty),
		ExecutedQuantity: parseDecimal(r.ExecutedQty),
		Price:            price,
		QuoteQuantity:    quote,
		ReduceOnly:       r.ReduceOnly,
		UpdatedAt:        time.UnixMilli(updated),
	}
}

func toOrders(resp []orderResponse) []domain.Order {
	out := make([]domain.Order, 0, len(resp))
	for i := range resp {
		out = append(out, *resp[i].toOrder())
	}
	return out
}

type ocoResponse struct {
	OrderListID       int64           `json:"orderListId"`
	ContingencyType   string          `json:"contingencyType"`
	ListStatusType    string          `json:"listStatusType"`
	ListOrderStatus   string          `json:"listOrderStatus"`
	ListClientOrderID string          `json:"listClientOrderId"`
	Symbol            string          `json:"symbol"`
	OrderReports      []orderResponse `json:"orderReports"`
}

type cancelResponse struct {
	orderResponse
	// set when the cancelled order was an OCO leg
	ListStatusType string `json:"listStatusType"`
}

type symbolFilterResponse struct {
	FilterType  string `json:"filterType"`
	StepSize    string `json:"stepSize"`
	TickSize    string `json:"tickSize"`
	MinNotional string `json:"minNotional"`
	Notional    string `json:"notional"`
}

type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol            string                 `json:"symbol"`
		Status            string                 `json:"status"`
		QuantityPrecision *int32                 `json:"quantityPrecision"`
		PricePrecision    *int32                 `json:"pricePrecision"`
		Filters           []symbolFilterResponse `json:"filters"`
	} `json:"symbols"`
}

func (r *exchangeInfoResponse) rules(symbol string, explicitPrecision bool) (*domain.SymbolRules, bool) {
	for _, s := range r.Symbols {
		if s.Symbol != symbol {
			continue
		}

		rules := &domain.SymbolRules{Symbol: s.Symbol}
		for _, f := range s.Filters {
			rules.Filters = append(rules.Filters, domain.SymbolFilter{
				FilterType:  f.FilterType,
				StepSize:    f.StepSize,
				TickSize:    f.TickSize,
				MinNotional: f.MinNotional,
				Notional:    f.Notional,
			})
		}
		if explicitPrecision {
			rules.QuantityPrecision = s.QuantityPrecision
			rules.PricePrecision = s.PricePrecision
		}
		return rules, true
	}
	return nil, false
}

type priceResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// listID converts Binance's -1 "no list" marker into nil.
func listID(id *int64) *int64 {
	if id == nil || *id < 0 {
		return nil
	}
	v := *id
	return &v
}
