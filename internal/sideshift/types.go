package sideshift

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// PurposeBridge tags shifts created by this client.
const PurposeBridge = "bridge"

type TokenDetail struct {
	ContractAddress string `json:"contractAddress"`
	Decimals        int    `json:"decimals"`
}

type SupportedAsset struct {
	Coin         string                 `json:"coin"`
	Name         string                 `json:"name"`
	Networks     []string               `json:"networks"`
	TokenDetails map[string]TokenDetail `json:"tokenDetails,omitempty"`
}

type SupportedAssetsResponse struct {
	Assets      []SupportedAsset `json:"assets"`
	LastUpdated string           `json:"lastUpdated"`
}

// PairInfo is the quoted bounds and rate for one coin/network pair.
type PairInfo struct {
	Min            string `json:"min"`
	Max            string `json:"max"`
	Rate           string `json:"rate"`
	DepositCoin    string `json:"depositCoin"`
	SettleCoin     string `json:"settleCoin"`
	DepositNetwork string `json:"depositNetwork"`
	SettleNetwork  string `json:"settleNetwork"`
}

func (p PairInfo) MinDecimal() (decimal.Decimal, error) { return decimal.NewFromString(p.Min) }
func (p PairInfo) MaxDecimal() (decimal.Decimal, error) { return decimal.NewFromString(p.Max) }
func (p PairInfo) RateDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(p.Rate)
}

// Validate checks 0 < min <= max and rate > 0.
func (p PairInfo) Validate() error {
	minV, err := p.MinDecimal()
	if err != nil {
		return fmt.Errorf("pair min %q: %w", p.Min, err)
	}
	maxV, err := p.MaxDecimal()
	if err != nil {
		return fmt.Errorf("pair max %q: %w", p.Max, err)
	}
	rate, err := p.RateDecimal()
	if err != nil {
		return fmt.Errorf("pair rate %q: %w", p.Rate, err)
	}
	if !minV.IsPositive() {
		return fmt.Errorf("pair min must be positive, got %s", p.Min)
	}
	if minV.GreaterThan(maxV) {
		return fmt.Errorf("pair min %s exceeds max %s", p.Min, p.Max)
	}
	if !rate.IsPositive() {
		return fmt.Errorf("pair rate must be positive, got %s", p.Rate)
	}
	return nil
}

type ShiftRequest struct {
	UserAddress   string `json:"userAddress"`
	Purpose       string `json:"purpose"`
	SourceCoin    string `json:"sourceCoin"`
	DestCoin      string `json:"destCoin"`
	SourceNetwork string `json:"sourceNetwork,omitempty"`
	DestNetwork   string `json:"destNetwork,omitempty"`
	SourceAmount  string `json:"sourceAmount,omitempty"`
	RefundAddress string `json:"refundAddress,omitempty"`
}

type ShiftType string

const (
	ShiftTypeFixed    ShiftType = "fixed"
	ShiftTypeVariable ShiftType = "variable"
)

// Shift is the backend's record of one exchange order. Only Status changes
// after creation.
type Shift struct {
	ID               string    `json:"id"`
	SideshiftOrderID string    `json:"sideshiftOrderId"`
	PollID           string    `json:"pollId,omitempty"`
	UserAddress      string    `json:"userAddress"`
	Purpose          string    `json:"purpose,omitempty"`
	SourceAsset      string    `json:"sourceAsset"`
	DestAsset        string    `json:"destAsset"`
	SourceNetwork    string    `json:"sourceNetwork"`
	DestNetwork      string    `json:"destNetwork"`
	SourceAmount     string    `json:"sourceAmount,omitempty"`
	DestAmount       string    `json:"destAmount,omitempty"`
	DepositAddress   string    `json:"depositAddress"`
	SettleAddress    string    `json:"settleAddress"`
	ShiftType        ShiftType `json:"shiftType"`
	Status           Status    `json:"status"`
	CreatedAt        string    `json:"createdAt"`
	ExpiresAt        string    `json:"expiresAt"`
}

// DepositInstructions is the exchange-side block returned on creation.
type DepositInstructions struct {
	OrderID        string `json:"orderId"`
	DepositAddress string `json:"depositAddress"`
	DepositCoin    string `json:"depositCoin"`
	DepositNetwork string `json:"depositNetwork"`
	DepositMin     string `json:"depositMin,omitempty"`
	DepositMax     string `json:"depositMax,omitempty"`
	ExpiresAt      string `json:"expiresAt"`
}

type ShiftResponse struct {
	Shift     Shift               `json:"shift"`
	Sideshift DepositInstructions `json:"sideshift"`
}

type ShiftStatusResponse struct {
	Shift         Shift       `json:"shift"`
	SideshiftData OrderStatus `json:"sideshiftData"`
}

// Order is the exchange's view of a shift as relayed by the backend.
type Order struct {
	ID             string `json:"id"`
	Type           string `json:"type,omitempty"`
	Status         Status `json:"status,omitempty"`
	DepositCoin    string `json:"depositCoin,omitempty"`
	SettleCoin     string `json:"settleCoin,omitempty"`
	DepositNetwork string `json:"depositNetwork,omitempty"`
	SettleNetwork  string `json:"settleNetwork,omitempty"`
	DepositAddress string `json:"depositAddress,omitempty"`
	SettleAddress  string `json:"settleAddress,omitempty"`
	DepositMin     string `json:"depositMin,omitempty"`
	DepositMax     string `json:"depositMax,omitempty"`
	DepositAmount  string `json:"depositAmount,omitempty"`
	SettleAmount   string `json:"settleAmount,omitempty"`
	Rate           string `json:"rate,omitempty"`
	CreatedAt      string `json:"createdAt,omitempty"`
	ExpiresAt      string `json:"expiresAt,omitempty"`
}

// OrderStatus holds sideshiftData. Exactly one of Order or Other is set when
// the backend sent a payload; an object with an "id" decodes as Order and
// anything else is kept raw in Other.
type OrderStatus struct {
	Order *Order
	Other json.RawMessage
}

func (o *OrderStatus) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	*o = OrderStatus{}
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '{' {
		var order Order
		if err := json.Unmarshal(trimmed, &order); err == nil && strings.TrimSpace(order.ID) != "" {
			o.Order = &order
			return nil
		}
	}
	o.Other = append(json.RawMessage(nil), trimmed...)
	return nil
}

func (o OrderStatus) MarshalJSON() ([]byte, error) {
	switch {
	case o.Order != nil:
		return json.Marshal(o.Order)
	case len(o.Other) > 0:
		return o.Other, nil
	default:
		return []byte("null"), nil
	}
}

// Kind reports which variant is populated.
func (o OrderStatus) Kind() string {
	switch {
	case o.Order != nil:
		return "order"
	case len(o.Other) > 0:
		return "other"
	default:
		return "none"
	}
}

type UserShiftsResponse struct {
	Shifts []Shift `json:"shifts"`
}

type Health struct {
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	Environment string `json:"environment"`
}
