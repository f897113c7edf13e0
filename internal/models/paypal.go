package models

import (
	"encoding/json"
	"strconv"
	"strings"
)

// PayPalOrder is the subset of the PayPal v2 order object the service reads.
// Raw keeps the full provider payload so it can be echoed back to clients.
type PayPalOrder struct {
	ID            string         `json:"id"`
	Status        string         `json:"status,omitempty"`
	PurchaseUnits []PurchaseUnit `json:"purchase_units,omitempty"`
	Links         []Link         `json:"links,omitempty"`

	Raw []byte `json:"-"`
}

type PurchaseUnit struct {
	CustomID    string  `json:"custom_id,omitempty"`
	Description string  `json:"description,omitempty"`
	Amount      *Amount `json:"amount,omitempty"`
}

type Amount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type Link struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method,omitempty"`
}

// Credits returns the credit count echoed in the first purchase unit's
// custom_id. Missing or non-positive values yield 0.
func (o *PayPalOrder) Credits() int32 {
	if o == nil || len(o.PurchaseUnits) == 0 {
		return 0
	}
	raw := strings.TrimSpace(o.PurchaseUnits[0].CustomID)
	if raw == "" {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || n <= 0 {
		return 0
	}
	return int32(n)
}

func (o *PayPalOrder) ApproveURL() string {
	if o == nil {
		return ""
	}
	for _, l := range o.Links {
		if l.Rel == "approve" {
			return l.Href
		}
	}
	return ""
}

// MarshalJSON echoes the provider payload untouched when it is available.
func (o PayPalOrder) MarshalJSON() ([]byte, error) {
	if len(o.Raw) > 0 {
		return o.Raw, nil
	}
	type plain PayPalOrder
	return json.Marshal(plain(o))
}

// OrderRequest describes a credit purchase to open with the provider.
type OrderRequest struct {
	Amount   float64
	Credits  int32
	PlanName string
}

// CreatedOrder is returned to the client after an order is opened.
type CreatedOrder struct {
	OrderID    string `json:"orderID"`
	ApproveURL string `json:"approveUrl"`
}

// CaptureResult is the outcome of a capture call. User is nil when the
// credited state is unknown to the caller.
type CaptureResult struct {
	Captured bool         `json:"captured"`
	Order    *PayPalOrder `json:"order"`
	User     *UserCredits `json:"user,omitempty"`
}
