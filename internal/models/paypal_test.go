package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayPalOrder_Credits(t *testing.T) {
	cases := []struct {
		name  string
		order *PayPalOrder
		want  int32
	}{
		{"NilOrder", nil, 0},
		{"NoPurchaseUnits", &PayPalOrder{ID: "X"}, 0},
		{"EmptyCustomID", &PayPalOrder{PurchaseUnits: []PurchaseUnit{{}}}, 0},
		{"Numeric", &PayPalOrder{PurchaseUnits: []PurchaseUnit{{CustomID: "30"}}}, 30},
		{"Padded", &PayPalOrder{PurchaseUnits: []PurchaseUnit{{CustomID: " 5 "}}}, 5},
		{"Negative", &PayPalOrder{PurchaseUnits: []PurchaseUnit{{CustomID: "-4"}}}, 0},
		{"Garbage", &PayPalOrder{PurchaseUnits: []PurchaseUnit{{CustomID: "ten"}}}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.order.Credits())
		})
	}
}

func TestPayPalOrder_ApproveURL(t *testing.T) {
	order := &PayPalOrder{Links: []Link{
		{Rel: "self", Href: "https://api/self"},
		{Rel: "approve", Href: "https://paypal/approve"},
	}}
	assert.Equal(t, "https://paypal/approve", order.ApproveURL())
	assert.Empty(t, (&PayPalOrder{}).ApproveURL())
}

func TestCaptureResult_JSON(t *testing.T) {
	t.Run("EchoesProviderPayload", func(t *testing.T) {
		raw := []byte(`{"id":"ORDER123","status":"COMPLETED","payer":{"email_address":"a@b.c"}}`)
		res := CaptureResult{Captured: true, Order: &PayPalOrder{ID: "ORDER123", Raw: raw}, User: &UserCredits{ID: 1, Credits: 40}}

		out, err := json.Marshal(res)
		require.NoError(t, err)
		assert.JSONEq(t, `{"captured":true,"order":{"id":"ORDER123","status":"COMPLETED","payer":{"email_address":"a@b.c"}},"user":{"id":1,"credits":40}}`, string(out))
	})

	t.Run("FallbackOrderWithoutUser", func(t *testing.T) {
		res := CaptureResult{Captured: true, Order: &PayPalOrder{ID: "ORDER456"}}

		out, err := json.Marshal(res)
		require.NoError(t, err)
		assert.JSONEq(t, `{"captured":true,"order":{"id":"ORDER456"}}`, string(out))
	})
}
