package models

import "time"

// OrderMapping correlates a provider order with the user who started it and
// the credits requested. It lives until the order is credited.
type OrderMapping struct {
	OrderID   string    `json:"order_id"`
	UserID    int64     `json:"user_id"`
	Credits   int32     `json:"credits"`
	CreatedAt time.Time `json:"created_at"`
}
