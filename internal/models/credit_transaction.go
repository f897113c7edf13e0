package models

import "time"

type CreditTransaction struct {
	ID        int64        `json:"id"`
	UserID    int64        `json:"user_id"`
	OrderID   string       `json:"order_id"`
	Amount    int32        `json:"amount"`
	Source    CreditSource `json:"source"`
	Status    StatusType   `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
}

// CreditSource records which path decided the credited amount.
type CreditSource string

const (
	SourceProvider CreditSource = "provider"
	SourceMapping  CreditSource = "mapping"
)

type StatusType string

const (
	StatusCompleted StatusType = "completed"
)

// CreditGrant is one request to credit a user for a captured order.
type CreditGrant struct {
	OrderID string
	UserID  int64
	Credits int32
	Source  CreditSource
	// RequireMapping aborts the grant when the order mapping is already gone at
	// claim time. Set when the mapping is the only evidence of payment.
	RequireMapping bool
}
