package kafka

const TopicPayments = "payments"

// credits_consumed has no order id and carries the spent amount in Credits.
const (
	EventOrderCreated    = "order_created"
	EventCreditsGranted  = "credits_granted"
	EventCreditsConsumed = "credits_consumed"
)

// PaymentEvent is the envelope published on the payments topic.
type PaymentEvent struct {
	EventType string `json:"event_type"`
	OrderID   string `json:"order_id"`
	UserID    int64  `json:"user_id"`
	Credits   int32  `json:"credits"`
	Balance   int32  `json:"balance,omitempty"`
	PlanName  string `json:"plan_name,omitempty"`
	Source    string `json:"source,omitempty"`
	CreatedAt string `json:"created_at"`
}
