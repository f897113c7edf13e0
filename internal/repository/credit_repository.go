package repository

import (
	"context"

	"github.com/copduh/Interviewzwt/internal/models"
)

// CreditRepository is the account ledger.
type CreditRepository interface {
	// ApplyCapture claims the order mapping, records the ledger entry and
	// increments the user's balance in one transaction. It returns
	// ErrOrderAlreadyCredited when the order was credited before.
	ApplyCapture(ctx context.Context, grant models.CreditGrant) (newBalance int32, err error)
	GetByOrderID(ctx context.Context, orderID string) (*models.CreditTransaction, error)
	History(ctx context.Context, userID int64, limit int) ([]models.CreditTransaction, error)
}
