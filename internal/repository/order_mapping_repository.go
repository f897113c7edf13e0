package repository

import (
	"context"
	"time"

	"github.com/copduh/Interviewzwt/internal/models"
)

type OrderMappingRepository interface {
	Create(ctx context.Context, mapping *models.OrderMapping) error
	GetByOrderID(ctx context.Context, orderID string) (*models.OrderMapping, error)
	// DeleteByOrderID succeeds when no mapping exists.
	DeleteByOrderID(ctx context.Context, orderID string) error
	ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]models.OrderMapping, error)
}
