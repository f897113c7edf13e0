package repository

import (
	"context"

	"github.com/copduh/Interviewzwt/internal/models"
)

//go:generate mockgen -destination=mocks/mock_repository.go -package=mocks . UserRepository,OrderMappingRepository,CreditRepository

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetCredits(ctx context.Context, userID int64) (int32, error)
	// ConsumeCredits atomically spends amount and returns the new balance.
	// A balance below amount yields ErrInsufficientCredits and is left untouched.
	ConsumeCredits(ctx context.Context, userID int64, amount int32) (int32, error)
}
