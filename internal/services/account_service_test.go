package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/copduh/Interviewzwt/internal/infrastructure/auth"
	"github.com/copduh/Interviewzwt/internal/infrastructure/kafka"
	kafkamocks "github.com/copduh/Interviewzwt/internal/infrastructure/kafka/mocks"
	"github.com/copduh/Interviewzwt/internal/infrastructure/redis"
	redismocks "github.com/copduh/Interviewzwt/internal/infrastructure/redis/mocks"
	"github.com/copduh/Interviewzwt/internal/models"
	repositorymocks "github.com/copduh/Interviewzwt/internal/repository/mocks"
	pkgerrors "github.com/copduh/Interviewzwt/pkg/errors"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestAccountService_Register(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	userRepo := repositorymocks.NewMockUserRepository(ctrl)
	creditRepo := repositorymocks.NewMockCreditRepository(ctrl)
	redisClient := redismocks.NewMockRedisClient(ctrl)
	issuer := auth.NewTokenIssuer("secret", time.Hour)

	ctx := context.Background()
	service := NewAccountService(userRepo, creditRepo, redisClient, issuer, 10, nil)

	t.Run("successful registration", func(t *testing.T) {
		userRepo.EXPECT().GetByEmail(gomock.Any(), "dev@example.com").Return(nil, pkgerrors.ErrUserNotFound)
		userRepo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, user *models.User) error {
			assert.Equal(t, int32(10), user.Credits)
			assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("secret123")))
			user.ID = 1
			return nil
		})
		redisClient.EXPECT().Set(gomock.Any(), "user:1:token", gomock.Any(), time.Hour).Return(nil)

		res, err := service.Register(ctx, " Dev@Example.com ", "secret123", "Dev")
		require.NoError(t, err)
		assert.NotEmpty(t, res.Token)
		assert.Equal(t, int64(1), res.User.ID)
		assert.Equal(t, "dev@example.com", res.User.Email)

		userID, err := issuer.ValidateJWT(res.Token)
		assert.NoError(t, err)
		assert.Equal(t, int64(1), userID)
	})

	t.Run("email already exists", func(t *testing.T) {
		userRepo.EXPECT().GetByEmail(gomock.Any(), "dev@example.com").Return(&models.User{ID: 1}, nil)

		res, err := service.Register(ctx, "dev@example.com", "secret123", "")
		assert.Nil(t, res)
		assert.ErrorIs(t, err, pkgerrors.ErrEmailExists)
	})

	t.Run("missing password", func(t *testing.T) {
		res, err := service.Register(ctx, "dev@example.com", "", "")
		assert.Nil(t, res)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
	})

	t.Run("lookup failure", func(t *testing.T) {
		userRepo.EXPECT().GetByEmail(gomock.Any(), "dev@example.com").Return(nil, errors.New("database error"))

		_, err := service.Register(ctx, "dev@example.com", "secret123", "")
		assert.ErrorIs(t, err, pkgerrors.ErrInternal)
	})
}

func TestAccountService_Login(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	userRepo := repositorymocks.NewMockUserRepository(ctrl)
	creditRepo := repositorymocks.NewMockCreditRepository(ctrl)
	redisClient := redismocks.NewMockRedisClient(ctrl)

	ctx := context.Background()
	service := NewAccountService(userRepo, creditRepo, redisClient, auth.NewTokenIssuer("secret", time.Hour), 10, nil)

	hashed, err := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.MinCost)
	require.NoError(t, err)
	user := &models.User{ID: 1, Email: "dev@example.com", PasswordHash: string(hashed), Credits: 40}

	t.Run("successful login", func(t *testing.T) {
		userRepo.EXPECT().GetByEmail(gomock.Any(), "dev@example.com").Return(user, nil)
		redisClient.EXPECT().Set(gomock.Any(), "user:1:token", gomock.Any(), time.Hour).Return(nil)

		res, err := service.Login(ctx, "dev@example.com", "secret123")
		assert.NoError(t, err)
		assert.NotEmpty(t, res.Token)
		assert.Equal(t, int32(40), res.User.Credits)
	})

	t.Run("wrong password", func(t *testing.T) {
		userRepo.EXPECT().GetByEmail(gomock.Any(), "dev@example.com").Return(user, nil)

		res, err := service.Login(ctx, "dev@example.com", "wrongpass")
		assert.Nil(t, res)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidCredentials)
	})

	t.Run("unknown email", func(t *testing.T) {
		userRepo.EXPECT().GetByEmail(gomock.Any(), "ghost@example.com").Return(nil, pkgerrors.ErrUserNotFound)

		_, err := service.Login(ctx, "ghost@example.com", "secret123")
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidCredentials)
	})
}

func TestAccountService_GetCredits(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	userRepo := repositorymocks.NewMockUserRepository(ctrl)
	creditRepo := repositorymocks.NewMockCreditRepository(ctrl)
	redisClient := redismocks.NewMockRedisClient(ctrl)

	ctx := context.Background()
	service := NewAccountService(userRepo, creditRepo, redisClient, auth.NewTokenIssuer("secret", time.Hour), 10, nil)

	t.Run("cache hit", func(t *testing.T) {
		redisClient.EXPECT().Get(gomock.Any(), "user:1:credits").Return("40", nil)

		credits, err := service.GetCredits(ctx, 1)
		assert.NoError(t, err)
		assert.Equal(t, int32(40), credits)
	})

	t.Run("cache miss", func(t *testing.T) {
		redisClient.EXPECT().Get(gomock.Any(), "user:2:credits").Return("", redis.ErrKeyNotFound)
		userRepo.EXPECT().GetCredits(gomock.Any(), int64(2)).Return(int32(10), nil)
		redisClient.EXPECT().Set(gomock.Any(), "user:2:credits", int32(10), redis.CreditsCacheTTL).Return(nil)

		credits, err := service.GetCredits(ctx, 2)
		assert.NoError(t, err)
		assert.Equal(t, int32(10), credits)
	})

	t.Run("unknown user", func(t *testing.T) {
		redisClient.EXPECT().Get(gomock.Any(), "user:3:credits").Return("", redis.ErrKeyNotFound)
		userRepo.EXPECT().GetCredits(gomock.Any(), int64(3)).Return(int32(0), pkgerrors.ErrUserNotFound)

		_, err := service.GetCredits(ctx, 3)
		assert.ErrorIs(t, err, pkgerrors.ErrUserNotFound)
	})
}

func TestAccountService_ProfileAndHistory(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	userRepo := repositorymocks.NewMockUserRepository(ctrl)
	creditRepo := repositorymocks.NewMockCreditRepository(ctrl)
	redisClient := redismocks.NewMockRedisClient(ctrl)

	ctx := context.Background()
	service := NewAccountService(userRepo, creditRepo, redisClient, auth.NewTokenIssuer("secret", time.Hour), 10, nil)

	t.Run("profile", func(t *testing.T) {
		userRepo.EXPECT().GetByID(gomock.Any(), int64(1)).Return(&models.User{ID: 1, Email: "dev@example.com"}, nil)

		user, err := service.Profile(ctx, 1)
		assert.NoError(t, err)
		assert.Equal(t, "dev@example.com", user.Email)
	})

	t.Run("history", func(t *testing.T) {
		history := []models.CreditTransaction{{ID: 1, UserID: 1, OrderID: "ORDER123", Amount: 30, Source: models.SourceMapping}}
		creditRepo.EXPECT().History(gomock.Any(), int64(1), historyLimit).Return(history, nil)

		got, err := service.CreditHistory(ctx, 1)
		assert.NoError(t, err)
		assert.Equal(t, history, got)
	})
}

func TestAccountService_ConsumeCredits(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	userRepo := repositorymocks.NewMockUserRepository(ctrl)
	creditRepo := repositorymocks.NewMockCreditRepository(ctrl)
	redisClient := redismocks.NewMockRedisClient(ctrl)
	producer := kafkamocks.NewMockKafkaProducer(ctrl)

	ctx := context.Background()
	service := NewAccountService(userRepo, creditRepo, redisClient, auth.NewTokenIssuer("secret", time.Hour), 10, producer)
	service.events.backoff = time.Millisecond

	t.Run("spends one credit by default", func(t *testing.T) {
		userRepo.EXPECT().ConsumeCredits(gomock.Any(), int64(1), int32(1)).Return(int32(9), nil)
		redisClient.EXPECT().Del(gomock.Any(), "user:1:credits").Return(nil)
		producer.EXPECT().Send(gomock.Any(), kafka.TopicPayments, "user:1", eventType(kafka.EventCreditsConsumed)).Return(nil)

		res, err := service.ConsumeCredits(ctx, 1, 0)
		service.Wait()
		require.NoError(t, err)
		assert.Equal(t, &models.UserCredits{ID: 1, Credits: 9}, res)
	})

	t.Run("insufficient credits leaves balance untouched", func(t *testing.T) {
		userRepo.EXPECT().ConsumeCredits(gomock.Any(), int64(2), int32(3)).Return(int32(1), pkgerrors.ErrInsufficientCredits)

		res, err := service.ConsumeCredits(ctx, 2, 3)
		assert.ErrorIs(t, err, pkgerrors.ErrInsufficientCredits)
		require.NotNil(t, res)
		assert.Equal(t, int32(1), res.Credits)
	})

	t.Run("negative amount", func(t *testing.T) {
		res, err := service.ConsumeCredits(ctx, 1, -2)
		assert.Nil(t, res)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
	})

	t.Run("unknown user", func(t *testing.T) {
		userRepo.EXPECT().ConsumeCredits(gomock.Any(), int64(99), int32(1)).Return(int32(0), pkgerrors.ErrUserNotFound)

		res, err := service.ConsumeCredits(ctx, 99, 1)
		assert.Nil(t, res)
		assert.ErrorIs(t, err, pkgerrors.ErrUserNotFound)
	})
}
