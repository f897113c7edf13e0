package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/copduh/Interviewzwt/internal/infrastructure/kafka"
	kafkamocks "github.com/copduh/Interviewzwt/internal/infrastructure/kafka/mocks"
	paypalmocks "github.com/copduh/Interviewzwt/internal/infrastructure/paypal/mocks"
	redismocks "github.com/copduh/Interviewzwt/internal/infrastructure/redis/mocks"
	"github.com/copduh/Interviewzwt/internal/models"
	repositorymocks "github.com/copduh/Interviewzwt/internal/repository/mocks"
	pkgerrors "github.com/copduh/Interviewzwt/pkg/errors"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type paymentDeps struct {
	provider    *paypalmocks.MockPaymentProvider
	mappings    *repositorymocks.MockOrderMappingRepository
	credits     *repositorymocks.MockCreditRepository
	redisClient *redismocks.MockRedisClient
	producer    *kafkamocks.MockKafkaProducer
}

func newPaymentTestService(t *testing.T) (*paymentService, paymentDeps) {
	ctrl := gomock.NewController(t)
	deps := paymentDeps{
		provider:    paypalmocks.NewMockPaymentProvider(ctrl),
		mappings:    repositorymocks.NewMockOrderMappingRepository(ctrl),
		credits:     repositorymocks.NewMockCreditRepository(ctrl),
		redisClient: redismocks.NewMockRedisClient(ctrl),
		producer:    kafkamocks.NewMockKafkaProducer(ctrl),
	}
	svc := NewPaymentService(deps.provider, deps.mappings, deps.credits, deps.redisClient, deps.producer)
	svc.events.backoff = time.Millisecond
	return svc, deps
}

func expectCaptureLock(deps paymentDeps, orderID string) {
	deps.redisClient.EXPECT().SetNX(gomock.Any(), "capture:"+orderID+":lock", "locked", captureLockTTL).Return(true, nil)
	deps.redisClient.EXPECT().Del(gomock.Any(), "capture:"+orderID+":lock").Return(nil)
}

// eventType matches a serialized kafka.PaymentEvent by its event_type.
type eventType string

func (e eventType) Matches(x interface{}) bool {
	payload, ok := x.([]byte)
	if !ok {
		return false
	}
	var event kafka.PaymentEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return false
	}
	return event.EventType == string(e)
}

func (e eventType) String() string {
	return "payment event " + string(e)
}

func providerOrder(id, customID string) *models.PayPalOrder {
	return &models.PayPalOrder{
		ID:            id,
		Status:        "COMPLETED",
		PurchaseUnits: []models.PurchaseUnit{{CustomID: customID}},
	}
}

func TestPaymentService_CaptureOrder(t *testing.T) {
	ctx := context.Background()
	networkErr := fmt.Errorf("%w: capture: dial tcp: connection refused", pkgerrors.ErrProviderUnavailable)

	t.Run("mapping fallback credits mapped user", func(t *testing.T) {
		svc, deps := newPaymentTestService(t)
		expectCaptureLock(deps, "ORDER123")
		deps.provider.EXPECT().CaptureOrder(gomock.Any(), "ORDER123").Return(nil, networkErr)
		deps.mappings.EXPECT().GetByOrderID(gomock.Any(), "ORDER123").
			Return(&models.OrderMapping{OrderID: "ORDER123", UserID: 1, Credits: 30}, nil)
		deps.credits.EXPECT().ApplyCapture(gomock.Any(), models.CreditGrant{
			OrderID:        "ORDER123",
			UserID:         1,
			Credits:        30,
			Source:         models.SourceMapping,
			RequireMapping: true,
		}).Return(int32(40), nil)
		deps.redisClient.EXPECT().Del(gomock.Any(), "user:1:credits").Return(nil)
		deps.producer.EXPECT().Send(gomock.Any(), kafka.TopicPayments, "ORDER123", eventType(kafka.EventCreditsGranted)).Return(nil)

		res, err := svc.CaptureOrder(ctx, "ORDER123", 0)
		svc.Wait()
		require.NoError(t, err)
		assert.True(t, res.Captured)
		assert.Equal(t, "ORDER123", res.Order.ID)
		require.NotNil(t, res.User)
		assert.Equal(t, int64(1), res.User.ID)
		assert.Equal(t, int32(40), res.User.Credits)
	})

	t.Run("no mapping and provider failure", func(t *testing.T) {
		svc, deps := newPaymentTestService(t)
		expectCaptureLock(deps, "ORDER456")
		deps.provider.EXPECT().CaptureOrder(gomock.Any(), "ORDER456").Return(nil, networkErr)
		deps.mappings.EXPECT().GetByOrderID(gomock.Any(), "ORDER456").Return(nil, pkgerrors.ErrOrderMappingNotFound)

		res, err := svc.CaptureOrder(ctx, "ORDER456", 0)
		assert.Nil(t, res)
		assert.ErrorIs(t, err, pkgerrors.ErrProviderUnavailable)
		assert.True(t, pkgerrors.IsRecoverableProviderError(err))
	})

	t.Run("provider refusal is not credited from mapping", func(t *testing.T) {
		svc, deps := newPaymentTestService(t)
		expectCaptureLock(deps, "ORDER777")
		notApproved := fmt.Errorf("%w: capture_order: status 422: ORDER_NOT_APPROVED", pkgerrors.ErrProviderRejected)
		deps.provider.EXPECT().CaptureOrder(gomock.Any(), "ORDER777").Return(nil, notApproved)
		deps.mappings.EXPECT().GetByOrderID(gomock.Any(), gomock.Any()).Times(0)
		deps.credits.EXPECT().ApplyCapture(gomock.Any(), gomock.Any()).Times(0)

		res, err := svc.CaptureOrder(ctx, "ORDER777", 7)
		assert.Nil(t, res)
		assert.ErrorIs(t, err, pkgerrors.ErrProviderRejected)
		assert.False(t, pkgerrors.IsRecoverableProviderError(err))
	})

	t.Run("order already captured upstream falls back to mapping", func(t *testing.T) {
		svc, deps := newPaymentTestService(t)
		expectCaptureLock(deps, "ORDER778")
		alreadyCaptured := fmt.Errorf("%w: %w: capture_order: status 422", pkgerrors.ErrProviderRejected, pkgerrors.ErrOrderAlreadyCaptured)
		deps.provider.EXPECT().CaptureOrder(gomock.Any(), "ORDER778").Return(nil, alreadyCaptured)
		deps.mappings.EXPECT().GetByOrderID(gomock.Any(), "ORDER778").
			Return(&models.OrderMapping{OrderID: "ORDER778", UserID: 7, Credits: 100}, nil)
		deps.credits.EXPECT().ApplyCapture(gomock.Any(), models.CreditGrant{
			OrderID:        "ORDER778",
			UserID:         7,
			Credits:        100,
			Source:         models.SourceMapping,
			RequireMapping: true,
		}).Return(int32(110), nil)
		deps.redisClient.EXPECT().Del(gomock.Any(), "user:7:credits").Return(nil)
		deps.producer.EXPECT().Send(gomock.Any(), kafka.TopicPayments, "ORDER778", gomock.Any()).Return(nil)

		res, err := svc.CaptureOrder(ctx, "ORDER778", 0)
		svc.Wait()
		require.NoError(t, err)
		assert.Equal(t, &models.UserCredits{ID: 7, Credits: 110}, res.User)
	})

	t.Run("provider credits are authoritative", func(t *testing.T) {
		svc, deps := newPaymentTestService(t)
		expectCaptureLock(deps, "ORDER789")
		deps.provider.EXPECT().CaptureOrder(gomock.Any(), "ORDER789").Return(providerOrder("ORDER789", "50"), nil)
		deps.credits.EXPECT().ApplyCapture(gomock.Any(), models.CreditGrant{
			OrderID: "ORDER789",
			UserID:  2,
			Credits: 50,
			Source:  models.SourceProvider,
		}).Return(int32(60), nil)
		deps.redisClient.EXPECT().Del(gomock.Any(), "user:2:credits").Return(nil)
		deps.producer.EXPECT().Send(gomock.Any(), kafka.TopicPayments, "ORDER789", gomock.Any()).Return(nil)

		res, err := svc.CaptureOrder(ctx, "ORDER789", 2)
		svc.Wait()
		require.NoError(t, err)
		assert.Equal(t, &models.UserCredits{ID: 2, Credits: 60}, res.User)
	})

	t.Run("anonymous capture credits mapping owner", func(t *testing.T) {
		svc, deps := newPaymentTestService(t)
		expectCaptureLock(deps, "ORDER321")
		deps.provider.EXPECT().CaptureOrder(gomock.Any(), "ORDER321").Return(providerOrder("ORDER321", "20"), nil)
		deps.mappings.EXPECT().GetByOrderID(gomock.Any(), "ORDER321").
			Return(&models.OrderMapping{OrderID: "ORDER321", UserID: 3, Credits: 5}, nil)
		deps.credits.EXPECT().ApplyCapture(gomock.Any(), models.CreditGrant{
			OrderID: "ORDER321",
			UserID:  3,
			Credits: 20,
			Source:  models.SourceProvider,
		}).Return(int32(30), nil)
		deps.redisClient.EXPECT().Del(gomock.Any(), "user:3:credits").Return(nil)
		deps.producer.EXPECT().Send(gomock.Any(), kafka.TopicPayments, "ORDER321", gomock.Any()).Return(nil)

		res, err := svc.CaptureOrder(ctx, "ORDER321", 0)
		svc.Wait()
		require.NoError(t, err)
		assert.Equal(t, int64(3), res.User.ID)
	})

	t.Run("anonymous capture without mapping is not credited", func(t *testing.T) {
		svc, deps := newPaymentTestService(t)
		expectCaptureLock(deps, "ORDER654")
		deps.provider.EXPECT().CaptureOrder(gomock.Any(), "ORDER654").Return(providerOrder("ORDER654", "20"), nil)
		deps.mappings.EXPECT().GetByOrderID(gomock.Any(), "ORDER654").Return(nil, pkgerrors.ErrOrderMappingNotFound)

		res, err := svc.CaptureOrder(ctx, "ORDER654", 0)
		require.NoError(t, err)
		assert.True(t, res.Captured)
		assert.Nil(t, res.User)
	})

	t.Run("missing custom id is not credited", func(t *testing.T) {
		svc, deps := newPaymentTestService(t)
		expectCaptureLock(deps, "ORDER655")
		deps.provider.EXPECT().CaptureOrder(gomock.Any(), "ORDER655").Return(providerOrder("ORDER655", ""), nil)
		deps.mappings.EXPECT().GetByOrderID(gomock.Any(), "ORDER655").
			Return(&models.OrderMapping{OrderID: "ORDER655", UserID: 3, Credits: 5}, nil)

		res, err := svc.CaptureOrder(ctx, "ORDER655", 3)
		require.NoError(t, err)
		assert.Nil(t, res.User)
	})

	t.Run("second capture does not re-credit", func(t *testing.T) {
		svc, deps := newPaymentTestService(t)
		expectCaptureLock(deps, "ORDER123")
		deps.provider.EXPECT().CaptureOrder(gomock.Any(), "ORDER123").Return(providerOrder("ORDER123", "30"), nil)
		deps.credits.EXPECT().ApplyCapture(gomock.Any(), gomock.Any()).Return(int32(0), pkgerrors.ErrOrderAlreadyCredited)
		deps.mappings.EXPECT().DeleteByOrderID(gomock.Any(), "ORDER123").Return(nil)

		res, err := svc.CaptureOrder(ctx, "ORDER123", 1)
		require.NoError(t, err)
		assert.True(t, res.Captured)
		assert.Nil(t, res.User)
	})

	t.Run("retry after mapping claimed fails without increment", func(t *testing.T) {
		svc, deps := newPaymentTestService(t)
		expectCaptureLock(deps, "ORDER123")
		deps.provider.EXPECT().CaptureOrder(gomock.Any(), "ORDER123").Return(nil, networkErr)
		deps.mappings.EXPECT().GetByOrderID(gomock.Any(), "ORDER123").Return(nil, pkgerrors.ErrOrderMappingNotFound)

		_, err := svc.CaptureOrder(ctx, "ORDER123", 1)
		assert.ErrorIs(t, err, pkgerrors.ErrProviderUnavailable)
	})

	t.Run("capture already in progress", func(t *testing.T) {
		svc, deps := newPaymentTestService(t)
		deps.redisClient.EXPECT().SetNX(gomock.Any(), "capture:ORDER123:lock", "locked", captureLockTTL).Return(false, nil)

		res, err := svc.CaptureOrder(ctx, "ORDER123", 1)
		assert.Nil(t, res)
		assert.ErrorIs(t, err, pkgerrors.ErrCaptureInProgress)
	})

	t.Run("redis failure does not block capture", func(t *testing.T) {
		svc, deps := newPaymentTestService(t)
		deps.redisClient.EXPECT().SetNX(gomock.Any(), "capture:ORDER999:lock", "locked", captureLockTTL).Return(false, errors.New("redis down"))
		deps.provider.EXPECT().CaptureOrder(gomock.Any(), "ORDER999").Return(providerOrder("ORDER999", "10"), nil)
		deps.credits.EXPECT().ApplyCapture(gomock.Any(), gomock.Any()).Return(int32(20), nil)
		deps.redisClient.EXPECT().Del(gomock.Any(), "user:1:credits").Return(errors.New("redis down"))
		deps.producer.EXPECT().Send(gomock.Any(), kafka.TopicPayments, "ORDER999", gomock.Any()).Return(nil)

		res, err := svc.CaptureOrder(ctx, "ORDER999", 1)
		svc.Wait()
		require.NoError(t, err)
		assert.Equal(t, int32(20), res.User.Credits)
	})

	t.Run("ledger failure", func(t *testing.T) {
		svc, deps := newPaymentTestService(t)
		expectCaptureLock(deps, "ORDER777")
		deps.provider.EXPECT().CaptureOrder(gomock.Any(), "ORDER777").Return(providerOrder("ORDER777", "10"), nil)
		deps.credits.EXPECT().ApplyCapture(gomock.Any(), gomock.Any()).Return(int32(0), errors.New("database error"))

		res, err := svc.CaptureOrder(ctx, "ORDER777", 1)
		assert.Nil(t, res)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to apply credits")
	})

	t.Run("blank order id", func(t *testing.T) {
		svc, _ := newPaymentTestService(t)

		res, err := svc.CaptureOrder(ctx, "  ", 1)
		assert.Nil(t, res)
		assert.ErrorIs(t, err, pkgerrors.ErrOrderIDRequired)
	})
}

func TestPaymentService_CreateOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("successful order", func(t *testing.T) {
		svc, deps := newPaymentTestService(t)
		order := &models.PayPalOrder{
			ID:    "ORDER123",
			Links: []models.Link{{Rel: "approve", Href: "https://paypal.test/approve?token=ORDER123"}},
		}
		deps.provider.EXPECT().CreateOrder(gomock.Any(), models.OrderRequest{Amount: 9.99, Credits: 30, PlanName: "Pro"}).Return(order, nil)
		deps.mappings.EXPECT().Create(gomock.Any(), &models.OrderMapping{OrderID: "ORDER123", UserID: 1, Credits: 30}).Return(nil)
		deps.producer.EXPECT().Send(gomock.Any(), kafka.TopicPayments, "ORDER123", eventType(kafka.EventOrderCreated)).Return(nil)

		created, err := svc.CreateOrder(ctx, 1, CreateOrderInput{Amount: 9.99, Credits: 30, PlanName: "Pro"})
		svc.Wait()
		require.NoError(t, err)
		assert.Equal(t, "ORDER123", created.OrderID)
		assert.Equal(t, "https://paypal.test/approve?token=ORDER123", created.ApproveURL)
	})

	t.Run("zero credits", func(t *testing.T) {
		svc, _ := newPaymentTestService(t)

		created, err := svc.CreateOrder(ctx, 1, CreateOrderInput{Amount: 9.99, Credits: 0})
		assert.Nil(t, created)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidAmount)
	})

	t.Run("missing amount", func(t *testing.T) {
		svc, _ := newPaymentTestService(t)

		created, err := svc.CreateOrder(ctx, 1, CreateOrderInput{Credits: 30})
		assert.Nil(t, created)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
	})

	t.Run("provider failure stores no mapping", func(t *testing.T) {
		svc, deps := newPaymentTestService(t)
		deps.provider.EXPECT().CreateOrder(gomock.Any(), gomock.Any()).Return(nil, pkgerrors.ErrProviderNotConfigured)

		created, err := svc.CreateOrder(ctx, 1, CreateOrderInput{Amount: 5, Credits: 10})
		assert.Nil(t, created)
		assert.ErrorIs(t, err, pkgerrors.ErrProviderNotConfigured)
	})

	t.Run("mapping failure is not fatal", func(t *testing.T) {
		svc, deps := newPaymentTestService(t)
		deps.provider.EXPECT().CreateOrder(gomock.Any(), gomock.Any()).Return(&models.PayPalOrder{ID: "ORDER5"}, nil)
		deps.mappings.EXPECT().Create(gomock.Any(), gomock.Any()).Return(errors.New("database error"))
		deps.producer.EXPECT().Send(gomock.Any(), kafka.TopicPayments, "ORDER5", gomock.Any()).Return(nil)

		created, err := svc.CreateOrder(ctx, 1, CreateOrderInput{Amount: 5, Credits: 10})
		svc.Wait()
		require.NoError(t, err)
		assert.Equal(t, "ORDER5", created.OrderID)
	})

	t.Run("anonymous order stores no mapping", func(t *testing.T) {
		svc, deps := newPaymentTestService(t)
		deps.provider.EXPECT().CreateOrder(gomock.Any(), gomock.Any()).Return(&models.PayPalOrder{ID: "ORDER6"}, nil)
		deps.producer.EXPECT().Send(gomock.Any(), kafka.TopicPayments, "ORDER6", gomock.Any()).Return(nil)

		created, err := svc.CreateOrder(ctx, 0, CreateOrderInput{Amount: 5, Credits: 10})
		svc.Wait()
		require.NoError(t, err)
		assert.Equal(t, "ORDER6", created.OrderID)
	})

	t.Run("event publishing retries", func(t *testing.T) {
		svc, deps := newPaymentTestService(t)
		deps.provider.EXPECT().CreateOrder(gomock.Any(), gomock.Any()).Return(&models.PayPalOrder{ID: "ORDER7"}, nil)
		deps.mappings.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
		gomock.InOrder(
			deps.producer.EXPECT().Send(gomock.Any(), kafka.TopicPayments, "ORDER7", gomock.Any()).Return(errors.New("broker down")),
			deps.producer.EXPECT().Send(gomock.Any(), kafka.TopicPayments, "ORDER7", gomock.Any()).Return(nil),
		)

		_, err := svc.CreateOrder(ctx, 1, CreateOrderInput{Amount: 5, Credits: 10})
		svc.Wait()
		require.NoError(t, err)
	})
}
