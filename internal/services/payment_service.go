package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/copduh/Interviewzwt/internal/infrastructure/kafka"
	"github.com/copduh/Interviewzwt/internal/infrastructure/observability"
	"github.com/copduh/Interviewzwt/internal/infrastructure/paypal"
	"github.com/copduh/Interviewzwt/internal/infrastructure/redis"
	"github.com/copduh/Interviewzwt/internal/models"
	"github.com/copduh/Interviewzwt/internal/repository"
	pkgerrors "github.com/copduh/Interviewzwt/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const captureLockTTL = 10 * time.Second

// Capture outcomes reported in payment_captures_total.
const (
	outcomeCredited        = "credited"
	outcomeAlreadyCredited = "already_credited"
	outcomeUncredited      = "uncredited"
	outcomeFailed          = "failed"
)

type CreateOrderInput struct {
	Amount   float64 `json:"amount"`
	Credits  int32   `json:"credits"`
	PlanName string  `json:"planName"`
}

type PaymentService interface {
	CreateOrder(ctx context.Context, userID int64, input CreateOrderInput) (*models.CreatedOrder, error)
	// CaptureOrder finalizes the order and credits the buyer at most once.
	// requesterID is 0 for anonymous callers.
	CaptureOrder(ctx context.Context, orderID string, requesterID int64) (*models.CaptureResult, error)
}

type paymentService struct {
	provider    paypal.PaymentProvider
	mappings    repository.OrderMappingRepository
	credits     repository.CreditRepository
	redisClient redis.RedisClient
	events      *eventPublisher
}

func NewPaymentService(
	provider paypal.PaymentProvider,
	mappings repository.OrderMappingRepository,
	credits repository.CreditRepository,
	redisClient redis.RedisClient,
	producer kafka.KafkaProducer,
) *paymentService {
	return &paymentService{
		provider:    provider,
		mappings:    mappings,
		credits:     credits,
		redisClient: redisClient,
		events:      newEventPublisher(producer),
	}
}

// Wait blocks until background event publishing has finished.
func (s *paymentService) Wait() {
	s.events.wait()
}

func (s *paymentService) CreateOrder(ctx context.Context, userID int64, input CreateOrderInput) (*models.CreatedOrder, error) {
	ctx, span := otel.Tracer("payment-service").Start(ctx, "CreateOrder")
	defer span.End()

	if input.Amount <= 0 || input.Credits <= 0 {
		span.SetStatus(codes.Error, "missing amount or credits")
		slog.Warn("invalid create order input", "user_id", userID, "amount", input.Amount, "credits", input.Credits)
		return nil, fmt.Errorf("%w: %w", pkgerrors.ErrInvalidInput, pkgerrors.ErrInvalidAmount)
	}
	span.SetAttributes(attribute.Int64("user_id", userID), attribute.Int("credits", int(input.Credits)))

	order, err := s.provider.CreateOrder(ctx, models.OrderRequest{
		Amount:   input.Amount,
		Credits:  input.Credits,
		PlanName: input.PlanName,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider create order failed")
		slog.Error("failed to create PayPal order", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to create PayPal order: %w", err)
	}
	if order.ID == "" {
		span.SetStatus(codes.Error, "empty order id")
		return nil, fmt.Errorf("%w: order without id", pkgerrors.ErrProviderRejected)
	}
	span.SetAttributes(attribute.String("order_id", order.ID))

	// The mapping only helps a later capture that lost its session, so a
	// failed write must not fail the purchase.
	if userID > 0 {
		mapping := &models.OrderMapping{OrderID: order.ID, UserID: userID, Credits: input.Credits}
		if err := s.mappings.Create(ctx, mapping); err != nil {
			span.RecordError(err)
			slog.Error("failed to persist order mapping", "order_id", order.ID, "user_id", userID, "error", err)
		}
	}

	s.events.publish(kafka.PaymentEvent{
		EventType: kafka.EventOrderCreated,
		OrderID:   order.ID,
		UserID:    userID,
		Credits:   input.Credits,
		PlanName:  input.PlanName,
	})

	slog.Info("PayPal order created", "order_id", order.ID, "user_id", userID, "credits", input.Credits, "plan", input.PlanName)
	return &models.CreatedOrder{OrderID: order.ID, ApproveURL: order.ApproveURL()}, nil
}

func (s *paymentService) CaptureOrder(ctx context.Context, orderID string, requesterID int64) (*models.CaptureResult, error) {
	ctx, span := otel.Tracer("payment-service").Start(ctx, "CaptureOrder")
	defer span.End()

	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		span.SetStatus(codes.Error, "order id required")
		return nil, pkgerrors.ErrOrderIDRequired
	}
	span.SetAttributes(attribute.String("order_id", orderID), attribute.Int64("requester_id", requesterID))

	release, err := s.lockCapture(ctx, orderID)
	if err != nil {
		span.SetStatus(codes.Error, "capture in progress")
		return nil, err
	}
	defer release()

	var mapping *models.OrderMapping
	source := models.SourceProvider
	order, providerErr := s.provider.CaptureOrder(ctx, orderID)
	if providerErr != nil {
		span.RecordError(providerErr)
		if !pkgerrors.IsRecoverableProviderError(providerErr) {
			observability.PaymentCaptures.WithLabelValues(string(source), outcomeFailed).Inc()
			span.SetStatus(codes.Error, "capture rejected")
			slog.Error("provider refused capture", "order_id", orderID, "error", providerErr)
			return nil, fmt.Errorf("capture %s: %w", orderID, providerErr)
		}
		slog.Warn("provider capture failed, falling back to order mapping", "order_id", orderID, "error", providerErr)

		mapping, err = s.mappings.GetByOrderID(ctx, orderID)
		if err != nil {
			observability.PaymentCaptures.WithLabelValues("none", outcomeFailed).Inc()
			span.SetStatus(codes.Error, "capture failed")
			if stderrors.Is(err, pkgerrors.ErrOrderMappingNotFound) {
				slog.Error("capture failed and no order mapping exists", "order_id", orderID, "error", providerErr)
				return nil, fmt.Errorf("%w: capture %s: %w", pkgerrors.ErrProviderUnavailable, orderID, providerErr)
			}
			slog.Error("failed to look up order mapping", "order_id", orderID, "error", err)
			return nil, fmt.Errorf("failed to look up order mapping: %w", stderrors.Join(providerErr, err))
		}
		order = &models.PayPalOrder{ID: orderID}
		source = models.SourceMapping
	}

	credits := order.Credits()
	if source == models.SourceMapping {
		credits = mapping.Credits
	}

	userID := s.resolveUser(ctx, span, orderID, requesterID, credits, mapping)
	result := &models.CaptureResult{Captured: true, Order: order}
	if userID == 0 || credits <= 0 {
		observability.PaymentCaptures.WithLabelValues(string(source), outcomeUncredited).Inc()
		slog.Warn("order captured without crediting", "order_id", orderID, "credits", credits, "requester_id", requesterID)
		return result, nil
	}

	balance, err := s.credits.ApplyCapture(ctx, models.CreditGrant{
		OrderID:        orderID,
		UserID:         userID,
		Credits:        credits,
		Source:         source,
		RequireMapping: source == models.SourceMapping,
	})
	if stderrors.Is(err, pkgerrors.ErrOrderAlreadyCredited) {
		observability.PaymentCaptures.WithLabelValues(string(source), outcomeAlreadyCredited).Inc()
		slog.Warn("order already credited, skipping increment", "order_id", orderID, "user_id", userID)
		if delErr := s.mappings.DeleteByOrderID(ctx, orderID); delErr != nil {
			slog.Error("failed to delete stale order mapping", "order_id", orderID, "error", delErr)
		}
		return result, nil
	}
	if err != nil {
		observability.PaymentCaptures.WithLabelValues(string(source), outcomeFailed).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "apply credits failed")
		slog.Error("failed to apply credits", "order_id", orderID, "user_id", userID, "credits", credits, "error", err)
		return nil, fmt.Errorf("failed to apply credits: %w", err)
	}

	if s.redisClient != nil {
		if err := s.redisClient.Del(ctx, redis.CreditsKey(userID)); err != nil {
			slog.Error("failed to invalidate credits cache", "user_id", userID, "error", err)
		}
	}
	s.events.publish(kafka.PaymentEvent{
		EventType: kafka.EventCreditsGranted,
		OrderID:   orderID,
		UserID:    userID,
		Credits:   credits,
		Balance:   balance,
		Source:    string(source),
	})
	observability.PaymentCaptures.WithLabelValues(string(source), outcomeCredited).Inc()

	slog.Info("order captured and credited", "order_id", orderID, "user_id", userID, "credits", credits, "source", source, "balance", balance)
	result.User = &models.UserCredits{ID: userID, Credits: balance}
	return result, nil
}

// resolveUser picks who receives the credits: the authenticated requester
// when there is something to credit, otherwise the owner of the mapping.
func (s *paymentService) resolveUser(ctx context.Context, span trace.Span, orderID string, requesterID int64, credits int32, mapping *models.OrderMapping) int64 {
	if requesterID > 0 && credits > 0 {
		return requesterID
	}
	if mapping == nil {
		var err error
		mapping, err = s.mappings.GetByOrderID(ctx, orderID)
		if err != nil {
			if !stderrors.Is(err, pkgerrors.ErrOrderMappingNotFound) {
				span.RecordError(err)
				slog.Error("failed to look up order owner", "order_id", orderID, "error", err)
			}
			return 0
		}
	}
	return mapping.UserID
}

// lockCapture serializes captures of one order. Redis being unavailable
// does not block captures since the ledger claim stays authoritative.
func (s *paymentService) lockCapture(ctx context.Context, orderID string) (func(), error) {
	noop := func() {}
	if s.redisClient == nil {
		return noop, nil
	}

	lockKey := redis.CaptureLockKey(orderID)
	ok, err := s.redisClient.SetNX(ctx, lockKey, "locked", captureLockTTL)
	if err != nil {
		slog.Warn("failed to acquire capture lock, continuing", "order_id", orderID, "error", err)
		return noop, nil
	}
	if !ok {
		slog.Warn("capture already in progress", "order_id", orderID)
		return nil, pkgerrors.ErrCaptureInProgress
	}
	return func() {
		if err := s.redisClient.Del(context.WithoutCancel(ctx), lockKey); err != nil {
			slog.Error("failed to release capture lock", "order_id", orderID, "error", err)
		}
	}, nil
}
