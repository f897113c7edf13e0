package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/copduh/Interviewzwt/internal/infrastructure/auth"
	"github.com/copduh/Interviewzwt/internal/infrastructure/kafka"
	"github.com/copduh/Interviewzwt/internal/infrastructure/redis"
	"github.com/copduh/Interviewzwt/internal/models"
	"github.com/copduh/Interviewzwt/internal/repository"
	pkgerrors "github.com/copduh/Interviewzwt/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/crypto/bcrypt"
)

//go:generate mockgen -destination=mocks/mock_service.go -package=mocks . AccountService,PaymentService

const historyLimit = 50

// consumeDefault is spent when a caller does not say how many credits a session costs.
const consumeDefault int32 = 1

// AuthResult is returned by Register and Login.
type AuthResult struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

type AccountService interface {
	Register(ctx context.Context, email, password, fullName string) (*AuthResult, error)
	Login(ctx context.Context, email, password string) (*AuthResult, error)
	Profile(ctx context.Context, userID int64) (*models.User, error)
	GetCredits(ctx context.Context, userID int64) (int32, error)
	CreditHistory(ctx context.Context, userID int64) ([]models.CreditTransaction, error)
	ConsumeCredits(ctx context.Context, userID int64, amount int32) (*models.UserCredits, error)
}

type accountService struct {
	userRepo      repository.UserRepository
	creditRepo    repository.CreditRepository
	redisClient   redis.RedisClient
	tokens        *auth.TokenIssuer
	signupCredits int32
	events        *eventPublisher
}

func NewAccountService(
	userRepo repository.UserRepository,
	creditRepo repository.CreditRepository,
	redisClient redis.RedisClient,
	tokens *auth.TokenIssuer,
	signupCredits int32,
	producer kafka.KafkaProducer,
) *accountService {
	return &accountService{
		userRepo:      userRepo,
		creditRepo:    creditRepo,
		redisClient:   redisClient,
		tokens:        tokens,
		signupCredits: signupCredits,
		events:        newEventPublisher(producer),
	}
}

// Wait blocks until pending credit events are delivered or dropped.
func (s *accountService) Wait() {
	s.events.wait()
}

func (s *accountService) Register(ctx context.Context, email, password, fullName string) (*AuthResult, error) {
	ctx, span := otel.Tracer("account-service").Start(ctx, "Register")
	defer span.End()

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		span.SetStatus(codes.Error, "empty email or password")
		return nil, fmt.Errorf("%w: email and password are required", pkgerrors.ErrInvalidInput)
	}

	existing, err := s.userRepo.GetByEmail(ctx, email)
	if existing != nil {
		span.SetStatus(codes.Error, "email already exists")
		slog.Warn("email already exists", "email", email, "existing_id", existing.ID)
		return nil, pkgerrors.ErrEmailExists
	}
	if err != nil && !stderrors.Is(err, pkgerrors.ErrUserNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "user check failed")
		slog.Error("failed to check user existence", "email", email, "error", err)
		return nil, fmt.Errorf("%w: failed to check user existence", pkgerrors.ErrInternal)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "password hashing failed")
		slog.Error("failed to hash password", "email", email, "error", err)
		return nil, fmt.Errorf("%w: failed to hash password", pkgerrors.ErrInternal)
	}

	user := &models.User{
		Email:        email,
		FullName:     strings.TrimSpace(fullName),
		PasswordHash: string(hash),
		Credits:      s.signupCredits,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "user creation failed")
		if stderrors.Is(err, pkgerrors.ErrEmailExists) {
			return nil, err
		}
		slog.Error("failed to create user in DB", "email", email, "error", err)
		return nil, fmt.Errorf("%w: failed to create user", pkgerrors.ErrInternal)
	}

	token, err := s.issueToken(ctx, user.ID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Int64("user_id", user.ID))
	slog.Info("user registered successfully", "user_id", user.ID, "email", email)
	return &AuthResult{Token: token, User: user}, nil
}

func (s *accountService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	ctx, span := otel.Tracer("account-service").Start(ctx, "Login")
	defer span.End()

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if stderrors.Is(err, pkgerrors.ErrUserNotFound) || stderrors.Is(err, pkgerrors.ErrInvalidInput) {
			slog.Warn("login for unknown email", "email", email)
			return nil, pkgerrors.ErrInvalidCredentials
		}
		span.RecordError(err)
		slog.Error("failed to login", "email", email, "error", err)
		return nil, fmt.Errorf("%w: failed to load user", pkgerrors.ErrInternal)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		slog.Warn("invalid password", "user_id", user.ID)
		return nil, pkgerrors.ErrInvalidCredentials
	}

	token, err := s.issueToken(ctx, user.ID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	slog.Info("user logged in", "user_id", user.ID)
	return &AuthResult{Token: token, User: user}, nil
}

// issueToken signs a JWT and stores it as the user's live session.
func (s *accountService) issueToken(ctx context.Context, userID int64) (string, error) {
	token, err := s.tokens.GenerateJWT(userID)
	if err != nil {
		slog.Error("failed to generate JWT", "user_id", userID, "error", err)
		return "", fmt.Errorf("%w: failed to generate token", pkgerrors.ErrInternal)
	}
	if err := s.redisClient.Set(ctx, redis.TokenKey(userID), token, s.tokens.TTL()); err != nil {
		slog.Error("failed to cache JWT", "user_id", userID, "error", err)
	}
	return token, nil
}

func (s *accountService) Profile(ctx context.Context, userID int64) (*models.User, error) {
	ctx, span := otel.Tracer("account-service").Start(ctx, "Profile")
	defer span.End()

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to load profile", "user_id", userID, "error", err)
		return nil, err
	}
	return user, nil
}

func (s *accountService) GetCredits(ctx context.Context, userID int64) (int32, error) {
	ctx, span := otel.Tracer("account-service").Start(ctx, "GetCredits")
	defer span.End()

	cacheKey := redis.CreditsKey(userID)
	if cached, err := s.redisClient.Get(ctx, cacheKey); err == nil {
		credits, convErr := strconv.ParseInt(cached, 10, 32)
		if convErr == nil {
			slog.Debug("credits fetched from Redis", "user_id", userID, "credits", credits)
			return int32(credits), nil
		}
		slog.Error("failed to parse cached credits", "user_id", userID, "value", cached, "error", convErr)
	} else if !stderrors.Is(err, redis.ErrKeyNotFound) {
		slog.Warn("credits cache unavailable", "user_id", userID, "error", err)
	}

	credits, err := s.userRepo.GetCredits(ctx, userID)
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to get credits from Postgres", "user_id", userID, "error", err)
		return 0, fmt.Errorf("failed to get credits: %w", err)
	}

	if err := s.redisClient.Set(ctx, cacheKey, credits, redis.CreditsCacheTTL); err != nil {
		slog.Error("failed to cache credits", "user_id", userID, "error", err)
	}
	return credits, nil
}

func (s *accountService) CreditHistory(ctx context.Context, userID int64) ([]models.CreditTransaction, error) {
	ctx, span := otel.Tracer("account-service").Start(ctx, "CreditHistory")
	defer span.End()

	history, err := s.creditRepo.History(ctx, userID, historyLimit)
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to get credit history", "user_id", userID, "error", err)
		return nil, err
	}

	slog.Info("credit history retrieved", "user_id", userID, "count", len(history))
	return history, nil
}

// ConsumeCredits spends credits for an interview session. amount 0 means
// the default session cost.
func (s *accountService) ConsumeCredits(ctx context.Context, userID int64, amount int32) (*models.UserCredits, error) {
	ctx, span := otel.Tracer("account-service").Start(ctx, "ConsumeCredits")
	defer span.End()

	if amount == 0 {
		amount = consumeDefault
	}
	span.SetAttributes(attribute.Int64("user_id", userID), attribute.Int("amount", int(amount)))
	if amount < 0 {
		span.SetStatus(codes.Error, "negative amount")
		return nil, fmt.Errorf("%w: %w", pkgerrors.ErrInvalidInput, pkgerrors.ErrInvalidCredits)
	}

	balance, err := s.userRepo.ConsumeCredits(ctx, userID, amount)
	if stderrors.Is(err, pkgerrors.ErrInsufficientCredits) {
		span.SetStatus(codes.Error, "insufficient credits")
		return &models.UserCredits{ID: userID, Credits: balance}, err
	}
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to consume credits", "user_id", userID, "amount", amount, "error", err)
		return nil, err
	}

	if err := s.redisClient.Del(ctx, redis.CreditsKey(userID)); err != nil {
		slog.Error("failed to invalidate credits cache", "user_id", userID, "error", err)
	}
	s.events.publish(kafka.PaymentEvent{
		EventType: kafka.EventCreditsConsumed,
		UserID:    userID,
		Credits:   amount,
		Balance:   balance,
	})

	slog.Info("credits consumed", "user_id", userID, "amount", amount, "balance", balance)
	return &models.UserCredits{ID: userID, Credits: balance}, nil
}
