package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/copduh/Interviewzwt/internal/models"
	pkgerrors "github.com/copduh/Interviewzwt/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

const userColumns = `id, email, full_name, password_hash, credits, created_at, updated_at`

type PostgresUserRepository struct {
	db *sql.DB
}

func NewPostgresUserRepository(db *sql.DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

func (r *PostgresUserRepository) Create(ctx context.Context, user *models.User) (err error) {
	ctx, span, done := instrument(ctx, "user-repository", "CreateUser")
	defer done(&err)

	if user == nil {
		err = pkgerrors.ErrNilUser
		slog.Error("failed to create user", "method", "Create", "error", err)
		return err
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if user.Email == "" {
		return fmt.Errorf("%w: email is required", pkgerrors.ErrInvalidInput)
	}
	if user.PasswordHash == "" {
		return fmt.Errorf("%w: password_hash is required", pkgerrors.ErrInvalidInput)
	}
	if user.Credits < 0 {
		return fmt.Errorf("%w: credits must not be negative", pkgerrors.ErrInvalidInput)
	}

	query := `INSERT INTO users (email, full_name, password_hash, credits) VALUES ($1, $2, $3, $4) RETURNING id, created_at, updated_at`
	err = r.db.QueryRowContext(ctx, query, user.Email, user.FullName, user.PasswordHash, user.Credits).
		Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			slog.Warn("email already exists", "method", "Create", "email", user.Email)
			return pkgerrors.ErrEmailExists
		}
		slog.Error("failed to create user", "method", "Create", "email", user.Email, "error", err)
		return fmt.Errorf("failed to create user: %w", err)
	}

	span.SetAttributes(attribute.Int64("user_id", user.ID))
	slog.Info("user created", "method", "Create", "user_id", user.ID)
	return nil
}

func (r *PostgresUserRepository) GetByID(ctx context.Context, id int64) (user *models.User, err error) {
	ctx, span, done := instrument(ctx, "user-repository", "GetUserByID")
	defer done(&err)
	span.SetAttributes(attribute.Int64("user_id", id))

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.scanOne(ctx, "GetByID", query, id)
}

func (r *PostgresUserRepository) GetByEmail(ctx context.Context, email string) (user *models.User, err error) {
	ctx, _, done := instrument(ctx, "user-repository", "GetUserByEmail")
	defer done(&err)

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, fmt.Errorf("%w: email cannot be empty", pkgerrors.ErrInvalidInput)
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return r.scanOne(ctx, "GetByEmail", query, email)
}

func (r *PostgresUserRepository) scanOne(ctx context.Context, method, query string, arg any) (*models.User, error) {
	var user models.User
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.Email,
		&user.FullName,
		&user.PasswordHash,
		&user.Credits,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	switch {
	case stderrors.Is(err, sql.ErrNoRows):
		return nil, pkgerrors.ErrUserNotFound
	case err != nil:
		slog.Error("failed to get user", "method", method, "error", err)
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

func (r *PostgresUserRepository) GetCredits(ctx context.Context, userID int64) (credits int32, err error) {
	ctx, span, done := instrument(ctx, "user-repository", "GetCredits")
	defer done(&err)
	span.SetAttributes(attribute.Int64("user_id", userID))

	query := `SELECT credits FROM users WHERE id = $1`
	err = r.db.QueryRowContext(ctx, query, userID).Scan(&credits)
	if stderrors.Is(err, sql.ErrNoRows) {
		return 0, pkgerrors.ErrUserNotFound
	}
	if err != nil {
		slog.Error("failed to get credits", "method", "GetCredits", "user_id", userID, "error", err)
		return 0, fmt.Errorf("failed to get credits: %w", err)
	}
	return credits, nil
}

const consumeCreditsQuery = `UPDATE users SET credits = credits - $1, updated_at = now() WHERE id = $2 AND credits >= $1 RETURNING credits`

// ConsumeCredits spends amount credits in one guarded statement, so the
// balance never goes negative even under concurrent sessions.
func (r *PostgresUserRepository) ConsumeCredits(ctx context.Context, userID int64, amount int32) (balance int32, err error) {
	ctx, span, done := instrument(ctx, "user-repository", "ConsumeCredits")
	defer done(&err)
	span.SetAttributes(attribute.Int64("user_id", userID), attribute.Int("amount", int(amount)))

	if amount <= 0 {
		return 0, pkgerrors.ErrInvalidCredits
	}

	err = r.db.QueryRowContext(ctx, consumeCreditsQuery, amount, userID).Scan(&balance)
	if stderrors.Is(err, sql.ErrNoRows) {
		// either the user is gone or the balance is too low
		current, lookupErr := r.GetCredits(ctx, userID)
		if lookupErr != nil {
			return 0, lookupErr
		}
		slog.Warn("insufficient credits", "method", "ConsumeCredits", "user_id", userID, "amount", amount, "balance", current)
		return current, pkgerrors.ErrInsufficientCredits
	}
	if err != nil {
		slog.Error("failed to consume credits", "method", "ConsumeCredits", "user_id", userID, "error", err)
		return 0, fmt.Errorf("failed to consume credits: %w", err)
	}
	slog.Info("credits consumed", "method", "ConsumeCredits", "user_id", userID, "amount", amount, "balance", balance)
	return balance, nil
}

// incrementCredits is the only way a balance grows. ApplyCapture runs it
// inside the ledger transaction.
func incrementCredits(ctx context.Context, q queryRower, userID int64, delta int32) (int32, error) {
	var balance int32
	err := q.QueryRowContext(ctx, incrementCreditsQuery, delta, userID).Scan(&balance)
	if stderrors.Is(err, sql.ErrNoRows) {
		return 0, pkgerrors.ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment credits: %w", err)
	}
	return balance, nil
}
