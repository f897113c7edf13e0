package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/copduh/Interviewzwt/internal/models"
	pkgerrors "github.com/copduh/Interviewzwt/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

const (
	claimMappingQuery     = `DELETE FROM payment_orders WHERE order_id = $1 RETURNING user_id, credits`
	insertLedgerQuery     = `INSERT INTO credit_transactions (user_id, order_id, amount, source, status) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (order_id) DO NOTHING RETURNING id`
	incrementCreditsQuery = `UPDATE users SET credits = credits + $1, updated_at = now() WHERE id = $2 RETURNING credits`
)

type PostgresCreditRepository struct {
	db *sql.DB
}

func NewPostgresCreditRepository(db *sql.DB) *PostgresCreditRepository {
	return &PostgresCreditRepository{db: db}
}

func validateGrant(grant models.CreditGrant) error {
	if grant.OrderID == "" {
		return pkgerrors.ErrOrderIDRequired
	}
	if grant.UserID <= 0 {
		return fmt.Errorf("%w: user_id is required", pkgerrors.ErrInvalidInput)
	}
	if grant.Credits <= 0 {
		return pkgerrors.ErrInvalidCredits
	}
	if grant.Source != models.SourceProvider && grant.Source != models.SourceMapping {
		return fmt.Errorf("%w: unknown credit source %q", pkgerrors.ErrInvalidInput, grant.Source)
	}
	return nil
}

func (r *PostgresCreditRepository) ApplyCapture(ctx context.Context, grant models.CreditGrant) (balance int32, err error) {
	ctx, span, done := instrument(ctx, "credit-repository", "ApplyCapture")
	defer done(&err)

	if err = validateGrant(grant); err != nil {
		slog.Error("invalid credit grant", "method", "ApplyCapture", "order_id", grant.OrderID, "error", err)
		return 0, err
	}
	span.SetAttributes(
		attribute.String("order_id", grant.OrderID),
		attribute.Int64("user_id", grant.UserID),
		attribute.Int("credits", int(grant.Credits)),
		attribute.String("source", string(grant.Source)),
	)

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "ApplyCapture", "error", err)
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Claim the mapping. Whoever deletes the row owns the credit for it.
	var mappedUserID int64
	var mappedCredits int32
	err = dbTx.QueryRowContext(ctx, claimMappingQuery, grant.OrderID).Scan(&mappedUserID, &mappedCredits)
	switch {
	case stderrors.Is(err, sql.ErrNoRows):
		if grant.RequireMapping {
			slog.Warn("order mapping already claimed", "method", "ApplyCapture", "order_id", grant.OrderID)
			return 0, rollback(dbTx, "ApplyCapture", pkgerrors.ErrOrderAlreadyCredited)
		}
	case err != nil:
		slog.Error("failed to claim order mapping", "method", "ApplyCapture", "order_id", grant.OrderID, "error", err)
		return 0, rollback(dbTx, "ApplyCapture", fmt.Errorf("failed to claim order mapping: %w", err))
	default:
		slog.Info("order mapping claimed", "method", "ApplyCapture", "order_id", grant.OrderID, "mapped_user_id", mappedUserID, "mapped_credits", mappedCredits)
	}

	var ledgerID int64
	err = dbTx.QueryRowContext(ctx, insertLedgerQuery, grant.UserID, grant.OrderID, grant.Credits, string(grant.Source), string(models.StatusCompleted)).Scan(&ledgerID)
	if stderrors.Is(err, sql.ErrNoRows) {
		slog.Warn("order already credited", "method", "ApplyCapture", "order_id", grant.OrderID)
		return 0, rollback(dbTx, "ApplyCapture", pkgerrors.ErrOrderAlreadyCredited)
	}
	if isForeignKeyViolation(err) {
		slog.Error("user not found while crediting", "method", "ApplyCapture", "user_id", grant.UserID, "order_id", grant.OrderID)
		return 0, rollback(dbTx, "ApplyCapture", pkgerrors.ErrUserNotFound)
	}
	if err != nil {
		slog.Error("failed to record credit transaction", "method", "ApplyCapture", "order_id", grant.OrderID, "error", err)
		return 0, rollback(dbTx, "ApplyCapture", fmt.Errorf("failed to record credit transaction: %w", err))
	}

	balance, err = incrementCredits(ctx, dbTx, grant.UserID, grant.Credits)
	if err != nil {
		slog.Error("failed to increment credits", "method", "ApplyCapture", "user_id", grant.UserID, "order_id", grant.OrderID, "error", err)
		return 0, rollback(dbTx, "ApplyCapture", err)
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", "ApplyCapture", "error", err)
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	slog.Info("credits applied", "method", "ApplyCapture", "ledger_id", ledgerID, "order_id", grant.OrderID, "user_id", grant.UserID, "credits", grant.Credits, "source", grant.Source, "balance", balance)
	return balance, nil
}

func (r *PostgresCreditRepository) GetByOrderID(ctx context.Context, orderID string) (tx *models.CreditTransaction, err error) {
	ctx, span, done := instrument(ctx, "credit-repository", "GetCreditByOrderID")
	defer done(&err)
	span.SetAttributes(attribute.String("order_id", orderID))

	var t models.CreditTransaction
	query := `SELECT id, user_id, order_id, amount, source, status, created_at FROM credit_transactions WHERE order_id = $1`
	err = r.db.QueryRowContext(ctx, query, orderID).
		Scan(&t.ID, &t.UserID, &t.OrderID, &t.Amount, &t.Source, &t.Status, &t.CreatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrCreditNotFound
	}
	if err != nil {
		slog.Error("failed to get credit transaction", "method", "GetByOrderID", "order_id", orderID, "error", err)
		return nil, fmt.Errorf("failed to get credit transaction: %w", err)
	}
	return &t, nil
}

func (r *PostgresCreditRepository) History(ctx context.Context, userID int64, limit int) (history []models.CreditTransaction, err error) {
	ctx, span, done := instrument(ctx, "credit-repository", "CreditHistory")
	defer done(&err)
	span.SetAttributes(attribute.Int64("user_id", userID))

	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, user_id, order_id, amount, source, status, created_at FROM credit_transactions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		slog.Error("failed to get credit history", "method", "History", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to get credit history: %w", err)
	}
	defer rows.Close()

	history = make([]models.CreditTransaction, 0)
	for rows.Next() {
		var tx models.CreditTransaction
		if err = rows.Scan(&tx.ID, &tx.UserID, &tx.OrderID, &tx.Amount, &tx.Source, &tx.Status, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan credit transaction: %w", err)
		}
		history = append(history, tx)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get credit history: %w", err)
	}

	slog.Info("credit history retrieved", "method", "History", "user_id", userID, "count", len(history))
	return history, nil
}
