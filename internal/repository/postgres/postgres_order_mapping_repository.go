package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/copduh/Interviewzwt/internal/models"
	pkgerrors "github.com/copduh/Interviewzwt/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

type PostgresOrderMappingRepository struct {
	db *sql.DB
}

func NewPostgresOrderMappingRepository(db *sql.DB) *PostgresOrderMappingRepository {
	return &PostgresOrderMappingRepository{db: db}
}

// Create stores the mapping. A second mapping for the same order id is
// ignored so at most one stays live.
func (r *PostgresOrderMappingRepository) Create(ctx context.Context, mapping *models.OrderMapping) (err error) {
	ctx, span, done := instrument(ctx, "order-mapping-repository", "CreateOrderMapping")
	defer done(&err)

	if mapping == nil {
		return pkgerrors.ErrNilOrderMapping
	}
	if mapping.OrderID == "" || mapping.UserID <= 0 {
		return fmt.Errorf("%w: order_id and user_id are required", pkgerrors.ErrInvalidInput)
	}
	if mapping.Credits <= 0 {
		return pkgerrors.ErrInvalidCredits
	}
	span.SetAttributes(
		attribute.String("order_id", mapping.OrderID),
		attribute.Int64("user_id", mapping.UserID),
		attribute.Int("credits", int(mapping.Credits)),
	)

	query := `INSERT INTO payment_orders (order_id, user_id, credits) VALUES ($1, $2, $3) ON CONFLICT (order_id) DO NOTHING RETURNING created_at`
	err = r.db.QueryRowContext(ctx, query, mapping.OrderID, mapping.UserID, mapping.Credits).Scan(&mapping.CreatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		slog.Warn("order mapping already exists", "method", "Create", "order_id", mapping.OrderID)
		return nil
	}
	if err != nil {
		slog.Error("failed to create order mapping", "method", "Create", "order_id", mapping.OrderID, "error", err)
		return fmt.Errorf("failed to create order mapping: %w", err)
	}

	slog.Info("order mapping created", "method", "Create", "order_id", mapping.OrderID, "user_id", mapping.UserID, "credits", mapping.Credits)
	return nil
}

func (r *PostgresOrderMappingRepository) GetByOrderID(ctx context.Context, orderID string) (mapping *models.OrderMapping, err error) {
	ctx, span, done := instrument(ctx, "order-mapping-repository", "GetOrderMapping")
	defer done(&err)
	span.SetAttributes(attribute.String("order_id", orderID))

	var m models.OrderMapping
	query := `SELECT order_id, user_id, credits, created_at FROM payment_orders WHERE order_id = $1`
	err = r.db.QueryRowContext(ctx, query, orderID).Scan(&m.OrderID, &m.UserID, &m.Credits, &m.CreatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrOrderMappingNotFound
	}
	if err != nil {
		slog.Error("failed to get order mapping", "method", "GetByOrderID", "order_id", orderID, "error", err)
		return nil, fmt.Errorf("failed to get order mapping: %w", err)
	}
	return &m, nil
}

func (r *PostgresOrderMappingRepository) DeleteByOrderID(ctx context.Context, orderID string) (err error) {
	ctx, span, done := instrument(ctx, "order-mapping-repository", "DeleteOrderMapping")
	defer done(&err)
	span.SetAttributes(attribute.String("order_id", orderID))

	res, err := r.db.ExecContext(ctx, `DELETE FROM payment_orders WHERE order_id = $1`, orderID)
	if err != nil {
		slog.Error("failed to delete order mapping", "method", "DeleteByOrderID", "order_id", orderID, "error", err)
		return fmt.Errorf("failed to delete order mapping: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Info("order mapping deleted", "method", "DeleteByOrderID", "order_id", orderID)
	}
	return nil
}

// ListOlderThan returns mappings created before cutoff, oldest first.
func (r *PostgresOrderMappingRepository) ListOlderThan(ctx context.Context, cutoff time.Time, limit int) (mappings []models.OrderMapping, err error) {
	ctx, _, done := instrument(ctx, "order-mapping-repository", "ListOrderMappings")
	defer done(&err)

	if limit <= 0 {
		limit = 20
	}
	query := `SELECT order_id, user_id, credits, created_at FROM payment_orders WHERE created_at < $1 ORDER BY created_at LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list order mappings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m models.OrderMapping
		if err = rows.Scan(&m.OrderID, &m.UserID, &m.Credits, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order mapping: %w", err)
		}
		mappings = append(mappings, m)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list order mappings: %w", err)
	}
	return mappings, nil
}
