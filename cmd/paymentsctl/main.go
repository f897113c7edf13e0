// Command paymentsctl inspects payment state: order mappings that were never
// captured, a user's balance and the ledger entry of an order. It never
// modifies data.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/copduh/Interviewzwt/internal/config"
	"github.com/copduh/Interviewzwt/internal/infrastructure/observability"
	"github.com/copduh/Interviewzwt/internal/repository"
	core "github.com/copduh/Interviewzwt/internal/repository/postgres"
	pkgerrors "github.com/copduh/Interviewzwt/pkg/errors"
)

type options struct {
	olderThan time.Duration
	limit     int
	userID    int64
	orderID   string
}

func main() {
	var opts options
	flag.DurationVar(&opts.olderThan, "older-than", 24*time.Hour, "list order mappings created before now minus this age")
	flag.IntVar(&opts.limit, "limit", 20, "maximum number of mappings to list")
	flag.Int64Var(&opts.userID, "user", 0, "also print the credit balance of this user")
	flag.StringVar(&opts.orderID, "order", "", "also print the ledger entry of this order")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	observability.InitLogger(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := core.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		slog.Error("failed to connect to Postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	r := reporter{
		out:      os.Stdout,
		mappings: core.NewPostgresOrderMappingRepository(db),
		users:    core.NewPostgresUserRepository(db),
		credits:  core.NewPostgresCreditRepository(db),
		now:      time.Now,
	}
	if err := r.run(ctx, opts); err != nil {
		slog.Error("paymentsctl failed", "error", err)
		os.Exit(1)
	}
}

type reporter struct {
	out      io.Writer
	mappings repository.OrderMappingRepository
	users    repository.UserRepository
	credits  repository.CreditRepository
	now      func() time.Time
}

func (r reporter) run(ctx context.Context, opts options) error {
	cutoff := r.now().Add(-opts.olderThan)
	orphans, err := r.mappings.ListOlderThan(ctx, cutoff, opts.limit)
	if err != nil {
		return fmt.Errorf("list order mappings: %w", err)
	}

	fmt.Fprintf(r.out, "Order mappings older than %s: %d\n", opts.olderThan, len(orphans))
	if len(orphans) > 0 {
		tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ORDER ID\tUSER\tCREDITS\tCREATED")
		for _, m := range orphans {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", m.OrderID, m.UserID, m.Credits, m.CreatedAt.UTC().Format(time.RFC3339))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if opts.userID > 0 {
		credits, err := r.users.GetCredits(ctx, opts.userID)
		if err != nil {
			return fmt.Errorf("get credits of user %d: %w", opts.userID, err)
		}
		fmt.Fprintf(r.out, "User %d credits: %d\n", opts.userID, credits)
	}

	if opts.orderID != "" {
		tx, err := r.credits.GetByOrderID(ctx, opts.orderID)
		switch {
		case errors.Is(err, pkgerrors.ErrCreditNotFound):
			fmt.Fprintf(r.out, "Order %s has not been credited\n", opts.orderID)
		case err != nil:
			return fmt.Errorf("get ledger entry of order %s: %w", opts.orderID, err)
		default:
			fmt.Fprintf(r.out, "Order %s credited %d to user %d via %s at %s\n",
				tx.OrderID, tx.Amount, tx.UserID, tx.Source, tx.CreatedAt.UTC().Format(time.RFC3339))
		}
	}
	return nil
}
