package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/copduh/Interviewzwt/internal/models"
	repositorymocks "github.com/copduh/Interviewzwt/internal/repository/mocks"
	pkgerrors "github.com/copduh/Interviewzwt/pkg/errors"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReporter_Run(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mappings := repositorymocks.NewMockOrderMappingRepository(ctrl)
	users := repositorymocks.NewMockUserRepository(ctrl)
	credits := repositorymocks.NewMockCreditRepository(ctrl)

	now := time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)
	var out bytes.Buffer
	r := reporter{out: &out, mappings: mappings, users: users, credits: credits, now: func() time.Time { return now }}

	t.Run("lists orphans and balance", func(t *testing.T) {
		out.Reset()
		mappings.EXPECT().ListOlderThan(gomock.Any(), now.Add(-24*time.Hour), 20).Return([]models.OrderMapping{
			{OrderID: "ORDER123", UserID: 1, Credits: 30, CreatedAt: now.Add(-48 * time.Hour)},
		}, nil)
		users.EXPECT().GetCredits(gomock.Any(), int64(1)).Return(int32(10), nil)

		err := r.run(context.Background(), options{olderThan: 24 * time.Hour, limit: 20, userID: 1})
		require.NoError(t, err)
		assert.Contains(t, out.String(), "Order mappings older than 24h0m0s: 1")
		assert.Contains(t, out.String(), "ORDER123")
		assert.Contains(t, out.String(), "User 1 credits: 10")
	})

	t.Run("order not credited", func(t *testing.T) {
		out.Reset()
		mappings.EXPECT().ListOlderThan(gomock.Any(), gomock.Any(), 5).Return(nil, nil)
		credits.EXPECT().GetByOrderID(gomock.Any(), "ORDER456").Return(nil, pkgerrors.ErrCreditNotFound)

		err := r.run(context.Background(), options{olderThan: time.Hour, limit: 5, orderID: "ORDER456"})
		require.NoError(t, err)
		assert.Contains(t, out.String(), "Order ORDER456 has not been credited")
	})

	t.Run("credited order", func(t *testing.T) {
		out.Reset()
		mappings.EXPECT().ListOlderThan(gomock.Any(), gomock.Any(), 5).Return(nil, nil)
		credits.EXPECT().GetByOrderID(gomock.Any(), "ORDER123").Return(&models.CreditTransaction{
			OrderID: "ORDER123", UserID: 1, Amount: 30, Source: models.SourceMapping, CreatedAt: now,
		}, nil)

		err := r.run(context.Background(), options{olderThan: time.Hour, limit: 5, orderID: "ORDER123"})
		require.NoError(t, err)
		assert.Contains(t, out.String(), "Order ORDER123 credited 30 to user 1 via mapping")
	})
}
