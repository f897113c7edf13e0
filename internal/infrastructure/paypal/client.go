package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/copduh/Interviewzwt/internal/config"
	"github.com/copduh/Interviewzwt/internal/infrastructure/observability"
	"github.com/copduh/Interviewzwt/internal/infrastructure/redis"
	"github.com/copduh/Interviewzwt/internal/models"
	pkgerrors "github.com/copduh/Interviewzwt/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

//go:generate mockgen -destination=mocks/mock_provider.go -package=mocks . PaymentProvider

// PaymentProvider opens and captures checkout orders.
type PaymentProvider interface {
	CreateOrder(ctx context.Context, req models.OrderRequest) (*models.PayPalOrder, error)
	CaptureOrder(ctx context.Context, orderID string) (*models.PayPalOrder, error)
}

// tokenSafetyMargin is subtracted from expires_in before caching a token.
const tokenSafetyMargin = 60 * time.Second

const maxErrorBody = 512

type Client struct {
	cfg        config.PayPalConfig
	httpClient *http.Client
	tokens     redis.RedisClient
}

// NewClient builds a PayPal REST client. tokens may be nil, in which case
// every call fetches a fresh access token.
func NewClient(cfg config.PayPalConfig, tokens redis.RedisClient) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		tokens:     tokens,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (c *Client) AccessToken(ctx context.Context) (string, error) {
	if !c.cfg.Configured() {
		return "", pkgerrors.ErrProviderNotConfigured
	}

	if c.tokens != nil {
		if cached, err := c.tokens.Get(ctx, redis.PayPalTokenKey); err == nil && cached != "" {
			return cached, nil
		}
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL()+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.do(req, "token")
	if err != nil {
		return "", err
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil || tok.AccessToken == "" {
		return "", fmt.Errorf("%w: invalid token response", pkgerrors.ErrProviderRejected)
	}

	if c.tokens != nil {
		ttl := time.Duration(tok.ExpiresIn)*time.Second - tokenSafetyMargin
		if ttl > 0 {
			if err := c.tokens.Set(ctx, redis.PayPalTokenKey, tok.AccessToken, ttl); err != nil {
				slog.Warn("failed to cache PayPal access token", "error", err)
			}
		}
	}
	return tok.AccessToken, nil
}

type createOrderBody struct {
	Intent             string                `json:"intent"`
	PurchaseUnits      []models.PurchaseUnit `json:"purchase_units"`
	ApplicationContext applicationContext    `json:"application_context"`
}

type applicationContext struct {
	ReturnURL string `json:"return_url"`
	CancelURL string `json:"cancel_url"`
}

func (c *Client) CreateOrder(ctx context.Context, req models.OrderRequest) (*models.PayPalOrder, error) {
	tracer := otel.Tracer("paypal-client")
	ctx, span := tracer.Start(ctx, "CreateOrder")
	defer span.End()
	span.SetAttributes(attribute.Int("credits", int(req.Credits)), attribute.String("plan", req.PlanName))

	payload := createOrderBody{
		Intent: "CAPTURE",
		PurchaseUnits: []models.PurchaseUnit{{
			Amount: &models.Amount{
				CurrencyCode: c.cfg.Currency,
				Value:        strconv.FormatFloat(req.Amount, 'f', 2, 64),
			},
			CustomID:    strconv.Itoa(int(req.Credits)),
			Description: fmt.Sprintf("Purchase %d interview credits (%s)", req.Credits, req.PlanName),
		}},
		ApplicationContext: applicationContext{
			ReturnURL: c.cfg.FrontendURL + "/payments/return",
			CancelURL: c.cfg.FrontendURL + "/pricing",
		},
	}

	order, err := c.orderCall(ctx, "create_order", "/v2/checkout/orders", payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create order failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("order_id", order.ID))
	return order, nil
}

func (c *Client) CaptureOrder(ctx context.Context, orderID string) (*models.PayPalOrder, error) {
	tracer := otel.Tracer("paypal-client")
	ctx, span := tracer.Start(ctx, "CaptureOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", orderID))

	path := "/v2/checkout/orders/" + url.PathEscape(orderID) + "/capture"
	order, err := c.orderCall(ctx, "capture_order", path, struct{}{})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "capture order failed")
		return nil, err
	}
	return order, nil
}

func (c *Client) orderCall(ctx context.Context, operation, path string, payload any) (*models.PayPalOrder, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", operation, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL()+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", operation, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req, operation)
	if err != nil {
		return nil, err
	}

	var order models.PayPalOrder
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, fmt.Errorf("%w: invalid %s response: %v", pkgerrors.ErrProviderRejected, operation, err)
	}
	order.Raw = body
	return &order, nil
}

func (c *Client) do(req *http.Request, operation string) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		observability.PayPalRequests.WithLabelValues(operation, "error").Inc()
		slog.Error("PayPal request failed", "operation", operation, "error", err)
		return nil, fmt.Errorf("%w: %s: %v", pkgerrors.ErrProviderUnavailable, operation, err)
	}
	defer resp.Body.Close()
	observability.PayPalRequests.WithLabelValues(operation, strconv.Itoa(resp.StatusCode)).Inc()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read body: %v", pkgerrors.ErrProviderUnavailable, operation, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := body
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		slog.Error("PayPal returned error status", "operation", operation, "status", resp.StatusCode, "body", string(snippet))
		return nil, statusError(operation, resp.StatusCode, body, snippet)
	}
	return body, nil
}

const issueOrderAlreadyCaptured = "ORDER_ALREADY_CAPTURED"

type apiError struct {
	Name    string `json:"name"`
	Details []struct {
		Issue string `json:"issue"`
	} `json:"details"`
}

// statusError classifies a non-2xx response. Auth failures, throttling and
// 5xx mean PayPal could not serve the call; any other 4xx is a final refusal.
func statusError(operation string, status int, body, snippet []byte) error {
	switch {
	case status == http.StatusUnauthorized,
		status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests,
		status >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s: status %d: %s", pkgerrors.ErrProviderUnavailable, operation, status, snippet)
	}

	var apiErr apiError
	if json.Unmarshal(body, &apiErr) == nil {
		for _, d := range apiErr.Details {
			if d.Issue == issueOrderAlreadyCaptured {
				return fmt.Errorf("%w: %w: %s: status %d: %s",
					pkgerrors.ErrProviderRejected, pkgerrors.ErrOrderAlreadyCaptured, operation, status, snippet)
			}
		}
	}
	return fmt.Errorf("%w: %s: status %d: %s", pkgerrors.ErrProviderRejected, operation, status, snippet)
}
