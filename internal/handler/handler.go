package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/copduh/Interviewzwt/internal/infrastructure/auth"
	"github.com/copduh/Interviewzwt/internal/infrastructure/observability"
	service "github.com/copduh/Interviewzwt/internal/services"
	pkgerrors "github.com/copduh/Interviewzwt/pkg/errors"
	"github.com/gorilla/mux"
)

type Handler struct {
	accounts service.AccountService
	payments service.PaymentService
}

func NewHandler(accounts service.AccountService, payments service.PaymentService) *Handler {
	return &Handler{accounts: accounts, payments: payments}
}

type errorResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Message: message})
}

func (h *Handler) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/auth/register", h.Register).Methods("POST")
	r.HandleFunc("/auth/login", h.Login).Methods("POST")
}

func (h *Handler) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/auth/me", h.Me).Methods("GET")
	r.HandleFunc("/profile/me", h.Me).Methods("GET")
	r.HandleFunc("/profile/credits/history", h.CreditHistory).Methods("GET")
	r.HandleFunc("/profile/credits", h.ConsumeCredits).Methods("PATCH")
	r.HandleFunc("/payments/create-order", h.CreateOrder).Methods("POST")
}

// RegisterOptionalAuthRoutes holds routes that also serve anonymous callers.
func (h *Handler) RegisterOptionalAuthRoutes(r *mux.Router) {
	r.HandleFunc("/payments/capture/{orderId}", h.CaptureOrder).Methods("POST")
	r.HandleFunc("/payments/capture", h.CaptureOrder).Methods("POST")
	r.HandleFunc("/payments/capture/", h.CaptureOrder).Methods("POST")
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		FullName string `json:"fullName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := h.accounts.Register(r.Context(), req.Email, req.Password, req.FullName)
	if err != nil {
		switch {
		case errors.Is(err, pkgerrors.ErrInvalidInput):
			h.writeError(w, http.StatusBadRequest, "Email and password are required")
		case errors.Is(err, pkgerrors.ErrEmailExists):
			h.writeError(w, http.StatusConflict, "Email already exists")
		default:
			observability.FromContext(r.Context()).Error("register failed", "error", err)
			h.writeError(w, http.StatusInternalServerError, "Error registering")
		}
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrInvalidCredentials) {
			h.writeError(w, http.StatusUnauthorized, "Invalid credentials")
		} else {
			observability.FromContext(r.Context()).Error("login failed", "error", err)
			h.writeError(w, http.StatusInternalServerError, "Login failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Not authorized")
		return
	}

	user, err := h.accounts.Profile(r.Context(), userID)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrUserNotFound) {
			h.writeError(w, http.StatusNotFound, "User not found")
		} else {
			observability.FromContext(r.Context()).Error("profile failed", "user_id", userID, "error", err)
			h.writeError(w, http.StatusInternalServerError, "Failed to load profile")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (h *Handler) CreditHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Not authorized")
		return
	}

	history, err := h.accounts.CreditHistory(r.Context(), userID)
	if err != nil {
		observability.FromContext(r.Context()).Error("credit history failed", "user_id", userID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to load credit history")
		return
	}

	credits, err := h.accounts.GetCredits(r.Context(), userID)
	if err != nil {
		observability.FromContext(r.Context()).Error("credit balance failed", "user_id", userID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to load credit history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"credits": credits, "transactions": history})
}

// ConsumeCredits spends credits for one interview session. An empty body
// spends the default session cost.
func (h *Handler) ConsumeCredits(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Not authorized")
		return
	}

	var req struct {
		Amount int32 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "Invalid credits")
		return
	}

	res, err := h.accounts.ConsumeCredits(r.Context(), userID, req.Amount)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"user": res})
	case errors.Is(err, pkgerrors.ErrInsufficientCredits):
		h.writeError(w, http.StatusPaymentRequired, "Insufficient credits")
	case errors.Is(err, pkgerrors.ErrInvalidInput):
		h.writeError(w, http.StatusBadRequest, "Invalid credits")
	case errors.Is(err, pkgerrors.ErrUserNotFound):
		h.writeError(w, http.StatusNotFound, "User not found")
	default:
		observability.FromContext(r.Context()).Error("consume credits failed", "user_id", userID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Error updating credits")
	}
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Not authorized")
		return
	}

	var input service.CreateOrderInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.writeError(w, http.StatusBadRequest, "Missing amount or credits")
		return
	}

	created, err := h.payments.CreateOrder(r.Context(), userID, input)
	if err != nil {
		status, message := paymentError(err, "Failed to create PayPal order")
		if status >= http.StatusInternalServerError {
			observability.FromContext(r.Context()).Error("create order failed", "user_id", userID, "error", err)
		}
		h.writeError(w, status, message)
		return
	}

	writeJSON(w, http.StatusOK, created)
}

func (h *Handler) CaptureOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["orderId"]
	// 0 means anonymous
	userID, _ := auth.UserIDFromContext(r.Context())

	res, err := h.payments.CaptureOrder(r.Context(), orderID, userID)
	if err != nil {
		status, message := paymentError(err, "Failed to capture PayPal order")
		if status >= http.StatusInternalServerError {
			observability.FromContext(r.Context()).Error("capture order failed", "order_id", orderID, "user_id", userID, "error", err)
		}
		h.writeError(w, status, message)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// paymentError maps payment errors to a status and a client message.
// Anything unexpected gets the generic fallback message.
func paymentError(err error, fallback string) (int, string) {
	switch {
	case errors.Is(err, pkgerrors.ErrOrderIDRequired):
		return http.StatusBadRequest, "Order ID required"
	case errors.Is(err, pkgerrors.ErrInvalidAmount):
		return http.StatusBadRequest, "Missing amount or credits"
	case errors.Is(err, pkgerrors.ErrInvalidInput):
		return http.StatusBadRequest, "Invalid input"
	case errors.Is(err, pkgerrors.ErrCaptureInProgress):
		return http.StatusConflict, "Capture already in progress"
	case errors.Is(err, pkgerrors.ErrUserNotFound):
		return http.StatusNotFound, "User not found"
	default:
		return http.StatusInternalServerError, fallback
	}
}
