package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/copduh/Interviewzwt/internal/handler"
	"github.com/copduh/Interviewzwt/internal/infrastructure/auth"
	"github.com/copduh/Interviewzwt/internal/infrastructure/redis"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const readinessTimeout = 2 * time.Second

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Dependencies struct {
	ServiceName string
	Logger      *slog.Logger
	Handler     *handler.Handler
	Redis       redis.RedisClient
	Tokens      *auth.TokenIssuer
	DB          Pinger
}

func SetupRouter(deps Dependencies) *mux.Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := mux.NewRouter()
	r.Use(requestLogger(logger), metricsMiddleware)

	r.HandleFunc("/", banner(deps.ServiceName)).Methods("GET")
	r.HandleFunc("/health/live", live).Methods("GET")
	r.HandleFunc("/health/ready", ready(deps.DB, deps.Redis)).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()

	public := api.NewRoute().Subrouter()
	deps.Handler.RegisterPublicRoutes(public)

	// JWT-protected routes
	protected := api.NewRoute().Subrouter()
	protected.Use(auth.AuthMiddleware(deps.Redis, deps.Tokens))
	deps.Handler.RegisterProtectedRoutes(protected)

	optional := api.NewRoute().Subrouter()
	optional.Use(auth.OptionalAuthMiddleware(deps.Redis, deps.Tokens))
	deps.Handler.RegisterOptionalAuthRoutes(optional)

	return r
}

func banner(serviceName string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(serviceName + " is running\n"))
	}
}

func live(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, http.StatusOK, map[string]string{"status": "ok"})
}

func ready(db Pinger, redisClient redis.RedisClient) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		checks := map[string]string{"postgres": "ok", "redis": "ok"}
		status := http.StatusOK
		if db != nil {
			if err := db.PingContext(ctx); err != nil {
				checks["postgres"] = err.Error()
				status = http.StatusServiceUnavailable
			}
		}
		if redisClient != nil {
			if err := redisClient.Ping(ctx); err != nil {
				checks["redis"] = err.Error()
				status = http.StatusServiceUnavailable
			}
		}
		writeStatus(w, status, checks)
	}
}

func writeStatus(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
