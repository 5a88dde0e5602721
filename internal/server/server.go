package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/orderlyflow/internal/auth"
	"github.com/dukerupert/orderlyflow/internal/handler"
	"github.com/dukerupert/orderlyflow/internal/metrics"
	"github.com/dukerupert/orderlyflow/internal/middleware"
	"github.com/dukerupert/orderlyflow/internal/realtime"
	"github.com/dukerupert/orderlyflow/internal/storage"
	"github.com/dukerupert/orderlyflow/internal/store"
)

// Config tunes the HTTP surface.
type Config struct {
	TokenSecret    string
	TokenTTL       time.Duration
	MaxUploadBytes int64
	// SignInLimit is the number of auth attempts allowed per address and
	// email each minute.
	SignInLimit int
}

type Server struct {
	db          *sql.DB
	hub         *realtime.Hub
	tokens      *auth.Tokens
	metrics     *metrics.Metrics
	authH       *handler.AuthHandler
	homeH       *handler.HomeHandler
	tableH      *handler.TableHandler
	rpcH        *handler.RPCHandler
	storageH    *handler.StorageHandler
	realtimeH   *handler.RealtimeHandler
	attempts    *middleware.AttemptLimiter
	logger      *slog.Logger
}

func New(db *sql.DB, objects storage.Store, mailer handler.InvitationSender, m *metrics.Metrics, cfg Config, logger *slog.Logger) *Server {
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = time.Hour
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 5 << 20
	}
	if cfg.SignInLimit == 0 {
		cfg.SignInLimit = 10
	}

	hub := realtime.NewHub(logger.With("component", "realtime"), m)
	tokens := auth.NewTokens(cfg.TokenSecret, cfg.TokenTTL)

	userStore := store.NewUserStore(db)
	homeStore := store.NewHomeStore(db)
	familyStore := store.NewFamilyStore(db)
	tableStore := store.NewTableStore(db, hub)

	return &Server{
		db:          db,
		hub:         hub,
		tokens:      tokens,
		metrics:     m,
		authH:       handler.NewAuthHandler(userStore, tokens, logger.With("component", "auth")),
		homeH:       handler.NewHomeHandler(homeStore, logger.With("component", "home")),
		tableH:      handler.NewTableHandler(tableStore, homeStore, logger.With("component", "table")),
		rpcH:        handler.NewRPCHandler(familyStore, userStore, homeStore, hub, mailer, logger.With("component", "rpc")),
		storageH:    handler.NewStorageHandler(objects, cfg.MaxUploadBytes, logger.With("component", "storage")),
		realtimeH:   handler.NewRealtimeHandler(hub, homeStore, logger.With("component", "realtime")),
		attempts:    middleware.NewAttemptLimiter(cfg.SignInLimit, time.Minute),
		logger:      logger,
	}
}

// Hub returns the realtime hub that table writes publish to.
func (s *Server) Hub() *realtime.Hub {
	return s.hub
}

// RunMaintenance prunes sign-in attempt windows until ctx is done.
func (s *Server) RunMaintenance(ctx context.Context) {
	s.attempts.Run(ctx, time.Minute)
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	limitAttempts := middleware.LimitAttempts(s.attempts, middleware.CredentialKey)
	outerMux.Handle("POST /auth/v1/signup", limitAttempts(http.HandlerFunc(s.authH.SignUp)))
	outerMux.Handle("POST /auth/v1/token", limitAttempts(http.HandlerFunc(s.authH.Token)))
	outerMux.HandleFunc("GET /storage/v1/object/public/{path...}", s.storageH.Public)
	outerMux.HandleFunc("GET /health", s.healthHandler)
	outerMux.Handle("GET /metrics", s.metrics.Handler())

	// Protected routes — wrapped with RequireAuth middleware
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.tokens)
	outerMux.Handle("/", authMiddleware(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.Error("health check", "error", err)
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"status":      status,
		"subscribers": s.hub.ClientCount(),
	})
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /auth/v1/user", s.authH.User)
	mux.HandleFunc("PUT /auth/v1/user", s.authH.UpdateUser)

	mux.HandleFunc("GET /rest/v1/homes", s.homeH.List)
	mux.HandleFunc("POST /rest/v1/homes", s.homeH.Create)

	mux.HandleFunc("GET /rest/v1/{table}", s.tableH.Select)
	mux.HandleFunc("POST /rest/v1/{table}", s.tableH.Insert)
	mux.HandleFunc("PATCH /rest/v1/{table}/{id}", s.tableH.Update)
	mux.HandleFunc("DELETE /rest/v1/{table}/{id}", s.tableH.Delete)

	mux.HandleFunc("POST /rpc/v1/{name}", s.rpcH.Call)

	mux.HandleFunc("PUT /storage/v1/object/{path...}", s.storageH.Upload)

	mux.HandleFunc("GET /realtime/v1", s.realtimeH.Subscribe)
}
