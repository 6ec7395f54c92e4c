package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"wallet-ledger/internal/compensation"
	"wallet-ledger/internal/config"
	"wallet-ledger/internal/handler"
	"wallet-ledger/internal/ledger"
	"wallet-ledger/internal/notification"
	"wallet-ledger/internal/repository"
	"wallet-ledger/internal/secret"
	"wallet-ledger/internal/service"
)

// Server represents the HTTP server
type Server struct {
	router     *mux.Router
	server     *http.Server
	db         *sql.DB
	dispatcher *notification.Dispatcher
	logger     *slog.Logger
	port       string
}

// NewServer wires the engine together: store, ledger, secret store, services,
// compensation workflow, notification dispatcher, handlers and routes.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := sql.Open("postgres", cfg.GetDBConnectionString())
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("Successfully connected to database")

	seedBonus, err := decimal.NewFromString(cfg.SeedBonus)
	if err != nil {
		db.Close()
		return nil, err
	}

	store := repository.NewStore(db, logger)
	accountRepo := repository.NewAccountRepository(db, logger)
	transactionLog := repository.NewTransactionLog(db, logger)
	orderRepo := repository.NewOrderRepository(db, logger)

	dispatcher := notification.NewDispatcher(cfg.NotifyBuffer, notification.NewLogNotifier(logger), logger)
	dispatcher.Start(cfg.NotifyWorkers)

	ledgerService := ledger.New(store, logger,
		ledger.WithConflictRetry(cfg.ConflictRetries, cfg.ConflictBackoff),
		ledger.WithEventSink(dispatcher),
	)

	secretStore := secret.NewStore(accountRepo, cfg.PinMaxAttempts, cfg.PinLockout, logger)
	accountService := service.NewAccountService(accountRepo, transactionLog, ledgerService, secretStore, seedBonus, logger)
	workflow := compensation.NewWorkflow(orderRepo, ledgerService, dispatcher, logger)

	accountHandler := handler.NewAccountHandler(accountService)
	transactionHandler := handler.NewTransactionHandler(ledgerService, accountService, secretStore, cfg.ChallengeWindow, logger)
	orderHandler := handler.NewOrderHandler(workflow)

	router := mux.NewRouter()
	router.Use(loggingMiddleware(logger))

	// Account routes
	router.HandleFunc("/accounts", accountHandler.CreateAccount).Methods("POST")
	router.HandleFunc("/accounts/{account_id}", accountHandler.GetAccount).Methods("GET")
	router.HandleFunc("/accounts/{account_id}/transactions", accountHandler.ListTransactions).Methods("GET")

	// Balance mutation routes
	router.HandleFunc("/accounts/{account_id}/deposit", transactionHandler.Deposit).Methods("POST")
	router.HandleFunc("/accounts/{account_id}/withdraw", transactionHandler.Withdraw).Methods("POST")
	router.HandleFunc("/accounts/{account_id}/pin", transactionHandler.ChangePin).Methods("POST")
	router.HandleFunc("/transfers", transactionHandler.Transfer).Methods("POST")

	// Admin/order routes
	router.HandleFunc("/orders", orderHandler.CreateOrder).Methods("POST")
	router.HandleFunc("/orders/{order_id}/status", orderHandler.Transition).Methods("POST")

	// Health check
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": "database unavailable"})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}).Methods("GET")

	return &Server{
		router:     router,
		db:         db,
		dispatcher: dispatcher,
		logger:     logger,
	}, nil
}

// loggingMiddleware adds request logging
func loggingMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.statusCode,
				"duration", time.Since(start),
				"user_agent", r.UserAgent(),
			)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server on the specified port
func (s *Server) Start(port string) (string, error) {
	listener, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return "", err
	}

	addr := listener.Addr().(*net.TCPAddr)
	s.port = strconv.Itoa(addr.Port)

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting server", "port", s.port)

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Server failed", "error", err)
		}
	}()

	return s.port, nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down server")

	var shutdownErr error
	if s.server != nil {
		shutdownErr = s.server.Shutdown(ctx)
	}

	// Drain pending notifications before the process goes away.
	if s.dispatcher != nil {
		s.dispatcher.Shutdown()
	}

	if s.db != nil {
		s.db.Close()
	}

	return shutdownErr
}

// GetPort returns the port the server is listening on
func (s *Server) GetPort() string {
	return s.port
}

// GetBaseURL returns the base URL for the server
func (s *Server) GetBaseURL() string {
	return "http://localhost:" + s.port
}

// StartServer starts the server with the given configuration
func StartServer(cfg *config.Config) (*Server, string, error) {
	// Port 0 means a test harness: log to io.Discard instead of stdout.
	var logger *slog.Logger
	if cfg.ServerPort == "0" {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	} else {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}

	server, err := NewServer(cfg, logger)
	if err != nil {
		return nil, "", err
	}

	port, err := server.Start(cfg.ServerPort)
	if err != nil {
		return nil, "", err
	}

	return server, port, nil
}
