// Package relayservice wires the relay websocket service: config, storage
// backend, optional durable-log bridge, JWT verification, the connection
// registry with its liveness sweep, and the HTTP surface.
package relayservice

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"time"

	"courier-relay/internal/cli"
	"courier-relay/internal/general/config"
	"courier-relay/internal/general/jwt"
	"courier-relay/internal/general/logger"
	"courier-relay/internal/general/postgres"
	"courier-relay/internal/general/rabbitmq"
	"courier-relay/internal/relay/order"
	"courier-relay/internal/relay/registry"
	"courier-relay/internal/relay/router"
	"courier-relay/internal/relay/service"
)

// Run boots the relay service and blocks until ctx is cancelled.
func Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet(cli.ModeRelay, flag.ContinueOnError)
	cli.AttachUsage(fs, cli.ModeRelay)
	configPath := fs.String("config", "config/config.yaml", "path to the YAML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	log := logger.New("relay-service")

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// order mapping store: in-memory by default, postgres when configured
	var store order.Store
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		pool, err := postgres.NewPool(ctx, cfg, log)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		store = postgres.NewOrderRepo(pool)
	default:
		store = order.NewMemoryStore()
	}

	// optional durable-log bridge
	var bridge service.Bridge
	if cfg.RabbitMQ.Enabled {
		mq, err := rabbitmq.Connect(ctx, cfg, log)
		if err != nil {
			return fmt.Errorf("connect rabbitmq: %w", err)
		}
		defer mq.Close()
		bridge = rabbitmq.NewBridge(mq)
	}

	mgr := jwt.NewManager(cfg.JWT.SecretKey, 24*time.Hour)
	verifier := jwt.NewVerifier(mgr)

	reg := registry.New(log, cfg.StaleAfter(), cfg.SweepInterval())
	reg.StartSweeper(ctx)
	rt := router.New(reg, log)

	relay := service.New(log, store, reg, rt, verifier, bridge)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", relay.HandleWS)
	mux.HandleFunc("/orders/assign", assignHandler(log, relay))
	mux.HandleFunc("/orders/status", statusHandler(log, relay))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "service_started", "Relay service listening",
			map[string]any{"port": cfg.Server.Port, "storage": cfg.Storage.Backend})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	// drain: notify connected clients, then stop accepting
	reg.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}

	log.Info(context.Background(), "service_stopped", "Relay service stopped", nil)
	return nil
}

type assignRequest struct {
	OrderID    string         `json:"orderId"`
	CustomerID string         `json:"customerId"`
	DriverID   string         `json:"driverId"`
	Details    map[string]any `json:"details,omitempty"`
}

// assignHandler exposes driver assignment over HTTP for the dispatch side.
func assignHandler(log *logger.Logger, relay *service.Relay) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req assignRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}

		ctx := log.WithOrderID(r.Context(), req.OrderID)
		if err := relay.AssignDriverToOrder(ctx, req.OrderID, req.CustomerID, req.DriverID, req.Details); err != nil {
			log.Error(ctx, "assign_failed", "Failed to assign driver", err, nil)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"orderId": req.OrderID, "status": order.StatusAssigned.String()})
	}
}

type statusRequest struct {
	OrderID   string `json:"orderId"`
	Status    string `json:"status"`
	UpdatedBy string `json:"updatedBy,omitempty"`
}

// statusHandler exposes order status transitions over HTTP.
func statusHandler(log *logger.Logger, relay *service.Relay) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req statusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}

		status := order.Status(req.Status)
		if !status.Valid() {
			http.Error(w, "unknown status", http.StatusBadRequest)
			return
		}

		ctx := log.WithOrderID(r.Context(), req.OrderID)
		err := relay.UpdateOrderStatus(ctx, req.OrderID, status, req.UpdatedBy)
		switch {
		case errors.Is(err, order.ErrNotFound):
			http.Error(w, "order not found", http.StatusNotFound)
			return
		case errors.Is(err, order.ErrBadTransition):
			http.Error(w, err.Error(), http.StatusConflict)
			return
		case err != nil:
			log.Error(ctx, "status_update_failed", "Failed to update order status", err, nil)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"orderId": req.OrderID, "status": status.String()})
	}
}
