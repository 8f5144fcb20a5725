/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the billing engine server. Handles configuration,
  dependency injection, seed data, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Initialize the store (SQLite, or in-memory for dev)
  3. Create API handler with dependencies
  4. Start the background overrun monitor
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080, env PORT)
  -db      SQLite database path (default: billing.db, env DATABASE_PATH)
           Use ":memory:" for in-memory SQLite, "mem" for the pure
           in-memory gateway (no SQLite at all)
  -tenant  Tenant to bootstrap on first run (default: tenant-1, env TENANT_ID)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the overrun monitor and close the database
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/billing.db"

  # Run fully in memory
  ./server -db=mem

  # Run on different port
  ./server -port=3000

ENVIRONMENT:
  PORT, DATABASE_PATH and TENANT_ID override the flag defaults; a .env
  file in the working directory is loaded first.

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/warp/billing-engine/api"
	"github.com/warp/billing-engine/billing"
	memstore "github.com/warp/billing-engine/billing/store"
	"github.com/warp/billing-engine/store/sqlite"
)

func main() {
	// A missing .env is fine; flags and real env still apply.
	_ = godotenv.Load()

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DATABASE_PATH", "billing.db"), "SQLite database path, or 'mem' for in-memory gateway")
	tenantID := flag.String("tenant", envStr("TENANT_ID", "tenant-1"), "tenant to bootstrap on first run")
	flag.Parse()

	var (
		gw         billing.Gateway
		audit      billing.AuditSink
		closeStore func() error
	)
	if *dbPath == "mem" {
		mem := memstore.NewMemory()
		gw, audit = mem, mem
		closeStore = func() error { return nil }
	} else {
		s, err := sqlite.New(*dbPath)
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		gw, audit = s, s
		closeStore = s.Close
	}
	defer closeStore()

	if err := bootstrapTenant(context.Background(), gw, billing.TenantID(*tenantID)); err != nil {
		log.Fatalf("Failed to bootstrap tenant: %v", err)
	}

	handler := api.NewHandler(gw, audit)
	router := api.NewRouter(handler)

	monitor := api.NewOverrunMonitor(handler.Calculator, []billing.TenantID{billing.TenantID(*tenantID)})
	monitor.Start()
	defer monitor.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("🚀 Server starting on http://localhost:%d", *port)
		log.Printf("📊 API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// bootstrapTenant ensures the configured tenant exists so the API is usable
// on a fresh database. The 45% default threshold can be changed later.
func bootstrapTenant(ctx context.Context, gw billing.Gateway, id billing.TenantID) error {
	if _, err := gw.Tenant(ctx, id); err == nil {
		return nil
	} else if !billing.IsNotFound(err) {
		return err
	}
	return gw.PutTenant(ctx, &billing.Tenant{
		ID:                  id,
		Name:                string(id),
		IndicatorDefaultPct: decimal.RequireFromString("0.45"),
	})
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
