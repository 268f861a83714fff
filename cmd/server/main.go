package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/teamflow/relay/internal/api"
	"github.com/teamflow/relay/internal/config"
	"github.com/teamflow/relay/internal/db"
	"github.com/teamflow/relay/internal/relay"
	"github.com/teamflow/relay/internal/retention"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	hub := relay.NewHub(database)
	go hub.Run()

	janitor := retention.New(database, retention.Config{
		Interval:          cfg.RetentionInterval,
		KeepAutoSnapshots: cfg.KeepAutoSnapshots,
	})
	janitor.Start()
	defer janitor.Stop()

	apiHandler := api.New(hub, database)

	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		relay.ServeWs(hub, w, r)
	})

	mux.HandleFunc("/health", apiHandler.HealthHandler)
	mux.HandleFunc("/api/stats", apiHandler.StatsHandler)
	mux.HandleFunc("/api/workspaces", apiHandler.WorkspacesRouter)
	mux.HandleFunc("/api/workspaces/", apiHandler.WorkspacesRouter)
	mux.HandleFunc("/api/snapshots", apiHandler.SnapshotsRouter)
	mux.HandleFunc("/api/snapshots/", apiHandler.SnapshotsRouter)

	server := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: corsMiddleware(mux),
	}

	go func() {
		log.Printf("🛰️ TeamFlow relay starting on %s", cfg.ServerAddr)
		log.Printf("📁 Database: %s", cfg.DBPath)
		log.Println("Endpoints:")
		log.Println("  - WebSocket:  /ws?user={userId}")
		log.Println("  - Health:     GET /health")
		log.Println("  - Stats:      GET /api/stats")
		log.Println("  - Workspaces: GET/POST /api/workspaces")
		log.Println("  - Workspace:  GET/DELETE /api/workspaces/{id}")
		log.Println("  - Snapshots:  GET/POST /api/snapshots")
		log.Println("  - Snapshot:   GET/DELETE /api/snapshots/{id}")
		log.Println("  - Restore:    POST /api/snapshots/{id}/restore")

		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("ListenAndServe: ", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
