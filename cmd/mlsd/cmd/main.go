package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"

	"github.com/kindlyrobotics/mlsengine/cmd/mlsd/internal/handlers"
	"github.com/kindlyrobotics/mlsengine/cmd/mlsd/internal/server"
	"github.com/kindlyrobotics/mlsengine/internal/config"
)

// main wires the demo daemon the way the teacher's
// cmd/messaging-service/cmd/main.go wires its own: load config, build
// the in-process registry, register routes on a mux.Router, serve, and
// shut down gracefully on SIGINT/SIGTERM.
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("[mlsd] loading config: %v", err)
	}

	registry := server.NewRegistry()
	api := handlers.NewAPI(registry, cfg.CipherSuite, nil)

	r := mux.NewRouter()
	r.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	r.HandleFunc("/groups", api.CreateGroup).Methods("POST")
	r.HandleFunc("/groups/{id}/propose", api.Propose).Methods("POST")
	r.HandleFunc("/groups/{id}/commit", api.Commit).Methods("POST")
	r.HandleFunc("/ws", api.StreamCiphertext)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		log.Printf("[mlsd] listening on :%s\n", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[mlsd] listen: %v\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("[mlsd] shutting down...")

	if err := srv.Shutdown(context.Background()); err != nil {
		log.Fatalf("[mlsd] forced shutdown: %v", err)
	}
	log.Println("[mlsd] exited")
}
