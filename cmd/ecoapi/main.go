// Command ecoapi serves the run archive over HTTP: list and fetch completed
// simulation runs, plus an authenticated simulate endpoint.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/fdbesanto2/EcoVirtual/internal/api"
	"github.com/fdbesanto2/EcoVirtual/internal/persistence"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Configuration from environment.
	port := envIntOrDefault("ECOAPI_PORT", 8080)
	dbPath := envOrDefault("ECOAPI_DB", "data/ecovirtual.db")
	adminKey := os.Getenv("ECOAPI_ADMIN_KEY")

	if adminKey == "" {
		slog.Warn("ECOAPI_ADMIN_KEY not set, POST /simulate will be disabled")
	}

	if dir := filepath.Dir(dbPath); dir != "." {
		os.MkdirAll(dir, 0755)
	}
	db, err := persistence.Open(dbPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database opened", "path", dbPath)

	server := &api.Server{
		DB:       db,
		Port:     port,
		AdminKey: adminKey,
	}
	server.Start()

	fmt.Printf("EcoVirtual archive API: http://localhost:%d/api/v1/health\n", port)
	fmt.Println("Serving... (Ctrl+C to stop)")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("received signal, shutting down", "signal", sig)
	fmt.Println("Archive API stopped.")
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}
