package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
)

// botStatus is the connection state reported by the health server.
type botStatus struct {
	v atomic.Value
}

func newBotStatus(initial string) *botStatus {
	s := &botStatus{}
	s.Set(initial)
	return s
}

func (s *botStatus) Set(status string) { s.v.Store(status) }

func (s *botStatus) Get() string {
	status, _ := s.v.Load().(string)
	return status
}

type healthResponse struct {
	Status         string `json:"status"`
	Service        string `json:"service"`
	BotStatus      string `json:"bot_status"`
	ActiveSessions int    `json:"active_sessions"`
}

func healthRouter(status *botStatus, sessions func() int) http.Handler {
	r := chi.NewRouter()

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "Discord Bot Status: %s", status.Get())
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(healthResponse{
			Status:         "healthy",
			Service:        "dicebot",
			BotStatus:      status.Get(),
			ActiveSessions: sessions(),
		})
	})

	return r
}

// serveHealth runs the health server until ctx is cancelled.
func serveHealth(ctx context.Context, addr string, handler http.Handler, logger *log.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("health server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err, ok := <-serverErr:
		if !ok {
			return nil
		}
		return fmt.Errorf("health server: %w", err)
	}
}
