package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/droproom/droproom/internal/config"
	"github.com/droproom/droproom/internal/server"
	"github.com/gorilla/handlers"
)

type App struct {
	log            *log.Logger
	relay          *server.RelayServer
	mux            *http.Server
	allowedOrigins []string
	readLimit      int64
}

func NewApp(mux *http.ServeMux, logger *log.Logger, rs *server.RelayServer, cfg *config.Config) *App {
	a := &App{
		log:            logger,
		relay:          rs,
		allowedOrigins: cfg.AllowedOrigins,
		// base64 inflates document content by a third; leave headroom
		// for the envelope as well
		readLimit: cfg.MaxDocumentBytes * 2,
	}

	mux.HandleFunc("GET /healthz", a.healthz)
	mux.HandleFunc("POST /api/rooms", a.createRoomCode)
	mux.HandleFunc("GET /ws", a.serveWs)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = a.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	a.mux = srv
	return a
}

func (a *App) Start() error {
	a.log.Printf("starting server on %s\n", a.mux.Addr)
	return a.mux.ListenAndServe()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.log.Println("shutting down HTTP server...")
	if err := a.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
