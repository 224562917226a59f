package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/quikchat/quikchat-server/internal/logger"
	"github.com/quikchat/quikchat-server/internal/matchmaker"
	"github.com/quikchat/quikchat-server/internal/telemetry"
	"github.com/quikchat/quikchat-server/internal/transport"
	"github.com/quikchat/quikchat-server/internal/upload"
	"github.com/rs/cors"
)

type ServeCmd struct {
	// Server configuration
	Listen string `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"QUIKCHAT_LISTEN"`
	Cert   string `help:"path to TLS cert file" default:"" env:"QUIKCHAT_TLS_CERT"`
	Key    string `help:"path to TLS key file" default:"" env:"QUIKCHAT_TLS_KEY"`

	// CORS / origin configuration
	CORSOrigins []string `help:"allowed origins for websocket and upload requests" default:"*" env:"QUIKCHAT_CORS_ORIGINS"`

	// Matchmaking configuration
	InviteTTL time.Duration `help:"how long an unanswered private invite stays outstanding (0 disables expiry)" default:"60s" env:"QUIKCHAT_INVITE_TTL"`

	// Upload configuration
	UploadDir      string `help:"directory file uploads are stored in" default:"uploads" env:"QUIKCHAT_UPLOAD_DIR"`
	UploadMaxBytes int64  `help:"maximum upload size in bytes" default:"10485760" env:"QUIKCHAT_UPLOAD_MAX_BYTES"`

	// Static assets for the client bundle
	PublicDir string `help:"directory the client bundle is served from" default:"public" env:"QUIKCHAT_PUBLIC_DIR"`

	// Operational modes
	Tracing bool `help:"enable tracing" default:"false" env:"QUIKCHAT_TRACING"`
}

func (c *ServeCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx := context.Background()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.Init(ctx, "quikchat-server", globals.Version)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	svc := matchmaker.New(log, c.InviteTTL)
	if err := svc.Start(); err != nil {
		return fmt.Errorf("failed to start matchmaker: %w", err)
	}
	defer func() {
		if err := svc.Stop(); err != nil {
			log.Error().Err(err).Msg("Failed to stop matchmaker")
		}
	}()

	uploads, err := upload.NewHandler(log, c.UploadDir, "/files/", c.UploadMaxBytes)
	if err != nil {
		return fmt.Errorf("failed to create upload handler: %w", err)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	mux.Handle("/ws", transport.NewHandler(log, svc, c.CORSOrigins))
	mux.Handle("/upload", uploads)
	mux.Handle("/files/", uploads.FileServer())

	// Serve the client bundle if present; the bundle itself is external to
	// this server.
	if _, err := os.Stat(c.PublicDir); err == nil {
		mux.Handle("/", http.FileServer(http.Dir(c.PublicDir)))
	}

	handler := cors.New(cors.Options{
		AllowedOrigins: c.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}).Handler(logger.Requests(log)(mux))

	srv := configureHTTPServer(c.Listen, handler)

	if c.Cert != "" && c.Key != "" {
		log.Info().Str("addr", c.Listen).Msg("Starting HTTPS server")
		return srv.ListenAndServeTLS(c.Cert, c.Key)
	}

	log.Info().Str("addr", c.Listen).Msg("Starting HTTP server")
	return srv.ListenAndServe()
}
