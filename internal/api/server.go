// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/CAFxX/httpcompression"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/streambridge/streambridge/internal/api/handlers"
	"github.com/streambridge/streambridge/internal/api/middleware"
	"github.com/streambridge/streambridge/internal/config"
	"github.com/streambridge/streambridge/internal/database"
	"github.com/streambridge/streambridge/internal/metrics"
	"github.com/streambridge/streambridge/internal/services/icons"
	"github.com/streambridge/streambridge/internal/userconfig"
)

type Server struct {
	server  *http.Server
	logger  zerolog.Logger
	config  *config.AppConfig
	version string

	codec         *userconfig.Codec
	streamService handlers.StreamService
	iconService   *icons.Service
	db            *database.DB
	metrics       *metrics.Manager
	rateLimiter   *middleware.RateLimiter
	renderer      handlers.Renderer
	indexers      []string
}

type Dependencies struct {
	Config        *config.AppConfig
	Version       string
	Codec         *userconfig.Codec
	StreamService handlers.StreamService
	IconService   *icons.Service
	DB            *database.DB
	Metrics       *metrics.Manager
	RateLimiter   *middleware.RateLimiter
	// Renderer draws the configure page; nil falls back to JSON.
	Renderer handlers.Renderer
	// Indexers is the list offered on the configure page.
	Indexers []string
}

func NewServer(deps *Dependencies) *Server {
	s := Server{
		server: &http.Server{
			ReadHeaderTimeout: time.Second * 15,
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      120 * time.Second,
			IdleTimeout:       180 * time.Second,
		},
		logger:        log.Logger.With().Str("module", "api").Logger(),
		config:        deps.Config,
		version:       deps.Version,
		codec:         deps.Codec,
		streamService: deps.StreamService,
		iconService:   deps.IconService,
		db:            deps.DB,
		metrics:       deps.Metrics,
		rateLimiter:   deps.RateLimiter,
		renderer:      deps.Renderer,
		indexers:      deps.Indexers,
	}

	if s.metrics == nil {
		s.metrics = metrics.NewManager()
	}
	if s.rateLimiter == nil {
		s.rateLimiter = middleware.NewRateLimiter(
			deps.Config.Config.RateLimitMaxRequests,
			deps.Config.Config.RateLimitWindow(),
		)
	}
	s.rateLimiter.OnReject(s.metrics.RateLimitRejections.Inc)

	return &s
}

func (s *Server) ListenAndServe() error {
	return s.open(nil)
}

// ListenAndServeReady behaves like ListenAndServe but signals once the listener is active.
func (s *Server) ListenAndServeReady(ready chan<- struct{}) error {
	return s.open(ready)
}

func (s *Server) open(ready chan<- struct{}) error {
	addr := fmt.Sprintf("%s:%d", s.config.Config.Host, s.config.Config.Port)

	var lastErr error
	for _, proto := range []string{"tcp", "tcp4", "tcp6"} {
		err := s.tryToServe(addr, proto, ready)
		if err == nil {
			return nil
		}

		if errors.Is(err, http.ErrServerClosed) {
			return err
		}

		s.logger.Error().Err(err).Str("addr", addr).Str("proto", proto).Msgf("Failed to start server")
		lastErr = err
	}

	return lastErr
}

func (s *Server) tryToServe(addr, protocol string, ready chan<- struct{}) error {
	listener, err := net.Listen(protocol, addr)
	if err != nil {
		return err
	}

	host := listener.Addr().String()
	// Replace 0.0.0.0 or :: with localhost for clickable links
	if strings.HasPrefix(host, "0.0.0.0:") || strings.HasPrefix(host, "[::]:") {
		host = strings.Replace(host, "0.0.0.0:", "localhost:", 1)
		host = strings.Replace(host, "[::]:", "localhost:", 1)
	}
	clickableURL := fmt.Sprintf("http://%s%s", host, s.config.Config.BaseURL)

	s.logger.Info().
		Str("protocol", protocol).
		Str("addr", listener.Addr().String()).
		Str("base_url", s.config.Config.BaseURL).
		Msgf("Starting API server - Open: %s", clickableURL)

	s.server.Handler = s.Handler()

	if ready != nil {
		select {
		case ready <- struct{}{}:
		default:
		}
	}

	return s.server.Serve(listener)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) Handler() *chi.Mux {
	r := chi.NewRouter()

	ipResolver := middleware.NewIPResolver(s.config.Config)

	// Global middleware
	r.Use(middleware.RequestID) // Must be before logger to capture request ID
	r.Use(middleware.Recoverer)
	r.Use(ipResolver.Middleware)

	// HTTP compression - handles gzip, brotli, zstd, deflate automatically
	compressor, err := httpcompression.DefaultAdapter(
		httpcompression.MinSize(1024),
		httpcompression.GzipCompressionLevel(2),
		httpcompression.Prefer(httpcompression.PreferServer),
	)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create HTTP compression adapter")
	} else {
		r.Use(compressor)
	}

	// CORS - addon clients are browsers and TV players on other origins
	corsMiddleware := cors.New(cors.Options{
		AllowedMethods:  []string{"HEAD", "OPTIONS", "GET"},
		AllowedHeaders:  []string{"Accept", "Content-Type"},
		AllowOriginFunc: func(origin string) bool { return true },
		MaxAge:          300,
	})
	r.Use(corsMiddleware.Handler)

	r.Use(s.rateLimiter.Handler)
	r.Use(middleware.Logger(s.logger))

	// Create handlers
	addonHost := s.config.Config.AddonHost

	var pinger handlers.Pinger
	if s.db != nil {
		pinger = s.db
	}
	healthHandler := handlers.NewHealthHandler(pinger)
	streamHandler := handlers.NewStreamHandler(s.codec, s.streamService, s.metrics, addonHost)
	downloadHandler := handlers.NewDownloadHandler(s.codec, s.streamService, s.metrics)
	manifestHandler := handlers.NewManifestHandler(s.codec, s.version, addonHost)
	configureHandler := handlers.NewConfigureHandler(s.codec, s.renderer, s.indexers)
	iconHandler := handlers.NewIconHandler(s.iconService)

	videosHandler, err := handlers.NewVideosHandler(s.config.GetDataDir())
	if err != nil {
		log.Error().Err(err).Msg("Failed to prepare canned video directory")
	}

	addonRouter := chi.NewRouter()

	addonRouter.Get("/health", healthHandler.HandleHealth)
	addonRouter.Get("/healthz/liveness", healthHandler.HandleHealth)
	addonRouter.Get("/healthz/readiness", healthHandler.HandleReady)

	addonRouter.Get("/icon", iconHandler.GetIcon)
	addonRouter.Get("/logo.png", iconHandler.GetIcon)
	if videosHandler != nil {
		addonRouter.Get("/videos/{name}", videosHandler.GetVideo)
	}

	// Unconfigured routes: manifest advertises configurationRequired and the
	// stream route serves the "configure me" pseudo-stream.
	addonRouter.Get("/manifest.json", manifestHandler.GetManifest)
	addonRouter.Get("/configure", configureHandler.GetConfigure)
	addonRouter.Get("/stream/{mediaType}/{mediaID}", streamHandler.GetStreams)

	// Configured routes carry the blob as the first path segment.
	addonRouter.Route("/{userConfig}", func(r chi.Router) {
		r.Get("/manifest.json", manifestHandler.GetManifest)
		r.Get("/configure", configureHandler.GetConfigure)
		r.Get("/stream/{mediaType}/{mediaID}", streamHandler.GetStreams)

		r.Group(func(r chi.Router) {
			// Download resolution blocks on the debrid provider; cap
			// in-flight requests instead of queueing without bound.
			r.Use(middleware.ThrottleBacklog(50, 100, time.Second))

			r.Get("/download/{mediaType}/{mediaID}/{torrentID}", downloadHandler.Resolve)
			r.Head("/download/{mediaType}/{mediaID}/{torrentID}", downloadHandler.Resolve)
		})
	})

	if s.config.Config.PprofEnabled {
		r.Mount("/debug", chimiddleware.Profiler())
	}

	baseURL := s.config.Config.BaseURL
	if baseURL == "" || baseURL == "/" {
		r.Mount("/", addonRouter)
		return r
	}

	trimmedBaseURL := strings.TrimSuffix(baseURL, "/")
	r.Mount(trimmedBaseURL, addonRouter)

	r.Get("/", func(w http.ResponseWriter, request *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("Must use baseUrl: " + baseURL + " instead of /"))
	})

	return r
}
