/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/gorm"

	"github.com/friendsincode/mediabridge/internal/api"
	"github.com/friendsincode/mediabridge/internal/artwork"
	"github.com/friendsincode/mediabridge/internal/config"
	"github.com/friendsincode/mediabridge/internal/contentdir"
	"github.com/friendsincode/mediabridge/internal/db"
	"github.com/friendsincode/mediabridge/internal/discovery"
	"github.com/friendsincode/mediabridge/internal/dispatch"
	"github.com/friendsincode/mediabridge/internal/eventbus"
	"github.com/friendsincode/mediabridge/internal/events"
	"github.com/friendsincode/mediabridge/internal/library"
	"github.com/friendsincode/mediabridge/internal/logbuffer"
	"github.com/friendsincode/mediabridge/internal/mediaengine"
	"github.com/friendsincode/mediabridge/internal/renderer"
	"github.com/friendsincode/mediabridge/internal/storage"
	"github.com/friendsincode/mediabridge/internal/stream"
	"github.com/friendsincode/mediabridge/internal/telemetry"
	"github.com/friendsincode/mediabridge/internal/transport"
	"github.com/friendsincode/mediabridge/internal/upnpclient"
	"github.com/friendsincode/mediabridge/internal/version"
)

func init() {
	for _, m := range []string{"SUBSCRIBE", "UNSUBSCRIBE", "NOTIFY"} {
		chi.RegisterMethod(m)
	}
}

// Server bundles the media server device, the control point and the HTTP
// surface in front of both.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error
	baseURL    string

	db          *gorm.DB
	logBuffer   *logbuffer.Buffer
	diagnostics *logbuffer.Buffer
	bus         events.Broker
	engine      *mediaengine.LocalEngine
	index       *library.Index
	curated     library.CuratedStore
	machine     *transport.Machine
	dispatcher  *dispatch.Dispatcher
	publishers  map[string]*dispatch.Publisher
	registry    *discovery.Registry
	scanner     *discovery.Scanner
	client      *upnpclient.Client
	listener    *upnpclient.Listener
	controller  *renderer.Controller
	api         *api.API
	desc        rootDesc

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "mediabridge")
	})
	router.Use(telemetry.MetricsMiddleware)
	router.Use(skipTimeout(60 * time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	srv := &Server{
		cfg:         cfg,
		logger:      logger,
		router:      router,
		logBuffer:   logBuf,
		diagnostics: logbuffer.New(1000),
		bgCtx:       ctx,
		bgCancel:    cancel,
	}
	srv.baseURL = cfg.PublicBaseURL(outboundIP())

	if err := srv.initDependencies(); err != nil {
		srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	srv.httpServer = &http.Server{
		Addr:    cfg.ListenAddr(),
		Handler: srv.router,
		// Keep header deadline to protect against slowloris, but do not enforce a full-body
		// read deadline.
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       0,
		// WriteTimeout set to 0 for streaming support - handlers manage their own deadlines
		// The middleware timeout (60s) handles non-streaming routes
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

// skipTimeout applies a request timeout except to websocket upgrades and
// audio streams, which are long-running.
func skipTimeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(d)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" || strings.HasPrefix(r.URL.Path, "/decode/") {
				next.ServeHTTP(w, r)
				return
			}
			timeout.ServeHTTP(w, r)
		})
	}
}

// outboundIP returns the first non-loopback IPv4 address, used to build
// links when no public base URL is configured.
func outboundIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
			return ipnet.IP.String()
		}
	}
	return ""
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })
	if err := db.Migrate(database); err != nil {
		return err
	}

	bus, err := eventbus.New(s.eventBusConfig(), s.logger)
	if err != nil {
		return fmt.Errorf("event bus: %w", err)
	}
	s.bus = bus
	s.DeferClose(bus.Close)

	store, err := s.artworkStore()
	if err != nil {
		return err
	}

	s.engine = mediaengine.NewLocalEngine(s.bgCtx, mediaengine.LocalConfig{
		Roots:         s.cfg.MediaRoots,
		GStreamerBin:  s.cfg.GStreamerBin,
		DiscovererBin: s.cfg.DiscovererBin,
		AudioSink:     s.cfg.AudioSink,
		ScanWorkers:   s.cfg.ScanWorkers,
		WatchSettle:   s.cfg.WatchSettle,
	}, s.logger)

	s.index = library.NewIndex(s.logger)
	s.curated = library.CuratedStore{Dir: s.cfg.CuratedRoot}
	if s.cfg.CuratedRoot != "" {
		s.curated.Name = "Curated"
	}

	cd := contentdir.NewService(s.index, s.baseURL, s.logger)
	s.machine = transport.NewMachine(s.engine, s.baseURL, s.logger)

	s.client = upnpclient.New(upnpclient.Options{Timeout: 10 * time.Second, RetryMax: 2}, s.logger)
	s.listener = upnpclient.NewListener(s.logger)
	s.registry = discovery.NewRegistry(s.cfg.DiscoveryDebounce, s.logger)
	s.DeferClose(func() error { s.registry.Close(); return nil })

	s.controller = renderer.New(renderer.Deps{
		Directory:   s.registry,
		Invoker:     s.client,
		Watcher:     upnpclient.NewSubscriber(s.client, s.listener, s.baseURL+genaCallbackURL, s.logger),
		Bus:         s.bus,
		Store:       renderer.NewStateStore(database, s.logger),
		Diagnostics: s.diagnostics,
	}, renderer.Config{
		PollTimeout:   s.cfg.PollTimeout,
		PositionGuard: s.cfg.PositionGuard,
	}, s.logger)
	s.DeferClose(func() error { s.controller.Close(); return nil })

	s.dispatcher, err = dispatch.New(cd, s.machine, s.controller, s.diagnostics, s.logger)
	if err != nil {
		return fmt.Errorf("service tables: %w", err)
	}
	s.publishers = make(map[string]*dispatch.Publisher)
	for _, t := range s.dispatcher.Tables() {
		p := dispatch.NewPublisher(t.Name, s.client.StandardClient(), s.logger)
		p.Set(t.EventedDefaults())
		s.publishers[t.Name] = p
		s.DeferClose(func() error { p.Close(); return nil })
	}
	if p, ok := s.publishers["AVTransport"]; ok {
		s.machine.OnChange(dispatch.TransportEvents(p))
	}

	if s.cfg.DiscoveryEnabled {
		describer := discovery.NewDescriber(s.client.StandardClient(), 10*time.Minute)
		s.scanner = discovery.NewScanner(s.registry, describer, discovery.ScannerConfig{
			SearchInterval: s.cfg.DiscoverySearchGap,
		}, s.logger)
	}

	s.desc = newRootDesc(s.friendlyName(), s.dispatcher)

	s.api = api.New(s.controller, s.registry, s.bus, s.logger)
	s.api.SetLibrary(s.index, s.curated)
	s.api.SetDiagnostics(s.diagnostics)
	s.api.SetLogBuffer(s.logBuffer)

	s.routeMedia(store)
	return nil
}

func (s *Server) eventBusConfig() eventbus.Config {
	redisCfg := eventbus.DefaultRedisConfig()
	redisCfg.Addr = s.cfg.RedisAddr
	redisCfg.Password = s.cfg.RedisPassword
	redisCfg.DB = s.cfg.RedisDB

	natsCfg := eventbus.DefaultNATSConfig()
	natsCfg.URL = s.cfg.NATSURL
	natsCfg.Token = s.cfg.NATSToken

	return eventbus.Config{Kind: eventbus.Kind(s.cfg.EventBus), Redis: redisCfg, NATS: natsCfg}
}

func (s *Server) artworkStore() (storage.ObjectStore, error) {
	if s.cfg.S3Bucket != "" {
		store, err := storage.NewS3Store(s.bgCtx, storage.S3Config{
			Bucket:          s.cfg.S3Bucket,
			Prefix:          s.cfg.S3Prefix,
			Region:          s.cfg.S3Region,
			Endpoint:        s.cfg.S3Endpoint,
			AccessKeyID:     s.cfg.S3AccessKeyID,
			SecretAccessKey: s.cfg.S3SecretAccessKey,
			UsePathStyle:    s.cfg.S3UsePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("artwork s3 store: %w", err)
		}
		s.logger.Info().Str("bucket", s.cfg.S3Bucket).Msg("artwork cache in s3")
		return store, nil
	}
	if err := os.MkdirAll(s.cfg.ArtworkCacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artwork cache directory %s: %w", s.cfg.ArtworkCacheDir, err)
	}
	return storage.FileStore{Root: s.cfg.ArtworkCacheDir}, nil
}

func (s *Server) friendlyName() string {
	if s.cfg.FriendlyName != "" {
		return s.cfg.FriendlyName
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		return version.Product
	}
	return version.Product + " on " + host
}

// routeMedia mounts the stream and artwork handlers. Only files below a
// configured media root are served.
func (s *Server) routeMedia(store storage.ObjectStore) {
	roots := mediaRoots(s.cfg.MediaRoots)
	s.router.Handle("/decode/*", withinRoots(roots, streamTarget, stream.NewHandler(s.engine, s.cfg.GStreamerBin, s.logger)))
	s.router.Handle("/albumart/*", withinRoots(roots, artworkTarget, artwork.NewProvider(s.engine, store, s.logger)))
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// BaseURL is the address advertised in stream and artwork links.
func (s *Server) BaseURL() string {
	return s.baseURL
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx := s.bgCtx

	s.goBackground(func() {
		s.runLibrary(ctx)
	})

	s.goBackground(func() {
		s.machine.Run(ctx, s.engine.Events())
	})

	if s.scanner != nil {
		stop := api.PublishDiscovery(s.registry, s.bus)
		s.DeferClose(func() error { stop(); return nil })
		s.goBackground(func() {
			if err := s.scanner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("ssdp scanner exited")
			}
		})
	}

	if s.cfg.SSDPEnabled {
		s.goBackground(func() {
			s.runSSDP(ctx)
		})
	}

	s.goBackground(func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db.UpdateConnectionMetrics(s.db)
			}
		}
	})
}

func (s *Server) goBackground(fn func()) {
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		fn()
	}()
}

// runLibrary loads the library, then curated lists on top of it, then
// follows filesystem changes.
func (s *Server) runLibrary(ctx context.Context) {
	logger := s.logger.With().Str("component", "library").Logger()
	if err := library.Load(ctx, s.engine, s.index); err != nil {
		logger.Error().Err(err).Msg("library load failed")
	} else {
		logger.Info().Int("items", s.index.Len()).Msg("library loaded")
	}

	if n, err := s.curated.Load(s.index); err != nil {
		logger.Error().Err(err).Str("dir", s.curated.Dir).Msg("curated lists load failed")
	} else if n > 0 {
		logger.Info().Int("items", n).Msg("curated lists loaded")
	}

	if !s.cfg.WatchEnabled {
		return
	}
	if err := library.Follow(ctx, s.engine, s.index, logger); err != nil {
		logger.Error().Err(err).Msg("library watch exited")
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"status":"ok","items":%d}`, s.index.Len())
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.router.Get(rootDescPath, s.handleRootDesc)
	s.router.Get(scpdPrefix+"{service}", s.handleSCPD)
	s.router.Post(controlPath, s.dispatcher.ControlHandler().ServeHTTP)
	for name, p := range s.publishers {
		s.router.Handle(eventPrefix+name, p)
	}
	s.router.Handle(genaCallbackURL, s.listener)

	s.api.Routes(s.router)
}
