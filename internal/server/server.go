// Package server assembles the gateway into a runnable pair of HTTP
// listeners: the JSON REST surface (plus TUS and the Iceberg catalog
// passthrough) on one port, and the S3-compatible surface on its own
// port, the way S3-compatible products expose a dedicated S3 endpoint
// host.
//
// Example usage:
//
//	cfg := &server.Config{
//		DatabaseURL: "postgres://gateway@localhost:5432/gateway",
//		BlobDSN:     "disk:///var/data/objectgate",
//	}
//	srv, err := server.New(ctx, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := srv.Start(); err != nil {
//		log.Fatal(err)
//	}
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/go-mizu/mizu"
	"golang.org/x/sync/errgroup"

	"github.com/go-mizu/mizu/blueprints/objectgate/internal/blobstore"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/broker"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/dbgateway"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/iceberg/catalog"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/iceberg/ducklake"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/lifecycle"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/multipart"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/restapi"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/s3router"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/sigv4"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/tenant"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/tus"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/tuslock"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/webhook"

	// Register blob drivers.
	_ "github.com/go-mizu/mizu/blueprints/objectgate/internal/blobstore/diskblob"
	_ "github.com/go-mizu/mizu/blueprints/objectgate/internal/blobstore/s3blob"
)

// Config configures the gateway.
type Config struct {
	// Host to bind both listeners to. Default "0.0.0.0".
	Host string

	// Port for the REST/TUS/Iceberg listener. Default 5000.
	Port int

	// S3Port for the S3-compatible listener. Default 9000.
	S3Port int

	// DatabaseURL is the Postgres connection string for the metadata
	// store and the broker's LISTEN connection.
	DatabaseURL string

	// BlobDSN selects and configures the blob backend.
	// Examples:
	//   "s3://bucket?region=us-east-1&endpoint=http://minio:9000"
	//   "disk:///var/data/objectgate"
	BlobDSN string

	// Region reported and enforced on the S3 surface. Default "us-east-1".
	Region string

	// EnforceRegion rejects SigV4 credentials scoped to other regions.
	EnforceRegion bool

	// JWTSecret is the fallback HS256 key for tenants without their own
	// key set.
	JWTSecret string

	// UploadSignSecret keys the multipart progress signatures.
	UploadSignSecret string

	// StandardMaxFileSize is the global upload ceiling. Default 50GB.
	StandardMaxFileSize int64

	// URLLengthLimit bounds delete-many batch sizes. Default 6000.
	URLLengthLimit int

	// SignedURLTTL is the default signed-URL lifetime in seconds.
	// Default 3600.
	SignedURLTTL int64

	// Tenants is the static tenant set served by this process.
	Tenants []*tenant.Tenant

	// IcebergShardURLs are the upstream REST catalog base URLs, indexed
	// by shard id. Empty disables the Iceberg surface.
	IcebergShardURLs []string

	// IcebergToken authenticates against the upstream catalogs.
	IcebergToken string

	// IcebergLimits bound per-tenant catalog growth.
	IcebergLimits catalog.Limits

	// IcebergMaxTablesPerShard seeds shard capacity. Default 1000.
	IcebergMaxTablesPerShard int

	// ReadTimeout / WriteTimeout for both HTTP listeners. Default 60s.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// SweepInterval is how often the orphan sweeper runs. Default 1m.
	SweepInterval time.Duration

	// Logger for server logs. If nil, uses slog.Default().
	Logger *slog.Logger

	// EnablePprof exposes /debug/pprof on the REST listener.
	EnablePprof bool
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Host:                     "0.0.0.0",
		Port:                     5000,
		S3Port:                   9000,
		Region:                   "us-east-1",
		StandardMaxFileSize:      50 << 30,
		URLLengthLimit:           6000,
		SignedURLTTL:             3600,
		IcebergMaxTablesPerShard: 1000,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             60 * time.Second,
		SweepInterval:            time.Minute,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Host == "" {
		c.Host = def.Host
	}
	if c.Port == 0 {
		c.Port = def.Port
	}
	if c.S3Port == 0 {
		c.S3Port = def.S3Port
	}
	if c.Region == "" {
		c.Region = def.Region
	}
	if c.StandardMaxFileSize == 0 {
		c.StandardMaxFileSize = def.StandardMaxFileSize
	}
	if c.URLLengthLimit == 0 {
		c.URLLengthLimit = def.URLLengthLimit
	}
	if c.SignedURLTTL == 0 {
		c.SignedURLTTL = def.SignedURLTTL
	}
	if c.IcebergMaxTablesPerShard == 0 {
		c.IcebergMaxTablesPerShard = def.IcebergMaxTablesPerShard
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = def.SweepInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Server is the assembled gateway.
type Server struct {
	config *Config

	db       *dbgateway.Gateway
	blob     blobstore.Backend
	broker   *broker.Broker
	webhooks *webhook.Dispatcher
	sweeper  *lifecycle.Sweeper

	restApp *mizu.App
	s3App   *mizu.App

	mu        sync.Mutex
	running   bool
	cancelBg  context.CancelFunc
	restSrv   *http.Server
	s3Srv     *http.Server
	listeners []net.Listener
}

// tenantTargets adapts tenant.Resolver to webhook.TargetResolver.
type tenantTargets struct {
	tenants tenant.Resolver
}

func (r *tenantTargets) Resolve(ctx context.Context, tenantRef string) (*webhook.Target, bool) {
	t, ok, err := r.tenants.ByRef(ctx, tenantRef)
	if err != nil || !ok || t.WebhookURL == "" {
		return nil, false
	}
	return &webhook.Target{URL: t.WebhookURL, Secret: t.WebhookSecret}, true
}

// New connects the gateway's dependencies and assembles both HTTP apps.
// Call Start (or StartBackground) to begin serving.
func New(ctx context.Context, cfg *Config) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	} else {
		cfg.applyDefaults()
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("server: DatabaseURL is required")
	}
	if cfg.BlobDSN == "" {
		return nil, errors.New("server: BlobDSN is required")
	}

	db, err := dbgateway.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	blob, err := blobstore.Open(ctx, cfg.BlobDSN)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open blob backend: %w", err)
	}

	br, err := broker.New(ctx, cfg.DatabaseURL, cfg.Logger)
	if err != nil {
		db.Close()
		_ = blob.Close()
		return nil, fmt.Errorf("connect broker: %w", err)
	}
	for _, ch := range []string{
		broker.ChannelJWKSUpdate,
		broker.ChannelS3CredentialsUpdate,
		broker.ChannelRequestLockRelease,
	} {
		if err := br.Listen(ctx, ch); err != nil {
			db.Close()
			_ = blob.Close()
			br.Close()
			return nil, fmt.Errorf("listen %s: %w", ch, err)
		}
	}

	tenants := tenant.NewCache(tenant.NewStaticResolver(cfg.Tenants), br)
	webhooks := webhook.New(&tenantTargets{tenants: tenants}, cfg.Logger)

	coordinator := &lifecycle.Coordinator{
		DB:                  db,
		Blob:                blob,
		Webhooks:            webhooks,
		Logger:              cfg.Logger,
		StandardMaxFileSize: cfg.StandardMaxFileSize,
	}
	machine := &multipart.Machine{
		DB:          db,
		Blob:        blob,
		Lifecycle:   coordinator,
		SignSecret:  []byte(cfg.UploadSignSecret),
		StandardMax: cfg.StandardMaxFileSize,
	}
	locker := &tuslock.Locker{DB: db, Broker: br}

	ducklakeGen := ducklake.New(db.DuckLake(), cfg.Logger)

	restApp := mizu.New()
	restApp.SetLogger(cfg.Logger)

	restServer := &restapi.Server{
		DB:           db,
		Lifecycle:    coordinator,
		Multipart:    machine,
		Tenants:      tenants,
		DuckLake:     ducklakeGen,
		JWTSecret:    []byte(cfg.JWTSecret),
		Logger:       cfg.Logger,
		SignedURLTTL: cfg.SignedURLTTL,
	}
	restServer.Mount(restApp, "/storage/v1")

	tusHandler := &tus.Handler{
		DB:         db,
		Multipart:  machine,
		Locker:     locker,
		Hub:        tus.NewHub(),
		TenantFrom: restapi.TenantFromCtx,
		Logger:     cfg.Logger,
	}
	tusHandler.Mount(restApp, "/storage/v1/upload/resumable")

	if len(cfg.IcebergShardURLs) > 0 {
		tenantCatalog := &catalog.TenantCatalog{
			DB:      db,
			Backend: catalog.NewRESTClient(cfg.IcebergShardURLs, cfg.IcebergToken),
			Limits:  cfg.IcebergLimits,
			Logger:  cfg.Logger,
		}
		icebergHandler := &catalog.Handler{
			Catalog:    tenantCatalog,
			TenantFrom: restapi.TenantFromCtx,
			Logger:     cfg.Logger,
		}
		icebergHandler.Mount(restApp, "/iceberg/v1")
	}

	s3App := mizu.New()
	s3App.SetLogger(cfg.Logger)
	s3Server := &s3router.Server{
		DB:        db,
		Lifecycle: coordinator,
		Multipart: machine,
		Tenants:   tenants,
		Verifier:  sigv4.NewVerifier(cfg.Region, "s3", cfg.EnforceRegion),
		Logger:    cfg.Logger,
		Region:    cfg.Region,
	}
	s3Server.Mount(s3App, "")

	return &Server{
		config:   cfg,
		db:       db,
		blob:     blob,
		broker:   br,
		webhooks: webhooks,
		sweeper:  lifecycle.NewSweeper(coordinator),
		restApp:  restApp,
		s3App:    s3App,
	}, nil
}

// DB exposes the metadata gateway, mainly for the migrate CLI command.
func (s *Server) DB() *dbgateway.Gateway { return s.db }

// Migrate applies the schema and seeds the Iceberg shard pool.
func (s *Server) Migrate(ctx context.Context) error {
	if err := s.db.Migrate(ctx); err != nil {
		return err
	}
	if n := len(s.config.IcebergShardURLs); n > 0 {
		return s.db.EnsureShards(ctx, n, s.config.IcebergMaxTablesPerShard)
	}
	return nil
}

func (s *Server) restHandler() http.Handler {
	if !s.config.EnablePprof {
		return s.restApp
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/", s.restApp)
	return mux
}

// Start starts both listeners and the background jobs, blocking until
// Shutdown is called or a listener fails.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}

	restLn, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.config.Host, s.config.Port))
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen rest: %w", err)
	}
	s3Ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.config.Host, s.config.S3Port))
	if err != nil {
		restLn.Close()
		s.mu.Unlock()
		return fmt.Errorf("listen s3: %w", err)
	}
	s.listeners = []net.Listener{restLn, s3Ln}

	s.restSrv = &http.Server{
		Handler:           s.restHandler(),
		ReadTimeout:       s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.s3Srv = &http.Server{
		Handler:           s.s3App,
		ReadTimeout:       s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 16,
		ReadHeaderTimeout: 10 * time.Second,
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	s.cancelBg = cancel
	s.running = true
	s.mu.Unlock()

	s.sweeper.Interval = s.config.SweepInterval
	go s.sweeper.Run(bgCtx)

	s.config.Logger.Info("objectgate started",
		"rest_addr", restLn.Addr().String(),
		"s3_addr", s3Ln.Addr().String(),
		"region", s.config.Region,
		"blob_schemes", blobstore.RegisteredSchemes(),
	)

	var g errgroup.Group
	g.Go(func() error { return s.restSrv.Serve(restLn) })
	g.Go(func() error { return s.s3Srv.Serve(s3Ln) })
	if err := g.Wait(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// StartBackground starts the server in a goroutine and returns once both
// listeners are bound.
func (s *Server) StartBackground() error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	// Wait for listeners to come up (or the immediate failure).
	deadline := time.After(5 * time.Second)
	for {
		select {
		case err := <-errCh:
			return err
		case <-deadline:
			return errors.New("server: timed out waiting for listeners")
		default:
		}
		s.mu.Lock()
		ready := s.running && len(s.listeners) == 2
		s.mu.Unlock()
		if ready {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Shutdown gracefully stops the listeners, background jobs, and every
// connection pool.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancelBg
	restSrv, s3Srv := s.restSrv, s.s3Srv
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var g errgroup.Group
	if restSrv != nil {
		g.Go(func() error { return restSrv.Shutdown(ctx) })
	}
	if s3Srv != nil {
		g.Go(func() error { return s3Srv.Shutdown(ctx) })
	}
	err := g.Wait()

	s.webhooks.Close()
	s.broker.Close()
	_ = s.blob.Close()
	s.db.Close()
	return err
}
