// main.go
package main

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	grpcprom "github.com/grpc-ecosystem/go-grpc-middleware/providers/prometheus"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/Antel0pe/stormtiles/archive"
	"github.com/Antel0pe/stormtiles/gridtile"
	"github.com/Antel0pe/stormtiles/tilestore"
)

const appName = "stormtiles"

//go:embed static
var staticFS embed.FS

var (
	grpcHealthServer  *grpc.Server
	httpMetricsServer *http.Server
	httpTileServer    *http.Server
	grpcMetrics       = grpcprom.NewServerMetrics(grpcprom.WithServerHandlingTimeHistogram(
		grpcprom.WithHistogramBuckets([]float64{0.01, 0.1, 0.3, 0.6, 1, 3, 6, 9}),
	))
)

// Config holds all configuration for the application, loaded from environment variables.
type Config struct {
	LogLevel        string `env:"LOG_LEVEL" envDefault:"INFO"`
	HTTPPort        int    `env:"HTTP_PORT" envDefault:"8080"`
	HealthPort      int    `env:"HEALTH_PORT" envDefault:"6666"`
	HTTPMetricsPort int    `env:"METRICS_PORT" envDefault:"8888"`

	// ArchiveSource is a local path or an http(s) URL; remote archives are
	// mounted with range requests and never downloaded whole.
	ArchiveSource string `env:"ARCHIVE_SOURCE" envDefault:"data/era5.wfar"`

	StoreBackend string        `env:"STORE_BACKEND" envDefault:"memory"`
	MBTilesPath  string        `env:"MBTILES_PATH" envDefault:"tiles.mbtiles"`
	ValkeyAddr   string        `env:"VALKEY_ADDR" envDefault:"localhost:6379"`
	ValkeyTTL    time.Duration `env:"VALKEY_TTL" envDefault:"0"`

	// MemoryCache fronts a persistent backend with an in-process LRU.
	MemoryCache       bool          `env:"MEMORY_CACHE" envDefault:"true"`
	CacheMaxSize      int64         `env:"CACHE_MAX_SIZE" envDefault:"1024"`
	CacheItemsToPrune uint32        `env:"CACHE_ITEMS_TO_PRUNE" envDefault:"100"`
	CacheTTL          time.Duration `env:"CACHE_TTL" envDefault:"10m"`
}

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		fmt.Printf("failed to parse config: %+v\n", err)
		os.Exit(1)
	}

	logger := createLogger(cfg, appName)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	g, ctx := errgroup.WithContext(ctx)

	rd, err := setupArchive(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open field archive, shutting down", "error", err)
		os.Exit(1)
	}

	store, err := setupTileStore(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize tile store, shutting down", "error", err)
		os.Exit(1)
	}

	registry := gridtile.DefaultRegistry()
	renderer := gridtile.NewRenderer(registry, logger)
	pipeline := tilestore.NewPipeline(rd, store, renderer, logger)

	healthServer := health.NewServer()

	// gRPC Health Server
	g.Go(func() error {
		return startHealthServer(logger, cfg, healthServer)
	})

	// HTTP Metrics Server (Prometheus)
	g.Go(func() error {
		return startMetricsServer(logger, cfg)
	})

	// HTTP Tile & Web UI Server
	g.Go(func() error {
		return startTileServer(logger, cfg, healthServer, pipeline, registry)
	})

	// Wait for termination signal or an error from one of the services
	select {
	case <-interrupt:
		slog.Warn("received termination signal, starting graceful shutdown")
		cancel()
	case <-ctx.Done():
		slog.Warn("context cancelled, starting graceful shutdown")
	}

	// Graceful Shutdown
	healthServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if httpMetricsServer != nil {
		if err := httpMetricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP metrics server shutdown error", "error", err)
		}
	}
	if httpTileServer != nil {
		if err := httpTileServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP tile server shutdown error", "error", err)
		}
	}
	if grpcHealthServer != nil {
		grpcHealthServer.GracefulStop()
	}

	// Wait for all services in the errgroup to finish
	err = g.Wait()

	if cerr := store.Close(); cerr != nil {
		slog.Error("tile store close error", "error", cerr)
	}
	if cerr := rd.Close(); cerr != nil {
		slog.Error("archive close error", "error", cerr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server group returned an error", "error", err)
		os.Exit(2)
	}
}

func startHealthServer(logger *slog.Logger, cfg Config, healthServer *health.Server) error {
	addr := fmt.Sprintf(":%d", cfg.HealthPort)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gRPC health server failed to listen: %w", err)
	}

	lopts := []logging.Option{logging.WithLogOnEvents(logging.StartCall, logging.FinishCall)}
	grpcHealthServer = grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			logging.UnaryServerInterceptor(
				InterceptorLogger(logger),
				lopts...),
			grpcMetrics.UnaryServerInterceptor(),
		),
	)
	healthpb.RegisterHealthServer(grpcHealthServer, healthServer)
	reflection.Register(grpcHealthServer) // Enable reflection for tools like grpcurl
	logger.Info("gRPC health server listening", "address", addr)
	return grpcHealthServer.Serve(lis)
}

func startMetricsServer(logger *slog.Logger, cfg Config) error {
	addr := fmt.Sprintf(":%d", cfg.HTTPMetricsPort)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	prometheus.MustRegister(grpcMetrics)

	httpMetricsServer = &http.Server{Addr: addr, Handler: mux}
	logger.Info("HTTP metrics server listening", "address", addr)

	if err := httpMetricsServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("HTTP metrics server failed: %w", err)
	}
	return nil
}

func startTileServer(logger *slog.Logger, cfg Config, healthServer *health.Server, pipeline *tilestore.Pipeline, registry *gridtile.Registry) error {
	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	mux := http.NewServeMux()

	mux.HandleFunc("/tiles/", tilesHandler(pipeline, registry, logger))
	mux.HandleFunc("/gph/", gphHandler(pipeline, registry, logger))
	mux.HandleFunc("/products", productsHandler(registry))

	// Handle embedded Web UI
	contentFS, err := fs.Sub(staticFS, "static")
	if err != nil {
		return fmt.Errorf("failed to create sub-filesystem for web UI: %w", err)
	}
	mux.Handle("/", http.FileServer(http.FS(contentFS)))

	httpTileServer = &http.Server{Addr: addr, Handler: mux}
	healthServer.SetServingStatus(appName, healthpb.HealthCheckResponse_SERVING)
	logger.Info("HTTP tile server listening", "address", addr)

	if err := httpTileServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("HTTP tile server failed: %w", err)
	}
	return nil
}

// tilesHandler serves GET /tiles/{product}/{level}/{datehour}.
func tilesHandler(pipeline *tilestore.Pipeline, registry *gridtile.Registry, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/tiles/"), "/")
		if len(parts) != 3 {
			http.Error(w, "invalid URL format, want /tiles/{product}/{level}/{datehour}", http.StatusBadRequest)
			return
		}
		serveTile(w, r, pipeline, registry, logger, gridtile.ProductKind(parts[0]), parts[1], parts[2])
	}
}

// gphHandler serves GET /gph/{datehour}, the historical route for
// geopotential height at 500 hPa.
func gphHandler(pipeline *tilestore.Pipeline, registry *gridtile.Registry, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		datehour := strings.TrimPrefix(r.URL.Path, "/gph/")
		if datehour == "" || strings.Contains(datehour, "/") {
			http.Error(w, "invalid URL format, want /gph/{datehour}", http.StatusBadRequest)
			return
		}
		serveTile(w, r, pipeline, registry, logger, gridtile.ProductGPH, "500", datehour)
	}
}

func serveTile(w http.ResponseWriter, r *http.Request, pipeline *tilestore.Pipeline, registry *gridtile.Registry, logger *slog.Logger, kind gridtile.ProductKind, levelPart, datehourPart string) {
	prod, err := registry.Product(kind)
	if err != nil {
		http.Error(w, fmt.Sprintf("unknown product %q", kind), http.StatusNotFound)
		return
	}

	level, err := strconv.Atoi(levelPart)
	if err != nil {
		http.Error(w, "invalid level", http.StatusBadRequest)
		return
	}
	if !prod.HasLevel(level) {
		http.Error(w, fmt.Sprintf("product %q is not served at level %d", kind, level), http.StatusNotFound)
		return
	}

	key := tilestore.Key{Product: kind, Level: level}
	if !prod.Static {
		at, err := tilestore.ParseDateHour(datehourPart)
		if err != nil {
			http.Error(w, "invalid datehour format", http.StatusBadRequest)
			return
		}
		key.Time = at
	}

	tile, cached, err := pipeline.Tile(r.Context(), key)
	if err != nil {
		if errors.Is(err, tilestore.ErrNotFound) {
			http.Error(w, fmt.Sprintf("no data for %s", key), http.StatusNotFound)
			return
		}
		logger.Error("tile request failed", "key", key.String(), "error", err)
		http.Error(w, "failed to produce tile", http.StatusInternalServerError)
		return
	}
	logger.Debug("served tile", "key", key.String(), "cached", cached, "bytes", len(tile.Data))

	h := w.Header()
	h.Set("Content-Type", "image/png")
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Expose-Headers", "X-Bounds, X-Size")
	h.Set("X-Bounds", tile.BoundsString())
	h.Set("X-Size", tile.Size())
	// A tile address never changes meaning, so clients may cache forever.
	h.Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Write(tile.Data)
}

// productInfo is the JSON shape of one catalog entry, documenting how the
// pixel bytes of that product are to be decoded.
type productInfo struct {
	Kind     string                      `json:"kind"`
	Title    string                      `json:"title"`
	Vars     []string                    `json:"vars"`
	Encoding string                      `json:"encoding"`
	Scaling  string                      `json:"scaling,omitempty"`
	Static   bool                        `json:"static,omitempty"`
	Levels   []int                       `json:"levels,omitempty"`
	Channels map[string]string           `json:"channels"`
	Ranges   map[string][]gridtile.Range `json:"ranges,omitempty"`
}

func productsHandler(registry *gridtile.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		products := registry.Products()
		out := make([]productInfo, 0, len(products))
		for _, p := range products {
			info := productInfo{
				Kind:     string(p.Kind),
				Title:    p.Title,
				Vars:     p.Vars,
				Encoding: string(p.Encoding),
				Scaling:  string(p.Scaling),
				Static:   p.Static,
				Levels:   p.Levels,
				Channels: map[string]string{
					"r": p.Channels[0],
					"g": p.Channels[1],
					"b": p.Channels[2],
					"a": p.Channels[3],
				},
			}
			levels := p.Levels
			if len(levels) == 0 {
				levels = []int{0}
			}
			for _, level := range levels {
				ranges, err := registry.Ranges(p.Kind, level)
				if err != nil {
					continue
				}
				if info.Ranges == nil {
					info.Ranges = make(map[string][]gridtile.Range)
				}
				info.Ranges[strconv.Itoa(level)] = ranges
			}
			out = append(out, info)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		json.NewEncoder(w).Encode(out)
	}
}

func setupArchive(ctx context.Context, cfg Config, logger *slog.Logger) (*archive.Reader, error) {
	logger.Info("opening field archive", "source", cfg.ArchiveSource)
	if strings.HasPrefix(cfg.ArchiveSource, "http") {
		r, err := archive.NewHTTPRangeReader(ctx, cfg.ArchiveSource, nil) // Using default client
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP reader for archive: %w", err)
		}
		return archive.Open(r, r.Size())
	}
	return archive.OpenFile(cfg.ArchiveSource)
}

func setupTileStore(cfg Config, logger *slog.Logger) (tilestore.Store, error) {
	var backend tilestore.Store
	switch cfg.StoreBackend {
	case "mbtiles":
		s, err := tilestore.NewMBTiles(cfg.MBTilesPath)
		if err != nil {
			return nil, err
		}
		logger.Info("tile store ready", "backend", "mbtiles", "path", cfg.MBTilesPath)
		backend = s
	case "valkey":
		s, err := tilestore.NewValkey(cfg.ValkeyAddr, cfg.ValkeyTTL)
		if err != nil {
			return nil, err
		}
		logger.Info("tile store ready", "backend", "valkey", "address", cfg.ValkeyAddr)
		backend = s
	case "memory":
		logger.Info("tile store ready", "backend", "memory", "max_size", cfg.CacheMaxSize)
		return tilestore.NewMemory(cfg.CacheMaxSize, cfg.CacheItemsToPrune, cfg.CacheTTL), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	if cfg.MemoryCache {
		logger.Info("fronting tile store with memory cache", "max_size", cfg.CacheMaxSize, "items_to_prune", cfg.CacheItemsToPrune)
		return tilestore.NewTiered(tilestore.NewMemory(cfg.CacheMaxSize, cfg.CacheItemsToPrune, cfg.CacheTTL), backend), nil
	}
	return backend, nil
}

func createLogger(cfg Config, appName string) *slog.Logger {
	var programLevel slog.Level
	switch strings.ToUpper(cfg.LogLevel) {
	case "DEBUG":
		programLevel = slog.LevelDebug
	case "INFO":
		programLevel = slog.LevelInfo
	case "WARN":
		programLevel = slog.LevelWarn
	case "ERROR":
		programLevel = slog.LevelError
	default:
		programLevel = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     programLevel,
		AddSource: programLevel <= slog.LevelDebug,
	}).WithAttrs([]slog.Attr{slog.String("app", appName)})
	return slog.New(handler)
}

func InterceptorLogger(l *slog.Logger) logging.Logger {
	return logging.LoggerFunc(func(ctx context.Context, lvl logging.Level, msg string, fields ...any) {
		l.Log(ctx, slog.Level(lvl), msg, fields...)
	})
}
