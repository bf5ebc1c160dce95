// Command prerender walks a field archive and renders tiles into a tile
// store ahead of serving, so the first viewer of an hour never waits on a
// render. Tiles already stored are skipped unless -force is given.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/teris-io/shortid"
	"golang.org/x/sync/errgroup"
	pb "gopkg.in/cheggaaa/pb.v1"

	"github.com/Antel0pe/stormtiles/archive"
	"github.com/Antel0pe/stormtiles/gridtile"
	"github.com/Antel0pe/stormtiles/tilestore"
)

const appName = "stormtiles-prerender"

func main() {
	var (
		source   = flag.String("source", "data/era5.wfar", "field archive path or http(s) URL")
		mbtiles  = flag.String("mbtiles", "tiles.mbtiles", "mbtiles file to render into")
		valkey   = flag.String("valkey", "", "valkey address to render into instead of an mbtiles file")
		products = flag.String("products", "gph,wind-uv,temp", "comma separated products")
		levels   = flag.String("levels", "500", "comma separated pressure levels")
		from     = flag.String("from", "", "first datehour to render (default: start of archive)")
		to       = flag.String("to", "", "last datehour to render (default: end of archive)")
		workers  = flag.Int("workers", 4, "concurrent renders")
		force    = flag.Bool("force", false, "re-render tiles that are already stored")
		logLevel = flag.String("log-level", "INFO", "log level")
	)
	flag.Parse()

	logger := createLogger(*logLevel)
	id, _ := shortid.Generate()
	logger = logger.With("run", id)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	window, err := parseWindow(*from, *to)
	if err != nil {
		logger.Error("invalid time window", "error", err)
		os.Exit(1)
	}

	rd, err := openArchive(ctx, *source, logger)
	if err != nil {
		logger.Error("failed to open field archive", "source", *source, "error", err)
		os.Exit(1)
	}

	store, err := openStore(*valkey, *mbtiles, logger)
	if err != nil {
		rd.Close()
		logger.Error("failed to open tile store", "error", err)
		os.Exit(1)
	}

	registry := gridtile.DefaultRegistry()
	pipeline := tilestore.NewPipeline(rd, store, gridtile.NewRenderer(registry, logger), logger)

	jobs, err := buildJobs(registry, rd.Times(), *products, *levels, window)
	if err != nil {
		store.Close()
		rd.Close()
		logger.Error("failed to plan render jobs", "error", err)
		os.Exit(1)
	}
	if len(jobs) == 0 {
		logger.Warn("nothing to render", "products", *products, "levels", *levels)
		return
	}
	logger.Info("starting prerender", "jobs", len(jobs), "workers", *workers, "force", *force)

	bar := pb.New64(int64(len(jobs))).Prefix("render : ")
	bar.Start()

	var rendered, skipped, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(*workers)

	for _, key := range jobs {
		g.Go(func() error {
			defer bar.Increment()
			if ctx.Err() != nil {
				return nil
			}

			if *force {
				if _, err := pipeline.Refresh(ctx, key); err != nil {
					failed.Add(1)
					logger.Error("render failed", "key", key.String(), "error", err)
				} else {
					rendered.Add(1)
				}
				return nil
			}

			_, cached, err := pipeline.Tile(ctx, key)
			switch {
			case err != nil:
				failed.Add(1)
				logger.Error("render failed", "key", key.String(), "error", err)
			case cached:
				skipped.Add(1)
			default:
				rendered.Add(1)
			}
			return nil
		})
	}
	g.Wait()
	bar.FinishPrint(fmt.Sprintf("run %s finished ~", id))

	if err := store.Close(); err != nil {
		logger.Error("tile store close error", "error", err)
	}
	rd.Close()

	logger.Info("prerender summary",
		"jobs", len(jobs),
		"rendered", rendered.Load(),
		"skipped", skipped.Load(),
		"failed", failed.Load())
	if ctx.Err() != nil {
		logger.Warn("run interrupted before completion")
	}
	if failed.Load() > 0 {
		os.Exit(1)
	}
}

// window bounds the archive hours to render; zero ends are open.
type window struct {
	from, to time.Time
}

func parseWindow(from, to string) (window, error) {
	var w window
	var err error
	if from != "" {
		if w.from, err = tilestore.ParseDateHour(from); err != nil {
			return w, err
		}
	}
	if to != "" {
		if w.to, err = tilestore.ParseDateHour(to); err != nil {
			return w, err
		}
	}
	if !w.from.IsZero() && !w.to.IsZero() && w.to.Before(w.from) {
		return w, fmt.Errorf("-to %s is before -from %s", to, from)
	}
	return w, nil
}

func (w window) contains(t time.Time) bool {
	if !w.from.IsZero() && t.Before(w.from) {
		return false
	}
	if !w.to.IsZero() && t.After(w.to) {
		return false
	}
	return true
}

// buildJobs expands products × levels × archive hours into tile keys. Static
// products yield one timeless key; products without a level dimension render
// at level 0 regardless of -levels.
func buildJobs(registry *gridtile.Registry, times []time.Time, productsCSV, levelsCSV string, w window) ([]tilestore.Key, error) {
	levels, err := parseLevels(levelsCSV)
	if err != nil {
		return nil, err
	}

	hours := make([]time.Time, 0, len(times))
	for _, t := range times {
		if w.contains(t) {
			hours = append(hours, t)
		}
	}

	var jobs []tilestore.Key
	for _, name := range strings.Split(productsCSV, ",") {
		kind := gridtile.ProductKind(strings.TrimSpace(name))
		if kind == "" {
			continue
		}
		prod, err := registry.Product(kind)
		if err != nil {
			return nil, err
		}

		if prod.Static {
			jobs = append(jobs, tilestore.Key{Product: kind})
			continue
		}

		prodLevels := levels
		if len(prod.Levels) == 0 {
			prodLevels = []int{0}
		}
		for _, level := range prodLevels {
			if !prod.HasLevel(level) {
				continue
			}
			for _, t := range hours {
				jobs = append(jobs, tilestore.Key{Product: kind, Level: level, Time: t})
			}
		}
	}
	return jobs, nil
}

func parseLevels(csv string) ([]int, error) {
	var levels []int
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		level, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid level %q", part)
		}
		levels = append(levels, level)
	}
	return levels, nil
}

func openArchive(ctx context.Context, source string, logger *slog.Logger) (*archive.Reader, error) {
	logger.Info("opening field archive", "source", source)
	if strings.HasPrefix(source, "http") {
		r, err := archive.NewHTTPRangeReader(ctx, source, nil)
		if err != nil {
			return nil, err
		}
		return archive.Open(r, r.Size())
	}
	return archive.OpenFile(source)
}

func openStore(valkeyAddr, mbtilesPath string, logger *slog.Logger) (tilestore.Store, error) {
	if valkeyAddr != "" {
		logger.Info("rendering into valkey", "address", valkeyAddr)
		return tilestore.NewValkey(valkeyAddr, 0)
	}
	logger.Info("rendering into mbtiles", "path", mbtilesPath)
	return tilestore.NewMBTiles(mbtilesPath)
}

func createLogger(level string) *slog.Logger {
	var programLevel slog.Level
	switch strings.ToUpper(level) {
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
	// Logs go to stderr; stdout belongs to the progress bar.
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: programLevel,
	}).WithAttrs([]slog.Attr{slog.String("app", appName)})
	return slog.New(handler)
}
