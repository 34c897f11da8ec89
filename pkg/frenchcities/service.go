// CLAUDE:SUMMARY Facade wiring configuration, cache backend, upstream clients, reference data and resolvers into one Service (find city, departments, vintage, imports, cache reset).
package frenchcities

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/time/rate"

	"github.com/hazyhaar/french-cities/pkg/ban"
	"github.com/hazyhaar/french-cities/pkg/cache"
	"github.com/hazyhaar/french-cities/pkg/cityfinder"
	"github.com/hazyhaar/french-cities/pkg/cog"
	"github.com/hazyhaar/french-cities/pkg/config"
	"github.com/hazyhaar/french-cities/pkg/departement"
	"github.com/hazyhaar/french-cities/pkg/geo"
	"github.com/hazyhaar/french-cities/pkg/httpx"
	"github.com/hazyhaar/french-cities/pkg/importer"
	"github.com/hazyhaar/french-cities/pkg/nominatim"
	"github.com/hazyhaar/french-cities/pkg/postal"
	"github.com/hazyhaar/french-cities/pkg/table"
	"github.com/hazyhaar/french-cities/pkg/vintage"
)

// Service is the entry point of the library.
type Service struct {
	cfg     config.Config
	logger  *slog.Logger
	store   cache.Store
	postal  *postal.Store
	sources *importer.SourceDB

	catalog   *cog.Cached
	ref       *cog.Reference
	projector *vintage.Projector
	deps      *departement.Resolver
	joiner    *geo.Joiner
	finder    *cityfinder.Finder
}

// Option adjusts how New builds a Service.
type Option func(*options)

type options struct {
	catalog    cog.Catalog
	store      cache.Store
	skipPostal bool
}

// WithCatalog replaces the INSEE catalog, for offline use.
func WithCatalog(c cog.Catalog) Option { return func(o *options) { o.catalog = c } }

// WithStore replaces the configured cache backend.
func WithStore(s cache.Store) Option { return func(o *options) { o.store = s } }

// SkipPostalImport leaves an empty postcode table empty.
func SkipPostalImport() Option { return func(o *options) { o.skipPostal = true } }

// New opens the caches and local tables under cfg.CacheDir and wires every
// collaborator. An empty postal table is imported from La Poste first.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	s := &Service{cfg: cfg, logger: logger, store: o.store}
	if s.store == nil {
		store, err := openStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s.store = store
	}
	var err error
	if s.postal, err = postal.OpenStore(filepath.Join(cfg.CacheDir, "postal.db")); err != nil {
		s.Close()
		return nil, err
	}
	if s.sources, err = importer.OpenSourceDB(filepath.Join(cfg.CacheDir, "sources.db")); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.sources.Seed(importer.All()); err != nil {
		s.Close()
		return nil, err
	}
	if cfg.Endpoints.Hexasmal != "" && cfg.Endpoints.Hexasmal != postal.DefaultHexasmalURL {
		if err := s.sources.SetURL("laposte-hexasmal", cfg.Endpoints.Hexasmal); err != nil {
			s.Close()
			return nil, err
		}
	}

	httpOpts := func(extra ...httpx.Option) []httpx.Option {
		return append([]httpx.Option{
			httpx.WithTimeout(cfg.HTTP.Timeout),
			httpx.WithMaxAttempts(cfg.HTTP.MaxAttempts),
			httpx.WithProxy(cfg.HTTP.Proxy),
			httpx.WithLogger(logger),
		}, extra...)
	}
	inseeClient := httpx.New("insee", httpOpts(
		httpx.WithRateLimit(rate.Limit(float64(cfg.INSEERatePerMinute)/60), 1))...)
	banClient := httpx.New("ban", httpOpts()...)
	cedexClient := httpx.New("cedex", httpOpts()...)
	wfsClient := httpx.New("wfs", httpOpts()...)
	nominatimClient := httpx.New("nominatim", httpOpts(
		httpx.WithRateLimit(rate.Limit(1), 1),
		httpx.WithUserAgent(cfg.NominatimUserAgent))...)

	catalog := o.catalog
	if catalog == nil {
		catalog = cog.NewINSEE(cfg.Endpoints.INSEE, inseeClient, cfg.INSEEToken)
	}
	s.catalog = cog.NewCached(catalog, s.store, cfg.RefreshAreas, logger)
	s.ref = cog.NewReference(s.catalog, s.store, cfg.Threads, logger)
	s.projector = vintage.New(s.ref, s.store, cfg.Threads, logger)

	geocoder := ban.New(cfg.Endpoints.BAN, banClient)
	cedex := postal.NewCedexClient(cfg.Endpoints.Cedex, cedexClient)
	s.deps = departement.New(s.ref, s.postal, geocoder, cedex, s.projector, s.store, cfg.Threads, logger)

	wfs := geo.NewWFS(cfg.Endpoints.WFS, cfg.Endpoints.WFSLayer, wfsClient)
	s.joiner = geo.NewJoiner(wfs, s.store, cfg.Threads, logger)
	places := nominatim.New(cfg.Endpoints.Nominatim, nominatimClient, s.store, logger)
	s.finder = cityfinder.New(s.ref, s.deps, s.projector, geocoder, s.joiner, places, cfg.Threads, logger)

	if !o.skipPostal {
		if err := s.ensurePostal(ctx); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func openStore(ctx context.Context, cfg config.Config) (cache.Store, error) {
	switch cfg.Cache.Backend {
	case config.BackendPostgres:
		return cache.OpenPostgres(ctx, cfg.Cache.DSN)
	case config.BackendRedis:
		return cache.OpenRedis(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPass, cfg.Cache.RedisDB)
	case config.BackendMemory:
		return cache.NewMemory(0), nil
	default:
		return cache.OpenSQLite(cfg.CacheDir)
	}
}

// ensurePostal imports the postcode table when the local copy is empty.
func (s *Service) ensurePostal(ctx context.Context) error {
	n, err := s.postal.Count(ctx)
	if err != nil {
		return fmt.Errorf("count postcodes: %w", err)
	}
	if n > 0 {
		return nil
	}
	s.logger.Info("postcode table empty, importing it")
	return s.Import(ctx, "laposte-hexasmal")
}

// FindCity resolves one city code per row. See cityfinder.Options.
func (s *Service) FindCity(ctx context.Context, t *table.Table, opts cityfinder.Options) (*table.Table, error) {
	return s.finder.FindCity(ctx, t, opts)
}

// FindDepartements adds a department column derived from postcodes, city codes or labels.
func (s *Service) FindDepartements(ctx context.Context, t *table.Table, opts departement.Options) (*table.Table, error) {
	return s.deps.FindDepartements(ctx, t, opts)
}

// SetVintage projects the city codes of field onto year.
func (s *Service) SetVintage(ctx context.Context, t *table.Table, year int, field string) (*table.Table, error) {
	return s.projector.SetVintage(ctx, t, year, field)
}

// Import runs one import adapter from its recorded source URL.
func (s *Service) Import(ctx context.Context, adapterID string) error {
	env := &importer.Env{WorkDir: s.cfg.CacheDir, Postal: s.postal, Cache: s.store, Logger: s.logger}
	if err := importer.Run(ctx, s.sources, adapterID, env); err != nil {
		return err
	}
	if a, _ := importer.Get(adapterID); a != nil && a.Target() == importer.TargetAreas {
		s.catalog.Reset()
		s.finder.Reset()
	}
	return nil
}

// Sources returns the import source registry.
func (s *Service) Sources() *importer.SourceDB { return s.sources }

// CheckSources checks every import source once.
func (s *Service) CheckSources(ctx context.Context) importer.CheckReport {
	return importer.NewChecker(s.sources, s.logger, s.cfg.CheckSourcesEvery).CheckAll(ctx)
}

// WatchSources checks import sources periodically until ctx is done.
func (s *Service) WatchSources(ctx context.Context) {
	importer.NewChecker(s.sources, s.logger, s.cfg.CheckSourcesEvery).Start(ctx)
}

// ClearCache empties every cache namespace and the in-process memoizations.
// The postcode table is kept.
func (s *Service) ClearCache(ctx context.Context) error {
	if err := cache.ClearAll(ctx, s.store); err != nil {
		return err
	}
	s.catalog.Reset()
	s.finder.Reset()
	s.joiner.Reset()
	s.logger.Info("cache cleared")
	return nil
}

// Close releases the stores.
func (s *Service) Close() error {
	var closers []interface{ Close() error }
	if s.sources != nil {
		closers = append(closers, s.sources)
	}
	if s.postal != nil {
		closers = append(closers, s.postal)
	}
	if s.store != nil {
		closers = append(closers, s.store)
	}
	var first error
	for _, c := range closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
