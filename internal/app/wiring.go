package app

import (
	"context"
	"fmt"
	"net/http"

	apihttp "tlcharts/internal/api/http"
	"tlcharts/internal/api/http/handlers"
	"tlcharts/internal/api/http/mw"
	"tlcharts/internal/config"
	"tlcharts/internal/logging"
	"tlcharts/internal/metrics"
	"tlcharts/internal/security"

	"github.com/grafana/pyroscope-go"
	"gitlab.com/nevasik7/alerting/logger"
)

type Container struct {
	log  logger.Logger
	app  *App
	core *Core

	// servers
	httpSrv *apihttp.Server

	// metrics
	profiler *pyroscope.Profiler
}

func (c *Container) Start(errCh chan<- error) error {
	return c.app.Start(errCh)
}

func (c *Container) Stop(ctx context.Context) error {
	if err := c.app.Shutdown(ctx); err != nil {
		return fmt.Errorf("app shutdown is failed, error=%w", err)
	}
	return nil
}

// Construct image app
func Build(ctx context.Context, cfg *config.Config) (*Container, func(), error) {
	lg := logging.New(&cfg.Logging)
	lg.Info("Successfully initialize logger")

	profiler, err := metrics.InitPProf(&cfg.Metrics.Pyroscope, cfg.App.InstanceID)
	if err != nil {
		return nil, nil, fmt.Errorf("pyroscope initialize failed: %w", err)
	}
	if profiler != nil {
		lg.Infof("Successfully initialize Pyroscope to %s as %s", cfg.Metrics.Pyroscope.ServerAddr, cfg.Metrics.Pyroscope.AppName)
	}

	core, err := BuildCore(ctx, cfg, lg)
	if err != nil {
		stopProfiler(lg, profiler)
		return nil, nil, err
	}

	var verifier *security.RS256Verifier
	if cfg.Security.JWT.Enabled {
		if verifier, err = security.NewRS256Verifier(&cfg.Security.JWT); err != nil {
			_ = core.Close(ctx)
			stopProfiler(lg, profiler)
			return nil, nil, fmt.Errorf("init jwt verifier: %w", err)
		}
		lg.Info("Successfully initialize JWT-Verifier")
	}

	router := buildRouter(lg, cfg, core, verifier)
	httpSrv := apihttp.NewServer(lg, &cfg.API.HTTP, router)
	lg.Info("Successfully initialize HTTP server")

	var bg []Background
	if core.Redis != nil {
		p := newStatsPersister(lg, core.Redis, core.Stats, cfg.App.InstanceID, cfg.App.StatsTick)
		if err := p.Load(ctx); err != nil {
			lg.Warnf("Query stats start empty: %v", err)
		}
		bg = append(bg, p)
	}

	c := &Container{
		log:      lg,
		app:      New(lg, httpSrv, bg...),
		core:     core,
		httpSrv:  httpSrv,
		profiler: profiler,
	}

	cleanupF := func() {
		ctxClean, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()

		if err := c.core.Close(ctxClean); err != nil {
			lg.Errorf("Failed to close by cleanupF core: %v", err)
		}
		stopProfiler(lg, c.profiler)

		lg.Info("Successfully cleaned up dependency")
	}

	lg.Info("Successfully initialize Wiring")
	return c, cleanupF, nil
}

func buildRouter(lg logger.Logger, cfg *config.Config, core *Core, verifier *security.RS256Verifier) http.Handler {
	h := handlers.NewHandler(handlers.Deps{
		Log:       lg,
		Charts:    core.Charts,
		Data:      core.Data,
		Catalog:   core.Catalog,
		Stats:     core.Stats,
		Readiness: core.Health,
	})

	m := apihttp.Middlewares{
		Log:  mw.NewLogging(lg, core.Metrics),
		Gzip: mw.NewGzip(cfg.API.HTTP.GzipLevel, lg),
	}
	if cfg.API.HTTP.CORS.Enabled {
		m.CORS = mw.NewCORSConfig(&cfg.API.HTTP.CORS)
	}
	if cfg.RateLimit.Enabled {
		m.RateLimit = mw.NewRateLimit(&cfg.RateLimit, core.Redis, verifier, lg)
	}
	if verifier != nil {
		// verifier was built from the same config, cannot be nil here
		m.JWT, _ = mw.NewJWTMiddleware(verifier)
	}

	var metricsH http.Handler
	if cfg.Metrics.Prometheus {
		metricsH = core.Metrics.Handler()
	}

	return apihttp.BuildRouter(h, m, metricsH)
}

func stopProfiler(lg logger.Logger, p *pyroscope.Profiler) {
	if p == nil {
		return
	}
	if err := p.Stop(); err != nil {
		lg.Errorf("Failed to stop profiler: %v", err)
	}
}
