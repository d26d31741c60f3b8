package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/oarkflow/permit"
	"github.com/oarkflow/permit/caches"
	"github.com/oarkflow/permit/httpguard"
	"github.com/oarkflow/permit/logger"
)

var (
	serveConfig    string
	serveAddr      string
	serveHeader    string
	serveAdminPerm string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the check API over HTTP",
	Long: `serve seeds an in-memory grant store from the config and exposes:

  POST /v1/check                              explain one CheckRequest
  GET  /v1/principals/{principalID}/effective roles, permissions and menus
  POST /v1/principals/{principalID}/invalidate drop the cached snapshot (admin)
  GET  /metrics                               prometheus counters

With the redis cache backend, invalidations are broadcast to peer instances.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, err := loadConfig(serveConfig)
		if err != nil {
			return err
		}
		var log permit.Logger = logger.NewPhusluLogger()
		reg := prometheus.NewRegistry()
		metrics, err := permit.NewMetrics(reg)
		if err != nil {
			return err
		}
		cache, closeCache, err := caches.FromConfig(ctx, cfg.Engine)
		if err != nil {
			return err
		}
		defer closeCache()

		hub := permit.NewInvalidationHub(permit.WithHubLogger(log))
		store := permit.NewMemoryGrantStore()
		opts := append(cfg.Engine.Options(),
			permit.WithCache(cache),
			permit.WithLogger(log),
			permit.WithMetrics(metrics),
			permit.WithInvalidationHub(hub),
		)
		engine, err := permit.NewEngine(store, opts...)
		if err != nil {
			return err
		}
		defer engine.Close()
		if err := engine.ApplyConfig(ctx, cfg, store); err != nil {
			return err
		}

		if cfg.Engine.CacheBackend == "redis" {
			client, err := caches.NewRedisClient(ctx, cfg.Engine.RedisAddr)
			if err != nil {
				return err
			}
			defer client.Close()
			bus := caches.NewRedisBus(client, cfg.Engine.RedisPrefix, log)
			hub.Subscribe(bus)
			go func() {
				if err := bus.Listen(ctx, engine.InvalidateLocal, nil); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("invalidation bus stopped", "error", err)
				}
			}()
		}
		hub.Start(ctx)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = hub.Stop(sctx)
		}()

		srv := &http.Server{
			Addr:              serveAddr,
			Handler:           newRouter(engine, reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()
		pterm.Info.Printfln("permit listening on %s", serveAddr)

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfig, "config", "c", "", "configuration file")
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")
	serveCmd.Flags().StringVar(&serveHeader, "principal-header", "X-Principal-ID", "header carrying the caller's principal id")
	serveCmd.Flags().StringVar(&serveAdminPerm, "admin-permission", "permit.admin", "permission required to invalidate snapshots")
	_ = serveCmd.MarkFlagRequired("config")
}

func newRouter(engine *permit.Engine, reg *prometheus.Registry) http.Handler {
	guard := httpguard.Guard{Engine: engine, Principal: httpguard.FromHeader(serveHeader), Logger: cliLogger()}

	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		r.Post("/check", httpguard.CheckHandler(engine))
		r.Get("/principals/{principalID}/effective", httpguard.EffectiveHandler(engine))
		r.With(guard.RequirePermission(serveAdminPerm)).Post("/principals/{principalID}/invalidate", func(w http.ResponseWriter, r *http.Request) {
			id, ok := httpguard.FromURLParam("principalID")(r)
			if !ok {
				http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
				return
			}
			if err := engine.Invalidate(r.Context(), id); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return r
}
