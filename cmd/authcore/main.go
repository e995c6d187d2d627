package main

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/authcore/internal/config"
	"github.com/dropDatabas3/authcore/internal/metrics"
	"github.com/dropDatabas3/authcore/internal/observability/logger"
	tokens "github.com/dropDatabas3/authcore/internal/security/token"
	"github.com/dropDatabas3/authcore/internal/store/pg"
	migrations "github.com/dropDatabas3/authcore/migrations/postgres"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "authcore",
		Short: "Core de sesiones y verificación step-up (MFA)",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "Path al YAML de configuración")

	root.AddCommand(migrateCmd(&configPath))
	root.AddCommand(sweepCmd(&configPath))
	root.AddCommand(secretCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func boot(configPath string) (*config.Config, *pg.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("config load: %w", err)
	}
	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level, ServiceName: "authcore"})

	if cfg.Storage.DSN == "" {
		return nil, nil, fmt.Errorf("storage.dsn is required (env STORAGE_DSN)")
	}
	store, err := pg.New(context.Background(), cfg.Storage.DSN, pg.Config{
		MaxOpenConns:    cfg.Storage.Postgres.MaxOpenConns,
		MinConns:        cfg.Storage.Postgres.MinConns,
		ConnMaxLifetime: cfg.Storage.Postgres.ConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("pg connect: %w", err)
	}
	return cfg, store, nil
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Aplica las migraciones embebidas (*_up.sql en orden)",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := boot(*configPath)
			if err != nil {
				return err
			}
			defer store.Close()
			defer logger.Sync()

			files, err := fs.Glob(migrations.FS, "*_up.sql")
			if err != nil {
				return err
			}
			sort.Strings(files)

			ctx := cmd.Context()
			log := logger.Named("migrate")
			for _, f := range files {
				sql, err := fs.ReadFile(migrations.FS, f)
				if err != nil {
					return err
				}
				if _, err := store.Pool().Exec(ctx, string(sql)); err != nil {
					return fmt.Errorf("exec %s: %w", f, err)
				}
				log.Info("migration applied", logger.String("file", f))
			}
			log.Info("migrations completed", logger.Int("count", len(files)))
			return nil
		},
	}
}

func sweepCmd(configPath *string) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Daemon de limpieza: sesiones/challenges/buckets expirados + /metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := boot(*configPath)
			if err != nil {
				return err
			}
			defer store.Close()
			defer logger.Sync()
			log := logger.Named("sweep")

			runSweep := func(ctx context.Context) error {
				g, ctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					n, err := store.DeleteExpired(ctx, cfg.Session.AbsoluteMaxAge.Std())
					if err != nil {
						return fmt.Errorf("sessions: %w", err)
					}
					metrics.SweepDeleted("sessions", n)
					return nil
				})
				g.Go(func() error {
					n, err := store.DeleteResolved(ctx, cfg.Ops.Retention.Std())
					if err != nil {
						return fmt.Errorf("challenges: %w", err)
					}
					metrics.SweepDeleted("challenges", n)
					return nil
				})
				g.Go(func() error {
					n, err := store.Rate().DeleteExpired(ctx)
					if err != nil {
						return fmt.Errorf("buckets: %w", err)
					}
					metrics.SweepDeleted("buckets", n)
					return nil
				})
				return g.Wait()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if once {
				return runSweep(ctx)
			}

			// Listener de ops: /healthz + /metrics
			r := chi.NewRouter()
			r.Use(chimw.Recoverer)
			r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("ok"))
			})
			r.Handle("/metrics", metrics.Register(nil))

			srv := &http.Server{Addr: cfg.Ops.Addr, Handler: r}
			go func() {
				log.Info("ops listener started", logger.String("addr", cfg.Ops.Addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("ops listener failed", logger.Err(err))
				}
			}()

			ticker := time.NewTicker(cfg.Ops.SweepInterval.Std())
			defer ticker.Stop()
			for {
				if err := runSweep(ctx); err != nil {
					log.Error("sweep failed", logger.Err(err))
				} else {
					log.Debug("sweep completed")
				}
				select {
				case <-ctx.Done():
					shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutCtx)
				case <-ticker.C:
				}
			}
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Correr una sola pasada y salir")
	return cmd
}

func secretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "secret",
		Short: "Genera un signing secret nuevo (para SIGNING_SECRET)",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := tokens.GenerateOpaqueToken(32)
			if err != nil {
				return err
			}
			fmt.Println(s)
			return nil
		},
	}
}
