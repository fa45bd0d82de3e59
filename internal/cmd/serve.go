package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nordtext/annod/internal/config"
	"github.com/nordtext/annod/internal/observability"
	"github.com/nordtext/annod/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coordinator: HTTP API plus the queue reconciler",
	Long: `Start the coordinator process. It serves the job API over HTTP and runs
the reconciliation loop that polls running annotation jobs and starts
waiting ones.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if err := initLogging(cfg.Log.Level, cfg.Log.Development); err != nil {
		return err
	}
	log := observability.Logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := buildStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	srv := server.New(server.Config{
		Host:      cfg.Server.Host,
		Port:      cfg.Server.Port,
		SecretKey: cfg.Server.SecretKey,
		Importers: cfg.Sparv.Importers,
		Version:   versionInfo.Version,
	}, st.machine, st.store, st.queue, st.reconciler, st.catalog, st.backend, st.paths, log)
	srv.RegisterChecker("cache", cacheChecker{cache: st.cache})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := st.reconciler.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})

	log.Info("coordinator started", zap.String("version", versionInfo.Version))
	return g.Wait()
}
