// Command taskpoold wires a Pool to a registry of example tasks, an
// optional DuckDB-backed history store, and the admin HTTP API, then
// blocks until terminated.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/nodeswarm-go/taskpool/internal/adminapi"
	"github.com/nodeswarm-go/taskpool/internal/config"
	"github.com/nodeswarm-go/taskpool/internal/history"
	"github.com/nodeswarm-go/taskpool/internal/jobregistry"
	"github.com/nodeswarm-go/taskpool/internal/workerproc"
	"github.com/nodeswarm-go/taskpool/pkg/pool"
)

func main() {
	if err := run(); err != nil {
		zap.S().Fatalw("taskpoold exited with error", "error", err)
	}
}

func run() error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	v := viper.New()
	v.SetEnvPrefix("TASKPOOL")
	v.AutomaticEnv()
	cfg, err := config.LoadFromViper(v)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	registry := jobregistry.New()
	registerBuiltinTasks(registry)

	runtime := workerproc.New(registry)
	p := pool.New(cfg, runtime, poolOptions(v, logger)...)

	httpSrv := &http.Server{
		Addr:    v.GetString("admin_addr"),
		Handler: adminapi.NewRouter(p, logger),
	}
	if httpSrv.Addr == "" {
		httpSrv.Addr = ":8080"
	}

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.S().Errorw("admin api server stopped unexpectedly", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	zap.S().Infow("shutdown signal received, draining pool")
	select {
	case <-p.Close():
	case <-time.After(30 * time.Second):
		zap.S().Warnw("pool did not drain in time, terminating")
		p.Terminate()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// poolOptions wires an optional history recorder when a data directory is
// configured. Without one, job history is simply not recorded — Pool
// works fine with historyRecorder left nil.
func poolOptions(v *viper.Viper, logger *zap.Logger) []pool.Option {
	dataDir := v.GetString("history_path")
	if dataDir == "" {
		return nil
	}

	db, err := history.NewDB(dataDir)
	if err != nil {
		zap.S().Errorw("failed to open history store, continuing without it", "error", err)
		return nil
	}
	store := history.NewStore(db)
	if err := store.Migrate(context.Background()); err != nil {
		zap.S().Errorw("failed to migrate history store, continuing without it", "error", err)
		return nil
	}
	return []pool.Option{pool.WithHistoryRecorder(store)}
}
