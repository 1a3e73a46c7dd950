package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kilnbuild/kiln/cmd/api/api"
	"github.com/kilnbuild/kiln/lib/logger"
	"github.com/kilnbuild/kiln/lib/middleware"
	kilnotel "github.com/kilnbuild/kiln/lib/otel"
	"github.com/kilnbuild/kiln/lib/providers"
)

func main() {
	ctx := providers.ProvideContext()
	log := providers.ProvideLogger()
	cfg := providers.ProvideConfig()

	meter, otelHandler, otelShutdown, err := kilnotel.Setup(ctx)
	if err != nil {
		log.Error("otel setup", "error", err)
		os.Exit(1)
	}
	if otelHandler != nil {
		log = slog.New(otelHandler)
	}
	slog.SetDefault(log)

	p := providers.ProvidePaths(cfg)
	store := providers.ProvideImageManager(p)
	resolver := providers.ProvideResolver(cfg)
	idx := providers.ProvideIndex(cfg)
	builder := providers.ProvideBuilder(cfg, resolver, idx, store)
	buildManager, err := providers.ProvideBuildManager(cfg, p, builder, log, meter)
	if err != nil {
		log.Error("build manager setup", "error", err)
		os.Exit(1)
	}
	reg := providers.ProvideRegistry(p, store)

	svc := api.New(cfg, store, buildManager, reg)
	handler := middleware.WithLogger(log)(svc.Router())

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler,
	}

	go func() {
		log.Info("listening", "port", cfg.Port, "data_dir", cfg.DataDir)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("serve", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(logger.WithContext(context.Background(), log), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", "error", err)
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		log.Error("otel shutdown", "error", err)
	}
}
