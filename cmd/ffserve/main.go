// Command ffserve runs a print host exposing printer addresses and uploads over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arloliu/go-flashforge/api"
	"github.com/arloliu/go-flashforge/device"
	"github.com/arloliu/go-flashforge/gx"
	"github.com/arloliu/go-flashforge/internal/config"
	"github.com/arloliu/go-flashforge/logger"
	"github.com/arloliu/go-flashforge/settings"
)

var log logger.Logger

func openStore(path string) (settings.Store, func(), error) {
	if path == "" {
		log.Warn("no store path configured, printer addresses are kept in memory")
		return settings.NewMemoryStore(), func() {}, nil
	}

	store, err := settings.OpenBoltStore(path)
	if err != nil {
		return nil, nil, err
	}

	return store, func() { _ = store.Close() }, nil
}

func main() {
	configPath := flag.String("config", "", "TOML configuration file")
	listen := flag.String("listen", "", "HTTP listen address, overrides [server] listen")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			logger.Fatal("failed to load config", "path", *configPath, "error", err)
		}
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}

	log = logger.NewSlog(cfg.Level(), false)
	logger.SetLogger(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := openStore(cfg.Store.Path)
	if err != nil {
		log.Fatal("failed to open store", "path", cfg.Store.Path, "error", err)
	}
	defer closeStore()

	book := settings.NewAddressBook(store,
		settings.WithIdentity(settings.FixedIdentity(cfg.Printer.Identity)),
		settings.WithLogger(log),
	)

	if cfg.Printer.Address != "" {
		if _, err := book.Save(cfg.Printer.Address); err != nil {
			log.Fatal("failed to save printer address", "error", err)
		}
	}

	registry := device.NewRegistry(ctx, book,
		device.WithEncoder(gx.NewEncoder(cfg.EncoderOptions(log)...)),
		device.WithTransferOptions(cfg.TransferOptions()...),
		device.WithLogger(log),
	)
	defer registry.Close()

	if err := registry.RefreshAll(); err != nil {
		log.Fatal("failed to load printers", "error", err)
	}

	server := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           api.NewRouter(registry, book, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("starting HTTP server", "listen", cfg.Server.Listen, "printers", registry.Len())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("failed to start HTTP server", "error", err)
		}
	}()

	exitSig := make(chan os.Signal, 1)
	signal.Notify(exitSig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	<-exitSig

	log.Info("exit signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to shut down HTTP server", "error", err)
	}
	cancel()

	log.Info("shutdown finished")
}
