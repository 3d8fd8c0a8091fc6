// Command dashboardd watches save directories, ingests new save files
// into the history store and serves the query API.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ts826848/stellaris-dashboard/internal/config"
	"github.com/ts826848/stellaris-dashboard/internal/history"
	"github.com/ts826848/stellaris-dashboard/internal/httpapi"
	"github.com/ts826848/stellaris-dashboard/internal/ingest"
	"github.com/ts826848/stellaris-dashboard/internal/ingestlog"
	"github.com/ts826848/stellaris-dashboard/internal/notify"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to config.yaml (optional)")
		saveDirs   = flag.String("saves", "", "colon-separated save directories (overrides config)")
		dataDir    = flag.String("data", "", "runtime data directory (overrides config)")
		addr       = flag.String("addr", "", "http listen address (overrides config)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[dashboardd] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil && (*configPath != "" || *saveDirs == "") {
		// With no config file, the only possible error is missing
		// save_dirs, which the -saves flag may still supply below.
		logger.Fatalf("config: %v", err)
	}
	if *saveDirs != "" {
		cfg.SaveDirs = strings.Split(*saveDirs, ":")
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("config: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	store, err := history.Open(
		filepath.Join(cfg.DataDir, "history.sqlite"),
		filepath.Join(cfg.DataDir, "archives"),
	)
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer store.Close()

	attempts := ingestlog.New(filepath.Join(cfg.DataDir, "ingestlog"))
	defer attempts.Close()

	hub := notify.NewHub(log.New(os.Stdout, "[notify] ", log.LstdFlags))

	coord := ingest.NewCoordinator(store, cfg.Workers, cfg.RetryCap,
		log.New(os.Stdout, "[ingest] ", log.LstdFlags|log.Lmicroseconds))
	coord.Notifier = hub
	coord.Attempts = attempts

	watcher := ingest.NewWatcher(cfg.SaveDirs, cfg.StablePolls, cfg.RetryCap, store,
		log.New(os.Stdout, "[watch] ", log.LstdFlags))
	coord.Forget = watcher.Forget

	go watcher.Run(ctx, cfg.PollInterval.Std(), coord.Offer)
	logger.Printf("watching %s every %s", strings.Join(cfg.SaveDirs, ", "), cfg.PollInterval)

	api := httpapi.NewServer(store, hub, coord.Stats,
		log.New(os.Stdout, "[api] ", log.LstdFlags))
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", cfg.HTTPAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	// Let in-flight ingestions commit or record their failure before exit.
	logger.Printf("draining ingestion")
	coord.Drain()
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
