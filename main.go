package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"tradezone/server"
	"tradezone/store/migrate"
	"tradezone/store/postgres"
)

// tradezone 入口：加载配置、连接数据库，启动 HTTP + WebSocket 服务
func main() {
	var (
		configPath string
		addr       string
	)
	flag.StringVar(&configPath, "config", "config.yaml", "path to YAML config")
	flag.StringVar(&addr, "addr", "", "override server listen address, e.g. :8080")
	flag.Parse()

	if err := run(configPath, addr); err != nil {
		fmt.Fprintln(os.Stderr, "tradezone:", err)
		os.Exit(1)
	}
}

func run(configPath, addr string) error {
	cfg, err := server.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := server.InitLogger(cfg.Log); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer server.SyncLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.Database.DSN, cfg.Database.MaxOpenConns)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if cfg.Database.MigrateOnStart {
		version, err := migrate.Run(db)
		if err != nil {
			return err
		}
		server.Log.Infow("database migrations complete", "version", version)
	}

	store := postgres.New(db)
	metrics := &server.Metrics{}
	hub := server.NewHub()
	market := server.NewPriceSimulator(cfg.Market, 0)
	dispatcher := server.NewDispatcher(hub, store, store, store, market, metrics, cfg.Market)
	router := server.NewRouter(hub, store, store)
	handler := server.NewHandler(hub, router, dispatcher, metrics)
	auth := server.NewAuthenticator(cfg.Auth, store)
	srv := server.NewServer(cfg.Server, hub, auth, handler, metrics, market)

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		server.Log.Infof("tradezone listening on %s", cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	// 优雅退出（Ctrl+C）
	g.Go(func() error {
		<-gctx.Done()
		server.Log.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := httpSrv.Shutdown(shutdownCtx)
		srv.CloseAll()
		return err
	})
	return g.Wait()
}
