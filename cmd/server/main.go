package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/text"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jengzang/hexmap-backend-go/internal/api"
	"github.com/jengzang/hexmap-backend-go/internal/config"
	"github.com/jengzang/hexmap-backend-go/internal/database"
	"github.com/jengzang/hexmap-backend-go/internal/hexgrid"
	"github.com/jengzang/hexmap-backend-go/internal/metrics"
	"github.com/jengzang/hexmap-backend-go/internal/middleware"
	"github.com/jengzang/hexmap-backend-go/internal/repository"
	"github.com/jengzang/hexmap-backend-go/internal/service"
)

const shutdownTimeout = 15 * time.Second

// setupLogging 配置日志输出
func setupLogging(cfg *config.Config) {
	var w io.Writer = os.Stderr
	if cfg.LogFile != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    50, // MB
			MaxBackups: 5,
			MaxAge:     14,
			Compress:   true,
		})
	}
	log.SetHandler(text.New(w))

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
}

func main() {
	// 加载配置
	cfg := config.Load()
	setupLogging(cfg)
	metrics.Register()

	// 初始化数据库
	if err := database.Init(database.Config{Path: cfg.DBPath}); err != nil {
		log.WithError(err).Fatal("Failed to initialize database")
	}
	defer database.Close()

	layers := service.NewLayerService(cfg.Layers, hexgrid.NewH3(), service.LayerServiceOptions{
		Repo:        repository.NewCellRepository(database.GetDB()),
		Client:      &http.Client{Timeout: cfg.HTTPTimeout},
		UseWorker:   cfg.UseWorker,
		LoadTimeout: cfg.LoadTimeout,
	})
	sessions := service.NewSessionStore(layers, cfg.SessionCapacity)

	var limiter *middleware.RateLimiter
	if cfg.RateLimit > 0 {
		limiter = middleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst, 10*time.Minute)
	}

	// 初始化路由
	router := api.SetupRouter(cfg, api.Services{
		Layers:   layers,
		Sessions: sessions,
		Limiter:  limiter,
	})
	srv := &http.Server{
		Addr:              cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	// Layers load in the background; the API reports them as loading
	// until they are ready.
	g.Go(func() error {
		layers.LoadAll(gctx)
		return nil
	})

	if limiter != nil {
		g.Go(func() error {
			limiter.Cleanup(gctx.Done())
			return nil
		})
	}

	// 启动服务器
	g.Go(func() error {
		log.WithField("addr", cfg.Port).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("Server stopped with error")
		os.Exit(1)
	}
	log.Info("Server stopped")
}
