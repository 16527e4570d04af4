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

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"platesync-service/internal/blob"
	"platesync-service/internal/config"
	"platesync-service/internal/db"
	"platesync-service/internal/detect"
	handlers "platesync-service/internal/http"
	"platesync-service/internal/repository"
	"platesync-service/internal/service"
	"platesync-service/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}

	log := newLogger(cfg.Log)

	st, err := store.New(cfg.Storage.StateDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open record store")
	}

	var remote service.RemoteStore
	if cfg.Remote.Enabled {
		gdb, err := db.Open(cfg.Remote.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to remote database")
		}
		remote = repository.NewPlateRepository(gdb)
		log.Info().Msg("remote record sync enabled")
	} else {
		log.Info().Msg("remote record sync disabled, running local-only")
	}

	var images service.ImageStorage
	if cfg.Blob.Enabled {
		imageStore, err := blob.NewImageStore(cfg.Blob, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize blob storage")
		}
		images = imageStore
	}

	engine := service.NewSyncEngine(st, remote, images, handlers.UserFromContext, log)
	defer engine.Close()

	detector := detect.NewClient(cfg.Detector, log)
	handler := handlers.NewHandler(st, engine, detector, log)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.CORSOrigins,
		AllowMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler.Register(router, handlers.Session(cfg.Auth.JWTSecret, log))

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out = os.Stderr
	logger := zerolog.New(out)
	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out})
	}
	return logger.Level(level).With().Timestamp().Logger()
}
