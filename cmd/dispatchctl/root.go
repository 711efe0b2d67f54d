package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/packfinderz-dispatch/internal/bootstrap"
	"github.com/angelmondragon/packfinderz-dispatch/internal/cron"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/config"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/db"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/logger"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/redis"
)

var (
	envFile   string
	localLock bool
)

var rootCmd = &cobra.Command{
	Use:           "dispatchctl",
	Short:         "Operate the delivery dispatch engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	rootCmd.PersistentFlags().BoolVar(&localLock, "local-lock", false, "guard sweeps with an in-process lock instead of redis")
}

// runtime holds the connections a command opened. close releases them in reverse order.
type runtime struct {
	cfg      *config.Config
	logg     *logger.Logger
	services *bootstrap.Services
	closers  []func() error
}

func (r *runtime) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			r.logg.Error(context.Background(), "dispatchctl cleanup failed", err)
		}
	}
}

func loadConfig() (*config.Config, *logger.Logger, error) {
	logg := logger.New(logger.Options{ServiceName: "dispatchctl", Format: "console"})
	if err := godotenv.Load(envFile); err != nil {
		logg.Debug(context.Background(), "dotenv file not loaded")
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = "dispatchctl"
	logg = logger.New(logger.Options{
		ServiceName: "dispatchctl",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      "console",
		WarnStack:   cfg.App.LogWarnStack,
	})
	return cfg, logg, nil
}

func openRuntime(ctx context.Context) (*runtime, error) {
	cfg, logg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, logg: logg}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	rt.closers = append(rt.closers, dbClient.Close)

	params := bootstrap.Params{Config: cfg, Logger: logg, DB: dbClient}
	if localLock {
		params.Lock = cron.NewLocalLock()
	} else {
		redisClient, err := redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		rt.closers = append(rt.closers, redisClient.Close)
		params.Redis = redisClient
	}

	services, err := bootstrap.Build(ctx, params)
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.closers = append(rt.closers, services.Close)
	rt.services = services
	return rt, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
