// Command sidecart opens a read-only PostgreSQL pool, runs a few demonstration
// queries and idles until SIGINT or SIGTERM.
package main

import (
	"context"
	"github.com/public-forge/go-pg-sidecart/config"
	"github.com/public-forge/go-pg-sidecart/logger"
	"github.com/public-forge/go-pg-sidecart/postgres"
	"github.com/public-forge/go-pg-sidecart/sidecart"
	"go.uber.org/zap"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	os.Exit(run())
}

// run wires configuration, logging and the connection manager, and returns the exit code.
func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootLog := bootLogger(".env")

	cfg, err := config.Load()
	if err != nil {
		bootLog.Error("fatal error", zap.Error(err))
		_ = bootLog.Sync()
		return sidecart.ExitCode(err)
	}

	logCfg := logger.Config{Level: cfg.Log.Level, FilePath: cfg.Log.File, Development: cfg.Development()}
	log, err := logger.New(logCfg)
	if err != nil {
		log = logger.NewStdout(logCfg)
		log.Warn("log file unavailable, logging to stdout only", zap.String("path", cfg.Log.File), zap.Error(err))
	}
	defer func() { _ = log.Sync() }()

	db := postgres.NewManager(postgres.NewPgConfig(cfg.DB), log)
	if err := sidecart.New(cfg, log, db).Run(ctx); err != nil {
		log.Error("fatal error", zap.Error(err))
		return sidecart.ExitCode(err)
	}
	return sidecart.ExitOK
}

// bootLogger loads the dotenv file first, since it may carry LOG_LEVEL, then
// builds the stdout logger used until the configuration is known.
func bootLogger(dotEnvPath string) *zap.Logger {
	dotEnvErr := config.LoadDotEnv(dotEnvPath)
	log := logger.NewStdout(logger.Config{Level: os.Getenv(config.EnvLogLevel)})
	if dotEnvErr != nil {
		log.Warn("ignoring .env file", zap.Error(dotEnvErr))
	}
	return log
}
