package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/namsral/flag"
	"go.uber.org/zap"

	"customdomains/internal/auth"
	"customdomains/internal/config"
	"customdomains/internal/provision"
	"customdomains/internal/server"
)

var version = "dev"

func main() {
	var configPath string
	var domain string
	var genToken bool
	var debug bool

	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&domain, "provision", "", "Provision a single domain, print the result as JSON and exit")
	flag.BoolVar(&genToken, "gen-token", false, "Print a new admin token and its bcrypt hash and exit")
	flag.BoolVar(&debug, "debug", false, "flag indicating whether debug output should be written")
	flag.Parse()

	if genToken {
		token, hash, err := auth.GenerateToken()
		if err != nil {
			fmt.Fprintf(os.Stderr, "generating token: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("token: %s\ntoken_hash: %s\n", token, hash)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		var cfgErr *config.ConfigError
		if errors.As(err, &cfgErr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
	if debug {
		cfg.Log.Level = "debug"
	}

	logger, err := server.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if domain != "" {
		code := provisionOne(ctx, cfg, logger, domain)
		stop()
		_ = logger.Sync()
		os.Exit(code)
	}

	logger.Info("custom domain provisioner",
		zap.String("version", version),
		zap.String("registrar", cfg.Registrar.Provider),
		zap.String("worker_script", cfg.Cloudflare.WorkerScript),
	)
	if err := server.Start(ctx, cfg, logger, version); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func provisionOne(ctx context.Context, cfg *config.Config, logger *zap.Logger, domain string) int {
	res, err := server.ProvisionOnce(ctx, cfg, logger, domain)
	if err != nil {
		out := map[string]string{"domain": domain, "error": err.Error()}
		if step, ok := provision.FailedStep(err); ok {
			out["step"] = string(step)
		}
		_ = json.NewEncoder(os.Stdout).Encode(out)
		return 1
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(res)
	return 0
}
