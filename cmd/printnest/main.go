package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/printnest/printnest/internal/cloudapi"
	"github.com/printnest/printnest/internal/defs"
	"github.com/printnest/printnest/internal/discovery"
	"github.com/printnest/printnest/internal/event"
	"github.com/printnest/printnest/internal/machine"
	"github.com/printnest/printnest/internal/metrics"
	"github.com/printnest/printnest/internal/registry"
	"github.com/printnest/printnest/internal/transport"
	"github.com/printnest/printnest/internal/version"
	"github.com/printnest/printnest/pkg/plugin"
)

const defaultCloudRoot = "https://api.printnest.example.com"

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		return
	}

	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("PrintNest starting", zap.String("version", version.Short()))

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	table, err := defs.Load()
	if err != nil {
		logger.Fatal("failed to load machine definitions", zap.Error(err))
	}

	storePath := cfg.GetString("store.path")
	if storePath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			logger.Fatal("cannot resolve config directory", zap.Error(err))
		}
		storePath = filepath.Join(dir, "printnest", "machines.db")
	}
	if err := os.MkdirAll(filepath.Dir(storePath), 0o755); err != nil {
		logger.Fatal("cannot create data directory", zap.Error(err))
	}
	store, err := machine.Open(storePath)
	if err != nil {
		logger.Fatal("failed to open machine store", zap.Error(err))
	}
	defer store.Close()

	promReg := prometheus.NewRegistry()
	mset := metrics.New(promReg)

	bus := event.NewBus(logger)

	cloudRoot := cfg.GetString("cloud.root")
	if cloudRoot == "" {
		cloudRoot = defaultCloudRoot
	}
	account := cloudapi.StaticAccount{
		Token: cfg.GetString("cloud.token"),
		User:  cfg.GetString("cloud.username"),
	}
	cloudClient := cloudapi.NewClient(transport.New(logger), cloudRoot, account, logger)

	reg := registry.New(logger)
	plugins := []plugin.Plugin{
		discovery.NewLocalManager(bus, store, table, mset),
		discovery.NewCloudManager(bus, cloudClient, account, store, mset),
	}
	for _, p := range plugins {
		if err := reg.Register(p); err != nil {
			logger.Fatal("failed to register plugin", zap.Error(err))
		}
	}

	if err := reg.InitAll(cfg); err != nil {
		logger.Fatal("failed to initialize plugins", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := reg.StartAll(ctx); err != nil {
		logger.Fatal("failed to start plugins", zap.Error(err))
	}

	if addr := cfg.GetString("metrics.addr"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error("metrics endpoint failed", zap.Error(err))
			}
		}()
		logger.Info("metrics endpoint listening", zap.String("addr", addr))
	}

	logger.Info("PrintNest ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	reg.StopAll()
	logger.Info("PrintNest stopped")
}

func loadConfig(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("PRINTNEST")
	v.AutomaticEnv()
	if path == "" {
		return v, nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return v, nil
}
