package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/bluwork/mongo-scout-mcp-sub000/pkg/config"
	"github.com/bluwork/mongo-scout-mcp-sub000/pkg/guards"
	infraLogger "github.com/bluwork/mongo-scout-mcp-sub000/pkg/infra/logger"
	infraPrometheus "github.com/bluwork/mongo-scout-mcp-sub000/pkg/infra/prometheus"
	"github.com/bluwork/mongo-scout-mcp-sub000/pkg/mongodb"
)

func main() {
	ctx := context.Background()
	logger := infraLogger.NewLogger()

	if err := config.Load("./config"); err != nil {
		logger.Warnf("using default configuration: %v", err)
	}
	cfg := config.GetConfig()

	uri := cfg.Mongo.URI
	if uri == "" {
		uri = os.Getenv("MONGODB_URI")
	}
	if uri == "" {
		logger.Fatal("no mongodb uri configured; set mongo.uri or MONGODB_URI")
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	client, err := mongodb.Connect(connectCtx, uri)
	cancel()
	if err != nil {
		logger.Fatalf("failed to connect to mongodb: %v", err)
	}
	defer func() {
		_ = client.Disconnect(ctx)
	}()

	engine := mongodb.NewEngine(client, cfg.Mongo.Database)
	manager := guards.NewManager(logger, cfg.Guards, engine, nil)
	defer manager.Close()

	if cfg.Metrics.Enabled {
		go serveMetrics(logger, cfg.Metrics.Port)
	}

	logger.WithField("database", cfg.Mongo.Database).Info("guard layer ready")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")
}

func serveMetrics(logger *logrus.Logger, port int) {
	if port == 0 {
		port = 9090
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(infraPrometheus.Registry(), promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(fmt.Sprintf(":%d", port), mux); err != nil {
		logger.Errorf("metrics server stopped: %v", err)
	}
}
