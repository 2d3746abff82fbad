// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/jobhive/internal/config"
	"github.com/jobhive/internal/database"
	"github.com/jobhive/internal/events"
	"github.com/jobhive/internal/logger"
	"github.com/jobhive/internal/queue"
	"github.com/jobhive/internal/reaper"
	"github.com/jobhive/internal/rpc"
	"github.com/jobhive/internal/runner"
	"github.com/jobhive/internal/server"
	"github.com/jobhive/internal/spool"
	"github.com/jobhive/internal/worker"
)

var (
	configPath  = flag.String("config", "", "Path to config file (default: ./jobhive.yaml or ~/.jobhive/jobhive.yaml)")
	httpPort    = flag.Int("http-port", 0, "HTTP server port (overrides config)")
	grpcPort    = flag.Int("grpc-port", 0, "gRPC server port (overrides config)")
	workerCount = flag.Int("worker-count", -1, "Number of embedded workers (overrides config, 0 disables)")
	spoolDir    = flag.String("spool-dir", "", "Directory watched for *.json job files (overrides config)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	if *httpPort > 0 {
		cfg.Server.HTTPPort = *httpPort
	}
	if *grpcPort > 0 {
		cfg.Server.GRPCPort = *grpcPort
	}
	if *workerCount >= 0 {
		cfg.Worker.Count = *workerCount
	}
	if *spoolDir != "" {
		cfg.Spool.Dir = *spoolDir
	}

	log, err := logger.Init(cfg.LogFile)
	if err != nil {
		logger.Fatalf("failed to open log file: %v", err)
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient, err := config.Connect(ctx, cfg.Redis)
	if err != nil {
		logger.Fatalf("failed to connect to Redis at %s: %v", cfg.Redis.Addr, err)
	}
	defer redisClient.Close()

	q := queue.New(redisClient, cfg.QueueName)
	logger.Printf("Serving %s", q)

	var (
		results     server.ResultLister
		recorder    worker.ResultRecorder
		resultStore *database.ResultStore
	)
	if cfg.Results.DBPath != "" {
		resultStore, err = database.OpenResultStore(cfg.Results.DBPath)
		if err != nil {
			logger.Fatalf("failed to open result store: %v", err)
		}
		defer resultStore.Close()
		results, recorder = resultStore, resultStore
	}

	broadcaster := events.NewBroadcaster()
	apiServer := server.New(q, results, broadcaster, cfg.Runner.DefaultImage)

	var wg sync.WaitGroup

	if resultStore != nil {
		eventLog, err := database.NewEventLog(resultStore.DB())
		if err != nil {
			logger.Fatalf("failed to open event log: %v", err)
		}
		apiServer.SetTimeline(eventLog)
		wg.Add(1)
		go func() {
			defer wg.Done()
			eventLog.Follow(ctx, broadcaster)
		}()
	}

	if cfg.Reaper.Interval > 0 {
		sweeper := reaper.New(q, cfg.Reaper.Interval, broadcaster, q.Name())
		sweeper.Start(ctx)
		defer sweeper.Stop()
	}

	if cfg.Worker.Count > 0 {
		exec := runner.NewDockerExecutor(cfg.Runner.DockerBinary, cfg.Runner.Timeout)
		opts := worker.Options{
			LeaseTTL:     cfg.Worker.LeaseTTL,
			LeaseTimeout: cfg.Worker.LeaseTimeout,
			PollInterval: cfg.Worker.PollInterval,
			Events:       broadcaster,
			QueueName:    q.Name(),
		}
		handler := worker.JobHandler(exec, recorder, q.Name(), q.Session())
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := worker.StartWorkers(ctx, q, handler, opts, cfg.Worker.Count); err != nil {
				logger.Errorf("worker error: %v", err)
			}
		}()
	}

	if cfg.Spool.Dir != "" {
		watcher, err := spool.NewWatcher(cfg.Spool.Dir, q, broadcaster, q.Name())
		if err != nil {
			logger.Fatalf("failed to create spool watcher: %v", err)
		}
		if err := watcher.Start(ctx); err != nil {
			logger.Fatalf("failed to start spool watcher: %v", err)
		}
		defer watcher.Stop()
	}

	grpcServer := grpc.NewServer()
	rpc.RegisterQueueServer(grpcServer, rpc.NewServer(q, broadcaster))

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		logger.Fatalf("failed to listen on grpc port: %v", err)
	}
	go func() {
		logger.Printf("gRPC server listening on %d", cfg.Server.GRPCPort)
		if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Errorf("gRPC server error: %v", err)
			stop()
		}
	}()

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: apiServer.Handler(),
	}
	go func() {
		logger.Printf("HTTP server listening on %d", cfg.Server.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("HTTP server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Printf("Shutting down servers...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	grpcServer.GracefulStop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("HTTP shutdown error: %v", err)
	}
	wg.Wait()
}
