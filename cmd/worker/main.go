// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/jobhive/internal/config"
	"github.com/jobhive/internal/database"
	"github.com/jobhive/internal/logger"
	"github.com/jobhive/internal/queue"
	"github.com/jobhive/internal/rpc"
	"github.com/jobhive/internal/runner"
	"github.com/jobhive/internal/worker"
)

var (
	configPath  = flag.String("config", "", "Path to config file")
	remote      = flag.String("remote", "", "Lease through a jobhive-server gRPC address instead of Redis")
	workerCount = flag.Int("worker-count", 0, "Number of concurrent workers (overrides config)")
	noResults   = flag.Bool("no-results", false, "Do not record results in SQLite")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	if *workerCount > 0 {
		cfg.Worker.Count = *workerCount
	}
	if cfg.Worker.Count <= 0 {
		cfg.Worker.Count = 1
	}

	log, err := logger.Init(cfg.LogFile)
	if err != nil {
		logger.Fatalf("failed to open log file: %v", err)
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		q       queue.Queue
		session string
	)
	if *remote != "" {
		conn, err := grpc.NewClient(*remote, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			logger.Fatalf("failed to connect to %s: %v", *remote, err)
		}
		defer conn.Close()
		q = rpc.NewClient(conn)
		session = strings.ReplaceAll(uuid.NewString(), "-", "")
		logger.Printf("Worker leasing from %s via gRPC", *remote)
	} else {
		client, err := config.Connect(ctx, cfg.Redis)
		if err != nil {
			logger.Fatalf("failed to connect to Redis at %s: %v", cfg.Redis.Addr, err)
		}
		defer client.Close()
		wq := queue.New(client, cfg.QueueName)
		q, session = wq, wq.Session()
		logger.Printf("Worker with sessionID: %s", session)
	}

	var recorder worker.ResultRecorder
	if !*noResults && cfg.Results.DBPath != "" {
		store, err := database.OpenResultStore(cfg.Results.DBPath)
		if err != nil {
			logger.Fatalf("failed to open result store: %v", err)
		}
		defer store.Close()
		recorder = store
	}

	exec := runner.NewDockerExecutor(cfg.Runner.DockerBinary, cfg.Runner.Timeout)
	opts := worker.Options{
		LeaseTTL:     cfg.Worker.LeaseTTL,
		LeaseTimeout: cfg.Worker.LeaseTimeout,
		PollInterval: cfg.Worker.PollInterval,
		QueueName:    cfg.QueueName,
	}
	handler := worker.JobHandler(exec, recorder, cfg.QueueName, session)

	if err := worker.StartWorkers(ctx, q, handler, opts, cfg.Worker.Count); err != nil {
		logger.Fatalf("worker error: %v", err)
	}
}
