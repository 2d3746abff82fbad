// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jobhive/internal/config"
	"github.com/jobhive/internal/jobs"
	"github.com/jobhive/internal/logger"
	"github.com/jobhive/internal/queue"
)

var (
	configPath = flag.String("config", "", "Path to config file")
	image      = flag.String("image", "", "Container image to run (default: runner.default_image)")
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [flags] <count>\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}
	count, err := strconv.Atoi(flag.Arg(0))
	if err != nil || count < 0 {
		fmt.Fprintf(os.Stderr, "count must be a non-negative integer, got %q\n", flag.Arg(0))
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	if *image == "" {
		*image = cfg.Runner.DefaultImage
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := config.Connect(ctx, cfg.Redis)
	if err != nil {
		logger.Fatalf("failed to connect to Redis at %s: %v", cfg.Redis.Addr, err)
	}
	defer client.Close()

	q := queue.New(client, cfg.QueueName)
	pushed, err := jobs.EnqueueN(ctx, q, *image, count)
	if err != nil {
		logger.Fatalf("pushed %d of %d jobs: %v", len(pushed), count, err)
	}
	for _, job := range pushed {
		fmt.Println(job.ItemID)
	}
	logger.Printf("Pushed %d %s jobs to %s", len(pushed), *image, q.Name())
}
