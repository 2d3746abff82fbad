// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package config

import (
	"context"
	"log"
	"net"
	"os"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates a new Redis client from environment variables.
// Reads REDIS_ADDR (default: 127.0.0.1:6379, or REDIS_HOST/REDIS_PORT when set),
// REDIS_DB (default: 0), and REDIS_PASSWORD (optional).
func NewRedisClient(ctx context.Context) (*redis.Client, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = legacyRedisAddr()
	}
	if addr == "" {
		addr = "127.0.0.1:6379"
	}

	dbStr := os.Getenv("REDIS_DB")
	if dbStr == "" {
		dbStr = "0"
	}
	db, err := strconv.Atoi(dbStr)
	if err != nil {
		log.Printf("NewRedisClient: invalid REDIS_DB value '%s', using default 0", dbStr)
		db = 0
	}

	return Connect(ctx, RedisConfig{
		Addr:     addr,
		DB:       db,
		Password: os.Getenv("REDIS_PASSWORD"),
	})
}

// Connect opens a client for cfg and pings it.
func Connect(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	log.Printf("NewRedisClient: addr=%s db=%d passwordSet=%v", cfg.Addr, cfg.DB, cfg.Password != "")

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		DB:       cfg.DB,
		Password: cfg.Password,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("NewRedisClient: failed to ping Redis: %v", err)
		client.Close()
		return nil, err
	}

	log.Printf("NewRedisClient: successfully connected to Redis")
	return client, nil
}

// legacyRedisAddr builds an address from REDIS_HOST and REDIS_PORT, the
// variables the producer and worker scripts were deployed with.
func legacyRedisAddr() string {
	host := os.Getenv("REDIS_HOST")
	port := os.Getenv("REDIS_PORT")
	if host == "" && port == "" {
		return ""
	}
	if host == "" {
		host = "localhost"
	}
	if port == "" {
		port = "6379"
	}
	return net.JoinHostPort(host, port)
}
