package main

import (
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/inkboard/board-app/internal/app"
	"github.com/inkboard/board-app/internal/discovery"
	"github.com/inkboard/board-app/internal/messaging"
	"github.com/inkboard/board-app/internal/ratelimit"
	"github.com/inkboard/board-app/internal/session"
)

func main() {
	config := app.DefaultConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.Server.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Server.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Server.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Server.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Server.WriteTimeout = d
		}
	}
	if v := os.Getenv("HEARTBEAT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			config.Server.Heartbeat.Interval = d
		}
	}
	if v := os.Getenv("SEND_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Board.QueueSize = n
		}
	}

	serverName, _ := os.Hostname()
	if v := os.Getenv("SERVER_NAME"); v != "" {
		serverName = v
	}
	if serverName == "" {
		serverName = "board-1"
	}

	var deps app.Deps

	// --- Redis (optional): presence and rate limits ---
	var sessionStore *session.Store
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr != "" {
		var err error
		sessionStore, err = session.NewStore(redisAddr, serverName)
		if err != nil {
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		deps.Sessions = sessionStore
		deps.Limiter = ratelimit.NewLimiter(sessionStore.Client())
	}

	// --- NATS (optional): accepted-event feed ---
	var natsClient *messaging.NATSClient
	natsURL := os.Getenv("NATS_URL")
	if natsURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = natsURL
		natsConfig.Name = "inkboard-" + serverName
		var err error
		natsClient, err = messaging.NewNATSClient(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		deps.Publisher = natsClient
	}

	log.Printf("Inkboard server starting")
	log.Printf("  listen_addr:     %s", config.Server.ListenAddr)
	log.Printf("  worker_pool:     %d", config.Server.WorkerPoolSize)
	log.Printf("  max_connections: %d", config.Server.MaxConnections)
	log.Printf("  read_timeout:    %s", config.Server.ReadTimeout)
	log.Printf("  write_timeout:   %s", config.Server.WriteTimeout)
	log.Printf("  heartbeat:       %s", config.Server.Heartbeat.Interval)
	log.Printf("  send_queue:      %d", config.Board.QueueSize)
	log.Printf("  redis_addr:      %s", orNone(redisAddr))
	log.Printf("  nats_url:        %s", orNone(natsURL))
	log.Printf("  server_name:     %s", serverName)

	a, err := app.New(config, deps)
	if err != nil {
		log.Fatalf("failed to create server: %v", err)
	}

	// --- mDNS (optional): LAN discovery ---
	if enabled, _ := strconv.ParseBool(os.Getenv("MDNS_ENABLED")); enabled {
		port := listenPort(config.Server.ListenAddr)
		if responder, err := discovery.Advertise(serverName, port, []string{"inkboard"}); err != nil {
			log.Printf("mdns advertisement disabled: %v", err)
		} else {
			defer responder.Shutdown()
		}
	}

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		a.Shutdown()
		if natsClient != nil {
			natsClient.Close()
		}
		if sessionStore != nil {
			if err := sessionStore.Close(); err != nil {
				log.Printf("session store close error: %v", err)
			}
		}
	}()

	if err := a.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
	<-stopped
	log.Printf("server exited")
}

func orNone(s string) string {
	if s == "" {
		return "(disabled)"
	}
	return s
}

func listenPort(addr string) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 8080
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return 8080
	}
	return port
}
