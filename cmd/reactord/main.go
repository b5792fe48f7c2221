// Command reactord is the entrypoint for the newline-framed TCP
// reactor server. It loads configuration, wires up the message
// handler, starts a Prometheus metrics endpoint, and runs the Reactor
// until a shutdown signal arrives. Phased startup/shutdown-with-defers
// and signal.Notify wiring are grounded directly on the teacher's
// cmd/proxy/main.go.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/atan135/reactor/internal/config"
	"github.com/atan135/reactor/internal/connection"
	"github.com/atan135/reactor/internal/metrics"
	"github.com/atan135/reactor/internal/reactor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var configPath = flag.String("config", "", "Path to the key=value reactor configuration file")
var metricsAddr = flag.String("metrics-addr", ":9090", "Address for the Prometheus /metrics endpoint")

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("[main] Starting reactor server")

	// ─── Load Configuration ───────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[main] Failed to load configuration: %v", err)
	}

	// CLI collaborator: three positional arguments `port max_connections
	// thread_count` override the file, per spec.md §6.
	if args := flag.Args(); len(args) > 0 {
		port, maxConn, threads, err := parsePositional(args)
		if err != nil {
			log.Fatalf("[main] Invalid positional arguments: %v", err)
		}
		if err := config.ApplyPositionalOverride(cfg, port, maxConn, threads); err != nil {
			log.Fatalf("[main] Invalid positional override: %v", err)
		}
	}

	log.Printf("[main] Configuration: port=%d max_connections=%d thread_count=%d",
		cfg.Port, cfg.MaxConnections, cfg.ThreadCount)

	// ─── Metrics server ────────────────────────────────────────────────
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:         *metricsAddr,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("[main] Metrics server listening on %s/metrics", *metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[main] Metrics server error: %v", err)
		}
	}()

	// ─── Reactor ────────────────────────────────────────────────────────
	rx := reactor.New(reactor.Config{
		Port:           cfg.Port,
		MaxConnections: cfg.MaxConnections,
		ThreadCount:    cfg.ThreadCount,
	})
	rx.SetMessageHandler(echoHandler)

	if err := rx.Start(); err != nil {
		log.Fatalf("[main] Failed to start reactor: %v", err)
	}

	rx.RunInactivitySweep(30*time.Second, 10*time.Minute)
	stopSampling := startMetricsSampling(rx, 5*time.Second)

	go rx.Run()
	log.Println("[main] Reactor is ready. Waiting for shutdown signal...")

	// ─── Graceful Shutdown ───────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)

	sig := <-sigCh
	log.Printf("[main] Received signal %v, shutting down gracefully...", sig)

	stopSampling()
	rx.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] Metrics server shutdown error: %v", err)
	}

	log.Println("[main] Shutdown complete.")
}

// echoHandler is the default application-supplied handler: it echoes
// every frame back to its own connection prefixed with
// "Server received: ", matching the literal scenario in spec.md §8.
func echoHandler(frame []byte, c *connection.Connection) {
	metrics.FramesDecoded.Inc()
	reply := append([]byte("Server received: "), frame...)
	if err := c.SendMessage(reply); err != nil {
		log.Printf("[main] dropping reply to connection %d: %v", c.ID(), err)
	}
}

// parsePositional parses the `port max_connections thread_count`
// positional CLI override described in spec.md §6. Fewer than three
// arguments fills the remainder with zero (meaning "no override").
func parsePositional(args []string) (port, maxConn, threads int, err error) {
	get := func(i int) (int, error) {
		if i >= len(args) {
			return 0, nil
		}
		return strconv.Atoi(args[i])
	}

	if port, err = get(0); err != nil {
		return 0, 0, 0, fmt.Errorf("port: %w", err)
	}
	if maxConn, err = get(1); err != nil {
		return 0, 0, 0, fmt.Errorf("max_connections: %w", err)
	}
	if threads, err = get(2); err != nil {
		return 0, 0, 0, fmt.Errorf("thread_count: %w", err)
	}
	return port, maxConn, threads, nil
}

// startMetricsSampling launches a ticker goroutine that periodically
// pushes Reactor/pool/accountant counters into the Prometheus gauges.
// It returns a function that stops the sampler.
func startMetricsSampling(rx *reactor.Reactor, interval time.Duration) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sampleMetrics(rx)
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

func sampleMetrics(rx *reactor.Reactor) {
	metrics.ConnectionsActive.Set(float64(rx.ConnectionCount()))

	acct := rx.Accountant()
	metrics.MemoryCurrent.Set(float64(acct.Current()))
	metrics.MemoryPeak.Set(float64(acct.Peak()))
	if acct.IsExceeded() {
		metrics.MemoryCeilingExceeded.Set(1)
	} else {
		metrics.MemoryCeilingExceeded.Set(0)
	}

	out := rx.OutboundPoolStats()
	metrics.ObserveBufferPool("outbound", out.Free, out.Acquired)

	scratch := rx.ScratchPoolStats()
	metrics.ObserveBufferPool("scratch", scratch.Free, scratch.Acquired)
}
