package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/acoustlink/acoustlink/internal/airlink"
	"github.com/acoustlink/acoustlink/internal/config"
	"github.com/acoustlink/acoustlink/internal/database"
	"github.com/acoustlink/acoustlink/internal/link"
	"github.com/acoustlink/acoustlink/internal/mac"
	"github.com/acoustlink/acoustlink/internal/metrics"
	"github.com/acoustlink/acoustlink/internal/phy"
)

const VERSION = "1.0.0"

func main() {
	configFile := flag.String("config", "", "path to YAML configuration file")
	peer := flag.Uint("peer", 2, "destination address for stdin payloads")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("acoustlink %s\n", VERSION)
		return
	}

	if err := run(*configFile, uint8(*peer)); err != nil {
		log.Fatalf("acoustlink: %v", err)
	}
}

func run(configFile string, peer uint8) error {
	cfg := config.Default()
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	log.Printf("acoustlink %s starting, node address %d", VERSION, cfg.Node.Address)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.NewMetrics()
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server := &http.Server{Addr: cfg.Metrics.ListenAddress, Handler: mux}
		go func() {
			log.Printf("metrics listening on %s", cfg.Metrics.ListenAddress)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("metrics server: %v", err)
			}
		}()
		defer server.Close()
	}

	var recorder *database.Recorder
	if cfg.Database.Enabled {
		db, err := database.NewDB(database.Config{Path: cfg.Database.Path}, log.Default())
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		recorder = database.NewRecorder(db.GetDB())
		session, err := recorder.StartSession(cfg.Node.Address, cfg.Modem.LineCoding)
		if err != nil {
			return fmt.Errorf("start session: %w", err)
		}
		log.Printf("recording link events to %s (%s)", cfg.Database.Path, session.ID)
		defer func() {
			if err := recorder.EndSession(); err != nil {
				log.Printf("end session: %v", err)
			}
		}()
	}

	transport, err := airlink.NewUDPTransport(cfg.Transport.ListenAddress, cfg.Transport.RemoteAddress)
	if err != nil {
		return err
	}
	defer transport.Close()

	l, err := link.Open(link.Config{
		LocalAddr:            cfg.Node.Address,
		LineCoding:           phy.LineCodingKind(cfg.Modem.LineCoding),
		SamplesPerLevel:      cfg.Modem.SamplesPerLevel,
		PreamblePatternBytes: cfg.Modem.PreamblePatternBytes,
		InterFrameGapSamples: cfg.Modem.InterFrameGapSamples,
		SenseWindowSamples:   cfg.Sense.WindowSamples,
		SenseThreshold:       cfg.Sense.Threshold,
		ReadBatchSamples:     cfg.Transport.ReadBatchSamples,
		MAC: mac.Config{
			DIFSMS:       cfg.MAC.DIFSMS,
			SlotTimeMS:   cfg.MAC.SlotTimeMS,
			AckTimeoutMS: cfg.MAC.AckTimeoutMS,
			CWMin:        cfg.MAC.CWMin,
			CWMax:        cfg.MAC.CWMax,
			MaxRetries:   cfg.MAC.MaxRetries,
		},
	}, transport, m)
	if err != nil {
		return err
	}

	l.SetReceiveCallback(func(p mac.Packet) {
		fmt.Printf("[%d] %s\n", p.Src, p.Payload)
		if recorder != nil {
			if err := recorder.RecordDelivery(p.Src, len(p.Payload)); err != nil {
				log.Printf("record delivery: %v", err)
			}
		}
	})

	linkErr := make(chan error, 1)
	go func() { linkErr <- l.Run(ctx) }()

	// Stdin lines become payloads for the configured peer.
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			log.Printf("shutting down")
			return nil
		case err := <-linkErr:
			return err
		case line, ok := <-lines:
			if !ok {
				// Stdin closed: stay up as a receiver.
				lines = nil
				continue
			}
			if line == "" {
				continue
			}

			sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			retries, err := l.SendTracked(sendCtx, peer, []uint8(line))
			cancel()
			if err != nil {
				log.Printf("send to %d failed after %d retries: %v", peer, retries, err)
			}
			if recorder != nil {
				if rerr := recorder.RecordSend(peer, len(line), retries, err != nil); rerr != nil {
					log.Printf("record send: %v", rerr)
				}
			}
		}
	}
}
